package postgres

// schema is executed once at startup to create the catalog's tables if they
// do not already exist. A single embedded statement is used instead of a
// migration framework since the catalog's schema has no prior versions to
// migrate from (see DESIGN.md for why golang-migrate was dropped).
const schema = `
CREATE TABLE IF NOT EXISTS file_storages (
	id UUID PRIMARY KEY,
	created TIMESTAMPTZ NOT NULL,
	process_type TEXT NOT NULL DEFAULT '',
	data_slug TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS storage_locations (
	id UUID PRIMARY KEY,
	file_storage_id UUID NOT NULL REFERENCES file_storages(id),
	backend TEXT NOT NULL,
	url TEXT NOT NULL,
	status TEXT NOT NULL,
	last_update TIMESTAMPTZ NOT NULL,
	UNIQUE (file_storage_id, backend)
);

CREATE INDEX IF NOT EXISTS storage_locations_backend_status_idx
	ON storage_locations (backend, status);

CREATE TABLE IF NOT EXISTS referenced_paths (
	id UUID PRIMARY KEY,
	storage_location_id UUID NOT NULL REFERENCES storage_locations(id),
	path TEXT NOT NULL,
	size BIGINT,
	hashes JSONB
);

CREATE INDEX IF NOT EXISTS referenced_paths_location_idx
	ON referenced_paths (storage_location_id);

CREATE TABLE IF NOT EXISTS access_logs (
	id UUID PRIMARY KEY,
	storage_location_id UUID NOT NULL REFERENCES storage_locations(id),
	started TIMESTAMPTZ NOT NULL,
	finished TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS access_logs_open_idx
	ON access_logs (storage_location_id) WHERE finished IS NULL;
`
