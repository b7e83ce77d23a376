// Package postgres implements the production catalog.Store backed by
// PostgreSQL via jackc/pgx/v5, grounded on dittofs's raw-SQL metadata store
// (pkg/metadata/store/postgres/connection.go for pool construction,
// locks.go for the query/scan idiom). Row-level FileStorage locking uses
// SELECT ... FOR UPDATE SKIP LOCKED, a pattern not present verbatim in the
// corpus but a direct extension of the deterministic ORDER BY id FOR UPDATE
// locking dittofs already uses elsewhere in its metadata layer.
package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AnzeLovse/resolwe/internal/logger"
	"github.com/AnzeLovse/resolwe/pkg/catalog"
	catalogerrors "github.com/AnzeLovse/resolwe/pkg/catalog/errors"
)

// Config configures the connection pool.
type Config struct {
	DSN      string
	MaxConns int32
}

// Store is a PostgreSQL-backed catalog.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ catalog.Store = (*Store)(nil)

// querier is the common subset of *pgxpool.Pool and pgx.Tx that the Store's
// query methods need. WithFileStorageLock stashes its pgx.Tx on the context
// it hands to fn so every mutation fn makes runs inside the lock-holding
// transaction instead of acquiring its own connection from the pool.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type txContextKey struct{}

func withTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// querierFor returns the transaction carried on ctx by WithFileStorageLock,
// if any, falling back to the connection pool.
func (s *Store) querierFor(ctx context.Context) querier {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// New connects to Postgres, applies the embedded schema, and returns a ready
// Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, catalogerrors.NewConfigError("postgres catalog: " + err.Error())
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, catalogerrors.NewConfigError("postgres catalog: " + err.Error())
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, catalogerrors.NewConfigError("postgres catalog: ping failed: " + err.Error())
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, catalogerrors.NewConfigError("postgres catalog: schema bootstrap failed: " + err.Error())
	}

	logger.Info("postgres catalog store ready")
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

func (s *Store) AllFileStorages(ctx context.Context) ([]catalog.FileStorage, error) {
	rows, err := s.querierFor(ctx).Query(ctx, `
		SELECT id, created, process_type, data_slug
		FROM file_storages
		ORDER BY created ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.FileStorage
	for rows.Next() {
		var fs catalog.FileStorage
		if err := rows.Scan(&fs.ID, &fs.Created, &fs.ProcessType, &fs.DataSlug); err != nil {
			return nil, err
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}

func (s *Store) Locations(ctx context.Context, fileStorageID uuid.UUID) ([]catalog.StorageLocation, error) {
	rows, err := s.querierFor(ctx).Query(ctx, `
		SELECT id, file_storage_id, backend, url, status, last_update
		FROM storage_locations
		WHERE file_storage_id = $1
		ORDER BY backend ASC
	`, fileStorageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLocations(rows)
}

func (s *Store) LocationsByBackend(ctx context.Context, backend string, status catalog.Status) ([]catalog.StorageLocation, error) {
	rows, err := s.querierFor(ctx).Query(ctx, `
		SELECT sl.id, sl.file_storage_id, sl.backend, sl.url, sl.status, sl.last_update
		FROM storage_locations sl
		JOIN file_storages fs ON fs.id = sl.file_storage_id
		WHERE sl.backend = $1 AND sl.status = $2
		ORDER BY fs.created ASC, fs.id ASC
	`, backend, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLocations(rows)
}

func scanLocations(rows pgx.Rows) ([]catalog.StorageLocation, error) {
	var out []catalog.StorageLocation
	for rows.Next() {
		var loc catalog.StorageLocation
		var status string
		if err := rows.Scan(&loc.ID, &loc.FileStorageID, &loc.Backend, &loc.URL, &status, &loc.LastUpdate); err != nil {
			return nil, err
		}
		loc.Status = catalog.Status(status)
		out = append(out, loc)
	}
	return out, rows.Err()
}

func (s *Store) OpenAccessLogs(ctx context.Context, storageLocationID uuid.UUID) ([]catalog.AccessLog, error) {
	rows, err := s.querierFor(ctx).Query(ctx, `
		SELECT id, storage_location_id, started, finished
		FROM access_logs
		WHERE storage_location_id = $1 AND finished IS NULL
	`, storageLocationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.AccessLog
	for rows.Next() {
		var al catalog.AccessLog
		if err := rows.Scan(&al.ID, &al.StorageLocationID, &al.Started, &al.Finished); err != nil {
			return nil, err
		}
		out = append(out, al)
	}
	return out, rows.Err()
}

func (s *Store) CreateLocation(ctx context.Context, loc catalog.StorageLocation) (catalog.StorageLocation, error) {
	if loc.ID == uuid.Nil {
		loc.ID = uuid.New()
	}

	var lastUpdate = loc.LastUpdate
	err := s.querierFor(ctx).QueryRow(ctx, `
		INSERT INTO storage_locations (id, file_storage_id, backend, url, status, last_update)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING last_update
	`, loc.ID, loc.FileStorageID, loc.Backend, loc.URL, string(loc.Status)).Scan(&lastUpdate)
	if err != nil {
		if isUniqueViolation(err) {
			return catalog.StorageLocation{}, catalogerrors.NewConfigError("duplicate storage location for (file_storage, backend)")
		}
		return catalog.StorageLocation{}, err
	}

	loc.LastUpdate = lastUpdate
	return loc, nil
}

func (s *Store) SetLocationStatus(ctx context.Context, id uuid.UUID, status catalog.Status) error {
	tag, err := s.querierFor(ctx).Exec(ctx, `
		UPDATE storage_locations SET status = $2, last_update = NOW() WHERE id = $1
	`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return catalogerrors.NewNotFoundError(id.String())
	}
	return nil
}

func (s *Store) DeleteLocation(ctx context.Context, id uuid.UUID) error {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return s.deleteLocationTx(ctx, tx, id)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.deleteLocationTx(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) deleteLocationTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	if _, err := tx.Exec(ctx, `DELETE FROM referenced_paths WHERE storage_location_id = $1`, id); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM storage_locations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return catalogerrors.NewNotFoundError(id.String())
	}
	return nil
}

func (s *Store) AttachPaths(ctx context.Context, locationID uuid.UUID, paths []catalog.ReferencedPath) error {
	batch := &pgx.Batch{}
	for _, p := range paths {
		// Each row gets a fresh id: callers copying a replica pass the
		// source location's paths, whose ids are already taken.
		id := uuid.New()
		hashesJSON, err := json.Marshal(p.Hashes)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO referenced_paths (id, storage_location_id, path, size, hashes)
			VALUES ($1, $2, $3, $4, $5)
		`, id, locationID, p.Path, p.Size, hashesJSON)
	}

	br := s.querierFor(ctx).SendBatch(ctx, batch)
	defer br.Close()
	for range paths {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ReferencedPaths(ctx context.Context, locationID uuid.UUID) ([]catalog.ReferencedPath, error) {
	rows, err := s.querierFor(ctx).Query(ctx, `
		SELECT id, path, size, hashes
		FROM referenced_paths
		WHERE storage_location_id = $1
	`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.ReferencedPath
	for rows.Next() {
		var p catalog.ReferencedPath
		var hashesJSON []byte
		if err := rows.Scan(&p.ID, &p.Path, &p.Size, &hashesJSON); err != nil {
			return nil, err
		}
		if len(hashesJSON) > 0 {
			if err := json.Unmarshal(hashesJSON, &p.Hashes); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) OpenAccessLog(ctx context.Context, storageLocationID uuid.UUID) (catalog.AccessLog, error) {
	al := catalog.AccessLog{ID: uuid.New(), StorageLocationID: storageLocationID}
	err := s.querierFor(ctx).QueryRow(ctx, `
		INSERT INTO access_logs (id, storage_location_id, started)
		VALUES ($1, $2, NOW())
		RETURNING started
	`, al.ID, storageLocationID).Scan(&al.Started)
	return al, err
}

func (s *Store) CloseAccessLog(ctx context.Context, id uuid.UUID) error {
	tag, err := s.querierFor(ctx).Exec(ctx, `UPDATE access_logs SET finished = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return catalogerrors.NewNotFoundError(id.String())
	}
	return nil
}

// WithFileStorageLock acquires a non-blocking row lock on fileStorageID via
// SELECT ... FOR UPDATE SKIP LOCKED inside its own transaction, runs fn with
// that transaction carried on its context, and commits on success or rolls
// back on error. Every catalog mutation fn performs through the Store (via
// the ctx it receives) executes against the same transaction, so those
// writes commit or roll back atomically with the lock itself. If the row is
// already locked by another session, pg returns zero rows and
// WithFileStorageLock reports a LockContention error without blocking.
func (s *Store) WithFileStorageLock(ctx context.Context, fileStorageID uuid.UUID, fn func(ctx context.Context) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM file_storages WHERE id = $1 FOR UPDATE SKIP LOCKED
	`, fileStorageID).Scan(&locked)
	if err == pgx.ErrNoRows {
		return catalogerrors.NewLockContentionError(fileStorageID.String())
	}
	if err != nil {
		return err
	}

	if err := fn(withTx(ctx, tx)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	return err != nil && containsSQLState(err, "23505")
}

func containsSQLState(err error, code string) bool {
	type sqlStater interface{ SQLState() string }
	if se, ok := err.(sqlStater); ok {
		return se.SQLState() == code
	}
	return false
}
