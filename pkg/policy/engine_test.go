package policy

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnzeLovse/resolwe/pkg/catalog"
	"github.com/AnzeLovse/resolwe/pkg/catalog/memory"
)

// fixedClock is grounded on the same need the Python suite meets by freezing
// timezone.now() via created/last_update column updates: a deterministic Now
// so age-based rules don't race the test run's wall clock.
type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func testBackends() map[string]catalog.BackendConfig {
	return map[string]catalog.BackendConfig{
		// local is the primary, lowest-priority store; its delete rule is
		// disabled so fixtures don't accidentally qualify it as a deletion
		// candidate while only exercising the S3/GCS copy rules.
		"local": {Name: "local", Priority: 1, Delete: catalog.Rule{Delay: -1}},
		"S3": {
			Name:     "S3",
			Priority: 100,
			Copy:     catalog.Rule{Delay: 2},
			Delete:   catalog.Rule{Delay: 5},
		},
		"GCS": {
			Name:     "GCS",
			Priority: 200,
			Copy:     catalog.Rule{Delay: 3},
			Delete:   catalog.Rule{Delay: 5, MinOtherCopies: 2},
		},
	}
}

func newTestEngine(now time.Time) (*Engine, *memory.Store) {
	store := memory.New(fixedClock{now: now})
	return New(store, testBackends(), fixedClock{now: now}), store
}

func mustCreate(t *testing.T, store *memory.Store, loc catalog.StorageLocation) catalog.StorageLocation {
	t.Helper()
	created, err := store.CreateLocation(context.Background(), loc)
	require.NoError(t, err)
	return created
}

// TestToCopy mirrors test_copy: a DONE replica on one backend only becomes a
// copy candidate for another backend once that backend's copy delay has
// elapsed, measured from FileStorage.Created.
func TestToCopy(t *testing.T) {
	t.Parallel()

	now := time.Now()
	engine, store := newTestEngine(now)

	fs := catalog.FileStorage{ID: uuid.New(), Created: now.Add(-2 * 24 * time.Hour)}
	store.PutFileStorage(fs)

	loc := mustCreate(t, store, catalog.StorageLocation{FileStorageID: fs.ID, Backend: "local", URL: "url", Status: catalog.StatusUploading})

	copyS3, err := engine.ToCopy(context.Background(), "S3")
	require.NoError(t, err)
	assert.Empty(t, copyS3, "UPLOADING source replica is not copy-eligible yet")

	require.NoError(t, store.SetLocationStatus(context.Background(), loc.ID, catalog.StatusDone))

	copyS3, err = engine.ToCopy(context.Background(), "S3")
	require.NoError(t, err)
	require.Len(t, copyS3, 1)
	assert.Equal(t, fs.ID, copyS3[0].ID)

	copyGCS, err := engine.ToCopy(context.Background(), "GCS")
	require.NoError(t, err)
	assert.Empty(t, copyGCS, "GCS delay is 3 days, FileStorage is only 2 days old")

	fs.Created = now.Add(-3 * 24 * time.Hour)
	store.PutFileStorage(fs)

	copyGCS, err = engine.ToCopy(context.Background(), "GCS")
	require.NoError(t, err)
	require.Len(t, copyGCS, 1)
	assert.Equal(t, fs.ID, copyGCS[0].ID)
}

// TestToCopyNegativeDelay mirrors test_copy_negative_delay: a negative delay
// disables the copy rule unconditionally, regardless of FileStorage age.
func TestToCopyNegativeDelay(t *testing.T) {
	t.Parallel()

	now := time.Now()
	backends := testBackends()
	s3 := backends["S3"]
	s3.Copy.Delay = -1
	backends["S3"] = s3

	store := memory.New(fixedClock{now: now})
	engine := New(store, backends, fixedClock{now: now})

	fs := catalog.FileStorage{ID: uuid.New(), Created: now.Add(-3 * 24 * time.Hour)}
	store.PutFileStorage(fs)
	loc := mustCreate(t, store, catalog.StorageLocation{FileStorageID: fs.ID, Backend: "local", URL: "url"})
	require.NoError(t, store.SetLocationStatus(context.Background(), loc.ID, catalog.StatusDone))

	copyS3, err := engine.ToCopy(context.Background(), "S3")
	require.NoError(t, err)
	assert.Empty(t, copyS3)

	copyGCS, err := engine.ToCopy(context.Background(), "GCS")
	require.NoError(t, err)
	require.Len(t, copyGCS, 1)
}

// TestToDeleteExtended mirrors SPEC_FULL's "Delete extended" scenario: with
// DONE replicas on local, S3 and GCS (priorities local<S3<GCS), only S3 is a
// delete candidate — GCS is protected as the current highest-priority DONE
// replica, and local's delete rule is disabled.
func TestToDeleteExtended(t *testing.T) {
	t.Parallel()

	now := time.Now()
	engine, store := newTestEngine(now)

	fs := catalog.FileStorage{ID: uuid.New(), Created: now.Add(-30 * 24 * time.Hour)}
	store.PutFileStorage(fs)

	localLoc := mustCreate(t, store, catalog.StorageLocation{FileStorageID: fs.ID, Backend: "local", URL: "url"})
	require.NoError(t, store.SetLocationStatus(context.Background(), localLoc.ID, catalog.StatusDone))

	s3Loc := mustCreate(t, store, catalog.StorageLocation{FileStorageID: fs.ID, Backend: "S3", URL: "url"})
	require.NoError(t, store.SetLocationStatus(context.Background(), s3Loc.ID, catalog.StatusDone))
	store.SetLastUpdate(s3Loc.ID, now.Add(-5*24*time.Hour))

	gcsLoc := mustCreate(t, store, catalog.StorageLocation{FileStorageID: fs.ID, Backend: "GCS", URL: "url"})
	require.NoError(t, store.SetLocationStatus(context.Background(), gcsLoc.ID, catalog.StatusDone))
	store.SetLastUpdate(gcsLoc.ID, now.Add(-5*24*time.Hour))

	delGCS, err := engine.ToDelete(context.Background(), "GCS")
	require.NoError(t, err)
	assert.Empty(t, delGCS, "GCS is the current highest-priority DONE replica, P3 protects it")

	delLocal, err := engine.ToDelete(context.Background(), "local")
	require.NoError(t, err)
	assert.Empty(t, delLocal, "local's delete rule is disabled")

	delS3, err := engine.ToDelete(context.Background(), "S3")
	require.NoError(t, err)
	require.Len(t, delS3, 1)
	assert.Equal(t, fs.ID, delS3[0].ID)

	require.NoError(t, store.DeleteLocation(context.Background(), s3Loc.ID))

	delGCS, err = engine.ToDelete(context.Background(), "GCS")
	require.NoError(t, err)
	assert.Empty(t, delGCS, "GCS remains the highest-priority DONE replica after S3 is removed")
}

// TestToDeleteOpenAccessLog verifies that a DONE replica with an open access
// log is never a delete candidate, and becomes one again once the log
// closes.
func TestToDeleteOpenAccessLog(t *testing.T) {
	t.Parallel()

	now := time.Now()
	engine, store := newTestEngine(now)

	fs := catalog.FileStorage{ID: uuid.New(), Created: now.Add(-30 * 24 * time.Hour)}
	store.PutFileStorage(fs)

	localLoc := mustCreate(t, store, catalog.StorageLocation{FileStorageID: fs.ID, Backend: "local", URL: "url"})
	require.NoError(t, store.SetLocationStatus(context.Background(), localLoc.ID, catalog.StatusDone))

	s3Loc := mustCreate(t, store, catalog.StorageLocation{FileStorageID: fs.ID, Backend: "S3", URL: "url"})
	require.NoError(t, store.SetLocationStatus(context.Background(), s3Loc.ID, catalog.StatusDone))
	store.SetLastUpdate(s3Loc.ID, now.Add(-5*24*time.Hour))

	gcsLoc := mustCreate(t, store, catalog.StorageLocation{FileStorageID: fs.ID, Backend: "GCS", URL: "url"})
	require.NoError(t, store.SetLocationStatus(context.Background(), gcsLoc.ID, catalog.StatusDone))

	al, err := store.OpenAccessLog(context.Background(), s3Loc.ID)
	require.NoError(t, err)

	del, err := engine.ToDelete(context.Background(), "S3")
	require.NoError(t, err)
	assert.Empty(t, del, "S3 replica is still in use")

	require.NoError(t, store.CloseAccessLog(context.Background(), al.ID))

	del, err = engine.ToDelete(context.Background(), "S3")
	require.NoError(t, err)
	require.Len(t, del, 1)
	assert.Equal(t, fs.ID, del[0].ID)

	require.NoError(t, store.SetLocationStatus(context.Background(), s3Loc.ID, catalog.StatusDeleting))
	del, err = engine.ToDelete(context.Background(), "S3")
	require.NoError(t, err)
	assert.Empty(t, del, "a DELETING replica is not a delete candidate")
}

// TestToDeleteMinOtherCopies mirrors test_delete_mincopy: a backend's delete
// rule requiring 2 other DONE replicas only fires once 2 DONE replicas exist
// elsewhere. A "glacier" backend outranks GCS here so GCS itself isn't the
// protected highest-priority replica, letting min_other_copies gating show
// through independently of P3.
func TestToDeleteMinOtherCopies(t *testing.T) {
	t.Parallel()

	now := time.Now()
	backends := testBackends()
	backends["glacier"] = catalog.BackendConfig{Name: "glacier", Priority: 300}
	store := memory.New(fixedClock{now: now})
	engine := New(store, backends, fixedClock{now: now})

	fs := catalog.FileStorage{ID: uuid.New(), Created: now.Add(-30 * 24 * time.Hour)}
	store.PutFileStorage(fs)

	localLoc := mustCreate(t, store, catalog.StorageLocation{FileStorageID: fs.ID, Backend: "local", URL: "url"})
	require.NoError(t, store.SetLocationStatus(context.Background(), localLoc.ID, catalog.StatusDone))

	glacierLoc := mustCreate(t, store, catalog.StorageLocation{FileStorageID: fs.ID, Backend: "glacier", URL: "url"})
	require.NoError(t, store.SetLocationStatus(context.Background(), glacierLoc.ID, catalog.StatusDone))

	gcsLoc := mustCreate(t, store, catalog.StorageLocation{FileStorageID: fs.ID, Backend: "GCS", URL: "url"})
	require.NoError(t, store.SetLocationStatus(context.Background(), gcsLoc.ID, catalog.StatusDone))
	store.SetLastUpdate(gcsLoc.ID, now.Add(-5*24*time.Hour))

	del, err := engine.ToDelete(context.Background(), "GCS")
	require.NoError(t, err)
	require.Len(t, del, 1, "local and glacier are both DONE, satisfying min_other_copies=2")
	assert.Equal(t, fs.ID, del[0].ID)

	require.NoError(t, store.SetLocationStatus(context.Background(), localLoc.ID, catalog.StatusDeleting))

	del, err = engine.ToDelete(context.Background(), "GCS")
	require.NoError(t, err)
	assert.Empty(t, del, "local no longer counts as DONE, only 1 other DONE replica (glacier) remains")
}

// TestHighestPriorityNeverDeleted locks in the invariant that the
// highest-priority DONE replica of a FileStorage is never a deletion
// candidate, even once every other precondition is met.
func TestHighestPriorityNeverDeleted(t *testing.T) {
	t.Parallel()

	now := time.Now()
	engine, store := newTestEngine(now)

	fs := catalog.FileStorage{ID: uuid.New(), Created: now.Add(-30 * 24 * time.Hour)}
	store.PutFileStorage(fs)

	gcsLoc := mustCreate(t, store, catalog.StorageLocation{FileStorageID: fs.ID, Backend: "GCS", URL: "url"})
	require.NoError(t, store.SetLocationStatus(context.Background(), gcsLoc.ID, catalog.StatusDone))
	store.SetLastUpdate(gcsLoc.ID, now.Add(-30*24*time.Hour))

	del, err := engine.ToDelete(context.Background(), "GCS")
	require.NoError(t, err)
	assert.Empty(t, del, "GCS is the only and therefore highest-priority replica")
}

// TestEffectiveRuleOverridePrecedence exercises the policy §4.5.3 precedence:
// an exact data_slug override always wins over a process_type prefix match,
// which in turn wins over the base rule.
func TestEffectiveRuleOverridePrecedence(t *testing.T) {
	t.Parallel()

	rule := catalog.Rule{
		Delay:          5,
		MinOtherCopies: 1,
		ProcessTypeOverrides: map[string]catalog.RuleOverride{
			"data:alignment:": {DelaySet: true, Delay: 10},
		},
		DataSlugOverrides: map[string]catalog.RuleOverride{
			"special-slug": {DelaySet: true, Delay: 1},
		},
	}

	fs := catalog.FileStorage{ProcessType: "data:alignment:bamsplit", DataSlug: "special-slug"}
	delay, _ := rule.EffectiveRule(fs)
	assert.Equal(t, 1, delay, "exact data_slug override must win over the process_type prefix match")

	fs2 := catalog.FileStorage{ProcessType: "data:alignment:bamsplit", DataSlug: "other-slug"}
	delay2, _ := rule.EffectiveRule(fs2)
	assert.Equal(t, 10, delay2, "longest matching process_type prefix applies when no data_slug override matches")

	fs3 := catalog.FileStorage{ProcessType: "data:unrelated:", DataSlug: "other-slug"}
	delay3, _ := rule.EffectiveRule(fs3)
	assert.Equal(t, 5, delay3, "base rule applies when nothing overrides it")
}
