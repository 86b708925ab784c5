package migrate

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/maloquacious/goobtool/internal/logger"
	"github.com/maloquacious/goobtool/internal/schema"
	"github.com/maloquacious/goobtool/internal/store"
	"github.com/maloquacious/goobtool/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBackend(t *testing.T, path string) *sqlite.SQLiteStore {
	t.Helper()
	s := sqlite.New(path)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newBackend(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()
	return openBackend(t, filepath.Join(t.TempDir(), store.DefaultDBFile))
}

// testSet builds a contiguous migration set from SQL bodies.
func testSet(contents ...string) []Migration {
	set := make([]Migration, len(contents))
	for i, c := range contents {
		set[i] = Migration{Version: i + 1, Name: "step", Content: c}
	}
	return set
}

var basicSet = testSet(
	`CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT NOT NULL);`,
	`ALTER TABLE notes ADD COLUMN pinned INTEGER NOT NULL DEFAULT 0;`,
	`CREATE INDEX idx_notes_pinned ON notes (pinned);`,
)

func versions(records []store.Record) []int {
	out := make([]int, 0, len(records))
	for _, r := range records {
		out = append(out, r.Version)
	}
	return out
}

func TestRunAppliesAll(t *testing.T) {
	b := newBackend(t)
	e := NewEngine(b, logger.Discard())

	report, err := e.Run(context.Background(), basicSet)
	require.NoError(t, err)
	assert.Equal(t, StateComplete, report.State)
	assert.Equal(t, []int{1, 2, 3}, report.Applied)
	assert.Equal(t, 3, report.Current)
	assert.Empty(t, report.Pending)

	state, _ := e.State()
	assert.Equal(t, StateComplete, state)

	records, err := b.Records(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, versions(records))
	assert.Equal(t, basicSet[1].Checksum(), records[1].Checksum)
}

func TestRunIsIdempotent(t *testing.T) {
	b := newBackend(t)
	e := NewEngine(b, logger.Discard())
	ctx := context.Background()

	_, err := e.Run(ctx, basicSet)
	require.NoError(t, err)
	first, err := b.Records(ctx)
	require.NoError(t, err)

	report, err := e.Run(ctx, basicSet)
	require.NoError(t, err)
	assert.Empty(t, report.Applied)
	assert.Equal(t, StateComplete, report.State)

	second, err := b.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRunStopsAtFailure(t *testing.T) {
	b := newBackend(t)
	e := NewEngine(b, logger.Discard())
	ctx := context.Background()

	set := testSet(
		`CREATE TABLE notes (id INTEGER PRIMARY KEY);`,
		`ALTER TABLE no_such_table ADD COLUMN x INTEGER;`,
		`CREATE TABLE later (id INTEGER PRIMARY KEY);`,
	)
	report, err := e.Run(ctx, set)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrMigrationFailed)

	var me *store.MigrationError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 2, me.Version)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, []int{1}, report.Applied)

	records, err := b.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions(records))

	res, err := b.Query(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE name = 'later'`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Rows[0][0])
}

func TestRunDetectsDrift(t *testing.T) {
	b := newBackend(t)
	e := NewEngine(b, logger.Discard())
	ctx := context.Background()

	_, err := e.Run(ctx, basicSet[:2])
	require.NoError(t, err)
	before, err := b.Records(ctx)
	require.NoError(t, err)

	changed := testSet(
		basicSet[0].Content,
		`ALTER TABLE notes ADD COLUMN pinned INTEGER NOT NULL DEFAULT 1;`,
		basicSet[2].Content,
	)
	report, err := e.Run(ctx, changed)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrMigrationDrift)
	assert.Equal(t, StateFailed, report.State)

	after, err := b.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = e.Plan(ctx, changed)
	assert.ErrorIs(t, err, store.ErrMigrationDrift)
}

func TestRunDetectsUnknownLedgerEntry(t *testing.T) {
	b := newBackend(t)
	e := NewEngine(b, logger.Discard())
	ctx := context.Background()

	_, err := e.Run(ctx, basicSet)
	require.NoError(t, err)

	_, err = e.Run(ctx, basicSet[:2])
	assert.ErrorIs(t, err, store.ErrMigrationDrift)
}

func TestRunCapabilityMissing(t *testing.T) {
	b := newBackend(t)
	e := NewEngine(b, logger.Discard())
	ctx := context.Background()

	set := testSet(
		`CREATE TABLE documents (id INTEGER PRIMARY KEY);`,
		`CREATE TABLE embeddings (id INTEGER PRIMARY KEY);`,
		`CREATE TABLE later (id INTEGER PRIMARY KEY);`,
	)
	set[1].Requires = []store.Capability{store.CapVector}

	report, err := e.Run(ctx, set)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrCapabilityMissing)

	var ce *store.CapabilityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Version)
	assert.Equal(t, 2, report.Failed)

	records, err := b.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions(records))
}

// vectorBackend reports the vector capability on top of SQLite.
type vectorBackend struct {
	*sqlite.SQLiteStore
}

func (vectorBackend) Capabilities(context.Context) (store.Capabilities, error) {
	return store.Capabilities{store.CapVector: true}, nil
}

func TestRunCapabilityPresent(t *testing.T) {
	b := vectorBackend{newBackend(t)}
	set := testSet(`CREATE TABLE documents (id INTEGER PRIMARY KEY);`, `CREATE TABLE embeddings (id INTEGER PRIMARY KEY);`)
	set[1].Requires = []store.Capability{store.CapVector}

	report, err := NewEngine(b, logger.Discard()).Run(context.Background(), set)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, report.Applied)
}

// cancellingBackend cancels the run while the first step is applying.
type cancellingBackend struct {
	*sqlite.SQLiteStore
	cancel context.CancelFunc
}

func (c cancellingBackend) ApplyMigration(ctx context.Context, rec store.Record, content string) (store.Record, bool, error) {
	c.cancel()
	return c.SQLiteStore.ApplyMigration(ctx, rec, content)
}

func TestRunCancelledBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := cancellingBackend{SQLiteStore: newBackend(t), cancel: cancel}

	report, err := NewEngine(b, logger.Discard()).Run(ctx, basicSet)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{1}, report.Applied)

	records, err := b.Records(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions(records))
}

func TestPlan(t *testing.T) {
	b := newBackend(t)
	e := NewEngine(b, logger.Discard())
	ctx := context.Background()

	report, err := e.Plan(ctx, basicSet)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, report.Pending)
	assert.Equal(t, 0, report.Current)

	_, err = e.Run(ctx, basicSet[:1])
	require.NoError(t, err)

	report, err = e.Plan(ctx, basicSet)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, report.Pending)
	assert.Equal(t, 1, report.Current)
	assert.Equal(t, 3, report.Target)
}

func TestConcurrentRunsConverge(t *testing.T) {
	path := filepath.Join(t.TempDir(), store.DefaultDBFile)
	a := openBackend(t, path)
	b := openBackend(t, path)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, backend := range []store.Backend{a, b} {
		wg.Add(1)
		go func(i int, backend store.Backend) {
			defer wg.Done()
			_, errs[i] = NewEngine(backend, logger.Discard()).Run(context.Background(), basicSet)
		}(i, backend)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	records, err := a.Records(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, versions(records))
}

func TestRunEmbeddedSchema(t *testing.T) {
	fsys, err := schema.FS(store.KindEmbedded)
	require.NoError(t, err)
	set, err := Load(fsys)
	require.NoError(t, err)

	b := newBackend(t)
	e := NewEngine(b, logger.Discard())
	e.now = func() time.Time { return time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC) }

	report, err := e.Run(context.Background(), set)
	require.NoError(t, err)
	assert.Equal(t, len(set), report.Current)

	_, err = b.Exec(context.Background(), `INSERT INTO documents (title, body) VALUES (?, ?)`, "hello", "world")
	require.NoError(t, err)

	records, err := b.Records(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), records[0].AppliedAt)
}
