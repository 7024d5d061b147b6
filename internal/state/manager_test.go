package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/picklr-io/stackdeploy/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_ReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".stack-deploy", "status.json")
	mgr := NewManager(path)
	ctx := context.Background()

	_, err := mgr.Read(ctx)
	assert.ErrorIs(t, err, ErrNoReport)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	report := &Report{
		CycleID:    "0b7c",
		Host:       "nas",
		Commit:     "abc123",
		Sync:       "updated",
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Stacks: StackReports([]ir.Outcome{
			{Stack: "e", Status: ir.OutcomeFailed, Err: errors.New("secret missing"), Duration: 1500 * time.Millisecond},
			{Stack: "f", Status: ir.OutcomeSkipped, Reason: ir.ReasonDependencyFailed, CausedBy: "e"},
			{Stack: "g", Status: ir.OutcomeDeployed},
		}),
	}
	require.NoError(t, mgr.Write(ctx, report))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.CycleID, got.CycleID)
	assert.Equal(t, 90*time.Second, got.Duration())
	require.Len(t, got.Stacks, 3)
	assert.Equal(t, StackReport{Name: "e", Status: "failed", Error: "secret missing", DurationMS: 1500}, got.Stacks[0])
	assert.Equal(t, "e", got.Stacks[1].CausedBy)
	assert.Equal(t, ir.OutcomeSummary{Deployed: 1, Skipped: 1, Failed: 1}, got.Summary())

	// overwrite leaves no temp files behind
	require.NoError(t, mgr.Write(ctx, &Report{CycleID: "next"}))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestManager_ReadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewManager(path).Read(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoReport))
}

func TestManager_Lock(t *testing.T) {
	dir := t.TempDir()
	a := NewManager(filepath.Join(dir, "status.json"))
	b := NewManager(filepath.Join(dir, "status.json"))

	require.NoError(t, a.Lock())
	assert.FileExists(t, a.LockPath())

	err := b.Lock()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "holds the lock")

	require.NoError(t, a.Refresh())
	require.NoError(t, a.Unlock())
	require.NoError(t, b.Lock())
	require.NoError(t, b.Unlock())

	// unlocking twice is fine
	require.NoError(t, b.Unlock())
}

func TestManager_StaleLock(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "status.json"))
	require.NoError(t, m.Lock())

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(m.LockPath(), old, old))

	other := NewManager(filepath.Join(dir, "status.json"))
	require.NoError(t, other.Lock())
}

type memBackend struct {
	report *Report
	err    error
}

func (m *memBackend) Read(context.Context) (*Report, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.report == nil {
		return nil, ErrNoReport
	}
	return m.report, nil
}

func (m *memBackend) Write(_ context.Context, r *Report) error {
	if m.err != nil {
		return m.err
	}
	m.report = r
	return nil
}

func TestMultiBackend(t *testing.T) {
	a, b := &memBackend{}, &memBackend{}
	multi := MultiBackend{a, b}
	ctx := context.Background()

	_, err := multi.Read(ctx)
	assert.ErrorIs(t, err, ErrNoReport)

	require.NoError(t, multi.Write(ctx, &Report{CycleID: "x"}))
	assert.Equal(t, "x", a.report.CycleID)
	assert.Equal(t, "x", b.report.CycleID)

	broken := &memBackend{err: errors.New("bucket gone")}
	multi = MultiBackend{broken, b}
	got, err := multi.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x", got.CycleID)
	assert.ErrorContains(t, multi.Write(ctx, &Report{}), "bucket gone")
}
