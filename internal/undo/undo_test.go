package undo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scorematrix-cli/internal/logs"
	"scorematrix-cli/internal/model"
	"scorematrix-cli/internal/mutate"
	"scorematrix-cli/internal/persist"
	"scorematrix-cli/internal/scoring"
	"scorematrix-cli/internal/store"
)

// fakeBatchAPI serves a fixed batch log and records reverts.
type fakeBatchAPI struct {
	persist.API
	entries  []model.UndoEntry
	loads    int
	reverted []string
	undoErr  error
}

func (f *fakeBatchAPI) GetCellBatchLogs(ctx context.Context) ([]model.UndoEntry, error) {
	f.loads++
	out := make([]model.UndoEntry, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

func (f *fakeBatchAPI) UndoCellBatch(ctx context.Context, id string) error {
	if f.undoErr != nil {
		return f.undoErr
	}
	f.reverted = append(f.reverted, id)
	for i := range f.entries {
		if f.entries[i].ID == id {
			f.entries[i].Reverted = true
		}
	}
	return nil
}

func sampleEntries() []model.UndoEntry {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []model.UndoEntry{
		{ID: "a", Timestamp: base, Description: "oldest"},
		{ID: "c", Timestamp: base.Add(2 * time.Minute), Description: "newest"},
		{ID: "b", Timestamp: base.Add(time.Minute), Description: "middle", Reverted: true},
	}
}

func TestList_NewestFirstAndCached(t *testing.T) {
	api := &fakeBatchAPI{entries: sampleEntries()}
	l := New(api, logs.Discard())

	got, err := l.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b", "a"}, ids(got))

	_, err = l.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, api.loads)

	l.Invalidate()
	_, err = l.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, api.loads)
}

func TestRevert_OnlyTargetEntryChanges(t *testing.T) {
	api := &fakeBatchAPI{entries: sampleEntries()}
	l := New(api, logs.Discard())
	ctx := context.Background()

	before, err := l.List(ctx)
	require.NoError(t, err)

	e, err := l.Revert(ctx, "a")
	require.NoError(t, err)
	require.True(t, e.Reverted)

	after, err := l.List(ctx)
	require.NoError(t, err)
	for i := range before {
		if after[i].ID == "a" {
			require.True(t, after[i].Reverted)
			continue
		}
		require.Equal(t, before[i].Reverted, after[i].Reverted, "entry %s changed", after[i].ID)
	}
	require.Equal(t, []string{"a"}, api.reverted)
}

func TestRevert_RefusedWithoutCallingAPI(t *testing.T) {
	api := &fakeBatchAPI{entries: sampleEntries()}
	l := New(api, logs.Discard())
	ctx := context.Background()

	_, err := l.Revert(ctx, "b")
	require.ErrorIs(t, err, ErrAlreadyReverted)

	_, err = l.Revert(ctx, "zzz")
	var nf NotFoundError
	require.ErrorAs(t, err, &nf)

	require.Empty(t, api.reverted)
}

func TestRevert_ReloadsForUnknownEntry(t *testing.T) {
	api := &fakeBatchAPI{entries: sampleEntries()}
	l := New(api, logs.Discard())
	ctx := context.Background()
	_, err := l.List(ctx)
	require.NoError(t, err)

	api.entries = append(api.entries, model.UndoEntry{ID: "d", Timestamp: time.Now().UTC()})
	_, err = l.Revert(ctx, "d")
	require.NoError(t, err)
	require.Equal(t, []string{"d"}, api.reverted)
}

func TestRevert_FailureKeepsFlag(t *testing.T) {
	api := &fakeBatchAPI{entries: sampleEntries(), undoErr: errors.New("offline")}
	l := New(api, logs.Discard())

	_, err := l.Revert(context.Background(), "a")
	require.Error(t, err)

	api.undoErr = nil
	got, err := l.List(context.Background())
	require.NoError(t, err)
	for _, e := range got {
		if e.ID == "a" {
			require.False(t, e.Reverted)
			require.True(t, Eligible(e))
		}
	}
}

func TestWithStore_BatchThenRevert(t *testing.T) {
	ctx := context.Background()
	sq, err := store.Store{Dir: t.TempDir()}.Open(ctx, store.OpenOptions{UserID: "alice"})
	require.NoError(t, err)
	defer sq.Close()

	taxon, err := sq.AddTaxon(ctx, "Homo")
	require.NoError(t, err)
	var chars []int64
	var states []scoring.StateID
	for _, name := range []string{"c3", "c4", "c5"} {
		c, err := sq.AddCharacter(ctx, name, model.CharacterDiscrete, []string{"a", "b", "c"})
		require.NoError(t, err)
		chars = append(chars, c.ID)
		states = append(states, c.States[2].ID)
	}
	states[1] = scoring.Unscored
	states[2] = scoring.NotApplicable

	l := New(sq, logs.Discard())
	before, err := l.List(ctx)
	require.NoError(t, err)
	require.Empty(t, before)

	eng := &mutate.Engine{API: sq, Undo: l, Logger: logs.Discard()}
	_, err = eng.Apply(ctx, model.BatchSelection{TaxonIDs: []int64{taxon.ID}, CharacterIDs: chars}, mutate.SetRowScores{States: states})
	require.NoError(t, err)

	entries, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, model.BatchModeRow, entries[0].BatchMode)

	_, err = l.Revert(ctx, entries[0].ID)
	require.NoError(t, err)
	for _, ch := range chars {
		c, err := sq.Cell(ctx, model.CellKey{TaxonID: taxon.ID, CharacterID: ch})
		require.NoError(t, err)
		require.Equal(t, []scoring.StateID{scoring.Unscored}, c.Score.States)
	}

	_, err = l.Revert(ctx, entries[0].ID)
	require.ErrorIs(t, err, ErrAlreadyReverted)
}

func ids(entries []model.UndoEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}
