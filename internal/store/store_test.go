package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scorematrix-cli/internal/model"
	"scorematrix-cli/internal/persist"
	"scorematrix-cli/internal/scoring"
)

type fixture struct {
	sq    *SQLite
	taxa  []model.Taxon
	chars []model.Character
}

func openTest(t *testing.T, user string) *SQLite {
	t.Helper()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	sq, err := Store{Dir: t.TempDir()}.Open(context.Background(), OpenOptions{
		UserID: user,
		Now: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Millisecond)
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return sq
}

// newFixture builds 2 taxa and 5 discrete characters with states 0..2.
func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{sq: openTest(t, "alice")}
	for _, name := range []string{"Homo", "Pan"} {
		tx, err := f.sq.AddTaxon(ctx, name)
		require.NoError(t, err)
		f.taxa = append(f.taxa, tx)
	}
	for _, name := range []string{"c1", "c2", "c3", "c4", "c5"} {
		c, err := f.sq.AddCharacter(ctx, name, model.CharacterDiscrete, []string{"absent", "present", "reduced"})
		require.NoError(t, err)
		f.chars = append(f.chars, c)
	}
	return f
}

func (f fixture) state(ci, num int) scoring.StateID {
	return f.chars[ci].States[num].ID
}

func (f fixture) cell(t *testing.T, ti, ci int) model.Cell {
	t.Helper()
	c, err := f.sq.Cell(context.Background(), model.CellKey{TaxonID: f.taxa[ti].ID, CharacterID: f.chars[ci].ID})
	require.NoError(t, err)
	return c
}

func TestCell_DefaultsToUnscored(t *testing.T) {
	f := newFixture(t)
	c := f.cell(t, 0, 0)
	require.Equal(t, []scoring.StateID{scoring.Unscored}, c.Score.States)
	require.False(t, c.Score.Uncertain)
}

func TestSetCellStates_SingleCellWritesEventNotBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	err := f.sq.SetCellStates(ctx, []int64{f.taxa[0].ID}, []int64{f.chars[0].ID},
		[]scoring.StateID{f.state(0, 2), f.state(0, 1)}, persist.SetStatesOptions{Uncertain: true})
	require.NoError(t, err)

	c := f.cell(t, 0, 0)
	require.Equal(t, []scoring.StateID{f.state(0, 1), f.state(0, 2)}, c.Score.States)
	require.True(t, c.Score.Uncertain)

	logs, err := f.sq.GetCellBatchLogs(ctx)
	require.NoError(t, err)
	require.Empty(t, logs)

	evs, err := f.sq.ReadEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, "cell.set_states", evs[0].Type)
	require.Equal(t, "alice", evs[0].ActorID)
}

func TestSetCellStates_UncertainDroppedOnMonomorphic(t *testing.T) {
	f := newFixture(t)
	err := f.sq.SetCellStates(context.Background(), []int64{f.taxa[0].ID}, []int64{f.chars[0].ID},
		[]scoring.StateID{f.state(0, 1)}, persist.SetStatesOptions{Uncertain: true})
	require.NoError(t, err)
	require.False(t, f.cell(t, 0, 0).Score.Uncertain)
}

func TestSetCellStates_RejectsForeignState(t *testing.T) {
	f := newFixture(t)
	err := f.sq.SetCellStates(context.Background(), []int64{f.taxa[0].ID}, []int64{f.chars[0].ID},
		[]scoring.StateID{f.state(1, 1)}, persist.SetStatesOptions{})
	var nf NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "state", nf.Kind)
}

func TestSetCellStates_RejectsSentinelMix(t *testing.T) {
	f := newFixture(t)
	err := f.sq.SetCellStates(context.Background(), []int64{f.taxa[0].ID}, []int64{f.chars[0].ID},
		[]scoring.StateID{scoring.NotApplicable, f.state(0, 1)}, persist.SetStatesOptions{})
	require.True(t, scoring.IsRejection(err))
}

func TestRowBatch_PerCharacterRecordsOneUndoEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chars := []int64{f.chars[2].ID, f.chars[3].ID, f.chars[4].ID}
	states := []scoring.StateID{f.state(2, 2), scoring.Unscored, scoring.NotApplicable}

	err := f.sq.SetCellStates(ctx, []int64{f.taxa[0].ID}, chars, states, persist.SetStatesOptions{
		BatchMode:    model.BatchModeRow,
		PerCharacter: true,
	})
	require.NoError(t, err)

	require.Equal(t, []scoring.StateID{f.state(2, 2)}, f.cell(t, 0, 2).Score.States)
	require.Equal(t, []scoring.StateID{scoring.Unscored}, f.cell(t, 0, 3).Score.States)
	require.Equal(t, []scoring.StateID{scoring.NotApplicable}, f.cell(t, 0, 4).Score.States)

	logs, err := f.sq.GetCellBatchLogs(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, model.BatchModeRow, logs[0].BatchMode)
	require.Equal(t, 3, logs[0].CellCount)
	require.False(t, logs[0].Reverted)
	require.Equal(t, "alice", logs[0].UserID)
}

func TestPerCharacter_LengthMismatch(t *testing.T) {
	f := newFixture(t)
	err := f.sq.SetCellStates(context.Background(), []int64{f.taxa[0].ID}, []int64{f.chars[0].ID, f.chars[1].ID},
		[]scoring.StateID{f.state(0, 1)}, persist.SetStatesOptions{PerCharacter: true, BatchMode: model.BatchModeRow})
	require.Error(t, err)
}

func TestUndo_RestoresAllCellsAndFlagsEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Prior single-cell state that the batch overwrites.
	require.NoError(t, f.sq.SetCellStates(ctx, []int64{f.taxa[1].ID}, []int64{f.chars[0].ID},
		[]scoring.StateID{f.state(0, 1), f.state(0, 2)}, persist.SetStatesOptions{Uncertain: true}))
	notes := "checked"
	require.NoError(t, f.sq.SetCellNotes(ctx, []int64{f.taxa[1].ID}, []int64{f.chars[0].ID}, &notes, nil, persist.BatchOptions{}))

	taxa := []int64{f.taxa[0].ID, f.taxa[1].ID}
	require.NoError(t, f.sq.SetCellStates(ctx, taxa, []int64{f.chars[0].ID},
		[]scoring.StateID{scoring.NotApplicable}, persist.SetStatesOptions{BatchMode: model.BatchModeColumn}))
	require.Equal(t, []scoring.StateID{scoring.NotApplicable}, f.cell(t, 1, 0).Score.States)

	logs, err := f.sq.GetCellBatchLogs(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	require.NoError(t, f.sq.UndoCellBatch(ctx, logs[0].ID))

	require.Equal(t, []scoring.StateID{scoring.Unscored}, f.cell(t, 0, 0).Score.States)
	restored := f.cell(t, 1, 0)
	require.Equal(t, []scoring.StateID{f.state(0, 1), f.state(0, 2)}, restored.Score.States)
	require.True(t, restored.Score.Uncertain)
	require.NotNil(t, restored.Note)
	require.Equal(t, "checked", restored.Note.Notes)

	logs, err = f.sq.GetCellBatchLogs(ctx)
	require.NoError(t, err)
	require.True(t, logs[0].Reverted)

	err = f.sq.UndoCellBatch(ctx, logs[0].ID)
	require.ErrorIs(t, err, ErrAlreadyReverted)
}

func TestUndo_OtherEntriesUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.sq.SetCellStates(ctx, []int64{f.taxa[0].ID}, []int64{f.chars[0].ID, f.chars[1].ID},
		[]scoring.StateID{f.state(0, 1), f.state(1, 1)}, persist.SetStatesOptions{BatchMode: model.BatchModeRow, PerCharacter: true, Description: "first"}))
	require.NoError(t, f.sq.SetCellStates(ctx, []int64{f.taxa[1].ID}, []int64{f.chars[0].ID, f.chars[1].ID},
		[]scoring.StateID{f.state(0, 2), f.state(1, 2)}, persist.SetStatesOptions{BatchMode: model.BatchModeRow, PerCharacter: true, Description: "second"}))

	logs, err := f.sq.GetCellBatchLogs(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, "second", logs[0].Description)
	require.Equal(t, "first", logs[1].Description)

	require.NoError(t, f.sq.UndoCellBatch(ctx, logs[1].ID))

	require.Equal(t, []scoring.StateID{scoring.Unscored}, f.cell(t, 0, 0).Score.States)
	require.Equal(t, []scoring.StateID{f.state(0, 2)}, f.cell(t, 1, 0).Score.States)

	logs, err = f.sq.GetCellBatchLogs(ctx)
	require.NoError(t, err)
	require.False(t, logs[0].Reverted)
	require.True(t, logs[1].Reverted)
}

func TestUndo_UnknownEntry(t *testing.T) {
	f := newFixture(t)
	err := f.sq.UndoCellBatch(context.Background(), "missing")
	var nf NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestFailedBatchLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Second taxon does not exist: nothing may be written.
	err := f.sq.SetCellStates(ctx, []int64{f.taxa[0].ID, 999}, []int64{f.chars[0].ID},
		[]scoring.StateID{f.state(0, 1)}, persist.SetStatesOptions{BatchMode: model.BatchModeColumn})
	var nf NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, []scoring.StateID{scoring.Unscored}, f.cell(t, 0, 0).Score.States)

	logs, err := f.sq.GetCellBatchLogs(ctx)
	require.NoError(t, err)
	require.Empty(t, logs)
}

func TestContinuous_KindAndRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	length, err := f.sq.AddCharacter(ctx, "length", model.CharacterContinuous, nil)
	require.NoError(t, err)

	lo, hi := 1.5, 3.0
	require.NoError(t, f.sq.SetContinuousValues(ctx, []int64{f.taxa[0].ID}, []int64{length.ID}, &lo, &hi, persist.BatchOptions{}))
	c, err := f.sq.Cell(ctx, model.CellKey{TaxonID: f.taxa[0].ID, CharacterID: length.ID})
	require.NoError(t, err)
	require.NotNil(t, c.Continuous)
	require.Equal(t, 1.5, *c.Continuous.Start)
	require.Equal(t, 3.0, *c.Continuous.End)

	err = f.sq.SetContinuousValues(ctx, []int64{f.taxa[0].ID}, []int64{length.ID}, &hi, &lo, persist.BatchOptions{})
	require.True(t, scoring.IsRejection(err))

	err = f.sq.SetContinuousValues(ctx, []int64{f.taxa[0].ID}, []int64{f.chars[0].ID}, &lo, nil, persist.BatchOptions{})
	var km KindMismatchError
	require.ErrorAs(t, err, &km)

	err = f.sq.SetCellStates(ctx, []int64{f.taxa[0].ID}, []int64{length.ID}, []scoring.StateID{scoring.NotApplicable}, persist.SetStatesOptions{})
	require.ErrorAs(t, err, &km)
}

func TestNotes_PartialUpdateKeepsOtherField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	keys := []int64{f.taxa[0].ID}
	chars := []int64{f.chars[0].ID}

	notes := "from figure 2"
	require.NoError(t, f.sq.SetCellNotes(ctx, keys, chars, &notes, nil, persist.BatchOptions{}))
	st := model.CellStatusComplete
	require.NoError(t, f.sq.SetCellNotes(ctx, keys, chars, nil, &st, persist.BatchOptions{}))

	c := f.cell(t, 0, 0)
	require.Equal(t, "from figure 2", c.Note.Notes)
	require.Equal(t, model.CellStatusComplete, c.Note.Status)

	bad := model.CellInfoStatus(7)
	require.Error(t, f.sq.SetCellNotes(ctx, keys, chars, nil, &bad, persist.BatchOptions{}))
	require.Error(t, f.sq.SetCellNotes(ctx, keys, chars, nil, nil, persist.BatchOptions{}))
}

func TestCitationsAndMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cit, err := f.sq.AddCitation(ctx, "Smith 2001")
	require.NoError(t, err)
	m1, err := f.sq.AddMedia(ctx, "skull.jpg")
	require.NoError(t, err)

	taxa := []int64{f.taxa[0].ID, f.taxa[1].ID}
	chars := []int64{f.chars[0].ID}
	require.NoError(t, f.sq.AddCellCitations(ctx, taxa, chars, cit.ID, "12-14", "", persist.BatchOptions{BatchMode: model.BatchModeColumn}))
	require.NoError(t, f.sq.AddCellMedia(ctx, taxa, chars, []int64{m1.ID}, persist.BatchOptions{BatchMode: model.BatchModeColumn}))

	c := f.cell(t, 1, 0)
	require.Len(t, c.Citations, 1)
	require.Equal(t, "12-14", c.Citations[0].Pages)
	require.Equal(t, []int64{m1.ID}, c.Media)

	var nf NotFoundError
	require.ErrorAs(t, f.sq.AddCellCitations(ctx, taxa, chars, 404, "", "", persist.BatchOptions{}), &nf)
	require.ErrorAs(t, f.sq.AddCellMedia(ctx, taxa, chars, []int64{404}, persist.BatchOptions{}), &nf)

	require.NoError(t, f.sq.RemoveCellMedia(ctx, taxa, chars, []int64{m1.ID}, persist.BatchOptions{BatchMode: model.BatchModeColumn}))
	require.Empty(t, f.cell(t, 1, 0).Media)

	logs, err := f.sq.GetCellBatchLogs(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	// Undo the media removal.
	require.NoError(t, f.sq.UndoCellBatch(ctx, logs[0].ID))
	require.Equal(t, []int64{m1.ID}, f.cell(t, 1, 0).Media)
}

func TestCopyCellScores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chars := []int64{f.chars[0].ID, f.chars[1].ID}
	require.NoError(t, f.sq.SetCellStates(ctx, []int64{f.taxa[0].ID}, chars,
		[]scoring.StateID{f.state(0, 1), scoring.NotApplicable}, persist.SetStatesOptions{BatchMode: model.BatchModeRow, PerCharacter: true}))
	notes := "copied"
	require.NoError(t, f.sq.SetCellNotes(ctx, []int64{f.taxa[0].ID}, chars, &notes, nil, persist.BatchOptions{BatchMode: model.BatchModeRow}))

	require.NoError(t, f.sq.CopyCellScores(ctx, f.taxa[0].ID, f.taxa[1].ID, chars, persist.CopyOptions{}))
	require.Equal(t, []scoring.StateID{f.state(0, 1)}, f.cell(t, 1, 0).Score.States)
	require.Equal(t, []scoring.StateID{scoring.NotApplicable}, f.cell(t, 1, 1).Score.States)
	require.Nil(t, f.cell(t, 1, 0).Note)

	logs, err := f.sq.GetCellBatchLogs(ctx)
	require.NoError(t, err)
	require.Equal(t, model.BatchModeCopy, logs[0].BatchMode)

	require.Error(t, f.sq.CopyCellScores(ctx, f.taxa[0].ID, f.taxa[0].ID, chars, persist.CopyOptions{}))
}

func TestTaxonLock_BlocksOtherUsers(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	alice, err := Store{Dir: dir}.Open(ctx, OpenOptions{UserID: "alice"})
	require.NoError(t, err)
	defer alice.Close()

	tx, err := alice.AddTaxon(ctx, "Homo")
	require.NoError(t, err)
	ch, err := alice.AddCharacter(ctx, "c1", model.CharacterDiscrete, []string{"a", "b"})
	require.NoError(t, err)
	locked, err := alice.SetTaxonLock(ctx, tx.ID, true)
	require.NoError(t, err)
	require.Equal(t, "alice", *locked.LockedBy)

	bob, err := Store{Dir: dir}.Open(ctx, OpenOptions{UserID: "bob"})
	require.NoError(t, err)
	defer bob.Close()

	err = bob.SetCellStates(ctx, []int64{tx.ID}, []int64{ch.ID}, []scoring.StateID{ch.States[0].ID}, persist.SetStatesOptions{})
	var le LockedError
	require.ErrorAs(t, err, &le)
	require.Equal(t, "alice", le.LockedBy)

	_, err = bob.SetTaxonLock(ctx, tx.ID, false)
	require.True(t, errors.As(err, &le))

	require.NoError(t, alice.SetCellStates(ctx, []int64{tx.ID}, []int64{ch.ID}, []scoring.StateID{ch.States[0].ID}, persist.SetStatesOptions{}))
	_, err = alice.SetTaxonLock(ctx, tx.ID, false)
	require.NoError(t, err)
	require.NoError(t, bob.SetCellStates(ctx, []int64{tx.ID}, []int64{ch.ID}, []scoring.StateID{ch.States[1].ID}, persist.SetStatesOptions{}))
}

func TestLoadSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sq.SetCellStates(ctx, []int64{f.taxa[0].ID}, []int64{f.chars[0].ID},
		[]scoring.StateID{f.state(0, 1)}, persist.SetStatesOptions{}))

	db, err := f.sq.Load(ctx)
	require.NoError(t, err)
	require.Len(t, db.Taxa, 2)
	require.Len(t, db.Characters, 5)
	require.Len(t, db.Cells, 1)

	row := db.Row(f.taxa[0].ID)
	require.Len(t, row, 5)
	require.Equal(t, []scoring.StateID{f.state(0, 1)}, row[0].Score.States)
	require.Equal(t, []scoring.StateID{scoring.Unscored}, row[1].Score.States)

	_, ok := db.FindTaxon(f.taxa[1].ID)
	require.True(t, ok)
	_, ok = db.FindCharacter(999)
	require.False(t, ok)
}

func TestEvents_EntitySequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sq.SetTaxonLock(ctx, f.taxa[0].ID, true)
	require.NoError(t, err)
	_, err = f.sq.SetTaxonLock(ctx, f.taxa[0].ID, false)
	require.NoError(t, err)

	evs, err := f.sq.ReadEvents(ctx, 0)
	require.NoError(t, err)
	// 2 taxa + 5 characters + lock + unlock
	require.Len(t, evs, 9)
	require.Equal(t, "taxon.create", evs[0].Type)
	require.Equal(t, "taxon.unlock", evs[len(evs)-1].Type)

	tail, err := f.sq.ReadEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	require.Equal(t, "taxon.lock", tail[0].Type)
}
