// Package persist describes the persistence collaborator the scoring core
// writes through. Every call may block and must honor ctx.
//
// Writes tagged with a non-single BatchMode are recorded by the implementation
// as one undoable batch entry.
package persist

import (
	"context"

	"scorematrix-cli/internal/model"
	"scorematrix-cli/internal/scoring"
)

type BatchOptions struct {
	BatchMode   model.BatchMode
	Description string
}

type SetStatesOptions struct {
	Uncertain bool
	BatchMode model.BatchMode
	// PerCharacter assigns States[i] to CharacterIDs[i] instead of applying
	// the whole set to every cell.
	PerCharacter bool
	Description  string
}

type CopyOptions struct {
	BatchMode   model.BatchMode
	CopyNotes   bool
	Description string
}

type API interface {
	SetCellStates(ctx context.Context, taxonIDs, characterIDs []int64, states []scoring.StateID, opts SetStatesOptions) error
	SetContinuousValues(ctx context.Context, taxonIDs, characterIDs []int64, start, end *float64, opts BatchOptions) error
	SetCellNotes(ctx context.Context, taxonIDs, characterIDs []int64, notes *string, status *model.CellInfoStatus, opts BatchOptions) error
	AddCellCitations(ctx context.Context, taxonIDs, characterIDs []int64, citationID int64, pages, notes string, opts BatchOptions) error
	AddCellMedia(ctx context.Context, taxonIDs, characterIDs []int64, mediaIDs []int64, opts BatchOptions) error
	RemoveCellMedia(ctx context.Context, taxonIDs, characterIDs []int64, mediaIDs []int64, opts BatchOptions) error
	CopyCellScores(ctx context.Context, sourceTaxonID, destinationTaxonID int64, characterIDs []int64, opts CopyOptions) error
	GetCellBatchLogs(ctx context.Context) ([]model.UndoEntry, error)
	UndoCellBatch(ctx context.Context, entryID string) error
}
