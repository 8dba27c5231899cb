// Package mutate applies one change to every cell of a taxon x character
// selection as a single batch write.
//
// Batch and single-cell writes touching the same cells are not ordered
// against each other here; callers must not start a batch while a
// conflicting single-cell commit is still pending.
package mutate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"scorematrix-cli/internal/logs"
	"scorematrix-cli/internal/metrics"
	"scorematrix-cli/internal/model"
	"scorematrix-cli/internal/persist"
	"scorematrix-cli/internal/scoring"
	"scorematrix-cli/internal/session"
)

// Access is the row-scoped edit flag handed in by the caller.
type Access interface {
	CanEditTaxon(taxonID int64) bool
}

// Invalidator is told when a batch committed so cached undo lists reload.
type Invalidator interface {
	Invalidate()
}

type Engine struct {
	API    persist.API
	Access Access
	Undo   Invalidator
	// Session, when set, remembers the last attached citation.
	Session *session.Session
	UserID  string
	Logger  *slog.Logger
}

type Result struct {
	Kind  string          `json:"kind"`
	Mode  model.BatchMode `json:"batchMode"`
	Cells int             `json:"cells"`
}

// ModeFor picks the batch discriminator of a selection: row for a single
// taxon, column otherwise.
func ModeFor(sel model.BatchSelection) model.BatchMode {
	if len(sel.TaxonIDs) == 1 {
		return model.BatchModeRow
	}
	return model.BatchModeColumn
}

// Apply validates m against sel and sends it as one batch write. Rejections
// (*scoring.Rejection, ValidationError) and LockedError are returned before
// anything is written. On success the undo list is invalidated; nothing about
// individual cells is cached, callers reload what they display.
func (e *Engine) Apply(ctx context.Context, sel model.BatchSelection, m Mutation) (Result, error) {
	log := logs.OrDefault(e.Logger)
	kind := "unknown"
	if m != nil {
		kind = m.Kind()
	}

	res, err := e.apply(ctx, sel, m)
	switch {
	case err == nil:
		metrics.BatchMutations.WithLabelValues(kind, metrics.OutcomeSaved).Inc()
		metrics.BatchCells.Observe(float64(res.Cells))
		log.Debug("batch saved", "kind", kind, "mode", res.Mode.String(), "cells", res.Cells)
	case IsNotSaved(err):
		metrics.BatchMutations.WithLabelValues(kind, metrics.OutcomeNotSaved).Inc()
		log.Info("not saved", "kind", kind, "saved", false, "reason", err.Error())
	default:
		metrics.BatchMutations.WithLabelValues(kind, metrics.OutcomeFailed).Inc()
		log.Warn("batch failed", "kind", kind, "err", err)
	}
	return res, err
}

func (e *Engine) apply(ctx context.Context, sel model.BatchSelection, m Mutation) (Result, error) {
	if e == nil || e.API == nil {
		return Result{}, errors.New("batch engine has no persistence api")
	}
	sel = normalize(sel)
	if len(sel.TaxonIDs) == 0 || len(sel.CharacterIDs) == 0 {
		return Result{}, ValidationError{Field: "selection", Reason: ErrEmptySelection.Error()}
	}
	if err := validateStruct(sel); err != nil {
		return Result{}, err
	}
	if err := validateMutation(sel, m); err != nil {
		return Result{}, err
	}
	if err := e.checkAccess(sel); err != nil {
		return Result{}, err
	}

	mode := ModeFor(sel)
	if _, ok := m.(CopyRow); ok {
		mode = model.BatchModeCopy
	}
	res := Result{Kind: m.Kind(), Mode: mode, Cells: len(sel.TaxonIDs) * len(sel.CharacterIDs)}
	opts := persist.BatchOptions{BatchMode: mode, Description: describe(m, sel)}

	var err error
	switch v := m.(type) {
	case SetScores:
		err = e.API.SetCellStates(ctx, sel.TaxonIDs, sel.CharacterIDs, v.States, persist.SetStatesOptions{
			Uncertain:   v.Uncertain,
			BatchMode:   mode,
			Description: opts.Description,
		})
	case SetRowScores:
		err = e.API.SetCellStates(ctx, sel.TaxonIDs, sel.CharacterIDs, v.States, persist.SetStatesOptions{
			BatchMode:    mode,
			PerCharacter: true,
			Description:  opts.Description,
		})
	case SetContinuous:
		err = e.API.SetContinuousValues(ctx, sel.TaxonIDs, sel.CharacterIDs, v.Start, v.End, opts)
	case SetNotes:
		err = e.API.SetCellNotes(ctx, sel.TaxonIDs, sel.CharacterIDs, v.Notes, v.Status, opts)
	case AddCitation:
		err = e.API.AddCellCitations(ctx, sel.TaxonIDs, sel.CharacterIDs, v.CitationID, v.Pages, v.Notes, opts)
		if err == nil {
			e.Session.SetLastCitation(session.LastCitation{CitationID: v.CitationID, Pages: v.Pages, Notes: v.Notes})
		}
	case AddMedia:
		err = e.API.AddCellMedia(ctx, sel.TaxonIDs, sel.CharacterIDs, v.MediaIDs, opts)
	case RemoveMedia:
		err = e.API.RemoveCellMedia(ctx, sel.TaxonIDs, sel.CharacterIDs, v.MediaIDs, opts)
	case CopyRow:
		err = e.API.CopyCellScores(ctx, v.SourceTaxonID, sel.TaxonIDs[0], sel.CharacterIDs, persist.CopyOptions{
			BatchMode:   mode,
			CopyNotes:   v.CopyNotes,
			Description: opts.Description,
		})
	}
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", m.Kind(), err)
	}
	if e.Undo != nil {
		e.Undo.Invalidate()
	}
	return res, nil
}

func (e *Engine) checkAccess(sel model.BatchSelection) error {
	if e.Access == nil {
		return nil
	}
	var locked []int64
	for _, id := range sel.TaxonIDs {
		if !e.Access.CanEditTaxon(id) {
			locked = append(locked, id)
		}
	}
	if len(locked) > 0 {
		return LockedError{UserID: e.UserID, TaxonIDs: locked}
	}
	return nil
}

// normalize drops duplicate ids, keeping first occurrences in order.
func normalize(sel model.BatchSelection) model.BatchSelection {
	return model.BatchSelection{TaxonIDs: dedupe(sel.TaxonIDs), CharacterIDs: dedupe(sel.CharacterIDs)}
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func describe(m Mutation, sel model.BatchSelection) string {
	target := fmt.Sprintf("%d taxa x %d characters", len(sel.TaxonIDs), len(sel.CharacterIDs))
	switch v := m.(type) {
	case SetScores:
		return fmt.Sprintf("Set scores %s on %s", scoring.NewScore(v.Uncertain, v.States...), target)
	case SetRowScores:
		return fmt.Sprintf("Set row scores on taxon %d (%d characters)", sel.TaxonIDs[0], len(sel.CharacterIDs))
	case SetContinuous:
		return "Set continuous values on " + target
	case SetNotes:
		return "Set notes on " + target
	case AddCitation:
		return fmt.Sprintf("Add citation %d to %s", v.CitationID, target)
	case AddMedia:
		return fmt.Sprintf("Add %d media to %s", len(v.MediaIDs), target)
	case RemoveMedia:
		return fmt.Sprintf("Remove %d media from %s", len(v.MediaIDs), target)
	case CopyRow:
		return fmt.Sprintf("Copy scores from taxon %d to taxon %d (%d characters)", v.SourceTaxonID, sel.TaxonIDs[0], len(sel.CharacterIDs))
	default:
		return m.Kind() + " on " + target
	}
}

// IsNotSaved reports whether err is a local rejection rather than a failure.
func IsNotSaved(err error) bool {
	if err == nil {
		return false
	}
	if scoring.IsRejection(err) {
		return true
	}
	var ve ValidationError
	return errors.As(err, &ve)
}
