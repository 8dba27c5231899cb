package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"scorematrix-cli/internal/model"
)

// recordBatch stores the undo entry of a batch along with the before-image
// of every cell it touched.
func (s *SQLite) recordBatch(ctx context.Context, tx *sql.Tx, kind string, mode model.BatchMode, description string, before []model.Cell, nowMs int64) (string, error) {
	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cell_batch_logs(id, user_id, kind, batch_mode, description, cell_count, created_at_unixms, reverted)
		VALUES(?, ?, ?, ?, ?, ?, ?, 0)
	`, id, s.userID, kind, int(mode), description, len(before), nowMs); err != nil {
		return "", err
	}
	for _, c := range before {
		b, err := json.Marshal(c)
		if err != nil {
			return "", err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO cell_batch_log_cells(log_id, taxon_id, character_id, before_json) VALUES(?, ?, ?, ?)`,
			id, c.Key.TaxonID, c.Key.CharacterID, string(b)); err != nil {
			return "", err
		}
	}
	s.log.Debug("batch recorded", "id", id, "kind", kind, "mode", mode.String(), "cells", len(before))
	return id, nil
}

// GetCellBatchLogs lists undo entries newest first.
func (s *SQLite) GetCellBatchLogs(ctx context.Context) ([]model.UndoEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, batch_mode, description, cell_count, created_at_unixms, reverted
		FROM cell_batch_logs
		ORDER BY created_at_unixms DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.UndoEntry{}
	for rows.Next() {
		var e model.UndoEntry
		var mode, reverted int
		var createdMs int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &mode, &e.Description, &e.CellCount, &createdMs, &reverted); err != nil {
			return nil, err
		}
		e.BatchMode = model.BatchMode(mode)
		e.Reverted = reverted != 0
		e.Timestamp = time.UnixMilli(createdMs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// UndoCellBatch restores every cell of the entry to its before-image. The
// restore is one transaction: either all cells revert or none do.
func (s *SQLite) UndoCellBatch(ctx context.Context, entryID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var reverted int
		err := tx.QueryRowContext(ctx, `SELECT reverted FROM cell_batch_logs WHERE id = ?`, entryID).Scan(&reverted)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("batch", entryID)
		}
		if err != nil {
			return err
		}
		if reverted != 0 {
			return ErrAlreadyReverted
		}

		rows, err := tx.QueryContext(ctx, `SELECT before_json FROM cell_batch_log_cells WHERE log_id = ? ORDER BY taxon_id, character_id`, entryID)
		if err != nil {
			return err
		}
		var before []model.Cell
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				_ = rows.Close()
				return err
			}
			var c model.Cell
			if err := json.Unmarshal([]byte(raw), &c); err != nil {
				_ = rows.Close()
				return err
			}
			before = append(before, c)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		nowMs := s.nowMs()
		for _, c := range before {
			if err := restoreCell(ctx, tx, c, nowMs); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE cell_batch_logs SET reverted = 1, reverted_at_unixms = ? WHERE id = ?`, nowMs, entryID); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, "batch.undo", EntityKindBatch, entryID, map[string]any{"cells": len(before)})
	})
}

func restoreCell(ctx context.Context, tx *sql.Tx, c model.Cell, nowMs int64) error {
	if err := writeScore(ctx, tx, c.Key, c.Score, nowMs); err != nil {
		return err
	}
	if err := writeContinuous(ctx, tx, c.Key, c.Continuous, nowMs); err != nil {
		return err
	}
	if err := writeNote(ctx, tx, c.Key, c.Note, nowMs); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cell_citations WHERE taxon_id = ? AND character_id = ?`, c.Key.TaxonID, c.Key.CharacterID); err != nil {
		return err
	}
	for _, cc := range c.Citations {
		if _, err := tx.ExecContext(ctx, `INSERT INTO cell_citations(id, taxon_id, character_id, citation_id, pages, notes) VALUES(?, ?, ?, ?, ?, ?)`,
			cc.ID, c.Key.TaxonID, c.Key.CharacterID, cc.CitationID, cc.Pages, cc.Notes); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cell_media WHERE taxon_id = ? AND character_id = ?`, c.Key.TaxonID, c.Key.CharacterID); err != nil {
		return err
	}
	for _, m := range c.Media {
		if _, err := tx.ExecContext(ctx, `INSERT INTO cell_media(taxon_id, character_id, media_id) VALUES(?, ?, ?)`, c.Key.TaxonID, c.Key.CharacterID, m); err != nil {
			return err
		}
	}
	return nil
}
