package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"scorematrix-cli/internal/model"
	"scorematrix-cli/internal/persist"
	"scorematrix-cli/internal/scoring"
)

var _ persist.API = (*SQLite)(nil)

func emptyCell(key model.CellKey) model.Cell {
	return model.Cell{Key: key, Score: scoring.UnscoredScore()}
}

// Cell reads one cell. Cells that were never written are unscored.
func (s *SQLite) Cell(ctx context.Context, key model.CellKey) (model.Cell, error) {
	if _, err := readTaxon(ctx, s.db, key.TaxonID); err != nil {
		return model.Cell{}, err
	}
	if _, err := readCharacter(ctx, s.db, key.CharacterID); err != nil {
		return model.Cell{}, err
	}
	return readCell(ctx, s.db, key)
}

func readCell(ctx context.Context, q querier, key model.CellKey) (model.Cell, error) {
	c := model.Cell{Key: key}

	rows, err := q.QueryContext(ctx, `SELECT state_id, uncertain FROM cell_scores WHERE taxon_id = ? AND character_id = ?`, key.TaxonID, key.CharacterID)
	if err != nil {
		return model.Cell{}, err
	}
	var states []scoring.StateID
	uncertain := false
	for rows.Next() {
		var sid int64
		var u int
		if err := rows.Scan(&sid, &u); err != nil {
			_ = rows.Close()
			return model.Cell{}, err
		}
		states = append(states, scoring.StateID(sid))
		uncertain = uncertain || u != 0
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return model.Cell{}, err
	}
	c.Score = scoring.EnsureNonEmpty(scoring.NewScore(uncertain, states...))

	var start, end sql.NullFloat64
	err = q.QueryRowContext(ctx, `SELECT start_value, end_value FROM cell_continuous WHERE taxon_id = ? AND character_id = ?`, key.TaxonID, key.CharacterID).Scan(&start, &end)
	switch {
	case err == nil:
		cv := &model.ContinuousValue{}
		if start.Valid {
			v := start.Float64
			cv.Start = &v
		}
		if end.Valid {
			v := end.Float64
			cv.End = &v
		}
		c.Continuous = cv
	case !errors.Is(err, sql.ErrNoRows):
		return model.Cell{}, err
	}

	var note model.CellNote
	var status int
	err = q.QueryRowContext(ctx, `SELECT notes, status FROM cell_notes WHERE taxon_id = ? AND character_id = ?`, key.TaxonID, key.CharacterID).Scan(&note.Notes, &status)
	switch {
	case err == nil:
		note.Status = model.CellInfoStatus(status)
		c.Note = &note
	case !errors.Is(err, sql.ErrNoRows):
		return model.Cell{}, err
	}

	rows, err = q.QueryContext(ctx, `SELECT id, citation_id, pages, notes FROM cell_citations WHERE taxon_id = ? AND character_id = ? ORDER BY id`, key.TaxonID, key.CharacterID)
	if err != nil {
		return model.Cell{}, err
	}
	for rows.Next() {
		var cc model.CellCitation
		if err := rows.Scan(&cc.ID, &cc.CitationID, &cc.Pages, &cc.Notes); err != nil {
			_ = rows.Close()
			return model.Cell{}, err
		}
		c.Citations = append(c.Citations, cc)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return model.Cell{}, err
	}

	media, err := queryIDs(ctx, q, `SELECT media_id FROM cell_media WHERE taxon_id = ? AND character_id = ? ORDER BY media_id`, key.TaxonID, key.CharacterID)
	if err != nil {
		return model.Cell{}, err
	}
	c.Media = media
	return c, nil
}

func storedCellKeys(ctx context.Context, q querier) ([]model.CellKey, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT taxon_id, character_id FROM cell_scores
		UNION SELECT taxon_id, character_id FROM cell_continuous
		UNION SELECT taxon_id, character_id FROM cell_notes
		UNION SELECT taxon_id, character_id FROM cell_citations
		UNION SELECT taxon_id, character_id FROM cell_media`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CellKey
	for rows.Next() {
		var k model.CellKey
		if err := rows.Scan(&k.TaxonID, &k.CharacterID); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TaxonID != out[j].TaxonID {
			return out[i].TaxonID < out[j].TaxonID
		}
		return out[i].CharacterID < out[j].CharacterID
	})
	return out, rows.Err()
}

// writeScore replaces the stored states of one cell. Unscored is stored as
// the absence of rows.
func writeScore(ctx context.Context, tx *sql.Tx, key model.CellKey, score scoring.CellScore, nowMs int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM cell_scores WHERE taxon_id = ? AND character_id = ?`, key.TaxonID, key.CharacterID); err != nil {
		return err
	}
	if len(score.States) == 0 || (len(score.States) == 1 && score.States[0] == scoring.Unscored) {
		return nil
	}
	uncertain := score.Uncertain && score.IsPolymorphic()
	for _, id := range score.States {
		if _, err := tx.ExecContext(ctx, `INSERT INTO cell_scores(taxon_id, character_id, state_id, uncertain, updated_at_unixms) VALUES(?, ?, ?, ?, ?)`,
			key.TaxonID, key.CharacterID, int64(id), boolToInt(uncertain), nowMs); err != nil {
			return err
		}
	}
	return nil
}

func writeContinuous(ctx context.Context, tx *sql.Tx, key model.CellKey, cv *model.ContinuousValue, nowMs int64) error {
	if cv == nil || (cv.Start == nil && cv.End == nil) {
		_, err := tx.ExecContext(ctx, `DELETE FROM cell_continuous WHERE taxon_id = ? AND character_id = ?`, key.TaxonID, key.CharacterID)
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO cell_continuous(taxon_id, character_id, start_value, end_value, updated_at_unixms) VALUES(?, ?, ?, ?, ?)`,
		key.TaxonID, key.CharacterID, nullFloat(cv.Start), nullFloat(cv.End), nowMs)
	return err
}

func writeNote(ctx context.Context, tx *sql.Tx, key model.CellKey, note *model.CellNote, nowMs int64) error {
	if note == nil {
		_, err := tx.ExecContext(ctx, `DELETE FROM cell_notes WHERE taxon_id = ? AND character_id = ?`, key.TaxonID, key.CharacterID)
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO cell_notes(taxon_id, character_id, notes, status, updated_at_unixms) VALUES(?, ?, ?, ?, ?)`,
		key.TaxonID, key.CharacterID, note.Notes, int(note.Status), nowMs)
	return err
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// cellTarget resolves and checks the taxa and characters of a write.
type cellTarget struct {
	taxa  []model.Taxon
	chars []model.Character
}

func (t cellTarget) keys() []model.CellKey {
	out := make([]model.CellKey, 0, len(t.taxa)*len(t.chars))
	for _, tx := range t.taxa {
		for _, c := range t.chars {
			out = append(out, model.CellKey{TaxonID: tx.ID, CharacterID: c.ID})
		}
	}
	return out
}

func (s *SQLite) resolveTarget(ctx context.Context, q querier, taxonIDs, characterIDs []int64) (cellTarget, error) {
	if len(taxonIDs) == 0 || len(characterIDs) == 0 {
		return cellTarget{}, errors.New("empty selection")
	}
	var t cellTarget
	for _, id := range taxonIDs {
		tx, err := readTaxon(ctx, q, id)
		if err != nil {
			return cellTarget{}, err
		}
		if tx.LockedAgainst(s.userID, s.now(), s.lockTTL) {
			return cellTarget{}, LockedError{TaxonID: id, LockedBy: *tx.LockedBy}
		}
		t.taxa = append(t.taxa, tx)
	}
	for _, id := range characterIDs {
		c, err := readCharacter(ctx, q, id)
		if err != nil {
			return cellTarget{}, err
		}
		t.chars = append(t.chars, c)
	}
	return t, nil
}

// writeBatch runs one write over target inside a transaction, recording an
// undo entry and event when mode is not single.
func (s *SQLite) writeBatch(ctx context.Context, kind string, mode model.BatchMode, description string, taxonIDs, characterIDs []int64, payload any, apply func(tx *sql.Tx, t cellTarget, nowMs int64) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := s.resolveTarget(ctx, tx, taxonIDs, characterIDs)
		if err != nil {
			return err
		}
		keys := t.keys()

		var before []model.Cell
		if mode != model.BatchModeSingle {
			before = make([]model.Cell, 0, len(keys))
			for _, k := range keys {
				c, err := readCell(ctx, tx, k)
				if err != nil {
					return err
				}
				before = append(before, c)
			}
		}

		nowMs := s.nowMs()
		if err := apply(tx, t, nowMs); err != nil {
			return err
		}

		if mode == model.BatchModeSingle {
			for _, k := range keys {
				if err := s.appendEvent(ctx, tx, "cell."+kind, EntityKindCell, k.String(), payload); err != nil {
					return err
				}
			}
			return nil
		}
		if description == "" {
			description = defaultDescription(kind, mode, len(t.taxa), len(t.chars))
		}
		logID, err := s.recordBatch(ctx, tx, kind, mode, description, before, nowMs)
		if err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, "batch.apply", EntityKindBatch, logID, map[string]any{
			"kind":         kind,
			"batchMode":    int(mode),
			"taxonIds":     taxonIDs,
			"characterIds": characterIDs,
			"payload":      payload,
		})
	})
}

func defaultDescription(kind string, mode model.BatchMode, taxa, chars int) string {
	return fmt.Sprintf("%s (%s batch: %d taxa x %d characters)", kind, mode, taxa, chars)
}

func (s *SQLite) SetCellStates(ctx context.Context, taxonIDs, characterIDs []int64, states []scoring.StateID, opts persist.SetStatesOptions) error {
	if opts.PerCharacter && len(states) != len(characterIDs) {
		return fmt.Errorf("per-character states: got %d states for %d characters", len(states), len(characterIDs))
	}
	payload := map[string]any{"stateIds": states, "uncertain": opts.Uncertain, "perCharacter": opts.PerCharacter}
	return s.writeBatch(ctx, "set_states", opts.BatchMode, opts.Description, taxonIDs, characterIDs, payload, func(tx *sql.Tx, t cellTarget, nowMs int64) error {
		for ci, c := range t.chars {
			if c.Kind == model.CharacterContinuous {
				return KindMismatchError{CharacterID: c.ID, Kind: c.Kind}
			}
			ids := states
			if opts.PerCharacter {
				ids = []scoring.StateID{states[ci]}
			}
			score := scoring.EnsureNonEmpty(scoring.NewScore(false, ids...))
			// Uncertainty is only kept on polymorphic scores.
			score.Uncertain = opts.Uncertain && score.IsPolymorphic()
			if err := scoring.Validate(score); err != nil {
				return err
			}
			for _, id := range score.States {
				if !c.HasState(id) {
					return notFound("state", fmt.Sprintf("%d (character %d)", int64(id), c.ID))
				}
			}
			for _, taxon := range t.taxa {
				if err := writeScore(ctx, tx, model.CellKey{TaxonID: taxon.ID, CharacterID: c.ID}, score, nowMs); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *SQLite) SetContinuousValues(ctx context.Context, taxonIDs, characterIDs []int64, start, end *float64, opts persist.BatchOptions) error {
	if err := scoring.ContinuousRange(start, end); err != nil {
		return err
	}
	payload := map[string]any{"start": start, "end": end}
	return s.writeBatch(ctx, "set_continuous", opts.BatchMode, opts.Description, taxonIDs, characterIDs, payload, func(tx *sql.Tx, t cellTarget, nowMs int64) error {
		cv := &model.ContinuousValue{Start: start, End: end}
		for _, c := range t.chars {
			if c.Kind != model.CharacterContinuous {
				return KindMismatchError{CharacterID: c.ID, Kind: c.Kind}
			}
			for _, taxon := range t.taxa {
				if err := writeContinuous(ctx, tx, model.CellKey{TaxonID: taxon.ID, CharacterID: c.ID}, cv, nowMs); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *SQLite) SetCellNotes(ctx context.Context, taxonIDs, characterIDs []int64, notes *string, status *model.CellInfoStatus, opts persist.BatchOptions) error {
	if notes == nil && status == nil {
		return errors.New("notes or status required")
	}
	if status != nil && !status.Valid() {
		return fmt.Errorf("invalid cell status: %d", int(*status))
	}
	payload := map[string]any{"notes": notes, "status": status}
	return s.writeBatch(ctx, "set_notes", opts.BatchMode, opts.Description, taxonIDs, characterIDs, payload, func(tx *sql.Tx, t cellTarget, nowMs int64) error {
		for _, k := range t.keys() {
			cur, err := readCell(ctx, tx, k)
			if err != nil {
				return err
			}
			next := model.CellNote{}
			if cur.Note != nil {
				next = *cur.Note
			}
			if notes != nil {
				next.Notes = *notes
			}
			if status != nil {
				next.Status = *status
			}
			if err := writeNote(ctx, tx, k, &next, nowMs); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLite) AddCellCitations(ctx context.Context, taxonIDs, characterIDs []int64, citationID int64, pages, notes string, opts persist.BatchOptions) error {
	payload := map[string]any{"citationId": citationID, "pages": pages, "notes": notes}
	return s.writeBatch(ctx, "add_citation", opts.BatchMode, opts.Description, taxonIDs, characterIDs, payload, func(tx *sql.Tx, t cellTarget, nowMs int64) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM citations WHERE id = ?`, citationID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return notFound("citation", citationID)
		}
		for _, k := range t.keys() {
			if _, err := tx.ExecContext(ctx, `INSERT INTO cell_citations(taxon_id, character_id, citation_id, pages, notes) VALUES(?, ?, ?, ?, ?)`,
				k.TaxonID, k.CharacterID, citationID, pages, notes); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLite) AddCellMedia(ctx context.Context, taxonIDs, characterIDs []int64, mediaIDs []int64, opts persist.BatchOptions) error {
	payload := map[string]any{"mediaIds": mediaIDs}
	return s.writeBatch(ctx, "add_media", opts.BatchMode, opts.Description, taxonIDs, characterIDs, payload, func(tx *sql.Tx, t cellTarget, nowMs int64) error {
		if err := checkMedia(ctx, tx, mediaIDs); err != nil {
			return err
		}
		for _, k := range t.keys() {
			for _, m := range mediaIDs {
				if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO cell_media(taxon_id, character_id, media_id) VALUES(?, ?, ?)`, k.TaxonID, k.CharacterID, m); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *SQLite) RemoveCellMedia(ctx context.Context, taxonIDs, characterIDs []int64, mediaIDs []int64, opts persist.BatchOptions) error {
	payload := map[string]any{"mediaIds": mediaIDs}
	return s.writeBatch(ctx, "remove_media", opts.BatchMode, opts.Description, taxonIDs, characterIDs, payload, func(tx *sql.Tx, t cellTarget, nowMs int64) error {
		for _, k := range t.keys() {
			for _, m := range mediaIDs {
				if _, err := tx.ExecContext(ctx, `DELETE FROM cell_media WHERE taxon_id = ? AND character_id = ? AND media_id = ?`, k.TaxonID, k.CharacterID, m); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func checkMedia(ctx context.Context, tx *sql.Tx, mediaIDs []int64) error {
	if len(mediaIDs) == 0 {
		return errors.New("no media given")
	}
	for _, id := range mediaIDs {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM media WHERE id = ?`, id).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return notFound("media", id)
		}
	}
	return nil
}

// CopyCellScores copies the scores (and optionally the notes) of the given
// characters from one taxon to another. Citations and media stay put.
func (s *SQLite) CopyCellScores(ctx context.Context, sourceTaxonID, destinationTaxonID int64, characterIDs []int64, opts persist.CopyOptions) error {
	if sourceTaxonID == destinationTaxonID {
		return errors.New("source and destination taxon are the same")
	}
	mode := opts.BatchMode
	if mode == model.BatchModeSingle {
		mode = model.BatchModeCopy
	}
	payload := map[string]any{"sourceTaxonId": sourceTaxonID, "copyNotes": opts.CopyNotes}
	return s.writeBatch(ctx, "copy_scores", mode, opts.Description, []int64{destinationTaxonID}, characterIDs, payload, func(tx *sql.Tx, t cellTarget, nowMs int64) error {
		if _, err := readTaxon(ctx, tx, sourceTaxonID); err != nil {
			return err
		}
		for _, c := range t.chars {
			src, err := readCell(ctx, tx, model.CellKey{TaxonID: sourceTaxonID, CharacterID: c.ID})
			if err != nil {
				return err
			}
			dst := model.CellKey{TaxonID: destinationTaxonID, CharacterID: c.ID}
			if err := writeScore(ctx, tx, dst, src.Score, nowMs); err != nil {
				return err
			}
			if err := writeContinuous(ctx, tx, dst, src.Continuous, nowMs); err != nil {
				return err
			}
			if opts.CopyNotes {
				if err := writeNote(ctx, tx, dst, src.Note, nowMs); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
