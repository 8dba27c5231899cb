package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"scorematrix-cli/internal/model"
	"scorematrix-cli/internal/scoring"
)

func (s *SQLite) AddTaxon(ctx context.Context, name string) (model.Taxon, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Taxon{}, errors.New("taxon name is required")
	}
	var out model.Taxon
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		nowMs := s.nowMs()
		res, err := tx.ExecContext(ctx, `INSERT INTO taxa(name, created_at_unixms) VALUES(?, ?)`, name, nowMs)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		out = model.Taxon{ID: id, Name: name, CreatedAt: time.UnixMilli(nowMs).UTC()}
		return s.appendEvent(ctx, tx, "taxon.create", EntityKindTaxon, itoa(id), out)
	})
	return out, err
}

// AddCharacter creates a character. For discrete characters each name in
// stateNames becomes a state numbered from 0.
func (s *SQLite) AddCharacter(ctx context.Context, name string, kind model.CharacterKind, stateNames []string) (model.Character, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Character{}, errors.New("character name is required")
	}
	if kind == "" {
		kind = model.CharacterDiscrete
	}
	if kind != model.CharacterDiscrete && kind != model.CharacterContinuous {
		return model.Character{}, errors.New("invalid character kind: " + string(kind))
	}
	if kind == model.CharacterContinuous && len(stateNames) > 0 {
		return model.Character{}, errors.New("continuous characters have no states")
	}

	var out model.Character
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		nowMs := s.nowMs()
		res, err := tx.ExecContext(ctx, `INSERT INTO characters(name, kind, created_at_unixms) VALUES(?, ?, ?)`, name, string(kind), nowMs)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		out = model.Character{ID: id, Name: name, Kind: kind, CreatedAt: time.UnixMilli(nowMs).UTC()}
		for i, sn := range stateNames {
			sn = strings.TrimSpace(sn)
			if sn == "" {
				return errors.New("state names cannot be empty")
			}
			res, err := tx.ExecContext(ctx, `INSERT INTO character_states(character_id, num, name) VALUES(?, ?, ?)`, id, i, sn)
			if err != nil {
				return err
			}
			sid, err := res.LastInsertId()
			if err != nil {
				return err
			}
			out.States = append(out.States, model.CharacterState{ID: scoring.StateID(sid), Num: i, Name: sn})
		}
		return s.appendEvent(ctx, tx, "character.create", EntityKindCharacter, itoa(id), out)
	})
	return out, err
}

func (s *SQLite) AddCitation(ctx context.Context, reference string) (model.Citation, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return model.Citation{}, errors.New("citation reference is required")
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO citations(reference) VALUES(?)`, reference)
	if err != nil {
		return model.Citation{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Citation{}, err
	}
	return model.Citation{ID: id, Reference: reference}, nil
}

func (s *SQLite) AddMedia(ctx context.Context, title string) (model.Media, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Media{}, errors.New("media title is required")
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO media(title) VALUES(?)`, title)
	if err != nil {
		return model.Media{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Media{}, err
	}
	return model.Media{ID: id, Title: title}, nil
}

// SetTaxonLock locks the row for the current user, or clears the lock.
// Only the holder may clear it.
func (s *SQLite) SetTaxonLock(ctx context.Context, taxonID int64, locked bool) (model.Taxon, error) {
	var out model.Taxon
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := readTaxon(ctx, tx, taxonID)
		if err != nil {
			return err
		}
		if t.LockedAgainst(s.userID, s.now(), s.lockTTL) {
			return LockedError{TaxonID: taxonID, LockedBy: *t.LockedBy}
		}
		if locked {
			if s.userID == "" {
				return errors.New("locking requires a user id")
			}
			nowMs := s.nowMs()
			if _, err := tx.ExecContext(ctx, `UPDATE taxa SET locked_by = ?, locked_at_unixms = ? WHERE id = ?`, s.userID, nowMs, taxonID); err != nil {
				return err
			}
			u := s.userID
			at := time.UnixMilli(nowMs).UTC()
			t.LockedBy = &u
			t.LockedAt = &at
		} else {
			if _, err := tx.ExecContext(ctx, `UPDATE taxa SET locked_by = NULL, locked_at_unixms = NULL WHERE id = ?`, taxonID); err != nil {
				return err
			}
			t.LockedBy = nil
			t.LockedAt = nil
		}
		out = t
		typ := "taxon.unlock"
		if locked {
			typ = "taxon.lock"
		}
		return s.appendEvent(ctx, tx, typ, EntityKindTaxon, itoa(taxonID), map[string]any{"lockedBy": t.LockedBy})
	})
	return out, err
}

// LockedError reports a row held by another user.
type LockedError struct {
	TaxonID  int64
	LockedBy string
}

func (e LockedError) Error() string {
	return "taxon " + itoa(e.TaxonID) + " is locked by " + e.LockedBy
}

func readTaxon(ctx context.Context, q querier, id int64) (model.Taxon, error) {
	var t model.Taxon
	var lockedBy sql.NullString
	var lockedMs sql.NullInt64
	var createdMs int64
	err := q.QueryRowContext(ctx, `SELECT id, name, locked_by, locked_at_unixms, created_at_unixms FROM taxa WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &lockedBy, &lockedMs, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Taxon{}, notFound("taxon", id)
	}
	if err != nil {
		return model.Taxon{}, err
	}
	if lockedBy.Valid && strings.TrimSpace(lockedBy.String) != "" {
		v := lockedBy.String
		t.LockedBy = &v
		if lockedMs.Valid {
			at := time.UnixMilli(lockedMs.Int64).UTC()
			t.LockedAt = &at
		}
	}
	t.CreatedAt = time.UnixMilli(createdMs).UTC()
	return t, nil
}

func readCharacter(ctx context.Context, q querier, id int64) (model.Character, error) {
	var c model.Character
	var kind string
	var createdMs int64
	err := q.QueryRowContext(ctx, `SELECT id, name, kind, created_at_unixms FROM characters WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &kind, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Character{}, notFound("character", id)
	}
	if err != nil {
		return model.Character{}, err
	}
	c.Kind = model.CharacterKind(kind)
	c.CreatedAt = time.UnixMilli(createdMs).UTC()

	rows, err := q.QueryContext(ctx, `SELECT id, num, name FROM character_states WHERE character_id = ? ORDER BY num`, id)
	if err != nil {
		return model.Character{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var st model.CharacterState
		var sid int64
		if err := rows.Scan(&sid, &st.Num, &st.Name); err != nil {
			return model.Character{}, err
		}
		st.ID = scoring.StateID(sid)
		c.States = append(c.States, st)
	}
	return c, rows.Err()
}

// Load reads a full snapshot of the matrix.
func (s *SQLite) Load(ctx context.Context) (*DB, error) {
	out := &DB{
		Taxa:       []model.Taxon{},
		Characters: []model.Character{},
		Citations:  []model.Citation{},
		Media:      []model.Media{},
		Cells:      []model.Cell{},
	}

	taxonIDs, err := queryIDs(ctx, s.db, `SELECT id FROM taxa ORDER BY id`)
	if err != nil {
		return nil, err
	}
	for _, id := range taxonIDs {
		t, err := readTaxon(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		out.Taxa = append(out.Taxa, t)
	}

	charIDs, err := queryIDs(ctx, s.db, `SELECT id FROM characters ORDER BY id`)
	if err != nil {
		return nil, err
	}
	for _, id := range charIDs {
		c, err := readCharacter(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		out.Characters = append(out.Characters, c)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, reference FROM citations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var c model.Citation
		if err := rows.Scan(&c.ID, &c.Reference); err != nil {
			_ = rows.Close()
			return nil, err
		}
		out.Citations = append(out.Citations, c)
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT id, title FROM media ORDER BY id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var m model.Media
		if err := rows.Scan(&m.ID, &m.Title); err != nil {
			_ = rows.Close()
			return nil, err
		}
		out.Media = append(out.Media, m)
	}
	_ = rows.Close()

	keys, err := storedCellKeys(ctx, s.db)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		c, err := readCell(ctx, s.db, k)
		if err != nil {
			return nil, err
		}
		out.Cells = append(out.Cells, c)
	}
	return out, nil
}

func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
