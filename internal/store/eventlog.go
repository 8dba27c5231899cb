package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"scorematrix-cli/internal/model"
)

type EntityKind string

const (
	EntityKindTaxon     EntityKind = "taxon"
	EntityKindCharacter EntityKind = "character"
	EntityKindCell      EntityKind = "cell"
	EntityKindBatch     EntityKind = "batch"
)

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

// appendEvent records one event inside tx. Events of one entity carry a
// gapless sequence number.
func (s *SQLite) appendEvent(ctx context.Context, tx *sql.Tx, typ string, kind EntityKind, entityID string, payload any) error {
	pb, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var wsID string
	if err := tx.QueryRowContext(ctx, `SELECT v FROM meta WHERE k = 'workspace_id'`).Scan(&wsID); err != nil {
		return err
	}

	var next int64
	err = tx.QueryRowContext(ctx, `SELECT next_seq FROM entity_seq WHERE entity_kind = ? AND entity_id = ?`, string(kind), entityID).Scan(&next)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `UPDATE entity_seq SET next_seq = ? WHERE entity_kind = ? AND entity_id = ?`, next+1, string(kind), entityID); err != nil {
			return err
		}
	case errors.Is(err, sql.ErrNoRows):
		next = 1
		if _, err := tx.ExecContext(ctx, `INSERT INTO entity_seq(entity_kind, entity_id, next_seq) VALUES(?, ?, ?)`, string(kind), entityID, int64(2)); err != nil {
			return err
		}
	default:
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events(event_id, workspace_id, entity_kind, entity_id, entity_seq, type, actor_id, payload_json, issued_at_unixms)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), wsID, string(kind), entityID, next, typ, s.userID, string(pb), s.nowMs())
	return err
}

// ReadEvents returns events oldest first. limit <= 0 returns all of them;
// otherwise the newest limit events are returned.
func (s *SQLite) ReadEvents(ctx context.Context, limit int) ([]model.Event, error) {
	q := `SELECT event_id, issued_at_unixms, actor_id, type, entity_id, payload_json FROM events ORDER BY rowid DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, q+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Event{}
	for rows.Next() {
		var id, actor, typ, eid, payloadJSON string
		var tsMs int64
		if err := rows.Scan(&id, &tsMs, &actor, &typ, &eid, &payloadJSON); err != nil {
			return nil, err
		}
		var payload any
		_ = json.Unmarshal([]byte(payloadJSON), &payload)
		out = append(out, model.Event{
			ID:       id,
			TS:       time.UnixMilli(tsMs).UTC(),
			ActorID:  actor,
			Type:     typ,
			EntityID: eid,
			Payload:  payload,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
