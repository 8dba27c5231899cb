// Package undo lists and reverts committed batch mutations.
package undo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"scorematrix-cli/internal/logs"
	"scorematrix-cli/internal/metrics"
	"scorematrix-cli/internal/model"
	"scorematrix-cli/internal/persist"
)

var ErrAlreadyReverted = errors.New("batch already reverted")

type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("undo entry not found: %s", e.ID)
}

// Log caches the undo list until Invalidate is called. It is safe for
// concurrent use and satisfies mutate.Invalidator.
type Log struct {
	api persist.API
	log *slog.Logger

	mu      sync.Mutex
	entries []model.UndoEntry
	loaded  bool
}

func New(api persist.API, log *slog.Logger) *Log {
	return &Log{api: api, log: logs.OrDefault(log)}
}

// Eligible reports whether e can still be reverted.
func Eligible(e model.UndoEntry) bool {
	return !e.Reverted
}

// List returns entries newest first.
func (l *Log) List(ctx context.Context) ([]model.UndoEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loadLocked(ctx, false); err != nil {
		return nil, err
	}
	out := make([]model.UndoEntry, len(l.entries))
	copy(out, l.entries)
	return out, nil
}

func (l *Log) Invalidate() {
	l.mu.Lock()
	l.loaded = false
	l.entries = nil
	l.mu.Unlock()
}

func (l *Log) loadLocked(ctx context.Context, force bool) error {
	if l.loaded && !force {
		return nil
	}
	entries, err := l.api.GetCellBatchLogs(ctx)
	if err != nil {
		return fmt.Errorf("load undo log: %w", err)
	}
	sortNewestFirst(entries)
	l.entries = entries
	l.loaded = true
	return nil
}

func sortNewestFirst(entries []model.UndoEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].ID > entries[j].ID
	})
}

// find returns the index of id, reloading once when it is not cached.
func (l *Log) find(ctx context.Context, id string) (int, error) {
	if err := l.loadLocked(ctx, false); err != nil {
		return -1, err
	}
	for pass := 0; pass < 2; pass++ {
		for i := range l.entries {
			if l.entries[i].ID == id {
				return i, nil
			}
		}
		if pass == 0 {
			if err := l.loadLocked(ctx, true); err != nil {
				return -1, err
			}
		}
	}
	return -1, NotFoundError{ID: id}
}

// Revert undoes the whole batch id. Already reverted or unknown entries are
// refused without calling the persistence layer. Only the reverted entry
// changes.
func (l *Log) Revert(ctx context.Context, id string) (model.UndoEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, err := l.find(ctx, id)
	if err != nil {
		metrics.UndoReverts.WithLabelValues(metrics.OutcomeNotSaved).Inc()
		return model.UndoEntry{}, err
	}
	if !Eligible(l.entries[i]) {
		metrics.UndoReverts.WithLabelValues(metrics.OutcomeNotSaved).Inc()
		return l.entries[i], ErrAlreadyReverted
	}
	if err := l.api.UndoCellBatch(ctx, id); err != nil {
		metrics.UndoReverts.WithLabelValues(metrics.OutcomeFailed).Inc()
		l.log.Warn("undo failed", "entry", id, "err", err)
		// The server view may have moved on; reload next time.
		l.loaded = false
		return l.entries[i], fmt.Errorf("revert %s: %w", id, err)
	}
	l.entries[i].Reverted = true
	metrics.UndoReverts.WithLabelValues(metrics.OutcomeSaved).Inc()
	l.log.Info("batch reverted", "entry", id, "description", l.entries[i].Description)
	return l.entries[i], nil
}
