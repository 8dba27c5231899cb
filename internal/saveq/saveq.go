// Package saveq serializes writes per matrix cell.
//
// Commits for the same cell run strictly in call order, one at a time.
// Commits for different cells run concurrently. A failed commit rolls back
// its optimistic change but never blocks or poisons later commits on the
// same cell.
package saveq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"scorematrix-cli/internal/logs"
	"scorematrix-cli/internal/metrics"
	"scorematrix-cli/internal/model"
)

// Op is one write against a cell.
type Op struct {
	// Mutate performs the persistence call. Required.
	Mutate func(ctx context.Context) error
	// Apply shows the new value right away. It runs inside Commit, before
	// Commit returns.
	Apply func()
	// Rollback restores what was shown before Apply. It runs only when the
	// commit fails.
	Rollback func()
	// After runs once the commit has finished, whether it failed or not.
	After func()
}

type Serializer struct {
	log *slog.Logger

	mu    sync.Mutex
	tails map[model.CellKey]chan struct{}
	wg    sync.WaitGroup
}

func New(log *slog.Logger) *Serializer {
	return &Serializer{
		log:   logs.OrDefault(log),
		tails: map[model.CellKey]chan struct{}{},
	}
}

// Commit queues op behind every earlier commit for key.
//
// The returned channel receives exactly one value (nil on success) and is
// then closed. If ctx is done by the time the commit reaches the head of its
// chain, it fails with ctx.Err() without calling Mutate. A commit that has
// started is not interrupted by the serializer.
func (s *Serializer) Commit(ctx context.Context, key model.CellKey, op Op) <-chan error {
	res := make(chan error, 1)

	if op.Apply != nil {
		op.Apply()
	}

	s.mu.Lock()
	prev := s.tails[key]
	done := make(chan struct{})
	s.tails[key] = done
	if prev == nil {
		metrics.InflightChains.Inc()
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if prev != nil {
			<-prev
		}

		err := s.run(ctx, key, op)

		s.mu.Lock()
		if s.tails[key] == done {
			delete(s.tails, key)
			metrics.InflightChains.Dec()
		}
		s.mu.Unlock()

		res <- err
		close(res)
		close(done)
	}()
	return res
}

func (s *Serializer) run(ctx context.Context, key model.CellKey, op Op) (err error) {
	if op.After != nil {
		defer op.After()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("commit %s panicked: %v", key, r)
			s.fail(key, op, err)
		}
	}()

	if op.Mutate == nil {
		return fmt.Errorf("commit %s: missing mutation", key)
	}
	if err := ctx.Err(); err != nil {
		s.fail(key, op, err)
		return err
	}

	if err := op.Mutate(ctx); err != nil {
		s.fail(key, op, err)
		return err
	}
	metrics.CellCommits.WithLabelValues(metrics.OutcomeSaved).Inc()
	s.log.Debug("cell commit saved", "cell", key.String())
	return nil
}

func (s *Serializer) fail(key model.CellKey, op Op, err error) {
	metrics.CellCommits.WithLabelValues(metrics.OutcomeFailed).Inc()
	s.log.Warn("cell commit failed; rolling back", "cell", key.String(), "err", err)
	if op.Rollback != nil {
		op.Rollback()
		metrics.CellRollbacks.Inc()
	}
}

// Pending reports whether key has a queued or running commit.
func (s *Serializer) Pending(key model.CellKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tails[key]
	return ok
}

// Wait blocks until every queued commit has finished.
func (s *Serializer) Wait() {
	s.wg.Wait()
}
