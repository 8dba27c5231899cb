// Package editor is the single-cell scoring pane: it owns the displayed
// score of one cell, applies edits optimistically and commits them through
// the per-cell save queue.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"scorematrix-cli/internal/logs"
	"scorematrix-cli/internal/metrics"
	"scorematrix-cli/internal/model"
	"scorematrix-cli/internal/mutate"
	"scorematrix-cli/internal/persist"
	"scorematrix-cli/internal/saveq"
	"scorematrix-cli/internal/scoring"
	"scorematrix-cli/internal/session"
)

var ErrNoCitation = errors.New("no citation given and none used before in this session")

type Options struct {
	Cell      model.Cell
	Character model.Character
	API       persist.API
	Queue     *saveq.Serializer
	// Access is the row edit flag; nil allows every edit.
	Access  mutate.Access
	Session *session.Session
	UserID  string
	Logger  *slog.Logger
}

// Pane edits one cell. It is safe for concurrent use; edits are committed in
// call order.
type Pane struct {
	key       model.CellKey
	character model.Character
	api       persist.API
	queue     *saveq.Serializer
	access    mutate.Access
	session   *session.Session
	userID    string
	log       *slog.Logger

	mu               sync.Mutex
	score            scoring.CellScore
	note             *model.CellNote
	continuous       *model.ContinuousValue
	uncertainEnabled bool

	// saved is the last score the store accepted; pending are the score
	// edits queued on top of it, in commit order.
	saved   scoring.CellScore
	pending []*scoreEdit
}

func NewPane(opts Options) (*Pane, error) {
	if opts.API == nil {
		return nil, errors.New("pane needs a persistence api")
	}
	if opts.Cell.Key.CharacterID != opts.Character.ID {
		return nil, fmt.Errorf("cell %s does not belong to character %d", opts.Cell.Key, opts.Character.ID)
	}
	q := opts.Queue
	if q == nil {
		q = saveq.New(opts.Logger)
	}
	sess := opts.Session
	if sess == nil {
		sess = session.New()
	}
	score := scoring.EnsureNonEmpty(opts.Cell.Score.Clone())
	return &Pane{
		key:              opts.Cell.Key,
		character:        opts.Character,
		api:              opts.API,
		queue:            q,
		access:           opts.Access,
		session:          sess,
		userID:           opts.UserID,
		log:              logs.OrDefault(opts.Logger).With("cell", opts.Cell.Key.String()),
		score:            score,
		saved:            score.Clone(),
		note:             opts.Cell.Note,
		continuous:       opts.Cell.Continuous,
		uncertainEnabled: score.IsPolymorphic(),
	}, nil
}

func (p *Pane) Key() model.CellKey { return p.key }

// Score is the currently displayed score, including edits still in flight.
func (p *Pane) Score() scoring.CellScore {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.score.Clone()
}

// UncertainEnabled tells whether the uncertain control may be used.
func (p *Pane) UncertainEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uncertainEnabled
}

func (p *Pane) Note() *model.CellNote {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.note == nil {
		return nil
	}
	n := *p.note
	return &n
}

func (p *Pane) Continuous() *model.ContinuousValue {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.continuous == nil {
		return nil
	}
	c := *p.continuous
	return &c
}

func (p *Pane) Session() *session.Session { return p.session }

// Wait blocks until every commit of this pane's queue has finished.
func (p *Pane) Wait() { p.queue.Wait() }

func (p *Pane) checkAccess() error {
	if p.access != nil && !p.access.CanEditTaxon(p.key.TaxonID) {
		return mutate.LockedError{UserID: p.userID, TaxonIDs: []int64{p.key.TaxonID}}
	}
	return nil
}

// notSaved logs and counts a local rejection.
func (p *Pane) notSaved(err error) error {
	metrics.CellCommits.WithLabelValues(metrics.OutcomeNotSaved).Inc()
	p.log.Info("not saved", "saved", false, "reason", err.Error())
	return err
}

// Toggle (de)selects id. A rejected edit returns an error right away and
// nothing is committed. Otherwise the new score is shown immediately and the
// returned channel reports the commit result. On failure only this toggle is
// taken back; toggles queued behind it still commit.
func (p *Pane) Toggle(ctx context.Context, id scoring.StateID, enable bool) (<-chan error, error) {
	if err := p.checkAccess(); err != nil {
		return nil, err
	}
	if p.character.Kind == model.CharacterContinuous {
		return nil, p.notSaved(&scoring.Rejection{Reason: scoring.ReasonContinuousCharType, Detail: "continuous character"})
	}
	if !p.character.HasState(id) {
		return nil, p.notSaved(&scoring.Rejection{
			Reason: scoring.ReasonStateNotCharacter,
			Detail: fmt.Sprintf("state %s not in character %d", id.Label(), p.character.ID),
		})
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	edit := &scoreEdit{apply: func(s scoring.CellScore) (scoring.CellScore, error) {
		next, err := scoring.Toggle(s, id, enable)
		if err != nil {
			return s, err
		}
		return scoring.EnsureNonEmpty(next), nil
	}}
	prev := p.score.Clone()
	next, err := edit.apply(prev)
	if err != nil {
		return nil, p.notSaved(err)
	}
	collapse := scoring.IsSentinel(id) || prev.IsSingleSentinel()
	p.log.Debug("toggle", "state", id.Label(), "enable", enable, "from", prev.String(), "to", next.String())
	return p.commitScore(ctx, edit, next, collapse), nil
}

// SetUncertain flags or clears uncertainty on a polymorphic score.
func (p *Pane) SetUncertain(ctx context.Context, uncertain bool) (<-chan error, error) {
	if err := p.checkAccess(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	edit := &scoreEdit{apply: func(s scoring.CellScore) (scoring.CellScore, error) {
		return scoring.SetUncertain(s, uncertain)
	}}
	next, err := edit.apply(p.score.Clone())
	if err != nil {
		return nil, p.notSaved(err)
	}
	return p.commitScore(ctx, edit, next, false), nil
}

// scoreEdit is one queued score change. It is replayed over the saved score
// so the payload of a commit never carries an edit that failed before it.
type scoreEdit struct {
	apply func(scoring.CellScore) (scoring.CellScore, error)
}

// commitScore queues edit and shows next right away. Callers hold p.mu;
// Apply runs synchronously inside Commit.
func (p *Pane) commitScore(ctx context.Context, edit *scoreEdit, next scoring.CellScore, collapse bool) <-chan error {
	op := saveq.Op{
		Mutate: func(ctx context.Context) error {
			p.mu.Lock()
			payload, err := edit.apply(p.saved.Clone())
			p.mu.Unlock()
			if err != nil {
				return err
			}
			if err := p.api.SetCellStates(ctx, []int64{p.key.TaxonID}, []int64{p.key.CharacterID}, payload.States, persist.SetStatesOptions{Uncertain: payload.Uncertain}); err != nil {
				return err
			}
			p.mu.Lock()
			p.saved = payload
			p.dropEdit(edit)
			p.mu.Unlock()
			return nil
		},
		Apply: func() {
			p.pending = append(p.pending, edit)
			p.score = next
			if !collapse {
				p.uncertainEnabled = next.IsPolymorphic()
			}
		},
		Rollback: func() {
			p.mu.Lock()
			p.dropEdit(edit)
			p.score = p.replayPending()
			p.uncertainEnabled = p.score.IsPolymorphic()
			p.mu.Unlock()
		},
	}
	if collapse {
		op.After = p.refreshUncertain
	}
	return p.queue.Commit(ctx, p.key, op)
}

// replayPending is the saved score with every pending edit applied. An edit
// that no longer applies is skipped; its own commit will fail. Callers hold
// p.mu.
func (p *Pane) replayPending() scoring.CellScore {
	s := p.saved.Clone()
	for _, e := range p.pending {
		if next, err := e.apply(s); err == nil {
			s = next
		}
	}
	return s
}

func (p *Pane) dropEdit(edit *scoreEdit) {
	for i, e := range p.pending {
		if e == edit {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return
		}
	}
}

// SetNotes updates the note text and/or the cell info status.
func (p *Pane) SetNotes(ctx context.Context, notes *string, status *model.CellInfoStatus) (<-chan error, error) {
	if err := p.checkAccess(); err != nil {
		return nil, err
	}
	if notes == nil && status == nil {
		return nil, p.notSaved(mutate.ValidationError{Field: "notes", Reason: "notes or status required"})
	}
	if status != nil && !status.Valid() {
		return nil, p.notSaved(mutate.ValidationError{Field: "status", Reason: fmt.Sprintf("invalid status %d", int(*status))})
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.note
	next := model.CellNote{}
	if prev != nil {
		next = *prev
	}
	if notes != nil {
		next.Notes = *notes
	}
	if status != nil {
		next.Status = *status
	}
	return p.queue.Commit(ctx, p.key, saveq.Op{
		Mutate: func(ctx context.Context) error {
			return p.api.SetCellNotes(ctx, []int64{p.key.TaxonID}, []int64{p.key.CharacterID}, notes, status, persist.BatchOptions{})
		},
		Apply: func() { p.note = &next },
		Rollback: func() {
			p.mu.Lock()
			p.note = prev
			p.mu.Unlock()
		},
	}), nil
}

// SetContinuous sets the value range of a continuous character cell.
func (p *Pane) SetContinuous(ctx context.Context, start, end *float64) (<-chan error, error) {
	if err := p.checkAccess(); err != nil {
		return nil, err
	}
	if p.character.Kind != model.CharacterContinuous {
		return nil, p.notSaved(&scoring.Rejection{Reason: scoring.ReasonContinuousCharType, Detail: "discrete character"})
	}
	if err := scoring.ContinuousRange(start, end); err != nil {
		return nil, p.notSaved(err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.continuous
	next := &model.ContinuousValue{Start: start, End: end}
	return p.queue.Commit(ctx, p.key, saveq.Op{
		Mutate: func(ctx context.Context) error {
			return p.api.SetContinuousValues(ctx, []int64{p.key.TaxonID}, []int64{p.key.CharacterID}, start, end, persist.BatchOptions{})
		},
		Apply: func() { p.continuous = next },
		Rollback: func() {
			p.mu.Lock()
			p.continuous = prev
			p.mu.Unlock()
		},
	}), nil
}

// Cite attaches a citation. A zero citationID reuses the last citation of
// the session.
func (p *Pane) Cite(ctx context.Context, citationID int64, pages, notes string) (<-chan error, error) {
	if err := p.checkAccess(); err != nil {
		return nil, err
	}
	if citationID <= 0 {
		last, ok := p.session.LastCitation()
		if !ok {
			return nil, ErrNoCitation
		}
		citationID = last.CitationID
		if pages == "" {
			pages = last.Pages
		}
	}
	return p.queue.Commit(ctx, p.key, saveq.Op{
		Mutate: func(ctx context.Context) error {
			if err := p.api.AddCellCitations(ctx, []int64{p.key.TaxonID}, []int64{p.key.CharacterID}, citationID, pages, notes, persist.BatchOptions{}); err != nil {
				return err
			}
			p.session.SetLastCitation(session.LastCitation{CitationID: citationID, Pages: pages, Notes: notes})
			return nil
		},
	}), nil
}

// refreshUncertain re-derives whether uncertainty can be offered after a
// change that may have altered polymorphism.
func (p *Pane) refreshUncertain() {
	p.mu.Lock()
	p.uncertainEnabled = p.score.IsPolymorphic()
	p.mu.Unlock()
}
