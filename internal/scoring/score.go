package scoring

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// CellScore is the set of states selected for one cell.
//
// States is kept sorted (see Less) and free of duplicates. The zero value is
// an empty, not yet completed edit; EnsureNonEmpty turns it into {?}.
type CellScore struct {
	States    []StateID `json:"stateIds"`
	Uncertain bool      `json:"uncertain"`
}

// NewScore builds a normalized score from ids.
func NewScore(uncertain bool, ids ...StateID) CellScore {
	return CellScore{States: SortStates(ids), Uncertain: uncertain}
}

// UnscoredScore is the fallback value of every cell.
func UnscoredScore() CellScore {
	return CellScore{States: []StateID{Unscored}}
}

func (s CellScore) Contains(id StateID) bool {
	for _, x := range s.States {
		if x == id {
			return true
		}
	}
	return false
}

// IsSingleSentinel reports whether the score is exactly one sentinel.
func (s CellScore) IsSingleSentinel() bool {
	return len(s.States) == 1 && IsSentinel(s.States[0])
}

// IsPolymorphic reports whether the score holds two or more concrete states.
func (s CellScore) IsPolymorphic() bool {
	if len(s.States) < 2 {
		return false
	}
	for _, id := range s.States {
		if IsSentinel(id) {
			return false
		}
	}
	return true
}

func (s CellScore) Equal(o CellScore) bool {
	if s.Uncertain != o.Uncertain || len(s.States) != len(o.States) {
		return false
	}
	for i := range s.States {
		if s.States[i] != o.States[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no memory with s.
func (s CellScore) Clone() CellScore {
	out := CellScore{Uncertain: s.Uncertain}
	if s.States != nil {
		out.States = append([]StateID(nil), s.States...)
	}
	return out
}

// String renders the score for display: "?" for a sentinel, "{5,7}" for a
// polymorphic cell and "{5/7}" when it is uncertain.
func (s CellScore) String() string {
	return s.render(StateID.Label, ",", "/")
}

// ExportString renders the score for interchange formats: NPA becomes "?",
// polymorphism is written "(5 7)" and uncertainty "{5 7}".
func (s CellScore) ExportString() string {
	switch len(s.States) {
	case 0:
		return "?"
	case 1:
		return s.States[0].ExportLabel()
	}
	labels := make([]string, 0, len(s.States))
	for _, id := range s.States {
		labels = append(labels, id.ExportLabel())
	}
	if s.Uncertain {
		return "{" + strings.Join(labels, " ") + "}"
	}
	return "(" + strings.Join(labels, " ") + ")"
}

func (s CellScore) render(label func(StateID) string, polySep, uncertainSep string) string {
	switch len(s.States) {
	case 0:
		return "{}"
	case 1:
		return label(s.States[0])
	}
	labels := make([]string, 0, len(s.States))
	for _, id := range s.States {
		labels = append(labels, label(id))
	}
	sep := polySep
	if s.Uncertain {
		sep = uncertainSep
	}
	return "{" + strings.Join(labels, sep) + "}"
}

// RejectReason explains why an edit was not saved.
type RejectReason string

const (
	ReasonUncertainSingle    RejectReason = "uncertain_single_state"
	ReasonUncertainSentinel  RejectReason = "uncertain_sentinel"
	ReasonSentinelNotAlone   RejectReason = "sentinel_not_exclusive"
	ReasonEmpty              RejectReason = "empty"
	ReasonInvalidState       RejectReason = "invalid_state"
	ReasonStateNotCharacter  RejectReason = "state_not_in_character"
	ReasonContinuousRange    RejectReason = "continuous_range"
	ReasonContinuousCharType RejectReason = "character_kind"
)

// Rejection is a local validation outcome: the edit is reported as "not
// saved" and never reaches the persistence layer. It is not an I/O failure.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return "not saved: " + string(r.Reason)
	}
	return fmt.Sprintf("not saved: %s (%s)", r.Reason, r.Detail)
}

// IsRejection reports whether err is (or wraps) a Rejection.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

func reject(reason RejectReason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Toggle computes the score that results from (de)selecting id on cur.
//
// Selecting a sentinel, or editing a cell that currently holds a single
// sentinel, always collapses the cell to {id} regardless of enable. Otherwise
// id is added or removed. The result may be empty; callers finish the edit
// with EnsureNonEmpty.
//
// A requested uncertainty is kept, except that reducing an uncertain cell to a
// single concrete state is rejected rather than silently dropping the flag.
func Toggle(cur CellScore, id StateID, enable bool) (CellScore, error) {
	if !id.Valid() {
		return cur, reject(ReasonInvalidState, "state %d", int64(id))
	}

	nextIsSentinel := IsSentinel(id)
	currentIsSingleSentinel := cur.IsSingleSentinel()

	if nextIsSentinel || currentIsSingleSentinel {
		next := CellScore{States: []StateID{id}, Uncertain: cur.Uncertain}
		if nextIsSentinel {
			// Uncertainty has no meaning on a sentinel.
			next.Uncertain = false
		} else if next.Uncertain {
			return cur, reject(ReasonUncertainSingle, "state %s", id.Label())
		}
		return next, nil
	}

	states := make([]StateID, 0, len(cur.States)+1)
	for _, x := range cur.States {
		if x != id {
			states = append(states, x)
		}
	}
	if enable {
		states = append(states, id)
	}
	next := CellScore{States: SortStates(states), Uncertain: cur.Uncertain}

	if next.Uncertain && len(next.States) == 1 {
		return cur, reject(ReasonUncertainSingle, "state %s", next.States[0].Label())
	}
	if next.Uncertain && len(next.States) == 0 {
		next.Uncertain = false
	}
	return next, nil
}

// EnsureNonEmpty returns {?} when s has no states and s otherwise.
func EnsureNonEmpty(s CellScore) CellScore {
	if len(s.States) == 0 {
		return UnscoredScore()
	}
	return s
}

// SetUncertain flags or clears uncertainty. Only polymorphic scores may be
// uncertain.
func SetUncertain(cur CellScore, uncertain bool) (CellScore, error) {
	if !uncertain {
		next := cur.Clone()
		next.Uncertain = false
		return next, nil
	}
	if !cur.IsPolymorphic() {
		if cur.IsSingleSentinel() {
			return cur, reject(ReasonUncertainSentinel, "cell is %s", cur.States[0].Label())
		}
		return cur, reject(ReasonUncertainSingle, "cell is %s", cur.String())
	}
	next := cur.Clone()
	next.Uncertain = true
	return next, nil
}

// Validate checks every invariant of a completed edit.
func Validate(s CellScore) error {
	if len(s.States) == 0 {
		return reject(ReasonEmpty, "no states selected")
	}
	for _, id := range s.States {
		if !id.Valid() {
			return reject(ReasonInvalidState, "state %d", int64(id))
		}
		if IsSentinel(id) && len(s.States) != 1 {
			return reject(ReasonSentinelNotAlone, "%s cannot be combined with other states", id.Label())
		}
	}
	if s.Uncertain && !s.IsPolymorphic() {
		return reject(ReasonUncertainSingle, "uncertain requires two or more states")
	}
	return nil
}

// ContinuousRange validates a start/end pair of a continuous character.
func ContinuousRange(start, end *float64) error {
	if start == nil && end != nil {
		return reject(ReasonContinuousRange, "end given without start")
	}
	for _, v := range []*float64{start, end} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return reject(ReasonContinuousRange, "value %g is not a finite number", *v)
		}
	}
	if start != nil && end != nil && *end < *start {
		return reject(ReasonContinuousRange, "end %g is less than start %g", *end, *start)
	}
	return nil
}
