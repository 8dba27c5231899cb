package mutate

import (
	"errors"
	"fmt"
	"strings"
)

var ErrEmptySelection = errors.New("empty selection")

// ValidationError reports a batch that was rejected before any write. It is
// a "not saved" outcome, not a failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "not saved: " + e.Reason
	}
	return fmt.Sprintf("not saved: %s: %s", e.Field, e.Reason)
}

// LockedError reports taxa the user may not edit.
type LockedError struct {
	UserID   string
	TaxonIDs []int64
}

func (e LockedError) Error() string {
	ids := make([]string, 0, len(e.TaxonIDs))
	for _, id := range e.TaxonIDs {
		ids = append(ids, fmt.Sprint(id))
	}
	return "taxa locked for " + e.UserID + ": " + strings.Join(ids, ",")
}
