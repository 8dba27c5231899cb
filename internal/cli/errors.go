package cli

import (
	"errors"
	"fmt"
	"strings"

	"scorematrix-cli/internal/mutate"
	"scorematrix-cli/internal/scoring"
	"scorematrix-cli/internal/store"
	"scorematrix-cli/internal/undo"

	"github.com/spf13/cobra"
)

// userMessage phrases errors a user can act on.
func userMessage(err error) string {
	var nf store.NotFoundError
	var unf undo.NotFoundError
	var locked store.LockedError
	var mlocked mutate.LockedError
	var km store.KindMismatchError
	switch {
	case errors.As(err, &nf):
		return fmt.Sprintf("%s %s no longer exists; reload and try again", nf.Kind, nf.ID)
	case errors.As(err, &unf):
		return fmt.Sprintf("undo entry %s no longer exists; run `scorematrix undo list`", unf.ID)
	case errors.Is(err, undo.ErrAlreadyReverted), errors.Is(err, store.ErrAlreadyReverted):
		return "this batch was already reverted"
	case errors.As(err, &locked):
		return fmt.Sprintf("taxon %d is locked by %s", locked.TaxonID, locked.LockedBy)
	case errors.As(err, &mlocked):
		return fmt.Sprintf("permission denied: taxa %s are locked for %s", joinIDs(mlocked.TaxonIDs), mlocked.UserID)
	case errors.As(err, &km):
		return fmt.Sprintf("character %d is %s; use the matching command", km.CharacterID, km.Kind)
	default:
		return err.Error()
	}
}

// notSavedPayload is printed for local rejections: they are reported, not
// treated as command failures.
func notSavedPayload(err error) map[string]any {
	out := map[string]any{"saved": false, "reason": err.Error()}
	var r *scoring.Rejection
	if errors.As(err, &r) {
		out["reason"] = string(r.Reason)
		if r.Detail != "" {
			out["detail"] = r.Detail
		}
	}
	var ve mutate.ValidationError
	if errors.As(err, &ve) {
		out["reason"] = "validation"
		out["detail"] = strings.TrimPrefix(ve.Error(), "not saved: ")
	}
	return out
}

// writeResult prints a not-saved payload for rejections and fails otherwise.
func writeResult(cmd *cobra.Command, app *App, err error) error {
	if mutate.IsNotSaved(err) {
		return writeOut(cmd, app, map[string]any{"data": notSavedPayload(err)})
	}
	return writeErr(cmd, err)
}

func joinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprint(id))
	}
	return strings.Join(parts, ",")
}
