package cli

import (
	"strings"

	"scorematrix-cli/internal/model"
	"scorematrix-cli/internal/undo"

	"github.com/spf13/cobra"
)

// undoView adds the derived eligibility flag to an entry.
type undoView struct {
	model.UndoEntry
	Mode     string `json:"mode"`
	Eligible bool   `json:"eligible"`
}

func viewUndo(e model.UndoEntry) undoView {
	return undoView{UndoEntry: e, Mode: e.BatchMode.String(), Eligible: undo.Eligible(e)}
}

func newUndoCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "undo",
		Short: "List and revert batch changes",
	}

	var eligibleOnly bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List batch entries (newest first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			sq, db, err := loadDB(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer sq.Close()
			_, ul := newEngine(app, sq, db)
			entries, err := ul.List(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			out := make([]undoView, 0, len(entries))
			for _, e := range entries {
				if eligibleOnly && !undo.Eligible(e) {
					continue
				}
				out = append(out, viewUndo(e))
			}
			return writeOut(cmd, app, map[string]any{"data": out})
		},
	}
	listCmd.Flags().BoolVar(&eligibleOnly, "eligible", false, "Only entries that can still be reverted")

	revertCmd := &cobra.Command{
		Use:   "revert <entry-id>",
		Short: "Revert one batch entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sq, db, err := loadDB(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer sq.Close()
			_, ul := newEngine(app, sq, db)
			e, err := ul.Revert(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": viewUndo(e)})
		},
	}

	cmd.AddCommand(listCmd, revertCmd)
	return cmd
}
