package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newTaxaCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "taxa",
		Aliases: []string{"taxon"},
		Short:   "Manage matrix rows (taxa)",
	}
	cmd.AddCommand(newTaxaAddCmd(app))
	cmd.AddCommand(newTaxaListCmd(app))
	cmd.AddCommand(newTaxaLockCmd(app, true))
	cmd.AddCommand(newTaxaLockCmd(app, false))
	return cmd
}

func newTaxaAddCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Add a taxon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return writeErr(cmd, fmt.Errorf("taxon name is empty"))
			}
			sq, err := openStore(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer sq.Close()
			t, err := sq.AddTaxon(cmd.Context(), name)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": t})
		},
	}
}

func newTaxaListCmd(app *App) *cobra.Command {
	var lockedOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List taxa",
		RunE: func(cmd *cobra.Command, args []string) error {
			sq, db, err := loadDB(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer sq.Close()
			out := db.Taxa
			if lockedOnly {
				out = db.LockedTaxa(app.UserID)
			}
			return writeOut(cmd, app, map[string]any{"data": out})
		},
	}
	cmd.Flags().BoolVar(&lockedOnly, "locked", false, "Only taxa locked against the current user")
	return cmd
}

func newTaxaLockCmd(app *App, lock bool) *cobra.Command {
	use, short := "lock <taxon-id>", "Hold a taxon row for editing"
	if !lock {
		use, short = "unlock <taxon-id>", "Release a held taxon row"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("taxon", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			sq, err := openStore(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer sq.Close()
			t, err := sq.SetTaxonLock(cmd.Context(), id, lock)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": t})
		},
	}
}

func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id: %q", kind, s)
	}
	return id, nil
}

// parseIDs reads a comma-separated id list; repeated ids are kept.
func parseIDs(kind, csv string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(csv, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := parseID(kind, part)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("missing %s ids", kind)
	}
	return out, nil
}
