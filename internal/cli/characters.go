package cli

import (
	"fmt"
	"strings"

	"scorematrix-cli/internal/model"

	"github.com/spf13/cobra"
)

func newCharactersCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "characters",
		Aliases: []string{"character", "chars"},
		Short:   "Manage matrix columns (characters)",
	}
	cmd.AddCommand(newCharactersAddCmd(app))
	cmd.AddCommand(newCharactersListCmd(app))
	return cmd
}

func newCharactersAddCmd(app *App) *cobra.Command {
	var states []string
	var continuous bool

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a character",
		Long:  "Add a discrete character with its states (in order), or a continuous character with --continuous.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return writeErr(cmd, fmt.Errorf("character name is empty"))
			}
			kind := model.CharacterDiscrete
			if continuous {
				if len(states) > 0 {
					return writeErr(cmd, fmt.Errorf("continuous characters have no states"))
				}
				kind = model.CharacterContinuous
			} else if len(states) == 0 {
				return writeErr(cmd, fmt.Errorf("missing --state (repeatable)"))
			}
			sq, err := openStore(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer sq.Close()
			c, err := sq.AddCharacter(cmd.Context(), name, kind, states)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": c})
		},
	}
	cmd.Flags().StringArrayVar(&states, "state", nil, "State name (repeatable, in order)")
	cmd.Flags().BoolVar(&continuous, "continuous", false, "Create a continuous (value range) character")
	return cmd
}

func newCharactersListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List characters with their states",
		RunE: func(cmd *cobra.Command, args []string) error {
			sq, db, err := loadDB(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer sq.Close()
			return writeOut(cmd, app, map[string]any{"data": db.Characters})
		},
	}
}
