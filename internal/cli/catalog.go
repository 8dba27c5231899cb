package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newCitationsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "citations",
		Aliases: []string{"citation"},
		Short:   "Manage bibliographic references",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <reference>",
		Short: "Add a citation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := strings.TrimSpace(args[0])
			if ref == "" {
				return writeErr(cmd, fmt.Errorf("reference is empty"))
			}
			sq, err := openStore(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer sq.Close()
			c, err := sq.AddCitation(cmd.Context(), ref)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": c})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List citations",
		RunE: func(cmd *cobra.Command, args []string) error {
			sq, db, err := loadDB(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer sq.Close()
			return writeOut(cmd, app, map[string]any{"data": db.Citations})
		},
	})
	return cmd
}

func newMediaCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "media",
		Short: "Manage media items",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <title>",
		Short: "Add a media item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.TrimSpace(args[0])
			if title == "" {
				return writeErr(cmd, fmt.Errorf("title is empty"))
			}
			sq, err := openStore(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer sq.Close()
			m, err := sq.AddMedia(cmd.Context(), title)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": m})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List media items",
		RunE: func(cmd *cobra.Command, args []string) error {
			sq, db, err := loadDB(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer sq.Close()
			return writeOut(cmd, app, map[string]any{"data": db.Media})
		},
	})
	return cmd
}
