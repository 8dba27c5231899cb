package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"scorematrix-cli/internal/config"
	"scorematrix-cli/internal/format"
	"scorematrix-cli/internal/logs"
	"scorematrix-cli/internal/mutate"
	"scorematrix-cli/internal/perm"
	"scorematrix-cli/internal/session"
	"scorematrix-cli/internal/store"
	"scorematrix-cli/internal/undo"

	"github.com/spf13/cobra"
)

type App struct {
	Dir        string
	UserID     string
	PrettyJSON bool
	Format     string
	LogLevel   string

	log      *slog.Logger
	closeLog func() error
}

func NewRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:          "scorematrix",
		Short:        "Score a character x taxon matrix from the command line",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Create a matrix in ./.scorematrix
  scorematrix init
  scorematrix taxa add "Homo sapiens"
  scorematrix characters add "femur length" --state short --state long

  # Toggle a state on one cell (taxon 1, character 1, state id 2)
  scorematrix cells toggle 1 1 2

  # Score one row in a single undoable batch
  scorematrix batch row-scores --taxon 12 --characters 3,4,5 --states "2,?,-"

  # Revert it
  scorematrix undo list
  scorematrix undo revert <entry-id>
`),
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return writeErr(cmd, err)
		}
		flags := cmd.Flags()
		if !flags.Changed("dir") && app.Dir == "" {
			app.Dir = cfg.Store.Dir
		}
		if !flags.Changed("user") && app.UserID == "" {
			app.UserID = cfg.User.ID
		}
		if strings.TrimSpace(app.UserID) == "" {
			app.UserID = "local"
		}
		if !flags.Changed("format") && app.Format == "" {
			app.Format = cfg.Output.Format
		}
		if !flags.Changed("pretty") && cfg.Output.Pretty {
			app.PrettyJSON = true
		}
		if !flags.Changed("log-level") && app.LogLevel == "" {
			app.LogLevel = cfg.Log.Level
		}
		log, closeFn, err := logs.New(logs.Options{Level: app.LogLevel, Stderr: cmd.ErrOrStderr(), File: cfg.Log.File})
		if err != nil {
			return writeErr(cmd, err)
		}
		app.log = log
		app.closeLog = closeFn
		return nil
	}

	cmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if app.closeLog != nil {
			return app.closeLog()
		}
		return nil
	}

	cmd.PersistentFlags().StringVar(&app.Dir, "dir", envOr("SCOREMATRIX_DIR", ""), "Path to store dir (default: nearest .scorematrix upwards, else ./.scorematrix)")
	cmd.PersistentFlags().StringVar(&app.UserID, "user", "", "User id writes and locks are attributed to (default: config user.id, else $USER)")
	cmd.PersistentFlags().BoolVar(&app.PrettyJSON, "pretty", false, "Pretty-print JSON output")
	cmd.PersistentFlags().StringVar(&app.Format, "format", "", "Output format (json|yaml)")
	cmd.PersistentFlags().StringVar(&app.LogLevel, "log-level", "", "Log level on stderr (debug|info|warn|error)")

	cmd.AddCommand(newInitCmd(app))
	cmd.AddCommand(newTaxaCmd(app))
	cmd.AddCommand(newCharactersCmd(app))
	cmd.AddCommand(newCitationsCmd(app))
	cmd.AddCommand(newMediaCmd(app))
	cmd.AddCommand(newCellsCmd(app))
	cmd.AddCommand(newBatchCmd(app))
	cmd.AddCommand(newUndoCmd(app))
	cmd.AddCommand(newEventsCmd(app))
	cmd.AddCommand(newExportCmd(app))
	cmd.AddCommand(newConfigCmd(app))
	cmd.AddCommand(newDocsCmd(app))

	return cmd
}

func (app *App) logger() *slog.Logger {
	return logs.OrDefault(app.log)
}

func (app *App) store() (store.Store, error) {
	dir := strings.TrimSpace(app.Dir)
	if dir == "" {
		d, err := store.DefaultDir()
		if err != nil {
			return store.Store{}, err
		}
		dir = d
		app.Dir = dir
	}
	return store.Store{Dir: dir}, nil
}

// openStore opens the matrix for writing as the current user.
func openStore(ctx context.Context, app *App) (*store.SQLite, error) {
	s, err := app.store()
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, store.OpenOptions{
		UserID:  app.UserID,
		Logger:  app.logger(),
		LockTTL: perm.LockTTL(),
	})
}

// loadDB opens the store and reads a snapshot. Callers close the store.
func loadDB(ctx context.Context, app *App) (*store.SQLite, *store.DB, error) {
	sq, err := openStore(ctx, app)
	if err != nil {
		return nil, nil, err
	}
	db, err := sq.Load(ctx)
	if err != nil {
		_ = sq.Close()
		return nil, nil, err
	}
	return sq, db, nil
}

// newEngine wires the batch engine for one command invocation.
func newEngine(app *App, sq *store.SQLite, db *store.DB) (*mutate.Engine, *undo.Log) {
	ul := undo.New(sq, app.logger())
	return &mutate.Engine{
		API:     sq,
		Access:  perm.ForUser(db, app.UserID),
		Undo:    ul,
		Session: session.New(),
		UserID:  app.UserID,
		Logger:  app.logger(),
	}, ul
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func writeOut(cmd *cobra.Command, app *App, v any) error {
	return format.Write(cmd.OutOrStdout(), v, app.Format, app.PrettyJSON)
}

func writeErr(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), userMessage(err))
	return err
}
