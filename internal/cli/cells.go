package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"scorematrix-cli/internal/editor"
	"scorematrix-cli/internal/model"
	"scorematrix-cli/internal/mutate"
	"scorematrix-cli/internal/perm"
	"scorematrix-cli/internal/saveq"
	"scorematrix-cli/internal/scoring"
	"scorematrix-cli/internal/session"
	"scorematrix-cli/internal/store"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newCellsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cells",
		Aliases: []string{"cell"},
		Short:   "Show and edit single cells",
		Long: "Single-cell edits are applied one cell at a time through a per-cell save queue.\n" +
			"Local rejections print {\"saved\": false, ...} and exit 0.",
	}
	cmd.AddCommand(newCellsShowCmd(app))
	cmd.AddCommand(newCellsRowCmd(app))
	cmd.AddCommand(newCellsToggleCmd(app))
	cmd.AddCommand(newCellsUncertainCmd(app))
	cmd.AddCommand(newCellsNotesCmd(app))
	cmd.AddCommand(newCellsContinuousCmd(app))
	cmd.AddCommand(newCellsCiteCmd(app))
	return cmd
}

// cellView is how a cell is printed.
type cellView struct {
	model.Cell
	Label string `json:"label"`
	// LockedBy is set when another user holds the row.
	LockedBy string `json:"lockedBy,omitempty"`
}

func viewCell(c model.Cell, access perm.Access) cellView {
	v := cellView{Cell: c, Label: c.Score.String()}
	if !access.CanEditTaxon(c.Key.TaxonID) {
		v.LockedBy = access.LockHolder(c.Key.TaxonID)
	}
	return v
}

// cellResult reports the outcome of an edit on one cell.
type cellResult struct {
	Key              model.CellKey `json:"key"`
	Saved            bool          `json:"saved"`
	Reason           string        `json:"reason,omitempty"`
	Detail           string        `json:"detail,omitempty"`
	Score            string        `json:"score"`
	UncertainEnabled bool          `json:"uncertainEnabled"`
}

// paneEnv opens cell panes that share one save queue and one session.
type paneEnv struct {
	app   *App
	sq    *store.SQLite
	db    *store.DB
	queue *saveq.Serializer
	sess  *session.Session
}

func openPaneEnv(ctx context.Context, app *App) (*paneEnv, error) {
	sq, db, err := loadDB(ctx, app)
	if err != nil {
		return nil, err
	}
	return &paneEnv{
		app:   app,
		sq:    sq,
		db:    db,
		queue: saveq.New(app.logger()),
		sess:  session.New(),
	}, nil
}

func (e *paneEnv) Close() error {
	e.queue.Wait()
	return e.sq.Close()
}

func (e *paneEnv) pane(ctx context.Context, key model.CellKey) (*editor.Pane, error) {
	cell, err := e.sq.Cell(ctx, key)
	if err != nil {
		return nil, err
	}
	ch, ok := e.db.FindCharacter(key.CharacterID)
	if !ok {
		return nil, store.NotFoundError{Kind: "character", ID: fmt.Sprint(key.CharacterID)}
	}
	return editor.NewPane(editor.Options{
		Cell:      cell,
		Character: *ch,
		API:       e.sq,
		Queue:     e.queue,
		Access:    perm.ForUser(e.db, e.app.UserID),
		Session:   e.sess,
		UserID:    e.app.UserID,
		Logger:    e.app.logger(),
	})
}

// await turns a pane call into a cellResult. Rejections are reported in the
// result; anything else is returned as an error.
func await(p *editor.Pane, ch <-chan error, err error) (cellResult, error) {
	res := cellResult{Key: p.Key()}
	if err == nil {
		err = <-ch
	}
	switch {
	case err == nil:
		res.Saved = true
	case mutate.IsNotSaved(err):
		payload := notSavedPayload(err)
		res.Reason, _ = payload["reason"].(string)
		res.Detail, _ = payload["detail"].(string)
		err = nil
	}
	res.Score = p.Score().String()
	res.UncertainEnabled = p.UncertainEnabled()
	return res, err
}

func newCellsShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <taxon-id> <character-id>",
		Short: "Show one cell",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0], args[1])
			if err != nil {
				return writeErr(cmd, err)
			}
			sq, db, err := loadDB(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer sq.Close()
			c, err := sq.Cell(cmd.Context(), key)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": viewCell(c, perm.ForUser(db, app.UserID))})
		},
	}
}

func newCellsRowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "row <taxon-id>",
		Short: "Show every cell of one taxon (ordered by character)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("taxon", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			sq, db, err := loadDB(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer sq.Close()
			if _, ok := db.FindTaxon(id); !ok {
				return writeErr(cmd, store.NotFoundError{Kind: "taxon", ID: fmt.Sprint(id)})
			}
			access := perm.ForUser(db, app.UserID)
			out := []cellView{}
			for _, c := range db.Row(id) {
				out = append(out, viewCell(c, access))
			}
			return writeOut(cmd, app, map[string]any{"data": out})
		},
	}
}

func newCellsToggleCmd(app *App) *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "toggle <taxon-ids> <character-ids> <state>...",
		Short: "Toggle states on cells (one commit per toggle)",
		Long: "Toggle each state, in order, on every cell of taxa x characters (comma-separated ids).\n" +
			"States are ids or the sentinels ? (unscored), - (not applicable) and npa.\n" +
			"Cells are edited concurrently; toggles on one cell commit in order.",
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			taxa, err := parseIDs("taxon", args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			chars, err := parseIDs("character", args[1])
			if err != nil {
				return writeErr(cmd, err)
			}
			var states []scoring.StateID
			for _, a := range args[2:] {
				id, err := scoring.ParseStateID(a)
				if err != nil {
					return writeErr(cmd, err)
				}
				states = append(states, id)
			}

			ctx := cmd.Context()
			env, err := openPaneEnv(ctx, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer env.Close()

			sel := model.BatchSelection{TaxonIDs: taxa, CharacterIDs: chars}
			keys := sel.Cells()
			panes := make([]*editor.Pane, len(keys))
			for i, key := range keys {
				p, err := env.pane(ctx, key)
				if err != nil {
					return writeErr(cmd, err)
				}
				panes[i] = p
			}

			results := make([]cellResult, len(panes))
			var mu sync.Mutex
			g, gctx := errgroup.WithContext(ctx)
			for i, p := range panes {
				i, p := i, p
				g.Go(func() error {
					var res cellResult
					for _, id := range states {
						ch, err := p.Toggle(gctx, id, !off)
						r, err := await(p, ch, err)
						res = r
						if err != nil {
							return err
						}
						if !r.Saved {
							break
						}
					}
					mu.Lock()
					results[i] = res
					mu.Unlock()
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": results})
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "Deselect the states instead of selecting them")
	return cmd
}

func newCellsUncertainCmd(app *App) *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "uncertain <taxon-id> <character-id>",
		Short: "Mark a polymorphic cell as uncertain (or clear it with --off)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPane(cmd, app, args, func(ctx context.Context, p *editor.Pane) (<-chan error, error) {
				return p.SetUncertain(ctx, !off)
			})
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "Clear uncertainty")
	return cmd
}

func newCellsNotesCmd(app *App) *cobra.Command {
	var notes, status string
	cmd := &cobra.Command{
		Use:   "notes <taxon-id> <character-id>",
		Short: "Set cell notes and/or scoring status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, st, err := notesFlags(cmd, notes, status)
			if err != nil {
				return writeErr(cmd, err)
			}
			return runPane(cmd, app, args, func(ctx context.Context, p *editor.Pane) (<-chan error, error) {
				return p.SetNotes(ctx, n, st)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Note text")
	cmd.Flags().StringVar(&status, "status", "", "Status (not-started|in-progress|complete)")
	return cmd
}

func newCellsContinuousCmd(app *App) *cobra.Command {
	var start, end float64
	cmd := &cobra.Command{
		Use:   "continuous <taxon-id> <character-id>",
		Short: "Set the value range of a continuous cell",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, e := rangeFlags(cmd, start, end)
			return runPane(cmd, app, args, func(ctx context.Context, p *editor.Pane) (<-chan error, error) {
				return p.SetContinuous(ctx, s, e)
			})
		},
	}
	cmd.Flags().Float64Var(&start, "start", 0, "Range start")
	cmd.Flags().Float64Var(&end, "end", 0, "Range end (omit for a single value)")
	return cmd
}

func newCellsCiteCmd(app *App) *cobra.Command {
	var citation int64
	var pages, notes string
	cmd := &cobra.Command{
		Use:   "cite <taxon-id> <character-id>",
		Short: "Attach a citation to a cell",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if citation <= 0 {
				return writeErr(cmd, fmt.Errorf("missing --citation"))
			}
			return runPane(cmd, app, args, func(ctx context.Context, p *editor.Pane) (<-chan error, error) {
				return p.Cite(ctx, citation, pages, notes)
			}, func(db *store.DB) error {
				if _, ok := db.FindCitation(citation); !ok {
					return store.NotFoundError{Kind: "citation", ID: fmt.Sprint(citation)}
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&citation, "citation", 0, "Citation id")
	cmd.Flags().StringVar(&pages, "pages", "", "Pages")
	cmd.Flags().StringVar(&notes, "notes", "", "Citation notes")
	return cmd
}

// runPane performs one edit on one cell and prints its result. checks run
// against the loaded snapshot before the pane is opened.
func runPane(cmd *cobra.Command, app *App, args []string, edit func(context.Context, *editor.Pane) (<-chan error, error), checks ...func(*store.DB) error) error {
	key, err := parseKey(args[0], args[1])
	if err != nil {
		return writeErr(cmd, err)
	}
	ctx := cmd.Context()
	env, err := openPaneEnv(ctx, app)
	if err != nil {
		return writeErr(cmd, err)
	}
	defer env.Close()

	for _, check := range checks {
		if err := check(env.db); err != nil {
			return writeErr(cmd, err)
		}
	}
	p, err := env.pane(ctx, key)
	if err != nil {
		return writeErr(cmd, err)
	}
	ch, err := edit(ctx, p)
	if errors.Is(err, editor.ErrNoCitation) {
		return writeErr(cmd, err)
	}
	res, err := await(p, ch, err)
	if err != nil {
		return writeErr(cmd, err)
	}
	return writeOut(cmd, app, map[string]any{"data": res})
}

func parseKey(taxon, character string) (model.CellKey, error) {
	t, err := parseID("taxon", taxon)
	if err != nil {
		return model.CellKey{}, err
	}
	c, err := parseID("character", character)
	if err != nil {
		return model.CellKey{}, err
	}
	return model.CellKey{TaxonID: t, CharacterID: c}, nil
}

// notesFlags maps --notes/--status to partial-update pointers; unset flags
// stay nil.
func notesFlags(cmd *cobra.Command, notes, status string) (*string, *model.CellInfoStatus, error) {
	var n *string
	var st *model.CellInfoStatus
	if cmd.Flags().Changed("notes") {
		n = &notes
	}
	if cmd.Flags().Changed("status") {
		s, err := model.ParseCellInfoStatus(status)
		if err != nil {
			return nil, nil, err
		}
		st = &s
	}
	return n, st, nil
}

func rangeFlags(cmd *cobra.Command, start, end float64) (*float64, *float64) {
	var s, e *float64
	if cmd.Flags().Changed("start") {
		s = &start
	}
	if cmd.Flags().Changed("end") {
		e = &end
	}
	return s, e
}
