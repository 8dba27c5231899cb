package cli

import (
	"fmt"

	"scorematrix-cli/internal/model"
	"scorematrix-cli/internal/mutate"
	"scorematrix-cli/internal/scoring"

	"github.com/spf13/cobra"
)

func newBatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Apply one change to many cells as a single undoable entry",
		Long: "Each batch command writes taxa x characters in one call and records one undo entry.\n" +
			"A single taxon is a row batch; several taxa are a column batch.\n" +
			"Local rejections print {\"saved\": false, ...} and exit 0.",
	}
	cmd.AddCommand(newBatchScoresCmd(app))
	cmd.AddCommand(newBatchRowScoresCmd(app))
	cmd.AddCommand(newBatchContinuousCmd(app))
	cmd.AddCommand(newBatchNotesCmd(app))
	cmd.AddCommand(newBatchCiteCmd(app))
	cmd.AddCommand(newBatchMediaCmd(app, true))
	cmd.AddCommand(newBatchMediaCmd(app, false))
	cmd.AddCommand(newBatchCopyRowCmd(app))
	return cmd
}

// selectionFlags binds --taxa and --characters.
type selectionFlags struct {
	taxa  string
	chars string
}

func (f *selectionFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.taxa, "taxa", "", "Taxon ids (comma-separated)")
	cmd.Flags().StringVar(&f.chars, "characters", "", "Character ids (comma-separated)")
	_ = cmd.MarkFlagRequired("taxa")
	_ = cmd.MarkFlagRequired("characters")
}

func (f *selectionFlags) selection() (model.BatchSelection, error) {
	taxa, err := parseIDs("taxon", f.taxa)
	if err != nil {
		return model.BatchSelection{}, err
	}
	chars, err := parseIDs("character", f.chars)
	if err != nil {
		return model.BatchSelection{}, err
	}
	return model.BatchSelection{TaxonIDs: taxa, CharacterIDs: chars}, nil
}

// runBatch applies m through the batch engine and prints the outcome.
func runBatch(cmd *cobra.Command, app *App, sel model.BatchSelection, m mutate.Mutation) error {
	ctx := cmd.Context()
	sq, db, err := loadDB(ctx, app)
	if err != nil {
		return writeErr(cmd, err)
	}
	defer sq.Close()

	eng, _ := newEngine(app, sq, db)
	res, err := eng.Apply(ctx, sel, m)
	if err != nil {
		return writeResult(cmd, app, err)
	}
	return writeOut(cmd, app, map[string]any{
		"data": map[string]any{
			"saved":     true,
			"kind":      res.Kind,
			"batchMode": res.Mode.String(),
			"cells":     res.Cells,
		},
	})
}

func newBatchScoresCmd(app *App) *cobra.Command {
	var sel selectionFlags
	var states string
	var uncertain bool
	cmd := &cobra.Command{
		Use:   "scores",
		Short: "Set the same score on every selected cell",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sel.selection()
			if err != nil {
				return writeErr(cmd, err)
			}
			ids, err := scoring.ParseStateIDs(states)
			if err != nil {
				return writeErr(cmd, err)
			}
			return runBatch(cmd, app, s, mutate.SetScores{States: ids, Uncertain: uncertain})
		},
	}
	sel.bind(cmd)
	cmd.Flags().StringVar(&states, "states", "", "State ids or sentinels (comma-separated)")
	cmd.Flags().BoolVar(&uncertain, "uncertain", false, "Mark a polymorphic score as uncertain")
	_ = cmd.MarkFlagRequired("states")
	return cmd
}

func newBatchRowScoresCmd(app *App) *cobra.Command {
	var taxon int64
	var chars, states string
	cmd := &cobra.Command{
		Use:   "row-scores",
		Short: "Set one score per character along a taxon row",
		Example: `  # character 3 -> state 2, 4 -> unscored, 5 -> not applicable
  scorematrix batch row-scores --taxon 12 --characters 3,4,5 --states "2,?,-"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if taxon <= 0 {
				return writeErr(cmd, fmt.Errorf("missing --taxon"))
			}
			ids, err := parseIDs("character", chars)
			if err != nil {
				return writeErr(cmd, err)
			}
			st, err := scoring.ParseStateIDs(states)
			if err != nil {
				return writeErr(cmd, err)
			}
			return runBatch(cmd, app, model.BatchSelection{TaxonIDs: []int64{taxon}, CharacterIDs: ids}, mutate.SetRowScores{States: st})
		},
	}
	cmd.Flags().Int64Var(&taxon, "taxon", 0, "Taxon id")
	cmd.Flags().StringVar(&chars, "characters", "", "Character ids (comma-separated)")
	cmd.Flags().StringVar(&states, "states", "", "One state per character (comma-separated)")
	_ = cmd.MarkFlagRequired("characters")
	_ = cmd.MarkFlagRequired("states")
	return cmd
}

func newBatchContinuousCmd(app *App) *cobra.Command {
	var sel selectionFlags
	var start, end float64
	cmd := &cobra.Command{
		Use:   "continuous",
		Short: "Set a value range on continuous cells",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sel.selection()
			if err != nil {
				return writeErr(cmd, err)
			}
			lo, hi := rangeFlags(cmd, start, end)
			return runBatch(cmd, app, s, mutate.SetContinuous{Start: lo, End: hi})
		},
	}
	sel.bind(cmd)
	cmd.Flags().Float64Var(&start, "start", 0, "Range start")
	cmd.Flags().Float64Var(&end, "end", 0, "Range end")
	return cmd
}

func newBatchNotesCmd(app *App) *cobra.Command {
	var sel selectionFlags
	var notes, status string
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Set notes and/or scoring status on cells",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sel.selection()
			if err != nil {
				return writeErr(cmd, err)
			}
			n, st, err := notesFlags(cmd, notes, status)
			if err != nil {
				return writeErr(cmd, err)
			}
			return runBatch(cmd, app, s, mutate.SetNotes{Notes: n, Status: st})
		},
	}
	sel.bind(cmd)
	cmd.Flags().StringVar(&notes, "notes", "", "Note text")
	cmd.Flags().StringVar(&status, "status", "", "Status (not-started|in-progress|complete)")
	return cmd
}

func newBatchCiteCmd(app *App) *cobra.Command {
	var sel selectionFlags
	var citation int64
	var pages, notes string
	cmd := &cobra.Command{
		Use:   "cite",
		Short: "Attach a citation to cells",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sel.selection()
			if err != nil {
				return writeErr(cmd, err)
			}
			return runBatch(cmd, app, s, mutate.AddCitation{CitationID: citation, Pages: pages, Notes: notes})
		},
	}
	sel.bind(cmd)
	cmd.Flags().Int64Var(&citation, "citation", 0, "Citation id")
	cmd.Flags().StringVar(&pages, "pages", "", "Pages")
	cmd.Flags().StringVar(&notes, "notes", "", "Citation notes")
	return cmd
}

func newBatchMediaCmd(app *App, add bool) *cobra.Command {
	var sel selectionFlags
	var media string
	use, short := "media-add", "Attach media to cells"
	if !add {
		use, short = "media-remove", "Detach media from cells"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sel.selection()
			if err != nil {
				return writeErr(cmd, err)
			}
			ids, err := parseIDs("media", media)
			if err != nil {
				return writeErr(cmd, err)
			}
			var m mutate.Mutation = mutate.AddMedia{MediaIDs: ids}
			if !add {
				m = mutate.RemoveMedia{MediaIDs: ids}
			}
			return runBatch(cmd, app, s, m)
		},
	}
	sel.bind(cmd)
	cmd.Flags().StringVar(&media, "media", "", "Media ids (comma-separated)")
	_ = cmd.MarkFlagRequired("media")
	return cmd
}

func newBatchCopyRowCmd(app *App) *cobra.Command {
	var from, to int64
	var chars string
	var copyNotes bool
	cmd := &cobra.Command{
		Use:   "copy-row",
		Short: "Copy scores of characters from one taxon to another",
		Long:  "Copies discrete and continuous scores (and notes with --copy-notes). Citations and media are never copied.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if from <= 0 || to <= 0 {
				return writeErr(cmd, fmt.Errorf("missing --from/--to"))
			}
			ids, err := parseIDs("character", chars)
			if err != nil {
				return writeErr(cmd, err)
			}
			return runBatch(cmd, app, model.BatchSelection{TaxonIDs: []int64{to}, CharacterIDs: ids}, mutate.CopyRow{SourceTaxonID: from, CopyNotes: copyNotes})
		},
	}
	cmd.Flags().Int64Var(&from, "from", 0, "Source taxon id")
	cmd.Flags().Int64Var(&to, "to", 0, "Destination taxon id")
	cmd.Flags().StringVar(&chars, "characters", "", "Character ids (comma-separated)")
	cmd.Flags().BoolVar(&copyNotes, "copy-notes", false, "Copy cell notes too")
	_ = cmd.MarkFlagRequired("characters")
	return cmd
}
