package mutate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"scorematrix-cli/internal/model"
	"scorematrix-cli/internal/scoring"
)

// Mutation is one kind of change applied to every cell of a selection.
type Mutation interface {
	Kind() string
}

type SetScores struct {
	States    []scoring.StateID `validate:"required,min=1,dive,stateid"`
	Uncertain bool
}

// SetRowScores assigns States[i] to the i-th selected character of a single
// taxon.
type SetRowScores struct {
	States []scoring.StateID `validate:"required,min=1,dive,stateid"`
}

type SetContinuous struct {
	Start *float64
	End   *float64
}

type SetNotes struct {
	Notes  *string                `validate:"omitempty,max=4096"`
	Status *model.CellInfoStatus `validate:"omitempty,cellstatus"`
}

type AddCitation struct {
	CitationID int64  `validate:"gt=0"`
	Pages      string `validate:"max=64"`
	Notes      string `validate:"max=4096"`
}

type AddMedia struct {
	MediaIDs []int64 `validate:"required,min=1,dive,gt=0"`
}

type RemoveMedia struct {
	MediaIDs []int64 `validate:"required,min=1,dive,gt=0"`
}

// CopyRow copies scores of the selected characters from SourceTaxonID to the
// single selected taxon. Citations and media are never copied.
type CopyRow struct {
	SourceTaxonID int64 `validate:"gt=0"`
	CopyNotes     bool
}

func (SetScores) Kind() string     { return "set_scores" }
func (SetRowScores) Kind() string  { return "set_row_scores" }
func (SetContinuous) Kind() string { return "set_continuous" }
func (SetNotes) Kind() string      { return "set_notes" }
func (AddCitation) Kind() string   { return "add_citation" }
func (AddMedia) Kind() string      { return "add_media" }
func (RemoveMedia) Kind() string   { return "remove_media" }
func (CopyRow) Kind() string       { return "copy_row" }

var batchValidate *validator.Validate

func init() {
	batchValidate = validator.New()
	_ = batchValidate.RegisterValidation("stateid", func(fl validator.FieldLevel) bool {
		return scoring.StateID(fl.Field().Int()).Valid()
	})
	_ = batchValidate.RegisterValidation("cellstatus", func(fl validator.FieldLevel) bool {
		return model.CellInfoStatus(fl.Field().Int()).Valid()
	})
}

// validateStruct runs the struct tags of v and turns the first failure into
// a ValidationError.
func validateStruct(v any) error {
	err := batchValidate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return ValidationError{Field: fieldName(fe.Namespace()), Reason: "failed " + reason}
	}
	return ValidationError{Reason: err.Error()}
}

// fieldName drops the struct name from a validator namespace.
func fieldName(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// validateMutation checks payload rules beyond struct tags.
func validateMutation(sel model.BatchSelection, m Mutation) error {
	if m == nil {
		return ValidationError{Field: "mutation", Reason: "required"}
	}
	if err := validateStruct(m); err != nil {
		return err
	}
	switch v := m.(type) {
	case SetScores:
		score := scoring.NewScore(false, v.States...)
		score.Uncertain = v.Uncertain
		return scoring.Validate(score)
	case SetRowScores:
		if len(sel.TaxonIDs) != 1 {
			return ValidationError{Field: "TaxonIDs", Reason: "row scores need exactly one taxon"}
		}
		if len(v.States) != len(sel.CharacterIDs) {
			return ValidationError{Field: "States", Reason: fmt.Sprintf("got %d states for %d characters", len(v.States), len(sel.CharacterIDs))}
		}
	case SetContinuous:
		return scoring.ContinuousRange(v.Start, v.End)
	case SetNotes:
		if v.Notes == nil && v.Status == nil {
			return ValidationError{Field: "Notes", Reason: "notes or status required"}
		}
	case CopyRow:
		if len(sel.TaxonIDs) != 1 {
			return ValidationError{Field: "TaxonIDs", Reason: "copy needs exactly one destination taxon"}
		}
		if sel.TaxonIDs[0] == v.SourceTaxonID {
			return ValidationError{Field: "SourceTaxonID", Reason: "source and destination are the same taxon"}
		}
	case AddCitation, AddMedia, RemoveMedia:
	default:
		return ValidationError{Field: "mutation", Reason: "unknown kind " + m.Kind()}
	}
	return nil
}
