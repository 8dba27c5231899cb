package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"scorematrix-cli/internal/model"
)

const sqliteFileName = "matrix.sqlite"

// ErrAlreadyReverted is returned when undoing a batch that was undone before.
var ErrAlreadyReverted = errors.New("batch already reverted")

// NotFoundError reports a reference to a row that does not exist (or no
// longer exists).
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func notFound(kind string, id any) NotFoundError {
	return NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// KindMismatchError reports a write that does not fit the character kind,
// e.g. discrete states on a continuous character.
type KindMismatchError struct {
	CharacterID int64
	Kind        model.CharacterKind
}

func (e KindMismatchError) Error() string {
	return fmt.Sprintf("character %d is %s", e.CharacterID, e.Kind)
}

// DB is a read snapshot of the matrix.
type DB struct {
	Taxa       []model.Taxon     `json:"taxa"`
	Characters []model.Character `json:"characters"`
	Citations  []model.Citation  `json:"citations"`
	Media      []model.Media     `json:"media"`
	Cells      []model.Cell      `json:"cells"`

	// Derived index for per-cell lookups. Not persisted.
	idxBuilt bool                          `json:"-"`
	idxCells map[model.CellKey]*model.Cell `json:"-"`
}

type Store struct {
	Dir string
}

func DiscoverDir(start string) (string, bool) {
	dir := start
	for {
		candidate := filepath.Join(dir, ".scorematrix")
		if st, err := os.Stat(candidate); err == nil && st.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func DefaultDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if found, ok := DiscoverDir(cwd); ok {
		return found, nil
	}
	return filepath.Join(cwd, ".scorematrix"), nil
}

func (s Store) Ensure() error {
	return os.MkdirAll(s.Dir, 0o755)
}

func (s Store) SQLitePath() string {
	return filepath.Join(s.Dir, sqliteFileName)
}

// Load opens the store, reads a full snapshot and closes it again.
func (s Store) Load(ctx context.Context) (*DB, error) {
	sq, err := s.Open(ctx, OpenOptions{})
	if err != nil {
		return nil, err
	}
	defer sq.Close()
	return sq.Load(ctx)
}

func (db *DB) FindTaxon(id int64) (*model.Taxon, bool) {
	for i := range db.Taxa {
		if db.Taxa[i].ID == id {
			return &db.Taxa[i], true
		}
	}
	return nil, false
}

func (db *DB) FindCharacter(id int64) (*model.Character, bool) {
	for i := range db.Characters {
		if db.Characters[i].ID == id {
			return &db.Characters[i], true
		}
	}
	return nil, false
}

func (db *DB) FindCitation(id int64) (*model.Citation, bool) {
	for i := range db.Citations {
		if db.Citations[i].ID == id {
			return &db.Citations[i], true
		}
	}
	return nil, false
}

func (db *DB) ensureIndexes() {
	if db == nil || db.idxBuilt {
		return
	}
	db.idxCells = make(map[model.CellKey]*model.Cell, len(db.Cells))
	for i := range db.Cells {
		db.idxCells[db.Cells[i].Key] = &db.Cells[i]
	}
	db.idxBuilt = true
}

// Cell returns the stored cell, or an unscored cell when nothing is stored.
func (db *DB) Cell(key model.CellKey) model.Cell {
	if db == nil {
		return emptyCell(key)
	}
	db.ensureIndexes()
	if c, ok := db.idxCells[key]; ok {
		return *c
	}
	return emptyCell(key)
}

// Row returns the cells of one taxon ordered by character id.
func (db *DB) Row(taxonID int64) []model.Cell {
	if db == nil {
		return nil
	}
	out := []model.Cell{}
	for _, ch := range db.Characters {
		out = append(out, db.Cell(model.CellKey{TaxonID: taxonID, CharacterID: ch.ID}))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.CharacterID < out[j].Key.CharacterID })
	return out
}

// LockedTaxa lists taxa currently locked by someone other than userID.
func (db *DB) LockedTaxa(userID string) []model.Taxon {
	userID = strings.TrimSpace(userID)
	var out []model.Taxon
	for _, t := range db.Taxa {
		if t.LockedBy != nil && strings.TrimSpace(*t.LockedBy) != userID {
			out = append(out, t)
		}
	}
	return out
}
