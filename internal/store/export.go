package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"scorematrix-cli/internal/model"
)

const (
	exportSnapshotFile = "matrix.json"
	exportEventsFile   = "events.jsonl"
	exportTableFile    = "matrix.tsv"
)

// ExportResult names the files written by Export.
type ExportResult struct {
	Dir      string `json:"dir"`
	Snapshot string `json:"snapshot"`
	Events   string `json:"events"`
	Table    string `json:"table"`
	Taxa     int    `json:"taxa"`
	Cells    int    `json:"cells"`
}

// Export writes a portable copy of the matrix into dir: the snapshot as
// JSON, the event log as JSONL and a taxon x character table in export
// labels.
func (s *SQLite) Export(ctx context.Context, dir string) (ExportResult, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return ExportResult{}, fmt.Errorf("export: missing target dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ExportResult{}, err
	}
	db, err := s.Load(ctx)
	if err != nil {
		return ExportResult{}, err
	}
	evs, err := s.ReadEvents(ctx, 0)
	if err != nil {
		return ExportResult{}, err
	}

	res := ExportResult{
		Dir:      dir,
		Snapshot: filepath.Join(dir, exportSnapshotFile),
		Events:   filepath.Join(dir, exportEventsFile),
		Table:    filepath.Join(dir, exportTableFile),
		Taxa:     len(db.Taxa),
		Cells:    len(db.Cells),
	}
	if err := writeFileWith(res.Snapshot, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(db)
	}); err != nil {
		return ExportResult{}, err
	}
	if err := writeFileWith(res.Events, func(w io.Writer) error { return WriteEventsJSONL(w, evs) }); err != nil {
		return ExportResult{}, err
	}
	if err := writeFileWith(res.Table, func(w io.Writer) error { return WriteMatrixTSV(w, db) }); err != nil {
		return ExportResult{}, err
	}
	s.log.Info("matrix exported", "dir", dir, "taxa", res.Taxa, "events", len(evs))
	return res, nil
}

// WriteEventsJSONL writes one event per line.
func WriteEventsJSONL(w io.Writer, evs []model.Event) error {
	enc := json.NewEncoder(w)
	for _, ev := range evs {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}

// ReadEventsJSONL reads what WriteEventsJSONL wrote. Blank lines are skipped.
func ReadEventsJSONL(r io.Reader) ([]model.Event, error) {
	out := []model.Event{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev model.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("parse events jsonl: %w", err)
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteMatrixTSV writes a header of character names and one line per taxon.
// Discrete cells use CellScore.ExportString; continuous cells "start" or
// "start-end", empty when unset.
func WriteMatrixTSV(w io.Writer, db *DB) error {
	bw := bufio.NewWriter(w)
	header := []string{"taxon"}
	for _, c := range db.Characters {
		header = append(header, tsvField(c.Name))
	}
	if _, err := bw.WriteString(strings.Join(header, "\t") + "\n"); err != nil {
		return err
	}
	for _, t := range db.Taxa {
		line := []string{tsvField(t.Name)}
		for _, c := range db.Characters {
			cell := db.Cell(model.CellKey{TaxonID: t.ID, CharacterID: c.ID})
			line = append(line, exportCell(c, cell))
		}
		if _, err := bw.WriteString(strings.Join(line, "\t") + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func exportCell(c model.Character, cell model.Cell) string {
	if c.Kind != model.CharacterContinuous {
		return cell.Score.ExportString()
	}
	v := cell.Continuous
	if v == nil || v.Start == nil {
		return ""
	}
	out := strconv.FormatFloat(*v.Start, 'g', -1, 64)
	if v.End != nil {
		out += "-" + strconv.FormatFloat(*v.End, 'g', -1, 64)
	}
	return out
}

func tsvField(s string) string {
	return strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(s)
}

func writeFileWith(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
