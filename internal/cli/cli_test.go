package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args []string) (stdout []byte, stderr []byte, err error) {
	t.Helper()

	cmd := NewRootCmd()

	var outBuf bytes.Buffer
	var errBuf bytes.Buffer
	cmd.SetOut(&outBuf)
	cmd.SetErr(&errBuf)
	cmd.SetArgs(args)

	e := cmd.Execute()
	return outBuf.Bytes(), errBuf.Bytes(), e
}

// matrixEnv isolates config and store for one test.
func matrixEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("SCOREMATRIX_CONFIG_DIR", t.TempDir())
	t.Setenv("SCOREMATRIX_DIR", "")
	return t.TempDir()
}

func mustRun(t *testing.T, dir string, args ...string) map[string]any {
	t.Helper()
	full := append([]string{"--dir", dir, "--user", "alice"}, args...)
	out, errOut, err := runCLI(t, full)
	if err != nil {
		t.Fatalf("%s: %v\nstderr:\n%s", strings.Join(args, " "), err, string(errOut))
	}
	var env map[string]any
	if err := json.Unmarshal(out, &env); err != nil {
		t.Fatalf("%s: json: %v\n%s", strings.Join(args, " "), err, string(out))
	}
	return env
}

func dataMap(t *testing.T, env map[string]any) map[string]any {
	t.Helper()
	m, ok := env["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected object data; got %#v", env["data"])
	}
	return m
}

func dataList(t *testing.T, env map[string]any) []any {
	t.Helper()
	l, ok := env["data"].([]any)
	if !ok {
		t.Fatalf("expected list data; got %#v", env["data"])
	}
	return l
}

func idOf(t *testing.T, v any) int64 {
	t.Helper()
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected object; got %#v", v)
	}
	f, ok := m["id"].(float64)
	if !ok {
		t.Fatalf("expected numeric id; got %#v", m["id"])
	}
	return int64(f)
}

type fixture struct {
	taxon  int64
	other  int64
	chars  []int64
	states [][]int64
}

func seed(t *testing.T, dir string) fixture {
	t.Helper()
	mustRun(t, dir, "init")
	var f fixture
	f.taxon = idOf(t, mustRun(t, dir, "taxa", "add", "Homo sapiens")["data"])
	f.other = idOf(t, mustRun(t, dir, "taxa", "add", "Pan troglodytes")["data"])
	for _, name := range []string{"femur", "skull", "tail"} {
		c := dataMap(t, mustRun(t, dir, "characters", "add", name, "--state", "short", "--state", "long", "--state", "absent"))
		f.chars = append(f.chars, int64(c["id"].(float64)))
		var ids []int64
		for _, st := range c["states"].([]any) {
			ids = append(ids, idOf(t, st))
		}
		f.states = append(f.states, ids)
	}
	return f
}

func s(id int64) string { return fmt.Sprint(id) }

func TestInit_CreatesStore(t *testing.T) {
	dir := matrixEnv(t)
	d := dataMap(t, mustRun(t, dir, "init"))
	p, _ := d["sqlitePath"].(string)
	if p == "" {
		t.Fatalf("expected sqlitePath; got %#v", d)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("expected sqlite file: %v", err)
	}
	if d["dir"] != dir || !strings.HasPrefix(p, dir) {
		t.Fatalf("expected store under %s; got %#v", dir, d)
	}
}

func TestCatalog_AddAndList(t *testing.T) {
	dir := matrixEnv(t)
	f := seed(t, dir)

	taxa := dataList(t, mustRun(t, dir, "taxa", "list"))
	if len(taxa) != 2 {
		t.Fatalf("expected 2 taxa; got %d", len(taxa))
	}
	chars := dataList(t, mustRun(t, dir, "characters", "list"))
	if len(chars) != 3 {
		t.Fatalf("expected 3 characters; got %d", len(chars))
	}
	if len(f.states[0]) != 3 {
		t.Fatalf("expected 3 states; got %v", f.states[0])
	}

	cont := dataMap(t, mustRun(t, dir, "characters", "add", "length", "--continuous"))
	if cont["kind"] != "continuous" {
		t.Fatalf("expected continuous kind; got %#v", cont)
	}
	if _, _, err := runCLI(t, []string{"--dir", dir, "characters", "add", "bad"}); err == nil {
		t.Fatalf("expected error for a discrete character without states")
	}
}

func TestCellsToggle_ScenarioCollapsesToNotApplicable(t *testing.T) {
	dir := matrixEnv(t)
	f := seed(t, dir)
	a, b := f.states[0][0], f.states[0][1]
	t1, c1 := s(f.taxon), s(f.chars[0])

	res := dataList(t, mustRun(t, dir, "cells", "toggle", t1, c1, s(a)))
	if got := res[0].(map[string]any)["score"]; got != fmt.Sprintf("%d", a) {
		t.Fatalf("expected %d; got %v", a, got)
	}
	res = dataList(t, mustRun(t, dir, "cells", "toggle", t1, c1, s(b)))
	r := res[0].(map[string]any)
	if got := r["score"]; got != fmt.Sprintf("{%d,%d}", a, b) {
		t.Fatalf("expected polymorphic score; got %v", got)
	}
	if r["uncertainEnabled"] != true {
		t.Fatalf("expected uncertain to be offered; got %#v", r)
	}
	res = dataList(t, mustRun(t, dir, "cells", "toggle", t1, c1, "-"))
	if got := res[0].(map[string]any)["score"]; got != "-" {
		t.Fatalf("expected -; got %v", got)
	}

	cell := dataMap(t, mustRun(t, dir, "cells", "show", t1, c1))
	if cell["label"] != "-" {
		t.Fatalf("expected stored -; got %#v", cell)
	}

	// Single-cell edits are not undo entries.
	if entries := dataList(t, mustRun(t, dir, "undo", "list")); len(entries) != 0 {
		t.Fatalf("expected no undo entries; got %d", len(entries))
	}
}

func TestCellsToggle_ManyCellsAtOnce(t *testing.T) {
	dir := matrixEnv(t)
	f := seed(t, dir)
	taxa := s(f.taxon) + "," + s(f.other)
	res := dataList(t, mustRun(t, dir, "cells", "toggle", taxa, s(f.chars[0]), s(f.states[0][0]), s(f.states[0][2])))
	if len(res) != 2 {
		t.Fatalf("expected 2 results; got %d", len(res))
	}
	want := fmt.Sprintf("{%d,%d}", f.states[0][0], f.states[0][2])
	for _, r := range res {
		m := r.(map[string]any)
		if m["saved"] != true || m["score"] != want {
			t.Fatalf("unexpected result: %#v", m)
		}
	}
}

func TestCellsToggle_RejectionIsNotSavedAndExitsZero(t *testing.T) {
	dir := matrixEnv(t)
	f := seed(t, dir)
	// A state of another character.
	res := dataList(t, mustRun(t, dir, "cells", "toggle", s(f.taxon), s(f.chars[0]), s(f.states[1][0])))
	r := res[0].(map[string]any)
	if r["saved"] != false || r["reason"] != "state_not_in_character" {
		t.Fatalf("expected not saved; got %#v", r)
	}
	if r["score"] != "?" {
		t.Fatalf("expected cell unchanged; got %v", r["score"])
	}
}

func TestBatchRowScores_OneUndoEntryAndRevert(t *testing.T) {
	dir := matrixEnv(t)
	f := seed(t, dir)
	chars := s(f.chars[0]) + "," + s(f.chars[1]) + "," + s(f.chars[2])
	states := s(f.states[0][1]) + ",?,-"

	d := dataMap(t, mustRun(t, dir, "batch", "row-scores", "--taxon", s(f.taxon), "--characters", chars, "--states", states))
	if d["saved"] != true || d["batchMode"] != "row" || d["cells"] != float64(3) {
		t.Fatalf("unexpected batch result: %#v", d)
	}

	if got := dataMap(t, mustRun(t, dir, "cells", "show", s(f.taxon), s(f.chars[0])))["label"]; got != fmt.Sprintf("%d", f.states[0][1]) {
		t.Fatalf("unexpected first cell: %v", got)
	}
	if got := dataMap(t, mustRun(t, dir, "cells", "show", s(f.taxon), s(f.chars[2])))["label"]; got != "-" {
		t.Fatalf("unexpected third cell: %v", got)
	}

	entries := dataList(t, mustRun(t, dir, "undo", "list"))
	if len(entries) != 1 {
		t.Fatalf("expected exactly one undo entry; got %d", len(entries))
	}
	e := entries[0].(map[string]any)
	if e["mode"] != "row" || e["eligible"] != true {
		t.Fatalf("unexpected entry: %#v", e)
	}
	id := e["id"].(string)

	rev := dataMap(t, mustRun(t, dir, "undo", "revert", id))
	if rev["reverted"] != true {
		t.Fatalf("expected reverted entry; got %#v", rev)
	}
	for _, c := range f.chars {
		if got := dataMap(t, mustRun(t, dir, "cells", "show", s(f.taxon), s(c)))["label"]; got != "?" {
			t.Fatalf("character %d: expected ? after revert; got %v", c, got)
		}
	}

	_, errOut, err := runCLI(t, []string{"--dir", dir, "--user", "alice", "undo", "revert", id})
	if err == nil {
		t.Fatalf("expected second revert to fail")
	}
	if !strings.Contains(string(errOut), "already reverted") {
		t.Fatalf("expected already reverted message; got %q", string(errOut))
	}
	if eligible := dataList(t, mustRun(t, dir, "undo", "list", "--eligible")); len(eligible) != 0 {
		t.Fatalf("expected no eligible entries; got %d", len(eligible))
	}
}

func TestBatchScores_RejectionPrintsNotSaved(t *testing.T) {
	dir := matrixEnv(t)
	f := seed(t, dir)
	d := dataMap(t, mustRun(t, dir, "batch", "scores",
		"--taxa", s(f.taxon)+","+s(f.other),
		"--characters", s(f.chars[0]),
		"--states", s(f.states[0][0]),
		"--uncertain"))
	if d["saved"] != false || d["reason"] != "uncertain_single_state" {
		t.Fatalf("expected not saved; got %#v", d)
	}
	if entries := dataList(t, mustRun(t, dir, "undo", "list")); len(entries) != 0 {
		t.Fatalf("expected no undo entry for a rejected batch; got %d", len(entries))
	}
}

func TestBatchScores_ColumnModeAndEvents(t *testing.T) {
	dir := matrixEnv(t)
	f := seed(t, dir)
	d := dataMap(t, mustRun(t, dir, "batch", "scores",
		"--taxa", s(f.taxon)+","+s(f.other),
		"--characters", s(f.chars[0]),
		"--states", s(f.states[0][0])+","+s(f.states[0][1])))
	if d["batchMode"] != "column" || d["cells"] != float64(2) {
		t.Fatalf("unexpected batch result: %#v", d)
	}
	evs := dataList(t, mustRun(t, dir, "events", "list", "--limit", "1"))
	if len(evs) != 1 || evs[0].(map[string]any)["type"] != "batch.apply" {
		t.Fatalf("expected newest event batch.apply; got %#v", evs)
	}
}

func TestBatchCopyRow(t *testing.T) {
	dir := matrixEnv(t)
	f := seed(t, dir)
	mustRun(t, dir, "batch", "scores", "--taxa", s(f.taxon), "--characters", s(f.chars[0]), "--states", s(f.states[0][2]))

	d := dataMap(t, mustRun(t, dir, "batch", "copy-row", "--from", s(f.taxon), "--to", s(f.other), "--characters", s(f.chars[0])))
	if d["batchMode"] != "copy" {
		t.Fatalf("expected copy mode; got %#v", d)
	}
	if got := dataMap(t, mustRun(t, dir, "cells", "show", s(f.other), s(f.chars[0])))["label"]; got != fmt.Sprintf("%d", f.states[0][2]) {
		t.Fatalf("expected copied score; got %v", got)
	}
}

func TestTaxaLock_BlocksOtherUsers(t *testing.T) {
	dir := matrixEnv(t)
	f := seed(t, dir)
	mustRun(t, dir, "taxa", "lock", s(f.taxon))

	_, errOut, err := runCLI(t, []string{"--dir", dir, "--user", "bob", "batch", "scores",
		"--taxa", s(f.taxon), "--characters", s(f.chars[0]), "--states", "?"})
	if err == nil {
		t.Fatalf("expected locked row to refuse bob's batch")
	}
	if !strings.Contains(string(errOut), "locked") {
		t.Fatalf("expected lock message; got %q", string(errOut))
	}

	// The holder can still edit.
	mustRun(t, dir, "batch", "scores", "--taxa", s(f.taxon), "--characters", s(f.chars[0]), "--states", "-")
}

func TestCellsCite_AndYAMLOutput(t *testing.T) {
	dir := matrixEnv(t)
	f := seed(t, dir)
	cit := idOf(t, mustRun(t, dir, "citations", "add", "Smith 2020")["data"])
	d := dataMap(t, mustRun(t, dir, "cells", "cite", s(f.taxon), s(f.chars[0]), "--citation", s(cit), "--pages", "12"))
	if d["saved"] != true {
		t.Fatalf("expected cite saved; got %#v", d)
	}

	out, _, err := runCLI(t, []string{"--dir", dir, "--user", "alice", "--format", "yaml", "cells", "show", s(f.taxon), s(f.chars[0])})
	if err != nil {
		t.Fatalf("show yaml: %v", err)
	}
	if !strings.HasPrefix(string(out), "data:") || !strings.Contains(string(out), "citationId: "+s(cit)) {
		t.Fatalf("unexpected yaml output:\n%s", string(out))
	}
}

func TestExportAndDocs(t *testing.T) {
	dir := matrixEnv(t)
	f := seed(t, dir)
	mustRun(t, dir, "batch", "scores", "--taxa", s(f.taxon), "--characters", s(f.chars[0]), "--states", "npa")

	out := t.TempDir()
	d := dataMap(t, mustRun(t, dir, "export", "--to", out))
	table, err := os.ReadFile(d["table"].(string))
	if err != nil {
		t.Fatalf("read table: %v", err)
	}
	if !strings.Contains(string(table), "Homo sapiens\t?\t?\t?") {
		t.Fatalf("unexpected table:\n%s", string(table))
	}

	topics := dataMap(t, mustRun(t, dir, "docs"))["topics"].([]any)
	if len(topics) == 0 {
		t.Fatalf("expected docs topics")
	}
	md := dataMap(t, mustRun(t, dir, "docs", "undo"))["markdown"].(string)
	if !strings.Contains(md, "undo revert") {
		t.Fatalf("unexpected undo topic:\n%s", md)
	}
}

func TestConfigSet_UserIDIsPickedUp(t *testing.T) {
	dir := matrixEnv(t)
	if _, errOut, err := runCLI(t, []string{"--dir", dir, "config", "set", "user.id", "carol"}); err != nil {
		t.Fatalf("config set: %v\n%s", err, string(errOut))
	}
	if _, _, err := runCLI(t, []string{"--dir", dir, "config", "set", "output.format", "edn"}); err == nil {
		t.Fatalf("expected invalid format to be refused")
	}
	out, _, err := runCLI(t, []string{"--dir", dir, "init"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(string(out), `"userId":"carol"`) {
		t.Fatalf("expected configured user; got %s", string(out))
	}
}

func TestCellsRow_ShowsLockHolder(t *testing.T) {
	dir := matrixEnv(t)
	f := seed(t, dir)
	mustRun(t, dir, "taxa", "lock", s(f.taxon))

	out, _, err := runCLI(t, []string{"--dir", dir, "--user", "bob", "cells", "row", s(f.taxon)})
	if err != nil {
		t.Fatalf("cells row: %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal(out, &env); err != nil {
		t.Fatalf("json: %v", err)
	}
	row := dataList(t, env)
	if len(row) != 3 {
		t.Fatalf("expected 3 cells; got %d", len(row))
	}
	if got := row[0].(map[string]any)["lockedBy"]; got != "alice" {
		t.Fatalf("expected lockedBy alice; got %v", got)
	}
}
