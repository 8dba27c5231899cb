package logs

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_FansOutToStderrAndFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "scorematrix.log")

	l, closeFn, err := New(Options{Level: "info", Stderr: &buf, File: path})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	l.Debug("hidden on stderr", "cell", "t1:c2")
	l.Info("commit saved", "cell", "t1:c2")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.Contains(buf.String(), "commit saved") {
		t.Fatalf("expected info line on stderr; got %q", buf.String())
	}
	if strings.Contains(buf.String(), "hidden on stderr") {
		t.Fatalf("debug line should be filtered on stderr")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"hidden on stderr"`) {
		t.Fatalf("expected debug line in json log file; got %s", b)
	}
}

func TestParseLevel(t *testing.T) {
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error")
	}
	if lvl, err := ParseLevel(""); err != nil || lvl.String() != "WARN" {
		t.Fatalf("expected default warn; got %v err=%v", lvl, err)
	}
}
