package sink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"inbound-forecaster/pkg/forecast"
)

func TestWriteCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out", "forecast.csv")
	rows := []forecast.Row{
		{Date: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), ReserveCount: 12, ReserveSum: 30.5, FixedRatio: 0.25},
		{Date: time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), ReserveCount: 0, ReserveSum: 0, FixedRatio: 1},
	}
	if err := WriteCSV(path, rows); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "\ufeff") {
		t.Error("output should start with a UTF-8 BOM")
	}
	lines := strings.Split(strings.TrimSpace(strings.TrimPrefix(content, "\ufeff")), "\n")
	want := []string{
		"date,reserve_count,reserve_sum,fixed_ratio",
		"2024-04-01,12,30.5,0.25",
		"2024-04-02,0,0,1",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d: %q", len(lines), len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestWriteCSV_ReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forecast.csv")
	if err := os.WriteFile(path, []byte("stale contents that are longer than the new file\n"), 0o644); err != nil {
		t.Fatalf("seed output: %v", err)
	}
	rows := []forecast.Row{{Date: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), ReserveCount: 3}}
	if err := WriteCSV(path, rows); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if strings.Contains(string(data), "stale") {
		t.Errorf("old contents survived: %q", data)
	}

	// A directory in the way makes the final rename fail.
	blocked := filepath.Join(dir, "blocked.csv")
	if err := os.MkdirAll(filepath.Join(blocked, "keep"), 0o755); err != nil {
		t.Fatalf("create directory: %v", err)
	}
	if err := WriteCSV(blocked, rows); err == nil {
		t.Fatal("expected an error when the target is a directory")
	}
	if _, err := os.Stat(filepath.Join(blocked, "keep")); err != nil {
		t.Errorf("existing target was disturbed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temporary file %s left behind", e.Name())
		}
	}
}

type failingSink struct{ calls *int }

func (f failingSink) Name() string { return "failing" }
func (f failingSink) Write(context.Context, *forecast.Result) error {
	*f.calls++
	return errors.New("boom")
}

func TestMulti_ContinuesAfterFailure(t *testing.T) {
	calls := 0
	path := filepath.Join(t.TempDir(), "f.csv")
	m := Multi{failingSink{&calls}, &CSV{Path: path}}

	err := m.Write(context.Background(), &forecast.Result{})
	if err == nil || !strings.Contains(err.Error(), "failing sink: boom") {
		t.Errorf("expected the failing sink's error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("failing sink called %d times", calls)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("csv sink did not run after the failure: %v", err)
	}
}
