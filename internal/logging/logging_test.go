package logging

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDefaultLogPath(t *testing.T) {
	path := DefaultLogPath()
	if filepath.Base(path) != "bibsearch.log" {
		t.Errorf("DefaultLogPath should end with bibsearch.log, got: %s", path)
	}
	if !strings.Contains(path, filepath.Join(".bibsearch", "logs")) {
		t.Errorf("DefaultLogPath should live under .bibsearch/logs, got: %s", path)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected level 'info', got: %s", cfg.Level)
	}
	if cfg.MaxSizeMB != 10 || cfg.MaxFiles != 5 {
		t.Errorf("unexpected rotation defaults: %d MB, %d files", cfg.MaxSizeMB, cfg.MaxFiles)
	}
	if !cfg.WriteToStderr {
		t.Error("expected WriteToStderr to be true")
	}
	if DebugConfig().Level != "debug" {
		t.Error("expected DebugConfig level 'debug'")
	}
}

func TestServeConfig_NeverWritesToStderr(t *testing.T) {
	cfg := ServeConfig("warn")
	if cfg.WriteToStderr {
		t.Error("serve logging must not write to stderr")
	}
	if cfg.Level != "warn" {
		t.Errorf("expected level 'warn', got: %s", cfg.Level)
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	logger, cleanup, err := Setup(Config{Level: "debug", FilePath: logPath, MaxSizeMB: 1, MaxFiles: 3})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logger.Info("index_started", slog.Int("entries", 4))
	logger.Debug("debug_line")
	cleanup()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file not readable: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %q", len(lines), data)
	}
	e := ParseLine(lines[0])
	if !e.Valid || e.Msg != "index_started" || e.Attrs["entries"] != float64(4) {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestSetup_LevelFiltersLowerLevels(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "level.log")

	logger, cleanup, err := Setup(Config{Level: "warn", FilePath: logPath})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept")
	cleanup()

	data, _ := os.ReadFile(logPath)
	if strings.Contains(string(data), "dropped") || !strings.Contains(string(data), "kept") {
		t.Errorf("level filter not applied: %q", data)
	}
}

func TestSetup_NoFileNoStderr_Discards(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "info"})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer cleanup()
	logger.Info("nowhere")
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := LevelFromString(tt.input); got != tt.want {
			t.Errorf("LevelFromString(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestFindLogFile_ExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.log")
	if _, err := FindLogFile(path); err == nil {
		t.Error("expected error for missing explicit file")
	}

	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FindLogFile(path)
	if err != nil || got != path {
		t.Errorf("FindLogFile(%q) = %q, %v", path, got, err)
	}
}

func TestRotatingWriter_Rotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rotate.log")
	w, err := newRotatingWriter(logPath, 1024, 3)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Close()

	chunk := bytes.Repeat([]byte("x"), 700)
	for i := 0; i < 2; i++ {
		if _, err := w.Write(chunk); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Error("rotated file .1 should exist")
	}
	info, err := os.Stat(logPath)
	if err != nil || info.Size() != 700 {
		t.Errorf("current file should hold only the second write, got %v %v", info, err)
	}
}

func TestRotatingWriter_MaxFilesLimit(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "maxfiles.log")
	w, err := newRotatingWriter(logPath, 10, 2)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Close()

	for i := 0; i < 6; i++ {
		if _, err := fmt.Fprintf(w, "line %d data\n", i); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	if _, err := os.Stat(logPath + ".2"); err != nil {
		t.Error("rotated file .2 should exist")
	}
	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Error("rotated file .3 should not exist (beyond maxFiles)")
	}
	data, _ := os.ReadFile(logPath + ".1")
	if string(data) != "line 4 data\n" {
		t.Errorf(".1 should hold the newest rotated line, got %q", data)
	}
}

func TestRotatingWriter_AppendsToExistingFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "append.log")
	if err := os.WriteFile(logPath, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewRotatingWriter(logPath, 1, 3)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	_, _ = w.Write([]byte("new\n"))
	_ = w.Close()

	data, _ := os.ReadFile(logPath)
	if string(data) != "old\nnew\n" {
		t.Errorf("expected append, got %q", data)
	}
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	w, err := NewRotatingWriter(filepath.Join(t.TempDir(), "closed.log"), 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if _, err := w.Write([]byte("late")); err == nil {
		t.Error("expected error writing to a closed writer")
	}
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "concurrent.log")
	w, err := NewRotatingWriter(logPath, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	w.SetSyncEachWrite(false)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = fmt.Fprintf(w, "g%d-%d\n", g, i)
			}
		}(g)
	}
	wg.Wait()
	_ = w.Close()

	data, _ := os.ReadFile(logPath)
	if n := strings.Count(string(data), "\n"); n != 400 {
		t.Errorf("expected 400 lines, got %d", n)
	}
}

func TestParseLine(t *testing.T) {
	e := ParseLine(`{"time":"2026-01-02T03:04:05.123Z","level":"WARN","msg":"file_index_failed","path":"/a.pdf"}`)
	if !e.Valid {
		t.Fatal("expected valid entry")
	}
	if e.Level != "WARN" || e.Msg != "file_index_failed" || e.Attrs["path"] != "/a.pdf" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if _, ok := e.Attrs["msg"]; ok {
		t.Error("standard fields should not be repeated in Attrs")
	}

	bad := ParseLine("not json")
	if bad.Valid || bad.Raw != "not json" {
		t.Errorf("unexpected entry for invalid line: %+v", bad)
	}
}

func TestViewer_Format(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, nil)
	e := ParseLine(`{"time":"2026-01-02T03:04:05.123Z","level":"INFO","msg":"search_completed","query":"test","hits":2}`)

	got := v.Format(e)
	want := "03:04:05.123 INFO  search_completed hits=2 query=test"
	if got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
	if v.Format(ParseLine("raw text")) != "raw text" {
		t.Error("invalid lines should be returned raw")
	}
}

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "view.log")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestViewer_Tail_LastNWithFilters(t *testing.T) {
	path := writeLog(t,
		`{"level":"INFO","msg":"one"}`,
		`{"level":"DEBUG","msg":"two"}`,
		`{"level":"ERROR","msg":"three"}`,
		`{"level":"INFO","msg":"four"}`,
	)

	all, err := NewViewer(ViewerConfig{}, nil).Tail(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Msg != "two" || all[2].Msg != "four" {
		t.Errorf("unexpected tail: %+v", all)
	}

	info, _ := NewViewer(ViewerConfig{Level: "info"}, nil).Tail(path, 10)
	if len(info) != 3 {
		t.Errorf("level filter should drop debug, got %d entries", len(info))
	}

	pat, _ := NewViewer(ViewerConfig{Pattern: regexp.MustCompile("th")}, nil).Tail(path, 10)
	if len(pat) != 1 || pat[0].Msg != "three" {
		t.Errorf("pattern filter failed: %+v", pat)
	}
}

func TestViewer_Tail_NonexistentFile(t *testing.T) {
	if _, err := NewViewer(ViewerConfig{}, nil).Tail("/nonexistent/bibsearch.log", 10); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestViewer_Follow_SeesAppendedLines(t *testing.T) {
	path := writeLog(t, `{"level":"INFO","msg":"before"}`)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries := make(chan LogEntry, 4)
	done := make(chan error, 1)
	go func() { done <- NewViewer(ViewerConfig{}, nil).Follow(ctx, path, entries) }()

	// Give Follow time to seek to the end before appending.
	time.Sleep(150 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString(`{"level":"INFO","msg":"after"}` + "\n")
	_ = f.Close()

	select {
	case e := <-entries:
		if e.Msg != "after" {
			t.Errorf("expected appended entry, got %q", e.Msg)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for followed entry")
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Follow returned %v", err)
	}
}

func TestViewer_Print(t *testing.T) {
	var buf bytes.Buffer
	v := NewViewer(ViewerConfig{NoColor: true}, &buf)
	v.Print([]LogEntry{ParseLine("a"), ParseLine("b")})
	if buf.String() != "a\nb\n" {
		t.Errorf("unexpected output %q", buf.String())
	}
}
