package logging_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"persistid/internal/config"
	"persistid/internal/logging"
)

func TestNewFromConfigConsole(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger instance")
	}
	logger.Info("hello")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "persistid.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "INFO hello") {
		t.Fatalf("expected console line in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller")

	content := readFile(t, logPath)
	if strings.Contains(content, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "debug",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "identifier").Info("message with caller", logging.String("tier", "local"))

	content := readFile(t, logPath)
	if !strings.Contains(content, "logger_test.go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
	if !strings.Contains(content, "identifier: message with caller") {
		t.Fatalf("expected component prefix, got %q", content)
	}
	if !strings.Contains(content, "tier=local") {
		t.Fatalf("expected attribute, got %q", content)
	}
}

func TestJSONLoggerFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "run.log")
	logger, err := logging.New(logging.Options{
		Format:      "json",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.WarnWithContext(logger, "remote backup failed", "remote_backup_failed", logging.Error(os.ErrDeadlineExceeded))

	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readFile(t, logPath))), &record); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	if record["level"] != "warn" {
		t.Fatalf("level = %v, want warn", record["level"])
	}
	if record[logging.FieldEventType] != "remote_backup_failed" {
		t.Fatalf("event_type = %v", record[logging.FieldEventType])
	}
	for _, key := range []string{logging.FieldErrorHint, logging.FieldImpact, "ts"} {
		if _, ok := record[key]; !ok {
			t.Fatalf("expected %q in %v", key, record)
		}
	}
}

func TestVerboseLevel(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "verbose.log")
	for _, level := range []string{"debug", "verbose"} {
		logger, err := logging.New(logging.Options{Level: level, OutputPaths: []string{logPath}})
		if err != nil {
			t.Fatalf("New(%s): %v", level, err)
		}
		logging.Verbose(logger, "cache hit "+level)
	}
	content := readFile(t, logPath)
	if strings.Contains(content, "cache hit debug") {
		t.Fatalf("verbose record leaked at debug level: %q", content)
	}
	if !strings.Contains(content, "VERBOSE") || !strings.Contains(content, "cache hit verbose") {
		t.Fatalf("expected verbose record, got %q", content)
	}
}

func TestJSONLoggerLabelsVerboseLevel(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "verbose.json")
	logger, err := logging.New(logging.Options{Format: "json", Level: "verbose", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.Verbose(logger, "identifier served from cache")

	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readFile(t, logPath))), &record); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	if record["level"] != "verbose" {
		t.Fatalf("level = %v, want verbose", record["level"])
	}
	if record["msg"] != "identifier served from cache" {
		t.Fatalf("msg = %v", record["msg"])
	}
}

func TestLevelNoneIsNop(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "none.log")
	logger, err := logging.New(logging.Options{Level: "none", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Error("dropped")
	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Fatalf("expected no log file, stat err = %v", err)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml", OutputPaths: []string{filepath.Join(t.TempDir(), "x.log")}}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestTeeLoggerWritesBoth(t *testing.T) {
	dir := t.TempDir()
	consolePath := filepath.Join(dir, "console.log")
	jsonPath := filepath.Join(dir, "run.log")
	base, err := logging.New(logging.Options{OutputPaths: []string{consolePath}})
	if err != nil {
		t.Fatal(err)
	}
	file, err := logging.New(logging.Options{Format: "json", OutputPaths: []string{jsonPath}})
	if err != nil {
		t.Fatal(err)
	}
	logging.TeeLogger(base, file.Handler()).Info("both")

	if !strings.Contains(readFile(t, consolePath), "INFO both") {
		t.Fatal("expected console copy")
	}
	if !strings.Contains(readFile(t, jsonPath), `"msg":"both"`) {
		t.Fatal("expected json copy")
	}
}

func TestPruneRunLogs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "persistidd-old.log")
	current := filepath.Join(dir, "persistidd-current.log")
	fresh := filepath.Join(dir, "persistidd-fresh.log")
	other := filepath.Join(dir, "other.log")
	for _, p := range []string{old, current, fresh, other} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	stale := time.Now().AddDate(0, 0, -10)
	for _, p := range []string{old, current, other} {
		if err := os.Chtimes(p, stale, stale); err != nil {
			t.Fatal(err)
		}
	}

	removed := logging.PruneRunLogs(logging.NewNop(), dir, "persistidd-*.log", current, 7)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("expected stale run log removed")
	}
	for _, p := range []string{current, fresh, other} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s kept: %v", filepath.Base(p), err)
		}
	}

	if got := logging.PruneRunLogs(nil, dir, "*.log", "", 0); got != 0 {
		t.Fatalf("zero retention removed %d files", got)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
