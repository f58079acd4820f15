package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRootCommandRejectsArgs(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"extra"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected positional arguments to be rejected")
	}
}

func TestRootCommandReportsConfigErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[logging]\nlevel = \"loud\"\n")
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config", path})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected invalid config to fail")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
