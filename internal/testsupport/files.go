package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteMachineID writes a machine-id style file, creating parent
// directories.
func WriteMachineID(t testing.TB, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content+"\n"), 0o444); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
