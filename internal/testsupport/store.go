package testsupport

import (
	"testing"

	"persistid/internal/config"
	"persistid/internal/localstore"
	"persistid/internal/logging"
)

// MustOpenStore opens a localstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *localstore.Store {
	t.Helper()

	store, err := localstore.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("localstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
