// Package generator produces the raw platform identifier for a new
// installation.
//
// Sources are tried in priority order: the configured machine-id files
// (systemd and dbus locations by default), then a random UUID. A machine ID
// survives reinstallation of the application but is shared by everything
// on the host; a non-empty salt derives an application-scoped value from it
// instead of returning it raw.
package generator

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"persistid/internal/config"
	"persistid/internal/logging"
)

// Source names reported by LastSource.
const (
	SourceMachineID = "machine-id"
	SourceUUID      = "uuid"
)

const minMachineIDLength = 16

// Generator implements identifier.Generator.
type Generator struct {
	paths   []string
	salt    string
	logger  *slog.Logger
	newUUID func() (uuid.UUID, error)

	mu         sync.Mutex
	lastSource string
}

// New returns a generator reading machine IDs from paths in order.
func New(paths []string, salt string, logger *slog.Logger) *Generator {
	return &Generator{
		paths:   append([]string(nil), paths...),
		salt:    strings.TrimSpace(salt),
		logger:  logging.NewComponentLogger(logger, "generator"),
		newUUID: uuid.NewRandom,
	}
}

// FromConfig builds a generator from the [generator] section.
func FromConfig(cfg *config.Config, logger *slog.Logger) *Generator {
	return New(cfg.Generator.MachineIDPaths, cfg.Generator.Salt, logger)
}

// Generate returns the first valid machine ID, or a random UUID when none
// is available.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for _, path := range g.paths {
		raw, err := readMachineID(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				g.logger.Debug("machine id unreadable",
					logging.String("path", path),
					logging.Error(err),
				)
			}
			continue
		}
		if !validMachineID(raw) {
			g.logger.Debug("machine id rejected", logging.String("path", path))
			continue
		}
		g.logger.Debug("using machine id",
			logging.String(logging.FieldSource, SourceMachineID),
			logging.String("path", path),
			logging.Bool("salted", g.salt != ""),
		)
		g.setSource(SourceMachineID)
		return g.scope(raw), nil
	}

	id, err := g.newUUID()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	logging.WarnWithContext(g.logger, "using random uuid fallback", "generator_uuid_fallback",
		logging.String(logging.FieldSource, SourceUUID),
		logging.String(logging.FieldImpact, "the identifier only survives through the local store and backup"),
		logging.String(logging.FieldErrorHint, "configure generator.machine_id_paths to a readable machine id"),
	)
	g.setSource(SourceUUID)
	return id.String(), nil
}

// Validate accepts any non-blank identifier.
func (g *Generator) Validate(id string) bool {
	return strings.TrimSpace(id) != ""
}

// LastSource reports which source produced the most recent identifier, or
// "" before the first Generate.
func (g *Generator) LastSource() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastSource
}

func (g *Generator) setSource(source string) {
	g.mu.Lock()
	g.lastSource = source
	g.mu.Unlock()
}

// scope derives an application-specific ID so that the raw machine ID is
// never written to storage when a salt is configured.
func (g *Generator) scope(machineID string) string {
	if g.salt == "" {
		return machineID
	}
	mac := hmac.New(sha256.New, []byte(machineID))
	mac.Write([]byte(g.salt))
	return hex.EncodeToString(mac.Sum(nil))[:32]
}

func readMachineID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func validMachineID(value string) bool {
	if len(value) < minMachineIDLength {
		return false
	}
	if strings.EqualFold(value, "uninitialized") || strings.EqualFold(value, "unknown") {
		return false
	}
	return strings.Trim(value, "0-") != ""
}
