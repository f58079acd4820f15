package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"persistid/internal/clock"
	"persistid/internal/logging"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckStorePath verifies that the store file, or its directory when the
// file does not exist yet, is writable.
func CheckStorePath(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "path not configured"}
	}
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", path)}
	case err == nil:
		if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
	case os.IsNotExist(err):
		parent := CheckDirectoryAccess(name, filepath.Dir(path))
		if !parent.Passed {
			return parent
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (will be created)", path)}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
}

// CheckMachineID reports the first readable machine-id source. A missing
// source is not fatal because the generator falls back to a random UUID.
func CheckMachineID(name string, paths []string) Result {
	for _, path := range paths {
		if err := unix.Access(path, unix.R_OK); err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil || strings.TrimSpace(string(data)) == "" {
			continue
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (readable)", path)}
	}
	return Result{Name: name, Detail: "no readable machine id; new identifiers will be random"}
}

// CheckNTP queries server once and reports the clock offset.
func CheckNTP(ctx context.Context, server string, maxOffset time.Duration) Result {
	const name = "NTP clock"
	if strings.TrimSpace(server) == "" {
		return Result{Name: name, Passed: true, Detail: "disabled (host clock)"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status := clock.NewNTP(server, maxOffset, logging.NewNop()).Refresh(checkCtx)
	switch status.Phase {
	case clock.PhaseHealthy:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (offset %s)", server, status.Offset.Round(time.Millisecond))}
	case clock.PhaseDrifted:
		return Result{Name: name, Detail: fmt.Sprintf("%s (host drifted by %s)", server, status.Offset.Round(time.Millisecond))}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s)", server, status.Error)}
	}
}
