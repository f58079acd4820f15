// Package logging assembles the structured slog loggers used across
// persistid.
//
// It owns the console and JSON handlers, level parsing (including the
// verbose level below debug and "none"), output routing to stdout/stderr
// and log files, and small attribute helpers so components emit log lines
// with the same shape. A no-op logger is provided for tests and for wiring
// code that runs before configuration is available.
package logging
