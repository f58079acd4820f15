// Package preflight provides readiness checks for the filesystem paths and
// services persistid depends on.
//
// The daemon runs RunAll at startup and logs failures without aborting,
// since the remote tier is best-effort. The CLI "persistid status" command
// renders the same results as a table.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
