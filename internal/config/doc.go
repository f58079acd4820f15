// Package config loads, normalizes, and validates persistid configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// PERSISTID_BACKUP_DIR. Always obtain settings through this package so
// downstream code receives absolute paths and clear validation errors.
package config
