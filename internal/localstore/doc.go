// Package localstore persists the installation identifier and its last
// backup timestamp in SQLite.
//
// Values live in a single kv table keyed by (namespace, key). The store
// keeps an in-process latest-value stream of the identifier that is updated
// on every write and, when polling is enabled, on changes made by other
// processes sharing the database file. Schema changes bump schemaVersion in
// schema.go.
package localstore
