// Package store provides the persisted per-user record and the stores
// that hold it.
//
// A UserRecord is a schemaless JSON-shaped document addressed by dot-path.
// Stores implement a narrow read-modify-write contract: Get returns the
// current record and Update applies a map of independent dot-path writes,
// leaving every unnamed field untouched. Two implementations are provided:
// an in-memory store for tests and single-process deployments, and a
// SQLite-backed store for durability across restarts.
package store
