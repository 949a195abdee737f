// Package stores persists component configurations and their validation
// history. The SQLite implementation runs in WAL mode, applies embedded
// golang-migrate migrations and keeps one row per component plus an
// append-only log of validation passes.
package stores
