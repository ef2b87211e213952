// Package storage keeps the local audit trail of operator actions: task
// edits, tag edits, imports and broadcasts, with their outcome.
//
// Drivers:
//   - "file": JSON Lines next to the configured path
//   - "sqlite": SQLite database (build with -tags sqlite)
package storage
