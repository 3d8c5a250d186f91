// Package storage persists the reminder task book.
//
// Drivers:
//   - file: a single JSON document replaced atomically on every save
//   - sqlite: a SQLite database (pure Go driver), rows replaced in one transaction
//   - memory: process-local, for tests and dry runs
package storage
