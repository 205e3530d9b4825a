// Package storage persists key state and history. It maps the in-memory
// pool onto three tables (key_states, import_history, usage_history)
// behind the Store interface, with gorm implementations for SQLite, MySQL
// and PostgreSQL.
//
// Hot-path durability goes through the Writer: mutations are staged in
// memory, last write wins per key, and a single background goroutine
// flushes batches on a timer. A failed flush keeps its batch staged and
// retries on the next tick, so a slow or absent database never blocks or
// fails selection.
package storage
