// Package store provides SQLite-backed durable storage for precompiled
// patterns.
//
// Rows are keyed by content_id, the content-addressed identity of a
// pattern's (type, source) pair, with a second uniqueness constraint on
// (name, pattern_type):
//   - Save is an upsert by content_id: compiling the same source twice
//     leaves exactly one row
//   - A different source under an existing (name, type) is a
//     ConflictError unless written through Replace
//
// # Transactions
//
// Every write runs in an explicit *sql.Tx. Callers that need several writes
// to commit together begin their own transaction and pass it to SaveTx;
// nothing depends on an ambient "current" connection.
//
// # Front cache
//
// A bounded LRU fronts GetByID; GetByID and FindByName fill it on a database
// read. Entries are invalidated per content_id on save and delete, and
// dropped wholesale by EvictCache, which the cache manager calls under
// memory pressure. A fill whose read raced an invalidation is dropped. The
// durable table is never evicted.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Metadata is stored as canonical JSON (internal/ir/canonical.go).
package store
