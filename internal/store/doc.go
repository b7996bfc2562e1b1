// Package store provides SQLite-backed storage for harvest batches received
// by the local collector.
//
// The store is an append-only log with:
//   - Batches: one row per accepted harvest payload
//   - Records: one row per interaction record inside a batch
//
// # Idempotency
//
// Batches are content addressed: payload_hash is the SHA-256 of the raw
// payload and is UNIQUE. A resent batch (after a retry response that the
// collector did in fact store) is silently ignored and resolves to the
// original batch id.
//
// # Ordering
//
// Every query orders by id (batches) or (batch_id, idx) (records), so reads
// are deterministic.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: records must reference a batch
package store
