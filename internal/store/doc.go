// Package store provides SQLite-backed durable storage for installed rules
// and the derived event log.
//
// The store is append-only for events:
//   - Rules: install index, definition JSON and content hash per rule ID
//   - Events: every delivered derived event with its lineage bookkeeping
//     (seq, depth, rule, parent)
//
// # Ordering
//
// All ordering uses seq INTEGER (the engine's logical clock), never
// timestamps. Queries include ORDER BY seq ASC, id ASC COLLATE BINARY so
// results are identical across reads.
//
// # Idempotency
//
// An event is identified by (lineage, id). Derived IDs are content
// addresses, so the same derivation recorded twice within a lineage is one
// row, while a resubmitted external event starts a new lineage and is
// logged again.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - A single open connection: SQLite allows one writer
package store
