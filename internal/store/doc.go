// Package store persists the records automation actions write, the staged
// approval batches and per-rule statistics. MemoryStore keeps everything in
// process; PostgresStore runs on PostgreSQL through lib/pq.
package store
