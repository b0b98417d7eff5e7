// Package store keeps the history of harness runs in SQLite.
//
// Each run gets a time-sortable UUIDv7 id and one row per executed
// scenario, including the evaluated expectations as JSON. Rows are only
// ever inserted; a run is written in one transaction after it finishes.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads (history) while a run is being written
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: scenario rows belong to an existing run
package store
