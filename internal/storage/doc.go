package storage

// Package storage is the persistence layer for schedules.
//
// It owns:
//   - The schedule table (insert / full-row update / delete / date-scoped reads)
//   - Id assignment (monotonic, never reused)
//   - The change feed that live queries are built on
