package schedule

// Package schedule is the core state coordinator between a presentation
// layer and the schedule store.
//
// Repository forwards store operations and turns the storage change feed
// into live snapshot sequences. Manager owns the observable view state:
// the visible list for the active scope, the set of dates that have
// entries, and the one-shot status signal consumed via
// AcknowledgeStatus.
