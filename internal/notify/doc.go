package notify

// Package notify schedules future local alerts for schedule records.
//
// Reminders are minute-granular (date + HH:MM), so dispatch is a
// per-minute cron sweep over a pending set rather than one timer per
// record. Delivery goes through a Sender, rate limited and retried;
// failures are logged and never propagate to the write that armed the
// reminder.
