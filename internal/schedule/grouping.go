package schedule

import (
	"sort"

	"planbook/internal/storage"
)

// Group is one date's worth of schedules in the all-scope view.
type Group struct {
	Date      string
	Schedules []storage.Schedule
}

// GroupByDate partitions records by date and orders the groups by
// ascending parsed calendar date. Parsing, not raw string comparison, is
// deliberate: lexicographic order only coincides with calendar order for
// strictly canonical dates. Within a group records are ordered by
// ascending id so the result is deterministic for a fixed store state.
func GroupByDate(recs []storage.Schedule) []Group {
	sorted := make([]storage.Schedule, len(recs))
	copy(sorted, recs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Date != sorted[j].Date {
			return dateLess(sorted[i].Date, sorted[j].Date)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var groups []Group
	for _, r := range sorted {
		if n := len(groups); n > 0 && groups[n-1].Date == r.Date {
			groups[n-1].Schedules = append(groups[n-1].Schedules, r)
			continue
		}
		groups = append(groups, Group{Date: r.Date, Schedules: []storage.Schedule{r}})
	}
	return groups
}

// Flatten concatenates the groups' records, preserving group order.
func Flatten(groups []Group) []storage.Schedule {
	var out []storage.Schedule
	for _, g := range groups {
		out = append(out, g.Schedules...)
	}
	return out
}

// DistinctDates returns the distinct dates present in recs, ordered
// ascending by parsed date.
func DistinctDates(recs []storage.Schedule) []string {
	seen := make(map[string]struct{}, len(recs))
	var out []string
	for _, r := range recs {
		if _, ok := seen[r.Date]; ok {
			continue
		}
		seen[r.Date] = struct{}{}
		out = append(out, r.Date)
	}
	sort.Slice(out, func(i, j int) bool { return dateLess(out[i], out[j]) })
	return out
}

func dateLess(a, b string) bool {
	ta, aok := parseDate(a)
	tb, bok := parseDate(b)
	if aok && bok {
		return ta.Before(tb)
	}
	// Non-canonical legacy dates sort by raw string after canonical ones.
	if aok != bok {
		return aok
	}
	return a < b
}
