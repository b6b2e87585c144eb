package schedule

import "time"

// Plan describes the campaign boundaries the planner works within.
// Interval is the spacing between consecutive slots.
type Plan struct {
	Start    time.Time
	End      time.Time
	Interval time.Duration
}

// Assignment maps item ids to their planned publish instants. Ids that
// did not fit before the campaign end are absent.
type Assignment map[int64]time.Time

// Assign lays out one slot per id, in the given order, starting at the
// campaign start and spaced by the plan interval. Slots always land
// inside the active window; a slot that would fall after the window end
// is pushed to the next day's window start.
//
// The campaign end boundary is exclusive: a slot is assignable only
// while its computed start is strictly before Plan.End. Once the cursor
// reaches the end, the remaining ids get no assignment.
//
// Assign is a pure function: identical inputs produce identical output.
func Assign(p Plan, w Window, ids []int64) Assignment {
	out := make(Assignment, len(ids))
	if p.Interval <= 0 || !p.End.After(p.Start) {
		return out
	}

	cursor := w.NextActive(p.Start)
	for _, id := range ids {
		if !cursor.Before(p.End) {
			break
		}
		out[id] = cursor
		cursor = w.NextActive(cursor.Add(p.Interval))
	}
	return out
}
