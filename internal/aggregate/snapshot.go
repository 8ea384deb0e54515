// Package aggregate derives dashboard statistics and report payloads from a
// committed snapshot of work orders, issues, workers and feed events. Every
// function here is pure; caching and snapshot loading live in the engine.
package aggregate

import (
	"time"

	"voltline/internal/domain"
)

type Snapshot struct {
	Tasks   []domain.WorkOrder
	Issues  []domain.Issue
	Workers []domain.Worker
	Events  []domain.ActivityEvent
	Loc     *time.Location
}

func (s Snapshot) loc() *time.Location {
	if s.Loc == nil {
		return time.UTC
	}
	return s.Loc
}

// ForWorker narrows the snapshot to one assignee's tasks and the issues
// raised on them.
func (s Snapshot) ForWorker(workerID string) Snapshot {
	out := Snapshot{Loc: s.Loc}
	ids := map[string]bool{}
	for _, t := range s.Tasks {
		if t.AssignedTo(workerID) {
			out.Tasks = append(out.Tasks, t)
			ids[t.ID] = true
		}
	}
	for _, is := range s.Issues {
		if ids[is.TaskID] {
			out.Issues = append(out.Issues, is)
		}
	}
	for _, w := range s.Workers {
		if w.ID == workerID {
			out.Workers = append(out.Workers, w)
		}
	}
	for _, e := range s.Events {
		if e.Actor == workerID {
			out.Events = append(out.Events, e)
		}
	}
	return out
}

func (s Snapshot) worker(id string) (domain.Worker, bool) {
	for _, w := range s.Workers {
		if w.ID == id {
			return w, true
		}
	}
	return domain.Worker{}, false
}

// Range is a half-open time interval [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Day returns the calendar day containing t in loc.
func Day(t time.Time, loc *time.Location) Range {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return Range{Start: start, End: start.AddDate(0, 0, 1)}
}

// Month returns the calendar month containing t in loc.
func Month(t time.Time, loc *time.Location) Range {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	return Range{Start: start, End: start.AddDate(0, 1, 0)}
}

// TaskTime places a task on the timeline: its scheduled start, or its
// creation time when the schedule cannot be parsed.
func TaskTime(t domain.WorkOrder, loc *time.Location) time.Time {
	if at, err := t.Schedule.StartAt(loc); err == nil {
		return at
	}
	if at, err := t.Schedule.Day(loc); err == nil {
		return at
	}
	return t.CreatedAt
}

func (s Snapshot) tasksIn(r Range) []domain.WorkOrder {
	var out []domain.WorkOrder
	for _, t := range s.Tasks {
		if r.Contains(TaskTime(t, s.loc())) {
			out = append(out, t)
		}
	}
	return out
}

// onTime reports whether a completed task finished by its scheduled end.
func onTime(t domain.WorkOrder, loc *time.Location) bool {
	if t.Actuals.CompletedAt == nil {
		return false
	}
	end, err := t.Schedule.EndAt(loc)
	if err != nil {
		return false
	}
	return !t.Actuals.CompletedAt.After(end)
}

func durationHours(t domain.WorkOrder) (float64, bool) {
	if t.Actuals.StartedAt == nil || t.Actuals.CompletedAt == nil {
		return 0, false
	}
	return t.Actuals.CompletedAt.Sub(*t.Actuals.StartedAt).Hours(), true
}

// ratio divides guarding against a zero denominator.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
