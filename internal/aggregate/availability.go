package aggregate

import "voltline/internal/domain"

// Availability derives a worker's dispatch state. Presence set by the
// identity side wins over task load; otherwise an Assigned or InProgress
// task makes the worker OnTask.
func Availability(w domain.Worker, tasks []domain.WorkOrder) domain.Availability {
	if !w.Active {
		return domain.Offline
	}
	switch w.Presence {
	case domain.PresenceOffline:
		return domain.Offline
	case domain.PresenceBreak:
		return domain.OnBreak
	}
	for _, t := range tasks {
		if t.Status.Active() && t.AssignedTo(w.ID) {
			return domain.OnTask
		}
	}
	return domain.Available
}

func Performance(workerID string, tasks []domain.WorkOrder) domain.Performance {
	var p domain.Performance
	var sum float64
	var rated int
	for _, t := range tasks {
		if !t.AssignedTo(workerID) {
			continue
		}
		if t.Status == domain.StatusCompleted {
			p.TasksCompleted++
		}
		if t.Feedback != nil {
			sum += float64(t.Feedback.Rating)
			rated++
		}
	}
	p.AverageRating = ratio(sum, float64(rated))
	return p
}

// Enrich returns copies of the snapshot's workers with derived fields set.
// The results are never written back to the directory.
func Enrich(s Snapshot) []domain.Worker {
	out := make([]domain.Worker, 0, len(s.Workers))
	for _, w := range s.Workers {
		w.Availability = Availability(w, s.Tasks)
		perf := Performance(w.ID, s.Tasks)
		w.Performance = &perf
		out = append(out, w)
	}
	return out
}
