package aggregate

import (
	"time"

	"voltline/internal/domain"
)

// DashboardStats is the shared dashboard payload. "Today" counters cover
// tasks whose schedule date equals the as-of date in the company timezone.
// Rates are fractions in [0,1]; every ratio is 0 when its denominator is.
type DashboardStats struct {
	AsOf string `json:"as_of"`

	PendingToday    int `json:"pending_today"`
	AssignedToday   int `json:"assigned_today"`
	InProgressToday int `json:"in_progress_today"`
	CompletedToday  int `json:"completed_today"`
	CancelledToday  int `json:"cancelled_today"`
	TodayTotal      int `json:"today_total"`

	TotalTasks         int `json:"total_tasks"`
	TotalPending       int `json:"total_pending"`
	TotalInProgress    int `json:"total_in_progress"`
	TotalCompleted     int `json:"total_completed"`
	CompletedThisMonth int `json:"completed_this_month"`

	OnTimeRate         float64 `json:"on_time_rate"`
	AvgRating          float64 `json:"avg_rating"`
	RatedTasks         int     `json:"rated_tasks"`
	AvgCompletionHours float64 `json:"avg_completion_hours"`
	ChargesThisMonth   float64 `json:"charges_this_month"`

	OpenIssues   int `json:"open_issues"`
	UrgentIssues int `json:"urgent_issues"`

	TeamSize              int                 `json:"team_size"`
	ActiveElectricians    int                 `json:"active_electricians"`
	AvailableElectricians int                 `json:"available_electricians"`
	TotalUsers            int                 `json:"total_users"`
	UsersByRole           map[domain.Role]int `json:"users_by_role"`
}

func Dashboard(s Snapshot, asOf time.Time) DashboardStats {
	loc := s.loc()
	today := asOf.In(loc).Format(domain.DateLayout)
	month := Month(asOf, loc)
	st := DashboardStats{AsOf: today, UsersByRole: map[domain.Role]int{}}

	var (
		onTimeCount     int
		ratingSum       float64
		durationSum     float64
		durationSamples int
	)
	for _, t := range s.Tasks {
		st.TotalTasks++
		if t.Schedule.Date == today {
			st.TodayTotal++
			switch t.Status {
			case domain.StatusPending:
				st.PendingToday++
			case domain.StatusAssigned:
				st.AssignedToday++
			case domain.StatusInProgress:
				st.InProgressToday++
			case domain.StatusCompleted:
				st.CompletedToday++
			case domain.StatusCancelled:
				st.CancelledToday++
			}
		}
		switch t.Status {
		case domain.StatusPending:
			st.TotalPending++
		case domain.StatusInProgress:
			st.TotalInProgress++
		case domain.StatusCompleted:
			st.TotalCompleted++
			if t.Actuals.CompletedAt != nil && month.Contains(*t.Actuals.CompletedAt) {
				st.CompletedThisMonth++
				st.ChargesThisMonth += t.Actuals.AdditionalCharges
			}
			if onTime(t, loc) {
				onTimeCount++
			}
			if h, ok := durationHours(t); ok {
				durationSum += h
				durationSamples++
			}
		}
		if t.Feedback != nil {
			ratingSum += float64(t.Feedback.Rating)
			st.RatedTasks++
		}
	}
	st.OnTimeRate = ratio(float64(onTimeCount), float64(st.TotalCompleted))
	st.AvgRating = ratio(ratingSum, float64(st.RatedTasks))
	st.AvgCompletionHours = ratio(durationSum, float64(durationSamples))

	for _, is := range s.Issues {
		if is.Status == domain.IssueResolved {
			continue
		}
		st.OpenIssues++
		if is.Priority == domain.IssueUrgent || is.Priority == domain.IssueEmergency {
			st.UrgentIssues++
		}
	}

	for _, w := range s.Workers {
		st.TotalUsers++
		st.UsersByRole[w.Role]++
		if w.Role != domain.RoleElectrician || !w.Active {
			continue
		}
		st.TeamSize++
		switch Availability(w, s.Tasks) {
		case domain.Available:
			st.AvailableElectricians++
			st.ActiveElectricians++
		case domain.OnTask:
			st.ActiveElectricians++
		}
	}
	return st
}

// WorkerDashboard restricts Dashboard to one assignee.
func WorkerDashboard(s Snapshot, workerID string, asOf time.Time) DashboardStats {
	return Dashboard(s.ForWorker(workerID), asOf)
}

type WorkerPerformance struct {
	WorkerID           string  `json:"worker_id"`
	Name               string  `json:"name"`
	TotalTasks         int     `json:"total_tasks"`
	CompletedTasks     int     `json:"completed_tasks"`
	InProgressTasks    int     `json:"in_progress_tasks"`
	CompletionRate     float64 `json:"completion_rate"`
	AverageRating      float64 `json:"average_rating"`
	RatedTasks         int     `json:"rated_tasks"`
	OnTimeRate         float64 `json:"on_time_rate"`
	AvgCompletionHours float64 `json:"avg_completion_hours"`
	Charges            float64 `json:"charges"`
}

// PerformanceFor covers the worker's tasks whose timeline position falls in r.
func PerformanceFor(s Snapshot, workerID string, r Range) WorkerPerformance {
	p := WorkerPerformance{WorkerID: workerID}
	if w, ok := s.worker(workerID); ok {
		p.Name = w.Name
	}
	loc := s.loc()
	var ratingSum, durationSum float64
	var onTimeCount, durationSamples int
	for _, t := range s.tasksIn(r) {
		if !t.AssignedTo(workerID) {
			continue
		}
		p.TotalTasks++
		switch t.Status {
		case domain.StatusInProgress:
			p.InProgressTasks++
		case domain.StatusCompleted:
			p.CompletedTasks++
			p.Charges += t.Actuals.AdditionalCharges
			if onTime(t, loc) {
				onTimeCount++
			}
			if h, ok := durationHours(t); ok {
				durationSum += h
				durationSamples++
			}
		}
		if t.Feedback != nil {
			ratingSum += float64(t.Feedback.Rating)
			p.RatedTasks++
		}
	}
	p.CompletionRate = ratio(float64(p.CompletedTasks), float64(p.TotalTasks))
	p.AverageRating = ratio(ratingSum, float64(p.RatedTasks))
	p.OnTimeRate = ratio(float64(onTimeCount), float64(p.CompletedTasks))
	p.AvgCompletionHours = ratio(durationSum, float64(durationSamples))
	return p
}
