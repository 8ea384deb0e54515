package aggregate

import (
	"sort"
	"strings"
	"time"

	"voltline/internal/domain"
)

type WorkloadEntry struct {
	WorkerID   string `json:"worker_id"`
	Name       string `json:"name"`
	Tasks      int    `json:"tasks"`
	Completed  int    `json:"completed"`
	InProgress int    `json:"in_progress"`
}

type TeamSummary struct {
	TotalElectricians     int             `json:"total_electricians"`
	TotalTasksHandled     int             `json:"total_tasks_handled"`
	TotalCompleted        int             `json:"total_completed"`
	OverallCompletionRate float64         `json:"overall_completion_rate"`
	AverageRating         float64         `json:"average_rating"`
	WorkloadDistribution  []WorkloadEntry `json:"workload_distribution"`
}

// Team summarises assigned tasks in r. Every active electrician appears in
// the workload distribution, including those with no tasks.
func Team(s Snapshot, r Range) TeamSummary {
	var ts TeamSummary
	load := map[string]*WorkloadEntry{}
	for _, w := range s.Workers {
		if w.Role == domain.RoleElectrician && w.Active {
			ts.TotalElectricians++
			load[w.ID] = &WorkloadEntry{WorkerID: w.ID, Name: w.Name}
		}
	}
	var ratingSum float64
	var rated int
	for _, t := range s.tasksIn(r) {
		if t.AssigneeID == nil {
			continue
		}
		ts.TotalTasksHandled++
		e, ok := load[*t.AssigneeID]
		if !ok {
			e = &WorkloadEntry{WorkerID: *t.AssigneeID}
			if w, found := s.worker(*t.AssigneeID); found {
				e.Name = w.Name
			}
			load[*t.AssigneeID] = e
		}
		e.Tasks++
		switch t.Status {
		case domain.StatusCompleted:
			e.Completed++
			ts.TotalCompleted++
		case domain.StatusInProgress:
			e.InProgress++
		}
		if t.Feedback != nil {
			ratingSum += float64(t.Feedback.Rating)
			rated++
		}
	}
	ts.OverallCompletionRate = ratio(float64(ts.TotalCompleted), float64(ts.TotalTasksHandled))
	ts.AverageRating = ratio(ratingSum, float64(rated))
	ts.WorkloadDistribution = make([]WorkloadEntry, 0, len(load))
	for _, e := range load {
		ts.WorkloadDistribution = append(ts.WorkloadDistribution, *e)
	}
	sort.Slice(ts.WorkloadDistribution, func(i, j int) bool {
		a, b := ts.WorkloadDistribution[i], ts.WorkloadDistribution[j]
		if a.Tasks != b.Tasks {
			return a.Tasks > b.Tasks
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.WorkerID < b.WorkerID
	})
	return ts
}

type TaskAnalytics struct {
	TotalTasks       int                          `json:"total_tasks"`
	Completed        int                          `json:"completed"`
	Cancelled        int                          `json:"cancelled"`
	CompletionRate   float64                      `json:"completion_rate"`
	CancellationRate float64                      `json:"cancellation_rate"`
	ByStatus         map[domain.TaskStatus]int    `json:"by_status"`
	ByPriority       map[domain.Priority]int      `json:"by_priority"`
	AvgDurationHours float64                      `json:"avg_duration_hours"`
	AvgEstimateHours float64                      `json:"avg_estimate_hours"`
	TotalCharges     float64                      `json:"total_charges"`
	IssuesRaised     int                          `json:"issues_raised"`
	IssuesByType     map[domain.IssueType]int     `json:"issues_by_type"`
	IssuesByPriority map[domain.IssuePriority]int `json:"issues_by_priority"`
}

func Analytics(s Snapshot, r Range) TaskAnalytics {
	a := TaskAnalytics{
		ByStatus:         map[domain.TaskStatus]int{},
		ByPriority:       map[domain.Priority]int{},
		IssuesByType:     map[domain.IssueType]int{},
		IssuesByPriority: map[domain.IssuePriority]int{},
	}
	var durationSum, estimateSum float64
	var durationSamples int
	for _, t := range s.tasksIn(r) {
		a.TotalTasks++
		a.ByStatus[t.Status]++
		a.ByPriority[t.Priority]++
		estimateSum += t.Schedule.EstimatedHours
		switch t.Status {
		case domain.StatusCompleted:
			a.Completed++
			a.TotalCharges += t.Actuals.AdditionalCharges
			if h, ok := durationHours(t); ok {
				durationSum += h
				durationSamples++
			}
		case domain.StatusCancelled:
			a.Cancelled++
		}
	}
	a.CompletionRate = ratio(float64(a.Completed), float64(a.TotalTasks))
	a.CancellationRate = ratio(float64(a.Cancelled), float64(a.TotalTasks))
	a.AvgDurationHours = ratio(durationSum, float64(durationSamples))
	a.AvgEstimateHours = ratio(estimateSum, float64(a.TotalTasks))
	for _, is := range s.Issues {
		if !r.Contains(is.CreatedAt) {
			continue
		}
		a.IssuesRaised++
		a.IssuesByType[is.Type]++
		a.IssuesByPriority[is.Priority]++
	}
	return a
}

type FeedbackEntry struct {
	TaskID      string    `json:"task_id"`
	TaskCode    string    `json:"task_code"`
	Customer    string    `json:"customer"`
	Rating      int       `json:"rating"`
	Comment     string    `json:"comment,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type CustomerSatisfaction struct {
	AverageRating  float64         `json:"average_rating"`
	TotalRatings   int             `json:"total_ratings"`
	FiveStar       int             `json:"five_star"`
	FourStar       int             `json:"four_star"`
	ThreeOrBelow   int             `json:"three_or_below"`
	Distribution   map[int]int     `json:"distribution"`
	RecentFeedback []FeedbackEntry `json:"recent_feedback"`
}

const recentFeedbackLimit = 10

func Satisfaction(s Snapshot, r Range) CustomerSatisfaction {
	cs := CustomerSatisfaction{Distribution: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}}
	var sum float64
	for _, t := range s.tasksIn(r) {
		if t.Feedback == nil {
			continue
		}
		rating := t.Feedback.Rating
		cs.TotalRatings++
		sum += float64(rating)
		cs.Distribution[rating]++
		switch {
		case rating >= 5:
			cs.FiveStar++
		case rating == 4:
			cs.FourStar++
		default:
			cs.ThreeOrBelow++
		}
		cs.RecentFeedback = append(cs.RecentFeedback, FeedbackEntry{
			TaskID:      t.ID,
			TaskCode:    t.Code,
			Customer:    t.Customer.Name,
			Rating:      rating,
			Comment:     t.Feedback.Comment,
			SubmittedAt: t.Feedback.SubmittedAt,
		})
	}
	cs.AverageRating = ratio(sum, float64(cs.TotalRatings))
	sort.SliceStable(cs.RecentFeedback, func(i, j int) bool {
		return cs.RecentFeedback[i].SubmittedAt.After(cs.RecentFeedback[j].SubmittedAt)
	})
	if len(cs.RecentFeedback) > recentFeedbackLimit {
		cs.RecentFeedback = cs.RecentFeedback[:recentFeedbackLimit]
	}
	return cs
}

type SystemUsage struct {
	TotalUsers     int                 `json:"total_users"`
	ActiveUsers    int                 `json:"active_users"`
	UsersByRole    map[domain.Role]int `json:"users_by_role"`
	TasksCreated   int                 `json:"tasks_created"`
	IssuesReported int                 `json:"issues_reported"`
	EventsInPeriod int                 `json:"events_in_period"`
	EventsByVerb   map[string]int      `json:"events_by_verb"`
	ActiveActors   int                 `json:"active_actors"`
}

func Usage(s Snapshot, r Range) SystemUsage {
	u := SystemUsage{UsersByRole: map[domain.Role]int{}, EventsByVerb: map[string]int{}}
	for _, w := range s.Workers {
		u.TotalUsers++
		u.UsersByRole[w.Role]++
		if w.Active {
			u.ActiveUsers++
		}
	}
	for _, t := range s.Tasks {
		if r.Contains(t.CreatedAt) {
			u.TasksCreated++
		}
	}
	for _, is := range s.Issues {
		if r.Contains(is.CreatedAt) {
			u.IssuesReported++
		}
	}
	actors := map[string]bool{}
	for _, e := range s.Events {
		if !r.Contains(e.TS) {
			continue
		}
		u.EventsInPeriod++
		u.EventsByVerb[e.Verb]++
		actors[e.Actor] = true
	}
	u.ActiveActors = len(actors)
	return u
}

type UserPerformance struct {
	Workers []WorkerPerformance `json:"workers"`
}

// Users reports every electrician, best completion count first.
func Users(s Snapshot, r Range) UserPerformance {
	up := UserPerformance{Workers: []WorkerPerformance{}}
	for _, w := range s.Workers {
		if w.Role != domain.RoleElectrician {
			continue
		}
		up.Workers = append(up.Workers, PerformanceFor(s, w.ID, r))
	}
	sort.Slice(up.Workers, func(i, j int) bool {
		a, b := up.Workers[i], up.Workers[j]
		if a.CompletedTasks != b.CompletedTasks {
			return a.CompletedTasks > b.CompletedTasks
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.WorkerID < b.WorkerID
	})
	return up
}

// ParseReportType accepts the snake_case wire names and their CamelCase
// spellings.
func ParseReportType(v string) (domain.ReportType, bool) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(v), "_", ""))
	for _, t := range domain.ReportTypes {
		if strings.ReplaceAll(string(t), "_", "") == key {
			return t, true
		}
	}
	return "", false
}

// BuildReport dispatches on the report type and shapes the payload over
// [start, end).
func BuildReport(s Snapshot, typ string, start, end, generatedAt time.Time) (domain.Report, error) {
	rt, ok := ParseReportType(typ)
	if !ok {
		return domain.Report{}, &domain.UnsupportedReportTypeError{Type: typ}
	}
	verr := &domain.ValidationError{}
	if start.IsZero() {
		verr.Add("period_start", "is required")
	}
	if end.IsZero() {
		verr.Add("period_end", "is required")
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		verr.Add("period_end", "must be after period_start")
	}
	if err := verr.OrNil(); err != nil {
		return domain.Report{}, err
	}
	r := Range{Start: start, End: end}
	rep := domain.Report{Type: rt, PeriodStart: start, PeriodEnd: end, GeneratedAt: generatedAt}
	switch rt {
	case domain.ReportUserPerformance:
		rep.Payload = Users(s, r)
	case domain.ReportSystemUsage:
		rep.Payload = Usage(s, r)
	case domain.ReportTaskAnalytics:
		rep.Payload = Analytics(s, r)
	case domain.ReportTeamPerformance:
		rep.Payload = Team(s, r)
	case domain.ReportCustomerSatisfaction:
		rep.Payload = Satisfaction(s, r)
	}
	return rep, nil
}
