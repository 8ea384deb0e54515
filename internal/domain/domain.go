package domain

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "Pending"
	StatusAssigned   TaskStatus = "Assigned"
	StatusInProgress TaskStatus = "InProgress"
	StatusCompleted  TaskStatus = "Completed"
	StatusCancelled  TaskStatus = "Cancelled"
)

var TaskStatuses = []TaskStatus{StatusPending, StatusAssigned, StatusInProgress, StatusCompleted, StatusCancelled}

func (s TaskStatus) Valid() bool {
	for _, v := range TaskStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether a task in status s occupies its assignee.
func (s TaskStatus) Active() bool {
	return s == StatusAssigned || s == StatusInProgress
}

// ParseTaskStatus accepts the canonical names plus the spaced/snake forms
// dashboards send ("In Progress", "in_progress").
func ParseTaskStatus(v string) (TaskStatus, bool) {
	key := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.TrimSpace(v)))
	for _, s := range TaskStatuses {
		if strings.ToLower(string(s)) == key {
			return s, true
		}
	}
	if key == "canceled" {
		return StatusCancelled, true
	}
	return "", false
}

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

func ParsePriority(v string) (Priority, bool) {
	for _, p := range Priorities {
		if strings.EqualFold(string(p), strings.TrimSpace(v)) {
			return p, true
		}
	}
	return "", false
}

type Customer struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// Schedule is the planned visit window. Date is YYYY-MM-DD, Start/End are
// HH:MM wall-clock times in the company timezone.
type Schedule struct {
	Date           string  `json:"date" format:"date"`
	Start          string  `json:"start" example:"09:00"`
	End            string  `json:"end" example:"12:00"`
	EstimatedHours float64 `json:"estimated_hours"`
}

const (
	DateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

func (s Schedule) Day(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s.Date, orUTC(loc))
}

func (s Schedule) StartAt(loc *time.Location) (time.Time, error) {
	return s.at(s.Start, loc)
}

func (s Schedule) EndAt(loc *time.Location) (time.Time, error) {
	return s.at(s.End, loc)
}

func (s Schedule) at(clock string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout+" "+clockLayout, s.Date+" "+clock, orUTC(loc))
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

type Actuals struct {
	StartedAt         *time.Time `json:"started_at,omitempty" format:"date-time"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" format:"date-time"`
	CompletionNotes   string     `json:"completion_notes,omitempty"`
	MaterialsUsed     string     `json:"materials_used,omitempty"`
	AdditionalCharges float64    `json:"additional_charges,omitempty"`
}

type Feedback struct {
	Rating      int       `json:"rating" minimum:"1" maximum:"5"`
	Comment     string    `json:"comment,omitempty"`
	SubmittedBy string    `json:"submitted_by"`
	SubmittedAt time.Time `json:"submitted_at" format:"date-time"`
}

// WorkOrder is a unit of field work scheduled for a customer. It is only
// mutated through the engine's transition operations and never deleted.
type WorkOrder struct {
	ID             string     `json:"id"`
	Code           string     `json:"code" example:"T001"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Customer       Customer   `json:"customer"`
	Priority       Priority   `json:"priority" enum:"Low,Medium,High"`
	Status         TaskStatus `json:"status" enum:"Pending,Assigned,InProgress,Completed,Cancelled"`
	AssigneeID     *string    `json:"assignee_id,omitempty"`
	Schedule       Schedule   `json:"schedule"`
	RequiredSkills []string   `json:"required_skills,omitempty"`
	Actuals        Actuals    `json:"actuals"`
	Feedback       *Feedback  `json:"feedback,omitempty"`
	Version        int64      `json:"version"`
	CreatedBy      string     `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt      time.Time  `json:"updated_at" format:"date-time"`
}

func (t WorkOrder) AssignedTo(workerID string) bool {
	return t.AssigneeID != nil && *t.AssigneeID == workerID
}

type Role string

const (
	RoleAdmin       Role = "Admin"
	RoleManager     Role = "Manager"
	RoleElectrician Role = "Electrician"
)

var Roles = []Role{RoleAdmin, RoleManager, RoleElectrician}

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleManager || r == RoleElectrician
}

func ParseRole(v string) (Role, bool) {
	for _, r := range Roles {
		if strings.EqualFold(string(r), strings.TrimSpace(v)) {
			return r, true
		}
	}
	return "", false
}

// Presence is set by the identity collaborator; the core only reads it.
type Presence string

const (
	PresenceOnline  Presence = "Online"
	PresenceOffline Presence = "Offline"
	PresenceBreak   Presence = "Break"
)

func ParsePresence(v string) (Presence, bool) {
	for _, p := range []Presence{PresenceOnline, PresenceOffline, PresenceBreak} {
		if strings.EqualFold(string(p), strings.TrimSpace(v)) {
			return p, true
		}
	}
	return "", false
}

type Availability string

const (
	Available Availability = "Available"
	OnTask    Availability = "OnTask"
	Offline   Availability = "Offline"
	OnBreak   Availability = "Break"
)

type Performance struct {
	TasksCompleted int     `json:"tasks_completed"`
	AverageRating  float64 `json:"average_rating"`
}

// Worker is owned by the identity collaborator. Availability and
// Performance are derived on read and never persisted.
type Worker struct {
	ID             string       `json:"id"`
	EmployeeCode   string       `json:"employee_code,omitempty"`
	Name           string       `json:"name"`
	Role           Role         `json:"role" enum:"Admin,Manager,Electrician"`
	Email          string       `json:"email,omitempty"`
	Phone          string       `json:"phone,omitempty"`
	Skills         []string     `json:"skills,omitempty"`
	Certifications string       `json:"certifications,omitempty"`
	Active         bool         `json:"active"`
	Presence       Presence     `json:"presence" enum:"Online,Offline,Break"`
	CreatedAt      time.Time    `json:"created_at" format:"date-time"`
	Availability   Availability `json:"availability,omitempty"`
	Performance    *Performance `json:"performance,omitempty"`
}

// Actor is the caller of a core operation. Authentication happens outside
// the core; the role is trusted as declared.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

type IssueType string

const (
	IssueAccess    IssueType = "access"
	IssueMaterials IssueType = "materials"
	IssueScope     IssueType = "scope"
	IssueSafety    IssueType = "safety"
	IssueOther     IssueType = "other"
)

func (t IssueType) Valid() bool {
	switch t {
	case IssueAccess, IssueMaterials, IssueScope, IssueSafety, IssueOther:
		return true
	}
	return false
}

type IssuePriority string

const (
	IssueNormal    IssuePriority = "normal"
	IssueUrgent    IssuePriority = "urgent"
	IssueEmergency IssuePriority = "emergency"
)

func (p IssuePriority) Valid() bool {
	return p == IssueNormal || p == IssueUrgent || p == IssueEmergency
}

type IssueStatus string

const (
	IssueOpen       IssueStatus = "open"
	IssueInProgress IssueStatus = "in_progress"
	IssueResolved   IssueStatus = "resolved"
)

func (s IssueStatus) Valid() bool {
	return s == IssueOpen || s == IssueInProgress || s == IssueResolved
}

// Issue is an in-field obstruction escalated to managers.
type Issue struct {
	ID              string        `json:"id"`
	TaskID          string        `json:"task_id"`
	ReportedBy      string        `json:"reported_by"`
	Type            IssueType     `json:"type" enum:"access,materials,scope,safety,other"`
	Description     string        `json:"description"`
	RequestedAction string        `json:"requested_action,omitempty"`
	Priority        IssuePriority `json:"priority" enum:"normal,urgent,emergency"`
	Status          IssueStatus   `json:"status" enum:"open,in_progress,resolved"`
	ResolutionNotes string        `json:"resolution_notes,omitempty"`
	ResolvedBy      *string       `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time    `json:"resolved_at,omitempty" format:"date-time"`
	CreatedAt       time.Time     `json:"created_at" format:"date-time"`
	UpdatedAt       time.Time     `json:"updated_at" format:"date-time"`
}

// ActivityEvent is an append-only feed entry.
type ActivityEvent struct {
	ID          int64     `json:"id"`
	TS          time.Time `json:"ts" format:"date-time"`
	Actor       string    `json:"actor"`
	Verb        string    `json:"verb"`
	SubjectKind string    `json:"subject_kind"`
	SubjectRef  string    `json:"subject_ref"`
	Payload     string    `json:"payload_json,omitempty"`
	Read        *bool     `json:"read,omitempty"`
}

type ReportType string

const (
	ReportUserPerformance      ReportType = "user_performance"
	ReportSystemUsage          ReportType = "system_usage"
	ReportTaskAnalytics        ReportType = "task_analytics"
	ReportTeamPerformance      ReportType = "team_performance"
	ReportCustomerSatisfaction ReportType = "customer_satisfaction"
)

var ReportTypes = []ReportType{
	ReportUserPerformance,
	ReportSystemUsage,
	ReportTaskAnalytics,
	ReportTeamPerformance,
	ReportCustomerSatisfaction,
}

// Report is computed on demand and never persisted.
type Report struct {
	Type        ReportType `json:"type"`
	PeriodStart time.Time  `json:"period_start" format:"date-time"`
	PeriodEnd   time.Time  `json:"period_end" format:"date-time"`
	GeneratedAt time.Time  `json:"generated_at" format:"date-time"`
	Payload     any        `json:"payload"`
}
