package server

import (
	"voltline/internal/domain"
	"voltline/internal/engine"
)

// Request payloads

type CreateTaskRequest struct {
	Title          string          `json:"title" minLength:"1"`
	Description    string          `json:"description,omitempty"`
	Customer       domain.Customer `json:"customer"`
	Priority       string          `json:"priority,omitempty" enum:"Low,Medium,High"`
	Schedule       domain.Schedule `json:"schedule"`
	RequiredSkills []string        `json:"required_skills,omitempty"`
}

type TransitionRequest struct {
	Status            string  `json:"status" enum:"Pending,Assigned,InProgress,Completed,Cancelled"`
	AssigneeID        string  `json:"assignee_id,omitempty"`
	CompletionNotes   string  `json:"completion_notes,omitempty"`
	MaterialsUsed     string  `json:"materials_used,omitempty"`
	AdditionalCharges float64 `json:"additional_charges,omitempty" minimum:"0"`
	Reason            string  `json:"reason,omitempty"`
}

type AssignRequest struct {
	WorkerID string `json:"worker_id" minLength:"1"`
}

type CompleteTaskRequest struct {
	CompletionNotes   string  `json:"completion_notes" minLength:"1"`
	MaterialsUsed     string  `json:"materials_used,omitempty"`
	AdditionalCharges float64 `json:"additional_charges,omitempty" minimum:"0"`
}

type CancelTaskRequest struct {
	Reason string `json:"reason,omitempty"`
}

type FeedbackRequest struct {
	Rating  int    `json:"rating" minimum:"1" maximum:"5"`
	Comment string `json:"comment,omitempty"`
}

type ReportIssueRequest struct {
	Type            string `json:"type" enum:"access,materials,scope,safety,other"`
	Description     string `json:"description" minLength:"1"`
	RequestedAction string `json:"requested_action,omitempty" enum:"reschedule,assistance,manager,other"`
	Priority        string `json:"priority,omitempty" enum:"normal,urgent,emergency"`
}

type UpdateIssueRequest struct {
	Status          string `json:"status" enum:"open,in_progress,resolved"`
	ResolutionNotes string `json:"resolution_notes,omitempty"`
}

type GenerateReportRequest struct {
	Type  string `json:"type" example:"team_performance"`
	Start string `json:"start" example:"2025-01-01"`
	End   string `json:"end" example:"2025-02-01"`
}

type RegisterWorkerRequest struct {
	ID             string   `json:"id,omitempty"`
	EmployeeCode   string   `json:"employee_code,omitempty"`
	Name           string   `json:"name" minLength:"1"`
	Role           string   `json:"role" enum:"Admin,Manager,Electrician"`
	Email          string   `json:"email,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	Skills         []string `json:"skills,omitempty"`
	Certifications string   `json:"certifications,omitempty"`
}

type PresenceRequest struct {
	Presence string `json:"presence" enum:"Online,Offline,Break"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"Admin,Manager,Electrician"`
}

// Responses

type TaskList struct {
	Items      []domain.WorkOrder `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

type IssueList struct {
	Items []domain.Issue `json:"items"`
}

type CandidateList struct {
	Items []engine.Candidate `json:"items"`
}

type WorkerList struct {
	Items []domain.Worker `json:"items"`
}

type UnreadResponse struct {
	Unread int `json:"unread"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type ConfigResponse struct {
	Company  string `json:"company"`
	Timezone string `json:"timezone"`
	YAML     string `json:"yaml"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
