package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"voltline/internal/domain"
	"voltline/internal/engine/authz"
	"voltline/internal/events"
	"voltline/internal/repo"
)

// IssueDetails is what the field reports about an obstruction.
type IssueDetails struct {
	Type            string
	Description     string
	RequestedAction string
	Priority        string
}

var requestedActions = map[string]bool{"reschedule": true, "assistance": true, "manager": true, "other": true}

// ReportIssue escalates an obstruction on an open task. An emergency raises
// the task's priority to High without touching its status.
func (e Engine) ReportIssue(ctx context.Context, actor domain.Actor, taskID string, d IssueDetails) (domain.Issue, error) {
	const op = "issue.report"
	if err := e.authorize(ctx, op, actor, authz.IssueReport); err != nil {
		return domain.Issue{}, err
	}
	typ, priority, action, err := validateIssueDetails(d)
	if err != nil {
		return domain.Issue{}, e.fail(ctx, op, err)
	}
	id, err := e.resolveTaskID(ctx, taskID)
	if err != nil {
		return domain.Issue{}, e.fail(ctx, op, err)
	}
	unlock := e.tasks.Lock(id)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Issue{}, e.fail(ctx, op, notFound("task", taskID, err))
	}
	if err := ensureOwnAssignment(actor, t, authz.IssueReport); err != nil {
		return domain.Issue{}, e.fail(ctx, op, err)
	}
	if t.Status.Terminal() {
		return domain.Issue{}, e.fail(ctx, op, &domain.InvalidStateError{Entity: "task", ID: t.ID, State: string(t.Status), Reason: "issues cannot be raised on a closed task"})
	}

	now := e.now()
	is := domain.Issue{
		ID:              uuid.NewString(),
		TaskID:          t.ID,
		ReportedBy:      actor.ID,
		Type:            typ,
		Description:     strings.TrimSpace(d.Description),
		RequestedAction: action,
		Priority:        priority,
		Status:          domain.IssueOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.Repo.InsertIssue(ctx, tx, is); err != nil {
		return domain.Issue{}, err
	}
	if err := e.record(ctx, tx, actor, now, events.VerbIssueReported, events.SubjectIssue, is.ID, events.Payload{
		"task_id":  t.ID,
		"code":     t.Code,
		"type":     is.Type,
		"priority": is.Priority,
	}); err != nil {
		return domain.Issue{}, err
	}
	if is.Priority == domain.IssueEmergency && t.Priority != domain.PriorityHigh {
		prev := t.Priority
		t.Priority = domain.PriorityHigh
		t.UpdatedAt = now
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return domain.Issue{}, e.fail(ctx, op, conflict("task", t.ID, string(t.Status), err))
		}
		if err := e.record(ctx, tx, actor, now, events.VerbTaskPriority, events.SubjectTask, t.ID, events.Payload{
			"code":     t.Code,
			"from":     prev,
			"to":       domain.PriorityHigh,
			"issue_id": is.ID,
		}); err != nil {
			return domain.Issue{}, err
		}
	}
	if err := e.commit(tx); err != nil {
		return domain.Issue{}, err
	}
	e.Metrics.issueReported(ctx, string(is.Priority))
	e.logger().Info("issue reported", "issue", is.ID, "task", t.ID, "priority", is.Priority, "actor", actor.ID)
	return is, nil
}

// UpdateIssueStatus moves an issue forward. Resolving requires notes and
// stamps who resolved it and when; retrying the current status is a no-op.
func (e Engine) UpdateIssueStatus(ctx context.Context, actor domain.Actor, issueID string, status domain.IssueStatus, notes string) (domain.Issue, error) {
	const op = "issue.update"
	if err := e.authorize(ctx, op, actor, authz.IssueUpdate); err != nil {
		return domain.Issue{}, err
	}
	verr := &domain.ValidationError{}
	if !status.Valid() {
		verr.Add("status", "must be one of open, in_progress, resolved")
	}
	if status == domain.IssueResolved && strings.TrimSpace(notes) == "" {
		verr.Add("resolution_notes", "is required to resolve an issue")
	}
	if err := verr.OrNil(); err != nil {
		return domain.Issue{}, e.fail(ctx, op, err)
	}
	unlock := e.issues.Lock(issueID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()
	is, err := e.Repo.GetIssueTx(ctx, tx, issueID)
	if err != nil {
		return domain.Issue{}, e.fail(ctx, op, notFound("issue", issueID, err))
	}
	if is.Status == status {
		return is, nil
	}
	if err := ensureIssueTransition(is.Status, status); err != nil {
		return domain.Issue{}, e.fail(ctx, op, err)
	}
	prev := is.Status
	now := e.now()
	is.Status = status
	is.UpdatedAt = now
	if n := strings.TrimSpace(notes); n != "" {
		is.ResolutionNotes = n
	}
	verb := events.VerbIssueUpdated
	if status == domain.IssueResolved {
		verb = events.VerbIssueResolved
		by := actor.ID
		is.ResolvedBy = &by
		is.ResolvedAt = &now
	}
	if err := e.Repo.UpdateIssue(ctx, tx, is, prev); err != nil {
		return domain.Issue{}, e.fail(ctx, op, conflict("issue", is.ID, string(prev), err))
	}
	if err := e.record(ctx, tx, actor, now, verb, events.SubjectIssue, is.ID, events.Payload{
		"task_id": is.TaskID,
		"from":    prev,
		"to":      status,
	}); err != nil {
		return domain.Issue{}, err
	}
	if err := e.commit(tx); err != nil {
		return domain.Issue{}, err
	}
	e.logger().Debug("issue status", "issue", is.ID, "from", prev, "to", status, "actor", actor.ID)
	return is, nil
}

func (e Engine) ResolveIssue(ctx context.Context, actor domain.Actor, issueID, notes string) (domain.Issue, error) {
	return e.UpdateIssueStatus(ctx, actor, issueID, domain.IssueResolved, notes)
}

func (e Engine) GetIssue(ctx context.Context, actor domain.Actor, issueID string) (domain.Issue, error) {
	if err := e.authorize(ctx, "issue.get", actor, authz.IssueRead); err != nil {
		return domain.Issue{}, err
	}
	is, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return domain.Issue{}, notFound("issue", issueID, err)
	}
	if actor.Role == domain.RoleElectrician && is.ReportedBy != actor.ID {
		return domain.Issue{}, &domain.NotFoundError{Entity: "issue", ID: issueID}
	}
	return is, nil
}

// ListIssues lists issues newest first. Electricians see the ones they
// reported.
func (e Engine) ListIssues(ctx context.Context, actor domain.Actor, f repo.IssueFilter) ([]domain.Issue, error) {
	if err := e.authorize(ctx, "issue.list", actor, authz.IssueRead); err != nil {
		return nil, err
	}
	if f.Status != "" && !f.Status.Valid() {
		verr := &domain.ValidationError{}
		verr.Add("status", "must be one of open, in_progress, resolved")
		return nil, verr
	}
	if f.Priority != "" && !f.Priority.Valid() {
		verr := &domain.ValidationError{}
		verr.Add("priority", "must be one of normal, urgent, emergency")
		return nil, verr
	}
	if actor.Role == domain.RoleElectrician {
		f.ReportedBy = actor.ID
	}
	return e.Repo.ListIssues(ctx, f)
}

func validateIssueDetails(d IssueDetails) (domain.IssueType, domain.IssuePriority, string, error) {
	verr := &domain.ValidationError{}
	typ := domain.IssueType(strings.ToLower(strings.TrimSpace(d.Type)))
	if typ == "" {
		verr.Add("type", "is required")
	} else if !typ.Valid() {
		verr.Add("type", "must be one of access, materials, scope, safety, other")
	}
	if strings.TrimSpace(d.Description) == "" {
		verr.Add("description", "is required")
	}
	priority := domain.IssueNormal
	if p := strings.ToLower(strings.TrimSpace(d.Priority)); p != "" {
		priority = domain.IssuePriority(p)
		if !priority.Valid() {
			verr.Add("priority", "must be one of normal, urgent, emergency")
		}
	}
	action := strings.ToLower(strings.TrimSpace(d.RequestedAction))
	if action != "" && !requestedActions[action] {
		verr.Add("requested_action", "must be one of reschedule, assistance, manager, other")
	}
	if err := verr.OrNil(); err != nil {
		return "", "", "", err
	}
	return typ, priority, action, nil
}
