package engine

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"voltline/internal/domain"
	"voltline/internal/engine/authz"
	"voltline/internal/events"
	"voltline/internal/repo"
)

// TaskCreateOptions are parameters for creating a work order.
type TaskCreateOptions struct {
	Title          string
	Description    string
	Customer       domain.Customer
	Priority       string
	Schedule       domain.Schedule
	RequiredSkills []string
}

// TransitionPayload carries the inputs a target status may need. Only the
// fields relevant to the target are read.
type TransitionPayload struct {
	AssigneeID        string
	CompletionNotes   string
	MaterialsUsed     string
	AdditionalCharges float64
	Reason            string
}

// CompletionDetails is the electrician's close-out report.
type CompletionDetails struct {
	Notes             string
	MaterialsUsed     string
	AdditionalCharges float64
}

func (e Engine) CreateTask(ctx context.Context, actor domain.Actor, opts TaskCreateOptions) (domain.WorkOrder, error) {
	const op = "task.create"
	if err := e.authorize(ctx, op, actor, authz.TaskCreate); err != nil {
		return domain.WorkOrder{}, err
	}
	priority, skills, err := validateTaskOptions(opts, e.location())
	if err != nil {
		return domain.WorkOrder{}, e.fail(ctx, op, err)
	}
	now := e.now()
	t := domain.WorkOrder{
		ID:             uuid.NewString(),
		Title:          strings.TrimSpace(opts.Title),
		Description:    strings.TrimSpace(opts.Description),
		Customer:       trimCustomer(opts.Customer),
		Priority:       priority,
		Status:         domain.StatusPending,
		Schedule:       opts.Schedule,
		RequiredSkills: skills,
		Version:        1,
		CreatedBy:      actor.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()
	if t.Code, err = e.Repo.NextTaskCode(ctx, tx); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := e.record(ctx, tx, actor, now, events.VerbTaskCreated, events.SubjectTask, t.ID, events.Payload{
		"code":          t.Code,
		"title":         t.Title,
		"priority":      t.Priority,
		"schedule_date": t.Schedule.Date,
	}); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := e.commit(tx); err != nil {
		return domain.WorkOrder{}, err
	}
	e.logger().Debug("task created", "task", t.ID, "code", t.Code, "actor", actor.ID)
	return t, nil
}

// Transition moves a task to target. Retrying the status a task already has
// is a no-op success and appends nothing.
func (e Engine) Transition(ctx context.Context, actor domain.Actor, taskID string, target domain.TaskStatus, p TransitionPayload) (domain.WorkOrder, error) {
	const op = "task.transition"
	perm, ok := transitionPermission(target)
	if !ok {
		if !target.Valid() {
			verr := &domain.ValidationError{}
			verr.Add("status", "unknown status %q", target)
			return domain.WorkOrder{}, e.fail(ctx, op, verr)
		}
		if err := e.authorize(ctx, op, actor, authz.TaskRead); err != nil {
			return domain.WorkOrder{}, err
		}
		t, err := e.Repo.GetTask(ctx, taskID)
		if err != nil {
			return domain.WorkOrder{}, e.fail(ctx, op, notFound("task", taskID, err))
		}
		if t.Status == target {
			return t, nil
		}
		return domain.WorkOrder{}, e.fail(ctx, op, ensureTaskTransition(t.Status, target))
	}
	if target == domain.StatusAssigned {
		return e.assign(ctx, actor, taskID, p.AssigneeID, true)
	}
	if err := e.authorize(ctx, op, actor, perm); err != nil {
		return domain.WorkOrder{}, err
	}
	if target == domain.StatusCompleted {
		verr := &domain.ValidationError{}
		if strings.TrimSpace(p.CompletionNotes) == "" {
			verr.Add("completion_notes", "is required")
		}
		if p.AdditionalCharges < 0 {
			verr.Add("additional_charges", "must not be negative")
		}
		if err := verr.OrNil(); err != nil {
			return domain.WorkOrder{}, e.fail(ctx, op, err)
		}
	}

	id, err := e.resolveTaskID(ctx, taskID)
	if err != nil {
		return domain.WorkOrder{}, e.fail(ctx, op, err)
	}
	unlock := e.tasks.Lock(id)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.WorkOrder{}, e.fail(ctx, op, notFound("task", taskID, err))
	}
	if target == domain.StatusInProgress || target == domain.StatusCompleted {
		if err := ensureOwnAssignment(actor, t, perm); err != nil {
			return domain.WorkOrder{}, e.fail(ctx, op, err)
		}
	}
	if t.Status == target {
		return t, nil
	}
	if err := ensureTaskTransition(t.Status, target); err != nil {
		return domain.WorkOrder{}, e.fail(ctx, op, err)
	}

	from := t.Status
	now := e.now()
	payload := events.Payload{"code": t.Code, "from": from, "to": target}
	var verb string
	switch target {
	case domain.StatusInProgress:
		verb = events.VerbTaskStarted
		t.Actuals.StartedAt = &now
	case domain.StatusCompleted:
		verb = events.VerbTaskCompleted
		t.Actuals.CompletedAt = &now
		t.Actuals.CompletionNotes = strings.TrimSpace(p.CompletionNotes)
		t.Actuals.MaterialsUsed = strings.TrimSpace(p.MaterialsUsed)
		t.Actuals.AdditionalCharges = p.AdditionalCharges
		payload["additional_charges"] = p.AdditionalCharges
	case domain.StatusCancelled:
		verb = events.VerbTaskCancelled
		if t.AssigneeID != nil {
			payload["previous_assignee"] = *t.AssigneeID
		}
		if p.Reason != "" {
			payload["reason"] = p.Reason
		}
		t.AssigneeID = nil
	}
	t.Status = target
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.WorkOrder{}, e.fail(ctx, op, conflict("task", t.ID, string(from), err))
	}
	t.Version++
	if t.AssigneeID != nil {
		payload["assignee"] = *t.AssigneeID
	}
	if err := e.record(ctx, tx, actor, now, verb, events.SubjectTask, t.ID, payload); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := e.commit(tx); err != nil {
		return domain.WorkOrder{}, err
	}
	e.Metrics.transition(ctx, string(from), string(target))
	e.logger().Debug("task transition", "task", t.ID, "from", from, "to", target, "actor", actor.ID)
	return t, nil
}

func (e Engine) StartTask(ctx context.Context, actor domain.Actor, taskID string) (domain.WorkOrder, error) {
	return e.Transition(ctx, actor, taskID, domain.StatusInProgress, TransitionPayload{})
}

func (e Engine) CompleteTask(ctx context.Context, actor domain.Actor, taskID string, d CompletionDetails) (domain.WorkOrder, error) {
	return e.Transition(ctx, actor, taskID, domain.StatusCompleted, TransitionPayload{
		CompletionNotes:   d.Notes,
		MaterialsUsed:     d.MaterialsUsed,
		AdditionalCharges: d.AdditionalCharges,
	})
}

func (e Engine) CancelTask(ctx context.Context, actor domain.Actor, taskID, reason string) (domain.WorkOrder, error) {
	return e.Transition(ctx, actor, taskID, domain.StatusCancelled, TransitionPayload{Reason: reason})
}

// AttachFeedback records the customer's rating on a completed task. It may
// be set once.
func (e Engine) AttachFeedback(ctx context.Context, actor domain.Actor, taskID string, rating int, comment string) (domain.WorkOrder, error) {
	const op = "task.feedback"
	if err := e.authorize(ctx, op, actor, authz.TaskFeedback); err != nil {
		return domain.WorkOrder{}, err
	}
	if rating < 1 || rating > 5 {
		verr := &domain.ValidationError{}
		verr.Add("rating", "must be between 1 and 5")
		return domain.WorkOrder{}, e.fail(ctx, op, verr)
	}
	id, err := e.resolveTaskID(ctx, taskID)
	if err != nil {
		return domain.WorkOrder{}, e.fail(ctx, op, err)
	}
	unlock := e.tasks.Lock(id)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.WorkOrder{}, e.fail(ctx, op, notFound("task", taskID, err))
	}
	if t.Status != domain.StatusCompleted || t.Actuals.CompletedAt == nil {
		return domain.WorkOrder{}, e.fail(ctx, op, &domain.InvalidStateError{Entity: "task", ID: t.ID, State: string(t.Status), Reason: "feedback requires a completed task"})
	}
	if t.Feedback != nil {
		return domain.WorkOrder{}, e.fail(ctx, op, &domain.InvalidStateError{Entity: "task", ID: t.ID, State: string(t.Status), Reason: "feedback already recorded"})
	}
	now := e.now()
	t.Feedback = &domain.Feedback{Rating: rating, Comment: strings.TrimSpace(comment), SubmittedBy: actor.ID, SubmittedAt: now}
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.WorkOrder{}, e.fail(ctx, op, conflict("task", t.ID, string(t.Status), err))
	}
	t.Version++
	if err := e.record(ctx, tx, actor, now, events.VerbTaskFeedback, events.SubjectTask, t.ID, events.Payload{
		"code":   t.Code,
		"rating": rating,
	}); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := e.commit(tx); err != nil {
		return domain.WorkOrder{}, err
	}
	return t, nil
}

// GetTask returns one task. Electricians only see their own assignments.
func (e Engine) GetTask(ctx context.Context, actor domain.Actor, taskID string) (domain.WorkOrder, error) {
	if err := e.authorize(ctx, "task.get", actor, authz.TaskRead); err != nil {
		return domain.WorkOrder{}, err
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.WorkOrder{}, notFound("task", taskID, err)
	}
	if actor.Role == domain.RoleElectrician && !t.AssignedTo(actor.ID) {
		return domain.WorkOrder{}, &domain.NotFoundError{Entity: "task", ID: taskID}
	}
	return t, nil
}

const (
	defaultTaskLimit = 50
	maxTaskLimit     = 500
)

// ListTasks lists tasks newest first. Electricians are scoped to their own
// assignments whatever the filter says.
func (e Engine) ListTasks(ctx context.Context, actor domain.Actor, f repo.TaskFilter) ([]domain.WorkOrder, error) {
	if err := e.authorize(ctx, "task.list", actor, authz.TaskRead); err != nil {
		return nil, err
	}
	if actor.Role == domain.RoleElectrician {
		f.AssigneeID = actor.ID
	}
	if f.Limit <= 0 {
		f.Limit = defaultTaskLimit
	}
	if f.Limit > maxTaskLimit {
		f.Limit = maxTaskLimit
	}
	return e.Repo.ListTasks(ctx, f)
}

func (e Engine) resolveTaskID(ctx context.Context, ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		verr := &domain.ValidationError{}
		verr.Add("task_id", "is required")
		return "", verr
	}
	t, err := e.Repo.GetTask(ctx, ref)
	if err != nil {
		return "", notFound("task", ref, err)
	}
	return t.ID, nil
}

func (e Engine) record(ctx context.Context, tx *sql.Tx, actor domain.Actor, at time.Time, verb, kind, ref string, payload events.Payload) error {
	_, err := e.Events.Append(ctx, tx, events.Entry{
		TS:          at,
		Actor:       actor.ID,
		Verb:        verb,
		SubjectKind: kind,
		SubjectRef:  ref,
		Payload:     payload,
	})
	return err
}

func ensureOwnAssignment(actor domain.Actor, t domain.WorkOrder, perm string) error {
	if actor.Role != domain.RoleElectrician || t.AssignedTo(actor.ID) {
		return nil
	}
	return authz.ForbiddenError{Permission: perm, Role: actor.Role, Reason: "task is not assigned to you"}
}

func validateTaskOptions(opts TaskCreateOptions, loc *time.Location) (domain.Priority, []string, error) {
	verr := &domain.ValidationError{}
	if strings.TrimSpace(opts.Title) == "" {
		verr.Add("title", "is required")
	}
	if strings.TrimSpace(opts.Customer.Name) == "" {
		verr.Add("customer.name", "is required")
	}
	if strings.TrimSpace(opts.Customer.Address) == "" {
		verr.Add("customer.address", "is required")
	}
	if strings.TrimSpace(opts.Customer.Phone) == "" {
		verr.Add("customer.phone", "is required")
	}
	if opts.Schedule.Date == "" {
		verr.Add("schedule.date", "is required")
	} else if _, err := opts.Schedule.Day(loc); err != nil {
		verr.Add("schedule.date", "must be YYYY-MM-DD")
	}
	var start, end time.Time
	var startOK, endOK bool
	if opts.Schedule.Start == "" {
		verr.Add("schedule.start", "is required")
	} else if _, err := time.Parse("15:04", opts.Schedule.Start); err != nil {
		verr.Add("schedule.start", "must be HH:MM")
	} else {
		start, _ = time.Parse("15:04", opts.Schedule.Start)
		startOK = true
	}
	if opts.Schedule.End == "" {
		verr.Add("schedule.end", "is required")
	} else if _, err := time.Parse("15:04", opts.Schedule.End); err != nil {
		verr.Add("schedule.end", "must be HH:MM")
	} else {
		end, _ = time.Parse("15:04", opts.Schedule.End)
		endOK = true
	}
	if startOK && endOK && !end.After(start) {
		verr.Add("schedule.end", "must be after schedule.start")
	}
	if opts.Schedule.EstimatedHours < 0 {
		verr.Add("schedule.estimated_hours", "must not be negative")
	}
	priority := domain.PriorityMedium
	if strings.TrimSpace(opts.Priority) != "" {
		p, ok := domain.ParsePriority(opts.Priority)
		if !ok {
			verr.Add("priority", "must be one of Low, Medium, High")
		}
		priority = p
	}
	if err := verr.OrNil(); err != nil {
		return "", nil, err
	}
	return priority, normalizeSkills(opts.RequiredSkills), nil
}

func trimCustomer(c domain.Customer) domain.Customer {
	return domain.Customer{
		Name:    strings.TrimSpace(c.Name),
		Address: strings.TrimSpace(c.Address),
		Phone:   strings.TrimSpace(c.Phone),
	}
}

// normalizeSkills lower-cases, trims and de-duplicates skill tags.
func normalizeSkills(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
