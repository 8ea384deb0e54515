package engine

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"voltline/internal/aggregate"
	"voltline/internal/domain"
	"voltline/internal/engine/authz"
	"voltline/internal/events"
	"voltline/internal/repo"
)

// Assign binds a Pending task to an available electrician. The worker lock
// is taken before the task lock so the availability check and the write are
// atomic for that worker.
func (e Engine) Assign(ctx context.Context, actor domain.Actor, taskID, workerID string) (domain.WorkOrder, error) {
	return e.assign(ctx, actor, taskID, workerID, false)
}

func (e Engine) assign(ctx context.Context, actor domain.Actor, taskID, workerID string, idempotent bool) (domain.WorkOrder, error) {
	const op = "task.assign"
	if err := e.authorize(ctx, op, actor, authz.TaskAssign); err != nil {
		return domain.WorkOrder{}, err
	}
	if strings.TrimSpace(workerID) == "" {
		verr := &domain.ValidationError{}
		verr.Add("assignee_id", "is required")
		return domain.WorkOrder{}, e.fail(ctx, op, verr)
	}
	id, err := e.resolveTaskID(ctx, taskID)
	if err != nil {
		return domain.WorkOrder{}, e.fail(ctx, op, err)
	}
	w, err := e.Repo.GetWorker(ctx, workerID)
	if err != nil {
		return domain.WorkOrder{}, e.fail(ctx, op, notFound("worker", workerID, err))
	}

	unlockWorker := e.workers.Lock(w.ID)
	defer unlockWorker()
	unlockTask := e.tasks.Lock(id)
	defer unlockTask()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.WorkOrder{}, e.fail(ctx, op, notFound("task", taskID, err))
	}
	if idempotent && t.Status == domain.StatusAssigned && t.AssignedTo(w.ID) {
		return t, nil
	}
	if t.Status != domain.StatusPending {
		return domain.WorkOrder{}, e.fail(ctx, op, &domain.InvalidStateError{Entity: "task", ID: t.ID, State: string(t.Status), Reason: "only Pending tasks can be assigned"})
	}
	if w, err = e.Repo.GetWorkerTx(ctx, tx, w.ID); err != nil {
		return domain.WorkOrder{}, e.fail(ctx, op, notFound("worker", workerID, err))
	}
	if err := e.ensureAssignable(ctx, tx, w); err != nil {
		return domain.WorkOrder{}, e.fail(ctx, op, err)
	}
	if err := ensureTaskTransition(t.Status, domain.StatusAssigned); err != nil {
		return domain.WorkOrder{}, e.fail(ctx, op, err)
	}

	now := e.now()
	assignee := w.ID
	t.AssigneeID = &assignee
	t.Status = domain.StatusAssigned
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.WorkOrder{}, e.fail(ctx, op, conflict("task", t.ID, string(domain.StatusPending), err))
	}
	t.Version++
	if err := e.record(ctx, tx, actor, now, events.VerbTaskAssigned, events.SubjectTask, t.ID, events.Payload{
		"code":        t.Code,
		"from":        domain.StatusPending,
		"to":          domain.StatusAssigned,
		"assignee":    w.ID,
		"worker_name": w.Name,
	}); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := e.commit(tx); err != nil {
		return domain.WorkOrder{}, err
	}
	e.Metrics.transition(ctx, string(domain.StatusPending), string(domain.StatusAssigned))
	e.logger().Debug("task assigned", "task", t.ID, "worker", w.ID, "actor", actor.ID)
	return t, nil
}

func (e Engine) ensureAssignable(ctx context.Context, tx *sql.Tx, w domain.Worker) error {
	if w.Role != domain.RoleElectrician {
		return &domain.WorkerUnavailableError{WorkerID: w.ID, Reason: "only electricians take field tasks"}
	}
	active, err := e.Repo.ListTasksTx(ctx, tx, repo.TaskFilter{
		AssigneeID: w.ID,
		Status:     []domain.TaskStatus{domain.StatusAssigned, domain.StatusInProgress},
	})
	if err != nil {
		return err
	}
	if a := aggregate.Availability(w, active); a != domain.Available {
		return &domain.WorkerUnavailableError{WorkerID: w.ID, Availability: a}
	}
	return nil
}

// Candidate is one ranked electrician for a task.
type Candidate struct {
	Worker        domain.Worker `json:"worker"`
	SkillOverlap  int           `json:"skill_overlap"`
	AverageRating float64       `json:"average_rating"`
	TasksToday    int           `json:"tasks_today"`
}

// RankCandidates lists Available electricians for the task, best first. The
// ranking is advisory; Assign accepts any available worker.
func (e Engine) RankCandidates(ctx context.Context, actor domain.Actor, taskID string) ([]Candidate, error) {
	if err := e.authorize(ctx, "task.rank", actor, authz.TaskAssign); err != nil {
		return nil, err
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, notFound("task", taskID, err)
	}
	snap, err := e.loadSnapshot(ctx, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	return rankCandidates(t, snap, e.now()), nil
}

// rankCandidates orders Available electricians by skill overlap desc,
// average rating desc, tasks scheduled today asc, then id for determinism.
func rankCandidates(task domain.WorkOrder, snap aggregate.Snapshot, asOf time.Time) []Candidate {
	loc := snap.Loc
	if loc == nil {
		loc = time.UTC
	}
	today := asOf.In(loc).Format(domain.DateLayout)
	required := map[string]bool{}
	for _, s := range task.RequiredSkills {
		required[strings.ToLower(strings.TrimSpace(s))] = true
	}
	var out []Candidate
	for _, w := range aggregate.Enrich(snap) {
		if w.Role != domain.RoleElectrician || w.Availability != domain.Available {
			continue
		}
		c := Candidate{Worker: w}
		for _, s := range w.Skills {
			if required[strings.ToLower(strings.TrimSpace(s))] {
				c.SkillOverlap++
			}
		}
		if w.Performance != nil {
			c.AverageRating = w.Performance.AverageRating
		}
		for _, t := range snap.Tasks {
			if t.AssignedTo(w.ID) && t.Schedule.Date == today {
				c.TasksToday++
			}
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SkillOverlap != b.SkillOverlap {
			return a.SkillOverlap > b.SkillOverlap
		}
		if a.AverageRating != b.AverageRating {
			return a.AverageRating > b.AverageRating
		}
		if a.TasksToday != b.TasksToday {
			return a.TasksToday < b.TasksToday
		}
		return a.Worker.ID < b.Worker.ID
	})
	return out
}

// AssignBestMatch assigns the top-ranked candidate. A candidate that became
// unavailable since ranking is skipped in favour of the next one.
func (e Engine) AssignBestMatch(ctx context.Context, actor domain.Actor, taskID string) (domain.WorkOrder, error) {
	candidates, err := e.RankCandidates(ctx, actor, taskID)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	for _, c := range candidates {
		t, err := e.Assign(ctx, actor, taskID, c.Worker.ID)
		var unavailable *domain.WorkerUnavailableError
		if errors.As(err, &unavailable) {
			continue
		}
		return t, err
	}
	return domain.WorkOrder{}, e.fail(ctx, "task.assign", &domain.WorkerUnavailableError{Reason: "no available electrician"})
}
