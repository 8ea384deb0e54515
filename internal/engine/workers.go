package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"voltline/internal/domain"
	"voltline/internal/engine/authz"
	"voltline/internal/events"
)

// WorkerOptions seed a directory entry. The identity side owns workers; this
// exists so a standalone store can be populated.
type WorkerOptions struct {
	ID             string
	EmployeeCode   string
	Name           string
	Role           string
	Email          string
	Phone          string
	Skills         []string
	Certifications string
}

func (e Engine) RegisterWorker(ctx context.Context, actor domain.Actor, opts WorkerOptions) (domain.Worker, error) {
	const op = "worker.register"
	if err := e.authorize(ctx, op, actor, authz.WorkerManage); err != nil {
		return domain.Worker{}, err
	}
	verr := &domain.ValidationError{}
	if strings.TrimSpace(opts.Name) == "" {
		verr.Add("name", "is required")
	}
	role, ok := domain.ParseRole(opts.Role)
	if !ok {
		verr.Add("role", "must be one of Admin, Manager, Electrician")
	}
	if err := verr.OrNil(); err != nil {
		return domain.Worker{}, e.fail(ctx, op, err)
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	}
	now := e.now()
	w := domain.Worker{
		ID:             id,
		EmployeeCode:   strings.TrimSpace(opts.EmployeeCode),
		Name:           strings.TrimSpace(opts.Name),
		Role:           role,
		Email:          strings.TrimSpace(opts.Email),
		Phone:          strings.TrimSpace(opts.Phone),
		Skills:         normalizeSkills(opts.Skills),
		Certifications: strings.TrimSpace(opts.Certifications),
		Active:         true,
		Presence:       domain.PresenceOnline,
		CreatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Worker{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetWorkerTx(ctx, tx, w.ID); err == nil {
		return domain.Worker{}, e.fail(ctx, op, &domain.InvalidStateError{Entity: "worker", ID: w.ID, State: "registered", Reason: "worker already exists"})
	}
	if err := e.Repo.InsertWorker(ctx, tx, w); err != nil {
		return domain.Worker{}, err
	}
	if err := e.record(ctx, tx, actor, now, events.VerbWorkerAdded, events.SubjectWorker, w.ID, events.Payload{
		"name": w.Name,
		"role": w.Role,
	}); err != nil {
		return domain.Worker{}, err
	}
	if err := e.commit(tx); err != nil {
		return domain.Worker{}, err
	}
	return w, nil
}

// SetPresence records a worker going online, offline or on break. Workers
// may set their own presence; changing someone else's needs worker.manage.
func (e Engine) SetPresence(ctx context.Context, actor domain.Actor, workerID string, presence string) (domain.Worker, error) {
	const op = "worker.presence"
	perm := authz.WorkerManage
	if actor.ID != "" && actor.ID == workerID {
		perm = authz.FeedRead
	}
	if err := e.authorize(ctx, op, actor, perm); err != nil {
		return domain.Worker{}, err
	}
	p, ok := domain.ParsePresence(presence)
	if !ok {
		verr := &domain.ValidationError{}
		verr.Add("presence", "must be one of Online, Offline, Break")
		return domain.Worker{}, e.fail(ctx, op, verr)
	}
	known, err := e.Repo.GetWorker(ctx, workerID)
	if err != nil {
		return domain.Worker{}, e.fail(ctx, op, notFound("worker", workerID, err))
	}
	unlock := e.workers.Lock(known.ID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Worker{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWorkerTx(ctx, tx, known.ID)
	if err != nil {
		return domain.Worker{}, e.fail(ctx, op, notFound("worker", workerID, err))
	}
	if w.Presence == p {
		return w, nil
	}
	prev := w.Presence
	if err := e.Repo.UpdateWorkerPresence(ctx, tx, w.ID, p); err != nil {
		return domain.Worker{}, notFound("worker", workerID, err)
	}
	w.Presence = p
	if err := e.record(ctx, tx, actor, e.now(), events.VerbWorkerPresence, events.SubjectWorker, w.ID, events.Payload{
		"from": prev,
		"to":   p,
	}); err != nil {
		return domain.Worker{}, err
	}
	if err := e.commit(tx); err != nil {
		return domain.Worker{}, err
	}
	return w, nil
}
