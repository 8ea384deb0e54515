package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voltline/internal/aggregate"
	"voltline/internal/config"
	"voltline/internal/db"
	"voltline/internal/domain"
	"voltline/internal/engine"
	"voltline/internal/engine/authz"
	"voltline/internal/events"
	"voltline/internal/migrate"
	"voltline/internal/repo"
)

var (
	admin   = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	manager = domain.Actor{ID: "mgr-1", Role: domain.RoleManager}
	sparky  = domain.Actor{ID: "elec-1", Role: domain.RoleElectrician}
	volta   = domain.Actor{ID: "elec-2", Role: domain.RoleElectrician}
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

// newTestEnv opens a fresh workspace whose clock starts at 08:00 on
// 2025-03-10 and advances one minute per reading.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("Voltline Test"))
	var mu sync.Mutex
	clock := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Minute)
		return clock
	}
	for _, w := range []engine.WorkerOptions{
		{ID: sparky.ID, EmployeeCode: "E-001", Name: "Sam Sparks", Role: "Electrician", Skills: []string{"panel", "solar"}},
		{ID: volta.ID, EmployeeCode: "E-002", Name: "Alessandra Volta", Role: "Electrician", Skills: []string{"panel"}},
		{ID: manager.ID, Name: "Morgan Dispatch", Role: "Manager"},
	} {
		if _, err := eng.RegisterWorker(ctx, admin, w); err != nil {
			t.Fatalf("register %s: %v", w.ID, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) createTask(t *testing.T, priority string, skills ...string) domain.WorkOrder {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, manager, engine.TaskCreateOptions{
		Title:          "Replace breaker panel",
		Customer:       domain.Customer{Name: "Ada Lovelace", Address: "12 Analytical Way", Phone: "555-0100"},
		Priority:       priority,
		Schedule:       domain.Schedule{Date: "2025-03-10", Start: "09:00", End: "12:00", EstimatedHours: 3},
		RequiredSkills: skills,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (env testEnv) verbs(t *testing.T, subject string) []string {
	t.Helper()
	evts, err := env.Engine.Repo.ListEvents(env.Ctx, repo.EventFilter{SubjectRef: subject})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	out := make([]string, 0, len(evts))
	for i := len(evts) - 1; i >= 0; i-- {
		out = append(out, evts[i].Verb)
	}
	return out
}

func expectKind(t *testing.T, err error, kind string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := domain.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %q (%v)", kind, got, err)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Medium")
	if task.Code != "T001" || task.Status != domain.StatusPending || task.Version != 1 {
		t.Fatalf("unexpected new task: %+v", task)
	}

	task, err := env.Engine.Assign(env.Ctx, manager, task.Code, "E-001")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if task.Status != domain.StatusAssigned || !task.AssignedTo(sparky.ID) {
		t.Fatalf("assign did not bind worker: %+v", task)
	}
	task, err = env.Engine.StartTask(env.Ctx, sparky, task.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if task.Actuals.StartedAt == nil {
		t.Fatalf("start time not stamped")
	}
	task, err = env.Engine.CompleteTask(env.Ctx, sparky, task.ID, engine.CompletionDetails{
		Notes: "Panel swapped", MaterialsUsed: "200A panel", AdditionalCharges: 85.5,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.Status != domain.StatusCompleted || task.Actuals.CompletedAt == nil || task.Actuals.AdditionalCharges != 85.5 {
		t.Fatalf("completion not recorded: %+v", task.Actuals)
	}
	if !task.Actuals.StartedAt.Before(*task.Actuals.CompletedAt) {
		t.Fatalf("started %s not before completed %s", task.Actuals.StartedAt, task.Actuals.CompletedAt)
	}
	task, err = env.Engine.AttachFeedback(env.Ctx, manager, task.ID, 5, "Spotless")
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if task.Version != 5 {
		t.Fatalf("expected version 5, got %d", task.Version)
	}

	stored, err := env.Engine.GetTask(env.Ctx, admin, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Feedback == nil || stored.Feedback.Rating != 5 || stored.Version != task.Version {
		t.Fatalf("stored task diverged: %+v", stored)
	}
	want := []string{events.VerbTaskCreated, events.VerbTaskAssigned, events.VerbTaskStarted, events.VerbTaskCompleted, events.VerbTaskFeedback}
	if got := env.verbs(t, task.ID); !equalStrings(got, want) {
		t.Fatalf("feed verbs = %v, want %v", got, want)
	}
}

func TestTransitionRetryIsNoop(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "")
	if _, err := env.Engine.Assign(env.Ctx, manager, task.ID, sparky.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	started, err := env.Engine.StartTask(env.Ctx, sparky, task.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	before, _ := env.Engine.Repo.LatestEventID(env.Ctx)
	again, err := env.Engine.StartTask(env.Ctx, sparky, task.ID)
	if err != nil {
		t.Fatalf("retry start: %v", err)
	}
	if again.Version != started.Version {
		t.Fatalf("retry bumped version %d -> %d", started.Version, again.Version)
	}
	if after, _ := env.Engine.Repo.LatestEventID(env.Ctx); after != before {
		t.Fatalf("retry appended %d events", after-before)
	}

	details := engine.CompletionDetails{Notes: "Breaker replaced", AdditionalCharges: 40}
	done, err := env.Engine.CompleteTask(env.Ctx, sparky, task.ID, details)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	before, _ = env.Engine.Repo.LatestEventID(env.Ctx)
	doneAgain, err := env.Engine.CompleteTask(env.Ctx, sparky, task.ID, details)
	if err != nil {
		t.Fatalf("retry complete: %v", err)
	}
	if doneAgain.Version != done.Version || !doneAgain.Actuals.CompletedAt.Equal(*done.Actuals.CompletedAt) {
		t.Fatalf("retry complete changed the task: v%d -> v%d", done.Version, doneAgain.Version)
	}
	if after, _ := env.Engine.Repo.LatestEventID(env.Ctx); after != before {
		t.Fatalf("retry complete appended %d events", after-before)
	}

	// Assigned with the same assignee through Transition is also a no-op.
	task2 := env.createTask(t, "")
	if _, err := env.Engine.Assign(env.Ctx, manager, task2.ID, volta.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	before, _ = env.Engine.Repo.LatestEventID(env.Ctx)
	if _, err := env.Engine.Transition(env.Ctx, manager, task2.ID, domain.StatusAssigned, engine.TransitionPayload{AssigneeID: volta.ID}); err != nil {
		t.Fatalf("idempotent assign: %v", err)
	}
	after, _ := env.Engine.Repo.LatestEventID(env.Ctx)
	if after != before {
		t.Fatalf("no-op appended %d events", after-before)
	}
}

func TestInvalidTransitions(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Low")

	_, err := env.Engine.CompleteTask(env.Ctx, admin, task.ID, engine.CompletionDetails{Notes: "done"})
	expectKind(t, err, domain.KindInvalidTransition)

	_, err = env.Engine.StartTask(env.Ctx, admin, task.ID)
	expectKind(t, err, domain.KindInvalidTransition)

	if _, err := env.Engine.Assign(env.Ctx, manager, task.ID, sparky.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	_, err = env.Engine.Transition(env.Ctx, manager, task.ID, domain.StatusPending, engine.TransitionPayload{})
	expectKind(t, err, domain.KindInvalidTransition)

	_, err = env.Engine.Assign(env.Ctx, manager, task.ID, volta.ID)
	expectKind(t, err, domain.KindInvalidState)

	cancelled, err := env.Engine.CancelTask(env.Ctx, manager, task.ID, "customer rescheduled")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// A cancelled task has no assignee, so the ownership check answers first
	// for electricians; roles without that check see the illegal move.
	_, err = env.Engine.StartTask(env.Ctx, sparky, cancelled.ID)
	expectKind(t, err, domain.KindForbidden)
	_, err = env.Engine.StartTask(env.Ctx, admin, cancelled.ID)
	expectKind(t, err, domain.KindInvalidTransition)
	_, err = env.Engine.CompleteTask(env.Ctx, admin, cancelled.ID, engine.CompletionDetails{Notes: "late"})
	expectKind(t, err, domain.KindInvalidTransition)
	_, err = env.Engine.Transition(env.Ctx, admin, task.ID, domain.TaskStatus("Archived"), engine.TransitionPayload{})
	expectKind(t, err, domain.KindValidation)
}

func TestCompletionRequiresNotes(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "")
	if _, err := env.Engine.Assign(env.Ctx, manager, task.ID, sparky.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.StartTask(env.Ctx, sparky, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := env.Engine.CompleteTask(env.Ctx, sparky, task.ID, engine.CompletionDetails{Notes: "  ", AdditionalCharges: -1})
	expectKind(t, err, domain.KindValidation)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) != 2 {
		t.Fatalf("expected both fields reported, got %v", err)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, manager, engine.TaskCreateOptions{
		Title:    "Bad window",
		Customer: domain.Customer{Name: "A", Address: "B", Phone: "C"},
		Priority: "Urgent",
		Schedule: domain.Schedule{Date: "2025-03-10", Start: "12:00", End: "09:00"},
	})
	expectKind(t, err, domain.KindValidation)
	var verr *domain.ValidationError
	errors.As(err, &verr)
	fields := map[string]bool{}
	for _, f := range verr.Fields {
		fields[f.Field] = true
	}
	if !fields["priority"] || !fields["schedule.end"] {
		t.Fatalf("missing field errors: %+v", verr.Fields)
	}
	if n, _ := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilter{}); len(n) != 0 {
		t.Fatalf("invalid task was stored")
	}
}

func TestConcurrentAssignSameWorker(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "")
	b := env.createTask(t, "")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = env.Engine.Assign(env.Ctx, manager, id, sparky.ID)
		}(i, id)
	}
	wg.Wait()

	var ok, unavailable int
	for _, err := range errs {
		var wu *domain.WorkerUnavailableError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &wu):
			unavailable++
			if wu.Availability != domain.OnTask {
				t.Fatalf("expected OnTask, got %s", wu.Availability)
			}
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || unavailable != 1 {
		t.Fatalf("expected one winner and one unavailable, got ok=%d unavailable=%d", ok, unavailable)
	}
}

func TestConcurrentAssignSameTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, w := range []string{sparky.ID, volta.ID} {
		wg.Add(1)
		go func(i int, w string) {
			defer wg.Done()
			_, errs[i] = env.Engine.Assign(env.Ctx, manager, task.ID, w)
		}(i, w)
	}
	wg.Wait()
	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		expectKind(t, err, domain.KindInvalidState)
	}
	if ok != 1 {
		t.Fatalf("expected exactly one assignment, got %d", ok)
	}
	if got := env.verbs(t, task.ID); len(got) != 2 {
		t.Fatalf("expected created+assigned events, got %v", got)
	}
}

func TestElectricianOwnership(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "")
	other := env.createTask(t, "")
	if _, err := env.Engine.Assign(env.Ctx, manager, task.ID, sparky.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	_, err := env.Engine.StartTask(env.Ctx, volta, task.ID)
	var forbidden authz.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	_, err = env.Engine.GetTask(env.Ctx, sparky, other.ID)
	expectKind(t, err, domain.KindNotFound)

	list, err := env.Engine.ListTasks(env.Ctx, sparky, repo.TaskFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != task.ID {
		t.Fatalf("electrician saw %d tasks", len(list))
	}

	_, err = env.Engine.CreateTask(env.Ctx, sparky, engine.TaskCreateOptions{Title: "x"})
	expectKind(t, err, domain.KindForbidden)
	_, err = env.Engine.Assign(env.Ctx, sparky, other.ID, sparky.ID)
	expectKind(t, err, domain.KindForbidden)
}

func TestCancelClearsAssignee(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "")
	if _, err := env.Engine.Assign(env.Ctx, manager, task.ID, sparky.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	cancelled, err := env.Engine.CancelTask(env.Ctx, manager, task.ID, "duplicate")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled || cancelled.AssigneeID != nil {
		t.Fatalf("cancel left %+v", cancelled)
	}
	workers, err := env.Engine.Workers(env.Ctx, manager, domain.RoleElectrician, true)
	if err != nil {
		t.Fatalf("workers: %v", err)
	}
	for _, w := range workers {
		if w.ID == sparky.ID && w.Availability != domain.Available {
			t.Fatalf("worker still %s after cancel", w.Availability)
		}
	}
	// The freed worker can take the next job.
	next := env.createTask(t, "")
	if _, err := env.Engine.Assign(env.Ctx, manager, next.ID, sparky.ID); err != nil {
		t.Fatalf("reassign: %v", err)
	}
}

func TestFeedbackRules(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "")
	if _, err := env.Engine.Assign(env.Ctx, manager, task.ID, sparky.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	_, err := env.Engine.AttachFeedback(env.Ctx, manager, task.ID, 4, "")
	expectKind(t, err, domain.KindInvalidState)

	if _, err := env.Engine.StartTask(env.Ctx, sparky, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.Engine.CompleteTask(env.Ctx, sparky, task.ID, engine.CompletionDetails{Notes: "ok"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_, err = env.Engine.AttachFeedback(env.Ctx, manager, task.ID, 6, "")
	expectKind(t, err, domain.KindValidation)
	_, err = env.Engine.AttachFeedback(env.Ctx, sparky, task.ID, 5, "")
	expectKind(t, err, domain.KindForbidden)
	if _, err := env.Engine.AttachFeedback(env.Ctx, manager, task.ID, 4, "Good"); err != nil {
		t.Fatalf("feedback: %v", err)
	}
	_, err = env.Engine.AttachFeedback(env.Ctx, manager, task.ID, 5, "Changed my mind")
	expectKind(t, err, domain.KindInvalidState)
}

func TestIssueEscalation(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Low")
	if _, err := env.Engine.Assign(env.Ctx, manager, task.ID, sparky.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.StartTask(env.Ctx, sparky, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := env.Engine.ReportIssue(env.Ctx, volta, task.ID, engine.IssueDetails{Type: "safety", Description: "x"})
	expectKind(t, err, domain.KindForbidden)

	is, err := env.Engine.ReportIssue(env.Ctx, sparky, task.ID, engine.IssueDetails{
		Type: "Safety", Description: "Exposed live wiring", RequestedAction: "assistance", Priority: "emergency",
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if is.Status != domain.IssueOpen || is.Type != domain.IssueSafety {
		t.Fatalf("unexpected issue: %+v", is)
	}
	raised, err := env.Engine.GetTask(env.Ctx, admin, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if raised.Priority != domain.PriorityHigh || raised.Status != domain.StatusInProgress {
		t.Fatalf("emergency should raise priority only, got %s/%s", raised.Priority, raised.Status)
	}
	if got := env.verbs(t, task.ID); got[len(got)-1] != events.VerbTaskPriority {
		t.Fatalf("expected priority event, got %v", got)
	}

	_, err = env.Engine.ResolveIssue(env.Ctx, manager, is.ID, "")
	expectKind(t, err, domain.KindValidation)
	if _, err := env.Engine.UpdateIssueStatus(env.Ctx, manager, is.ID, domain.IssueInProgress, ""); err != nil {
		t.Fatalf("in_progress: %v", err)
	}
	resolved, err := env.Engine.ResolveIssue(env.Ctx, manager, is.ID, "Isolated circuit")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ResolvedBy == nil || *resolved.ResolvedBy != manager.ID || resolved.ResolvedAt == nil {
		t.Fatalf("resolution not stamped: %+v", resolved)
	}
	_, err = env.Engine.UpdateIssueStatus(env.Ctx, manager, is.ID, domain.IssueInProgress, "")
	expectKind(t, err, domain.KindInvalidTransition)

	mine, err := env.Engine.ListIssues(env.Ctx, volta, repo.IssueFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 0 {
		t.Fatalf("electrician saw someone else's issue")
	}
}

func TestElectricianIssueListAppliesLimitToOwnIssues(t *testing.T) {
	env := newTestEnv(t)
	mineTask := env.createTask(t, "")
	theirTask := env.createTask(t, "")
	if _, err := env.Engine.Assign(env.Ctx, manager, mineTask.ID, sparky.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.Assign(env.Ctx, manager, theirTask.ID, volta.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	own, err := env.Engine.ReportIssue(env.Ctx, sparky, mineTask.ID, engine.IssueDetails{Type: "access", Description: "Gate locked"})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	// The newer issue belongs to someone else.
	if _, err := env.Engine.ReportIssue(env.Ctx, volta, theirTask.ID, engine.IssueDetails{Type: "materials", Description: "Wrong cable"}); err != nil {
		t.Fatalf("report: %v", err)
	}

	list, err := env.Engine.ListIssues(env.Ctx, sparky, repo.IssueFilter{Limit: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != own.ID {
		t.Fatalf("expected own issue %s, got %+v", own.ID, list)
	}
	all, err := env.Engine.ListIssues(env.Ctx, manager, repo.IssueFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("manager saw %d issues", len(all))
	}
}

func TestIssueOnClosedTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "")
	if _, err := env.Engine.CancelTask(env.Ctx, manager, task.ID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err := env.Engine.ReportIssue(env.Ctx, admin, task.ID, engine.IssueDetails{Type: "access", Description: "Gate locked"})
	expectKind(t, err, domain.KindInvalidState)
}

func TestRankCandidates(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.RegisterWorker(env.Ctx, admin, engine.WorkerOptions{ID: "elec-3", Name: "Off Duty", Role: "Electrician", Skills: []string{"panel", "solar"}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := env.Engine.SetPresence(env.Ctx, admin, "elec-3", "Offline"); err != nil {
		t.Fatalf("presence: %v", err)
	}
	task := env.createTask(t, "", "Solar", "panel")
	cands, err := env.Engine.RankCandidates(env.Ctx, manager, task.ID)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("expected 2 available candidates, got %d", len(cands))
	}
	if cands[0].Worker.ID != sparky.ID || cands[0].SkillOverlap != 2 || cands[1].SkillOverlap != 1 {
		t.Fatalf("unexpected order: %+v", cands)
	}

	best, err := env.Engine.AssignBestMatch(env.Ctx, manager, task.ID)
	if err != nil {
		t.Fatalf("best match: %v", err)
	}
	if !best.AssignedTo(sparky.ID) {
		t.Fatalf("expected %s, got %v", sparky.ID, best.AssigneeID)
	}
}

func TestAssignBestMatchNoneAvailable(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{sparky.ID, volta.ID} {
		if _, err := env.Engine.SetPresence(env.Ctx, domain.Actor{ID: id, Role: domain.RoleElectrician}, id, "Break"); err != nil {
			t.Fatalf("presence: %v", err)
		}
	}
	task := env.createTask(t, "")
	_, err := env.Engine.AssignBestMatch(env.Ctx, manager, task.ID)
	expectKind(t, err, domain.KindWorkerUnavailable)

	_, err = env.Engine.Assign(env.Ctx, manager, task.ID, sparky.ID)
	var wu *domain.WorkerUnavailableError
	if !errors.As(err, &wu) || wu.Availability != domain.OnBreak {
		t.Fatalf("expected OnBreak, got %v", err)
	}
	_, err = env.Engine.Assign(env.Ctx, manager, task.ID, manager.ID)
	expectKind(t, err, domain.KindWorkerUnavailable)
	_, err = env.Engine.Assign(env.Ctx, manager, task.ID, "ghost")
	expectKind(t, err, domain.KindNotFound)
}

func TestSetPresencePermissions(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.SetPresence(env.Ctx, sparky, volta.ID, "Offline")
	expectKind(t, err, domain.KindForbidden)
	w, err := env.Engine.SetPresence(env.Ctx, sparky, "E-001", "Offline")
	if err == nil {
		t.Fatalf("setting presence by code for self should need worker.manage, got %+v", w)
	}
	w, err = env.Engine.SetPresence(env.Ctx, sparky, sparky.ID, "offline")
	if err != nil {
		t.Fatalf("self presence: %v", err)
	}
	if w.Presence != domain.PresenceOffline {
		t.Fatalf("presence = %s", w.Presence)
	}
	_, err = env.Engine.SetPresence(env.Ctx, sparky, sparky.ID, "Lunch")
	expectKind(t, err, domain.KindValidation)
}

func TestStatsCacheInvalidatedOnWrite(t *testing.T) {
	env := newTestEnv(t)
	st, err := env.Engine.Stats(env.Ctx, manager)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TodayTotal != 0 || st.AvailableElectricians != 2 {
		t.Fatalf("unexpected initial stats: %+v", st)
	}
	task := env.createTask(t, "")
	if _, err := env.Engine.Assign(env.Ctx, manager, task.ID, sparky.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	st, err = env.Engine.Stats(env.Ctx, manager)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TodayTotal != 1 || st.AssignedToday != 1 || st.AvailableElectricians != 1 || st.ActiveElectricians != 2 {
		t.Fatalf("stale stats after write: %+v", st)
	}

	own, err := env.Engine.Stats(env.Ctx, volta)
	if err != nil {
		t.Fatalf("own stats: %v", err)
	}
	if own.TodayTotal != 0 {
		t.Fatalf("electrician dashboard leaked other tasks: %+v", own)
	}
	_, err = env.Engine.WorkerStats(env.Ctx, volta, sparky.ID)
	expectKind(t, err, domain.KindForbidden)
	byCode, err := env.Engine.WorkerStats(env.Ctx, manager, "E-001")
	if err != nil {
		t.Fatalf("worker stats by code: %v", err)
	}
	if byCode.TodayTotal != 1 {
		t.Fatalf("worker stats by code = %+v", byCode)
	}
}

func TestFeedUnreadAndMarkRead(t *testing.T) {
	env := newTestEnv(t)
	env.createTask(t, "")

	// Three worker.added events and one task.created, none authored by sparky.
	n, err := env.Engine.UnreadCount(env.Ctx, sparky)
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if n != 4 {
		t.Fatalf("unread = %d, want 4", n)
	}
	page, err := env.Engine.RecentActivity(env.Ctx, sparky, engine.FeedQuery{Limit: 2})
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(page.Events) != 2 || page.NextCursor != page.Events[1].ID || page.Events[0].Verb != events.VerbTaskCreated {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Events[0].Read == nil || *page.Events[0].Read {
		t.Fatalf("newest event should be unread")
	}
	for i := 0; i < 2; i++ {
		if err := env.Engine.MarkRead(env.Ctx, sparky, page.Events[0].ID); err != nil {
			t.Fatalf("mark read: %v", err)
		}
	}
	if n, _ := env.Engine.UnreadCount(env.Ctx, sparky); n != 3 {
		t.Fatalf("unread after mark = %d, want 3", n)
	}
	rest, err := env.Engine.RecentActivity(env.Ctx, sparky, engine.FeedQuery{Before: page.NextCursor})
	if err != nil {
		t.Fatalf("feed page 2: %v", err)
	}
	if len(rest.Events) != 2 || rest.NextCursor != 0 {
		t.Fatalf("unexpected second page: %+v", rest)
	}
	expectKind(t, env.Engine.MarkRead(env.Ctx, sparky, 9999), domain.KindNotFound)

	// Events an actor authored never count as unread for them.
	if n, _ := env.Engine.UnreadCount(env.Ctx, admin); n != 1 {
		t.Fatalf("admin unread = %d, want 1", n)
	}
}

func TestGenerateReport(t *testing.T) {
	env := newTestEnv(t)
	env.createTask(t, "")
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	rep, err := env.Engine.GenerateReport(env.Ctx, manager, "TaskAnalytics", start, end)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	analytics, ok := rep.Payload.(aggregate.TaskAnalytics)
	if !ok || analytics.TotalTasks != 1 || rep.Type != domain.ReportTaskAnalytics {
		t.Fatalf("unexpected report: %+v", rep)
	}

	_, err = env.Engine.GenerateReport(env.Ctx, manager, "payroll", start, end)
	expectKind(t, err, domain.KindUnsupportedReport)
	_, err = env.Engine.GenerateReport(env.Ctx, sparky, "task_analytics", start, end)
	expectKind(t, err, domain.KindForbidden)
	_, err = env.Engine.GenerateReport(env.Ctx, manager, "task_analytics", end, start)
	expectKind(t, err, domain.KindValidation)

	ctx, cancel := context.WithCancel(env.Ctx)
	cancel()
	if _, err := env.Engine.GenerateReport(ctx, manager, "system_usage", start, end); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTeamSummaryWithoutTasks(t *testing.T) {
	env := newTestEnv(t)
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	ts, err := env.Engine.TeamSummary(env.Ctx, manager, start, start.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("team: %v", err)
	}
	if ts.TotalTasksHandled != 0 || ts.OverallCompletionRate != 0 || ts.AverageRating != 0 {
		t.Fatalf("empty team summary = %+v", ts)
	}
	if ts.TotalElectricians != 2 || len(ts.WorkloadDistribution) != 2 {
		t.Fatalf("expected both electricians listed, got %+v", ts.WorkloadDistribution)
	}
}

func TestImportConfig(t *testing.T) {
	env := newTestEnv(t)
	cfg := config.Default("Bright Sparks Ltd")
	expectKind(t, env.Engine.ImportConfig(env.Ctx, manager, cfg), domain.KindForbidden)

	bad := config.Default("x")
	delete(bad.RBAC.Roles, "electrician")
	expectKind(t, env.Engine.ImportConfig(env.Ctx, admin, bad), domain.KindValidation)

	if err := env.Engine.ImportConfig(env.Ctx, admin, cfg); err != nil {
		t.Fatalf("import: %v", err)
	}
	stored, err := env.Engine.Repo.GetConfig(env.Ctx)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if stored.Company.Name != "Bright Sparks Ltd" {
		t.Fatalf("stored company = %q", stored.Company.Name)
	}
	if env.Engine.Config.Company.Name != "Voltline Test" {
		t.Fatalf("running engine config changed")
	}
}

func TestRegisterWorkerRejectsDuplicate(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RegisterWorker(env.Ctx, admin, engine.WorkerOptions{ID: sparky.ID, Name: "Again", Role: "Electrician"})
	expectKind(t, err, domain.KindInvalidState)
	_, err = env.Engine.RegisterWorker(env.Ctx, admin, engine.WorkerOptions{Name: "", Role: "Plumber"})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) != 2 {
		t.Fatalf("expected two field errors, got %v", err)
	}
	_, err = env.Engine.RegisterWorker(env.Ctx, manager, engine.WorkerOptions{Name: "New", Role: "Electrician"})
	expectKind(t, err, domain.KindForbidden)
}
