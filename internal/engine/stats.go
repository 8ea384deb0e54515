package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"voltline/internal/aggregate"
	"voltline/internal/domain"
	"voltline/internal/engine/authz"
	"voltline/internal/repo"
)

// statsCache memoises aggregate results per store generation. Every commit
// bumps the generation and purges, so a hit is never older than the last
// write made through this engine.
type statsCache struct {
	mu  sync.Mutex
	gen uint64
	lru *expirable.LRU[string, any]
}

func newStatsCache(size int, ttl time.Duration) *statsCache {
	c := &statsCache{}
	if size > 0 {
		c.lru = expirable.NewLRU[string, any](size, nil, ttl)
	}
	return c
}

func (c *statsCache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *statsCache) get(query string) (any, bool) {
	if c == nil || c.lru == nil {
		return nil, false
	}
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	return c.lru.Get(fmt.Sprintf("%d|%s", gen, query))
}

// put stores v only if no commit happened since gen was read.
func (c *statsCache) put(query string, gen uint64, v any) {
	if c == nil || c.lru == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.lru.Add(fmt.Sprintf("%d|%s", gen, query), v)
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
	if c.lru != nil {
		c.lru.Purge()
	}
}

// cached serves query from the cache or computes it over a fresh snapshot.
func cached[T any](ctx context.Context, e Engine, query string, compute func() (T, error)) (T, error) {
	if v, ok := e.stats.get(query); ok {
		if out, ok := v.(T); ok {
			e.Metrics.statsComputed(ctx, query, 0, true)
			return out, nil
		}
	}
	var gen uint64
	if e.stats != nil {
		gen = e.stats.generation()
	}
	start := time.Now()
	out, err := compute()
	if err != nil {
		return out, err
	}
	e.Metrics.statsComputed(ctx, query, time.Since(start), false)
	e.stats.put(query, gen, out)
	return out, nil
}

// loadSnapshot reads tasks, issues, workers and, when a window is given,
// the feed events inside it, all from one committed state.
func (e Engine) loadSnapshot(ctx context.Context, eventsFrom, eventsTo time.Time) (aggregate.Snapshot, error) {
	snap := aggregate.Snapshot{Loc: e.location()}
	err := e.Repo.ReadSnapshot(ctx, func(q repo.Querier) error {
		var err error
		if snap.Tasks, err = e.Repo.ListTasksTx(ctx, q, repo.TaskFilter{}); err != nil {
			return fmt.Errorf("load tasks: %w", err)
		}
		if snap.Issues, err = e.Repo.ListIssuesTx(ctx, q, repo.IssueFilter{}); err != nil {
			return fmt.Errorf("load issues: %w", err)
		}
		if snap.Workers, err = e.Repo.ListWorkersTx(ctx, q, repo.WorkerFilter{}); err != nil {
			return fmt.Errorf("load workers: %w", err)
		}
		if !eventsFrom.IsZero() || !eventsTo.IsZero() {
			if snap.Events, err = e.Repo.ListEventsTx(ctx, q, repo.EventFilter{From: eventsFrom, To: eventsTo}); err != nil {
				return fmt.Errorf("load events: %w", err)
			}
		}
		return nil
	})
	return snap, err
}

// Stats returns the caller's dashboard: the company-wide view for managers
// and admins, the caller's own counters for electricians.
func (e Engine) Stats(ctx context.Context, actor domain.Actor) (aggregate.DashboardStats, error) {
	if err := e.authorize(ctx, "stats.get", actor, authz.StatsRead); err != nil {
		return aggregate.DashboardStats{}, err
	}
	if actor.Role == domain.RoleElectrician {
		return e.workerStats(ctx, actor.ID)
	}
	asOf := e.now()
	day := asOf.In(e.location()).Format(domain.DateLayout)
	return cached(ctx, e, "dashboard|"+day, func() (aggregate.DashboardStats, error) {
		snap, err := e.loadSnapshot(ctx, time.Time{}, time.Time{})
		if err != nil {
			return aggregate.DashboardStats{}, err
		}
		return aggregate.Dashboard(snap, asOf), nil
	})
}

// WorkerStats returns one electrician's dashboard. Electricians may only
// ask for their own.
func (e Engine) WorkerStats(ctx context.Context, actor domain.Actor, workerID string) (aggregate.DashboardStats, error) {
	if err := e.authorize(ctx, "stats.worker", actor, authz.StatsRead); err != nil {
		return aggregate.DashboardStats{}, err
	}
	if actor.Role == domain.RoleElectrician && workerID != actor.ID {
		return aggregate.DashboardStats{}, authz.ForbiddenError{Permission: authz.StatsRead, Role: actor.Role, Reason: "electricians see only their own stats"}
	}
	w, err := e.Repo.GetWorker(ctx, workerID)
	if err != nil {
		return aggregate.DashboardStats{}, notFound("worker", workerID, err)
	}
	return e.workerStats(ctx, w.ID)
}

func (e Engine) workerStats(ctx context.Context, workerID string) (aggregate.DashboardStats, error) {
	asOf := e.now()
	day := asOf.In(e.location()).Format(domain.DateLayout)
	return cached(ctx, e, "worker|"+workerID+"|"+day, func() (aggregate.DashboardStats, error) {
		snap, err := e.loadSnapshot(ctx, time.Time{}, time.Time{})
		if err != nil {
			return aggregate.DashboardStats{}, err
		}
		return aggregate.WorkerDashboard(snap, workerID, asOf), nil
	})
}

// TeamSummary summarises the electrician team over [start, end).
func (e Engine) TeamSummary(ctx context.Context, actor domain.Actor, start, end time.Time) (aggregate.TeamSummary, error) {
	if err := e.authorize(ctx, "stats.team", actor, authz.ReportGenerate); err != nil {
		return aggregate.TeamSummary{}, err
	}
	if !end.After(start) {
		verr := &domain.ValidationError{}
		verr.Add("end", "must be after start")
		return aggregate.TeamSummary{}, verr
	}
	key := fmt.Sprintf("team|%d|%d", start.UnixNano(), end.UnixNano())
	return cached(ctx, e, key, func() (aggregate.TeamSummary, error) {
		snap, err := e.loadSnapshot(ctx, time.Time{}, time.Time{})
		if err != nil {
			return aggregate.TeamSummary{}, err
		}
		return aggregate.Team(snap, aggregate.Range{Start: start, End: end}), nil
	})
}

// WorkerPerformance reports one worker over [start, end).
func (e Engine) WorkerPerformance(ctx context.Context, actor domain.Actor, workerID string, start, end time.Time) (aggregate.WorkerPerformance, error) {
	if err := e.authorize(ctx, "stats.performance", actor, authz.StatsRead); err != nil {
		return aggregate.WorkerPerformance{}, err
	}
	if actor.Role == domain.RoleElectrician && workerID != actor.ID {
		return aggregate.WorkerPerformance{}, authz.ForbiddenError{Permission: authz.StatsRead, Role: actor.Role, Reason: "electricians see only their own stats"}
	}
	if !end.After(start) {
		verr := &domain.ValidationError{}
		verr.Add("end", "must be after start")
		return aggregate.WorkerPerformance{}, verr
	}
	w, err := e.Repo.GetWorker(ctx, workerID)
	if err != nil {
		return aggregate.WorkerPerformance{}, notFound("worker", workerID, err)
	}
	snap, err := e.loadSnapshot(ctx, time.Time{}, time.Time{})
	if err != nil {
		return aggregate.WorkerPerformance{}, err
	}
	return aggregate.PerformanceFor(snap, w.ID, aggregate.Range{Start: start, End: end}), nil
}

// GenerateReport builds a report over [start, end). It gives up with the
// context's error once the deadline passes.
func (e Engine) GenerateReport(ctx context.Context, actor domain.Actor, typ string, start, end time.Time) (domain.Report, error) {
	const op = "report.generate"
	if err := e.authorize(ctx, op, actor, authz.ReportGenerate); err != nil {
		return domain.Report{}, err
	}
	if _, ok := aggregate.ParseReportType(typ); !ok {
		return domain.Report{}, e.fail(ctx, op, &domain.UnsupportedReportTypeError{Type: typ})
	}
	snap, err := e.loadSnapshot(ctx, start, end)
	if err != nil {
		return domain.Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Report{}, err
	}
	rep, err := aggregate.BuildReport(snap, typ, start, end, e.now())
	if err != nil {
		return domain.Report{}, e.fail(ctx, op, err)
	}
	e.logger().Info("report generated", "type", rep.Type, "actor", actor.ID, "from", start, "to", end)
	return rep, nil
}

// Workers lists the directory with derived availability and performance.
func (e Engine) Workers(ctx context.Context, actor domain.Actor, role domain.Role, activeOnly bool) ([]domain.Worker, error) {
	if err := e.authorize(ctx, "worker.list", actor, authz.WorkerRead); err != nil {
		return nil, err
	}
	snap, err := e.loadSnapshot(ctx, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	var out []domain.Worker
	for _, w := range aggregate.Enrich(snap) {
		if role != "" && w.Role != role {
			continue
		}
		if activeOnly && !w.Active {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}
