package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"voltline/internal/aggregate"
	"voltline/internal/domain"
	"voltline/internal/engine"
)

type periodQuery struct {
	Start string `query:"start" doc:"YYYY-MM-DD or RFC3339, inclusive"`
	End   string `query:"end" doc:"YYYY-MM-DD or RFC3339, exclusive"`
}

func registerStats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard-stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Dashboard counters for the caller",
		Errors:      taskErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body aggregate.DashboardStats `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.Stats(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body aggregate.DashboardStats `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "worker-stats",
		Method:      http.MethodGet,
		Path:        "/workers/{worker_id}/stats",
		Summary:     "Dashboard counters for one electrician",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
	}) (*struct {
		Body aggregate.DashboardStats `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.WorkerStats(ctx, actor, input.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body aggregate.DashboardStats `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "worker-performance",
		Method:      http.MethodGet,
		Path:        "/workers/{worker_id}/performance",
		Summary:     "One worker's performance over a period",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
		periodQuery
	}) (*struct {
		Body aggregate.WorkerPerformance `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		start, end, perr := parsePeriod(e, input.Start, input.End)
		if perr != nil {
			return nil, perr
		}
		p, err := e.WorkerPerformance(ctx, actor, input.WorkerID, start, end)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body aggregate.WorkerPerformance `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "team-summary",
		Method:      http.MethodGet,
		Path:        "/team",
		Summary:     "Electrician team summary over a period",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *periodQuery) (*struct {
		Body aggregate.TeamSummary `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		start, end, perr := parsePeriod(e, input.Start, input.End)
		if perr != nil {
			return nil, perr
		}
		sum, err := e.TeamSummary(ctx, actor, start, end)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body aggregate.TeamSummary `json:"body"`
		}{Body: sum}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-report",
		Method:      http.MethodPost,
		Path:        "/reports",
		Summary:     "Generate a report over a period",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		Body GenerateReportRequest `json:"body"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		start, end, perr := parsePeriod(e, input.Body.Start, input.Body.End)
		if perr != nil {
			return nil, perr
		}
		rep, err := e.GenerateReport(ctx, actor, input.Body.Type, start, end)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: rep}, nil
	})
}

// parsePeriod reads a [start, end) window. Bare dates are midnight in the
// company timezone. A missing start defaults to the first of the current
// month and a missing end to now.
func parsePeriod(e engine.Engine, rawStart, rawEnd string) (time.Time, time.Time, huma.StatusError) {
	loc := time.UTC
	if e.Config != nil {
		if l, err := e.Config.Location(); err == nil {
			loc = l
		}
	}
	now := time.Now()
	if e.Now != nil {
		now = e.Now()
	}
	start := aggregate.Month(now, loc).Start
	end := now
	var err error
	if strings.TrimSpace(rawStart) != "" {
		if start, err = parseInstant(rawStart, loc); err != nil {
			return time.Time{}, time.Time{}, newAPIError(http.StatusBadRequest, domain.KindValidation, "invalid start", map[string]any{"start": rawStart})
		}
	}
	if strings.TrimSpace(rawEnd) != "" {
		if end, err = parseInstant(rawEnd, loc); err != nil {
			return time.Time{}, time.Time{}, newAPIError(http.StatusBadRequest, domain.KindValidation, "invalid end", map[string]any{"end": rawEnd})
		}
	}
	return start, end, nil
}

func parseInstant(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.ParseInLocation(domain.DateLayout, v, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}
