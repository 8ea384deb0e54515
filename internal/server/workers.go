package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"voltline/internal/domain"
	"voltline/internal/engine"
)

type workerBody struct {
	Body domain.Worker `json:"body"`
}

func registerWorkers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-workers",
		Method:      http.MethodGet,
		Path:        "/workers",
		Summary:     "List workers with availability and performance",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		Role       string `query:"role"`
		ActiveOnly bool   `query:"active_only"`
	}) (*struct {
		Body WorkerList `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var role domain.Role
		if input.Role != "" {
			r, ok := domain.ParseRole(input.Role)
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, domain.KindValidation, "invalid role filter", map[string]any{"role": input.Role})
			}
			role = r
		}
		items, err := e.Workers(ctx, actor, role, input.ActiveOnly)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkerList `json:"body"`
		}{Body: WorkerList{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-worker",
		Method:        http.MethodPost,
		Path:          "/workers",
		Summary:       "Add a worker to the directory",
		DefaultStatus: http.StatusCreated,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterWorkerRequest `json:"body"`
	}) (*workerBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.RegisterWorker(ctx, actor, engine.WorkerOptions{
			ID:             input.Body.ID,
			EmployeeCode:   input.Body.EmployeeCode,
			Name:           input.Body.Name,
			Role:           input.Body.Role,
			Email:          input.Body.Email,
			Phone:          input.Body.Phone,
			Skills:         input.Body.Skills,
			Certifications: input.Body.Certifications,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &workerBody{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-presence",
		Method:      http.MethodPut,
		Path:        "/workers/{worker_id}/presence",
		Summary:     "Set a worker's presence",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		WorkerID string          `path:"worker_id"`
		Body     PresenceRequest `json:"body"`
	}) (*workerBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.SetPresence(ctx, actor, input.WorkerID, input.Body.Presence)
		if err != nil {
			return nil, handleError(err)
		}
		return &workerBody{Body: w}, nil
	})
}
