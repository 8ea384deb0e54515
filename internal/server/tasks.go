package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"voltline/internal/domain"
	"voltline/internal/engine"
	"voltline/internal/repo"
)

type taskPath struct {
	TaskID string `path:"task_id" doc:"Task id or code (T001)"`
}

type taskBody struct {
	Body domain.WorkOrder `json:"body"`
}

func taskResult(t domain.WorkOrder, err error) (*taskBody, error) {
	if err != nil {
		return nil, handleError(err)
	}
	return &taskBody{Body: t}, nil
}

var taskErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create work order",
		DefaultStatus: http.StatusCreated,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*taskBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return taskResult(e.CreateTask(ctx, actor, engine.TaskCreateOptions{
			Title:          input.Body.Title,
			Description:    input.Body.Description,
			Customer:       input.Body.Customer,
			Priority:       input.Body.Priority,
			Schedule:       input.Body.Schedule,
			RequiredSkills: input.Body.RequiredSkills,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List work orders",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" doc:"Comma separated statuses"`
		AssigneeID string `query:"assignee_id"`
		Priority   string `query:"priority"`
		From       string `query:"from" doc:"Schedule date lower bound, inclusive (YYYY-MM-DD)"`
		To         string `query:"to" doc:"Schedule date upper bound, exclusive (YYYY-MM-DD)"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body TaskList `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.TaskFilter{
			AssigneeID: input.AssigneeID,
			From:       input.From,
			To:         input.To,
			Limit:      input.Limit,
		}
		if input.Status != "" {
			for _, raw := range strings.Split(input.Status, ",") {
				st, ok := domain.ParseTaskStatus(raw)
				if !ok {
					return nil, newAPIError(http.StatusBadRequest, domain.KindValidation, "invalid status filter", map[string]any{"status": raw})
				}
				f.Status = append(f.Status, st)
			}
		}
		if input.Priority != "" {
			p, ok := domain.ParsePriority(input.Priority)
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, domain.KindValidation, "invalid priority filter", map[string]any{"priority": input.Priority})
			}
			f.Priority = p
		}
		var err error
		if f.CursorCreatedAt, f.CursorID, err = parseCompositeCursor(input.Cursor); err != nil {
			return nil, newAPIError(http.StatusBadRequest, domain.KindValidation, "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.ListTasks(ctx, actor, f)
		if err != nil {
			return nil, handleError(err)
		}
		resp := TaskList{Items: nonNilSlice(items)}
		if f.Limit > 0 && len(items) == f.Limit {
			last := items[len(items)-1]
			resp.NextCursor = composeCursor(last.CreatedAt.UTC().Format(repo.TimeLayout), last.ID)
		}
		return &struct {
			Body TaskList `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get work order",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *taskPath) (*taskBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return taskResult(e.GetTask(ctx, actor, input.TaskID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/transition",
		Summary:     "Move a work order to a new status",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   TransitionRequest `json:"body"`
	}) (*taskBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		target, ok := domain.ParseTaskStatus(input.Body.Status)
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, domain.KindValidation, "unknown status", map[string]any{"status": input.Body.Status})
		}
		return taskResult(e.Transition(ctx, actor, input.TaskID, target, engine.TransitionPayload{
			AssigneeID:        input.Body.AssigneeID,
			CompletionNotes:   input.Body.CompletionNotes,
			MaterialsUsed:     input.Body.MaterialsUsed,
			AdditionalCharges: input.Body.AdditionalCharges,
			Reason:            input.Body.Reason,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/assign",
		Summary:     "Assign a pending work order",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string        `path:"task_id"`
		Body   AssignRequest `json:"body"`
	}) (*taskBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return taskResult(e.Assign(ctx, actor, input.TaskID, input.Body.WorkerID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "auto-assign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/auto-assign",
		Summary:     "Assign the best-matching available electrician",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *taskPath) (*taskBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return taskResult(e.AssignBestMatch(ctx, actor, input.TaskID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-candidates",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/candidates",
		Summary:     "Rank available electricians for a work order",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body CandidateList `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.RankCandidates(ctx, actor, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CandidateList `json:"body"`
		}{Body: CandidateList{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/start",
		Summary:     "Start an assigned work order",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *taskPath) (*taskBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return taskResult(e.StartTask(ctx, actor, input.TaskID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/complete",
		Summary:     "Complete an in-progress work order",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string              `path:"task_id"`
		Body   CompleteTaskRequest `json:"body"`
	}) (*taskBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return taskResult(e.CompleteTask(ctx, actor, input.TaskID, engine.CompletionDetails{
			Notes:             input.Body.CompletionNotes,
			MaterialsUsed:     input.Body.MaterialsUsed,
			AdditionalCharges: input.Body.AdditionalCharges,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/cancel",
		Summary:     "Cancel a work order",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   CancelTaskRequest `json:"body" required:"false"`
	}) (*taskBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return taskResult(e.CancelTask(ctx, actor, input.TaskID, input.Body.Reason))
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-feedback",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/feedback",
		Summary:     "Record customer feedback on a completed work order",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string          `path:"task_id"`
		Body   FeedbackRequest `json:"body"`
	}) (*taskBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return taskResult(e.AttachFeedback(ctx, actor, input.TaskID, input.Body.Rating, input.Body.Comment))
	})
}

var errInvalidCursor = errors.New("invalid cursor")

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errInvalidCursor
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
