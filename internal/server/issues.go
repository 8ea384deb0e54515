package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"voltline/internal/domain"
	"voltline/internal/engine"
	"voltline/internal/repo"
)

type issueBody struct {
	Body domain.Issue `json:"body"`
}

func registerIssues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "report-issue",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/issues",
		Summary:       "Report an in-field issue on a work order",
		DefaultStatus: http.StatusCreated,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string             `path:"task_id"`
		Body   ReportIssueRequest `json:"body"`
	}) (*issueBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		is, err := e.ReportIssue(ctx, actor, input.TaskID, engine.IssueDetails{
			Type:            input.Body.Type,
			Description:     input.Body.Description,
			RequestedAction: input.Body.RequestedAction,
			Priority:        input.Body.Priority,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &issueBody{Body: is}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/issues",
		Summary:     "List issues",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		Priority string `query:"priority"`
		TaskID   string `query:"task_id"`
		Limit    int    `query:"limit" default:"100"`
	}) (*struct {
		Body IssueList `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListIssues(ctx, actor, repo.IssueFilter{
			Status:   domain.IssueStatus(input.Status),
			Priority: domain.IssuePriority(input.Priority),
			TaskID:   input.TaskID,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueList `json:"body"`
		}{Body: IssueList{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}",
		Summary:     "Get issue",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
	}) (*issueBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		is, err := e.GetIssue(ctx, actor, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueBody{Body: is}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-issue",
		Method:      http.MethodPatch,
		Path:        "/issues/{issue_id}",
		Summary:     "Move an issue forward or resolve it",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		IssueID string             `path:"issue_id"`
		Body    UpdateIssueRequest `json:"body"`
	}) (*issueBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		is, err := e.UpdateIssueStatus(ctx, actor, input.IssueID, domain.IssueStatus(input.Body.Status), input.Body.ResolutionNotes)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueBody{Body: is}, nil
	})
}
