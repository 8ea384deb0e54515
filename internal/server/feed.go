package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"voltline/internal/engine"
)

func registerFeed(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "activity-feed",
		Method:      http.MethodGet,
		Path:        "/feed",
		Summary:     "Recent activity, newest first",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		Limit   int    `query:"limit"`
		Before  int64  `query:"before" doc:"Exclusive event id cursor"`
		Subject string `query:"subject" doc:"Task, issue or worker id"`
		Verb    string `query:"verb"`
	}) (*struct {
		Body engine.FeedPage `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, err := e.RecentActivity(ctx, actor, engine.FeedQuery{
			Limit:      input.Limit,
			Before:     input.Before,
			SubjectRef: input.Subject,
			Verb:       input.Verb,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.FeedPage `json:"body"`
		}{Body: page}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "mark-read",
		Method:        http.MethodPost,
		Path:          "/feed/{event_id}/read",
		Summary:       "Mark an event read for the caller",
		DefaultStatus: http.StatusNoContent,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		EventID int64 `path:"event_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.MarkRead(ctx, actor, input.EventID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unread-count",
		Method:      http.MethodGet,
		Path:        "/feed/unread",
		Summary:     "Number of events the caller has not seen",
		Errors:      taskErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UnreadResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.UnreadCount(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UnreadResponse `json:"body"`
		}{Body: UnreadResponse{Unread: n}}, nil
	})
}
