package engine

import (
	"context"
	"strconv"

	"voltline/internal/domain"
	"voltline/internal/engine/authz"
	"voltline/internal/repo"
)

// FeedQuery selects recent activity. Limit falls back to the configured
// default and is capped at the configured maximum.
type FeedQuery struct {
	Limit      int
	Before     int64
	SubjectRef string
	Verb       string
}

type FeedPage struct {
	Events     []domain.ActivityEvent `json:"events"`
	NextCursor int64                  `json:"next_cursor,omitempty"`
	Unread     int                    `json:"unread"`
}

// RecentActivity returns the newest events first, each flagged read or
// unread for the calling actor.
func (e Engine) RecentActivity(ctx context.Context, actor domain.Actor, q FeedQuery) (FeedPage, error) {
	if err := e.authorize(ctx, "feed.list", actor, authz.FeedRead); err != nil {
		return FeedPage{}, err
	}
	limit := q.Limit
	defLimit, maxLimit := 20, 100
	if e.Config != nil {
		defLimit, maxLimit = e.Config.Feed.DefaultLimit, e.Config.Feed.MaxLimit
	}
	if limit <= 0 {
		limit = defLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	evts, err := e.Repo.ListEvents(ctx, repo.EventFilter{
		Limit:      limit,
		Before:     q.Before,
		SubjectRef: q.SubjectRef,
		Verb:       q.Verb,
		WorkerID:   actor.ID,
	})
	if err != nil {
		return FeedPage{}, err
	}
	page := FeedPage{Events: evts}
	if page.Events == nil {
		page.Events = []domain.ActivityEvent{}
	}
	if len(evts) == limit {
		page.NextCursor = evts[len(evts)-1].ID
	}
	if page.Unread, err = e.Repo.UnreadCount(ctx, actor.ID); err != nil {
		return FeedPage{}, err
	}
	return page, nil
}

// MarkRead flags an event as seen by the actor. Marking twice is harmless.
func (e Engine) MarkRead(ctx context.Context, actor domain.Actor, eventID int64) error {
	if err := e.authorize(ctx, "feed.read", actor, authz.FeedRead); err != nil {
		return err
	}
	if err := e.Repo.MarkRead(ctx, eventID, actor.ID, e.now()); err != nil {
		return notFound("event", strconv.FormatInt(eventID, 10), err)
	}
	return nil
}

func (e Engine) UnreadCount(ctx context.Context, actor domain.Actor) (int, error) {
	if err := e.authorize(ctx, "feed.unread", actor, authz.FeedRead); err != nil {
		return 0, err
	}
	return e.Repo.UnreadCount(ctx, actor.ID)
}
