package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"voltline/internal/config"
	"voltline/internal/domain"
	"voltline/internal/engine/authz"
	"voltline/internal/events"
	"voltline/internal/repo"
)

// Engine runs every state-changing operation of the work-order core. Each
// operation validates first, then reads, checks and writes inside one
// transaction together with its feed event. Engine is a value; copies share
// the lock tables and the stats cache.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Authz   authz.Service
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *Metrics

	tasks   *keyedMutex
	workers *keyedMutex
	issues  *keyedMutex
	stats   *statsCache
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default("")
	}
	e := Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Config:  cfg,
		Authz:   authz.New(cfg),
		Now:     time.Now,
		Logger:  slog.Default().With("component", "engine"),
		Metrics: NewMetrics(),
		tasks:   newKeyedMutex(),
		workers: newKeyedMutex(),
		issues:  newKeyedMutex(),
		stats:   newStatsCache(cfg.Stats.CacheSize, cfg.Stats.CacheTTL.Duration),
	}
	e.Events = events.Writer{Now: e.now}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) location() *time.Location {
	if e.Config == nil {
		return time.UTC
	}
	loc, err := e.Config.Location()
	if err != nil {
		return time.UTC
	}
	return loc
}

// commit finishes a write transaction and invalidates cached aggregates.
func (e Engine) commit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return err
	}
	if e.stats != nil {
		e.stats.invalidate()
	}
	return nil
}

// authorize checks the actor's role for perm and counts rejections.
func (e Engine) authorize(ctx context.Context, op string, actor domain.Actor, perm string) error {
	if err := e.Authz.Authorize(actor, perm); err != nil {
		e.Metrics.rejected(ctx, op, domain.KindOf(err))
		return err
	}
	return nil
}

// fail records a rejected operation and passes err through.
func (e Engine) fail(ctx context.Context, op string, err error) error {
	if err != nil {
		e.Metrics.rejected(ctx, op, domain.KindOf(err))
	}
	return err
}

func notFound(entity, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return &domain.NotFoundError{Entity: entity, ID: id}
	}
	return err
}

func conflict(entity, id string, state string, err error) error {
	if errors.Is(err, repo.ErrConflict) {
		return &domain.InvalidStateError{Entity: entity, ID: id, State: state, Reason: "modified concurrently"}
	}
	return err
}
