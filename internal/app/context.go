package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"voltline/internal/config"
	"voltline/internal/db"
	"voltline/internal/engine"
	"voltline/internal/migrate"
	"voltline/internal/repo"
)

// ResolveConfig returns the stored company config, seeding it on first use
// from voltline.yml in the workspace or, failing that, from defaults.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}
	if seed == nil {
		seed = config.Default("")
	}
	if err := r.UpsertConfig(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	return seed, nil
}

// Open opens and migrates the workspace database and builds an engine over
// the resolved config. Callers close the returned DB.
func Open(ctx context.Context, workspace string) (*sql.DB, engine.Engine, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, engine.Engine{}, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, engine.Engine{}, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := ResolveConfig(ctx, workspace, repo.Repo{DB: conn})
	if err != nil {
		conn.Close()
		return nil, engine.Engine{}, err
	}
	return conn, engine.New(conn, cfg), nil
}
