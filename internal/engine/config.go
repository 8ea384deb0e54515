package engine

import (
	"context"

	"voltline/internal/config"
	"voltline/internal/domain"
	"voltline/internal/engine/authz"
	"voltline/internal/events"
)

// ImportConfig replaces the stored company config. The running engine keeps
// its current config; callers rebuild it with New to apply the import.
func (e Engine) ImportConfig(ctx context.Context, actor domain.Actor, cfg *config.Config) error {
	const op = "config.import"
	if err := e.authorize(ctx, op, actor, authz.ConfigManage); err != nil {
		return err
	}
	if cfg == nil {
		verr := &domain.ValidationError{}
		verr.Add("config", "is required")
		return e.fail(ctx, op, verr)
	}
	if err := cfg.Validate(); err != nil {
		verr := &domain.ValidationError{}
		verr.Add("config", "%v", err)
		return e.fail(ctx, op, verr)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertConfigTx(ctx, tx, cfg); err != nil {
		return err
	}
	if err := e.record(ctx, tx, actor, e.now(), events.VerbConfigImported, events.SubjectConfig, "config", events.Payload{
		"company":  cfg.Company.Name,
		"timezone": cfg.Company.Timezone,
		"roles":    len(cfg.RBAC.Roles),
	}); err != nil {
		return err
	}
	if err := e.commit(tx); err != nil {
		return err
	}
	e.logger().Info("config imported", "actor", actor.ID, "company", cfg.Company.Name)
	return nil
}
