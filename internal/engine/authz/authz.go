package authz

import (
	"fmt"
	"sort"
	"strings"

	"voltline/internal/config"
	"voltline/internal/domain"
)

// Actions gated by role.
const (
	TaskCreate     = "task.create"
	TaskAssign     = "task.assign"
	TaskStart      = "task.start"
	TaskComplete   = "task.complete"
	TaskCancel     = "task.cancel"
	TaskFeedback   = "task.feedback"
	TaskRead       = "task.read"
	IssueReport    = "issue.report"
	IssueUpdate    = "issue.update"
	IssueRead      = "issue.read"
	ReportGenerate = "report.generate"
	StatsRead      = "stats.read"
	FeedRead       = "feed.read"
	WorkerRead     = "worker.read"
	WorkerManage   = "worker.manage"
	ConfigManage   = "config.manage"
)

// ForbiddenError indicates the actor's role lacks the permission.
type ForbiddenError struct {
	Permission string
	Role       domain.Role
	Reason     string
}

func (e ForbiddenError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("permission %s denied for role %s: %s", e.Permission, e.Role, e.Reason)
	}
	return fmt.Sprintf("permission %s required (role %s)", e.Permission, e.Role)
}

func (e ForbiddenError) Kind() string { return domain.KindForbidden }

// Service answers role → permission questions from the rbac section of
// the config. The caller's role is trusted as declared.
type Service struct {
	perms map[domain.Role]map[string]bool
}

func New(cfg *config.Config) Service {
	s := Service{perms: map[domain.Role]map[string]bool{}}
	if cfg == nil {
		return s
	}
	for roleID, role := range cfg.RBAC.Roles {
		r, ok := domain.ParseRole(roleID)
		if !ok {
			continue
		}
		set := map[string]bool{}
		for _, p := range role.Permissions {
			set[strings.TrimSpace(p)] = true
		}
		s.perms[r] = set
	}
	return s
}

func (s Service) Allowed(role domain.Role, perm string) bool {
	return s.perms[role][perm]
}

func (s Service) Authorize(actor domain.Actor, perm string) error {
	if actor.ID == "" {
		return &domain.ValidationError{Fields: []domain.FieldError{{Field: "actor_id", Message: "is required"}}}
	}
	if !actor.Role.Valid() {
		return ForbiddenError{Permission: perm, Role: actor.Role, Reason: "unknown role"}
	}
	if !s.Allowed(actor.Role, perm) {
		return ForbiddenError{Permission: perm, Role: actor.Role}
	}
	return nil
}

// Permissions lists the role's actions, sorted. Dashboards use it to decide
// which commands to show.
func (s Service) Permissions(role domain.Role) []string {
	out := make([]string, 0, len(s.perms[role]))
	for p := range s.perms[role] {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
