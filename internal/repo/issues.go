package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"voltline/internal/domain"
)

const issueColumns = `id,task_id,reported_by,type,description,requested_action,priority,status,resolution_notes,resolved_by,resolved_at,created_at,updated_at`

// IssueFilter narrows ListIssues. From/To bound created_at, To exclusive.
type IssueFilter struct {
	Status     domain.IssueStatus
	Priority   domain.IssuePriority
	TaskID     string
	ReportedBy string
	From       time.Time
	To         time.Time
	Limit      int
}

func (r Repo) InsertIssue(ctx context.Context, tx *sql.Tx, is domain.Issue) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO issues(`+issueColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		is.ID, is.TaskID, is.ReportedBy, string(is.Type), is.Description, nullable(is.RequestedAction),
		string(is.Priority), string(is.Status), nullable(is.ResolutionNotes), nullableStringPtr(is.ResolvedBy),
		nullableTimePtr(is.ResolvedAt), formatTime(is.CreatedAt), formatTime(is.UpdatedAt))
	return err
}

// UpdateIssue guards on the previous status so a concurrent resolve cannot be
// overwritten by a stale in_progress write.
func (r Repo) UpdateIssue(ctx context.Context, tx *sql.Tx, is domain.Issue, prev domain.IssueStatus) error {
	res, err := tx.ExecContext(ctx, `UPDATE issues SET status=?,resolution_notes=?,resolved_by=?,resolved_at=?,updated_at=? WHERE id=? AND status=?`,
		string(is.Status), nullable(is.ResolutionNotes), nullableStringPtr(is.ResolvedBy), nullableTimePtr(is.ResolvedAt),
		formatTime(is.UpdatedAt), is.ID, string(prev))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (r Repo) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	return getIssue(ctx, r.DB, id)
}

func (r Repo) GetIssueTx(ctx context.Context, tx *sql.Tx, id string) (domain.Issue, error) {
	return getIssue(ctx, tx, id)
}

func getIssue(ctx context.Context, q Querier, id string) (domain.Issue, error) {
	is, err := scanIssue(q.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return is, ErrNotFound
	}
	return is, err
}

func (r Repo) ListIssues(ctx context.Context, f IssueFilter) ([]domain.Issue, error) {
	return listIssues(ctx, r.DB, f)
}

func (r Repo) ListIssuesTx(ctx context.Context, tx Querier, f IssueFilter) ([]domain.Issue, error) {
	return listIssues(ctx, tx, f)
}

func listIssues(ctx context.Context, q Querier, f IssueFilter) ([]domain.Issue, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, string(f.Priority))
	}
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.ReportedBy != "" {
		clauses = append(clauses, "reported_by=?")
		args = append(args, f.ReportedBy)
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "created_at>=?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "created_at<?")
		args = append(args, formatTime(f.To))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + issueColumns + ` FROM issues ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		is, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, is)
	}
	return res, rows.Err()
}

func scanIssue(row scanner) (domain.Issue, error) {
	var is domain.Issue
	var action, notes, resolvedBy, resolvedAt sql.NullString
	var typ, priority, status, createdAt, updatedAt string
	if err := row.Scan(&is.ID, &is.TaskID, &is.ReportedBy, &typ, &is.Description, &action, &priority, &status,
		&notes, &resolvedBy, &resolvedAt, &createdAt, &updatedAt); err != nil {
		return is, err
	}
	is.Type = domain.IssueType(typ)
	is.Priority = domain.IssuePriority(priority)
	is.Status = domain.IssueStatus(status)
	is.RequestedAction = action.String
	is.ResolutionNotes = notes.String
	if resolvedBy.Valid {
		by := resolvedBy.String
		is.ResolvedBy = &by
	}
	var err error
	if is.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return is, err
	}
	if is.CreatedAt, err = parseTime(createdAt); err != nil {
		return is, err
	}
	if is.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return is, err
	}
	return is, nil
}
