package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"voltline/internal/domain"
)

const taskColumns = `id,code,title,description,customer_name,customer_address,customer_phone,priority,status,assignee_id,
schedule_date,schedule_start,schedule_end,estimated_hours,required_skills_json,started_at,completed_at,completion_notes,
materials_used,additional_charges,feedback_rating,feedback_comment,feedback_by,feedback_at,version,created_by,created_at,updated_at`

// TaskFilter narrows ListTasks. From/To compare against the schedule date
// (YYYY-MM-DD), From inclusive and To exclusive.
type TaskFilter struct {
	Status          []domain.TaskStatus
	AssigneeID      string
	Priority        domain.Priority
	From            string
	To              string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.WorkOrder) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO work_orders(`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, taskArgs(t)...)
	return err
}

// UpdateTask writes t only if the stored row still carries t.Version, and
// bumps the stored version by one. A lost race returns ErrConflict.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.WorkOrder) error {
	res, err := tx.ExecContext(ctx, `UPDATE work_orders SET title=?,description=?,customer_name=?,customer_address=?,customer_phone=?,
priority=?,status=?,assignee_id=?,schedule_date=?,schedule_start=?,schedule_end=?,estimated_hours=?,required_skills_json=?,
started_at=?,completed_at=?,completion_notes=?,materials_used=?,additional_charges=?,feedback_rating=?,feedback_comment=?,
feedback_by=?,feedback_at=?,updated_at=?,version=version+1 WHERE id=? AND version=?`,
		t.Title, nullable(t.Description), t.Customer.Name, t.Customer.Address, t.Customer.Phone,
		string(t.Priority), string(t.Status), nullableStringPtr(t.AssigneeID), t.Schedule.Date, t.Schedule.Start, t.Schedule.End,
		t.Schedule.EstimatedHours, encodeStrings(t.RequiredSkills),
		nullableTimePtr(t.Actuals.StartedAt), nullableTimePtr(t.Actuals.CompletedAt), nullable(t.Actuals.CompletionNotes),
		nullable(t.Actuals.MaterialsUsed), t.Actuals.AdditionalCharges,
		feedbackRating(t.Feedback), feedbackComment(t.Feedback), feedbackBy(t.Feedback), feedbackAt(t.Feedback),
		formatTime(t.UpdatedAt), t.ID, t.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.WorkOrder, error) {
	return getTask(ctx, r.DB, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkOrder, error) {
	return getTask(ctx, tx, id)
}

func getTask(ctx context.Context, q Querier, id string) (domain.WorkOrder, error) {
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM work_orders WHERE id=? OR code=?`, id, id))
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilter) ([]domain.WorkOrder, error) {
	return listTasks(ctx, r.DB, f)
}

func (r Repo) ListTasksTx(ctx context.Context, tx Querier, f TaskFilter) ([]domain.WorkOrder, error) {
	return listTasks(ctx, tx, f)
}

func listTasks(ctx context.Context, q Querier, f TaskFilter) ([]domain.WorkOrder, error) {
	var clauses []string
	var args []any
	if len(f.Status) > 0 {
		marks := make([]string, len(f.Status))
		for i, s := range f.Status {
			marks[i] = "?"
			args = append(args, string(s))
		}
		clauses = append(clauses, "status IN ("+strings.Join(marks, ",")+")")
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, string(f.Priority))
	}
	if f.From != "" {
		clauses = append(clauses, "schedule_date>=?")
		args = append(args, f.From)
	}
	if f.To != "" {
		clauses = append(clauses, "schedule_date<?")
		args = append(args, f.To)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM work_orders ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkOrder
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// NextTaskCode allocates the next human-readable code (T001, T002, ...).
func (r Repo) NextTaskCode(ctx context.Context, tx *sql.Tx) (string, error) {
	var n int64
	err := tx.QueryRowContext(ctx, `INSERT INTO counters(name,value) VALUES ('task_code',1)
ON CONFLICT(name) DO UPDATE SET value=value+1 RETURNING value`).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("next task code: %w", err)
	}
	return fmt.Sprintf("T%03d", n), nil
}

func scanTask(row scanner) (domain.WorkOrder, error) {
	var t domain.WorkOrder
	var (
		description, assigneeID, startedAt, completedAt, notes, materials sql.NullString
		skills                                                            string
		rating                                                            sql.NullInt64
		fbComment, fbBy, fbAt                                             sql.NullString
		priority, status, createdAt, updatedAt                            string
	)
	err := row.Scan(&t.ID, &t.Code, &t.Title, &description, &t.Customer.Name, &t.Customer.Address, &t.Customer.Phone,
		&priority, &status, &assigneeID, &t.Schedule.Date, &t.Schedule.Start, &t.Schedule.End, &t.Schedule.EstimatedHours,
		&skills, &startedAt, &completedAt, &notes, &materials, &t.Actuals.AdditionalCharges,
		&rating, &fbComment, &fbBy, &fbAt, &t.Version, &t.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return t, err
	}
	t.Priority = domain.Priority(priority)
	t.Status = domain.TaskStatus(status)
	t.Description = description.String
	if assigneeID.Valid {
		id := assigneeID.String
		t.AssigneeID = &id
	}
	if t.RequiredSkills, err = decodeStrings(skills); err != nil {
		return t, err
	}
	if t.Actuals.StartedAt, err = parseNullTime(startedAt); err != nil {
		return t, err
	}
	if t.Actuals.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return t, err
	}
	t.Actuals.CompletionNotes = notes.String
	t.Actuals.MaterialsUsed = materials.String
	if rating.Valid {
		fb := &domain.Feedback{Rating: int(rating.Int64), Comment: fbComment.String, SubmittedBy: fbBy.String}
		if at, err := parseNullTime(fbAt); err != nil {
			return t, err
		} else if at != nil {
			fb.SubmittedAt = *at
		}
		t.Feedback = fb
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return t, err
	}
	return t, nil
}

func taskArgs(t domain.WorkOrder) []any {
	version := t.Version
	if version == 0 {
		version = 1
	}
	return []any{
		t.ID, t.Code, t.Title, nullable(t.Description), t.Customer.Name, t.Customer.Address, t.Customer.Phone,
		string(t.Priority), string(t.Status), nullableStringPtr(t.AssigneeID),
		t.Schedule.Date, t.Schedule.Start, t.Schedule.End, t.Schedule.EstimatedHours, encodeStrings(t.RequiredSkills),
		nullableTimePtr(t.Actuals.StartedAt), nullableTimePtr(t.Actuals.CompletedAt), nullable(t.Actuals.CompletionNotes),
		nullable(t.Actuals.MaterialsUsed), t.Actuals.AdditionalCharges,
		feedbackRating(t.Feedback), feedbackComment(t.Feedback), feedbackBy(t.Feedback), feedbackAt(t.Feedback),
		version, t.CreatedBy, formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	}
}

func feedbackRating(f *domain.Feedback) any {
	if f == nil {
		return nil
	}
	return f.Rating
}

func feedbackComment(f *domain.Feedback) any {
	if f == nil {
		return nil
	}
	return nullable(f.Comment)
}

func feedbackBy(f *domain.Feedback) any {
	if f == nil {
		return nil
	}
	return nullable(f.SubmittedBy)
}

func feedbackAt(f *domain.Feedback) any {
	if f == nil || f.SubmittedAt.IsZero() {
		return nil
	}
	return formatTime(f.SubmittedAt)
}
