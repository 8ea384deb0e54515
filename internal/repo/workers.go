package repo

import (
	"context"
	"database/sql"
	"strings"

	"voltline/internal/domain"
)

const workerColumns = `id,employee_code,name,role,email,phone,skills_json,certifications,active,presence,created_at`

type WorkerFilter struct {
	Role       domain.Role
	ActiveOnly bool
}

func (r Repo) InsertWorker(ctx context.Context, tx *sql.Tx, w domain.Worker) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workers(`+workerColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, nullable(w.EmployeeCode), w.Name, string(w.Role), nullable(w.Email), nullable(w.Phone),
		encodeStrings(w.Skills), nullable(w.Certifications), w.Active, string(w.Presence), formatTime(w.CreatedAt))
	return err
}

func (r Repo) UpdateWorkerPresence(ctx context.Context, tx *sql.Tx, id string, p domain.Presence) error {
	res, err := tx.ExecContext(ctx, `UPDATE workers SET presence=? WHERE id=?`, string(p), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetWorkerActive(ctx context.Context, tx *sql.Tx, id string, active bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE workers SET active=? WHERE id=?`, active, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetWorker(ctx context.Context, id string) (domain.Worker, error) {
	return getWorker(ctx, r.DB, id)
}

func (r Repo) GetWorkerTx(ctx context.Context, tx *sql.Tx, id string) (domain.Worker, error) {
	return getWorker(ctx, tx, id)
}

func getWorker(ctx context.Context, q Querier, id string) (domain.Worker, error) {
	w, err := scanWorker(q.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id=? OR employee_code=?`, id, id))
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

func (r Repo) ListWorkers(ctx context.Context, f WorkerFilter) ([]domain.Worker, error) {
	return listWorkers(ctx, r.DB, f)
}

func (r Repo) ListWorkersTx(ctx context.Context, tx Querier, f WorkerFilter) ([]domain.Worker, error) {
	return listWorkers(ctx, tx, f)
}

func listWorkers(ctx context.Context, q Querier, f WorkerFilter) ([]domain.Worker, error) {
	var clauses []string
	var args []any
	if f.Role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, string(f.Role))
	}
	if f.ActiveOnly {
		clauses = append(clauses, "active=1")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := q.QueryContext(ctx, `SELECT `+workerColumns+` FROM workers `+where+` ORDER BY name ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func scanWorker(row scanner) (domain.Worker, error) {
	var w domain.Worker
	var code, email, phone, certs sql.NullString
	var skills, role, presence, createdAt string
	if err := row.Scan(&w.ID, &code, &w.Name, &role, &email, &phone, &skills, &certs, &w.Active, &presence, &createdAt); err != nil {
		return w, err
	}
	w.EmployeeCode = code.String
	w.Email = email.String
	w.Phone = phone.String
	w.Certifications = certs.String
	w.Role = domain.Role(role)
	w.Presence = domain.Presence(presence)
	var err error
	if w.Skills, err = decodeStrings(skills); err != nil {
		return w, err
	}
	if w.CreatedAt, err = parseTime(createdAt); err != nil {
		return w, err
	}
	return w, nil
}
