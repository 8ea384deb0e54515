package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"voltline/internal/domain"
)

// EventFilter selects feed entries newest first. Before is an exclusive id
// cursor. When WorkerID is set each entry carries that worker's read flag.
type EventFilter struct {
	Limit       int
	Before      int64
	SubjectRef  string
	SubjectKind string
	Verb        string
	WorkerID    string
	From        time.Time
	To          time.Time
}

func (r Repo) ListEvents(ctx context.Context, f EventFilter) ([]domain.ActivityEvent, error) {
	return listEvents(ctx, r.DB, f)
}

func (r Repo) ListEventsTx(ctx context.Context, tx Querier, f EventFilter) ([]domain.ActivityEvent, error) {
	return listEvents(ctx, tx, f)
}

func listEvents(ctx context.Context, q Querier, f EventFilter) ([]domain.ActivityEvent, error) {
	clauses := []string{"1=1"}
	var args []any
	readExpr := "NULL"
	if f.WorkerID != "" {
		readExpr = "CASE WHEN e.actor_id=? OR EXISTS (SELECT 1 FROM event_reads r WHERE r.event_id=e.id AND r.worker_id=?) THEN 1 ELSE 0 END"
		args = append(args, f.WorkerID, f.WorkerID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "e.id<?")
		args = append(args, f.Before)
	}
	if f.SubjectRef != "" {
		clauses = append(clauses, "e.subject_ref=?")
		args = append(args, f.SubjectRef)
	}
	if f.SubjectKind != "" {
		clauses = append(clauses, "e.subject_kind=?")
		args = append(args, f.SubjectKind)
	}
	if f.Verb != "" {
		clauses = append(clauses, "e.verb=?")
		args = append(args, f.Verb)
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "e.ts>=?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "e.ts<?")
		args = append(args, formatTime(f.To))
	}
	query := fmt.Sprintf(`SELECT e.id,e.ts,e.actor_id,e.verb,e.subject_kind,e.subject_ref,e.payload_json,%s FROM events e WHERE %s ORDER BY e.id DESC`,
		readExpr, strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActivityEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.ActivityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,actor_id,verb,subject_kind,subject_ref,payload_json,NULL FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActivityEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID, 0 for an empty feed.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// MarkRead records that workerID has seen eventID. Repeated marks are
// ignored; the first read_at wins.
func (r Repo) MarkRead(ctx context.Context, eventID int64, workerID string, at time.Time) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id=?`, eventID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO event_reads(event_id,worker_id,read_at) VALUES (?,?,?)`,
		eventID, workerID, formatTime(at)); err != nil {
		return err
	}
	return tx.Commit()
}

// UnreadCount counts events the worker neither authored nor marked read.
func (r Repo) UnreadCount(ctx context.Context, workerID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events e WHERE e.actor_id<>?
AND NOT EXISTS (SELECT 1 FROM event_reads r WHERE r.event_id=e.id AND r.worker_id=?)`, workerID, workerID).Scan(&n)
	return n, err
}

func scanEvent(row scanner) (domain.ActivityEvent, error) {
	var e domain.ActivityEvent
	var ts string
	var payload sql.NullString
	var read sql.NullInt64
	if err := row.Scan(&e.ID, &ts, &e.Actor, &e.Verb, &e.SubjectKind, &e.SubjectRef, &payload, &read); err != nil {
		return e, err
	}
	t, err := parseTime(ts)
	if err != nil {
		return e, err
	}
	e.TS = t
	e.Payload = payload.String
	if read.Valid {
		v := read.Int64 == 1
		e.Read = &v
	}
	return e, nil
}
