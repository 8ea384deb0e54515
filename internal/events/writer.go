package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Verbs appended to the activity feed.
const (
	VerbTaskCreated    = "task.created"
	VerbTaskAssigned   = "task.assigned"
	VerbTaskStarted    = "task.started"
	VerbTaskCompleted  = "task.completed"
	VerbTaskCancelled  = "task.cancelled"
	VerbTaskFeedback   = "task.feedback"
	VerbTaskPriority   = "task.priority_raised"
	VerbIssueReported  = "issue.reported"
	VerbIssueUpdated   = "issue.status_changed"
	VerbIssueResolved  = "issue.resolved"
	VerbWorkerAdded    = "worker.added"
	VerbWorkerPresence = "worker.presence"
	VerbConfigImported = "config.imported"
	SubjectTask        = "task"
	SubjectIssue       = "issue"
	SubjectWorker      = "worker"
	SubjectConfig      = "config"
)

// timeLayout matches the store's fixed-width timestamp format.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Payload map[string]any

// Entry is one feed record. TS is supplied by the caller's clock so that an
// operation and its event share the same instant.
type Entry struct {
	TS          time.Time
	Actor       string
	Verb        string
	SubjectKind string
	SubjectRef  string
	Payload     Payload
}

// Writer appends feed entries inside the caller's write transaction, so an
// event exists iff its state change committed.
type Writer struct {
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) (int64, error) {
	if e.Verb == "" || e.SubjectKind == "" || e.SubjectRef == "" {
		return 0, fmt.Errorf("event verb, subject kind and subject ref are required")
	}
	ts := e.TS
	if ts.IsZero() {
		now := w.Now
		if now == nil {
			now = time.Now
		}
		ts = now()
	}
	if e.Payload == nil {
		e.Payload = Payload{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,actor_id,verb,subject_kind,subject_ref,payload_json) VALUES (?,?,?,?,?,?)`,
		ts.UTC().Format(timeLayout), e.Actor, e.Verb, e.SubjectKind, e.SubjectRef, string(data))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
