// Package jobs is the durable queue behind deferred story beats, plus the
// runner that executes due jobs.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"argent/pkg/eventlog"
	"argent/pkg/protocol"

	"github.com/google/uuid"
)

// Job statuses.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// ErrAlreadyClaimed is returned by Claim when the job has left pending.
var ErrAlreadyClaimed = errors.New("job already claimed")

// Spec describes the work to enqueue.
type Spec struct {
	Handler  string
	EventID  string
	PlayerID string
	Context  map[string]string
}

// Queue is the jobs table.
type Queue struct {
	db      protocol.DBTX
	events  *eventlog.Log
	nowFunc func() time.Time
}

// NewQueue returns a Queue over db.
func NewQueue(db protocol.DBTX) *Queue {
	return &Queue{db: db, nowFunc: time.Now}
}

// WithEvents makes the queue record job.enqueued events.
func (q *Queue) WithEvents(l *eventlog.Log) *Queue {
	q.events = l
	return q
}

// Enqueue stores a pending job that becomes due at runAt.
func (q *Queue) Enqueue(ctx context.Context, spec Spec, runAt time.Time) (protocol.Job, error) {
	if spec.Handler == "" {
		return protocol.Job{}, errors.New("enqueue job: handler is required")
	}
	if spec.Context == nil {
		spec.Context = map[string]string{}
	}
	payload, err := json.Marshal(spec.Context)
	if err != nil {
		return protocol.Job{}, fmt.Errorf("enqueue job: encode context: %w", err)
	}

	now := q.nowFunc().UTC()
	job := protocol.Job{
		ID:        uuid.NewString(),
		Handler:   spec.Handler,
		EventID:   spec.EventID,
		PlayerID:  spec.PlayerID,
		Context:   spec.Context,
		RunAt:     runAt.UTC(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO jobs (id, handler, event_id, player_id, context, run_at, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Handler, job.EventID, job.PlayerID, string(payload),
		protocol.FormatTime(job.RunAt), job.Status, protocol.FormatTime(now), protocol.FormatTime(now))
	if err != nil {
		return protocol.Job{}, fmt.Errorf("enqueue job %s: %w", spec.Handler, err)
	}

	_ = q.events.Append(ctx, eventlog.Entry{
		Type:     protocol.EventJobEnqueued,
		Source:   "jobs",
		PlayerID: job.PlayerID,
		Payload:  map[string]string{"job_id": job.ID, "handler": job.Handler, "run_at": protocol.FormatTime(job.RunAt)},
	})
	return job, nil
}

const jobColumns = `id, handler, event_id, player_id, context, run_at, status, attempts, last_error, created_at, updated_at`

// Get returns one job or a *protocol.NotFoundError.
func (q *Queue) Get(ctx context.Context, id string) (protocol.Job, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Job{}, protocol.NotFound("job", id)
	}
	if err != nil {
		return protocol.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// Due returns pending jobs whose run_at has passed, oldest first. limit <= 0
// means no limit.
func (q *Queue) Due(ctx context.Context, limit int) ([]protocol.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = ? AND run_at <= ? ORDER BY run_at, created_at`
	args := []any{StatusPending, protocol.FormatTime(q.nowFunc())}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return q.list(ctx, query, args...)
}

// ListOpts filters List.
type ListOpts struct {
	Status   string
	PlayerID string
	Limit    int
}

// List returns jobs by run_at.
func (q *Queue) List(ctx context.Context, opts ListOpts) ([]protocol.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, opts.Status)
	}
	if opts.PlayerID != "" {
		query += ` AND player_id = ?`
		args = append(args, opts.PlayerID)
	}
	query += ` ORDER BY run_at, created_at`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	return q.list(ctx, query, args...)
}

func (q *Queue) list(ctx context.Context, query string, args ...any) ([]protocol.Job, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []protocol.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// Claim moves a pending job to running. Only one caller can win; the rest get
// ErrAlreadyClaimed.
func (q *Queue) Claim(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, attempts = attempts + 1, updated_at = ? WHERE id = ? AND status = ?`,
		StatusRunning, protocol.FormatTime(q.nowFunc()), id, StatusPending)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim job %s: %w", id, err)
	}
	if n == 1 {
		return nil
	}
	if _, err := q.Get(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyClaimed
}

// Complete marks a running job done.
func (q *Queue) Complete(ctx context.Context, id string) error {
	return q.finish(ctx, id, StatusDone, "")
}

// Fail marks a running job failed with cause. Failed jobs are not retried.
func (q *Queue) Fail(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return q.finish(ctx, id, StatusFailed, msg)
}

func (q *Queue) finish(ctx context.Context, id, status, lastErr string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status, lastErr, protocol.FormatTime(q.nowFunc()), id)
	if err != nil {
		return fmt.Errorf("mark job %s %s: %w", id, status, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (protocol.Job, error) {
	var job protocol.Job
	var payload, runAt, created, updated string
	if err := s.Scan(&job.ID, &job.Handler, &job.EventID, &job.PlayerID, &payload,
		&runAt, &job.Status, &job.Attempts, &job.LastError, &created, &updated); err != nil {
		return protocol.Job{}, err
	}
	job.Context = map[string]string{}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &job.Context); err != nil {
			return protocol.Job{}, fmt.Errorf("decode context of job %s: %w", job.ID, err)
		}
	}
	var err error
	if job.RunAt, err = protocol.ParseTime(runAt); err != nil {
		return protocol.Job{}, err
	}
	if job.CreatedAt, err = protocol.ParseTime(created); err != nil {
		return protocol.Job{}, err
	}
	if job.UpdatedAt, err = protocol.ParseTime(updated); err != nil {
		return protocol.Job{}, err
	}
	return job, nil
}
