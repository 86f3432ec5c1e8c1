package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/menu-allergens/constants"
)

const jobsTable = "conversion_jobs"

// ConversionJob is one dispatched conversion action.
type ConversionJob struct {
	ID             uuid.UUID
	Action         string
	Source         string
	Status         constants.JobStatus
	ItemCount      int
	PagesProcessed int
	PagesTotal     int
	Sent           bool
	ErrorMessage   string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// JobOutcome is what a finished action reports.
type JobOutcome struct {
	ItemCount      int
	PagesProcessed int
	PagesTotal     int
	Sent           bool
}

type ConversionJobRepository interface {
	Start(ctx context.Context, action, source string) (uuid.UUID, error)
	Finish(ctx context.Context, jobID uuid.UUID, out JobOutcome) error
	Fail(ctx context.Context, jobID uuid.UUID, message string) error
	Recent(ctx context.Context, limit int) ([]ConversionJob, error)
	Count(ctx context.Context) (int, error)
}

type conversionJobRepo struct {
	db  *DB
	now func() time.Time
	log *slog.Logger
}

func NewConversionJobRepository(db *DB, log *slog.Logger) ConversionJobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &conversionJobRepo{db: db, now: time.Now, log: log}
}

func (r *conversionJobRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.db.Dialect)
}

func (r *conversionJobRepo) Start(ctx context.Context, action, source string) (uuid.UUID, error) {
	id := uuid.New()
	query, args := r.builder().
		Insert(jobsTable).
		Columns("id", "action", "source", "status", "started_at").
		Values(id.String(), action, source, string(constants.JobStatusRunning), formatTime(r.now())).
		Query()
	if _, err := r.db.SQL.ExecContext(ctx, query, args...); err != nil {
		r.log.Error("conversion_job start failed", "action", action, "err", err)
		return uuid.Nil, fmt.Errorf("start job: %w", err)
	}
	r.log.Debug("conversion_job started", "job_id", id, "action", action)
	return id, nil
}

func (r *conversionJobRepo) Finish(ctx context.Context, jobID uuid.UUID, out JobOutcome) error {
	query, args := r.builder().
		Update(jobsTable).
		Set("status", string(constants.JobStatusDone)).
		Set("item_count", out.ItemCount).
		Set("pages_processed", out.PagesProcessed).
		Set("pages_total", out.PagesTotal).
		Set("sent", out.Sent).
		Set("finished_at", formatTime(r.now())).
		Where(entsql.EQ("id", jobID.String())).
		Query()
	if _, err := r.db.SQL.ExecContext(ctx, query, args...); err != nil {
		r.log.Error("conversion_job finish(DONE) failed", "job_id", jobID, "err", err)
		return fmt.Errorf("finish job: %w", err)
	}
	r.log.Debug("conversion_job finished (DONE)", "job_id", jobID, "items", out.ItemCount)
	return nil
}

func (r *conversionJobRepo) Fail(ctx context.Context, jobID uuid.UUID, message string) error {
	query, args := r.builder().
		Update(jobsTable).
		Set("status", string(constants.JobStatusFailed)).
		Set("error_message", message).
		Set("finished_at", formatTime(r.now())).
		Where(entsql.EQ("id", jobID.String())).
		Query()
	if _, err := r.db.SQL.ExecContext(ctx, query, args...); err != nil {
		r.log.Error("conversion_job finish(FAILED) failed", "job_id", jobID, "err", err)
		return fmt.Errorf("fail job: %w", err)
	}
	r.log.Warn("conversion_job finished (FAILED)", "job_id", jobID, "error", message)
	return nil
}

// Recent lists the latest jobs, newest first.
func (r *conversionJobRepo) Recent(ctx context.Context, limit int) ([]ConversionJob, error) {
	if limit <= 0 {
		limit = 20
	}
	query, args := r.builder().
		Select("id", "action", "source", "status", "item_count", "pages_processed", "pages_total", "sent", "error_message", "started_at", "finished_at").
		From(r.builder().Table(jobsTable)).
		OrderBy(entsql.Desc("started_at")).
		Limit(limit).
		Query()
	rows, err := r.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ConversionJob
	for rows.Next() {
		var (
			j                 ConversionJob
			id, status        string
			started, finished string
		)
		if err := rows.Scan(&id, &j.Action, &j.Source, &status, &j.ItemCount, &j.PagesProcessed, &j.PagesTotal, &j.Sent, &j.ErrorMessage, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.ID, _ = uuid.Parse(id)
		j.Status = constants.JobStatus(status)
		j.StartedAt, j.FinishedAt = parseTime(started), parseTime(finished)
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *conversionJobRepo) Count(ctx context.Context) (int, error) {
	return count(ctx, r.db, jobsTable)
}
