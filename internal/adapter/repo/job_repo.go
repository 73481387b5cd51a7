package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"upscaler/internal/domain"
	"upscaler/internal/infra"
	"upscaler/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a job history repository on top of a marker-checked executor.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Insert stores a completed job.
func (r *JobRepositoryPG) Insert(ctx context.Context, rec *domain.JobRecord) error {
	status := rec.MirrorStatus
	if status == "" {
		status = domain.MirrorDone
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertUpscaleJob,
		rec.ID,
		rec.UserID,
		rec.ResultURL,
		rec.SourceURL,
		rec.StorageKey,
		rec.Resolution,
		rec.Format,
		string(status),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert upscale job: %w", err)
	}
	return nil
}

// ListByUser returns the user's jobs, newest first.
func (r *JobRepositoryPG) ListByUser(ctx context.Context, userID string, limit int) ([]domain.JobRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListUpscaleJobsByUser, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list upscale jobs: %w", err)
	}
	return collect(rows)
}

// Stats counts all jobs and those created since the given instant.
func (r *JobRepositoryPG) Stats(ctx context.Context, userID string, since time.Time) (*domain.HistoryStats, error) {
	stats := &domain.HistoryStats{Plan: domain.PlanFree, Credits: domain.CreditsFree}
	row := r.sql.QueryRow(ctx, sqlinline.QUpscaleJobStats, userID, since)
	if err := row.Scan(&stats.Total, &stats.ThisMonth); err != nil {
		return nil, fmt.Errorf("upscale job stats: %w", err)
	}
	return stats, nil
}

// Delete removes a job owned by userID.
func (r *JobRepositoryPG) Delete(ctx context.Context, userID, jobID string) (*domain.JobRecord, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QDeleteUpscaleJob, jobID, userID)
	rec, err := scanRecord(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("delete upscale job: %w", err)
	}
	return rec, nil
}

// ClaimPendingMirrors marks up to limit pending records as in progress and
// returns them. Rows locked by another worker are skipped.
func (r *JobRepositoryPG) ClaimPendingMirrors(ctx context.Context, limit int) ([]domain.JobRecord, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QClaimPendingMirrors, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending mirrors: %w", err)
	}
	return collect(rows)
}

// MarkMirror records the outcome of a copy. Empty url or key keep the stored value.
func (r *JobRepositoryPG) MarkMirror(ctx context.Context, jobID string, status domain.MirrorStatus, resultURL, storageKey string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkUpscaleJobMirror, jobID, string(status), resultURL, storageKey)
	if err != nil {
		return fmt.Errorf("mark mirror: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func collect(rows pgx.Rows) ([]domain.JobRecord, error) {
	defer rows.Close()
	var items []domain.JobRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanRecord(row pgx.Row) (*domain.JobRecord, error) {
	var (
		rec    domain.JobRecord
		status string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.ResultURL,
		&rec.SourceURL,
		&rec.StorageKey,
		&rec.Resolution,
		&rec.Format,
		&status,
		&rec.MirrorAttempts,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	rec.MirrorStatus = domain.MirrorStatus(status)
	return &rec, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
