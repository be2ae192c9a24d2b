// internal/repository/postgres/job_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"audiotricks-service/internal/domain/job"
	xerrors "audiotricks-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type JobRepository struct {
	db querier
}

func NewJobRepository(db *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) WithTx(tx pgx.Tx) *JobRepository {
	return &JobRepository{db: tx}
}

const jobColumns = `id, reference, user_id, workspace_id, upload_id::text, status, operations, progress, results,
	error_message, attempts, locked_by, locked_until, created_at, started_at, completed_at, updated_at`

func scanJob(row pgx.Row) (*job.Job, error) {
	var j job.Job
	var ops []string
	var resultsJSON []byte
	err := row.Scan(
		&j.ID, &j.Reference, &j.UserID, &j.WorkspaceID, &j.UploadID, &j.Status, &ops, &j.Progress, &resultsJSON,
		&j.ErrorMessage, &j.Attempts, &j.LockedBy, &j.LockedUntil, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	j.Operations = make([]job.Operation, len(ops))
	for i, op := range ops {
		j.Operations[i] = job.Operation(op)
	}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &j.Results); err != nil {
			return nil, fmt.Errorf("failed to decode job results: %w", err)
		}
	}
	return &j, nil
}

func operationsToStrings(ops []job.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = string(op)
	}
	return out
}

func (r *JobRepository) Create(ctx context.Context, j *job.Job) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO jobs (reference, user_id, workspace_id, upload_id, status, operations)
		VALUES ($1, $2, $3, $4::uuid, 'queued', $5)
		RETURNING status, progress, attempts, created_at, updated_at
	`, j.Reference, j.UserID, j.WorkspaceID, j.UploadID, operationsToStrings(j.Operations),
	).Scan(&j.Status, &j.Progress, &j.Attempts, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// CreateWithinLimit inserts j unless its workspace already has maxActive
// queued or processing jobs. A negative maxActive means no cap. The
// workspace row stays locked from the count to the insert, so concurrent
// creators in one workspace take turns.
func (r *JobRepository) CreateWithinLimit(ctx context.Context, j *job.Job, maxActive int64) error {
	if maxActive < 0 {
		return r.Create(ctx, j)
	}
	b, ok := r.db.(interface {
		Begin(ctx context.Context) (pgx.Tx, error)
	})
	if !ok {
		return errors.New("job repository cannot open a transaction")
	}
	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT id FROM workspaces WHERE id = $1 FOR UPDATE`, j.WorkspaceID); err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	inTx := r.WithTx(tx)
	active, err := inTx.CountActive(ctx, j.WorkspaceID)
	if err != nil {
		return err
	}
	if active >= maxActive {
		return fmt.Errorf("%d jobs already running, your plan allows %d at a time: %w", active, maxActive, xerrors.ErrQuotaExceeded)
	}
	if err := inTx.Create(ctx, j); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit job: %w", err)
	}
	return nil
}

func (r *JobRepository) FindByID(ctx context.Context, id int64) (*job.Job, error) {
	j, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to find job: %w", err)
	}
	return j, nil
}

// Status is the cheap read the pipeline does at every stage boundary.
func (r *JobRepository) Status(ctx context.Context, id int64) (job.Status, error) {
	var s job.Status
	if err := r.db.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&s); err != nil {
		return "", fmt.Errorf("failed to read job status: %w", notFound(err))
	}
	return s, nil
}

func (r *JobRepository) List(ctx context.Context, filters *job.ListFilters) ([]*job.Job, int64, error) {
	conditions := []string{"workspace_id = $1"}
	args := []interface{}{filters.WorkspaceID}
	argPos := 2

	if filters.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *filters.Status)
		argPos++
	}

	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM jobs "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	limit, offset := paginate(filters.Page, filters.Limit)
	query := fmt.Sprintf(`SELECT %s FROM jobs %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, whereClause, argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*job.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

// CountActive counts queued and processing jobs of a workspace.
func (r *JobRepository) CountActive(ctx context.Context, workspaceID int64) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs WHERE workspace_id = $1 AND status IN ('queued', 'processing')
	`, workspaceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}
	return n, nil
}

// ========== Queue ==========

// Claim leases the oldest deliverable job to worker: a queued job, or a
// processing job whose lease ran out. Returns ErrNotFound when idle.
func (r *JobRepository) Claim(ctx context.Context, worker string, visibility time.Duration) (*job.Job, error) {
	j, err := scanJob(r.db.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'processing', locked_by = $1, locked_until = NOW() + make_interval(secs => $2),
		    attempts = attempts + 1, started_at = COALESCE(started_at, NOW()), updated_at = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'queued' OR (status = 'processing' AND locked_until < NOW())
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns, worker, visibility.Seconds()))
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return j, nil
}

// ExtendLease pushes locked_until forward while worker still owns the job.
func (r *JobRepository) ExtendLease(ctx context.Context, id int64, worker string, visibility time.Duration) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE jobs SET locked_until = NOW() + make_interval(secs => $3)
		WHERE id = $1 AND locked_by = $2 AND status = 'processing'
	`, id, worker, visibility.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to extend lease: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateProgress writes a checkpoint. It only applies while the job is still
// processing so a concurrent cancel is never overwritten.
func (r *JobRepository) UpdateProgress(ctx context.Context, id int64, progress int) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE jobs SET progress = GREATEST(progress, $2), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id, progress)
	if err != nil {
		return false, fmt.Errorf("failed to update progress: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SaveResults persists stage output together with its checkpoint.
func (r *JobRepository) SaveResults(ctx context.Context, id int64, results job.Results, progress int) (bool, error) {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return false, fmt.Errorf("failed to marshal results: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE jobs SET results = $2, progress = GREATEST(progress, $3), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id, resultsJSON, progress)
	if err != nil {
		return false, fmt.Errorf("failed to save results: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *JobRepository) Complete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE jobs
		SET status = 'completed', progress = 100, completed_at = NOW(), locked_by = NULL, locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to complete job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *JobRepository) Fail(ctx context.Context, id int64, message string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed', error_message = $2, completed_at = NOW(), locked_by = NULL, locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id, message)
	if err != nil {
		return false, fmt.Errorf("failed to mark job failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Cancel moves a queued or processing job to cancelled.
func (r *JobRepository) Cancel(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE jobs
		SET status = 'cancelled', completed_at = NOW(), locked_by = NULL, locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('queued', 'processing')
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ResetForRetry requeues a failed job from scratch.
func (r *JobRepository) ResetForRetry(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE jobs
		SET status = 'queued', progress = 0, results = '{}'::jsonb, error_message = NULL, attempts = 0,
		    started_at = NULL, completed_at = NULL, locked_by = NULL, locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to reset job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes a finished job.
func (r *JobRepository) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM jobs WHERE id = $1 AND status IN ('completed', 'failed', 'cancelled')
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
