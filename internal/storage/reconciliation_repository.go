package storage

import (
	"context"
	"time"

	"github.com/clinicdesk/clinic-scheduler/internal/model"
	"github.com/clinicdesk/clinic-scheduler/libs/db"
)

// ReconciliationRepository persists retry work for remote operations that
// failed during a user-facing request.
type ReconciliationRepository struct {
	pool *db.Pool
}

func NewReconciliationRepository(pool *db.Pool) *ReconciliationRepository {
	return &ReconciliationRepository{pool: pool}
}

func (r *ReconciliationRepository) Enqueue(ctx context.Context, rec model.ReconciliationRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reconciliation_records
			(appointment_id, op, remote_ref, idempotency_key, max_attempts, next_run_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)
		ON CONFLICT (appointment_id, op) DO NOTHING
	`, rec.AppointmentID, rec.Op, rec.RemoteRef, rec.IdempotencyKey, rec.MaxAttempts, rec.NextRunAt)
	return err
}

func (r *ReconciliationRepository) DeleteFor(ctx context.Context, appointmentID string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM reconciliation_records WHERE appointment_id = $1
	`, appointmentID)
	return err
}

// FetchDue returns non-stuck records whose next attempt is due. The scheduler
// runs as a single instance; multi-instance deployments serialize the worker
// behind a Postgres advisory lock in main.
func (r *ReconciliationRepository) FetchDue(ctx context.Context, limit int) ([]model.ReconciliationRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, op, COALESCE(remote_ref, ''), COALESCE(idempotency_key, ''),
			attempts, max_attempts, next_run_at, COALESCE(last_error, ''), stuck
		FROM reconciliation_records
		WHERE stuck = false AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.ReconciliationRecord
	for rows.Next() {
		var rec model.ReconciliationRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.AppointmentID,
			&rec.Op,
			&rec.RemoteRef,
			&rec.IdempotencyKey,
			&rec.Attempts,
			&rec.MaxAttempts,
			&rec.NextRunAt,
			&rec.LastError,
			&rec.Stuck,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func (r *ReconciliationRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM reconciliation_records WHERE id = $1`, id)
	return err
}

func (r *ReconciliationRepository) MarkFailed(ctx context.Context, id int64, attempts int, nextRunAt time.Time, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE reconciliation_records
		SET attempts = $2, next_run_at = $3, last_error = $4, updated_at = now()
		WHERE id = $1
	`, id, attempts, nextRunAt, lastError)
	return err
}

func (r *ReconciliationRepository) MarkStuck(ctx context.Context, id int64, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE reconciliation_records
		SET stuck = true, last_error = $2, updated_at = now()
		WHERE id = $1
	`, id, lastError)
	return err
}

// ListStuck surfaces records that exhausted their attempts and need operator
// attention; they are never dropped automatically.
func (r *ReconciliationRepository) ListStuck(ctx context.Context, limit int) ([]model.ReconciliationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, op, COALESCE(remote_ref, ''), COALESCE(idempotency_key, ''),
			attempts, max_attempts, next_run_at, COALESCE(last_error, ''), stuck
		FROM reconciliation_records
		WHERE stuck = true
		ORDER BY next_run_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.ReconciliationRecord
	for rows.Next() {
		var rec model.ReconciliationRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.AppointmentID,
			&rec.Op,
			&rec.RemoteRef,
			&rec.IdempotencyKey,
			&rec.Attempts,
			&rec.MaxAttempts,
			&rec.NextRunAt,
			&rec.LastError,
			&rec.Stuck,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}
