package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicdesk/clinic-scheduler/internal/model"
	"github.com/clinicdesk/clinic-scheduler/internal/outbox"
	"github.com/clinicdesk/clinic-scheduler/libs/db"
)

// AppointmentRepository is the durable fallback store. Each write commits the
// record together with its outbox event in one transaction, so lifecycle
// events are never lost or emitted for uncommitted state.
type AppointmentRepository struct {
	pool       *db.Pool
	outboxRepo *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outboxRepo: outboxRepo}
}

const appointmentColumns = `
	id, patient_name, patient_phone, service, start_time, end_time,
	status, origin, COALESCE(remote_ref, ''), idempotency_key, created_at, cancelled_at`

func (r *AppointmentRepository) Create(ctx context.Context, appt *model.Appointment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments
			(id, patient_name, patient_phone, service, start_time, end_time,
			 status, origin, remote_ref, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)
	`, appt.ID, appt.PatientName, appt.PatientPhone, appt.Service, appt.Start, appt.End,
		appt.Status, appt.Origin, appt.RemoteRef, appt.IdempotencyKey, appt.CreatedAt)
	if err != nil {
		return err
	}

	if err := r.insertEvent(ctx, tx, outbox.EventBooked, *appt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, model.ErrNotFound
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) Update(ctx context.Context, appt model.Appointment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	result, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			origin = $3,
			remote_ref = NULLIF($4, ''),
			start_time = $5,
			end_time = $6,
			cancelled_at = $7
		WHERE id = $1
	`, appt.ID, appt.Status, appt.Origin, appt.RemoteRef, appt.Start, appt.End, appt.CancelledAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return model.ErrNotFound
	}

	eventType := outbox.EventReconciled
	if appt.Status == model.StatusCancelled {
		eventType = outbox.EventCancelled
	}
	if err := r.insertEvent(ctx, tx, eventType, appt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	result, err := tx.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return model.ErrNotFound
	}

	payload, err := json.Marshal(map[string]any{"appointment_id": id})
	if err != nil {
		return err
	}
	if err := r.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   id,
		EventType:     outbox.EventCancelled,
		Payload:       payload,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) ListActiveBetween(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('pending', 'confirmed')
			AND start_time < $2
			AND end_time > $1
		ORDER BY start_time ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *AppointmentRepository) List(ctx context.Context, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		ORDER BY start_time DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *AppointmentRepository) insertEvent(ctx context.Context, tx pgx.Tx, eventType string, appt model.Appointment) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"patient_phone":  appt.PatientPhone,
		"service":        appt.Service,
		"start_time":     appt.Start.UTC().Format(time.RFC3339),
		"end_time":       appt.End.UTC().Format(time.RFC3339),
		"status":         appt.Status,
		"origin":         appt.Origin,
	})
	if err != nil {
		return err
	}
	return r.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var appt model.Appointment
	var cancelledAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.PatientName,
		&appt.PatientPhone,
		&appt.Service,
		&appt.Start,
		&appt.End,
		&appt.Status,
		&appt.Origin,
		&appt.RemoteRef,
		&appt.IdempotencyKey,
		&appt.CreatedAt,
		&cancelledAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.CancelledAt = cancelledAt
	return appt, nil
}

func scanAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}
