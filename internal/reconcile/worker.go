package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/clinicdesk/clinic-scheduler/internal/calendar"
	"github.com/clinicdesk/clinic-scheduler/internal/model"
)

// Appointments is the slice of the fallback store the worker needs to promote
// fallback records once their remote create lands.
type Appointments interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	Update(ctx context.Context, appt model.Appointment) error
}

// Queue is the reconciliation record surface.
type Queue interface {
	FetchDue(ctx context.Context, limit int) ([]model.ReconciliationRecord, error)
	Delete(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, attempts int, nextRunAt time.Time, lastError string) error
	MarkStuck(ctx context.Context, id int64, lastError string) error
}

// Worker retries remote operations that failed during user-facing requests.
// Creates reuse the appointment's idempotency key, so a retry of a create
// that actually landed is detected remotely instead of duplicating the event.
// After MaxAttempts failures a record is marked stuck and left for operator
// review; it is never silently dropped.
type Worker struct {
	appts     Appointments
	queue     Queue
	gateway   calendar.Gateway
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	backoff   time.Duration

	now func() time.Time
}

type Config struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(appts Appointments, queue Queue, gateway calendar.Gateway, logger *slog.Logger, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	return &Worker{
		appts:     appts,
		queue:     queue,
		gateway:   gateway,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
		now:       time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run immediately on startup to self-heal faster after downtime.
	w.ProcessBatch(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessBatch(ctx)
		}
	}
}

func (w *Worker) ProcessBatch(ctx context.Context) {
	records, err := w.queue.FetchDue(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("reconcile: failed to fetch due records", "err", err)
		return
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		if err := w.process(ctx, rec); err != nil {
			w.fail(ctx, rec, err)
		}
	}
}

func (w *Worker) process(ctx context.Context, rec model.ReconciliationRecord) error {
	switch rec.Op {
	case model.ReconcileOpCreate:
		return w.retryCreate(ctx, rec)
	case model.ReconcileOpDelete:
		return w.retryDelete(ctx, rec)
	default:
		// Unknown op: surface immediately rather than retrying forever.
		w.logger.Error("reconcile: unknown op", "op", rec.Op, "record_id", rec.ID)
		return w.queue.MarkStuck(ctx, rec.ID, "unknown op "+rec.Op)
	}
}

func (w *Worker) retryCreate(ctx context.Context, rec model.ReconciliationRecord) error {
	appt, err := w.appts.Get(ctx, rec.AppointmentID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			// Appointment was cancelled while waiting to sync; nothing to create.
			return w.queue.Delete(ctx, rec.ID)
		}
		return err
	}
	if !appt.Active() {
		return w.queue.Delete(ctx, rec.ID)
	}

	ref, err := w.gateway.CreateEvent(ctx, calendar.Event{
		Summary:     appt.Service + " - " + appt.PatientName,
		Description: "Contact: " + appt.PatientPhone + "\nService: " + appt.Service,
		Start:       appt.Start,
		End:         appt.End,
	}, rec.IdempotencyKey)
	if err != nil {
		return err
	}

	appt.Origin = model.OriginRemote
	appt.Status = model.StatusConfirmed
	appt.RemoteRef = ref
	if err := w.appts.Update(ctx, appt); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			// A fallback cancel deleted the record between our Get and Update.
			// The event we just created has no owner; remove it and retire the
			// record so the slot frees up remotely too.
			if delErr := w.gateway.DeleteEvent(ctx, ref); delErr != nil && !errors.Is(delErr, calendar.ErrNotFound) {
				return delErr
			}
			w.logger.Info("reconcile: appointment cancelled mid-sync; remote event removed",
				"appointment_id", rec.AppointmentID, "remote_ref", ref)
			return w.queue.Delete(ctx, rec.ID)
		}
		return err
	}
	w.logger.Info("reconcile: appointment synced to remote calendar",
		"appointment_id", appt.ID, "remote_ref", ref)
	return w.queue.Delete(ctx, rec.ID)
}

func (w *Worker) retryDelete(ctx context.Context, rec model.ReconciliationRecord) error {
	err := w.gateway.DeleteEvent(ctx, rec.RemoteRef)
	if err != nil && !errors.Is(err, calendar.ErrNotFound) {
		return err
	}
	w.logger.Info("reconcile: remote event deleted",
		"appointment_id", rec.AppointmentID, "remote_ref", rec.RemoteRef)
	return w.queue.Delete(ctx, rec.ID)
}

func (w *Worker) fail(ctx context.Context, rec model.ReconciliationRecord, cause error) {
	attempts := rec.Attempts + 1
	if attempts >= rec.MaxAttempts {
		w.logger.Error("reconcile: record stuck after max attempts; manual review required",
			"record_id", rec.ID,
			"appointment_id", rec.AppointmentID,
			"op", rec.Op,
			"attempts", attempts,
			"err", cause,
		)
		if err := w.queue.MarkStuck(ctx, rec.ID, cause.Error()); err != nil {
			w.logger.Error("reconcile: failed to mark record stuck", "record_id", rec.ID, "err", err)
		}
		return
	}

	nextRunAt := w.now().Add(w.backoff)
	w.logger.Warn("reconcile: attempt failed; will retry",
		"record_id", rec.ID,
		"appointment_id", rec.AppointmentID,
		"op", rec.Op,
		"attempts", attempts,
		"next_run_at", nextRunAt.Format(time.RFC3339),
		"err", cause,
	)
	if err := w.queue.MarkFailed(ctx, rec.ID, attempts, nextRunAt, cause.Error()); err != nil {
		w.logger.Error("reconcile: failed to record attempt", "record_id", rec.ID, "err", err)
	}
}
