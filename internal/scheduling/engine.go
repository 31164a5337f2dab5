package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-scheduler/internal/availability"
	"github.com/clinicdesk/clinic-scheduler/internal/calendar"
	"github.com/clinicdesk/clinic-scheduler/internal/clinic"
	"github.com/clinicdesk/clinic-scheduler/internal/model"
)

// Store is the durable local record of appointments. Writes are atomic per
// record; the engine serializes conflicting writes itself via day locks.
type Store interface {
	Create(ctx context.Context, appt *model.Appointment) error
	Get(ctx context.Context, id string) (model.Appointment, error)
	Update(ctx context.Context, appt model.Appointment) error
	Delete(ctx context.Context, id string) error
	// ListActiveBetween returns pending/confirmed appointments whose interval
	// overlaps [from, to), ordered by start ascending.
	ListActiveBetween(ctx context.Context, from, to time.Time) ([]model.Appointment, error)
	List(ctx context.Context, limit int) ([]model.Appointment, error)
	EnqueueReconciliation(ctx context.Context, rec model.ReconciliationRecord) error
	DeleteReconciliationFor(ctx context.Context, appointmentID string) error
}

// Notifier delivers the post-commit SMS. Failures are logged, never surfaced.
type Notifier interface {
	Send(ctx context.Context, to, body string) error
}

type Config struct {
	SlotStep             time.Duration // candidate start granularity
	GatewayTimeout       time.Duration // bound on any remote calendar call
	NotifyTimeout        time.Duration
	ReconcileMaxAttempts int
}

// Engine owns the appointment lifecycle: it validates intents, decides
// conflicts, writes through to the remote calendar with a local fallback, and
// enqueues reconciliation work when the remote side is unreachable.
type Engine struct {
	store    Store
	gateway  calendar.Gateway
	catalog  clinic.Catalog
	hours    clinic.Hours
	notifier Notifier
	logger   *slog.Logger
	locks    *dayLocks
	cfg      Config

	now func() time.Time
}

func NewEngine(store Store, gateway calendar.Gateway, catalog clinic.Catalog, hours clinic.Hours, notifier Notifier, logger *slog.Logger, cfg Config) *Engine {
	if cfg.SlotStep <= 0 {
		cfg.SlotStep = 15 * time.Minute
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 5 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	if cfg.ReconcileMaxAttempts <= 0 {
		cfg.ReconcileMaxAttempts = 10
	}
	return &Engine{
		store:    store,
		gateway:  gateway,
		catalog:  catalog,
		hours:    hours,
		notifier: notifier,
		logger:   logger,
		locks:    newDayLocks(),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Availability is a freeSlots result. Degraded means the remote calendar could
// not be consulted and slots were computed from local records only.
type Availability struct {
	Slots    []availability.Interval
	Degraded bool
}

// FreeSlots returns bookable slots for the service within [from, to), ordered
// by start ascending. Read-only and unlocked; the commit path re-checks.
func (e *Engine) FreeSlots(ctx context.Context, service string, from, to time.Time) (Availability, error) {
	duration, ok := e.catalog.Duration(service)
	if !ok {
		return Availability{}, ErrUnknownService
	}
	now := e.now()
	if !to.After(from) {
		return Availability{}, ErrInvalidRange
	}
	if to.Before(now) {
		return Availability{}, fmt.Errorf("%w: range is entirely in the past", ErrInvalidRange)
	}

	busy, degraded, err := e.busyBetween(ctx, from, to, nil)
	if err != nil {
		return Availability{}, err
	}

	result := Availability{Degraded: degraded}
	for day := e.hours.In(from); day.Before(to); day = day.AddDate(0, 0, 1) {
		winStart, winEnd, open := e.hours.WindowFor(day)
		if !open {
			continue
		}
		if winStart.Before(from) {
			// Clip to the range start, rounded up to the next step boundary
			// relative to opening time so candidates stay on the slot grid.
			offset := e.hours.In(from).Sub(winStart)
			if rem := offset % e.cfg.SlotStep; rem != 0 {
				offset += e.cfg.SlotStep - rem
			}
			winStart = winStart.Add(offset)
		}
		if winEnd.After(to) {
			winEnd = e.hours.In(to)
		}
		result.Slots = append(result.Slots, availability.Slots(winStart, winEnd, duration, e.cfg.SlotStep, busy, now)...)
	}
	return result, nil
}

type BookingRequest struct {
	PatientName  string
	PatientPhone string
	Service      string
	Start        time.Time
}

// Book validates the request, resolves conflicts, and commits the appointment.
// Remote calendar failure does not fail the booking: the appointment is
// persisted as fallback/pending and reconciled in the background.
func (e *Engine) Book(ctx context.Context, req BookingRequest) (model.Appointment, error) {
	duration, ok := e.catalog.Duration(req.Service)
	if !ok {
		return model.Appointment{}, ErrUnknownService
	}
	start := e.hours.In(req.Start)
	slot := availability.Interval{Start: start, End: start.Add(duration)}

	if err := e.evaluate(ctx, slot, nil); err != nil {
		return model.Appointment{}, err
	}

	unlock := e.locks.lock(e.hours.DayKey(slot.Start))
	defer unlock()

	// Close the check-then-act window: re-check local records under the lock.
	// Our own remote writes are serialized by the same lock, so a fresh remote
	// read is not needed here.
	if err := e.recheckLocal(ctx, slot, ""); err != nil {
		return model.Appointment{}, err
	}

	appt := model.Appointment{
		ID:             uuid.NewString(),
		PatientName:    req.PatientName,
		PatientPhone:   req.PatientPhone,
		Service:        req.Service,
		Start:          slot.Start,
		End:            slot.End,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      e.now(),
	}
	if err := e.commit(ctx, &appt); err != nil {
		return model.Appointment{}, err
	}

	e.notifyAsync(appt)
	return appt, nil
}

// Cancel releases the appointment's slot. For remote-origin appointments a
// failed remote delete still cancels locally and is retried by reconciliation,
// so a cancelled slot is never re-surfaced as busy.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	appt, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !appt.Active() {
		return ErrNotFound
	}

	unlock := e.locks.lock(e.hours.DayKey(appt.Start))
	defer unlock()

	// Re-read under the lock: a concurrent cancel or reschedule may have
	// finished this appointment between the check above and lock acquisition.
	appt, err = e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !appt.Active() {
		return ErrNotFound
	}

	return e.cancelLocked(ctx, appt)
}

// Reschedule moves an appointment to a new start as one logical unit: if the
// new booking cannot be committed, the original is restored.
func (e *Engine) Reschedule(ctx context.Context, id string, newStart time.Time) (model.Appointment, error) {
	appt, err := e.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !appt.Active() {
		return model.Appointment{}, ErrNotFound
	}
	duration, ok := e.catalog.Duration(appt.Service)
	if !ok {
		return model.Appointment{}, ErrUnknownService
	}
	start := e.hours.In(newStart)
	slot := availability.Interval{Start: start, End: start.Add(duration)}

	// The appointment being moved does not count as busy for its own check.
	if err := e.evaluate(ctx, slot, &appt); err != nil {
		return model.Appointment{}, err
	}

	unlock := e.locks.lock(e.hours.DayKey(appt.Start), e.hours.DayKey(slot.Start))
	defer unlock()

	appt, err = e.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !appt.Active() {
		return model.Appointment{}, ErrNotFound
	}

	if err := e.recheckLocal(ctx, slot, appt.ID); err != nil {
		return model.Appointment{}, err
	}

	prior := appt
	if err := e.cancelLocked(ctx, appt); err != nil {
		return model.Appointment{}, err
	}

	next := model.Appointment{
		ID:             uuid.NewString(),
		PatientName:    prior.PatientName,
		PatientPhone:   prior.PatientPhone,
		Service:        prior.Service,
		Start:          slot.Start,
		End:            slot.End,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      e.now(),
	}
	if err := e.commit(ctx, &next); err != nil {
		e.restoreLocked(ctx, prior)
		return model.Appointment{}, err
	}

	e.notifyAsync(next)
	return next, nil
}

func (e *Engine) Get(ctx context.Context, id string) (model.Appointment, error) {
	return e.store.Get(ctx, id)
}

func (e *Engine) List(ctx context.Context, limit int) ([]model.Appointment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return e.store.List(ctx, limit)
}

// commit performs the dual write: remote create first, local fallback on
// gateway failure. It only returns an error when the local store fails.
func (e *Engine) commit(ctx context.Context, appt *model.Appointment) error {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.GatewayTimeout)
	ref, err := e.gateway.CreateEvent(cctx, eventFor(*appt), appt.IdempotencyKey)
	cancel()
	if err != nil {
		e.logger.Warn("remote create failed; persisting to fallback store",
			"appointment_id", appt.ID, "err", err)
		appt.Origin = model.OriginFallback
		appt.Status = model.StatusPending
	} else {
		appt.Origin = model.OriginRemote
		appt.Status = model.StatusConfirmed
		appt.RemoteRef = ref
	}

	if err := e.store.Create(ctx, appt); err != nil {
		if appt.Origin == model.OriginRemote {
			// The remote event exists but no local record will: delete it so
			// the slot is not blocked by an appointment that never happened.
			dctx, dcancel := context.WithTimeout(context.Background(), e.cfg.GatewayTimeout)
			if delErr := e.gateway.DeleteEvent(dctx, appt.RemoteRef); delErr != nil && !errors.Is(delErr, calendar.ErrNotFound) {
				e.logger.Error("failed to remove remote event after persist failure",
					"appointment_id", appt.ID, "remote_ref", appt.RemoteRef, "err", delErr)
			}
			dcancel()
		}
		return fmt.Errorf("persist appointment: %w", err)
	}
	if appt.Origin == model.OriginFallback {
		rec := model.ReconciliationRecord{
			AppointmentID:  appt.ID,
			Op:             model.ReconcileOpCreate,
			IdempotencyKey: appt.IdempotencyKey,
			MaxAttempts:    e.cfg.ReconcileMaxAttempts,
			NextRunAt:      e.now(),
		}
		if err := e.store.EnqueueReconciliation(ctx, rec); err != nil {
			return fmt.Errorf("enqueue reconciliation: %w", err)
		}
	}

	e.logger.Info("appointment committed",
		"appointment_id", appt.ID,
		"service", appt.Service,
		"start", appt.Start.Format(time.RFC3339),
		"origin", appt.Origin,
		"status", appt.Status,
	)
	return nil
}

func (e *Engine) cancelLocked(ctx context.Context, appt model.Appointment) error {
	if appt.Origin == model.OriginFallback {
		// Never reached the remote calendar; drop the record and any pending
		// create retry outright.
		if err := e.store.Delete(ctx, appt.ID); err != nil {
			return err
		}
		if err := e.store.DeleteReconciliationFor(ctx, appt.ID); err != nil {
			return err
		}
		e.logger.Info("fallback appointment cancelled", "appointment_id", appt.ID)
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, e.cfg.GatewayTimeout)
	err := e.gateway.DeleteEvent(cctx, appt.RemoteRef)
	cancel()

	now := e.now()
	appt.Status = model.StatusCancelled
	appt.CancelledAt = &now
	if upErr := e.store.Update(ctx, appt); upErr != nil {
		return upErr
	}

	if err != nil && !errors.Is(err, calendar.ErrNotFound) {
		e.logger.Warn("remote delete failed; scheduling retry",
			"appointment_id", appt.ID, "err", err)
		return e.store.EnqueueReconciliation(ctx, model.ReconciliationRecord{
			AppointmentID: appt.ID,
			Op:            model.ReconcileOpDelete,
			RemoteRef:     appt.RemoteRef,
			MaxAttempts:   e.cfg.ReconcileMaxAttempts,
			NextRunAt:     now,
		})
	}
	e.logger.Info("appointment cancelled", "appointment_id", appt.ID)
	return nil
}

// restoreLocked is the compensating action for reschedule: put the prior
// appointment back after its cancellation, because the replacement could not
// be committed.
func (e *Engine) restoreLocked(ctx context.Context, prior model.Appointment) {
	restored := prior
	restored.CancelledAt = nil

	if prior.Origin == model.OriginRemote {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.GatewayTimeout)
		ref, err := e.gateway.CreateEvent(cctx, eventFor(restored), restored.IdempotencyKey)
		cancel()
		if err != nil {
			e.logger.Warn("restore: remote re-create failed; restoring as fallback",
				"appointment_id", prior.ID, "err", err)
			restored.Origin = model.OriginFallback
			restored.Status = model.StatusPending
			restored.RemoteRef = ""
		} else {
			restored.Status = model.StatusConfirmed
			restored.RemoteRef = ref
		}
		if err := e.store.Update(ctx, restored); err != nil {
			e.logger.Error("restore: failed to update prior appointment",
				"appointment_id", prior.ID, "err", err)
			return
		}
	} else {
		restored.Status = model.StatusPending
		if err := e.store.Create(ctx, &restored); err != nil {
			e.logger.Error("restore: failed to re-create prior appointment",
				"appointment_id", prior.ID, "err", err)
			return
		}
	}

	if restored.Origin == model.OriginFallback {
		if err := e.store.EnqueueReconciliation(ctx, model.ReconciliationRecord{
			AppointmentID:  restored.ID,
			Op:             model.ReconcileOpCreate,
			IdempotencyKey: restored.IdempotencyKey,
			MaxAttempts:    e.cfg.ReconcileMaxAttempts,
			NextRunAt:      e.now(),
		}); err != nil {
			e.logger.Error("restore: failed to enqueue reconciliation",
				"appointment_id", restored.ID, "err", err)
		}
	}
}

func (e *Engine) recheckLocal(ctx context.Context, slot availability.Interval, ignoreID string) error {
	local, err := e.store.ListActiveBetween(ctx, slot.Start, slot.End)
	if err != nil {
		return fmt.Errorf("re-check local bookings: %w", err)
	}
	for _, a := range local {
		if a.ID == ignoreID {
			continue
		}
		if slot.Overlaps(availability.Interval{Start: a.Start, End: a.End}) {
			return &SlotTakenError{}
		}
	}
	return nil
}

func (e *Engine) notifyAsync(appt model.Appointment) {
	if e.notifier == nil {
		return
	}
	// Detached from the request: cancelling the dialogue must not reverse a
	// committed booking, and a failed SMS never does either.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.NotifyTimeout)
		defer cancel()
		body := confirmationBody(appt, e.hours.Location())
		if err := e.notifier.Send(ctx, appt.PatientPhone, body); err != nil {
			e.logger.Warn("confirmation sms failed",
				"appointment_id", appt.ID, "err", err)
		}
	}()
}

func eventFor(appt model.Appointment) calendar.Event {
	return calendar.Event{
		Summary: fmt.Sprintf("%s - %s", appt.Service, appt.PatientName),
		Description: fmt.Sprintf("Contact: %s\nService: %s\nDuration: %d mins",
			appt.PatientPhone, appt.Service, int(appt.End.Sub(appt.Start).Minutes())),
		Start: appt.Start,
		End:   appt.End,
	}
}

func confirmationBody(appt model.Appointment, loc *time.Location) string {
	local := appt.Start.In(loc)
	return fmt.Sprintf(
		"Appointment confirmed!\nHi %s, you are booked for a %s.\n%s at %s\n123 Health St, Clinic Main Office.",
		appt.PatientName,
		appt.Service,
		local.Format("Monday, January 2"),
		local.Format("03:04 PM"),
	)
}
