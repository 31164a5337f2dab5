package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicdesk/clinic-scheduler/internal/availability"
	"github.com/clinicdesk/clinic-scheduler/internal/model"
)

// evaluate is the conflict resolver: it re-derives busy intervals fresh (a
// quoted slot may have been taken since) and rejects a proposed slot that is
// in the past, outside business hours, or overlapping an existing booking.
// ignore, when set, is the appointment being rescheduled; its own interval
// does not block.
func (e *Engine) evaluate(ctx context.Context, slot availability.Interval, ignore *model.Appointment) error {
	if slot.Start.Before(e.now()) {
		return ErrPastDate
	}
	if !e.hours.Contains(slot.Start, slot.End) {
		return ErrOutsideBusinessHours
	}

	dayStart, dayEnd, _ := e.hours.WindowFor(slot.Start)
	busy, _, err := e.busyBetween(ctx, dayStart, dayEnd, ignore)
	if err != nil {
		return err
	}

	for _, b := range busy {
		if slot.Overlaps(b) {
			return &SlotTakenError{Alternatives: e.alternatives(slot, busy)}
		}
	}
	return nil
}

// busyBetween merges remote busy intervals with local pending/confirmed
// bookings. ignore, when set, is excluded before merging: local records by
// id, remote intervals by exact slot match (the ignored booking's synced
// event). Exclusion must happen pre-merge because Merge coalesces adjacent
// intervals, after which the ignored slot is no longer separable. A gateway
// failure yields degraded=true and local data only; a store failure fails
// the whole read.
func (e *Engine) busyBetween(ctx context.Context, from, to time.Time, ignore *model.Appointment) (busy []availability.Interval, degraded bool, err error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.GatewayTimeout)
	remote, gwErr := e.gateway.ListBusy(cctx, from, to)
	cancel()
	if gwErr != nil {
		e.logger.Warn("remote busy lookup failed; continuing degraded", "err", gwErr)
		degraded = true
		remote = nil
	}

	local, err := e.store.ListActiveBetween(ctx, from, to)
	if err != nil {
		return nil, degraded, fmt.Errorf("list local bookings: %w", err)
	}

	all := make([]availability.Interval, 0, len(remote)+len(local))
	for _, r := range remote {
		if ignore != nil && r.Start.Equal(ignore.Start) && r.End.Equal(ignore.End) {
			continue
		}
		all = append(all, r)
	}
	for _, a := range local {
		if ignore != nil && a.ID == ignore.ID {
			continue
		}
		all = append(all, availability.Interval{Start: a.Start, End: a.End})
	}
	return availability.Merge(all), degraded, nil
}

// alternatives picks up to two free slots from the same day to offer instead
// of a rejected one.
func (e *Engine) alternatives(slot availability.Interval, busy []availability.Interval) []availability.Interval {
	winStart, winEnd, open := e.hours.WindowFor(slot.Start)
	if !open {
		return nil
	}
	duration := slot.End.Sub(slot.Start)
	free := availability.Slots(winStart, winEnd, duration, e.cfg.SlotStep, busy, e.now())

	var out []availability.Interval
	for _, f := range free {
		if f.Start.Equal(slot.Start) {
			continue
		}
		out = append(out, f)
		if len(out) == 2 {
			break
		}
	}
	return out
}
