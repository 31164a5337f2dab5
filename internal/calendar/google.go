package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/clinicdesk/clinic-scheduler/internal/availability"
)

const idempotencyProperty = "idempotency_key"

// GoogleGateway talks to a single Google Calendar via a service account.
type GoogleGateway struct {
	svc        *gcal.Service
	calendarID string
	timezone   string
}

func NewGoogleGateway(ctx context.Context, credentialsFile, calendarID, timezone string) (*GoogleGateway, error) {
	svc, err := gcal.NewService(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init google calendar client: %w", err)
	}
	return &GoogleGateway{svc: svc, calendarID: calendarID, timezone: timezone}, nil
}

func (g *GoogleGateway) ListBusy(ctx context.Context, from, to time.Time) ([]availability.Interval, error) {
	events, err := g.svc.Events.List(g.calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapError(err)
	}

	var busy []availability.Interval
	for _, ev := range events.Items {
		// All-day events carry only a date; they don't block clinic slots.
		if ev.Start == nil || ev.End == nil || ev.Start.DateTime == "" || ev.End.DateTime == "" {
			continue
		}
		start, err := time.Parse(time.RFC3339, ev.Start.DateTime)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, ev.End.DateTime)
		if err != nil {
			continue
		}
		busy = append(busy, availability.Interval{Start: start, End: end})
	}
	return busy, nil
}

func (g *GoogleGateway) CreateEvent(ctx context.Context, ev Event, idempotencyKey string) (string, error) {
	// A retried create first looks for an event already carrying the key, so a
	// request that timed out after landing remotely is not duplicated.
	if idempotencyKey != "" {
		existing, err := g.svc.Events.List(g.calendarID).
			PrivateExtendedProperty(idempotencyProperty + "=" + idempotencyKey).
			MaxResults(1).
			Context(ctx).
			Do()
		if err != nil {
			return "", mapError(err)
		}
		if len(existing.Items) > 0 {
			return existing.Items[0].Id, nil
		}
	}

	body := &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: g.timezone},
		End:         &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: g.timezone},
	}
	if idempotencyKey != "" {
		body.ExtendedProperties = &gcal.EventExtendedProperties{
			Private: map[string]string{idempotencyProperty: idempotencyKey},
		}
	}

	created, err := g.svc.Events.Insert(g.calendarID, body).Context(ctx).Do()
	if err != nil {
		return "", mapError(err)
	}
	return created.Id, nil
}

func (g *GoogleGateway) DeleteEvent(ctx context.Context, ref string) error {
	if err := g.svc.Events.Delete(g.calendarID, ref).Context(ctx).Do(); err != nil {
		return mapError(err)
	}
	return nil
}

func mapError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound, http.StatusGone:
			return ErrNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrAuth, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
