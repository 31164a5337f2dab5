package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/clinicdesk/clinic-scheduler/internal/availability"
)

var (
	// ErrUnavailable covers timeouts and transport failures; callers recover
	// by taking the fallback path.
	ErrUnavailable = errors.New("remote calendar unavailable")
	ErrAuth        = errors.New("remote calendar authorization failed")
	ErrNotFound    = errors.New("remote calendar event not found")
)

// Event is the payload for a remote calendar entry.
type Event struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Gateway abstracts the external calendar service. CreateEvent must be
// idempotent under retry with the same idempotency key: a duplicate create
// returns the existing event's ref instead of producing a second event.
type Gateway interface {
	ListBusy(ctx context.Context, from, to time.Time) ([]availability.Interval, error)
	CreateEvent(ctx context.Context, ev Event, idempotencyKey string) (string, error)
	DeleteEvent(ctx context.Context, ref string) error
}

// Unavailable is the gateway used when no calendar credentials are configured.
// Every call fails with ErrUnavailable, so the engine runs permanently in
// degraded mode against the fallback store.
type Unavailable struct{}

func (Unavailable) ListBusy(context.Context, time.Time, time.Time) ([]availability.Interval, error) {
	return nil, ErrUnavailable
}

func (Unavailable) CreateEvent(context.Context, Event, string) (string, error) {
	return "", ErrUnavailable
}

func (Unavailable) DeleteEvent(context.Context, string) error {
	return ErrUnavailable
}
