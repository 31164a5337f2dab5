package scheduling

import (
	"errors"
	"fmt"

	"github.com/clinicdesk/clinic-scheduler/internal/availability"
	"github.com/clinicdesk/clinic-scheduler/internal/model"
)

// Validation errors are returned synchronously for the dialogue layer to
// phrase back to the patient; they are never retried automatically.
var (
	ErrUnknownService       = errors.New("unknown service type")
	ErrInvalidRange         = errors.New("invalid date range")
	ErrPastDate             = errors.New("requested time is in the past")
	ErrOutsideBusinessHours = errors.New("requested time is outside business hours")
	ErrSlotTaken            = errors.New("slot already booked")
	ErrNotFound             = model.ErrNotFound
)

// SlotTakenError rejects a booking attempt for an occupied slot and carries a
// few free alternatives from the same day for the dialogue layer to offer.
type SlotTakenError struct {
	Alternatives []availability.Interval
}

func (e *SlotTakenError) Error() string {
	if len(e.Alternatives) == 0 {
		return ErrSlotTaken.Error()
	}
	return fmt.Sprintf("%s (%d alternatives available)", ErrSlotTaken.Error(), len(e.Alternatives))
}

func (e *SlotTakenError) Unwrap() error {
	return ErrSlotTaken
}
