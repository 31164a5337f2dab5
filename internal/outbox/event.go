package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Appointment lifecycle event types emitted by the scheduler.
const (
	EventBooked     = "scheduler.appointment.booked.v1"
	EventCancelled  = "scheduler.appointment.cancelled.v1"
	EventReconciled = "scheduler.appointment.reconciled.v1"
)
