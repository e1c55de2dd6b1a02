package outbox

// Appointment lifecycle event types relayed to Kafka.
const (
	EventAppointmentCreated     = "appointment.created.v1"
	EventAppointmentRescheduled = "appointment.rescheduled.v1"
	EventAppointmentCancelled   = "appointment.cancelled.v1"
)

// Event is written in the same transaction as the state change it
// describes; the Publisher relays it afterwards. Losing the process between
// commit and publish loses nothing: the row stays unpublished.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
