package outbox

// Event is a domain event recorded in the outbox table, always in the same
// transaction as the domain write it describes.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
