package messaging

// Stream, subject and consumer names for the event pipeline. The ingest
// service publishes validated envelopes to SubjectEventsRaw; the analytics
// consumer reads them through the EventsConsumer durable.
const (
	// EventsStreamName is the durable stream capturing raw event envelopes.
	EventsStreamName = "AEGIS_EVENTS"

	// SubjectEventsRaw carries validated event envelopes awaiting processing.
	SubjectEventsRaw = "aegis.events.raw"

	// EventsConsumerName is the durable consumer the analytics service uses.
	EventsConsumerName = "events-raw"
)
