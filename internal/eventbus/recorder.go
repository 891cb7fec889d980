package eventbus

import "context"

// Recorder stages events produced inside a single store transaction. The
// store opens one Recorder per transaction, passes it to whichever
// mutating methods run within that transaction, and calls Flush only
// after the transaction has committed successfully. If the transaction
// fails, the Recorder is simply discarded and Flush is never called —
// this is how spec.md §4.2's "accepts events during a transaction and
// flushes them after commit succeeds" is implemented without the bus
// itself knowing anything about transactions.
type Recorder struct {
	bus    *Bus
	events []Event
}

// NewRecorder creates a Recorder bound to bus.
func NewRecorder(bus *Bus) *Recorder {
	return &Recorder{bus: bus}
}

// Stage appends an event to be published once the owning transaction
// commits. Staging never fails and never blocks.
func (r *Recorder) Stage(topic Topic, payload any) {
	r.events = append(r.events, Event{Topic: topic, Payload: payload})
}

// Flush publishes every staged event, in staging order, and clears the
// buffer. Call this exactly once, after the owning transaction commits.
func (r *Recorder) Flush(ctx context.Context) {
	for _, e := range r.events {
		r.bus.Publish(ctx, e)
	}
	r.events = nil
}

// Discard drops every staged event without publishing. Call this when the
// owning transaction rolled back.
func (r *Recorder) Discard() {
	r.events = nil
}
