package app

import (
	"sync"
)

// StatusUpdate reports one transition of a submitted message. The
// correlation id is supplied by the client and is independent of the
// eventual persisted message id, which appears once known.
type StatusUpdate struct {
	CorrelationID string
	Status        string
	MessageID     string
	Reason        string
}

// StatusBroker delivers message status transitions back to submitters
// over per-correlation-id channels.
type StatusBroker struct {
	mu      sync.Mutex
	streams map[string]chan StatusUpdate
}

func NewStatusBroker() *StatusBroker {
	return &StatusBroker{streams: make(map[string]chan StatusUpdate)}
}

// Watch returns the status stream for a correlation id. The channel is
// buffered for the full transition sequence; Forget releases it.
func (b *StatusBroker) Watch(correlationID string) <-chan StatusUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.streams[correlationID]
	if !ok {
		ch = make(chan StatusUpdate, 8)
		b.streams[correlationID] = ch
	}
	return ch
}

func (b *StatusBroker) Forget(correlationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.streams, correlationID)
}

func (b *StatusBroker) publish(update StatusUpdate) {
	b.mu.Lock()
	ch, ok := b.streams[update.CorrelationID]
	b.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- update:
	default:
		// A submitter that stopped draining loses updates rather than
		// stalling message processing.
	}
}
