package service

import (
	"context"
	"log"
	"sync"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter decouples services from the transport
// ─────────────────────────────────────────────────────────────

// Events emitted by the services.
const (
	EventDatasetIngested    = "dataset:ingested"
	EventDatasetTransformed = "dataset:transformed"
	EventJobCompleted       = "job:completed"
)

// EventEmitter is an interface for publishing service events.
// Services receive this interface instead of a concrete sink,
// which makes them independently testable with a mock emitter.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// LogEmitter writes every event to the standard logger.
type LogEmitter struct{}

func (LogEmitter) Emit(_ context.Context, event string, data any) {
	log.Printf("event: %s %+v", event, data)
}

// MockEmitter is a test-friendly EventEmitter that records all calls.
// It is safe for concurrent use since cron and watcher callbacks emit from
// their own goroutines.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}

// Recorded returns a copy of the events emitted so far.
func (m *MockEmitter) Recorded() []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EmittedEvent(nil), m.Events...)
}

// Names returns the names of the events emitted so far, in order.
func (m *MockEmitter) Names() []string {
	events := m.Recorded()
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Event
	}
	return names
}
