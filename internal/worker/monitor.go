package worker

import (
	"sync"
	"time"

	"github.com/raaihank/log-sentinel/internal/websocket"
)

// Broadcaster receives every event emitted by a monitor
type Broadcaster interface {
	BroadcastEvent(event websocket.Event)
}

// Monitor records the progress of one running report. Late subscribers
// replay History before following live events.
type Monitor struct {
	id     string
	hub    Broadcaster
	mu     sync.RWMutex
	events []websocket.Event
	done   chan struct{}
}

func newMonitor(id string, hub Broadcaster) *Monitor {
	return &Monitor{id: id, hub: hub, done: make(chan struct{})}
}

// ID returns the report id
func (m *Monitor) ID() string {
	return m.id
}

// History returns a copy of the events emitted so far
func (m *Monitor) History() []websocket.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]websocket.Event(nil), m.events...)
}

// Done is closed once the report reached a final status
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

func (m *Monitor) emit(eventType websocket.EventType, data interface{}) {
	event := websocket.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		ReportID:  m.id,
		Data:      data,
	}

	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()

	if m.hub != nil {
		m.hub.BroadcastEvent(event)
	}
}

func (m *Monitor) progress(stage, message string, sources, lines int) {
	m.emit(websocket.EventTypeReportProgress, websocket.ProgressEvent{
		Stage:   stage,
		Message: message,
		Sources: sources,
		Lines:   lines,
	})
}

func (m *Monitor) status(status string, anomalies int, errMsg string) {
	m.emit(websocket.EventTypeReportStatus, websocket.StatusEvent{
		Status:    status,
		Anomalies: anomalies,
		Error:     errMsg,
	})
}
