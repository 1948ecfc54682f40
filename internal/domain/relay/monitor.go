package relay

import (
	"context"
	"sync"

	"github.com/matiasleandrokruk/velune/internal/infra/eventbus"
)

// Stats are lifetime session totals.
type Stats struct {
	Opened    int64 `json:"opened"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// Monitor tallies lifecycle events. Totals are best-effort: the bus drops
// events for a monitor that falls behind.
type Monitor struct {
	mu    sync.Mutex
	stats Stats

	opened, closed         <-chan eventbus.Event
	stopOpened, stopClosed func()
}

// NewMonitor subscribes to bus immediately; events are counted once Run starts.
func NewMonitor(bus eventbus.EventBus) *Monitor {
	m := &Monitor{}
	m.opened, m.stopOpened = bus.Subscribe(TopicSessionOpened)
	m.closed, m.stopClosed = bus.Subscribe(TopicSessionClosed)
	return m
}

// Run consumes lifecycle events until ctx ends or the bus closes, then unsubscribes.
func (m *Monitor) Run(ctx context.Context) {
	defer m.stopOpened()
	defer m.stopClosed()

	opened, closed := m.opened, m.closed
	for opened != nil || closed != nil {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-opened:
			if !ok {
				opened = nil
				continue
			}
			m.record(evt)
		case evt, ok := <-closed:
			if !ok {
				closed = nil
				continue
			}
			m.record(evt)
		}
	}
}

// Snapshot returns the current totals.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Monitor) record(evt eventbus.Event) {
	se, ok := evt.Payload.(SessionEvent)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if evt.Topic == TopicSessionOpened {
		m.stats.Opened++
		return
	}
	switch se.State {
	case StateCompleted:
		m.stats.Completed++
	case StateFailed:
		m.stats.Failed++
	case StateCancelled:
		m.stats.Cancelled++
	}
}
