package observability

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Stats aggregates the chat runtime counters for logging and inspection.
type Stats struct {
	ConnectionsOpen  int64   `json:"connections_open"`
	MessagesAccepted uint64  `json:"messages_accepted"`
	MessageRate      float64 `json:"message_rate"` // messages/s since the last refresh
	Deliveries       uint64  `json:"deliveries"`
	DeliveryFailures uint64  `json:"delivery_failures"`
	AllocMemMb       uint64  `json:"alloc_mem_mb"`
	NumGC            uint32  `json:"num_gc"`
}

// Monitor collects runtime counters from the gateway and the fanout
// pipeline. Counters are atomic; Refresh folds them into a consistent
// snapshot with derived rates.
type Monitor struct {
	log *slog.Logger

	connectionsOpen  atomic.Int64
	messagesAccepted atomic.Uint64
	deliveries       atomic.Uint64
	deliveryFailures atomic.Uint64

	mu           sync.RWMutex
	latest       Stats
	lastCheck    time.Time
	lastAccepted uint64
}

func NewMonitor(log *slog.Logger) *Monitor {
	return &Monitor{log: log, lastCheck: time.Now()}
}

func (m *Monitor) ConnectionOpened() { m.connectionsOpen.Add(1) }
func (m *Monitor) ConnectionClosed() { m.connectionsOpen.Add(-1) }
func (m *Monitor) MessageAccepted()  { m.messagesAccepted.Add(1) }
func (m *Monitor) EventDelivered()   { m.deliveries.Add(1) }
func (m *Monitor) DeliveryFailed()   { m.deliveryFailures.Add(1) }

// Refresh recomputes the snapshot: cumulative counters, the message rate
// over the elapsed window, and Go memory stats.
func (m *Monitor) Refresh() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	duration := now.Sub(m.lastCheck).Seconds()
	accepted := m.messagesAccepted.Load()
	if duration > 0 {
		m.latest.MessageRate = float64(accepted-m.lastAccepted) / duration
	}
	m.lastCheck = now
	m.lastAccepted = accepted

	m.latest.ConnectionsOpen = m.connectionsOpen.Load()
	m.latest.MessagesAccepted = accepted
	m.latest.Deliveries = m.deliveries.Load()
	m.latest.DeliveryFailures = m.deliveryFailures.Load()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.latest.AllocMemMb = memStats.Alloc / 1024 / 1024
	m.latest.NumGC = memStats.NumGC

	m.log.Debug("Stats refreshed",
		"connections", m.latest.ConnectionsOpen,
		"accepted", m.latest.MessagesAccepted,
		"rate", m.latest.MessageRate,
	)
	return m.latest
}

// Latest returns the snapshot from the last Refresh without recomputing.
func (m *Monitor) Latest() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}
