package channels

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexuscore/agentcore/pkg/models"
)

// MetricsSnapshot is a point-in-time view of an adapter's counters.
type MetricsSnapshot struct {
	ChannelType       models.ChannelType `json:"channel_type"`
	MessagesSent      uint64             `json:"messages_sent"`
	MessagesReceived  uint64             `json:"messages_received"`
	MessagesFailed    uint64             `json:"messages_failed"`
	ConnectionsOpened uint64             `json:"connections_opened"`
	ConnectionsClosed uint64             `json:"connections_closed"`
	ReconnectAttempts uint64             `json:"reconnect_attempts"`
	Uptime            time.Duration      `json:"uptime"`
}

// Metrics tracks message and connection counters for one channel adapter.
type Metrics struct {
	messagesSent      atomic.Uint64
	messagesReceived  atomic.Uint64
	messagesFailed    atomic.Uint64
	connectionsOpened atomic.Uint64
	connectionsClosed atomic.Uint64
	reconnectAttempts atomic.Uint64

	channelType models.ChannelType
	startTime   time.Time
}

// NewMetrics creates a zeroed Metrics for a channel adapter.
func NewMetrics(channelType models.ChannelType) *Metrics {
	return &Metrics{channelType: channelType, startTime: time.Now()}
}

func (m *Metrics) RecordMessageSent()      { m.messagesSent.Add(1) }
func (m *Metrics) RecordMessageReceived()  { m.messagesReceived.Add(1) }
func (m *Metrics) RecordMessageFailed()    { m.messagesFailed.Add(1) }
func (m *Metrics) RecordConnectionOpened() { m.connectionsOpened.Add(1) }
func (m *Metrics) RecordConnectionClosed() { m.connectionsClosed.Add(1) }
func (m *Metrics) RecordReconnectAttempt() { m.reconnectAttempts.Add(1) }

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		ChannelType:       m.channelType,
		MessagesSent:      m.messagesSent.Load(),
		MessagesReceived:  m.messagesReceived.Load(),
		MessagesFailed:    m.messagesFailed.Load(),
		ConnectionsOpened: m.connectionsOpened.Load(),
		ConnectionsClosed: m.connectionsClosed.Load(),
		ReconnectAttempts: m.reconnectAttempts.Load(),
		Uptime:            time.Since(m.startTime),
	}
}

// BaseHealthAdapter provides shared status/metrics/degraded-state tracking
// that concrete channel adapters embed to satisfy channels.HealthAdapter.
type BaseHealthAdapter struct {
	channelType models.ChannelType

	status   Status
	statusMu sync.RWMutex

	degraded atomic.Bool
	metrics  *Metrics
}

// NewBaseHealthAdapter creates a base health adapter with initialized metrics.
func NewBaseHealthAdapter(channelType models.ChannelType) *BaseHealthAdapter {
	return &BaseHealthAdapter{
		channelType: channelType,
		status:      Status{Connected: false},
		metrics:     NewMetrics(channelType),
	}
}

// Status returns the current connection status.
func (b *BaseHealthAdapter) Status() Status {
	b.statusMu.RLock()
	defer b.statusMu.RUnlock()
	return b.status
}

// SetStatus updates the connection status and last ping time.
func (b *BaseHealthAdapter) SetStatus(connected bool, errMsg string) {
	b.statusMu.Lock()
	defer b.statusMu.Unlock()
	b.status = Status{Connected: connected, Error: errMsg, LastPing: time.Now().Unix()}
}

// UpdateLastPing refreshes the last ping timestamp without changing state.
func (b *BaseHealthAdapter) UpdateLastPing() {
	b.statusMu.Lock()
	defer b.statusMu.Unlock()
	b.status.LastPing = time.Now().Unix()
}

// SetDegraded marks the adapter as degraded (connected but reduced functionality).
func (b *BaseHealthAdapter) SetDegraded(value bool) {
	b.degraded.Store(value)
}

// IsDegraded reports whether the adapter is in degraded mode.
func (b *BaseHealthAdapter) IsDegraded() bool {
	return b.degraded.Load()
}

// Metrics returns a snapshot of adapter metrics.
func (b *BaseHealthAdapter) Metrics() MetricsSnapshot {
	if b.metrics == nil {
		return MetricsSnapshot{ChannelType: b.channelType}
	}
	return b.metrics.Snapshot()
}

func (b *BaseHealthAdapter) RecordMessageSent()      { b.metrics.RecordMessageSent() }
func (b *BaseHealthAdapter) RecordMessageReceived()  { b.metrics.RecordMessageReceived() }
func (b *BaseHealthAdapter) RecordMessageFailed()    { b.metrics.RecordMessageFailed() }
func (b *BaseHealthAdapter) RecordConnectionOpened() { b.metrics.RecordConnectionOpened() }
func (b *BaseHealthAdapter) RecordConnectionClosed() { b.metrics.RecordConnectionClosed() }
func (b *BaseHealthAdapter) RecordReconnectAttempt() { b.metrics.RecordReconnectAttempt() }

// HealthCheck reports whether the adapter is connected and not degraded.
func (b *BaseHealthAdapter) HealthCheck(ctx context.Context) HealthStatus {
	status := b.Status()
	return HealthStatus{
		Healthy:   status.Connected && !b.IsDegraded(),
		Degraded:  b.IsDegraded(),
		Message:   status.Error,
		LastCheck: time.Now(),
	}
}
