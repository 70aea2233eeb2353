package channels

import (
	"context"
	"testing"

	"github.com/nexuscore/agentcore/pkg/models"
)

func TestMetrics_RecordersIncrementCounters(t *testing.T) {
	m := NewMetrics(models.ChannelSlack)
	m.RecordMessageSent()
	m.RecordMessageSent()
	m.RecordMessageReceived()
	m.RecordMessageFailed()
	m.RecordConnectionOpened()
	m.RecordConnectionClosed()
	m.RecordReconnectAttempt()

	snap := m.Snapshot()
	if snap.ChannelType != models.ChannelSlack {
		t.Fatalf("unexpected channel type: %v", snap.ChannelType)
	}
	if snap.MessagesSent != 2 || snap.MessagesReceived != 1 || snap.MessagesFailed != 1 {
		t.Fatalf("unexpected message counters: %+v", snap)
	}
	if snap.ConnectionsOpened != 1 || snap.ConnectionsClosed != 1 || snap.ReconnectAttempts != 1 {
		t.Fatalf("unexpected connection counters: %+v", snap)
	}
}

func TestBaseHealthAdapter_StatusRoundTrip(t *testing.T) {
	b := NewBaseHealthAdapter(models.ChannelDiscord)

	status := b.Status()
	if status.Connected {
		t.Fatalf("expected a new adapter to start disconnected")
	}

	b.SetStatus(true, "")
	if !b.Status().Connected {
		t.Fatalf("expected status to report connected")
	}

	b.SetStatus(false, "boom")
	status = b.Status()
	if status.Connected || status.Error != "boom" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestBaseHealthAdapter_UpdateLastPingPreservesConnectedState(t *testing.T) {
	b := NewBaseHealthAdapter(models.ChannelDiscord)
	b.SetStatus(true, "")
	before := b.Status().LastPing

	b.UpdateLastPing()
	after := b.Status()
	if !after.Connected {
		t.Fatalf("expected UpdateLastPing to preserve the connected state")
	}
	if after.LastPing < before {
		t.Fatalf("expected last ping to advance")
	}
}

func TestBaseHealthAdapter_DegradedToggle(t *testing.T) {
	b := NewBaseHealthAdapter(models.ChannelDiscord)
	if b.IsDegraded() {
		t.Fatalf("expected a new adapter to start non-degraded")
	}
	b.SetDegraded(true)
	if !b.IsDegraded() {
		t.Fatalf("expected degraded to be true")
	}
	b.SetDegraded(false)
	if b.IsDegraded() {
		t.Fatalf("expected degraded to be false")
	}
}

func TestBaseHealthAdapter_HealthCheck(t *testing.T) {
	b := NewBaseHealthAdapter(models.ChannelDiscord)

	unhealthy := b.HealthCheck(context.Background())
	if unhealthy.Healthy {
		t.Fatalf("expected an unconnected adapter to be unhealthy")
	}

	b.SetStatus(true, "")
	healthy := b.HealthCheck(context.Background())
	if !healthy.Healthy || healthy.Degraded {
		t.Fatalf("expected a connected, non-degraded adapter to be healthy: %+v", healthy)
	}

	b.SetDegraded(true)
	degraded := b.HealthCheck(context.Background())
	if degraded.Healthy || !degraded.Degraded {
		t.Fatalf("expected a degraded adapter to report unhealthy and degraded: %+v", degraded)
	}
}

func TestBaseHealthAdapter_RecordersDelegateToMetrics(t *testing.T) {
	b := NewBaseHealthAdapter(models.ChannelDiscord)
	b.RecordMessageSent()
	b.RecordMessageReceived()
	b.RecordMessageFailed()
	b.RecordConnectionOpened()
	b.RecordConnectionClosed()
	b.RecordReconnectAttempt()

	snap := b.Metrics()
	if snap.MessagesSent != 1 || snap.MessagesReceived != 1 || snap.MessagesFailed != 1 {
		t.Fatalf("unexpected metrics snapshot: %+v", snap)
	}
	if snap.ConnectionsOpened != 1 || snap.ConnectionsClosed != 1 || snap.ReconnectAttempts != 1 {
		t.Fatalf("unexpected metrics snapshot: %+v", snap)
	}
}
