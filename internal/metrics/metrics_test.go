package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}
	if m.ChannelsActive == nil || m.KeepalivesSent == nil || m.FramesSent == nil {
		t.Error("metrics not initialized")
	}
}

func TestRecordChannelOpenClose(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordChannelOpen("outbound", 0.01)
	m.RecordChannelOpen("inbound", 0.02)

	if got := testutil.ToFloat64(m.ChannelsActive); got != 2 {
		t.Errorf("ChannelsActive = %v, want 2", got)
	}

	m.RecordChannelClose("keepalive_timeout")
	if got := testutil.ToFloat64(m.ChannelsActive); got != 1 {
		t.Errorf("ChannelsActive after close = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ChannelsClosed.WithLabelValues("keepalive_timeout")); got != 1 {
		t.Errorf("ChannelsClosed[keepalive_timeout] = %v, want 1", got)
	}
}

func TestRecordFrames(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordFrameSent("PING", 6)
	m.RecordFrameSent("DATA", 100)
	m.RecordFrameReceived("PONG", 6)

	if got := testutil.ToFloat64(m.FramesSent.WithLabelValues("PING")); got != 1 {
		t.Errorf("FramesSent[PING] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BytesSent); got != 106 {
		t.Errorf("BytesSent = %v, want 106", got)
	}
	if got := testutil.ToFloat64(m.BytesReceived); got != 6 {
		t.Errorf("BytesReceived = %v, want 6", got)
	}
}

func TestRecordSendReject(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordSendReject("address_mismatch")
	m.RecordSendReject("address_mismatch")
	m.RecordSendReject("not_connected")

	if got := testutil.ToFloat64(m.SendRejects.WithLabelValues("address_mismatch")); got != 2 {
		t.Errorf("SendRejects[address_mismatch] = %v, want 2", got)
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Error("Default should return the same instance")
	}
}
