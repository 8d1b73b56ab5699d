package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	p := NewPrometheus(reg)

	p.AddConnection(80, "http")
	p.AddConnection(80, "http")
	p.AddConnection(443, "connect")
	p.RemoveConnection(80)
	p.AddError("dial")
	p.AddRelayedBytes(10, 0)
	p.AddRelayedBytes(5, 7)
	p.ObserveHandshake(0.01)

	if got := testutil.ToFloat64(p.TotalConnection.WithLabelValues("80", "http")); got != 2 {
		t.Errorf("connections{80,http}=%v", got)
	}
	if got := testutil.ToFloat64(p.TotalConnection.WithLabelValues("443", "connect")); got != 1 {
		t.Errorf("connections{443,connect}=%v", got)
	}
	if got := testutil.ToFloat64(p.CurrentConnection.WithLabelValues("80")); got != 1 {
		t.Errorf("active{80}=%v", got)
	}
	if got := testutil.ToFloat64(p.TotalError.WithLabelValues("dial")); got != 1 {
		t.Errorf("errors{dial}=%v", got)
	}
	if got := testutil.ToFloat64(p.TotalRelayedBytes.WithLabelValues("sent")); got != 15 {
		t.Errorf("bytes{sent}=%v", got)
	}
	if got := testutil.ToFloat64(p.TotalRelayedBytes.WithLabelValues("received")); got != 7 {
		t.Errorf("bytes{received}=%v", got)
	}

	n, err := testutil.GatherAndCount(reg, "transproxy_handshake_duration_seconds")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("handshake histogram series=%d", n)
	}
}

func TestEmptyIsMetrics(t *testing.T) {
	t.Parallel()

	var m Metrics = Empty{}
	m.AddConnection(80, "http")
	m.RemoveConnection(80)
	m.AddError("x")
	m.AddRelayedBytes(1, 1)
	m.ObserveHandshake(1)
}
