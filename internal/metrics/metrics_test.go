package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestCountersAccumulate(t *testing.T) {
	m := New()
	m.Inc(MessagesForwarded)
	m.Inc(MessagesForwarded)
	m.Inc(RoomsCreated)

	if got := m.Get(MessagesForwarded); got != 2 {
		t.Fatalf("Get(MessagesForwarded) = %d; want 2", got)
	}
	if got := m.Get(RoomsCreated); got != 1 {
		t.Fatalf("Get(RoomsCreated) = %d; want 1", got)
	}
	if got := m.Get(RoomJoins); got != 0 {
		t.Fatalf("Get(RoomJoins) = %d; want 0", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MessagesForwarded)
	if got := m.Get(MessagesForwarded); got != 0 {
		t.Fatalf("nil Get = %d", got)
	}
	if snap := m.Snapshot(); len(snap) != 0 {
		t.Fatalf("nil Snapshot = %v", snap)
	}
}

func TestConcurrentInc(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Inc(ConnectionsOpened)
			}
		}()
	}
	wg.Wait()
	if got := m.Get(ConnectionsOpened); got != 800 {
		t.Fatalf("Get = %d; want 800", got)
	}
}

func TestPrometheusExposition(t *testing.T) {
	m := New()
	m.Inc(DropReasonRateLimit)
	m.Inc(DropReasonRateLimit)

	rec := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Result().Body)
	out := string(body)
	if !strings.Contains(out, `neoshare_relay_events_total{event="`+DropReasonRateLimit+`"} 2`) {
		t.Fatalf("exposition missing counter:\n%s", out)
	}
	if ct := rec.Result().Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("Content-Type = %q", ct)
	}
}
