package netstatus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tapin/tapin-go/internal/bus"
	"go.uber.org/zap"
)

func TestHealthyBackendIsOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger, _ := zap.NewDevelopment()
	m := NewMonitor(srv.URL, bus.New(), logger)

	if got := m.CheckNow(context.Background()); got != Online {
		t.Errorf("status = %q, want online", got)
	}
}

func TestNon2xxIsDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	logger, _ := zap.NewDevelopment()
	m := NewMonitor(srv.URL, bus.New(), logger)

	if got := m.CheckNow(context.Background()); got != Degraded {
		t.Errorf("status = %q, want degraded", got)
	}
}

func TestUnreachableBackendIsOffline(t *testing.T) {
	// Closed server: connection refused, not a timeout.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()

	logger, _ := zap.NewDevelopment()
	m := NewMonitor(url, bus.New(), logger)

	if got := m.CheckNow(context.Background()); got != Offline {
		t.Errorf("status = %q, want offline", got)
	}
}

func TestSlowBackendIsDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(150 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger, _ := zap.NewDevelopment()
	// A client timeout below the handler delay behaves like the probe
	// deadline firing.
	m := NewMonitor(srv.URL, bus.New(), logger,
		WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))

	if got := m.CheckNow(context.Background()); got != Degraded {
		t.Errorf("status = %q, want degraded on timeout", got)
	}
}

func TestConnectivityLossForcesOfflineWithoutProbe(t *testing.T) {
	probed := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		probed = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger, _ := zap.NewDevelopment()
	m := NewMonitor(srv.URL, bus.New(), logger)

	m.SetConnectivity(false, "none")
	if got := m.Status(); got != Offline {
		t.Errorf("status = %q, want offline", got)
	}
	if got := m.CheckNow(context.Background()); got != Offline {
		t.Errorf("CheckNow = %q, want offline while disconnected", got)
	}
	if probed {
		t.Error("probe must be skipped while platform reports no connectivity")
	}
	if m.ConnectionType() != "none" {
		t.Errorf("connection type = %q, want none", m.ConnectionType())
	}
}

func TestTransitionPublishesEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := bus.New()
	ch, unsub := b.Subscribe("net.", 10)
	defer unsub()

	logger, _ := zap.NewDevelopment()
	m := NewMonitor(srv.URL, b, logger)

	m.SetConnectivity(false, "")
	select {
	case evt := <-ch:
		change, ok := evt.Payload.(StatusChange)
		if !ok || change.To != Offline {
			t.Errorf("payload = %v, want transition to offline", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for net.status_changed")
	}

	// Same-status probes must not re-publish.
	m.SetConnectivity(false, "")
	select {
	case evt := <-ch:
		t.Errorf("unexpected event for unchanged status: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReconnectTriggersImmediateProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger, _ := zap.NewDevelopment()
	m := NewMonitor(srv.URL, bus.New(), logger, WithInterval(time.Hour))
	m.Start(context.Background())
	defer m.Stop()

	m.SetConnectivity(false, "")
	if m.Status() != Offline {
		t.Fatalf("status = %q, want offline", m.Status())
	}

	m.SetConnectivity(true, "wifi")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status() == Online {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status = %q, want online after reconnect kick", m.Status())
}
