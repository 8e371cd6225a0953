// Package netstatus classifies the link to the backend as online, degraded
// or offline. It only classifies; retry and backoff logic lives in the
// consumers that read the status.
package netstatus

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tapin/tapin-go/internal/bus"
	"go.uber.org/zap"
)

// Status is the current network quality classification.
type Status string

const (
	Online   Status = "online"
	Degraded Status = "degraded"
	Offline  Status = "offline"
)

// StatusChange is the payload for net.status_changed events.
type StatusChange struct {
	From Status
	To   Status
}

const (
	defaultInterval  = 30 * time.Second
	probeTimeout     = 5 * time.Second
	latencyThreshold = 2 * time.Second
)

// Monitor polls the backend health endpoint and mirrors the platform
// connectivity signal into a single status consumers read synchronously.
type Monitor struct {
	baseURL  string
	client   *http.Client
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration

	mu        sync.RWMutex
	current   Status
	connType  string
	connected bool

	kick   chan struct{}
	cancel context.CancelFunc
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval overrides the probe interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithHTTPClient overrides the probe HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) { m.client = c }
}

// NewMonitor creates a monitor probing {baseURL}/api/health.
func NewMonitor(baseURL string, b *bus.Bus, logger *zap.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		baseURL:   baseURL,
		client:    &http.Client{},
		bus:       b,
		logger:    logger,
		interval:  defaultInterval,
		current:   Online,
		connType:  "unknown",
		connected: true,
		kick:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status returns the current classification.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// ConnectionType returns the coarse platform connection label, when known.
func (m *Monitor) ConnectionType() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connType
}

// SetConnectivity mirrors the platform connectivity signal. Losing physical
// connectivity forces offline without a probe; regaining it triggers an
// immediate probe.
func (m *Monitor) SetConnectivity(connected bool, connType string) {
	m.mu.Lock()
	m.connected = connected
	if connType != "" {
		m.connType = connType
	}
	m.mu.Unlock()

	if !connected {
		m.setStatus(Offline)
		return
	}
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Start begins the periodic probe loop.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
}

// Stop stops the probe loop.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Monitor) loop(ctx context.Context) {
	m.CheckNow(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CheckNow(ctx)
		case <-m.kick:
			m.CheckNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckNow performs one bounded health probe and updates the status.
func (m *Monitor) CheckNow(ctx context.Context) Status {
	m.mu.RLock()
	connected := m.connected
	m.mu.RUnlock()
	if !connected {
		m.setStatus(Offline)
		return Offline
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, m.baseURL+"/api/health", nil)
	if err != nil {
		m.setStatus(Offline)
		return Offline
	}
	req.Header.Set("Cache-Control", "no-store")

	start := time.Now()
	resp, err := m.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		status := classifyProbeError(err)
		m.logger.Warn("health probe failed",
			zap.Error(err),
			zap.String("status", string(status)))
		m.setStatus(status)
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	status := Online
	switch {
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		status = Degraded
	case latency > latencyThreshold:
		status = Degraded
	}
	m.setStatus(status)
	return status
}

// classifyProbeError maps a transport failure to a status: a timeout means
// the backend is slow but the link may be up (degraded); anything else is
// treated as no route to the backend (offline).
func classifyProbeError(err error) Status {
	if errors.Is(err, context.DeadlineExceeded) {
		return Degraded
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Degraded
	}
	return Offline
}

func (m *Monitor) setStatus(to Status) {
	m.mu.Lock()
	from := m.current
	m.current = to
	m.mu.Unlock()

	if from == to {
		return
	}
	m.logger.Info("network status changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "net.status_changed",
			Timestamp: time.Now(),
			Payload:   StatusChange{From: from, To: to},
		})
	}
}
