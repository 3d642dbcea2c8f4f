// Package health probes the configured inference endpoints in the background
// so readiness reporting does not block on a slow model server.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ingestkit/docbridge/internal/config"
)

// EndpointStatus is the latest probe result for one model endpoint.
type EndpointStatus struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

type target struct {
	name string
	url  string
}

// Monitor periodically probes model endpoints and caches the results.
type Monitor struct {
	client    *http.Client
	interval  time.Duration
	targets   []target
	startOnce sync.Once

	mu       sync.RWMutex
	statuses map[string]EndpointStatus
}

// NewMonitor builds a monitor over the configured inference endpoints.
func NewMonitor(cfg config.InferenceConfig) *Monitor {
	targets := []target{
		{name: "deplot", url: probeURL(cfg.Deplot)},
		{name: "doughnut", url: probeURL(cfg.Doughnut)},
	}
	return &Monitor{
		client:   &http.Client{Timeout: 5 * time.Second},
		interval: time.Minute,
		targets:  targets,
		statuses: make(map[string]EndpointStatus),
	}
}

// probeURL picks the readiness path matching the endpoint's wire protocol.
func probeURL(cfg config.ModelEndpointConfig) string {
	base := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if base == "" {
		return ""
	}
	if cfg.Protocol == "grpc" {
		return base + "/v2/health/ready"
	}
	return base + "/v1/models"
}

// Start begins the probe loop until ctx is canceled. Safe to call once.
func (m *Monitor) Start(ctx context.Context) {
	if m == nil {
		return
	}
	m.startOnce.Do(func() {
		go m.run(ctx)
	})
}

func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range m.targets {
		if t.url == "" {
			continue
		}
		wg.Add(1)
		go func(t target) {
			defer wg.Done()
			m.record(t.name, m.probe(ctx, t.url))
		}(t)
	}
	wg.Wait()
}

func (m *Monitor) probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (m *Monitor) record(name string, err error) {
	status := EndpointStatus{Healthy: err == nil, CheckedAt: time.Now().UTC()}
	if err != nil {
		slog.Warn("model endpoint probe failed", "endpoint", name, "error", err)
		status.Error = err.Error()
	}
	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()
}

// Statuses returns a copy of the latest probe results. Endpoints that were
// never probed are absent.
func (m *Monitor) Statuses() map[string]EndpointStatus {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]EndpointStatus, len(m.statuses))
	for name, status := range m.statuses {
		out[name] = status
	}
	return out
}
