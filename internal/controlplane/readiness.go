// Package controlplane implements the Control Plane (C15) and Auth/Rate
// Limiting (C16): correlation IDs, health/readiness aggregation, metrics
// wiring, and ingress auth.
package controlplane

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gabrielpreston/voxfabric/internal/metrics"
)

// DependencyStatus is the liveness state of one external collaborator.
type DependencyStatus string

const (
	StatusHealthy   DependencyStatus = "healthy"
	StatusDegraded  DependencyStatus = "degraded"
	StatusUnhealthy DependencyStatus = "unhealthy"
)

// Dependency describes one external collaborator this process probes for
// readiness (an ASR/TTS/LLM backend, guardrail sidecar, Qdrant, the
// session store, etc). Repurposed from the teacher's orchestrator.ServiceMeta,
// which tracked ML-sidecar Docker Compose lifecycle; this process never
// starts or stops its dependencies, only probes them.
type Dependency struct {
	Name      string
	HealthURL string
	Required  bool // if true, an unhealthy probe fails readiness overall
}

// HealthCheck reports one dependency's last-probed state.
type HealthCheck struct {
	Name      string           `json:"name"`
	Status    DependencyStatus `json:"status"`
	Required  bool             `json:"required"`
	CheckedAt time.Time        `json:"checked_at"`
}

// Prober periodically polls registered dependencies over HTTP and caches
// the result, adapted from the teacher's HTTPControlManager.probeHealth
// (GET + 200-is-healthy) and Registry (name -> metadata lookup), stripped
// of the start/stop lifecycle management that ML sidecar orchestration
// needed but this fabric's control plane does not.
type Prober struct {
	mu           sync.RWMutex
	deps         []Dependency
	results      map[string]HealthCheck
	httpClient   *http.Client
	probeTimeout time.Duration
}

// NewProber builds a Prober over deps.
func NewProber(deps []Dependency) *Prober {
	return &Prober{
		deps:         deps,
		results:      make(map[string]HealthCheck),
		httpClient:   &http.Client{Timeout: 3 * time.Second},
		probeTimeout: 3 * time.Second,
	}
}

// ProbeAll polls every dependency's health URL once, updating the cached
// results and the dependency_health_status gauge.
func (p *Prober) ProbeAll(ctx context.Context) {
	for _, dep := range p.deps {
		status := p.probeOne(ctx, dep)
		check := HealthCheck{Name: dep.Name, Status: status, Required: dep.Required, CheckedAt: time.Now()}

		p.mu.Lock()
		p.results[dep.Name] = check
		p.mu.Unlock()

		gaugeValue := 0.0
		if status == StatusHealthy {
			gaugeValue = 1.0
		}
		metrics.HealthStatus.WithLabelValues(dep.Name).Set(gaugeValue)
	}
}

func (p *Prober) probeOne(ctx context.Context, dep Dependency) DependencyStatus {
	if dep.HealthURL == "" {
		return StatusDegraded
	}
	probeCtx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, dep.HealthURL, nil)
	if err != nil {
		return StatusUnhealthy
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return StatusUnhealthy
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return StatusHealthy
	}
	return StatusUnhealthy
}

// Run probes every dependency at interval until ctx is done.
func (p *Prober) Run(ctx context.Context, interval time.Duration) {
	p.ProbeAll(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// Live reports process liveness: always true once the process can answer.
func (p *Prober) Live() bool { return true }

// Ready reports whether every required dependency is currently healthy.
func (p *Prober) Ready() (bool, []HealthCheck) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	checks := make([]HealthCheck, 0, len(p.deps))
	ready := true
	for _, dep := range p.deps {
		check, ok := p.results[dep.Name]
		if !ok {
			check = HealthCheck{Name: dep.Name, Status: StatusUnhealthy, Required: dep.Required}
		}
		checks = append(checks, check)
		if dep.Required && check.Status != StatusHealthy {
			ready = false
		}
	}
	return ready, checks
}
