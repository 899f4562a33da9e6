package tenant

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/codelens/internal/monitor"
)

// Restarter relaunches a tenant. Implemented by the CLI layer, which
// knows how tenants are spawned.
type Restarter interface {
	Restart(ctx context.Context, tenantID string) error
}

// HealthConfig tunes the health monitor.
type HealthConfig struct {
	// Interval between samples per tenant (default 30s).
	Interval time.Duration

	// Thresholds classify samples (default monitor.DefaultThresholds).
	Thresholds monitor.Thresholds

	// MaxRestarts bounds restart attempts per tenant (default 3).
	MaxRestarts int

	// RestartDelay waits between an unhealthy mark and the relaunch
	// (default 10s).
	RestartDelay time.Duration
}

func (c *HealthConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Thresholds == (monitor.Thresholds{}) {
		c.Thresholds = monitor.DefaultThresholds()
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 3
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = 10 * time.Second
	}
}

// HealthMonitor samples every registered tenant on an interval,
// records the results in the registry, marks unhealthy tenants as
// errored, and drives the bounded auto-restarter. Exhausted tenants
// stay errored for the operator.
type HealthMonitor struct {
	registry  *Registry
	restarter Restarter // may be nil: monitor-only mode
	config    HealthConfig
	log       *zap.Logger

	mu       sync.Mutex
	samplers map[string]*monitor.ProcessSampler
	attempts map[string]int

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewHealthMonitor creates a health monitor over the registry.
func NewHealthMonitor(registry *Registry, restarter Restarter, config HealthConfig, log *zap.Logger) *HealthMonitor {
	config.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &HealthMonitor{
		registry:  registry,
		restarter: restarter,
		config:    config,
		log:       log,
		samplers:  make(map[string]*monitor.ProcessSampler),
		attempts:  make(map[string]int),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the monitoring goroutine.
func (h *HealthMonitor) Start() {
	go h.run()
}

// Stop halts monitoring and waits for the goroutine to exit.
func (h *HealthMonitor) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	<-h.done
}

func (h *HealthMonitor) run() {
	defer close(h.done)

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.checkAll()
		}
	}
}

// checkAll samples every running tenant once.
func (h *HealthMonitor) checkAll() {
	running, err := h.registry.ListRunning()
	if err != nil {
		h.log.Warn("health check: cannot list tenants", zap.Error(err))
		return
	}

	for _, rec := range running {
		select {
		case <-h.stopCh:
			return
		default:
		}
		h.checkOne(rec)
	}
}

// checkOne samples one tenant and reacts to its classification.
func (h *HealthMonitor) checkOne(rec Record) {
	if rec.PID == 0 {
		return
	}

	h.mu.Lock()
	sampler, ok := h.samplers[rec.TenantID]
	if !ok {
		sampler = monitor.NewProcessSampler(rec.PID)
		h.samplers[rec.TenantID] = sampler
	}
	h.mu.Unlock()

	snap, err := sampler.Sample()
	if err != nil {
		// Process gone: the registry reap handles removal.
		h.log.Debug("health sample failed",
			zap.String("tenant", rec.TenantID), zap.Error(err))
		return
	}

	if err := h.registry.UpdateHealth(rec.TenantID, snap.RSSMB, snap.CPUPercent); err != nil {
		h.log.Debug("health update failed",
			zap.String("tenant", rec.TenantID), zap.Error(err))
		return
	}

	level := h.config.Thresholds.Classify(snap.RSSMB, snap.CPUPercent)
	switch level {
	case monitor.LevelHealthy:
		h.mu.Lock()
		h.attempts[rec.TenantID] = 0
		h.mu.Unlock()
	case monitor.LevelDegraded:
		h.log.Warn("tenant degraded",
			zap.String("tenant", rec.TenantID),
			zap.Float64("rss_mb", snap.RSSMB),
			zap.Float64("cpu_pct", snap.CPUPercent))
	case monitor.LevelUnhealthy:
		h.handleUnhealthy(rec, snap)
	}
}

// handleUnhealthy marks the tenant errored and attempts a bounded
// restart.
func (h *HealthMonitor) handleUnhealthy(rec Record, snap monitor.Snapshot) {
	h.log.Error("tenant unhealthy",
		zap.String("tenant", rec.TenantID),
		zap.Float64("rss_mb", snap.RSSMB),
		zap.Float64("cpu_pct", snap.CPUPercent))

	if err := h.registry.UpdateStatus(rec.TenantID, StatusError); err != nil {
		h.log.Debug("status update failed", zap.String("tenant", rec.TenantID), zap.Error(err))
	}

	if h.restarter == nil {
		return
	}

	h.mu.Lock()
	attempts := h.attempts[rec.TenantID]
	if attempts >= h.config.MaxRestarts {
		h.mu.Unlock()
		h.log.Error("tenant restart attempts exhausted, leaving errored",
			zap.String("tenant", rec.TenantID), zap.Int("attempts", attempts))
		return
	}
	h.attempts[rec.TenantID] = attempts + 1
	h.mu.Unlock()

	// Sampler state is stale once the process is replaced.
	h.mu.Lock()
	delete(h.samplers, rec.TenantID)
	h.mu.Unlock()

	select {
	case <-h.stopCh:
		return
	case <-time.After(h.config.RestartDelay):
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := h.restarter.Restart(ctx, rec.TenantID); err != nil {
		h.log.Error("tenant restart failed",
			zap.String("tenant", rec.TenantID),
			zap.Int("attempt", attempts+1), zap.Error(err))
		return
	}

	h.log.Info("tenant restarted",
		zap.String("tenant", rec.TenantID), zap.Int("attempt", attempts+1))
	h.mu.Lock()
	h.attempts[rec.TenantID] = 0
	h.mu.Unlock()
}
