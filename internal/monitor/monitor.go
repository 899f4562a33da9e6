package monitor

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Callback receives a snapshot on a threshold edge. Callbacks run
// inline on the sampler goroutine and must not block.
type Callback func(Snapshot)

// Config tunes the in-process resource monitor.
type Config struct {
	// Interval between samples (default 10s).
	Interval time.Duration

	// HistorySize bounds the rolling snapshot history (default 100).
	HistorySize int

	// Thresholds classify samples (default DefaultThresholds).
	Thresholds Thresholds

	// OnWarning fires once per excursion above the warning threshold.
	OnWarning Callback

	// OnCritical fires once per excursion above the critical threshold.
	OnCritical Callback
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = DefaultThresholds()
	}
}

// Monitor samples the broker's own process on a background goroutine,
// keeping a bounded ring of snapshots and firing edge-triggered
// warning/critical callbacks. A callback fires once on the first
// breach; the trigger re-arms after usage stays below the warning
// threshold for a full sample.
type Monitor struct {
	config  Config
	sampler *ProcessSampler
	log     *zap.Logger

	mu      sync.Mutex
	history []Snapshot
	next    int
	filled  bool

	warnedWarning  bool
	warnedCritical bool

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a monitor for the current process.
func New(config Config, log *zap.Logger) *Monitor {
	config.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		config:  config,
		sampler: NewProcessSampler(os.Getpid()),
		log:     log,
		history: make([]Snapshot, config.HistorySize),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the sampling goroutine.
func (m *Monitor) Start() {
	go m.run()
}

// Stop halts sampling and waits for the goroutine to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
}

func (m *Monitor) run() {
	defer close(m.done)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sampleOnce()
		}
	}
}

func (m *Monitor) sampleOnce() {
	snap, err := m.sampler.Sample()
	if err != nil {
		m.log.Debug("resource sample failed", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.history[m.next] = snap
	m.next = (m.next + 1) % len(m.history)
	if m.next == 0 {
		m.filled = true
	}

	level := m.config.Thresholds.Classify(snap.RSSMB, snap.CPUPercent)

	var fireWarning, fireCritical bool
	switch level {
	case LevelUnhealthy:
		if !m.warnedCritical {
			m.warnedCritical = true
			m.warnedWarning = true
			fireCritical = true
		}
	case LevelDegraded:
		if !m.warnedWarning {
			m.warnedWarning = true
			fireWarning = true
		}
	case LevelHealthy:
		// A full healthy sample re-arms both triggers.
		m.warnedWarning = false
		m.warnedCritical = false
	}
	m.mu.Unlock()

	if fireWarning && m.config.OnWarning != nil {
		m.config.OnWarning(snap)
	}
	if fireCritical && m.config.OnCritical != nil {
		m.config.OnCritical(snap)
	}
}

// History returns the recorded snapshots, oldest first.
func (m *Monitor) History() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.filled {
		out := make([]Snapshot, m.next)
		copy(out, m.history[:m.next])
		return out
	}
	out := make([]Snapshot, 0, len(m.history))
	out = append(out, m.history[m.next:]...)
	out = append(out, m.history[:m.next]...)
	return out
}

// Latest returns the most recent snapshot, if any.
func (m *Monitor) Latest() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.next - 1
	if idx < 0 {
		if !m.filled {
			return Snapshot{}, false
		}
		idx = len(m.history) - 1
	}
	snap := m.history[idx]
	if snap.Taken.IsZero() {
		return Snapshot{}, false
	}
	return snap, true
}
