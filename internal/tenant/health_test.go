package tenant

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codelens/internal/monitor"
)

type fakeRestarter struct {
	calls atomic.Int32
	fail  bool
}

func (f *fakeRestarter) Restart(ctx context.Context, tenantID string) error {
	f.calls.Add(1)
	if f.fail {
		return assert.AnError
	}
	return nil
}

// tinyThresholds makes any real process classify as unhealthy.
func tinyThresholds() monitor.Thresholds {
	return monitor.Thresholds{
		WarningMB:   0.0001,
		WarningPct:  0.0001,
		CriticalMB:  0.0002,
		CriticalPct: 0.0002,
	}
}

func newHealthFixture(t *testing.T, restarter Restarter, config HealthConfig) (*Registry, *HealthMonitor) {
	t.Helper()
	reg := newTestRegistry(t)
	hm := NewHealthMonitor(reg, restarter, config, nil)
	return reg, hm
}

func TestHealthCheckRecordsSample(t *testing.T) {
	reg, hm := newHealthFixture(t, nil, HealthConfig{})

	rec := testRecord("self")
	require.NoError(t, reg.Register(rec))

	hm.checkOne(rec)

	updated, err := reg.Get("self")
	require.NoError(t, err)
	require.NotNil(t, updated.LastHealthCheck)
	assert.Greater(t, updated.MemoryMB, 0.0)
}

func TestHealthUnhealthyMarksErrorAndRestarts(t *testing.T) {
	restarter := &fakeRestarter{}
	reg, hm := newHealthFixture(t, restarter, HealthConfig{
		Thresholds:   tinyThresholds(),
		RestartDelay: 10 * time.Millisecond,
	})

	rec := testRecord("self")
	rec.PID = os.Getpid()
	require.NoError(t, reg.Register(rec))

	hm.checkOne(rec)

	updated, err := reg.Get("self")
	require.NoError(t, err)
	assert.Equal(t, StatusError, updated.Status)
	assert.Equal(t, int32(1), restarter.calls.Load())
}

func TestHealthRestartAttemptsBounded(t *testing.T) {
	restarter := &fakeRestarter{fail: true}
	reg, hm := newHealthFixture(t, restarter, HealthConfig{
		Thresholds:   tinyThresholds(),
		MaxRestarts:  2,
		RestartDelay: time.Millisecond,
	})

	rec := testRecord("self")
	require.NoError(t, reg.Register(rec))

	for i := 0; i < 5; i++ {
		hm.checkOne(rec)
	}

	assert.Equal(t, int32(2), restarter.calls.Load(),
		"attempts stop at MaxRestarts when restarts keep failing")
}

func TestHealthNoRestarterMonitorOnly(t *testing.T) {
	reg, hm := newHealthFixture(t, nil, HealthConfig{Thresholds: tinyThresholds()})

	rec := testRecord("self")
	require.NoError(t, reg.Register(rec))

	// Must not panic without a restarter; the tenant is just marked.
	hm.checkOne(rec)

	updated, err := reg.Get("self")
	require.NoError(t, err)
	assert.Equal(t, StatusError, updated.Status)
}
