package monitor

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholdClassification(t *testing.T) {
	th := DefaultThresholds()

	cases := []struct {
		rssMB, cpuPct float64
		want          Level
	}{
		{100, 10, LevelHealthy},
		{1024, 75, LevelHealthy}, // at the boundary, not over it
		{1025, 10, LevelDegraded},
		{100, 76, LevelDegraded},
		{2049, 10, LevelUnhealthy},
		{100, 91, LevelUnhealthy},
		{4096, 99, LevelUnhealthy},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, th.Classify(tc.rssMB, tc.cpuPct),
			"Classify(%v, %v)", tc.rssMB, tc.cpuPct)
	}
}

func TestProcessSamplerSelf(t *testing.T) {
	sampler := NewProcessSampler(os.Getpid())

	snap, err := sampler.Sample()
	require.NoError(t, err)
	assert.Greater(t, snap.RSSMB, 0.0, "a running test has resident memory")
	assert.Zero(t, snap.CPUPercent, "first sample has no CPU baseline")
	assert.Greater(t, snap.UptimeSecs, 0.0)

	time.Sleep(20 * time.Millisecond)
	snap2, err := sampler.Sample()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, snap2.CPUPercent, 0.0)
}

func TestProcessSamplerDeadPID(t *testing.T) {
	sampler := NewProcessSampler(1 << 30)
	_, err := sampler.Sample()
	assert.Error(t, err)
}

func TestMonitorHistoryRing(t *testing.T) {
	m := New(Config{Interval: 5 * time.Millisecond, HistorySize: 3}, nil)
	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(m.History()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	history := m.History()
	require.NotEmpty(t, history, "sampler never produced a snapshot")
	assert.LessOrEqual(t, len(history), 3, "ring must stay bounded")

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, history[len(history)-1].Taken, latest.Taken)
}
