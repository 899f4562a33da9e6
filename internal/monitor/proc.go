// Package monitor samples process resource usage (RSS, CPU) for the
// broker itself and for tenant processes, with threshold callbacks and
// a rolling history.
package monitor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Snapshot is one resource sample.
type Snapshot struct {
	Taken      time.Time `json:"taken"`
	RSSMB      float64   `json:"rss_mb"`
	CPUPercent float64   `json:"cpu_percent"`
	UptimeSecs float64   `json:"uptime_seconds"`
}

// Thresholds is the single classification table used by both the
// in-process monitor and the tenant health monitor.
type Thresholds struct {
	WarningMB   float64
	WarningPct  float64
	CriticalMB  float64
	CriticalPct float64
}

// DefaultThresholds returns the broker-wide threshold table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningMB:   1024,
		WarningPct:  75,
		CriticalMB:  2048,
		CriticalPct: 90,
	}
}

// Level classifies one sample against the table.
type Level int

const (
	LevelHealthy Level = iota
	LevelDegraded
	LevelUnhealthy
)

// String returns a human-readable level name.
func (l Level) String() string {
	switch l {
	case LevelHealthy:
		return "healthy"
	case LevelDegraded:
		return "degraded"
	case LevelUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Classify grades a sample.
func (t Thresholds) Classify(rssMB, cpuPct float64) Level {
	if rssMB > t.CriticalMB || cpuPct > t.CriticalPct {
		return LevelUnhealthy
	}
	if rssMB > t.WarningMB || cpuPct > t.WarningPct {
		return LevelDegraded
	}
	return LevelHealthy
}

// pageSize is the kernel page size used to convert statm counts.
var pageSize = int64(os.Getpagesize())

// cpuSample captures the counters needed to derive a CPU percentage
// between two readings.
type cpuSample struct {
	procJiffies uint64
	wallTime    time.Time
	startTime   time.Time
}

// clockTicks is the kernel USER_HZ value; 100 on every platform the
// broker targets.
const clockTicks = 100

// readProcess reads RSS and cumulative CPU jiffies for a PID from
// /proc.
func readProcess(pid int) (rssMB float64, cpu cpuSample, err error) {
	statm, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		return 0, cpu, fmt.Errorf("read statm: %w", err)
	}
	fields := strings.Fields(string(statm))
	if len(fields) < 2 {
		return 0, cpu, fmt.Errorf("malformed statm for pid %d", pid)
	}
	residentPages, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, cpu, fmt.Errorf("parse statm: %w", err)
	}
	rssMB = float64(residentPages*pageSize) / (1 << 20)

	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return rssMB, cpu, fmt.Errorf("read stat: %w", err)
	}
	// comm may contain spaces; fields after the closing paren are
	// positionally stable.
	text := string(stat)
	closeParen := strings.LastIndexByte(text, ')')
	if closeParen < 0 {
		return rssMB, cpu, fmt.Errorf("malformed stat for pid %d", pid)
	}
	rest := strings.Fields(text[closeParen+1:])
	// rest[0] is state; utime is field 14 overall -> rest[11],
	// stime rest[12], starttime rest[19].
	if len(rest) < 20 {
		return rssMB, cpu, fmt.Errorf("malformed stat for pid %d", pid)
	}
	utime, _ := strconv.ParseUint(rest[11], 10, 64)
	stime, _ := strconv.ParseUint(rest[12], 10, 64)
	startJiffies, _ := strconv.ParseUint(rest[19], 10, 64)

	cpu.procJiffies = utime + stime
	cpu.wallTime = time.Now()
	cpu.startTime = bootTime().Add(time.Duration(startJiffies) * time.Second / clockTicks)
	return rssMB, cpu, nil
}

// cpuPercent derives a CPU percentage from two readings.
func cpuPercent(prev, cur cpuSample) float64 {
	wall := cur.wallTime.Sub(prev.wallTime).Seconds()
	if wall <= 0 {
		return 0
	}
	busy := float64(cur.procJiffies-prev.procJiffies) / clockTicks
	pct := busy / wall * 100
	if pct < 0 {
		return 0
	}
	return pct
}

// bootTime reads the system boot time once.
var bootTime = func() func() time.Time {
	var cached time.Time
	return func() time.Time {
		if !cached.IsZero() {
			return cached
		}
		data, err := os.ReadFile("/proc/stat")
		if err != nil {
			cached = time.Now()
			return cached
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "btime ") {
				if secs, err := strconv.ParseInt(strings.TrimSpace(line[6:]), 10, 64); err == nil {
					cached = time.Unix(secs, 0)
					return cached
				}
			}
		}
		cached = time.Now()
		return cached
	}
}()

// ProcessSampler produces successive snapshots for one PID.
type ProcessSampler struct {
	pid  int
	prev *cpuSample
}

// NewProcessSampler creates a sampler for a PID.
func NewProcessSampler(pid int) *ProcessSampler {
	return &ProcessSampler{pid: pid}
}

// Sample reads the process state. The first sample reports 0% CPU;
// subsequent samples report usage since the previous one.
func (s *ProcessSampler) Sample() (Snapshot, error) {
	rssMB, cpu, err := readProcess(s.pid)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Taken:      cpu.wallTime,
		RSSMB:      rssMB,
		UptimeSecs: cpu.wallTime.Sub(cpu.startTime).Seconds(),
	}
	if s.prev != nil {
		snap.CPUPercent = cpuPercent(*s.prev, cpu)
	}
	s.prev = &cpu
	return snap, nil
}
