// Package tenant tracks broker instances across processes: a shared
// file-locked JSON registry of tenants, plus per-tenant health
// monitoring with bounded auto-restart.
package tenant

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Status is a tenant lifecycle state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusIdle     Status = "idle"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// validStatuses guards status updates.
var validStatuses = map[Status]bool{
	StatusStarting: true,
	StatusRunning:  true,
	StatusIdle:     true,
	StatusStopped:  true,
	StatusError:    true,
}

// Record is one tenant's registry entry.
type Record struct {
	TenantID        string     `json:"tenant_id"`
	ServerName      string     `json:"server_name"`
	ProjectRoot     string     `json:"project_root"`
	PID             int        `json:"pid,omitempty"`
	Status          Status     `json:"status"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`
	MemoryMB        float64    `json:"memory_mb,omitempty"`
	CPUPercent      float64    `json:"cpu_percent,omitempty"`
	LastActivity    *time.Time `json:"last_activity,omitempty"`
	RegisteredAt    time.Time  `json:"registered_at"`
	StartupSeconds  float64    `json:"startup_time_seconds,omitempty"`
}

// ErrNotRegistered indicates an operation on an unknown tenant id.
var ErrNotRegistered = errors.New("tenant not registered")

// lockTimeout bounds registry lock acquisition.
const lockTimeout = 10 * time.Second

// Registry is the cross-process tenant file. Every operation locks the
// file exclusively, reads it fully, mutates, and writes it back —
// tenant counts are small and the simplicity is deliberate. A corrupt
// file reads as empty and is logged, never fatal.
type Registry struct {
	path string
	log  *zap.Logger
}

// NewRegistry opens (or will create) the registry at path.
func NewRegistry(path string, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{path: path, log: log}
}

// DefaultPath returns the per-user registry location.
func DefaultPath(home string) string {
	return filepath.Join(home, ".codelens", "tenants.json")
}

// withLock runs fn holding the registry's advisory lock. The lock is
// taken on a sidecar .lock file so the data file itself can be
// replaced atomically.
func (r *Registry) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	lockFile, err := os.OpenFile(r.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open registry lock: %w", err)
	}
	defer lockFile.Close()

	deadline := time.Now().Add(lockTimeout)
	for {
		err = unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("lock registry: %w", err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("lock registry: timed out after %s", lockTimeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
	defer func() { _ = unix.Flock(int(lockFile.Fd()), unix.LOCK_UN) }()

	return fn()
}

// load reads the registry file. Missing or corrupt files read as
// empty.
func (r *Registry) load() map[string]*Record {
	records := make(map[string]*Record)
	data, err := os.ReadFile(r.path)
	if err != nil {
		return records
	}
	if err := json.Unmarshal(data, &records); err != nil {
		r.log.Warn("tenant registry corrupt, resetting", zap.Error(err))
		return make(map[string]*Record)
	}
	return records
}

// store writes the registry file atomically so readers never observe
// partial JSON.
func (r *Registry) store(records map[string]*Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".tenants.*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), r.path)
}

// mutate runs a read-modify-write cycle under the lock.
func (r *Registry) mutate(fn func(map[string]*Record) error) error {
	return r.withLock(func() error {
		records := r.load()
		if err := fn(records); err != nil {
			return err
		}
		return r.store(records)
	})
}

// Register adds or replaces a tenant record.
func (r *Registry) Register(record Record) error {
	if record.TenantID == "" {
		return errors.New("tenant_id is required")
	}
	if record.RegisteredAt.IsZero() {
		record.RegisteredAt = time.Now().UTC()
	}
	if record.Status == "" {
		record.Status = StatusStarting
	}
	return r.mutate(func(records map[string]*Record) error {
		records[record.TenantID] = &record
		return nil
	})
}

// Unregister removes a tenant record.
func (r *Registry) Unregister(tenantID string) error {
	return r.mutate(func(records map[string]*Record) error {
		if _, ok := records[tenantID]; !ok {
			return fmt.Errorf("%w: %s", ErrNotRegistered, tenantID)
		}
		delete(records, tenantID)
		return nil
	})
}

// UpdateStatus transitions a tenant's status.
func (r *Registry) UpdateStatus(tenantID string, status Status) error {
	if !validStatuses[status] {
		return fmt.Errorf("invalid status %q (valid: starting, running, idle, stopped, error)", status)
	}
	return r.mutate(func(records map[string]*Record) error {
		rec, ok := records[tenantID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotRegistered, tenantID)
		}
		rec.Status = status
		return nil
	})
}

// UpdateHealth records a health sample for a tenant.
func (r *Registry) UpdateHealth(tenantID string, rssMB, cpuPct float64) error {
	return r.mutate(func(records map[string]*Record) error {
		rec, ok := records[tenantID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotRegistered, tenantID)
		}
		now := time.Now().UTC()
		rec.LastHealthCheck = &now
		rec.MemoryMB = rssMB
		rec.CPUPercent = cpuPct
		return nil
	})
}

// MarkActivity stamps a tenant's last activity time.
func (r *Registry) MarkActivity(tenantID string) error {
	return r.mutate(func(records map[string]*Record) error {
		rec, ok := records[tenantID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotRegistered, tenantID)
		}
		now := time.Now().UTC()
		rec.LastActivity = &now
		return nil
	})
}

// Get returns one tenant record.
func (r *Registry) Get(tenantID string) (*Record, error) {
	var out *Record
	err := r.withLock(func() error {
		records := r.load()
		rec, ok := records[tenantID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotRegistered, tenantID)
		}
		clone := *rec
		out = &clone
		return nil
	})
	return out, err
}

// ListAll returns every record, ordered by tenant id.
func (r *Registry) ListAll() ([]Record, error) {
	var out []Record
	err := r.withLock(func() error {
		records := r.load()
		for _, rec := range records {
			out = append(out, *rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

// ListRunning returns records whose status is running or idle.
func (r *Registry) ListRunning() ([]Record, error) {
	all, err := r.ListAll()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, rec := range all {
		if rec.Status == StatusRunning || rec.Status == StatusIdle {
			out = append(out, rec)
		}
	}
	return out, nil
}

// CleanupStale drops records whose PID is no longer alive. Returns the
// removed tenant ids.
func (r *Registry) CleanupStale() ([]string, error) {
	var removed []string
	err := r.mutate(func(records map[string]*Record) error {
		for id, rec := range records {
			if rec.PID == 0 {
				continue
			}
			if !pidAlive(rec.PID) {
				delete(records, id)
				removed = append(removed, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(removed)
	if len(removed) > 0 {
		r.log.Info("reaped stale tenants", zap.Strings("tenants", removed))
	}
	return removed, nil
}

// pidAlive probes a PID with signal 0.
func pidAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	// EPERM means the process exists under another user.
	return err == nil || errors.Is(err, unix.EPERM)
}
