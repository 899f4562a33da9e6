package tenant

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(filepath.Join(t.TempDir(), "tenants.json"), nil)
}

func testRecord(id string) Record {
	return Record{
		TenantID:    id,
		ServerName:  "proj-" + id,
		ProjectRoot: "/work/" + id,
		PID:         os.Getpid(),
		Status:      StatusRunning,
	}
}

func TestRegistryRegisterAndList(t *testing.T) {
	reg := newTestRegistry(t)

	require.NoError(t, reg.Register(testRecord("a")))
	require.NoError(t, reg.Register(testRecord("b")))

	records, err := reg.ListAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].TenantID)
	assert.Equal(t, "b", records[1].TenantID)
	assert.False(t, records[0].RegisteredAt.IsZero())
}

func TestRegistryOneRecordPerTenant(t *testing.T) {
	reg := newTestRegistry(t)

	rec := testRecord("a")
	require.NoError(t, reg.Register(rec))
	rec.ServerName = "renamed"
	require.NoError(t, reg.Register(rec))

	records, err := reg.ListAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "renamed", records[0].ServerName)
}

func TestRegistryUpdateStatusValidation(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Register(testRecord("a")))

	require.NoError(t, reg.UpdateStatus("a", StatusIdle))
	rec, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, rec.Status)

	err = reg.UpdateStatus("a", Status("bogus"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valid: starting, running, idle, stopped, error")

	assert.ErrorIs(t, reg.UpdateStatus("ghost", StatusIdle), ErrNotRegistered)
}

func TestRegistryHealthAndActivity(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Register(testRecord("a")))

	require.NoError(t, reg.UpdateHealth("a", 512.5, 12.5))
	require.NoError(t, reg.MarkActivity("a"))

	rec, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 512.5, rec.MemoryMB)
	assert.Equal(t, 12.5, rec.CPUPercent)
	assert.NotNil(t, rec.LastHealthCheck)
	assert.NotNil(t, rec.LastActivity)
}

func TestRegistryListRunning(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Register(testRecord("a")))

	stopped := testRecord("b")
	stopped.Status = StatusStopped
	require.NoError(t, reg.Register(stopped))

	running, err := reg.ListRunning()
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "a", running[0].TenantID)
}

func TestRegistryCleanupStale(t *testing.T) {
	reg := newTestRegistry(t)

	alive := testRecord("alive")
	require.NoError(t, reg.Register(alive))

	dead := testRecord("dead")
	dead.PID = 1 << 30 // far past any real pid
	require.NoError(t, reg.Register(dead))

	removed, err := reg.CleanupStale()
	require.NoError(t, err)
	assert.Equal(t, []string{"dead"}, removed)

	records, err := reg.ListAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alive", records[0].TenantID)
}

func TestRegistryCorruptFileResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.json")
	require.NoError(t, os.WriteFile(path, []byte("{{{{not json"), 0o644))

	reg := NewRegistry(path, nil)
	records, err := reg.ListAll()
	require.NoError(t, err)
	assert.Empty(t, records)

	// Writes after a corrupt read produce valid JSON again.
	require.NoError(t, reg.Register(testRecord("a")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestRegistryConcurrentRegisters(t *testing.T) {
	reg := newTestRegistry(t)

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := testRecord(string(rune('a' + i)))
			assert.NoError(t, reg.Register(rec))
		}(i)
	}
	wg.Wait()

	records, err := reg.ListAll()
	require.NoError(t, err)
	assert.Len(t, records, writers, "every concurrent register must land")

	// The file itself is valid JSON at rest.
	data, err := os.ReadFile(filepath.Join(filepath.Dir(reg.path), "tenants.json"))
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestRegistryUnregister(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Register(testRecord("a")))
	require.NoError(t, reg.Unregister("a"))
	assert.ErrorIs(t, reg.Unregister("a"), ErrNotRegistered)
}
