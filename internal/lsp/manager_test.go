package lsp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T, root string, languages []string, opts ...ManagerOption) *Manager {
	t.Helper()
	m := NewManager(root, languages, nil, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m.ShutdownAll(ctx)
	})
	return m
}

func TestManagerNotApplicable(t *testing.T) {
	m := newTestManager(t, t.TempDir(), []string{"python"})

	_, err := m.ServerForFile(context.Background(), "README.md")
	if !errors.Is(err, ErrNotApplicable) {
		t.Errorf("unknown extension: err = %v, want ErrNotApplicable", err)
	}

	// A known language that is not a project language is equally not
	// applicable.
	_, err = m.ServerForFile(context.Background(), "main.go")
	if !errors.Is(err, ErrNotApplicable) {
		t.Errorf("non-project language: err = %v, want ErrNotApplicable", err)
	}
}

func TestManagerPolyglotIsolation(t *testing.T) {
	dir := t.TempDir()
	writeCalcFile(t, dir)

	m := newTestManager(t, dir, []string{"python", "rust"},
		WithServerConfig("python", fakeServerConfig()),
		WithServerConfig("rust", ServerConfig{Command: filepath.Join(dir, "no-such-server")}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// The broken language fails...
	_, err := m.ServerForLanguage(ctx, "rust")
	if err == nil {
		t.Fatal("rust server should fail to start")
	}
	var serverErr *ServerError
	if !errors.As(err, &serverErr) || serverErr.Language != "rust" {
		t.Fatalf("err = %v, want *ServerError for rust", err)
	}

	// ...while the healthy one still comes up.
	server, err := m.ServerForFile(ctx, filepath.Join(dir, "calc.py"))
	if err != nil {
		t.Fatalf("python server: %v", err)
	}
	if server.Status() != ServerStatusReady {
		t.Fatalf("python status = %s", server.Status())
	}

	working := m.WorkingServers()
	if len(working) != 1 || working[0].Language() != "python" {
		t.Fatalf("working servers = %v", working)
	}
	if failed := m.FailedLanguages(); len(failed) != 1 || failed[0] != "rust" {
		t.Fatalf("failed languages = %v", failed)
	}
}

func TestManagerFailureNotRetried(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing-server")
	m := newTestManager(t, dir, []string{"rust"},
		WithServerConfig("rust", ServerConfig{Command: missing}))

	ctx := context.Background()
	if _, err := m.ServerForLanguage(ctx, "rust"); err == nil {
		t.Fatal("first start should fail")
	}

	// Even if the binary appears afterwards, the session remembers the
	// failure until an explicit reset.
	if err := os.WriteFile(missing, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	_, err := m.ServerForLanguage(ctx, "rust")
	if !errors.Is(err, ErrServerFailed) {
		t.Fatalf("second attempt err = %v, want ErrServerFailed", err)
	}

	m.ResetFailed("rust")
	if failed := m.FailedLanguages(); len(failed) != 0 {
		t.Fatalf("failed after reset = %v", failed)
	}
}

func TestManagerStartAllIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir, []string{"python", "rust"},
		WithServerConfig("python", fakeServerConfig()),
		WithServerConfig("rust", ServerConfig{Command: filepath.Join(dir, "nope")}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := m.StartAll(ctx)
	if err == nil {
		t.Fatal("StartAll should report the rust failure")
	}
	if len(m.WorkingServers()) != 1 {
		t.Fatalf("working = %d, want 1", len(m.WorkingServers()))
	}
}

func TestManagerSyncBridgeRefusesRequestLoop(t *testing.T) {
	m := newTestManager(t, t.TempDir(), []string{"python"})

	loopCtx := MarkRequestLoop(context.Background())
	_, err := m.ServerForFileSync(loopCtx, "calc.py")
	if err == nil {
		t.Fatal("sync bridge must refuse inside the request loop")
	}
	if !strings.Contains(err.Error(), "async context") {
		t.Errorf("error %q must mention the async context", err.Error())
	}
	if !errors.Is(err, ErrAsyncContext) {
		t.Errorf("err = %v, want ErrAsyncContext", err)
	}
}

func TestManagerConcurrentStartSingleServer(t *testing.T) {
	dir := t.TempDir()
	writeCalcFile(t, dir)
	m := newTestManager(t, dir, []string{"python"},
		WithServerConfig("python", fakeServerConfig()))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	const callers = 8
	servers := make([]*Server, callers)
	errs := make([]error, callers)
	done := make(chan int, callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			servers[i], errs[i] = m.ServerForLanguage(ctx, "python")
			done <- i
		}(i)
	}
	for i := 0; i < callers; i++ {
		<-done
	}

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error: %v", i, errs[i])
		}
		if servers[i] != servers[0] {
			t.Fatal("concurrent starts produced different servers")
		}
	}
}
