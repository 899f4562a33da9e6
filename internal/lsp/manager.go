package lsp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Manager is the polyglot router: it holds one Server per project
// language, starts them lazily on first use, and isolates per-language
// failures so one broken toolchain never takes down the rest.
type Manager struct {
	mu       sync.RWMutex
	servers  map[string]*Server      // language -> running server
	configs  map[string]ServerConfig // language -> launch config
	failed   map[string]error        // language -> first start error
	starting map[string]*sync.Mutex  // language -> start lock

	languages []string
	rootPath  string
	logDir    string
	log       *zap.Logger

	shutdownTimeout time.Duration
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithServerConfig overrides the launch configuration for a language.
func WithServerConfig(language string, config ServerConfig) ManagerOption {
	return func(m *Manager) {
		m.configs[language] = config
	}
}

// WithShutdownTimeout sets the per-server shutdown budget.
func WithShutdownTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.shutdownTimeout = d
	}
}

// WithServerLogDir sets the directory for server stderr captures.
func WithServerLogDir(dir string) ManagerOption {
	return func(m *Manager) {
		m.logDir = dir
	}
}

// NewManager creates a manager for a project rooted at rootPath serving
// the given languages. No servers are started until first use.
func NewManager(rootPath string, languages []string, log *zap.Logger, opts ...ManagerOption) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		servers:         make(map[string]*Server),
		configs:         make(map[string]ServerConfig),
		failed:          make(map[string]error),
		starting:        make(map[string]*sync.Mutex),
		languages:       append([]string(nil), languages...),
		rootPath:        rootPath,
		log:             log,
		shutdownTimeout: 5 * time.Second,
	}

	defaults := DefaultServerConfigs()
	for _, lang := range languages {
		if config, ok := defaults[lang]; ok {
			m.configs[lang] = config
		}
		m.starting[lang] = &sync.Mutex{}
	}

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Languages returns the project languages in registration order.
func (m *Manager) Languages() []string {
	return append([]string(nil), m.languages...)
}

// RootPath returns the project root.
func (m *Manager) RootPath() string {
	return m.rootPath
}

// hasLanguage reports whether lang is a project language.
func (m *Manager) hasLanguage(lang string) bool {
	for _, l := range m.languages {
		if l == lang {
			return true
		}
	}
	return false
}

// ServerForFile routes a file to its language server, starting it on
// first use. Files outside the project's languages return
// ErrNotApplicable — a distinct condition from a start failure, which
// is remembered for the session and returned without retrying.
func (m *Manager) ServerForFile(ctx context.Context, path string) (*Server, error) {
	lang := DetectLanguage(path)
	if lang == "" || !m.hasLanguage(lang) {
		return nil, ErrNotApplicable
	}
	return m.ServerForLanguage(ctx, lang)
}

// ServerForLanguage returns the server for a language, starting it if
// needed.
func (m *Manager) ServerForLanguage(ctx context.Context, lang string) (*Server, error) {
	if !m.hasLanguage(lang) {
		return nil, ErrNotApplicable
	}

	m.mu.RLock()
	if err, ok := m.failed[lang]; ok {
		m.mu.RUnlock()
		return nil, &ServerError{Language: lang, Err: fmt.Errorf("%w: %v", ErrServerFailed, err)}
	}
	if server, ok := m.servers[lang]; ok {
		m.mu.RUnlock()
		return server, nil
	}
	startMu := m.starting[lang]
	m.mu.RUnlock()

	// Serialize concurrent starts per language without blocking
	// routing for other languages.
	startMu.Lock()
	defer startMu.Unlock()

	m.mu.RLock()
	if err, ok := m.failed[lang]; ok {
		m.mu.RUnlock()
		return nil, &ServerError{Language: lang, Err: fmt.Errorf("%w: %v", ErrServerFailed, err)}
	}
	if server, ok := m.servers[lang]; ok {
		m.mu.RUnlock()
		return server, nil
	}
	m.mu.RUnlock()

	return m.startServer(ctx, lang)
}

// startServer starts one language server; callers hold the language's
// start lock.
func (m *Manager) startServer(ctx context.Context, lang string) (*Server, error) {
	config, ok := m.configs[lang]
	if !ok {
		err := &ServerError{Language: lang, Err: ErrNoServer}
		m.mu.Lock()
		m.failed[lang] = ErrNoServer
		m.mu.Unlock()
		return nil, err
	}

	if config.StderrLogPath == "" && m.logDir != "" {
		config.StderrLogPath = filepath.Join(m.logDir, "lsp-"+lang+".log")
	}

	server := NewServer(config, lang, m.rootPath, m.log)
	if err := server.Start(ctx); err != nil {
		m.log.Warn("language server failed to start",
			zap.String("language", lang), zap.Error(err))
		m.mu.Lock()
		m.failed[lang] = err
		m.mu.Unlock()
		return nil, &ServerError{Language: lang, Err: err}
	}

	m.mu.Lock()
	m.servers[lang] = server
	m.mu.Unlock()
	return server, nil
}

// StartAll eagerly starts every project language concurrently. A
// failure for one language is recorded and does not abort the others;
// the joined error reports every failure.
func (m *Manager) StartAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, lang := range m.languages {
		g.Go(func() error {
			if _, err := m.ServerForLanguage(ctx, lang); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// WorkingServers returns the currently running servers ordered by
// language.
func (m *Manager) WorkingServers() []*Server {
	m.mu.RLock()
	defer m.mu.RUnlock()

	langs := make([]string, 0, len(m.servers))
	for lang := range m.servers {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	out := make([]*Server, 0, len(langs))
	for _, lang := range langs {
		out = append(out, m.servers[lang])
	}
	return out
}

// FailedLanguages returns the languages whose servers failed to start
// this session.
func (m *Manager) FailedLanguages() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	langs := make([]string, 0, len(m.failed))
	for lang := range m.failed {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// ResetFailed clears the failure memory for a language so the next
// request retries the start.
func (m *Manager) ResetFailed(lang string) {
	m.mu.Lock()
	delete(m.failed, lang)
	m.mu.Unlock()
}

// RestartServer stops a language's server; the next request starts a
// fresh one.
func (m *Manager) RestartServer(ctx context.Context, lang string) error {
	m.mu.Lock()
	server, ok := m.servers[lang]
	delete(m.servers, lang)
	delete(m.failed, lang)
	m.mu.Unlock()

	if ok && server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
	return nil
}

// ShutdownAll stops every running server with a per-server timeout.
// Exceeded timeouts are logged, not raised: shutdown always completes.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.Lock()
	servers := make([]*Server, 0, len(m.servers))
	for _, s := range m.servers {
		servers = append(servers, s)
	}
	m.servers = make(map[string]*Server)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, server := range servers {
		wg.Add(1)
		go func(server *Server) {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				m.log.Warn("server shutdown failed",
					zap.String("language", server.Language()), zap.Error(err))
			}
		}(server)
	}
	wg.Wait()
}

// --- Sync bridge ---

// loopMarker marks contexts that originate inside the broker's own
// request loop.
type loopMarker struct{}

// MarkRequestLoop returns a context flagged as running on the broker's
// request loop. The tool executor applies it to every tool invocation.
func MarkRequestLoop(ctx context.Context) context.Context {
	return context.WithValue(ctx, loopMarker{}, true)
}

// InRequestLoop reports whether ctx originates inside the request loop.
func InRequestLoop(ctx context.Context) bool {
	v, _ := ctx.Value(loopMarker{}).(bool)
	return v
}

// ServerForFileSync is the synchronous routing entry point for callers
// outside the broker (embedding editors, scripts). It refuses to run on
// the broker's own request loop, where blocking would deadlock the
// executor; such callers must use ServerForFile.
func (m *Manager) ServerForFileSync(ctx context.Context, path string) (*Server, error) {
	if InRequestLoop(ctx) {
		return nil, fmt.Errorf("%w (ServerForFileSync called on the request loop; use ServerForFile)", ErrAsyncContext)
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return m.ServerForFile(ctx, path)
}
