package tool

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/codelens/internal/hooks"
	"github.com/dshills/codelens/internal/lsp"
	"github.com/dshills/codelens/internal/project"
	"github.com/dshills/codelens/internal/symbol"
)

// Toolbox wires the broker's subsystems together for the tool
// implementations: the lazily initialized project, the polyglot LSP
// manager, and the symbol retriever. Tools hold the toolbox, not each
// other; the agent side stays an opaque caller.
type Toolbox struct {
	init    *project.Initializer
	hookReg *hooks.Registry
	log     *zap.Logger
	logDir  string

	// PersistCache enables the on-disk cache tier.
	PersistCache bool

	// WatchFiles invalidates cached symbols on out-of-band file
	// changes via fsnotify.
	WatchFiles bool

	mu        sync.Mutex
	proj      *project.Project
	manager   *lsp.Manager
	retriever *symbol.Retriever
	watcher   *symbol.Watcher
}

// NewToolbox creates a toolbox for a project root. Nothing is
// activated until the first tool call needs the project.
func NewToolbox(root string, hookReg *hooks.Registry, log *zap.Logger, logDir string) *Toolbox {
	if log == nil {
		log = zap.NewNop()
	}
	return &Toolbox{
		init:    project.NewInitializer(root, log),
		hookReg: hookReg,
		log:     log,
		logDir:  logDir,
	}
}

// ensure activates the project on first use and builds the manager and
// retriever over it.
func (b *Toolbox) ensure(ctx context.Context) (*project.Project, *symbol.Retriever, error) {
	proj, err := b.init.Ensure()
	if err != nil {
		return nil, nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.proj != nil {
		return b.proj, b.retriever, nil
	}

	manager := lsp.NewManager(proj.Root(), proj.Config().Languages, b.log,
		lsp.WithServerLogDir(b.logDir))

	cache := symbol.NewCache(0, 0)
	var opts []symbol.RetrieverOption
	if b.PersistCache {
		cacheDir := filepath.Join(proj.Root(), project.AppDirName, "cache")
		if store, err := symbol.NewStore(cacheDir, 0, b.log); err == nil {
			store.WarmUp(cache, 2*time.Second)
			opts = append(opts, symbol.WithStore(store))
		} else {
			b.log.Warn("persistent cache unavailable", zap.Error(err))
		}
	}

	b.proj = proj
	b.manager = manager
	b.retriever = symbol.NewRetriever(manager, proj, cache, b.log, opts...)

	if b.WatchFiles {
		watcher, err := symbol.NewWatcher(b.retriever, proj.Root(), b.log)
		if err != nil {
			b.log.Warn("file watcher unavailable", zap.Error(err))
		} else {
			b.watcher = watcher
		}
	}

	if b.hookReg != nil {
		b.hookReg.Trigger(hooks.EventProjectActivated, hooks.Context{
			Values: map[string]any{"project": proj.Config().ProjectName},
		})
	}
	return b.proj, b.retriever, nil
}

// Project returns the activated project, or nil before first use.
func (b *Toolbox) Project() *project.Project {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.proj
}

// Manager returns the LSP manager, or nil before first use.
func (b *Toolbox) Manager() *lsp.Manager {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.manager
}

// Retriever returns the symbol retriever, or nil before first use.
func (b *Toolbox) Retriever() *symbol.Retriever {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retriever
}

// Shutdown flushes caches and stops every language server.
func (b *Toolbox) Shutdown(ctx context.Context) {
	b.mu.Lock()
	manager := b.manager
	retriever := b.retriever
	watcher := b.watcher
	b.mu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	if retriever != nil {
		retriever.FlushStore(2 * time.Second)
	}
	if manager != nil {
		manager.ShutdownAll(ctx)
	}
}

// RegisterAll registers the built-in tools on a registry, honoring the
// descriptor's excluded_tools at registration time. Exclusions come
// only from a descriptor that already exists; a project created
// later by lazy init cannot exclude built-ins retroactively.
func (b *Toolbox) RegisterAll(reg *Registry, batchExecutor func() *Executor) error {
	excluded := make(map[string]bool)
	if config, err := project.LoadConfig(b.init.Root()); err == nil {
		for _, name := range config.ExcludedTools {
			excluded[name] = true
		}
	}

	all := []Tool{
		&overviewTool{box: b},
		&findSymbolTool{box: b},
		&findRefsTool{box: b},
		&searchPatternTool{box: b},
		&replaceBodyTool{box: b},
		&insertBeforeTool{box: b},
		&insertAfterTool{box: b},
		&deleteSymbolTool{box: b},
		&renameSymbolTool{box: b},
		&readFileTool{box: b},
		&createFileTool{box: b},
		&listDirTool{box: b},
		&findFileTool{box: b},
		&batchTool{executor: batchExecutor},
	}
	for _, t := range all {
		if excluded[t.Name()] {
			b.log.Info("tool excluded by descriptor", zap.String("tool", t.Name()))
			continue
		}
		if err := reg.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Name(), err)
		}
	}
	return nil
}

// objectSchema builds the JSON schema for a tool's parameters.
func objectSchema(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}
