package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ServerStatus indicates the current state of a server.
type ServerStatus int

const (
	ServerStatusStopped ServerStatus = iota
	ServerStatusStarting
	ServerStatusInitializing
	ServerStatusReady
	ServerStatusShuttingDown
	ServerStatusError
)

// String returns a human-readable status name.
func (s ServerStatus) String() string {
	switch s {
	case ServerStatusStopped:
		return "stopped"
	case ServerStatusStarting:
		return "starting"
	case ServerStatusInitializing:
		return "initializing"
	case ServerStatusReady:
		return "ready"
	case ServerStatusShuttingDown:
		return "shutting down"
	case ServerStatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ServerConfig defines how to start and talk to a language server.
type ServerConfig struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments.
	Args []string

	// Env are additional environment variables.
	Env map[string]string

	// WorkDir overrides the working directory (default: project root).
	WorkDir string

	// InitializationOptions are sent during initialize.
	InitializationOptions any

	// RequestTimeout bounds individual requests (default: 30s).
	RequestTimeout time.Duration

	// ReadyNotification, when set, names a notification the server
	// sends once its index is built (e.g. a status message method).
	// Smart readiness waits for it up to ReadyTimeout and then
	// proceeds optimistically.
	ReadyNotification string

	// ReadyTimeout bounds the wait for ReadyNotification (default: 3s).
	ReadyTimeout time.Duration

	// ShutdownGrace is the wait between SIGTERM and SIGKILL on the
	// server's process tree (default: 5s).
	ShutdownGrace time.Duration

	// StderrLogPath captures server stderr when non-empty.
	StderrLogPath string
}

func (c *ServerConfig) applyDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = 3 * time.Second
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = 5 * time.Second
	}
}

// openDocument tracks one reference-counted open file.
type openDocument struct {
	uri      DocumentURI
	language string
	version  int
	refs     int
}

// Server is a logical connection to one language server: it owns the
// child process and the transport, carries the capabilities returned by
// initialize, and exposes the typed operations the broker issues.
type Server struct {
	mu sync.Mutex

	config   ServerConfig
	language string
	rootPath string
	log      *zap.Logger

	proc      *serverProcess
	transport *Transport

	status       atomic.Int32
	capabilities ServerCapabilities
	serverInfo   *InitializeServerInfo
	lastError    error

	documents   map[DocumentURI]*openDocument
	documentsMu sync.Mutex

	readyCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a server instance for one language (not started).
func NewServer(config ServerConfig, language, rootPath string, log *zap.Logger) *Server {
	config.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		config:    config,
		language:  language,
		rootPath:  rootPath,
		log:       log.With(zap.String("language", language)),
		documents: make(map[DocumentURI]*openDocument),
		readyCh:   make(chan struct{}),
	}
	s.status.Store(int32(ServerStatusStopped))
	return s
}

// Start spawns the server process and performs the LSP handshake.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status() != ServerStatusStopped {
		return ErrAlreadyStarted
	}
	s.status.Store(int32(ServerStatusStarting))

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	proc, err := spawnServer(s.config, s.rootPath, s.config.StderrLogPath, s.log)
	if err != nil {
		s.status.Store(int32(ServerStatusError))
		s.lastError = err
		return err
	}
	s.proc = proc

	s.transport = NewTransport(proc.stdout, proc.stdin, nil, s.log)
	s.registerHandlers()
	s.transport.Start(s.ctx)

	s.status.Store(int32(ServerStatusInitializing))
	if err := s.initialize(ctx); err != nil {
		s.status.Store(int32(ServerStatusError))
		s.lastError = err
		s.stopLocked()
		return fmt.Errorf("initialize: %w", err)
	}

	s.awaitReadySignal(ctx)

	s.status.Store(int32(ServerStatusReady))
	s.log.Info("language server ready",
		zap.String("command", s.config.Command), zap.Int("pid", proc.pid))
	return nil
}

// initialize performs the LSP handshake.
func (s *Server) initialize(ctx context.Context) error {
	params := InitializeParams{
		ProcessID:             os.Getpid(),
		RootURI:               FilePathToURI(s.rootPath),
		Capabilities:          DefaultClientCapabilities(),
		InitializationOptions: s.config.InitializationOptions,
		WorkspaceFolders: []WorkspaceFolder{{
			URI:  FilePathToURI(s.rootPath),
			Name: s.language,
		}},
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	var result InitializeResult
	if err := s.transport.Call(ctx, "initialize", params, &result); err != nil {
		return err
	}
	s.capabilities = result.Capabilities
	s.serverInfo = result.ServerInfo

	return s.transport.Notify(ctx, "initialized", InitializedParams{})
}

// awaitReadySignal implements smart readiness: when the server's config
// names a ready notification, wait for it briefly and otherwise proceed
// optimistically.
func (s *Server) awaitReadySignal(ctx context.Context) {
	if s.config.ReadyNotification == "" {
		return
	}
	select {
	case <-s.readyCh:
	case <-time.After(s.config.ReadyTimeout):
		s.log.Debug("ready signal not observed, proceeding optimistically",
			zap.String("method", s.config.ReadyNotification))
	case <-ctx.Done():
	}
}

// registerHandlers wires the notifications and server requests the
// client must tolerate.
func (s *Server) registerHandlers() {
	var readyOnce sync.Once
	if s.config.ReadyNotification != "" {
		s.transport.OnNotification(s.config.ReadyNotification, func(method string, params json.RawMessage) {
			readyOnce.Do(func() { close(s.readyCh) })
		})
	}

	s.transport.OnNotification("textDocument/publishDiagnostics", func(method string, params json.RawMessage) {
		// Diagnostics are not part of the broker's surface; consumed
		// so the server is free to publish.
	})
	s.transport.OnNotification("window/logMessage", func(method string, params json.RawMessage) {
		var p LogMessageParams
		if json.Unmarshal(params, &p) == nil {
			s.log.Debug("server log", zap.String("message", p.Message))
		}
	})
	s.transport.OnNotification("$/progress", func(method string, params json.RawMessage) {})
	s.transport.OnNotification("window/showMessage", func(method string, params json.RawMessage) {})

	s.transport.OnRequest("client/registerCapability", func(params json.RawMessage) (any, error) {
		return struct{}{}, nil
	})
	s.transport.OnRequest("client/unregisterCapability", func(params json.RawMessage) (any, error) {
		return struct{}{}, nil
	})
	s.transport.OnRequest("workspace/configuration", func(params json.RawMessage) (any, error) {
		var p ConfigurationParams
		if err := json.Unmarshal(params, &p); err != nil {
			return []any{}, nil
		}
		// No configuration to offer: one null per requested item.
		out := make([]any, len(p.Items))
		return out, nil
	})
	s.transport.OnRequest("window/workDoneProgress/create", func(params json.RawMessage) (any, error) {
		return struct{}{}, nil
	})
	s.transport.OnRequest("workspace/applyEdit", func(params json.RawMessage) (any, error) {
		// The broker applies edits itself; server-pushed edits are
		// declined so file state stays under tool control.
		return map[string]any{"applied": false}, nil
	})
}

// Shutdown performs the polite shutdown/exit exchange and then stops
// the process tree.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.Status()
	if status == ServerStatusStopped || status == ServerStatusShuttingDown {
		return nil
	}
	s.status.Store(int32(ServerStatusShuttingDown))

	if s.transport != nil && !s.transport.IsClosed() {
		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownGrace)
		_ = s.transport.Call(shutdownCtx, "shutdown", nil, nil)
		_ = s.transport.Notify(shutdownCtx, "exit", nil)
		cancel()
	}

	s.stopLocked()
	s.status.Store(int32(ServerStatusStopped))
	return nil
}

// stopLocked tears down the transport and process. Must hold mu.
func (s *Server) stopLocked() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.transport != nil {
		s.transport.Close()
	}
	if s.proc != nil {
		s.proc.terminate(s.config.ShutdownGrace)
	}
}

// Status returns the current server status.
func (s *Server) Status() ServerStatus {
	return ServerStatus(s.status.Load())
}

// Capabilities returns the capabilities the server advertised.
func (s *Server) Capabilities() ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

// Language returns the language this server handles.
func (s *Server) Language() string {
	return s.language
}

// PID returns the server process id, or 0 when not running.
func (s *Server) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.pid
}

// ExitChannel receives once when the server process exits.
func (s *Server) ExitChannel() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return nil
	}
	return s.proc.ExitChannel()
}

// LastError returns the last lifecycle error.
func (s *Server) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// requestCtx derives a context bounded by the server's request timeout.
func (s *Server) requestCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.RequestTimeout)
}

// --- Document lifecycle ---

// OpenFile opens a document, sending didOpen on the first reference.
// Subsequent opens only bump the reference count.
func (s *Server) OpenFile(ctx context.Context, path string) error {
	if s.Status() != ServerStatusReady {
		return ErrServerNotReady
	}

	uri := FilePathToURI(path)

	s.documentsMu.Lock()
	if doc, ok := s.documents[uri]; ok {
		doc.refs++
		s.documentsMu.Unlock()
		return nil
	}
	doc := &openDocument{uri: uri, language: s.language, version: 1, refs: 1}
	s.documents[uri] = doc
	s.documentsMu.Unlock()

	content, err := os.ReadFile(path)
	if err != nil {
		s.documentsMu.Lock()
		delete(s.documents, uri)
		s.documentsMu.Unlock()
		return fmt.Errorf("read %s: %w", path, err)
	}

	params := DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: s.language,
			Version:    1,
			Text:       string(content),
		},
	}
	return s.transport.Notify(ctx, "textDocument/didOpen", params)
}

// CloseFile drops one reference to a document, sending didClose when
// the last reference is released.
func (s *Server) CloseFile(ctx context.Context, path string) error {
	if s.Status() != ServerStatusReady {
		return ErrServerNotReady
	}

	uri := FilePathToURI(path)

	s.documentsMu.Lock()
	doc, ok := s.documents[uri]
	if !ok {
		s.documentsMu.Unlock()
		return ErrDocumentNotOpen
	}
	doc.refs--
	if doc.refs > 0 {
		s.documentsMu.Unlock()
		return nil
	}
	delete(s.documents, uri)
	s.documentsMu.Unlock()

	params := DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	}
	return s.transport.Notify(ctx, "textDocument/didClose", params)
}

// NotifyChanged sends a full-content didChange for a file the broker
// modified on disk. A no-op when the file is not open.
func (s *Server) NotifyChanged(ctx context.Context, path, content string) error {
	if s.Status() != ServerStatusReady {
		return ErrServerNotReady
	}

	uri := FilePathToURI(path)

	s.documentsMu.Lock()
	doc, ok := s.documents[uri]
	if !ok {
		s.documentsMu.Unlock()
		return nil
	}
	doc.version++
	version := doc.version
	s.documentsMu.Unlock()

	params := DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: TextDocumentIdentifier{URI: uri},
			Version:                version,
		},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: content}},
	}
	return s.transport.Notify(ctx, "textDocument/didChange", params)
}

// IsFileOpen reports whether the document is currently open.
func (s *Server) IsFileOpen(path string) bool {
	uri := FilePathToURI(path)
	s.documentsMu.Lock()
	defer s.documentsMu.Unlock()
	_, ok := s.documents[uri]
	return ok
}

// withOpenFile runs fn with the file opened, balancing the reference.
func (s *Server) withOpenFile(ctx context.Context, path string, fn func() error) error {
	if err := s.OpenFile(ctx, path); err != nil {
		return err
	}
	defer func() { _ = s.CloseFile(ctx, path) }()
	return fn()
}

// --- Requests ---

// DocumentSymbols returns the hierarchical symbol list for a file. A
// flat SymbolInformation response is converted to hierarchical form by
// range containment.
func (s *Server) DocumentSymbols(ctx context.Context, path string) ([]DocumentSymbol, error) {
	if s.Status() != ServerStatusReady {
		return nil, ErrServerNotReady
	}
	if FeatureSupport(s.language, FeatureDocumentSymbols) == SupportFallback ||
		!HasCapability(s.capabilities.DocumentSymbolProvider) {
		return nil, nil
	}

	var raw json.RawMessage
	err := s.withOpenFile(ctx, path, func() error {
		ctx, cancel := s.requestCtx(ctx)
		defer cancel()
		var err error
		raw, err = s.transport.CallRaw(ctx, "textDocument/documentSymbol", DocumentSymbolParams{
			TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return ParseDocumentSymbolResult(raw)
}

// Definition returns the definition locations for a position.
func (s *Server) Definition(ctx context.Context, path string, pos Position) ([]Location, error) {
	if s.Status() != ServerStatusReady {
		return nil, ErrServerNotReady
	}
	if FeatureSupport(s.language, FeatureDefinition) == SupportFallback ||
		!HasCapability(s.capabilities.DefinitionProvider) {
		return nil, nil
	}

	var raw json.RawMessage
	err := s.withOpenFile(ctx, path, func() error {
		ctx, cancel := s.requestCtx(ctx)
		defer cancel()
		var err error
		raw, err = s.transport.CallRaw(ctx, "textDocument/definition", TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
			Position:     pos,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return ParseLocationResult(raw)
}

// References returns all references to the symbol at a position.
func (s *Server) References(ctx context.Context, path string, pos Position, includeDecl bool) ([]Location, error) {
	if s.Status() != ServerStatusReady {
		return nil, ErrServerNotReady
	}
	if FeatureSupport(s.language, FeatureReferences) == SupportFallback ||
		!HasCapability(s.capabilities.ReferencesProvider) {
		return nil, nil
	}

	var result []Location
	err := s.withOpenFile(ctx, path, func() error {
		ctx, cancel := s.requestCtx(ctx)
		defer cancel()
		return s.transport.Call(ctx, "textDocument/references", ReferenceParams{
			TextDocumentPositionParams: TextDocumentPositionParams{
				TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
				Position:     pos,
			},
			Context: ReferenceContext{IncludeDeclaration: includeDecl},
		}, &result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Hover returns hover information at a position.
func (s *Server) Hover(ctx context.Context, path string, pos Position) (*Hover, error) {
	if s.Status() != ServerStatusReady {
		return nil, ErrServerNotReady
	}
	if FeatureSupport(s.language, FeatureHover) == SupportFallback ||
		!HasCapability(s.capabilities.HoverProvider) {
		return nil, nil
	}

	var result *Hover
	err := s.withOpenFile(ctx, path, func() error {
		ctx, cancel := s.requestCtx(ctx)
		defer cancel()
		return s.transport.Call(ctx, "textDocument/hover", TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
			Position:     pos,
		}, &result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PrepareRename validates a rename position.
func (s *Server) PrepareRename(ctx context.Context, path string, pos Position) (*PrepareRenameResult, error) {
	if s.Status() != ServerStatusReady {
		return nil, ErrServerNotReady
	}
	if FeatureSupport(s.language, FeatureRename) == SupportFallback ||
		!HasCapability(s.capabilities.RenameProvider) {
		return nil, nil
	}

	var result *PrepareRenameResult
	err := s.withOpenFile(ctx, path, func() error {
		ctx, cancel := s.requestCtx(ctx)
		defer cancel()
		return s.transport.Call(ctx, "textDocument/prepareRename", TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
			Position:     pos,
		}, &result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Rename computes the workspace edit for renaming the symbol at a
// position. The edit is returned, not applied; see ApplyWorkspaceEdit.
func (s *Server) Rename(ctx context.Context, path string, pos Position, newName string) (*WorkspaceEdit, error) {
	if s.Status() != ServerStatusReady {
		return nil, ErrServerNotReady
	}
	if FeatureSupport(s.language, FeatureRename) == SupportFallback ||
		!HasCapability(s.capabilities.RenameProvider) {
		return nil, nil
	}

	var result *WorkspaceEdit
	err := s.withOpenFile(ctx, path, func() error {
		ctx, cancel := s.requestCtx(ctx)
		defer cancel()
		return s.transport.Call(ctx, "textDocument/rename", RenameParams{
			TextDocumentPositionParams: TextDocumentPositionParams{
				TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
				Position:     pos,
			},
			NewName: newName,
		}, &result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CallHierarchyPrepare resolves the callable at a position for
// hierarchy traversal. Languages graded SupportFallback get an empty
// result; callers there fall back to references-based traversal.
func (s *Server) CallHierarchyPrepare(ctx context.Context, path string, pos Position) ([]CallHierarchyItem, error) {
	if s.Status() != ServerStatusReady {
		return nil, ErrServerNotReady
	}
	if FeatureSupport(s.language, FeatureCallHierarchy) == SupportFallback ||
		!HasCapability(s.capabilities.CallHierarchyProvider) {
		return nil, nil
	}

	var result []CallHierarchyItem
	err := s.withOpenFile(ctx, path, func() error {
		ctx, cancel := s.requestCtx(ctx)
		defer cancel()
		return s.transport.Call(ctx, "textDocument/prepareCallHierarchy", CallHierarchyPrepareParams{
			TextDocumentPositionParams: TextDocumentPositionParams{
				TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
				Position:     pos,
			},
		}, &result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// IncomingCalls returns the callers of a prepared hierarchy item.
func (s *Server) IncomingCalls(ctx context.Context, item CallHierarchyItem) ([]CallHierarchyIncomingCall, error) {
	if s.Status() != ServerStatusReady {
		return nil, ErrServerNotReady
	}
	if FeatureSupport(s.language, FeatureCallHierarchy) == SupportFallback {
		return nil, nil
	}

	ctx, cancel := s.requestCtx(ctx)
	defer cancel()

	var result []CallHierarchyIncomingCall
	if err := s.transport.Call(ctx, "callHierarchy/incomingCalls", CallHierarchyCallsParams{Item: item}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// OutgoingCalls returns the callees of a prepared hierarchy item.
func (s *Server) OutgoingCalls(ctx context.Context, item CallHierarchyItem) ([]CallHierarchyOutgoingCall, error) {
	if s.Status() != ServerStatusReady {
		return nil, ErrServerNotReady
	}
	if FeatureSupport(s.language, FeatureCallHierarchy) == SupportFallback {
		return nil, nil
	}

	ctx, cancel := s.requestCtx(ctx)
	defer cancel()

	var result []CallHierarchyOutgoingCall
	if err := s.transport.Call(ctx, "callHierarchy/outgoingCalls", CallHierarchyCallsParams{Item: item}, &result); err != nil {
		return nil, err
	}
	return result, nil
}
