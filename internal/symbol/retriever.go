package symbol

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/codelens/internal/lsp"
)

// Source abstracts how the retriever reads project files. The project
// package implements it with descriptor-aware decoding (encoding field,
// ignored paths).
type Source interface {
	// ReadSource returns the decoded content of a project-relative file.
	ReadSource(relPath string) (string, error)

	// WriteSource atomically replaces a project-relative file.
	WriteSource(relPath, content string) error

	// ListSourceFiles returns project-relative paths of source files
	// under a project-relative directory, recursively, ignored paths
	// excluded.
	ListSourceFiles(relDir string) ([]string, error)

	// Abs resolves a project-relative path to an absolute one.
	Abs(relPath string) string
}

// Retriever answers name-path queries and applies symbol-level edits.
// It sits on top of the polyglot manager, consulting the session cache
// first and collapsing concurrent identical LSP requests through the
// coalescer.
type Retriever struct {
	manager   *lsp.Manager
	cache     *Cache
	store     *Store // optional persistent tier
	coalescer *Coalescer
	source    Source
	log       *zap.Logger

	touchedMu sync.Mutex
	touched   map[string]struct{}
}

// RetrieverOption configures the retriever.
type RetrieverOption func(*Retriever)

// WithStore attaches a persistent cache tier.
func WithStore(store *Store) RetrieverOption {
	return func(r *Retriever) {
		r.store = store
	}
}

// NewRetriever creates a retriever over the manager and source.
func NewRetriever(manager *lsp.Manager, source Source, cache *Cache, log *zap.Logger, opts ...RetrieverOption) *Retriever {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Retriever{
		manager:   manager,
		cache:     cache,
		coalescer: NewCoalescer(0),
		source:    source,
		log:       log,
		touched:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FindOptions parameterize Find.
type FindOptions struct {
	// NamePath is the pattern (see ParsePattern).
	NamePath string

	// WithinPath scopes the search to a file or directory. Empty means
	// every file the retriever has touched this session.
	WithinPath string

	// Kinds filters the matched leaf symbols; interior chain segments
	// are unaffected.
	Kinds KindFilter

	// Substring makes literal segments match by containment.
	Substring bool

	// IncludeBody attaches the source body of each match.
	IncludeBody bool

	// Depth is how many descendant levels each match keeps.
	Depth int
}

// treeDigest versions the cached-tree encoding. Trees are cached
// unfiltered (filtering happens on the cached copy), so the digest is
// a constant format tag rather than a hash of per-call options.
func treeDigest() string {
	sum := sha256.Sum256([]byte("tree/v1"))
	return hex.EncodeToString(sum[:8])
}

// keyFor stats the file and builds its cache key. The mtime and size in
// the key make stale entries unreachable after any modification.
func (r *Retriever) keyFor(relPath string) (CacheKey, error) {
	info, err := os.Stat(r.source.Abs(relPath))
	if err != nil {
		return CacheKey{}, fmt.Errorf("stat %s: %w", relPath, err)
	}
	return CacheKey{
		RelPath:       relPath,
		MtimeNS:       info.ModTime().UnixNano(),
		Size:          info.Size(),
		OptionsDigest: treeDigest(),
	}, nil
}

// TreeFor returns the symbol tree for a file, from cache when the file
// is unchanged, otherwise from the language server.
func (r *Retriever) TreeFor(ctx context.Context, relPath string) (*Tree, error) {
	key, err := r.keyFor(relPath)
	if err != nil {
		return nil, err
	}

	r.touchedMu.Lock()
	r.touched[relPath] = struct{}{}
	r.touchedMu.Unlock()

	if tree, ok := r.cache.Get(key); ok {
		return tree, nil
	}
	if r.store != nil {
		if tree, ok := r.store.Load(key); ok {
			r.cache.Put(key, tree)
			return tree, nil
		}
	}

	value, err := r.coalescer.Do(ctx, "documentSymbol:"+key.String(), relPath, func(ctx context.Context) (any, error) {
		server, err := r.manager.ServerForFile(ctx, r.source.Abs(relPath))
		if err != nil {
			if errors.Is(err, lsp.ErrNotApplicable) {
				return &Tree{RelPath: relPath, MtimeNS: key.MtimeNS, Size: key.Size}, nil
			}
			return nil, err
		}
		docSymbols, err := server.DocumentSymbols(ctx, r.source.Abs(relPath))
		if err != nil {
			return nil, err
		}
		return BuildTree(relPath, key.MtimeNS, key.Size, docSymbols), nil
	})
	if err != nil {
		return nil, err
	}

	tree := value.(*Tree)
	r.cache.Put(key, tree)
	if r.store != nil {
		r.store.Schedule(key, tree)
	}
	return tree, nil
}

// Find resolves a name-path pattern to symbols, ordered by
// (relative path, start line, start character).
func (r *Retriever) Find(ctx context.Context, opts FindOptions) ([]*Symbol, error) {
	pattern := ParsePattern(opts.NamePath, opts.Substring)
	if pattern.Empty() {
		return nil, nil
	}

	files, err := r.scopeFiles(opts.WithinPath)
	if err != nil {
		return nil, err
	}

	var matches []*Symbol
	for _, relPath := range files {
		tree, err := r.TreeFor(ctx, relPath)
		if err != nil {
			// A file that cannot be analyzed narrows the result, it
			// does not fail the search across the remaining scope.
			r.log.Debug("skipping file in find", zap.String("path", relPath), zap.Error(err))
			continue
		}
		tree.Walk(func(s *Symbol) bool {
			if !pattern.Matches(s.NamePath) || !opts.Kinds.Accepts(s.KindValue) {
				return true
			}
			match := s.Prune(opts.Depth)
			if opts.IncludeBody {
				if body, err := r.BodyFor(s); err == nil {
					match.Body = body
				}
			}
			matches = append(matches, match)
			return true
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.RelPath != b.RelPath {
			return a.RelPath < b.RelPath
		}
		return rangeStartLess(a.Range, b.Range)
	})
	return matches, nil
}

// scopeFiles resolves a WithinPath to the list of files to search.
func (r *Retriever) scopeFiles(within string) ([]string, error) {
	if within == "" {
		r.touchedMu.Lock()
		files := make([]string, 0, len(r.touched))
		for f := range r.touched {
			files = append(files, f)
		}
		r.touchedMu.Unlock()
		sort.Strings(files)
		return files, nil
	}

	info, err := os.Stat(r.source.Abs(within))
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", within, err)
	}
	if !info.IsDir() {
		return []string{within}, nil
	}
	return r.source.ListSourceFiles(within)
}

// Overview returns the top-depth symbol forest of a file without
// bodies — the token-efficient default surface.
func (r *Retriever) Overview(ctx context.Context, relPath string, depth int) ([]*Symbol, error) {
	if depth <= 0 {
		depth = 1
	}
	tree, err := r.TreeFor(ctx, relPath)
	if err != nil {
		return nil, err
	}
	out := make([]*Symbol, 0, len(tree.Roots))
	for _, root := range tree.Roots {
		out = append(out, root.Prune(depth))
	}
	return out, nil
}

// BodyFor slices the symbol's source: full lines from the start line
// through the end line, inclusive of the last line's newline.
func (r *Retriever) BodyFor(s *Symbol) (string, error) {
	content, err := r.source.ReadSource(s.RelPath)
	if err != nil {
		return "", err
	}
	return sliceLines(content, s.Range.Start.Line, s.Range.End.Line), nil
}

// sliceLines returns lines [startLine, endLine] of content, keeping
// the trailing newline of the last line when present.
func sliceLines(content string, startLine, endLine int) string {
	start := lineOffset(content, startLine)
	end := lineOffset(content, endLine+1)
	return content[start:end]
}

// lineOffset returns the byte offset of the start of line (0-based),
// clamping past-the-end lines to len(content).
func lineOffset(content string, line int) int {
	offset := 0
	for l := 0; l < line; l++ {
		idx := strings.IndexByte(content[offset:], '\n')
		if idx < 0 {
			return len(content)
		}
		offset += idx + 1
	}
	return offset
}

// --- Modification operations ---

// resolveOne resolves a name path to exactly one symbol for a
// modification. Zero matches is ErrNoSymbol; more than one is
// AmbiguousError with the candidates.
func (r *Retriever) resolveOne(ctx context.Context, namePath, relPath string) (*Symbol, error) {
	matches, err := r.Find(ctx, FindOptions{NamePath: namePath, WithinPath: relPath})
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s in %s", ErrNoSymbol, namePath, relPath)
	case 1:
		return matches[0], nil
	default:
		return nil, &AmbiguousError{NamePath: namePath, Candidates: matches}
	}
}

// applyLineEdit rewrites a file by replacing lines [startLine, endLine)
// with replacement, atomically, then invalidates every cache tier for
// the path and notifies the file's language server. endLine == startLine
// inserts without removing.
func (r *Retriever) applyLineEdit(ctx context.Context, relPath string, startLine, endLine int, replacement string) error {
	content, err := r.source.ReadSource(relPath)
	if err != nil {
		return err
	}

	start := lineOffset(content, startLine)
	end := lineOffset(content, endLine)
	updated := content[:start] + replacement + content[end:]

	if err := r.source.WriteSource(relPath, updated); err != nil {
		return err
	}

	r.InvalidatePath(relPath)

	// Keep any open server in sync with the on-disk change.
	if server, err := r.manager.ServerForFile(ctx, r.source.Abs(relPath)); err == nil {
		_ = server.NotifyChanged(ctx, r.source.Abs(relPath), updated)
	}
	return nil
}

// InvalidatePath drops every cached answer for a file across the
// session cache, the persistent store, and the coalescer's result
// window. Write tools call this before returning.
func (r *Retriever) InvalidatePath(relPath string) {
	r.cache.InvalidatePath(relPath)
	if r.store != nil {
		r.store.Invalidate(relPath)
	}
	r.coalescer.Invalidate(relPath)
}

// normalizeBody guarantees a body ends with exactly one newline so
// line-based splicing keeps the following line intact.
func normalizeBody(body string) string {
	return strings.TrimRight(body, "\n") + "\n"
}

// ReplaceBody replaces the full declaration of one symbol.
func (r *Retriever) ReplaceBody(ctx context.Context, namePath, relPath, newBody string) (*Symbol, error) {
	sym, err := r.resolveOne(ctx, namePath, relPath)
	if err != nil {
		return nil, err
	}
	err = r.applyLineEdit(ctx, relPath, sym.Range.Start.Line, sym.Range.End.Line+1, normalizeBody(newBody))
	if err != nil {
		return nil, err
	}
	return sym, nil
}

// InsertBefore inserts content as new lines immediately before a
// symbol's declaration.
func (r *Retriever) InsertBefore(ctx context.Context, namePath, relPath, content string) (*Symbol, error) {
	sym, err := r.resolveOne(ctx, namePath, relPath)
	if err != nil {
		return nil, err
	}
	line := sym.Range.Start.Line
	err = r.applyLineEdit(ctx, relPath, line, line, normalizeBody(content))
	if err != nil {
		return nil, err
	}
	return sym, nil
}

// InsertAfter inserts content as new lines immediately after a symbol's
// declaration.
func (r *Retriever) InsertAfter(ctx context.Context, namePath, relPath, content string) (*Symbol, error) {
	sym, err := r.resolveOne(ctx, namePath, relPath)
	if err != nil {
		return nil, err
	}
	line := sym.Range.End.Line + 1
	err = r.applyLineEdit(ctx, relPath, line, line, normalizeBody(content))
	if err != nil {
		return nil, err
	}
	return sym, nil
}

// DeleteSymbol removes a symbol's declaration lines.
func (r *Retriever) DeleteSymbol(ctx context.Context, namePath, relPath string) (*Symbol, error) {
	sym, err := r.resolveOne(ctx, namePath, relPath)
	if err != nil {
		return nil, err
	}
	err = r.applyLineEdit(ctx, relPath, sym.Range.Start.Line, sym.Range.End.Line+1, "")
	if err != nil {
		return nil, err
	}
	return sym, nil
}

// RenameSymbol renames a symbol across the workspace through the
// language server, applying the returned edit client-side. Returns the
// modified project-relative paths.
func (r *Retriever) RenameSymbol(ctx context.Context, namePath, relPath, newName string) ([]string, error) {
	sym, err := r.resolveOne(ctx, namePath, relPath)
	if err != nil {
		return nil, err
	}

	absPath := r.source.Abs(relPath)
	server, err := r.manager.ServerForFile(ctx, absPath)
	if err != nil {
		return nil, err
	}

	pos := sym.SelectionRange.Start
	edit, err := server.Rename(ctx, absPath, pos, newName)
	if err != nil {
		return nil, err
	}
	if edit == nil || len(edit.Edits()) == 0 {
		return nil, fmt.Errorf("server produced no edit renaming %s", namePath)
	}

	modified, err := lsp.ApplyWorkspaceEdit(edit)
	if err != nil {
		return nil, err
	}

	root := r.manager.RootPath()
	relModified := make([]string, 0, len(modified))
	for _, abs := range modified {
		rel, relErr := filepath.Rel(root, abs)
		if relErr != nil {
			rel = abs
		}
		relModified = append(relModified, rel)
		r.InvalidatePath(rel)
		if content, readErr := os.ReadFile(abs); readErr == nil {
			_ = server.NotifyChanged(ctx, abs, string(content))
		}
	}
	return relModified, nil
}

// Stats exposes the session-cache counters.
func (r *Retriever) Stats() CacheStats {
	return r.cache.Stats()
}

// FlushStore forces the persistent tier to disk. Used at shutdown.
func (r *Retriever) FlushStore(timeout time.Duration) {
	if r.store != nil {
		r.store.FlushAll(timeout)
	}
}
