package project

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/dshills/codelens/internal/lsp"
)

// Project is an activated project: a root directory plus its loaded
// descriptor. It implements the file access the retriever and tools
// use, honoring the descriptor's encoding, ignored paths, and
// read-only flag.
type Project struct {
	root   string
	config *Config

	enc encoding.Encoding // nil means UTF-8 passthrough

	ignoreMu       sync.Mutex
	gitignoreLines []string
	gitignoreRead  bool
}

// Open activates a project from its root and descriptor.
func Open(root string, config *Config) (*Project, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	p := &Project{root: absRoot, config: config}
	if config.Encoding != "" {
		enc, err := lookupEncoding(config.Encoding)
		if err != nil {
			return nil, err
		}
		p.enc = enc
	}
	return p, nil
}

// lookupEncoding resolves an IANA encoding name. UTF-8 resolves to nil
// (passthrough).
func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unknown encoding %q", name)
	}
	if enc == unicode.UTF8 {
		return nil, nil
	}
	return enc, nil
}

// Root returns the absolute project root.
func (p *Project) Root() string {
	return p.root
}

// Config returns the descriptor.
func (p *Project) Config() *Config {
	return p.config
}

// Abs resolves a project-relative path.
func (p *Project) Abs(relPath string) string {
	if filepath.IsAbs(relPath) {
		return relPath
	}
	return filepath.Join(p.root, relPath)
}

// Rel converts an absolute path to project-relative form.
func (p *Project) Rel(absPath string) string {
	rel, err := filepath.Rel(p.root, absPath)
	if err != nil {
		return absPath
	}
	return rel
}

// ReadSource reads and decodes a project-relative file per the
// descriptor's encoding.
func (p *Project) ReadSource(relPath string) (string, error) {
	data, err := os.ReadFile(p.Abs(relPath))
	if err != nil {
		return "", err
	}
	if p.enc == nil {
		return string(data), nil
	}
	decoded, err := p.enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode %s as %s: %w", relPath, p.config.Encoding, err)
	}
	return string(decoded), nil
}

// WriteSource encodes and atomically writes a project-relative file.
// Fails when the descriptor marks the project read-only.
func (p *Project) WriteSource(relPath, content string) error {
	if p.config.ReadOnly {
		return fmt.Errorf("write %s: project %s is read-only", relPath, p.config.ProjectName)
	}
	data := []byte(content)
	if p.enc != nil {
		encoded, err := p.enc.NewEncoder().Bytes(data)
		if err != nil {
			return fmt.Errorf("encode %s as %s: %w", relPath, p.config.Encoding, err)
		}
		data = encoded
	}
	return lsp.WriteFileAtomic(p.Abs(relPath), data)
}

// CreateFile creates or replaces a file, creating parent directories.
func (p *Project) CreateFile(relPath, content string) error {
	if p.config.ReadOnly {
		return fmt.Errorf("create %s: project %s is read-only", relPath, p.config.ProjectName)
	}
	abs := p.Abs(relPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return p.WriteSource(relPath, content)
}

// Ignored reports whether a project-relative path is excluded by the
// descriptor's ignored_paths or, when enabled, the root .gitignore.
func (p *Project) Ignored(relPath string) bool {
	rel := filepath.ToSlash(relPath)

	if strings.HasPrefix(rel, AppDirName+"/") || rel == AppDirName {
		return true
	}
	for _, pattern := range p.config.IgnoredPaths {
		if matchIgnore(pattern, rel) {
			return true
		}
	}
	if p.config.IgnoreGitignoredFiles {
		for _, pattern := range p.gitignorePatterns() {
			if matchIgnore(pattern, rel) {
				return true
			}
		}
	}
	return false
}

// gitignorePatterns lazily reads the root .gitignore once.
func (p *Project) gitignorePatterns() []string {
	p.ignoreMu.Lock()
	defer p.ignoreMu.Unlock()

	if p.gitignoreRead {
		return p.gitignoreLines
	}
	p.gitignoreRead = true

	data, err := os.ReadFile(filepath.Join(p.root, ".gitignore"))
	if err != nil {
		return nil
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		p.gitignoreLines = append(p.gitignoreLines, line)
	}
	return p.gitignoreLines
}

// matchIgnore matches a gitignore-style pattern against a slash-form
// relative path: bare names match any path segment, patterns with
// slashes match from the root, trailing slashes match directories and
// their contents.
func matchIgnore(pattern, rel string) bool {
	pattern = strings.TrimSuffix(strings.TrimPrefix(pattern, "/"), "/")
	if pattern == "" {
		return false
	}

	if strings.Contains(pattern, "/") {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		return strings.HasPrefix(rel, pattern+"/")
	}

	for _, segment := range strings.Split(rel, "/") {
		if ok, _ := filepath.Match(pattern, segment); ok {
			return true
		}
	}
	return false
}

// ListSourceFiles returns project-relative paths of recognized source
// files under relDir, recursively, skipping ignored paths. Results are
// sorted.
func (p *Project) ListSourceFiles(relDir string) ([]string, error) {
	var files []string
	base := p.Abs(relDir)

	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel := p.Rel(path)
		if d.IsDir() {
			if rel != "." && p.Ignored(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if p.Ignored(rel) {
			return nil
		}
		if lsp.DetectLanguage(path) == "" {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ListDir lists a directory's entries (project-relative), optionally
// recursive, ignored paths excluded. Directories carry a trailing
// separator.
func (p *Project) ListDir(relDir string, recursive bool) ([]string, error) {
	base := p.Abs(relDir)
	var out []string

	if !recursive {
		entries, err := os.ReadDir(base)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			rel := p.Rel(filepath.Join(base, entry.Name()))
			if p.Ignored(rel) {
				continue
			}
			if entry.IsDir() {
				rel += string(filepath.Separator)
			}
			out = append(out, rel)
		}
		sort.Strings(out)
		return out, nil
	}

	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel := p.Rel(path)
		if rel == "." {
			return nil
		}
		if p.Ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			rel += string(filepath.Separator)
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// FindFiles returns project-relative paths under relDir whose base name
// matches mask (shell glob).
func (p *Project) FindFiles(mask, relDir string) ([]string, error) {
	base := p.Abs(relDir)
	var out []string

	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel := p.Rel(path)
		if d.IsDir() {
			if rel != "." && p.Ignored(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if p.Ignored(rel) {
			return nil
		}
		if ok, _ := filepath.Match(mask, filepath.Base(path)); ok {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
