package project

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dshills/codelens/internal/lsp"
)

// SearchOptions configure a pattern search over the project tree.
type SearchOptions struct {
	// IncludeGlob restricts matches to paths matching the glob.
	IncludeGlob string

	// ExcludeGlob drops paths matching the glob.
	ExcludeGlob string

	// CodeFilesOnly restricts the search to files with a recognized
	// source language.
	CodeFilesOnly bool

	// ContextBefore and ContextAfter add surrounding lines to matches.
	ContextBefore int
	ContextAfter  int

	// MaxResults caps the result count (0 = unlimited).
	MaxResults int
}

// SearchMatch is one matched line with optional context.
type SearchMatch struct {
	RelPath string   `json:"relative_path"`
	Line    int      `json:"line"` // 1-based
	Text    string   `json:"text"`
	Before  []string `json:"context_before,omitempty"`
	After   []string `json:"context_after,omitempty"`
}

// maxSearchFileSize skips files too large to be source.
const maxSearchFileSize = 4 << 20

// Search runs a regex pattern over the project tree, honoring ignored
// paths and the options' globs. Matches come back in (path, line)
// order.
func (p *Project) Search(ctx context.Context, pattern string, opts SearchOptions) ([]SearchMatch, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	var results []SearchMatch
	stop := fmt.Errorf("search limit reached")

	err = filepath.WalkDir(p.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel := p.Rel(path)
		if d.IsDir() {
			if rel != "." && p.Ignored(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if p.Ignored(rel) || !matchesGlobs(rel, opts) {
			return nil
		}
		if opts.CodeFilesOnly && lsp.DetectLanguage(path) == "" {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxSearchFileSize {
			return nil
		}

		content, err := p.ReadSource(rel)
		if err != nil || strings.ContainsRune(content, 0) {
			return nil
		}

		lines := strings.Split(content, "\n")
		for idx, line := range lines {
			if !re.MatchString(line) {
				continue
			}
			results = append(results, buildMatch(rel, lines, idx, opts))
			if opts.MaxResults > 0 && len(results) >= opts.MaxResults {
				return stop
			}
		}
		return nil
	})
	if err != nil && err != stop {
		return nil, err
	}
	return results, nil
}

// buildMatch assembles one match with its context lines.
func buildMatch(rel string, lines []string, idx int, opts SearchOptions) SearchMatch {
	match := SearchMatch{RelPath: rel, Line: idx + 1, Text: lines[idx]}
	for b := idx - opts.ContextBefore; b < idx; b++ {
		if b >= 0 {
			match.Before = append(match.Before, lines[b])
		}
	}
	for a := idx + 1; a <= idx+opts.ContextAfter && a < len(lines); a++ {
		match.After = append(match.After, lines[a])
	}
	return match
}

// matchesGlobs applies the include/exclude globs against both the full
// relative path and the base name.
func matchesGlobs(rel string, opts SearchOptions) bool {
	slashRel := filepath.ToSlash(rel)
	if opts.IncludeGlob != "" && !globMatch(opts.IncludeGlob, slashRel) {
		return false
	}
	if opts.ExcludeGlob != "" && globMatch(opts.ExcludeGlob, slashRel) {
		return false
	}
	return true
}

func globMatch(glob, slashRel string) bool {
	if ok, _ := filepath.Match(glob, slashRel); ok {
		return true
	}
	if ok, _ := filepath.Match(glob, filepath.Base(slashRel)); ok {
		return true
	}
	// "**/" prefixes match at any depth.
	if strings.HasPrefix(glob, "**/") {
		suffix := strings.TrimPrefix(glob, "**/")
		if ok, _ := filepath.Match(suffix, filepath.Base(slashRel)); ok {
			return true
		}
	}
	return false
}
