package symbol

import (
	"strings"

	"github.com/dshills/codelens/internal/lsp"
)

// Pattern is a parsed name-path query: SEG ('/' SEG)* where SEG is a
// literal identifier or the * wildcard. A leading / anchors the first
// segment at the top level of a file; otherwise the chain may start at
// any depth.
type Pattern struct {
	segments  []string
	anchored  bool
	substring bool
}

// ParsePattern parses a name-path pattern. With substring true, literal
// segments match any symbol name that contains them.
func ParsePattern(raw string, substring bool) Pattern {
	anchored := strings.HasPrefix(raw, "/")
	raw = strings.TrimPrefix(raw, "/")
	segs := strings.Split(raw, "/")
	// Collapse empty segments from doubled slashes.
	out := segs[:0]
	for _, s := range segs {
		if s != "" {
			out = append(out, s)
		}
	}
	return Pattern{segments: out, anchored: anchored, substring: substring}
}

// Empty reports whether the pattern has no segments.
func (p Pattern) Empty() bool {
	return len(p.segments) == 0
}

// Depth returns the number of segments.
func (p Pattern) Depth() int {
	return len(p.segments)
}

// matchSegment matches one pattern segment against a symbol name.
func (p Pattern) matchSegment(seg, name string) bool {
	if seg == "*" {
		return true
	}
	if p.substring {
		return strings.Contains(name, seg)
	}
	return seg == name
}

// Matches reports whether the pattern matches a symbol's name path.
// Each pattern segment consumes one trailing segment of the path; an
// anchored pattern must consume the entire path.
func (p Pattern) Matches(namePath string) bool {
	if p.Empty() {
		return false
	}
	path := strings.Split(namePath, "/")
	if len(path) < len(p.segments) {
		return false
	}
	if p.anchored && len(path) != len(p.segments) {
		return false
	}
	offset := len(path) - len(p.segments)
	for i, seg := range p.segments {
		if !p.matchSegment(seg, path[offset+i]) {
			return false
		}
	}
	return true
}

// KindFilter restricts matches to a set of leaf kinds. A nil filter
// accepts everything; interior segments of a pattern are never
// filtered, only the matched leaf.
type KindFilter map[lsp.SymbolKind]bool

// ParseKindFilter builds a filter from LSP kind names ("Class",
// "Method", ...). Unknown names are reported back to the caller.
func ParseKindFilter(names []string) (KindFilter, []string) {
	if len(names) == 0 {
		return nil, nil
	}
	filter := make(KindFilter, len(names))
	var unknown []string
	for _, name := range names {
		if kind, ok := lsp.SymbolKindFromName(name); ok {
			filter[kind] = true
		} else {
			unknown = append(unknown, name)
		}
	}
	return filter, unknown
}

// Accepts reports whether the filter accepts a kind.
func (f KindFilter) Accepts(kind lsp.SymbolKind) bool {
	if f == nil {
		return true
	}
	return f[kind]
}
