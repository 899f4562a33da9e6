package symbol

import (
	"sort"
	"strings"

	"github.com/dshills/codelens/internal/lsp"
)

// Symbol is the broker's view of a declared entity: an LSP document
// symbol annotated with its file and name path, and optionally its
// source body. Children are ordered by start position.
type Symbol struct {
	Name           string         `json:"name"`
	Kind           string         `json:"kind"`
	NamePath       string         `json:"name_path"`
	RelPath        string         `json:"relative_path"`
	Range          lsp.Range      `json:"range"`
	SelectionRange lsp.Range      `json:"selection_range"`
	Detail         string         `json:"detail,omitempty"`
	Body           string         `json:"body,omitempty"`
	Children       []*Symbol      `json:"children,omitempty"`
	KindValue      lsp.SymbolKind `json:"-"`
}

// Tree is the per-file rooted forest of symbols, keyed by the file
// state it was built from.
type Tree struct {
	RelPath string    `json:"relative_path"`
	MtimeNS int64     `json:"mtime_ns"`
	Size    int64     `json:"size"`
	Roots   []*Symbol `json:"roots"`
}

// BuildTree converts an LSP document-symbol forest into a Tree, filling
// name paths and ordering children by start position.
func BuildTree(relPath string, mtimeNS, size int64, docSymbols []lsp.DocumentSymbol) *Tree {
	tree := &Tree{RelPath: relPath, MtimeNS: mtimeNS, Size: size}
	tree.Roots = convertSymbols(relPath, "", docSymbols)
	return tree
}

func convertSymbols(relPath, parentPath string, docSymbols []lsp.DocumentSymbol) []*Symbol {
	out := make([]*Symbol, 0, len(docSymbols))
	for _, ds := range docSymbols {
		namePath := ds.Name
		if parentPath != "" {
			namePath = parentPath + "/" + ds.Name
		}
		sym := &Symbol{
			Name:           ds.Name,
			Kind:           ds.Kind.String(),
			KindValue:      ds.Kind,
			NamePath:       namePath,
			RelPath:        relPath,
			Range:          ds.Range,
			SelectionRange: ds.SelectionRange,
			Detail:         ds.Detail,
		}
		sym.Children = convertSymbols(relPath, namePath, ds.Children)
		out = append(out, sym)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rangeStartLess(out[i].Range, out[j].Range)
	})
	return out
}

func rangeStartLess(a, b lsp.Range) bool {
	if a.Start.Line != b.Start.Line {
		return a.Start.Line < b.Start.Line
	}
	return a.Start.Character < b.Start.Character
}

// Walk visits every symbol in the tree depth-first in document order.
func (t *Tree) Walk(visit func(*Symbol) bool) {
	var walk func([]*Symbol) bool
	walk = func(syms []*Symbol) bool {
		for _, s := range syms {
			if !visit(s) {
				return false
			}
			if !walk(s.Children) {
				return false
			}
		}
		return true
	}
	walk(t.Roots)
}

// Prune returns a copy of the symbol with descendants below depth
// removed. depth 0 strips all children; depth 1 keeps one level.
func (s *Symbol) Prune(depth int) *Symbol {
	clone := *s
	clone.Children = nil
	if depth <= 0 {
		return &clone
	}
	for _, c := range s.Children {
		clone.Children = append(clone.Children, c.Prune(depth-1))
	}
	return &clone
}

// WithBody returns a copy of the symbol with its body attached.
func (s *Symbol) WithBody(body string) *Symbol {
	clone := *s
	clone.Body = body
	return &clone
}

// Segments splits the symbol's name path.
func (s *Symbol) Segments() []string {
	return strings.Split(s.NamePath, "/")
}

// EstimateBytes approximates the memory footprint of a symbol subtree
// for cache accounting.
func (s *Symbol) EstimateBytes() int64 {
	size := int64(len(s.Name) + len(s.Kind) + len(s.NamePath) + len(s.RelPath) +
		len(s.Detail) + len(s.Body) + 96)
	for _, c := range s.Children {
		size += c.EstimateBytes()
	}
	return size
}

// EstimateBytes approximates the memory footprint of a tree.
func (t *Tree) EstimateBytes() int64 {
	size := int64(len(t.RelPath) + 48)
	for _, r := range t.Roots {
		size += r.EstimateBytes()
	}
	return size
}
