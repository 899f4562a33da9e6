package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/sjson"

	"github.com/dshills/codelens/internal/lsp"
	"github.com/dshills/codelens/internal/project"
	"github.com/dshills/codelens/internal/symbol"
)

// --- get_symbols_overview ---

type overviewTool struct {
	box *Toolbox
}

func (t *overviewTool) Name() string { return "get_symbols_overview" }

func (t *overviewTool) Description() string {
	return "Return the top-level symbol tree of a file without bodies. " +
		"The token-efficient way to learn a file's structure."
}

func (t *overviewTool) Schema() map[string]any {
	return objectSchema([]string{"relative_path"}, map[string]any{
		"relative_path": stringProp("File to outline, relative to the project root"),
		"depth":         intProp("Descendant levels to include (default 1)"),
	})
}

func (t *overviewTool) Apply(ctx context.Context, params json.RawMessage) (string, error) {
	var p struct {
		RelativePath string `json:"relative_path"`
		Depth        int    `json:"depth"`
	}
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	if p.RelativePath == "" {
		return "", fmt.Errorf("relative_path is required")
	}

	_, retriever, err := t.box.ensure(ctx)
	if err != nil {
		return "", err
	}

	symbols, err := retriever.Overview(ctx, p.RelativePath, p.Depth)
	if err != nil {
		return "", err
	}
	return jsonResult(symbols)
}

// --- find_symbol ---

type findSymbolTool struct {
	box *Toolbox
}

func (t *findSymbolTool) Name() string { return "find_symbol" }

func (t *findSymbolTool) Description() string {
	return "Find symbols by name path (e.g. \"Class/method\", wildcards allowed). " +
		"Scope with relative_path; request bodies with include_body."
}

func (t *findSymbolTool) Schema() map[string]any {
	return objectSchema([]string{"name_path_pattern"}, map[string]any{
		"name_path_pattern":  stringProp("Name path pattern: SEG('/'SEG)*, '*' wildcard, leading '/' anchors at file top level"),
		"relative_path":      stringProp("File or directory to search; empty searches files seen this session"),
		"kinds":              map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "LSP kind names filtering matched leaves (Class, Method, Function, ...)"},
		"substring_matching": boolProp("Match literal segments by containment"),
		"include_body":       boolProp("Attach each match's source body"),
		"depth":              intProp("Descendant levels to keep on each match"),
	})
}

func (t *findSymbolTool) Apply(ctx context.Context, params json.RawMessage) (string, error) {
	var p struct {
		NamePathPattern   string   `json:"name_path_pattern"`
		RelativePath      string   `json:"relative_path"`
		Kinds             []string `json:"kinds"`
		SubstringMatching bool     `json:"substring_matching"`
		IncludeBody       bool     `json:"include_body"`
		Depth             int      `json:"depth"`
	}
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	if p.NamePathPattern == "" {
		return "", fmt.Errorf("name_path_pattern is required")
	}

	kinds, unknown := symbol.ParseKindFilter(p.Kinds)
	if len(unknown) > 0 {
		return "", fmt.Errorf("unknown symbol kinds: %v (use LSP names such as Class, Method, Function)", unknown)
	}

	_, retriever, err := t.box.ensure(ctx)
	if err != nil {
		return "", err
	}

	matches, err := retriever.Find(ctx, symbol.FindOptions{
		NamePath:    p.NamePathPattern,
		WithinPath:  p.RelativePath,
		Kinds:       kinds,
		Substring:   p.SubstringMatching,
		IncludeBody: p.IncludeBody,
		Depth:       p.Depth,
	})
	if err != nil {
		return "", err
	}

	out, err := jsonResult(map[string]any{"symbols": matches})
	if err != nil {
		return "", err
	}
	return sjson.Set(out, "count", len(matches))
}

// --- find_referencing_symbols ---

type findRefsTool struct {
	box *Toolbox
}

func (t *findRefsTool) Name() string { return "find_referencing_symbols" }

func (t *findRefsTool) Description() string {
	return "Find code locations referencing a symbol, with the enclosing " +
		"symbol of each reference where one exists."
}

func (t *findRefsTool) Schema() map[string]any {
	return objectSchema([]string{"name_path", "relative_path"}, map[string]any{
		"name_path":     stringProp("Name path of the referenced symbol"),
		"relative_path": stringProp("File declaring the symbol"),
	})
}

// reference is one reference site in a findRefsTool result.
type reference struct {
	RelPath   string         `json:"relative_path"`
	Line      int            `json:"line"`
	Character int            `json:"character"`
	Enclosing *symbol.Symbol `json:"enclosing_symbol,omitempty"`
}

func (t *findRefsTool) Apply(ctx context.Context, params json.RawMessage) (string, error) {
	var p struct {
		NamePath     string `json:"name_path"`
		RelativePath string `json:"relative_path"`
	}
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	if p.NamePath == "" || p.RelativePath == "" {
		return "", fmt.Errorf("name_path and relative_path are required")
	}

	proj, retriever, err := t.box.ensure(ctx)
	if err != nil {
		return "", err
	}

	matches, err := retriever.Find(ctx, symbol.FindOptions{NamePath: p.NamePath, WithinPath: p.RelativePath})
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return jsonResult(map[string]any{"references": []reference{}})
	}
	target := matches[0]

	manager := t.box.Manager()
	server, err := manager.ServerForFile(ctx, proj.Abs(p.RelativePath))
	if err != nil {
		if errors.Is(err, lsp.ErrNotApplicable) {
			return jsonResult(map[string]any{"references": []reference{}})
		}
		return "", err
	}

	locations, err := server.References(ctx, proj.Abs(p.RelativePath), target.SelectionRange.Start, false)
	if err != nil {
		return "", err
	}

	refs := make([]reference, 0, len(locations))
	for _, loc := range locations {
		rel := proj.Rel(lsp.URIToFilePath(loc.URI))
		ref := reference{
			RelPath:   rel,
			Line:      loc.Range.Start.Line + 1,
			Character: loc.Range.Start.Character,
		}
		if enclosing := t.enclosingSymbol(ctx, retriever, rel, loc.Range.Start); enclosing != nil {
			ref.Enclosing = enclosing.Prune(0)
		}
		refs = append(refs, ref)
	}
	return jsonResult(map[string]any{"references": refs})
}

// enclosingSymbol finds the innermost symbol containing a position.
func (t *findRefsTool) enclosingSymbol(ctx context.Context, retriever *symbol.Retriever, relPath string, pos lsp.Position) *symbol.Symbol {
	tree, err := retriever.TreeFor(ctx, relPath)
	if err != nil {
		return nil
	}
	var found *symbol.Symbol
	tree.Walk(func(s *symbol.Symbol) bool {
		r := s.Range
		contains := (r.Start.Line < pos.Line || (r.Start.Line == pos.Line && r.Start.Character <= pos.Character)) &&
			(pos.Line < r.End.Line || (pos.Line == r.End.Line && pos.Character <= r.End.Character))
		if contains {
			found = s // keep descending: innermost wins
		}
		return true
	})
	return found
}

// --- search_for_pattern ---

type searchPatternTool struct {
	box *Toolbox
}

func (t *searchPatternTool) Name() string { return "search_for_pattern" }

func (t *searchPatternTool) Description() string {
	return "Search the project tree with a regular expression, with glob " +
		"filters and optional context lines."
}

func (t *searchPatternTool) Schema() map[string]any {
	return objectSchema([]string{"substring_pattern"}, map[string]any{
		"substring_pattern":             stringProp("Regular expression to search for"),
		"paths_include_glob":            stringProp("Only search paths matching this glob"),
		"paths_exclude_glob":            stringProp("Skip paths matching this glob"),
		"restrict_search_to_code_files": boolProp("Only search recognized source files"),
		"context_lines_before":          intProp("Lines of context before each match"),
		"context_lines_after":           intProp("Lines of context after each match"),
	})
}

func (t *searchPatternTool) Apply(ctx context.Context, params json.RawMessage) (string, error) {
	var p struct {
		Pattern       string `json:"substring_pattern"`
		IncludeGlob   string `json:"paths_include_glob"`
		ExcludeGlob   string `json:"paths_exclude_glob"`
		CodeFilesOnly bool   `json:"restrict_search_to_code_files"`
		Before        int    `json:"context_lines_before"`
		After         int    `json:"context_lines_after"`
	}
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	if p.Pattern == "" {
		return "", fmt.Errorf("substring_pattern is required")
	}

	proj, _, err := t.box.ensure(ctx)
	if err != nil {
		return "", err
	}

	matches, err := proj.Search(ctx, p.Pattern, project.SearchOptions{
		IncludeGlob:   p.IncludeGlob,
		ExcludeGlob:   p.ExcludeGlob,
		CodeFilesOnly: p.CodeFilesOnly,
		ContextBefore: p.Before,
		ContextAfter:  p.After,
		MaxResults:    500,
	})
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]any{"matches": matches})
}
