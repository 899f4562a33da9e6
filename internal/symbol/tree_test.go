package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codelens/internal/lsp"
)

func calcDocSymbols() []lsp.DocumentSymbol {
	return []lsp.DocumentSymbol{{
		Name: "Calculator",
		Kind: lsp.SymbolKindClass,
		Range: lsp.Range{
			Start: lsp.Position{Line: 0},
			End:   lsp.Position{Line: 2, Character: 22},
		},
		SelectionRange: lsp.Range{
			Start: lsp.Position{Line: 0, Character: 6},
			End:   lsp.Position{Line: 0, Character: 16},
		},
		Children: []lsp.DocumentSymbol{{
			Name: "add",
			Kind: lsp.SymbolKindMethod,
			Range: lsp.Range{
				Start: lsp.Position{Line: 1, Character: 4},
				End:   lsp.Position{Line: 2, Character: 22},
			},
			SelectionRange: lsp.Range{
				Start: lsp.Position{Line: 1, Character: 8},
				End:   lsp.Position{Line: 1, Character: 11},
			},
		}},
	}}
}

func TestBuildTreeNamePaths(t *testing.T) {
	tree := BuildTree("calc.py", 1, 100, calcDocSymbols())

	require.Len(t, tree.Roots, 1)
	root := tree.Roots[0]
	assert.Equal(t, "Calculator", root.NamePath)
	assert.Equal(t, "Class", root.Kind)
	assert.Equal(t, "calc.py", root.RelPath)

	require.Len(t, root.Children, 1)
	assert.Equal(t, "Calculator/add", root.Children[0].NamePath)
	assert.Equal(t, "Method", root.Children[0].Kind)
}

func TestBuildTreeOrdersChildren(t *testing.T) {
	docSymbols := []lsp.DocumentSymbol{
		{Name: "second", Kind: lsp.SymbolKindFunction, Range: lsp.Range{Start: lsp.Position{Line: 10}}},
		{Name: "first", Kind: lsp.SymbolKindFunction, Range: lsp.Range{Start: lsp.Position{Line: 2}}},
	}
	tree := BuildTree("f.go", 1, 1, docSymbols)
	require.Len(t, tree.Roots, 2)
	assert.Equal(t, "first", tree.Roots[0].Name)
	assert.Equal(t, "second", tree.Roots[1].Name)
}

func TestWalkVisitsDepthFirst(t *testing.T) {
	tree := BuildTree("calc.py", 1, 100, calcDocSymbols())

	var visited []string
	tree.Walk(func(s *Symbol) bool {
		visited = append(visited, s.NamePath)
		return true
	})
	assert.Equal(t, []string{"Calculator", "Calculator/add"}, visited)
}

func TestWalkStopsEarly(t *testing.T) {
	tree := BuildTree("calc.py", 1, 100, calcDocSymbols())

	var visited []string
	tree.Walk(func(s *Symbol) bool {
		visited = append(visited, s.NamePath)
		return false
	})
	assert.Len(t, visited, 1)
}

func TestPruneDepth(t *testing.T) {
	tree := BuildTree("calc.py", 1, 100, calcDocSymbols())
	root := tree.Roots[0]

	bare := root.Prune(0)
	assert.Empty(t, bare.Children)
	assert.NotEmpty(t, root.Children, "pruning must not mutate the original")

	one := root.Prune(1)
	require.Len(t, one.Children, 1)
	assert.Empty(t, one.Children[0].Children)
}

func TestEstimateBytesGrowsWithBody(t *testing.T) {
	tree := BuildTree("calc.py", 1, 100, calcDocSymbols())
	base := tree.EstimateBytes()

	tree.Roots[0].Body = "class Calculator:\n    pass\n"
	assert.Greater(t, tree.EstimateBytes(), base)
}
