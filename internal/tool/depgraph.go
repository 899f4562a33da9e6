package tool

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Call is one entry of a batched tool invocation, carrying its position
// in the input batch.
type Call struct {
	Name   string
	Params json.RawMessage
	Index  int
}

// AccessKind classifies how a tool touches its target path.
type AccessKind int

const (
	// AccessIndependent tools touch no shared path.
	AccessIndependent AccessKind = iota
	// AccessRead tools read a path.
	AccessRead
	// AccessWrite tools modify a path.
	AccessWrite
	// AccessSymbol tools operate on symbols of a path; two symbol
	// operations on the same path are always ordered.
	AccessSymbol
)

// accessKinds is the static classification table for the built-in
// tools. Unknown tools with a path parameter are treated as reads.
var accessKinds = map[string]AccessKind{
	"read_file":                AccessRead,
	"list_dir":                 AccessRead,
	"find_file":                AccessRead,
	"search_for_pattern":       AccessRead,
	"get_symbols_overview":     AccessRead,
	"find_symbol":              AccessRead,
	"find_referencing_symbols": AccessRead,

	"create_text_file": AccessWrite,

	"replace_symbol_body":  AccessSymbol,
	"insert_before_symbol": AccessSymbol,
	"insert_after_symbol":  AccessSymbol,
	"delete_symbol":        AccessSymbol,
	"rename_symbol":        AccessSymbol,

	"batch_execute_tools": AccessIndependent,
}

// pathParams are the parameter names consulted, in order, to find the
// path a call operates on.
var pathParams = []string{
	"file_path",
	"relative_path",
	"path",
	"memory_file_name",
	"target_file",
}

// classify returns the access kind and target path of a call.
func classify(call Call) (AccessKind, string) {
	kind, known := accessKinds[call.Name]
	path := extractPath(call.Params)
	if !known {
		if path == "" {
			return AccessIndependent, ""
		}
		return AccessRead, path
	}
	if path == "" && kind != AccessIndependent {
		return AccessIndependent, ""
	}
	return kind, path
}

// extractPath pulls the first known path parameter from raw JSON.
func extractPath(params json.RawMessage) string {
	if len(params) == 0 {
		return ""
	}
	for _, name := range pathParams {
		if v := gjson.GetBytes(params, name); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}

// Graph maps each call index to the indices it depends on.
type Graph map[int][]int

// writes and reads below mean: a Write (or Symbol) access counts as a
// write; Read and Symbol accesses count as reads. Symbol operations on
// the same path are additionally totally ordered among themselves.

// BuildGraph derives the dependency graph for a batch. Edges are added
// only between calls resolving to the same path:
//
//   - a read depends on every earlier write;
//   - a write depends on every earlier read and write;
//   - two symbol operations are sequentially ordered.
func BuildGraph(calls []Call) Graph {
	graph := make(Graph, len(calls))
	for _, call := range calls {
		graph[call.Index] = nil
	}

	type access struct {
		index int
		kind  AccessKind
	}
	byPath := make(map[string][]access)

	for _, call := range calls {
		kind, path := classify(call)
		if kind == AccessIndependent || path == "" {
			continue
		}

		for _, prev := range byPath[path] {
			if dependsOn(kind, prev.kind) {
				graph[call.Index] = append(graph[call.Index], prev.index)
			}
		}
		byPath[path] = append(byPath[path], access{index: call.Index, kind: kind})
	}

	// Defensive: drop self-dependencies.
	for idx, deps := range graph {
		filtered := deps[:0]
		for _, d := range deps {
			if d != idx {
				filtered = append(filtered, d)
			}
		}
		graph[idx] = filtered
	}
	return graph
}

// dependsOn reports whether a later access of kind `cur` must wait for
// an earlier access of kind `prev` on the same path.
func dependsOn(cur, prev AccessKind) bool {
	curWrites := cur == AccessWrite || cur == AccessSymbol
	prevWrites := prev == AccessWrite || prev == AccessSymbol
	if curWrites {
		// Writes wait for everything earlier on the path.
		return true
	}
	// Reads wait only for earlier writes.
	return prevWrites
}

// Waves layers the graph with Kahn's algorithm: in-degree is the length
// of each node's dependency list, and each extraction round becomes one
// wave of mutually independent calls. Any remainder — a cycle, which
// the order-preserving construction shouldn't produce — is collapsed
// into one final wave in input order and logged, never dropped; the
// returned cyclic flag tells the executor to run that last wave
// sequentially.
func (g Graph) Waves(log *zap.Logger) (waves [][]int, cyclic bool) {
	if log == nil {
		log = zap.NewNop()
	}

	inDegree := make(map[int]int, len(g))
	dependents := make(map[int][]int, len(g))
	for idx, deps := range g {
		inDegree[idx] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], idx)
		}
	}

	remaining := len(g)
	for remaining > 0 {
		var wave []int
		for idx, deg := range inDegree {
			if deg == 0 {
				wave = append(wave, idx)
			}
		}
		if len(wave) == 0 {
			// Cycle: everything left becomes one sequential wave in
			// input order.
			var rest []int
			for idx := range inDegree {
				rest = append(rest, idx)
			}
			sortInts(rest)
			log.Warn("dependency cycle in tool batch, sequentializing",
				zap.Ints("indices", rest))
			waves = append(waves, rest)
			return waves, true
		}

		sortInts(wave)
		waves = append(waves, wave)
		for _, idx := range wave {
			delete(inDegree, idx)
			remaining--
			for _, dep := range dependents[idx] {
				if _, ok := inDegree[dep]; ok {
					inDegree[dep]--
				}
			}
		}
	}
	return waves, false
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
