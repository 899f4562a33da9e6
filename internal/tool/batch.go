package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// batchTool executes a list of tool calls with dependency analysis and
// wave-parallel execution, returning results in input order. The
// executor is resolved through a provider because the executor itself
// is built over the registry the batch tool lives in.
type batchTool struct {
	executor func() *Executor
}

func (t *batchTool) Name() string { return "batch_execute_tools" }

func (t *batchTool) Description() string {
	return "Execute several tool calls at once. Calls on independent files " +
		"run in parallel; reads and writes of the same file keep their order."
}

func (t *batchTool) Schema() map[string]any {
	return objectSchema([]string{"tool_names", "tool_params"}, map[string]any{
		"tool_names": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Tool names, one per call",
		},
		"tool_params": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "object"},
			"description": "Parameter objects matching tool_names by position",
		},
	})
}

// batchEntry is one per-call result on the wire.
type batchEntry struct {
	Index  int    `json:"index"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (t *batchTool) Apply(ctx context.Context, params json.RawMessage) (string, error) {
	var p struct {
		ToolNames  []string          `json:"tool_names"`
		ToolParams []json.RawMessage `json:"tool_params"`
	}
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	if len(p.ToolNames) == 0 {
		return "", fmt.Errorf("tool_names is required")
	}
	if len(p.ToolNames) != len(p.ToolParams) {
		return "", fmt.Errorf("tool_names and tool_params lengths differ (%d vs %d)",
			len(p.ToolNames), len(p.ToolParams))
	}
	if p.ToolNames[0] == t.Name() {
		return "", fmt.Errorf("batch_execute_tools cannot nest itself")
	}

	executor := t.executor()
	if executor == nil {
		return "", fmt.Errorf("executor not available")
	}

	calls := make([]Call, len(p.ToolNames))
	for i, name := range p.ToolNames {
		if name == t.Name() {
			return "", fmt.Errorf("batch_execute_tools cannot nest itself")
		}
		calls[i] = Call{Name: name, Params: p.ToolParams[i], Index: i}
	}

	results, execErr := executor.ExecuteBatch(ctx, calls)

	entries := make([]batchEntry, len(results))
	for i, res := range results {
		entries[i] = batchEntry{Index: res.Index, Result: res.Output, Error: res.ErrorText()}
	}
	payload := map[string]any{"results": entries}
	if execErr != nil {
		// Partial results are still returned; the batch-level error
		// rides alongside them.
		payload["batch_error"] = execErr.Error()
	}
	return jsonResult(payload)
}
