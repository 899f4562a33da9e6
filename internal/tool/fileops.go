package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"
)

// --- read_file ---

type readFileTool struct {
	box *Toolbox
}

func (t *readFileTool) Name() string { return "read_file" }

func (t *readFileTool) Description() string {
	return "Read a project file. Prefer symbol tools for source files; " +
		"this reads the whole file."
}

func (t *readFileTool) Schema() map[string]any {
	return objectSchema([]string{"relative_path"}, map[string]any{
		"relative_path": stringProp("File to read, relative to the project root"),
	})
}

func (t *readFileTool) Apply(ctx context.Context, params json.RawMessage) (string, error) {
	var p struct {
		RelativePath string `json:"relative_path"`
	}
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	if p.RelativePath == "" {
		return "", fmt.Errorf("relative_path is required")
	}

	proj, _, err := t.box.ensure(ctx)
	if err != nil {
		return "", err
	}

	content, err := proj.ReadSource(p.RelativePath)
	if err != nil {
		return "", err
	}

	out, err := jsonResult(map[string]any{"content": content})
	if err != nil {
		return "", err
	}
	return sjson.Set(out, "relative_path", p.RelativePath)
}

// --- create_text_file ---

type createFileTool struct {
	box *Toolbox
}

func (t *createFileTool) Name() string { return "create_text_file" }

func (t *createFileTool) Description() string {
	return "Create or overwrite a project file with the given content."
}

func (t *createFileTool) Schema() map[string]any {
	return objectSchema([]string{"relative_path", "content"}, map[string]any{
		"relative_path": stringProp("File to create, relative to the project root"),
		"content":       stringProp("Full file content"),
	})
}

func (t *createFileTool) Apply(ctx context.Context, params json.RawMessage) (string, error) {
	var p struct {
		RelativePath string `json:"relative_path"`
		Content      string `json:"content"`
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
	proj := t.box.Project()

	if err := proj.CreateFile(p.RelativePath, p.Content); err != nil {
		return "", err
	}
	retriever.InvalidatePath(p.RelativePath)

	return jsonResult(map[string]any{
		"created":       p.RelativePath,
		"bytes_written": len(p.Content),
	})
}

// --- list_dir ---

type listDirTool struct {
	box *Toolbox
}

func (t *listDirTool) Name() string { return "list_dir" }

func (t *listDirTool) Description() string {
	return "List a project directory's entries; ignored paths are skipped."
}

func (t *listDirTool) Schema() map[string]any {
	return objectSchema([]string{"relative_path"}, map[string]any{
		"relative_path": stringProp("Directory to list, relative to the project root ('.' for the root)"),
		"recursive":     boolProp("Recurse into subdirectories"),
	})
}

func (t *listDirTool) Apply(ctx context.Context, params json.RawMessage) (string, error) {
	var p struct {
		RelativePath string `json:"relative_path"`
		Recursive    bool   `json:"recursive"`
	}
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	if p.RelativePath == "" {
		p.RelativePath = "."
	}

	proj, _, err := t.box.ensure(ctx)
	if err != nil {
		return "", err
	}

	entries, err := proj.ListDir(p.RelativePath, p.Recursive)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]any{"entries": entries})
}

// --- find_file ---

type findFileTool struct {
	box *Toolbox
}

func (t *findFileTool) Name() string { return "find_file" }

func (t *findFileTool) Description() string {
	return "Find files by base-name glob under a directory."
}

func (t *findFileTool) Schema() map[string]any {
	return objectSchema([]string{"file_mask"}, map[string]any{
		"file_mask":     stringProp("Shell glob matched against file base names (e.g. '*_test.go')"),
		"relative_path": stringProp("Directory to search under (default project root)"),
	})
}

func (t *findFileTool) Apply(ctx context.Context, params json.RawMessage) (string, error) {
	var p struct {
		FileMask     string `json:"file_mask"`
		RelativePath string `json:"relative_path"`
	}
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	if p.FileMask == "" {
		return "", fmt.Errorf("file_mask is required")
	}
	if p.RelativePath == "" {
		p.RelativePath = "."
	}

	proj, _, err := t.box.ensure(ctx)
	if err != nil {
		return "", err
	}

	files, err := proj.FindFiles(p.FileMask, p.RelativePath)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]any{"files": files})
}
