package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// symbolEditParams is the common parameter pair of the symbol
// modification tools.
type symbolEditParams struct {
	NamePath     string `json:"name_path"`
	RelativePath string `json:"relative_path"`
}

func (p *symbolEditParams) validate() error {
	if p.NamePath == "" || p.RelativePath == "" {
		return fmt.Errorf("name_path and relative_path are required")
	}
	return nil
}

func symbolEditSchema(extraRequired []string, extraProps map[string]any) map[string]any {
	props := map[string]any{
		"name_path":     stringProp("Name path resolving to exactly one symbol"),
		"relative_path": stringProp("File declaring the symbol"),
	}
	for k, v := range extraProps {
		props[k] = v
	}
	required := append([]string{"name_path", "relative_path"}, extraRequired...)
	return objectSchema(required, props)
}

// --- replace_symbol_body ---

type replaceBodyTool struct {
	box *Toolbox
}

func (t *replaceBodyTool) Name() string { return "replace_symbol_body" }

func (t *replaceBodyTool) Description() string {
	return "Replace the full declaration of a symbol with new source."
}

func (t *replaceBodyTool) Schema() map[string]any {
	return symbolEditSchema([]string{"new_body"}, map[string]any{
		"new_body": stringProp("Replacement source for the symbol's declaration"),
	})
}

func (t *replaceBodyTool) Apply(ctx context.Context, params json.RawMessage) (string, error) {
	var p struct {
		symbolEditParams
		NewBody string `json:"new_body"`
	}
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	if err := p.validate(); err != nil {
		return "", err
	}

	_, retriever, err := t.box.ensure(ctx)
	if err != nil {
		return "", err
	}

	sym, err := retriever.ReplaceBody(ctx, p.NamePath, p.RelativePath, p.NewBody)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]any{
		"replaced":      sym.NamePath,
		"relative_path": sym.RelPath,
	})
}

// --- insert_before_symbol ---

type insertBeforeTool struct {
	box *Toolbox
}

func (t *insertBeforeTool) Name() string { return "insert_before_symbol" }

func (t *insertBeforeTool) Description() string {
	return "Insert source lines immediately before a symbol's declaration."
}

func (t *insertBeforeTool) Schema() map[string]any {
	return symbolEditSchema([]string{"content"}, map[string]any{
		"content": stringProp("Lines to insert"),
	})
}

func (t *insertBeforeTool) Apply(ctx context.Context, params json.RawMessage) (string, error) {
	var p struct {
		symbolEditParams
		Content string `json:"content"`
	}
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	if err := p.validate(); err != nil {
		return "", err
	}

	_, retriever, err := t.box.ensure(ctx)
	if err != nil {
		return "", err
	}

	sym, err := retriever.InsertBefore(ctx, p.NamePath, p.RelativePath, p.Content)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]any{
		"inserted_before": sym.NamePath,
		"relative_path":   sym.RelPath,
	})
}

// --- insert_after_symbol ---

type insertAfterTool struct {
	box *Toolbox
}

func (t *insertAfterTool) Name() string { return "insert_after_symbol" }

func (t *insertAfterTool) Description() string {
	return "Insert source lines immediately after a symbol's declaration."
}

func (t *insertAfterTool) Schema() map[string]any {
	return symbolEditSchema([]string{"content"}, map[string]any{
		"content": stringProp("Lines to insert"),
	})
}

func (t *insertAfterTool) Apply(ctx context.Context, params json.RawMessage) (string, error) {
	var p struct {
		symbolEditParams
		Content string `json:"content"`
	}
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	if err := p.validate(); err != nil {
		return "", err
	}

	_, retriever, err := t.box.ensure(ctx)
	if err != nil {
		return "", err
	}

	sym, err := retriever.InsertAfter(ctx, p.NamePath, p.RelativePath, p.Content)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]any{
		"inserted_after": sym.NamePath,
		"relative_path":  sym.RelPath,
	})
}

// --- delete_symbol ---

type deleteSymbolTool struct {
	box *Toolbox
}

func (t *deleteSymbolTool) Name() string { return "delete_symbol" }

func (t *deleteSymbolTool) Description() string {
	return "Delete a symbol's declaration lines."
}

func (t *deleteSymbolTool) Schema() map[string]any {
	return symbolEditSchema(nil, nil)
}

func (t *deleteSymbolTool) Apply(ctx context.Context, params json.RawMessage) (string, error) {
	var p symbolEditParams
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	if err := p.validate(); err != nil {
		return "", err
	}

	_, retriever, err := t.box.ensure(ctx)
	if err != nil {
		return "", err
	}

	sym, err := retriever.DeleteSymbol(ctx, p.NamePath, p.RelativePath)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]any{
		"deleted":       sym.NamePath,
		"relative_path": sym.RelPath,
	})
}

// --- rename_symbol ---

type renameSymbolTool struct {
	box *Toolbox
}

func (t *renameSymbolTool) Name() string { return "rename_symbol" }

func (t *renameSymbolTool) Description() string {
	return "Rename a symbol across the workspace via the language server."
}

func (t *renameSymbolTool) Schema() map[string]any {
	return symbolEditSchema([]string{"new_name"}, map[string]any{
		"new_name": stringProp("The symbol's new name"),
	})
}

func (t *renameSymbolTool) Apply(ctx context.Context, params json.RawMessage) (string, error) {
	var p struct {
		symbolEditParams
		NewName string `json:"new_name"`
	}
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	if err := p.validate(); err != nil {
		return "", err
	}
	if p.NewName == "" {
		return "", fmt.Errorf("new_name is required")
	}

	_, retriever, err := t.box.ensure(ctx)
	if err != nil {
		return "", err
	}

	modified, err := retriever.RenameSymbol(ctx, p.NamePath, p.RelativePath, p.NewName)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]any{
		"renamed":        p.NamePath,
		"new_name":       p.NewName,
		"modified_files": modified,
	})
}
