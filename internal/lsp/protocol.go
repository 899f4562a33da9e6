package lsp

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
)

// DocumentURI identifies a document, usually a file:// URL.
type DocumentURI string

// Position is a zero-based line/character position in a document.
// Character offsets count UTF-16 code units, per the LSP base protocol.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open [start, end) span in a document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Contains reports whether r fully contains other.
func (r Range) Contains(other Range) bool {
	return !positionLess(other.Start, r.Start) && !positionLess(r.End, other.End)
}

func positionLess(a, b Position) bool {
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return a.Character < b.Character
}

// Location is a range inside a document.
type Location struct {
	URI   DocumentURI `json:"uri"`
	Range Range       `json:"range"`
}

// TextDocumentIdentifier identifies a document by URI.
type TextDocumentIdentifier struct {
	URI DocumentURI `json:"uri"`
}

// VersionedTextDocumentIdentifier adds a version number.
type VersionedTextDocumentIdentifier struct {
	TextDocumentIdentifier
	Version int `json:"version"`
}

// TextDocumentItem is a document transferred to the server.
type TextDocumentItem struct {
	URI        DocumentURI `json:"uri"`
	LanguageID string      `json:"languageId"`
	Version    int         `json:"version"`
	Text       string      `json:"text"`
}

// TextDocumentPositionParams is the common document+position parameter pair.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// --- Initialize ---

// InitializeParams are parameters for the initialize request.
type InitializeParams struct {
	ProcessID             int                `json:"processId"`
	RootURI               DocumentURI        `json:"rootUri,omitempty"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	InitializationOptions any                `json:"initializationOptions,omitempty"`
	WorkspaceFolders      []WorkspaceFolder  `json:"workspaceFolders,omitempty"`
}

// WorkspaceFolder is a root directory the server should index.
type WorkspaceFolder struct {
	URI  DocumentURI `json:"uri"`
	Name string      `json:"name"`
}

// ClientCapabilities advertises what this client understands.
type ClientCapabilities struct {
	Workspace    *WorkspaceClientCapabilities    `json:"workspace,omitempty"`
	TextDocument *TextDocumentClientCapabilities `json:"textDocument,omitempty"`
	Window       *WindowClientCapabilities       `json:"window,omitempty"`
}

// WorkspaceClientCapabilities covers workspace-level features.
type WorkspaceClientCapabilities struct {
	ApplyEdit        bool `json:"applyEdit,omitempty"`
	WorkspaceFolders bool `json:"workspaceFolders,omitempty"`
	Configuration    bool `json:"configuration,omitempty"`
}

// TextDocumentClientCapabilities covers document-level features.
type TextDocumentClientCapabilities struct {
	DocumentSymbol *DocumentSymbolClientCapabilities `json:"documentSymbol,omitempty"`
	PublishDiags   *struct{}                         `json:"publishDiagnostics,omitempty"`
}

// DocumentSymbolClientCapabilities signals hierarchical symbol support.
type DocumentSymbolClientCapabilities struct {
	HierarchicalDocumentSymbolSupport bool `json:"hierarchicalDocumentSymbolSupport,omitempty"`
}

// WindowClientCapabilities covers window-level features.
type WindowClientCapabilities struct {
	WorkDoneProgress bool `json:"workDoneProgress,omitempty"`
}

// InitializeResult is the server's response to initialize.
type InitializeResult struct {
	Capabilities ServerCapabilities    `json:"capabilities"`
	ServerInfo   *InitializeServerInfo `json:"serverInfo,omitempty"`
}

// InitializeServerInfo identifies the server implementation.
type InitializeServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ServerCapabilities is the subset of server capabilities the broker
// consults. Fields typed `any` may be a bool or an options object.
type ServerCapabilities struct {
	TextDocumentSync       any `json:"textDocumentSync,omitempty"`
	DocumentSymbolProvider any `json:"documentSymbolProvider,omitempty"`
	DefinitionProvider     any `json:"definitionProvider,omitempty"`
	ReferencesProvider     any `json:"referencesProvider,omitempty"`
	HoverProvider          any `json:"hoverProvider,omitempty"`
	RenameProvider         any `json:"renameProvider,omitempty"`
	CallHierarchyProvider  any `json:"callHierarchyProvider,omitempty"`
}

// InitializedParams is the (empty) initialized notification payload.
type InitializedParams struct{}

// --- Document lifecycle ---

// DidOpenTextDocumentParams are parameters for textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidCloseTextDocumentParams are parameters for textDocument/didClose.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// DidChangeTextDocumentParams are parameters for textDocument/didChange.
type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// TextDocumentContentChangeEvent describes a document change. A nil
// Range means full-document replacement.
type TextDocumentContentChangeEvent struct {
	Range *Range `json:"range,omitempty"`
	Text  string `json:"text"`
}

// --- Symbols ---

// DocumentSymbolParams are parameters for textDocument/documentSymbol.
type DocumentSymbolParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// DocumentSymbol is a symbol in a document with optional children.
type DocumentSymbol struct {
	Name           string           `json:"name"`
	Detail         string           `json:"detail,omitempty"`
	Kind           SymbolKind       `json:"kind"`
	Deprecated     bool             `json:"deprecated,omitempty"`
	Range          Range            `json:"range"`
	SelectionRange Range            `json:"selectionRange"`
	Children       []DocumentSymbol `json:"children,omitempty"`
}

// SymbolInformation is the flat symbol form some servers return.
type SymbolInformation struct {
	Name          string     `json:"name"`
	Kind          SymbolKind `json:"kind"`
	Deprecated    bool       `json:"deprecated,omitempty"`
	Location      Location   `json:"location"`
	ContainerName string     `json:"containerName,omitempty"`
}

// SymbolKind classifies a symbol, matching LSP values 1..26.
type SymbolKind int

const (
	SymbolKindFile          SymbolKind = 1
	SymbolKindModule        SymbolKind = 2
	SymbolKindNamespace     SymbolKind = 3
	SymbolKindPackage       SymbolKind = 4
	SymbolKindClass         SymbolKind = 5
	SymbolKindMethod        SymbolKind = 6
	SymbolKindProperty      SymbolKind = 7
	SymbolKindField         SymbolKind = 8
	SymbolKindConstructor   SymbolKind = 9
	SymbolKindEnum          SymbolKind = 10
	SymbolKindInterface     SymbolKind = 11
	SymbolKindFunction      SymbolKind = 12
	SymbolKindVariable      SymbolKind = 13
	SymbolKindConstant      SymbolKind = 14
	SymbolKindString        SymbolKind = 15
	SymbolKindNumber        SymbolKind = 16
	SymbolKindBoolean       SymbolKind = 17
	SymbolKindArray         SymbolKind = 18
	SymbolKindObject        SymbolKind = 19
	SymbolKindKey           SymbolKind = 20
	SymbolKindNull          SymbolKind = 21
	SymbolKindEnumMember    SymbolKind = 22
	SymbolKindStruct        SymbolKind = 23
	SymbolKindEvent         SymbolKind = 24
	SymbolKindOperator      SymbolKind = 25
	SymbolKindTypeParameter SymbolKind = 26
)

var symbolKindNames = map[SymbolKind]string{
	SymbolKindFile: "File", SymbolKindModule: "Module",
	SymbolKindNamespace: "Namespace", SymbolKindPackage: "Package",
	SymbolKindClass: "Class", SymbolKindMethod: "Method",
	SymbolKindProperty: "Property", SymbolKindField: "Field",
	SymbolKindConstructor: "Constructor", SymbolKindEnum: "Enum",
	SymbolKindInterface: "Interface", SymbolKindFunction: "Function",
	SymbolKindVariable: "Variable", SymbolKindConstant: "Constant",
	SymbolKindString: "String", SymbolKindNumber: "Number",
	SymbolKindBoolean: "Boolean", SymbolKindArray: "Array",
	SymbolKindObject: "Object", SymbolKindKey: "Key",
	SymbolKindNull: "Null", SymbolKindEnumMember: "EnumMember",
	SymbolKindStruct: "Struct", SymbolKindEvent: "Event",
	SymbolKindOperator: "Operator", SymbolKindTypeParameter: "TypeParameter",
}

// String returns the LSP name for the kind.
func (k SymbolKind) String() string {
	if name, ok := symbolKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// SymbolKindFromName returns the kind for an LSP kind name.
func SymbolKindFromName(name string) (SymbolKind, bool) {
	for k, n := range symbolKindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// --- References, hover ---

// ReferenceParams are parameters for textDocument/references.
type ReferenceParams struct {
	TextDocumentPositionParams
	Context ReferenceContext `json:"context"`
}

// ReferenceContext configures a references request.
type ReferenceContext struct {
	IncludeDeclaration bool `json:"includeDeclaration"`
}

// Hover is the result of textDocument/hover.
type Hover struct {
	Contents MarkupContent `json:"contents"`
	Range    *Range        `json:"range,omitempty"`
}

// MarkupContent is a string with a markup kind.
type MarkupContent struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// UnmarshalJSON tolerates the legacy MarkedString forms.
func (m *MarkupContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		m.Kind = "plaintext"
		m.Value = s
		return nil
	}
	type alias MarkupContent
	var a alias
	if err := json.Unmarshal(data, &a); err == nil && a.Value != "" {
		*m = MarkupContent(a)
		return nil
	}
	// MarkedString array: concatenate values.
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	for _, p := range parts {
		var ps string
		if json.Unmarshal(p, &ps) == nil {
			m.Value += ps + "\n"
			continue
		}
		var obj struct {
			Value string `json:"value"`
		}
		if json.Unmarshal(p, &obj) == nil {
			m.Value += obj.Value + "\n"
		}
	}
	m.Kind = "plaintext"
	return nil
}

// --- Rename and edits ---

// RenameParams are parameters for textDocument/rename.
type RenameParams struct {
	TextDocumentPositionParams
	NewName string `json:"newName"`
}

// PrepareRenameResult is the validated range for a rename, with an
// optional placeholder.
type PrepareRenameResult struct {
	Range       Range  `json:"range"`
	Placeholder string `json:"placeholder,omitempty"`
}

// UnmarshalJSON tolerates the bare-Range and defaultBehavior forms.
func (p *PrepareRenameResult) UnmarshalJSON(data []byte) error {
	var withRange struct {
		Range       *Range `json:"range"`
		Placeholder string `json:"placeholder"`
		Start       *Position
	}
	if err := json.Unmarshal(data, &withRange); err == nil && withRange.Range != nil {
		p.Range = *withRange.Range
		p.Placeholder = withRange.Placeholder
		return nil
	}
	var r Range
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	p.Range = r
	return nil
}

// TextEdit replaces a range with new text.
type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

// WorkspaceEdit maps document URIs to their edits. Servers may return
// either Changes or DocumentChanges; Edits normalizes both.
type WorkspaceEdit struct {
	Changes         map[DocumentURI][]TextEdit `json:"changes,omitempty"`
	DocumentChanges []TextDocumentEdit         `json:"documentChanges,omitempty"`
}

// TextDocumentEdit is the versioned form of per-document edits.
type TextDocumentEdit struct {
	TextDocument VersionedTextDocumentIdentifier `json:"textDocument"`
	Edits        []TextEdit                      `json:"edits"`
}

// Edits returns all edits keyed by URI, merging both encodings.
func (we *WorkspaceEdit) Edits() map[DocumentURI][]TextEdit {
	if we == nil {
		return nil
	}
	out := make(map[DocumentURI][]TextEdit, len(we.Changes)+len(we.DocumentChanges))
	for uri, edits := range we.Changes {
		out[uri] = append(out[uri], edits...)
	}
	for _, dc := range we.DocumentChanges {
		out[dc.TextDocument.URI] = append(out[dc.TextDocument.URI], dc.Edits...)
	}
	return out
}

// --- Call hierarchy ---

// CallHierarchyPrepareParams are parameters for prepareCallHierarchy.
type CallHierarchyPrepareParams struct {
	TextDocumentPositionParams
}

// CallHierarchyItem identifies a callable for hierarchy traversal.
type CallHierarchyItem struct {
	Name           string          `json:"name"`
	Kind           SymbolKind      `json:"kind"`
	Detail         string          `json:"detail,omitempty"`
	URI            DocumentURI     `json:"uri"`
	Range          Range           `json:"range"`
	SelectionRange Range           `json:"selectionRange"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// CallHierarchyCallsParams wraps an item for incoming/outgoing calls.
type CallHierarchyCallsParams struct {
	Item CallHierarchyItem `json:"item"`
}

// CallHierarchyIncomingCall is one caller of the queried item.
type CallHierarchyIncomingCall struct {
	From       CallHierarchyItem `json:"from"`
	FromRanges []Range           `json:"fromRanges"`
}

// CallHierarchyOutgoingCall is one callee of the queried item.
type CallHierarchyOutgoingCall struct {
	To         CallHierarchyItem `json:"to"`
	FromRanges []Range           `json:"fromRanges"`
}

// --- Tolerated inbound notifications ---

// PublishDiagnosticsParams is the payload of publishDiagnostics.
type PublishDiagnosticsParams struct {
	URI         DocumentURI  `json:"uri"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Diagnostic is a reported problem in a document.
type Diagnostic struct {
	Range    Range  `json:"range"`
	Severity int    `json:"severity,omitempty"`
	Code     any    `json:"code,omitempty"`
	Source   string `json:"source,omitempty"`
	Message  string `json:"message"`
}

// LogMessageParams is the payload of window/logMessage.
type LogMessageParams struct {
	Type    int    `json:"type"`
	Message string `json:"message"`
}

// ConfigurationParams is the payload of workspace/configuration.
type ConfigurationParams struct {
	Items []ConfigurationItem `json:"items"`
}

// ConfigurationItem names one requested configuration section.
type ConfigurationItem struct {
	ScopeURI DocumentURI `json:"scopeUri,omitempty"`
	Section  string      `json:"section,omitempty"`
}

// CancelParams is the payload of $/cancelRequest.
type CancelParams struct {
	ID int64 `json:"id"`
}

// --- Utility functions ---

// FilePathToURI converts a file path to a file:// DocumentURI.
func FilePathToURI(path string) DocumentURI {
	if path == "" {
		return ""
	}
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	path = filepath.ToSlash(path)
	if runtime.GOOS == "windows" && len(path) >= 2 && path[1] == ':' {
		path = "/" + path
	}
	u := &url.URL{Scheme: "file", Path: path}
	return DocumentURI(u.String())
}

// URIToFilePath converts a DocumentURI back to a file path.
func URIToFilePath(uri DocumentURI) string {
	if uri == "" {
		return ""
	}
	u, err := url.Parse(string(uri))
	if err != nil || u.Scheme != "file" {
		return string(uri)
	}
	path := u.Path
	if runtime.GOOS == "windows" && len(path) >= 3 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	return filepath.FromSlash(path)
}

// ParseLocationResult parses a definition/references response, which may
// be a single Location, an array of Locations, or LocationLinks.
func ParseLocationResult(data json.RawMessage) ([]Location, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var loc Location
	if err := json.Unmarshal(data, &loc); err == nil && loc.URI != "" {
		return []Location{loc}, nil
	}

	var locs []Location
	if err := json.Unmarshal(data, &locs); err == nil && (len(locs) == 0 || locs[0].URI != "") {
		return locs, nil
	}

	// LocationLink form: {targetUri, targetRange, targetSelectionRange}.
	var links []struct {
		TargetURI            DocumentURI `json:"targetUri"`
		TargetSelectionRange Range       `json:"targetSelectionRange"`
	}
	if err := json.Unmarshal(data, &links); err == nil {
		out := make([]Location, len(links))
		for i, l := range links {
			out[i] = Location{URI: l.TargetURI, Range: l.TargetSelectionRange}
		}
		return out, nil
	}

	return nil, fmt.Errorf("unrecognized location result: %s", truncate(string(data), 120))
}

// ParseDocumentSymbolResult parses a documentSymbol response, which may
// be hierarchical DocumentSymbols or flat SymbolInformation. The flat
// form is converted to a hierarchy by range containment, with children
// ordered by start position.
func ParseDocumentSymbolResult(data json.RawMessage) ([]DocumentSymbol, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	// Probe the first element: hierarchical symbols carry selectionRange.
	var probe []struct {
		SelectionRange *Range `json:"selectionRange"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("unmarshal document symbols: %w", err)
	}
	if len(probe) == 0 {
		return nil, nil
	}

	if probe[0].SelectionRange != nil {
		var symbols []DocumentSymbol
		if err := json.Unmarshal(data, &symbols); err != nil {
			return nil, fmt.Errorf("unmarshal document symbols: %w", err)
		}
		return symbols, nil
	}

	var flat []SymbolInformation
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("unmarshal symbol information: %w", err)
	}
	return NestSymbolInformation(flat), nil
}

// NestSymbolInformation reconstructs a symbol hierarchy from the flat
// SymbolInformation form using range containment. Children end up
// ordered by start position.
func NestSymbolInformation(flat []SymbolInformation) []DocumentSymbol {
	type node struct {
		sym      DocumentSymbol
		children []*node
	}

	nodes := make([]*node, len(flat))
	for i, si := range flat {
		nodes[i] = &node{sym: DocumentSymbol{
			Name:           si.Name,
			Kind:           si.Kind,
			Deprecated:     si.Deprecated,
			Range:          si.Location.Range,
			SelectionRange: si.Location.Range,
		}}
	}

	// Sort by start ascending, wider ranges first, so every node's
	// parent precedes it.
	order := make([]int, len(nodes))
	for i := range order {
		order[i] = i
	}
	sortStable(order, func(a, b int) bool {
		ra, rb := nodes[a].sym.Range, nodes[b].sym.Range
		if ra.Start != rb.Start {
			return positionLess(ra.Start, rb.Start)
		}
		return positionLess(rb.End, ra.End)
	})

	var roots []*node
	var stack []*node
	for _, idx := range order {
		n := nodes[idx]
		for len(stack) > 0 && !stack[len(stack)-1].sym.Range.Contains(n.sym.Range) {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			roots = append(roots, n)
		} else {
			top := stack[len(stack)-1]
			top.children = append(top.children, n)
		}
		stack = append(stack, n)
	}

	var materialize func(n *node) DocumentSymbol
	materialize = func(n *node) DocumentSymbol {
		sym := n.sym
		for _, c := range n.children {
			sym.Children = append(sym.Children, materialize(c))
		}
		return sym
	}

	out := make([]DocumentSymbol, len(roots))
	for i, r := range roots {
		out[i] = materialize(r)
	}
	return out
}

func sortStable(idx []int, less func(a, b int) bool) {
	// Insertion sort: symbol lists are small and mostly ordered.
	for i := 1; i < len(idx); i++ {
		for j := i; j > 0 && less(idx[j], idx[j-1]); j-- {
			idx[j], idx[j-1] = idx[j-1], idx[j]
		}
	}
}

// HasCapability checks whether a capability field is enabled. The field
// can be a bool or an options object.
func HasCapability(cap any) bool {
	if cap == nil {
		return false
	}
	switch v := cap.(type) {
	case bool:
		return v
	default:
		return true
	}
}

// DefaultClientCapabilities returns the capability set the broker sends
// during initialize.
func DefaultClientCapabilities() ClientCapabilities {
	return ClientCapabilities{
		Workspace: &WorkspaceClientCapabilities{
			ApplyEdit:        true,
			WorkspaceFolders: true,
			Configuration:    true,
		},
		TextDocument: &TextDocumentClientCapabilities{
			DocumentSymbol: &DocumentSymbolClientCapabilities{
				HierarchicalDocumentSymbolSupport: true,
			},
		},
		Window: &WindowClientCapabilities{WorkDoneProgress: true},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
