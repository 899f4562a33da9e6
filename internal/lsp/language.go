package lsp

import (
	"path/filepath"
	"strings"
)

// extensionLanguages maps a lowercase file extension (no dot) to the
// language it belongs to.
var extensionLanguages = map[string]string{
	"go":     "go",
	"rs":     "rust",
	"ts":     "typescript",
	"tsx":    "typescript",
	"js":     "javascript",
	"jsx":    "javascript",
	"mjs":    "javascript",
	"cjs":    "javascript",
	"py":     "python",
	"pyi":    "python",
	"c":      "c",
	"h":      "c",
	"cpp":    "cpp",
	"cc":     "cpp",
	"cxx":    "cpp",
	"hpp":    "cpp",
	"hxx":    "cpp",
	"java":   "java",
	"rb":     "ruby",
	"php":    "php",
	"swift":  "swift",
	"kt":     "kotlin",
	"kts":    "kotlin",
	"scala":  "scala",
	"cs":     "csharp",
	"dart":   "dart",
	"ex":     "elixir",
	"exs":    "elixir",
	"hs":     "haskell",
	"ml":     "ocaml",
	"mli":    "ocaml",
	"lua":    "lua",
	"zig":    "zig",
	"tf":     "terraform",
	"tfvars": "terraform",
	"yaml":   "yaml",
	"yml":    "yaml",
}

// filenameLanguages maps exact base filenames that carry no useful
// extension to their language.
var filenameLanguages = map[string]string{
	"CMakeLists.txt": "cmake",
	"Dockerfile":     "dockerfile",
	"Makefile":       "make",
	"go.mod":         "gomod",
	"BUILD":          "starlark",
	"BUILD.bazel":    "starlark",
	"WORKSPACE":      "starlark",
}

// DetectLanguage returns the language for a file path, or "" when the
// file maps to no known language.
func DetectLanguage(path string) string {
	base := filepath.Base(path)
	if lang, ok := filenameLanguages[base]; ok {
		return lang
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(base), "."))
	if ext == "" {
		return ""
	}
	return extensionLanguages[ext]
}

// ExtensionsForLanguage returns the extensions belonging to a language.
func ExtensionsForLanguage(language string) []string {
	var exts []string
	for ext, lang := range extensionLanguages {
		if lang == language {
			exts = append(exts, ext)
		}
	}
	return exts
}

// KnownLanguages returns every language the extension table covers.
func KnownLanguages() map[string]bool {
	known := make(map[string]bool, len(extensionLanguages))
	for _, lang := range extensionLanguages {
		known[lang] = true
	}
	return known
}

// DefaultServerConfigs returns launch configurations for the language
// servers the broker knows how to drive.
func DefaultServerConfigs() map[string]ServerConfig {
	return map[string]ServerConfig{
		"go": {
			Command: "gopls",
			Args:    []string{"serve"},
		},
		"rust": {
			Command: "rust-analyzer",
		},
		"typescript": {
			Command: "typescript-language-server",
			Args:    []string{"--stdio"},
		},
		"javascript": {
			Command: "typescript-language-server",
			Args:    []string{"--stdio"},
		},
		"python": {
			Command: "pyright-langserver",
			Args:    []string{"--stdio"},
		},
		"c": {
			Command: "clangd",
		},
		"cpp": {
			Command: "clangd",
		},
		"java": {
			Command: "jdtls",
		},
		"ruby": {
			Command: "solargraph",
			Args:    []string{"stdio"},
		},
		"php": {
			Command: "intelephense",
			Args:    []string{"--stdio"},
		},
		"kotlin": {
			Command: "kotlin-language-server",
		},
		"csharp": {
			Command: "omnisharp",
			Args:    []string{"-lsp"},
		},
		"elixir": {
			Command: "elixir-ls",
		},
		"terraform": {
			Command: "terraform-ls",
			Args:    []string{"serve"},
		},
		"yaml": {
			Command: "yaml-language-server",
			Args:    []string{"--stdio"},
		},
	}
}
