package project

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/codelens/internal/lsp"
)

// languageStat accumulates detection evidence for one language.
type languageStat struct {
	language string
	files    int
	bytes    int64
}

// detectSkipDirs are tree names never scanned during detection.
var detectSkipDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true,
	"node_modules": true, "vendor": true, "target": true,
	"dist": true, "build": true, "__pycache__": true,
	".venv": true, "venv": true, AppDirName: true,
}

// maxDetectedLanguages caps how many languages a detected descriptor
// declares.
const maxDetectedLanguages = 3

// DetectLanguages scans a source tree and returns up to the top three
// languages by file count, ties broken by total byte size, then by
// name for determinism.
func DetectLanguages(root string) ([]string, error) {
	stats := make(map[string]*languageStat)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if detectSkipDirs[name] || (strings.HasPrefix(name, ".") && path != root) {
				return filepath.SkipDir
			}
			return nil
		}

		lang := lsp.DetectLanguage(path)
		if lang == "" {
			return nil
		}

		stat, ok := stats[lang]
		if !ok {
			stat = &languageStat{language: lang}
			stats[lang] = stat
		}
		stat.files++
		if info, err := d.Info(); err == nil {
			stat.bytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ranked := make([]*languageStat, 0, len(stats))
	for _, stat := range stats {
		ranked = append(ranked, stat)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.files != b.files {
			return a.files > b.files
		}
		if a.bytes != b.bytes {
			return a.bytes > b.bytes
		}
		return a.language < b.language
	})

	if len(ranked) > maxDetectedLanguages {
		ranked = ranked[:maxDetectedLanguages]
	}
	out := make([]string, len(ranked))
	for i, stat := range ranked {
		out[i] = stat.language
	}
	return out, nil
}
