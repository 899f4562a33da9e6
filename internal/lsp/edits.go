package lsp

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// PositionToOffset converts an LSP position (line + UTF-16 character)
// to a byte offset in content. Positions past the end of a line clamp
// to the line end; lines past the end clamp to len(content).
func PositionToOffset(content string, pos Position) int {
	offset := 0
	for line := 0; line < pos.Line; line++ {
		idx := strings.IndexByte(content[offset:], '\n')
		if idx < 0 {
			return len(content)
		}
		offset += idx + 1
	}

	// Walk the line converting UTF-16 units to bytes.
	units := 0
	for i := offset; i < len(content); {
		if units >= pos.Character {
			return i
		}
		r, size := utf8.DecodeRuneInString(content[i:])
		if r == '\n' {
			return i
		}
		units += len(utf16.Encode([]rune{r}))
		i += size
		offset = i
	}
	return offset
}

// OffsetToPosition converts a byte offset to an LSP position.
func OffsetToPosition(content string, offset int) Position {
	if offset > len(content) {
		offset = len(content)
	}
	line := strings.Count(content[:offset], "\n")
	lineStart := strings.LastIndexByte(content[:offset], '\n') + 1

	units := 0
	for i := lineStart; i < offset; {
		r, size := utf8.DecodeRuneInString(content[i:])
		units += len(utf16.Encode([]rune{r}))
		i += size
	}
	return Position{Line: line, Character: units}
}

// ApplyEditsToContent applies text edits to a document, splicing in
// reverse document order so earlier edits don't shift later offsets.
func ApplyEditsToContent(content string, edits []TextEdit) string {
	sorted := make([]TextEdit, len(edits))
	copy(sorted, edits)
	sort.SliceStable(sorted, func(i, j int) bool {
		return positionLess(sorted[j].Range.Start, sorted[i].Range.Start)
	})

	for _, edit := range sorted {
		start := PositionToOffset(content, edit.Range.Start)
		end := PositionToOffset(content, edit.Range.End)
		if end < start {
			end = start
		}
		content = content[:start] + edit.NewText + content[end:]
	}
	return content
}

// ApplyWorkspaceEdit applies a workspace edit to the files on disk.
// Each file is rewritten atomically (temp write then rename): either
// all of a file's edits land or none do. Returns the modified paths.
func ApplyWorkspaceEdit(edit *WorkspaceEdit) ([]string, error) {
	byURI := edit.Edits()
	modified := make([]string, 0, len(byURI))

	for uri, edits := range byURI {
		if len(edits) == 0 {
			continue
		}
		path := URIToFilePath(uri)

		content, err := os.ReadFile(path)
		if err != nil {
			return modified, fmt.Errorf("read %s: %w", path, err)
		}

		updated := ApplyEditsToContent(string(content), edits)
		if err := WriteFileAtomic(path, []byte(updated)); err != nil {
			return modified, err
		}
		modified = append(modified, path)
	}

	sort.Strings(modified)
	return modified, nil
}

// WriteFileAtomic writes content to path through a temp file in the
// same directory followed by a rename, preserving the original mode.
func WriteFileAtomic(path string, content []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode()
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
