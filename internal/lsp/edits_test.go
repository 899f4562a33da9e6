package lsp

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPositionToOffsetASCII(t *testing.T) {
	content := "first\nsecond\nthird\n"

	cases := []struct {
		pos  Position
		want int
	}{
		{Position{Line: 0, Character: 0}, 0},
		{Position{Line: 0, Character: 5}, 5},
		{Position{Line: 1, Character: 0}, 6},
		{Position{Line: 1, Character: 3}, 9},
		{Position{Line: 2, Character: 5}, 18},
		{Position{Line: 0, Character: 99}, 5},  // clamps at line end
		{Position{Line: 99, Character: 0}, 19}, // clamps at EOF
	}
	for _, tc := range cases {
		if got := PositionToOffset(content, tc.pos); got != tc.want {
			t.Errorf("PositionToOffset(%+v) = %d, want %d", tc.pos, got, tc.want)
		}
	}
}

func TestPositionToOffsetUTF16(t *testing.T) {
	// "héllo 🎉 x" — é is 1 UTF-16 unit / 2 bytes, 🎉 is 2 units / 4 bytes.
	content := "héllo 🎉 x"

	// Character 8 is just past the emoji (h,é,l,l,o,space = 6 units,
	// emoji = 2 -> 8 units), i.e. the start of the following space.
	offsetAfterEmoji := PositionToOffset(content, Position{Line: 0, Character: 8})
	if content[offsetAfterEmoji:] != " x" {
		t.Errorf("offset after emoji slices %q, want \" x\"", content[offsetAfterEmoji:])
	}

	pos := OffsetToPosition(content, offsetAfterEmoji)
	if pos.Character != 8 {
		t.Errorf("OffsetToPosition character = %d, want 8", pos.Character)
	}
}

func TestApplyEditsToContentReverseOrder(t *testing.T) {
	content := "alpha\nbeta\ngamma\n"
	edits := []TextEdit{
		{Range: rangeOf(0, 0, 0, 5), NewText: "ALPHA"},
		{Range: rangeOf(2, 0, 2, 5), NewText: "GAMMA"},
		{Range: rangeOf(1, 0, 1, 4), NewText: "BETA"},
	}

	got := ApplyEditsToContent(content, edits)
	want := "ALPHA\nBETA\nGAMMA\n"
	if got != want {
		t.Errorf("ApplyEditsToContent = %q, want %q", got, want)
	}
}

func TestApplyEditsToContentInsertion(t *testing.T) {
	content := "func a() {}\n"
	edits := []TextEdit{
		{Range: rangeOf(0, 5, 0, 6), NewText: "renamed"},
	}
	got := ApplyEditsToContent(content, edits)
	if got != "func renamed() {}\n" {
		t.Errorf("got %q", got)
	}
}

func TestApplyWorkspaceEditOnDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.go")
	if err := os.WriteFile(path, []byte("old old\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	edit := &WorkspaceEdit{
		Changes: map[DocumentURI][]TextEdit{
			FilePathToURI(path): {
				{Range: rangeOf(0, 0, 0, 3), NewText: "new"},
				{Range: rangeOf(0, 4, 0, 7), NewText: "new"},
			},
		},
	}

	modified, err := ApplyWorkspaceEdit(edit)
	if err != nil {
		t.Fatalf("ApplyWorkspaceEdit() error = %v", err)
	}
	if len(modified) != 1 || modified[0] != path {
		t.Errorf("modified = %v", modified)
	}

	content, _ := os.ReadFile(path)
	if string(content) != "new new\n" {
		t.Errorf("content = %q", content)
	}
}

func TestWorkspaceEditMergesDocumentChanges(t *testing.T) {
	edit := &WorkspaceEdit{
		Changes: map[DocumentURI][]TextEdit{
			"file:///a": {{NewText: "1"}},
		},
		DocumentChanges: []TextDocumentEdit{
			{
				TextDocument: VersionedTextDocumentIdentifier{
					TextDocumentIdentifier: TextDocumentIdentifier{URI: "file:///b"},
				},
				Edits: []TextEdit{{NewText: "2"}},
			},
		},
	}
	merged := edit.Edits()
	if len(merged) != 2 {
		t.Fatalf("merged uris = %d, want 2", len(merged))
	}
}

func TestWriteFileAtomicPreservesMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := WriteFileAtomic(path, []byte("#!/bin/sh\necho hi\n")); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("mode = %v, want 0755", info.Mode().Perm())
	}
}
