package vault

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFilterDefaultPatterns(t *testing.T) {
	f := NewFilter(nil)

	cases := []struct {
		path string
		want bool
	}{
		{".git/config", true},
		{"vault/.obsidian/workspace.json", true},
		{"vault/.trash/old.md", true},
		{".DS_Store", true},
		{"note.swp", true},
		{"draft.md~", true},
		{"vault/projects/plan.md", false},
		{"README.md", false},
	}

	for _, tc := range cases {
		if got := f.ShouldIgnore(tc.path); got != tc.want {
			t.Errorf("ShouldIgnore(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestFilterCustomPatterns(t *testing.T) {
	f := NewFilter([]string{"archive", "*.bak"})

	cases := []struct {
		path string
		want bool
	}{
		{"vault/archive/old.md", true},
		{"note.bak", true},
		{"vault/current/note.md", false},
		// Default patterns still apply.
		{".git/HEAD", true},
	}

	for _, tc := range cases {
		if got := f.ShouldIgnore(tc.path); got != tc.want {
			t.Errorf("ShouldIgnore(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestWalkFindsOnlyMarkdown(t *testing.T) {
	dir := t.TempDir()

	mustWrite := func(rel, content string) {
		t.Helper()
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	mustWrite("projects/a.md", "a")
	mustWrite("projects/b.MD", "b")
	mustWrite("projects/notes.txt", "not markdown")
	mustWrite(".obsidian/cache.md", "ignored dir")
	mustWrite(".trash/deleted.md", "ignored dir")

	paths, err := Walk([]string{dir}, NewFilter(nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 {
		t.Fatalf("found %d files, want 2: %v", len(paths), paths)
	}
	// Sorted, deterministic order.
	if filepath.Base(paths[0]) != "a.md" || filepath.Base(paths[1]) != "b.MD" {
		t.Errorf("unexpected order: %v", paths)
	}
}

func TestSlug(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Write a novel", "write-a-novel"},
		{"Q3 / OKR review!", "q3-okr-review"},
		{"  spaces  ", "spaces"},
		{"---", "untitled"},
		{"", "untitled"},
	}
	for _, tc := range cases {
		if got := Slug(tc.in); got != tc.want {
			t.Errorf("Slug(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
