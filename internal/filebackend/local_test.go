package filebackend

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func newTestBackend(t *testing.T) *LocalBackend {
	t.Helper()
	b, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	return b
}

func TestLocalBackendReadWriteRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	if err := b.WriteFile(ctx, "src/app.tsx", "hello"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := b.ReadFile(ctx, "src/app.tsx")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %q, want hello", got)
	}
	if !b.FileExists(ctx, "src/app.tsx") {
		t.Fatal("expected file to exist")
	}
}

func TestLocalBackendRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	if _, err := b.ReadFile(ctx, "../../etc/passwd"); err == nil {
		t.Fatal("expected traversal outside root to be rejected")
	}
}

func TestLocalBackendRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need elevated privileges on windows")
	}
	ctx := context.Background()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("nope"), 0o644); err != nil {
		t.Fatalf("seeding outside file: %v", err)
	}

	b := newTestBackend(t)
	link := filepath.Join(b.Root(), "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatalf("creating symlink: %v", err)
	}

	if _, err := b.ReadFile(ctx, "escape/secret.txt"); err == nil {
		t.Fatal("expected a symlink escape to be rejected")
	}
}

func TestLocalBackendListDirSkipsIgnored(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	if err := b.WriteFile(ctx, "keep.go", "package x"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := b.WriteFile(ctx, "node_modules/pkg/index.js", "x"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	entries, err := b.ListDir(ctx, ".")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	for _, e := range entries {
		if e.Name == "node_modules" {
			t.Fatal("expected node_modules to be ignored")
		}
	}
}

func TestFuzzyFindScoresAndCutoff(t *testing.T) {
	matches := topMatches("appcomponent", []string{
		"src/AppComponent.tsx",
		"src/unrelated.go",
		"README.md",
	})
	if len(matches) == 0 {
		t.Fatal("expected at least one match above cutoff")
	}
	if matches[0].Path != "src/AppComponent.tsx" {
		t.Fatalf("expected best match to be AppComponent.tsx, got %q", matches[0].Path)
	}
	for _, m := range matches {
		if m.Score < fuzzyScoreCutoff {
			t.Fatalf("match %q scored %.1f, below cutoff", m.Path, m.Score)
		}
	}
}

func TestFuzzyFindLimitsToTen(t *testing.T) {
	var candidates []string
	for i := 0; i < 20; i++ {
		candidates = append(candidates, "widget.go")
	}
	matches := topMatches("widget", candidates)
	if len(matches) != fuzzyLimit {
		t.Fatalf("expected %d matches, got %d", fuzzyLimit, len(matches))
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"./src/app.tsx": "src/app.tsx",
		"src/":          "src",
		"./src/":        "src",
		"plain.go":      "plain.go",
	}
	for in, want := range cases {
		if got := NormalizePath(in); got != want {
			t.Errorf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}
