package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"reverie/internal/fileutil"
)

func TestCopyVerifiedCreatesParents(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "memo.m4a")
	content := []byte("pretend audio")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatalf("write source failed: %v", err)
	}

	dst := filepath.Join(dir, "audio", "dream-1", "memo.m4a")
	if err := fileutil.CopyVerified(src, dst); err != nil {
		t.Fatalf("CopyVerified failed: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read copy failed: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q", got)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "audio", "dream-1", ".import-*"))
	if len(leftovers) != 0 {
		t.Fatalf("temporary files left behind: %v", leftovers)
	}
}

func TestCopyVerifiedRejectsDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := fileutil.CopyVerified(dir, filepath.Join(dir, "out")); err == nil {
		t.Fatal("expected directory source to fail")
	}
	if err := fileutil.CopyVerified(filepath.Join(dir, "missing"), filepath.Join(dir, "out")); err == nil {
		t.Fatal("expected missing source to fail")
	}
}

func TestSafeName(t *testing.T) {
	cases := map[string]string{
		"night/train.m4a": "night-train.m4a",
		"  what?.wav ":    "what.wav",
		"../secret":       "-secret",
		"...":             "recording",
		"":                "recording",
	}
	for in, want := range cases {
		if got := fileutil.SafeName(in); got != want {
			t.Fatalf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}
