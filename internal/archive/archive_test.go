// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/contentvault/contentvault/internal/testutil"
)

func TestExtract_RoundTrip(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	testutil.MustWriteTree(t, src, map[string]string{
		"mod.conf":         "name = mymod\n",
		"init.lua":         "-- hello\n",
		"textures/a.png":   "px",
		"locale/m.de.tr":   "",
	})

	zipPath := filepath.Join(t.TempDir(), "release.zip")
	testutil.MustZipDir(t, zipPath, src)

	dest := t.TempDir()
	var ex Extractor
	if err := ex.Extract(zipPath, dest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, rel := range []string{"mod.conf", "init.lua", "textures/a.png", "locale/m.de.tr"} {
		if _, err := os.Stat(filepath.Join(dest, filepath.FromSlash(rel))); err != nil {
			t.Errorf("missing %s after extraction: %v", rel, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dest, "mod.conf"))
	if err != nil || string(data) != "name = mymod\n" {
		t.Errorf("mod.conf content = %q, err = %v", data, err)
	}
}

func TestExtract_RejectsPathEscape(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry string
	}{
		{"parent traversal", "foo/../../etc/passwd"},
		{"plain traversal", "../escape"},
		{"absolute path", "/etc/passwd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			zipPath := filepath.Join(t.TempDir(), "evil.zip")
			testutil.MustZipEntries(t, zipPath, map[string]string{
				tt.entry: "pwned",
			})

			dest := t.TempDir()
			var ex Extractor
			err := ex.Extract(zipPath, dest)

			var unsafeErr *UnsafeError
			if !errors.As(err, &unsafeErr) {
				t.Fatalf("expected UnsafeError, got %v", err)
			}

			// Nothing may have been written before the rejection.
			entries, readErr := os.ReadDir(dest)
			if readErr != nil {
				t.Fatalf("failed to read dest: %v", readErr)
			}
			if len(entries) != 0 {
				t.Errorf("destination not empty after rejection: %v", entries)
			}
		})
	}
}

func TestExtract_AcceptsInteriorDotDot(t *testing.T) {
	t.Parallel()

	// "a/../b" stays inside the destination once resolved.
	zipPath := filepath.Join(t.TempDir(), "ok.zip")
	testutil.MustZipEntries(t, zipPath, map[string]string{
		"a/../b": "fine",
	})

	dest := t.TempDir()
	var ex Extractor
	if err := ex.Extract(zipPath, dest); err != nil {
		t.Fatalf("interior .. that resolves inside dest should extract: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "b")); err != nil {
		t.Errorf("expected b to exist: %v", err)
	}
}

func TestExtract_RejectsControlCharacters(t *testing.T) {
	t.Parallel()

	zipPath := filepath.Join(t.TempDir(), "evil.zip")
	testutil.MustZipEntries(t, zipPath, map[string]string{
		"inno\ncent.txt": "x",
	})

	dest := t.TempDir()
	var ex Extractor
	err := ex.Extract(zipPath, dest)

	var unsafeErr *UnsafeError
	if !errors.As(err, &unsafeErr) {
		t.Fatalf("expected UnsafeError, got %v", err)
	}
	if !strings.Contains(unsafeErr.Reason, "control characters") {
		t.Errorf("reason = %q", unsafeErr.Reason)
	}
}

func TestExtract_RejectsOversized(t *testing.T) {
	t.Parallel()

	zipPath := filepath.Join(t.TempDir(), "big.zip")
	testutil.MustZipEntries(t, zipPath, map[string]string{
		"a.txt": strings.Repeat("x", 4096),
	})

	dest := t.TempDir()
	ex := Extractor{MaxTotalSize: 1024}
	err := ex.Extract(zipPath, dest)

	var unsafeErr *UnsafeError
	if !errors.As(err, &unsafeErr) {
		t.Fatalf("expected UnsafeError, got %v", err)
	}
	if !strings.Contains(unsafeErr.Reason, "exceeds limit") {
		t.Errorf("reason = %q", unsafeErr.Reason)
	}

	entries, readErr := os.ReadDir(dest)
	if readErr != nil {
		t.Fatalf("failed to read dest: %v", readErr)
	}
	if len(entries) != 0 {
		t.Errorf("no bytes may be written for oversized archives: %v", entries)
	}
}

func TestExtract_NotAZip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "not.zip")
	testutil.MustWriteFile(t, path, "plain text")

	var ex Extractor
	err := ex.Extract(path, t.TempDir())

	var unsafeErr *UnsafeError
	if !errors.As(err, &unsafeErr) {
		t.Fatalf("expected UnsafeError, got %v", err)
	}
}

func TestCreate_PrefixesAndSkipsGit(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	testutil.MustWriteTree(t, src, map[string]string{
		"mod.conf":        "name = mymod\n",
		".git/config":     "should not appear",
		"sub/file.lua":    "",
	})

	zipPath := filepath.Join(t.TempDir(), "out.zip")
	if err := Create(zipPath, src, "mymod", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dest := t.TempDir()
	var ex Extractor
	if err := ex.Extract(zipPath, dest); err != nil {
		t.Fatalf("re-extract failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dest, "mymod", "mod.conf")); err != nil {
		t.Errorf("expected prefixed mod.conf: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "mymod", ".git", "config")); err == nil {
		t.Error(".git contents must be skipped")
	}
}

func TestCreate_SizeCap(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(src, "big.bin"), strings.Repeat("abcdefgh", 1024))

	zipPath := filepath.Join(t.TempDir(), "out.zip")
	err := Create(zipPath, src, "p", 64)
	if !errors.Is(err, ErrGeneratedTooLarge) {
		t.Fatalf("expected ErrGeneratedTooLarge, got %v", err)
	}
	if _, statErr := os.Stat(zipPath); !os.IsNotExist(statErr) {
		t.Error("oversized archive must be removed")
	}
}

func TestScratch_Remove(t *testing.T) {
	t.Parallel()

	scratch, err := NewScratch(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.MustWriteFile(t, filepath.Join(scratch.Dir, "f"), "x")

	if err := scratch.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(scratch.Dir); !os.IsNotExist(err) {
		t.Error("scratch directory should be gone")
	}
	if err := scratch.Remove(); err != nil {
		t.Errorf("second Remove should be a no-op: %v", err)
	}
}
