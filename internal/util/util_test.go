// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_Basic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.txt")
	data := []byte("hello, world!")

	if err := AtomicWriteFile(path, data, 0644, 0755); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != string(data) {
		t.Errorf("Content mismatch: got %q, want %q", string(content), string(data))
	}
}

func TestAtomicWriteFile_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "deep", "test.txt")

	if err := AtomicWriteFile(path, []byte("x"), 0600, 0700); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("File not created: %v", err)
	}
}

func TestAtomicWriteFile_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.txt")

	if err := AtomicWriteFile(path, []byte("initial"), 0644, 0755); err != nil {
		t.Fatalf("First write failed: %v", err)
	}
	if err := AtomicWriteFile(path, []byte("updated"), 0644, 0755); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != "updated" {
		t.Errorf("Content not updated: got %q", string(content))
	}
}

func TestAtomicWriteFile_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on windows")
	}
	path := filepath.Join(t.TempDir(), "secret.json")

	if err := AtomicWriteFile(path, []byte("{}"), 0600, 0700); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %o, want 600", info.Mode().Perm())
	}
}

func TestAtomicWriteFile_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.json")
	for i := 0; i < 3; i++ {
		if err := AtomicWriteFile(path, []byte("data"), 0644, 0755); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
}

// =============================================================================
// STRING TESTS
// =============================================================================

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "Hola", 30, "Hola"},
		{"exact", "abcde", 5, "abcde"},
		{"cut", "abcdefgh", 5, "abcde..."},
		{"multibyte", "ñandú ñandú", 5, "ñandú..."},
		{"zero", "abc", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateRunes(tt.in, tt.max); got != tt.want {
				t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestTruncateWidth(t *testing.T) {
	if got := TruncateWidth("hello", 10); got != "hello" {
		t.Errorf("got %q", got)
	}
	got := TruncateWidth("hello world", 8)
	if StringWidth(got) > 8 {
		t.Errorf("width of %q exceeds 8", got)
	}
	// Each CJK rune is two columns wide.
	got = TruncateWidth("日本語テキスト", 7)
	if StringWidth(got) > 7 {
		t.Errorf("width of %q exceeds 7", got)
	}
	if TruncateWidth("abc", 0) != "" {
		t.Error("zero width should return empty string")
	}
}

func TestOneLine(t *testing.T) {
	if got := OneLine("  a\n b\t\tc  "); got != "a b c" {
		t.Errorf("OneLine = %q", got)
	}
}
