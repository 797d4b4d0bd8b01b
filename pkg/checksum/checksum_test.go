// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package checksum

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSum_KnownVector(t *testing.T) {
	// sha256 of the empty string.
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Sum(nil); got != want {
		t.Errorf("Sum(nil) = %q, want %q", got, want)
	}
}

func TestFile_MatchesSum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	content := []byte("port=80\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := File(path)
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	if got != Sum(content) {
		t.Errorf("File = %q, Sum = %q", got, Sum(content))
	}
}

func TestReader_MatchesSum(t *testing.T) {
	content := "streaming content check"
	got, err := Reader(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Reader failed: %v", err)
	}
	if got != Sum([]byte(content)) {
		t.Errorf("Reader = %q, Sum = %q", got, Sum([]byte(content)))
	}
}

func TestFile_FollowsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	link := filepath.Join(dir, "link")
	if err := os.WriteFile(target, []byte("linked content"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}
	linkSum, err := File(link)
	if err != nil {
		t.Fatalf("File(link) failed: %v", err)
	}
	if linkSum != Sum([]byte("linked content")) {
		t.Error("symlink digest must be the target's content digest")
	}
}

func TestFile_Missing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "absent"))
	if !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
