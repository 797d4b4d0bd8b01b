// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package fspath

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLayout_Mapping(t *testing.T) {
	l := New("/s")

	if got := l.GroupTemplate("web", "/etc/nginx/nginx.conf"); got != "/s/groups/web/etc/nginx/nginx.conf.lasz" {
		t.Errorf("GroupTemplate = %q", got)
	}
	if got := l.MachineTemplate("h1", "/etc/a.conf"); got != "/s/machines/h1/etc/a.conf.lasz" {
		t.Errorf("MachineTemplate = %q", got)
	}
	if got := l.GroupManifest("web"); got != "/s/groups/web/manifest.json" {
		t.Errorf("GroupManifest = %q", got)
	}
	if got := l.MembershipLink("web", "h1"); got != "/s/memberships/web/h1" {
		t.Errorf("MembershipLink = %q", got)
	}
	if got := l.QuackFile("h1", "/etc/a.conf"); got != "/s/machines/h1/etc/a.conf.lasz.quack" {
		t.Errorf("QuackFile = %q", got)
	}
	if got := l.VersionFile(); got != "/s/.laszoo/version" {
		t.Errorf("VersionFile = %q", got)
	}
}

func TestLayout_LocalPathRoundTrip(t *testing.T) {
	l := New("/s")

	scope, name, local, err := l.LocalPath("/s/groups/web/etc/nginx/nginx.conf.lasz")
	if err != nil {
		t.Fatalf("LocalPath failed: %v", err)
	}
	if scope != ScopeGroup || name != "web" || local != "/etc/nginx/nginx.conf" {
		t.Errorf("got (%s, %s, %s)", scope, name, local)
	}

	scope, name, local, err = l.LocalPath("/s/machines/h1/etc/a.conf.lasz")
	if err != nil {
		t.Fatalf("LocalPath failed: %v", err)
	}
	if scope != ScopeMachine || name != "h1" || local != "/etc/a.conf" {
		t.Errorf("got (%s, %s, %s)", scope, name, local)
	}
}

func TestLayout_LocalPathRejects(t *testing.T) {
	l := New("/s")
	bad := []string{
		"/elsewhere/groups/web/etc/a.lasz",
		"/s/groups/web/manifest.json",
		"/s/unknown/web/etc/a.lasz",
		"/s/groups",
	}
	for _, p := range bad {
		if _, _, _, err := l.LocalPath(p); err == nil {
			t.Errorf("LocalPath(%q) should fail", p)
		}
	}
}

func TestLayout_EnsureRootAndVersion(t *testing.T) {
	root := filepath.Join(t.TempDir(), "laszoo")
	l := New(root)

	if err := l.EnsureRoot(); err != nil {
		t.Fatalf("EnsureRoot failed: %v", err)
	}
	for _, dir := range []string{l.GroupsDir(), l.MachinesDir(), l.MembershipsDir()} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("missing tree dir %s", dir)
		}
	}
	if err := l.CheckVersion(); err != nil {
		t.Errorf("CheckVersion after EnsureRoot: %v", err)
	}

	// EnsureRoot is idempotent.
	if err := l.EnsureRoot(); err != nil {
		t.Errorf("second EnsureRoot failed: %v", err)
	}

	// An incompatible stamped version is refused.
	if err := os.WriteFile(l.VersionFile(), []byte("2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.CheckVersion(); err == nil {
		t.Error("CheckVersion must reject a newer major version")
	}
	if err := l.EnsureRoot(); err == nil {
		t.Error("EnsureRoot must reject a newer major version")
	}
}

func TestLayout_Available(t *testing.T) {
	root := t.TempDir()
	l := New(root)
	if !l.Available() {
		t.Error("existing readable dir must be available")
	}

	gone := New(filepath.Join(root, "missing"))
	if gone.Available() {
		t.Error("missing root must be unavailable")
	}
}

func TestWriteAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "file.json")
	if err := WriteAtomic(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("WriteAtomic failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "v1" {
		t.Fatalf("read back: %q, %v", data, err)
	}
	if err := WriteAtomic(path, []byte("v2"), 0o644); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "v2" {
		t.Errorf("overwrite content: %q", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}
