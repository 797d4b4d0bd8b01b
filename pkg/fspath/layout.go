// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package fspath

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Scope identifies which half of the shared tree a path belongs to.
type Scope string

const (
	ScopeGroup   Scope = "groups"
	ScopeMachine Scope = "machines"
)

// TemplateExt is the suffix of every template file on the shared tree.
const TemplateExt = ".lasz"

// QuackExt is the suffix of the per-host quack sidecar next to a machine's
// view of a group template. The sidecar records the host's private region
// bodies; see pkg/template.
const QuackExt = ".lasz.quack"

// FormatVersion is the on-tree layout version. Breaking layout changes bump
// the major component and older engines refuse the tree.
const FormatVersion = "1"

// Layout maps hostnames and absolute local paths to locations under the
// shared root. All methods are pure path arithmetic; nothing touches the
// filesystem except EnsureRoot, CheckVersion and Available.
//
// The tree is a stable wire format across hosts and versions:
//
//	<root>/groups/<group>/manifest.json
//	<root>/groups/<group>/<local-absolute-path>.lasz
//	<root>/machines/<host>/manifest.json
//	<root>/machines/<host>/<local-absolute-path>.lasz
//	<root>/memberships/<group>/<host>     (symlink -> ../../machines/<host>)
//	<root>/.git/                          (version log)
//	<root>/.laszoo/version
type Layout struct {
	Root string
}

// New returns a Layout rooted at root (typically <mfs_mount>/<laszoo_dir>).
func New(root string) Layout {
	return Layout{Root: filepath.Clean(root)}
}

func (l Layout) GroupsDir() string      { return filepath.Join(l.Root, "groups") }
func (l Layout) MachinesDir() string    { return filepath.Join(l.Root, "machines") }
func (l Layout) MembershipsDir() string { return filepath.Join(l.Root, "memberships") }

// GroupDir returns <root>/groups/<group>.
func (l Layout) GroupDir(group string) string {
	return filepath.Join(l.GroupsDir(), group)
}

// MachineDir returns <root>/machines/<host>.
func (l Layout) MachineDir(host string) string {
	return filepath.Join(l.MachinesDir(), host)
}

// GroupManifest returns the path of a group's manifest.json.
func (l Layout) GroupManifest(group string) string {
	return filepath.Join(l.GroupDir(group), "manifest.json")
}

// MachineManifest returns the path of a host's manifest.json.
func (l Layout) MachineManifest(host string) string {
	return filepath.Join(l.MachineDir(host), "manifest.json")
}

// GroupTemplate maps a local absolute path to its template under a group.
// /etc/nginx/nginx.conf under group "web" becomes
// <root>/groups/web/etc/nginx/nginx.conf.lasz.
func (l Layout) GroupTemplate(group, localPath string) string {
	return filepath.Join(l.GroupDir(group), relativize(localPath)) + TemplateExt
}

// MachineTemplate maps a local absolute path to its per-host template.
func (l Layout) MachineTemplate(host, localPath string) string {
	return filepath.Join(l.MachineDir(host), relativize(localPath)) + TemplateExt
}

// QuackFile returns the per-host quack sidecar for a group-enrolled path.
func (l Layout) QuackFile(host, localPath string) string {
	return filepath.Join(l.MachineDir(host), relativize(localPath)) + QuackExt
}

// MembershipDir returns <root>/memberships/<group>.
func (l Layout) MembershipDir(group string) string {
	return filepath.Join(l.MembershipsDir(), group)
}

// MembershipLink returns the symlink path encoding host's membership in group.
func (l Layout) MembershipLink(group, host string) string {
	return filepath.Join(l.MembershipDir(group), host)
}

// MembershipTarget is what the membership symlink points at. The link's
// presence is authoritative; the target need not resolve.
func (l Layout) MembershipTarget(host string) string {
	return filepath.Join("..", "..", "machines", host)
}

// GitDir returns the version-log directory.
func (l Layout) GitDir() string {
	return filepath.Join(l.Root, ".git")
}

// VersionFile returns <root>/.laszoo/version.
func (l Layout) VersionFile() string {
	return filepath.Join(l.Root, ".laszoo", "version")
}

// LocalPath reverses GroupTemplate/MachineTemplate: given a template path it
// returns the scope, the scope name (group or host) and the local absolute
// path. It fails on paths outside the tree or without the template suffix.
func (l Layout) LocalPath(templatePath string) (Scope, string, string, error) {
	rel, err := filepath.Rel(l.Root, templatePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", "", "", fmt.Errorf("path %q is outside shared root %q", templatePath, l.Root)
	}
	parts := strings.SplitN(filepath.ToSlash(rel), "/", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("path %q is not a template location", templatePath)
	}
	scope := Scope(parts[0])
	if scope != ScopeGroup && scope != ScopeMachine {
		return "", "", "", fmt.Errorf("path %q has unknown scope %q", templatePath, parts[0])
	}
	local, ok := strings.CutSuffix(parts[2], TemplateExt)
	if !ok {
		return "", "", "", fmt.Errorf("path %q lacks %s suffix", templatePath, TemplateExt)
	}
	return scope, parts[1], "/" + local, nil
}

// EnsureRoot creates the shared tree skeleton and stamps the format version.
// An existing version file with a different major version is an error.
func (l Layout) EnsureRoot() error {
	for _, dir := range []string{l.GroupsDir(), l.MachinesDir(), l.MembershipsDir(), filepath.Dir(l.VersionFile())} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create shared dir: %w", err)
		}
	}
	data, err := os.ReadFile(l.VersionFile())
	switch {
	case err == nil:
		have := strings.TrimSpace(string(data))
		if major(have) != major(FormatVersion) {
			return fmt.Errorf("shared tree format %q is incompatible with %q", have, FormatVersion)
		}
		return nil
	case os.IsNotExist(err):
		return os.WriteFile(l.VersionFile(), []byte(FormatVersion+"\n"), 0o644)
	default:
		return fmt.Errorf("read format version: %w", err)
	}
}

// CheckVersion verifies the tree's stamped format version is one this engine
// understands. A missing stamp is accepted (pre-version trees).
func (l Layout) CheckVersion() error {
	data, err := os.ReadFile(l.VersionFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read format version: %w", err)
	}
	have := strings.TrimSpace(string(data))
	if major(have) != major(FormatVersion) {
		return fmt.Errorf("shared tree format %q is incompatible with %q", have, FormatVersion)
	}
	return nil
}

// Available probes whether the shared root is reachable. Used by the watch
// loop's fail-closed rule: while this returns false no side is mutated.
func (l Layout) Available() bool {
	info, err := os.Stat(l.Root)
	if err != nil {
		return false
	}
	if !info.IsDir() {
		return false
	}
	// A mount that answers Stat but fails ReadDir is still unavailable.
	f, err := os.Open(l.Root)
	if err != nil {
		return false
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	return err == nil || errors.Is(err, io.EOF)
}

func relativize(localPath string) string {
	return strings.TrimPrefix(filepath.Clean(localPath), string(filepath.Separator))
}

func major(v string) string {
	if i := strings.IndexByte(v, '.'); i >= 0 {
		return v[:i]
	}
	return v
}
