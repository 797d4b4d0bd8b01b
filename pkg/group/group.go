// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package group manages the symlink-encoded roster of hosts per group. The
// link memberships/<group>/<host> -> ../../machines/<host> is authoritative
// by presence alone; its target does not need to resolve.
package group

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/Zorlin/laszoo/pkg/fspath"
	"github.com/Zorlin/laszoo/pkg/manifest"
)

// Roster manipulates group membership on the shared tree.
type Roster struct {
	layout fspath.Layout
	store  *manifest.Store
	logger *slog.Logger
}

// NewRoster creates a roster over the shared layout.
func NewRoster(layout fspath.Layout, store *manifest.Store, logger *slog.Logger) *Roster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Roster{layout: layout, store: store, logger: logger}
}

// Add records host as a member of group. A host appearing in any roster must
// carry a machine manifest (possibly empty), so one is created if missing.
func (r *Roster) Add(group, host string) error {
	if group == "" || host == "" {
		return fmt.Errorf("group and host must be non-empty")
	}
	link := r.layout.MembershipLink(group, host)
	if err := os.MkdirAll(r.layout.MembershipDir(group), 0o755); err != nil {
		return fmt.Errorf("create membership dir: %w", err)
	}
	if err := os.Symlink(r.layout.MembershipTarget(host), link); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("create membership link: %w", err)
	}
	m, _, err := r.store.LoadMachine(host)
	if err != nil {
		return err
	}
	if err := r.store.SaveMachine(host, m); err != nil {
		return fmt.Errorf("seed machine manifest: %w", err)
	}
	r.logger.Info("group.member.added", "group", group, "host", host)
	return nil
}

// Remove deletes host's membership link. Removing the last member does not
// delete the group's templates; unenrollment is explicit.
func (r *Roster) Remove(group, host string) error {
	link := r.layout.MembershipLink(group, host)
	if err := os.Remove(link); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("remove membership link: %w", err)
	}
	r.logger.Info("group.member.removed", "group", group, "host", host)
	r.pruneIfEmpty(group)
	return nil
}

// Members enumerates the hosts of a group in directory order. Entries that
// are not symlinks are ignored but logged.
func (r *Roster) Members(group string) ([]string, error) {
	dir := r.layout.MembershipDir(group)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read membership dir: %w", err)
	}
	var hosts []string
	for _, ent := range entries {
		if ent.Type()&os.ModeSymlink == 0 {
			r.logger.Warn("group.member.not_symlink", "group", group, "entry", ent.Name())
			continue
		}
		hosts = append(hosts, ent.Name())
	}
	return hosts, nil
}

// Groups lists every group host belongs to, sorted.
func (r *Roster) Groups(host string) ([]string, error) {
	dirs, err := os.ReadDir(r.layout.MembershipsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read memberships dir: %w", err)
	}
	var groups []string
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		link := r.layout.MembershipLink(d.Name(), host)
		if info, err := os.Lstat(link); err == nil && info.Mode()&os.ModeSymlink != 0 {
			groups = append(groups, d.Name())
		}
	}
	sort.Strings(groups)
	return groups, nil
}

// All lists every group with a roster directory, sorted.
func (r *Roster) All() ([]string, error) {
	dirs, err := os.ReadDir(r.layout.MembershipsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read memberships dir: %w", err)
	}
	var groups []string
	for _, d := range dirs {
		if d.IsDir() {
			groups = append(groups, d.Name())
		}
	}
	sort.Strings(groups)
	return groups, nil
}

// Rename re-homes a group's roster directory. It only moves membership;
// templates and the manifest are re-homed by the `group rename` command.
func (r *Roster) Rename(oldName, newName string) error {
	oldDir := r.layout.MembershipDir(oldName)
	newDir := r.layout.MembershipDir(newName)
	if _, err := os.Lstat(newDir); err == nil {
		return fmt.Errorf("group %q already exists", newName)
	}
	if err := os.Rename(oldDir, newDir); err != nil {
		return fmt.Errorf("rename roster: %w", err)
	}
	r.logger.Info("group.renamed", "from", oldName, "to", newName)
	return nil
}

// pruneIfEmpty removes a roster directory that has no members left.
func (r *Roster) pruneIfEmpty(group string) {
	dir := r.layout.MembershipDir(group)
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := os.Remove(dir); err != nil {
		r.logger.Warn("group.prune.failed", "group", group, "err", err)
	}
}
