// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package enroll registers local files and directories into groups, seeds
// their templates on the shared tree, and applies templates back to the
// local filesystem. It is the only component that creates template entries.
package enroll

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Zorlin/laszoo/pkg/checksum"
	"github.com/Zorlin/laszoo/pkg/fspath"
	"github.com/Zorlin/laszoo/pkg/manifest"
	"github.com/Zorlin/laszoo/pkg/template"
)

// casRetries bounds optimistic-save attempts against the group manifest
// before the operation surfaces the conflict.
const casRetries = 3

// Manager performs enrollment transitions for one host.
type Manager struct {
	Layout fspath.Layout
	Store  *manifest.Store
	Host   string
	Vars   map[string]string
	Logger *slog.Logger

	// PreWrite, when set, is invoked with each local or shared path
	// immediately before the manager writes it. The watch loop uses it to
	// arm echo suppression.
	PreWrite func(path string)
}

// Result summarizes one Enroll call.
type Result struct {
	// Seeded lists local paths whose template was created from local content.
	Seeded []string
	// Adopted lists paths whose template already existed and matched, and
	// hybrid paths whose divergence was folded into quack regions.
	Adopted []string
	// Divergent lists group-kind paths whose local content differs from the
	// existing template; the caller reconciles them via the entry's action.
	Divergent []string
}

// Enroll registers localPath (file or directory) into group with the given
// kind and action. The first enrollee seeds the template verbatim; later
// enrollees adopt or, for machine kind, overwrite their own template.
func (m *Manager) Enroll(group, localPath string, kind manifest.Kind, action manifest.Action, before, after string) (*Result, error) {
	if !manifest.ValidKind(kind) {
		return nil, fmt.Errorf("invalid enrollment kind %q", kind)
	}
	if !manifest.ValidAction(action) {
		return nil, fmt.Errorf("invalid sync action %q", action)
	}
	abs, err := canonicalize(localPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}

	res := &Result{}
	files := []string{abs}
	isDir := info.IsDir()
	if isDir {
		files, err = listDescendants(abs)
		if err != nil {
			return nil, err
		}
	}

	for _, f := range files {
		if err := m.seedTemplate(group, f, kind, res); err != nil {
			return nil, err
		}
	}

	entry := &manifest.Entry{
		Group:       group,
		Path:        abs,
		Kind:        kind,
		Action:      action,
		Before:      before,
		After:       after,
		IsDirectory: isDir,
	}
	if !isDir {
		entry.Checksum, err = checksum.File(m.templatePath(group, abs, kind))
		if err != nil {
			return nil, fmt.Errorf("checksum template: %w", err)
		}
	}

	if kind == manifest.KindMachine {
		mach, _, err := m.Store.LoadMachine(m.Host)
		if err != nil {
			return nil, err
		}
		if mach.CoveringDirectory(abs) != nil {
			m.Logger.Info("enroll.covered_by_directory", "path", abs)
			return res, nil
		}
		mach.Upsert(entry)
		if err := m.Store.SaveMachine(m.Host, mach); err != nil {
			return nil, err
		}
	} else {
		if err := m.updateGroupManifest(group, func(gm *manifest.Manifest) bool {
			if gm.CoveringDirectory(abs) != nil {
				m.Logger.Info("enroll.covered_by_directory", "path", abs)
				return false
			}
			gm.Upsert(entry)
			return true
		}); err != nil {
			return nil, err
		}
	}

	m.Logger.Info("enroll.done", "group", group, "path", abs, "kind", kind,
		"action", action, "seeded", len(res.Seeded), "divergent", len(res.Divergent))
	return res, nil
}

// seedTemplate creates or reconciles the template for one local file at
// enrollment time, per the kind's divergence policy.
func (m *Manager) seedTemplate(group, abs string, kind manifest.Kind, res *Result) error {
	// Symlinked files are enrolled by target content, not by link.
	local, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("read %s: %w", abs, err)
	}

	tpath := m.templatePath(group, abs, kind)
	existing, err := os.ReadFile(tpath)
	if os.IsNotExist(err) {
		m.preWrite(tpath)
		if err := fspath.WriteAtomic(tpath, local, 0o644); err != nil {
			return fmt.Errorf("seed template: %w", err)
		}
		res.Seeded = append(res.Seeded, abs)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}
	if string(existing) == string(local) {
		res.Adopted = append(res.Adopted, abs)
		return nil
	}

	switch kind {
	case manifest.KindMachine:
		// The host owns its machine template outright.
		m.preWrite(tpath)
		if err := fspath.WriteAtomic(tpath, local, 0o644); err != nil {
			return fmt.Errorf("overwrite machine template: %w", err)
		}
		res.Seeded = append(res.Seeded, abs)
	case manifest.KindGroup:
		res.Divergent = append(res.Divergent, abs)
	case manifest.KindHybrid:
		if err := m.hybridize(group, abs, string(existing), string(local)); err != nil {
			return err
		}
		res.Adopted = append(res.Adopted, abs)
	}
	return nil
}

// hybridize folds this host's divergence into the group template as quack
// regions. Templates that already carry tokens are not rewritten: this
// host's content is extracted against them and only its quack bodies are
// saved to the sidecar.
func (m *Manager) hybridize(group, abs, existing, local string) error {
	if strings.Contains(existing, "{{") || strings.Contains(existing, "[[x") {
		tmpl, err := template.Parse(existing)
		if err != nil {
			return err
		}
		quacks, err := LoadQuacks(m.Layout, m.Host, abs)
		if err != nil {
			return err
		}
		in := template.RenderInput{Bindings: Bindings(m.Host, m.Vars), Quacks: quacks}
		extracted, err := tmpl.Extract(local, in)
		if err != nil {
			return err
		}
		return SaveQuacks(m.Layout, m.Host, abs, extracted.Quacks)
	}

	tmpl, quacks := template.Hybridize(existing, local)
	tpath := m.Layout.GroupTemplate(group, abs)
	m.preWrite(tpath)
	if err := fspath.WriteAtomic(tpath, []byte(tmpl.Source()), 0o644); err != nil {
		return fmt.Errorf("write hybrid template: %w", err)
	}
	return SaveQuacks(m.Layout, m.Host, abs, quacks)
}

// Unenroll removes a path's enrollment: manifest entry, template, and quack
// sidecar. The local file is left untouched. Directory unenrollment removes
// the descendants' templates too.
func (m *Manager) Unenroll(group, localPath string) error {
	abs, err := canonicalize(localPath)
	if err != nil {
		return err
	}

	var removed *manifest.Entry
	take := func(mf *manifest.Manifest) bool {
		if e := mf.Find(abs); e != nil {
			removed = e
			mf.Remove(abs)
			return true
		}
		return false
	}

	mach, _, err := m.Store.LoadMachine(m.Host)
	if err != nil {
		return err
	}
	if take(mach) {
		if err := m.Store.SaveMachine(m.Host, mach); err != nil {
			return err
		}
		return m.removeTemplates(group, abs, removed)
	}

	if err := m.updateGroupManifest(group, take); err != nil {
		return err
	}
	if removed == nil {
		return fmt.Errorf("%s is not enrolled in %s", abs, group)
	}
	return m.removeTemplates(group, abs, removed)
}

func (m *Manager) removeTemplates(group, abs string, e *manifest.Entry) error {
	tpath := m.templatePath(group, abs, e.Kind)
	if e.IsDirectory {
		dir := strings.TrimSuffix(tpath, fspath.TemplateExt)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove directory templates: %w", err)
		}
		// Descendant quack sidecars live under the host's machine tree.
		quackDir := strings.TrimSuffix(m.Layout.QuackFile(m.Host, abs), fspath.QuackExt)
		if err := os.RemoveAll(quackDir); err != nil {
			return fmt.Errorf("remove directory quacks: %w", err)
		}
	} else {
		if err := os.Remove(tpath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove template: %w", err)
		}
		if local, err := os.ReadFile(abs); err == nil {
			if strings.Contains(string(local), "{{") || strings.Contains(string(local), "[[x") {
				m.Logger.Warn("unenroll.local_references_template", "path", abs)
			}
		}
	}
	if err := os.Remove(m.Layout.QuackFile(m.Host, abs)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove quacks: %w", err)
	}
	m.Logger.Info("unenroll.done", "group", group, "path", abs)
	return nil
}

// updateGroupManifest applies fn under the CAS discipline: load with
// checksum, mutate, save-if-unchanged, retry on conflict.
func (m *Manager) updateGroupManifest(group string, fn func(*manifest.Manifest) bool) error {
	var err error
	for attempt := 0; attempt < casRetries; attempt++ {
		var gm *manifest.Manifest
		var sum string
		gm, sum, err = m.Store.LoadGroup(group)
		if err != nil {
			return err
		}
		if !fn(gm) {
			return nil
		}
		err = m.Store.SaveGroupIf(group, gm, sum)
		if err == nil {
			return nil
		}
		if err != manifest.ErrConflict {
			return err
		}
		m.Logger.Debug("enroll.manifest.retry", "group", group, "attempt", attempt+1)
	}
	return fmt.Errorf("update group manifest: %w", err)
}

// templatePath picks the canonical template location for a kind.
func (m *Manager) templatePath(group, abs string, kind manifest.Kind) string {
	if kind == manifest.KindMachine {
		return m.Layout.MachineTemplate(m.Host, abs)
	}
	return m.Layout.GroupTemplate(group, abs)
}

func (m *Manager) preWrite(path string) {
	if m.PreWrite != nil {
		m.PreWrite(path)
	}
}

// canonicalize resolves a user-supplied path to a clean absolute path.
func canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	return filepath.Clean(abs), nil
}

// listDescendants enumerates the regular files under dir in sorted order.
// Symlinks are not followed; symlinked files are listed (their target
// content is what gets enrolled), symlinked directories are skipped.
func listDescendants(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
