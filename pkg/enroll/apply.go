// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package enroll

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Zorlin/laszoo/pkg/checksum"
	"github.com/Zorlin/laszoo/pkg/fspath"
	"github.com/Zorlin/laszoo/pkg/manifest"
	"github.com/Zorlin/laszoo/pkg/template"
)

// ApplyResult reports the outcome for one local file. Errors never cross
// entries: one bad template cannot stall the rest of the run.
type ApplyResult struct {
	Path    string
	Changed bool
	Err     error
}

// ProgressFunc receives apply progress: 1-based current item, total, path.
type ProgressFunc func(current, total int, path string)

// Apply renders every matching enrollment for group and writes the results
// to the local filesystem. filter, when non-empty, restricts the run to
// those local paths. Permission bits of an existing local file (including
// setuid/setgid) are preserved; timestamps are not.
func (m *Manager) Apply(ctx context.Context, group string, filter []string, progress ProgressFunc) ([]ApplyResult, error) {
	entries, err := m.EntriesFor(group)
	if err != nil {
		return nil, err
	}

	type job struct {
		entry *manifest.Entry
		path  string
	}
	var jobs []job
	for _, e := range entries {
		paths, err := m.EntryFiles(group, e)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			if len(filter) > 0 && !matchFilter(filter, p) {
				continue
			}
			jobs = append(jobs, job{entry: e, path: p})
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].path < jobs[j].path })

	results := make([]ApplyResult, 0, len(jobs))
	for i, j := range jobs {
		if progress != nil {
			progress(i+1, len(jobs), j.path)
		}
		changed, err := m.applyOne(ctx, group, j.entry, j.path)
		results = append(results, ApplyResult{Path: j.path, Changed: changed, Err: err})
		if err != nil {
			m.Logger.Warn("apply.entry.failed", "path", j.path, "err", err)
		}
	}
	return results, nil
}

// EntriesFor collects the group's entries from the group manifest plus this
// host's machine entries tagged with the group.
func (m *Manager) EntriesFor(group string) ([]*manifest.Entry, error) {
	gm, _, err := m.Store.LoadGroup(group)
	if err != nil {
		return nil, err
	}
	mach, _, err := m.Store.LoadMachine(m.Host)
	if err != nil {
		return nil, err
	}
	entries := append([]*manifest.Entry{}, gm.Entries...)
	for _, e := range mach.Entries {
		if e.Group == group {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// EntryFiles expands a directory entry into the local paths of its enrolled
// descendants, discovered from the shared tree (the templates are the source
// of truth, not the local directory).
func (m *Manager) EntryFiles(group string, e *manifest.Entry) ([]string, error) {
	if !e.IsDirectory {
		return []string{e.Path}, nil
	}
	root := strings.TrimSuffix(m.templatePath(group, e.Path, e.Kind), fspath.TemplateExt)
	var locals []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, fspath.TemplateExt) {
			return nil
		}
		local := e.Path + strings.TrimSuffix(strings.TrimPrefix(path, root), fspath.TemplateExt)
		locals = append(locals, local)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk templates for %s: %w", e.Path, err)
	}
	return locals, nil
}

// applyOne renders one template and writes the local file if it differs.
func (m *Manager) applyOne(ctx context.Context, group string, e *manifest.Entry, abs string) (bool, error) {
	tpath := m.templatePath(group, abs, e.Kind)
	src, err := os.ReadFile(tpath)
	if err != nil {
		return false, fmt.Errorf("read template: %w", err)
	}
	tmpl, err := template.Parse(string(src))
	if err != nil {
		return false, err
	}
	quacks, err := LoadQuacks(m.Layout, m.Host, abs)
	if err != nil {
		return false, err
	}
	rendered, err := tmpl.Render(template.RenderInput{
		Bindings: Bindings(m.Host, m.Vars),
		Quacks:   quacks,
		Machine:  e.Kind == manifest.KindMachine,
	})
	if err != nil {
		return false, err
	}

	if sum, err := checksum.File(abs); err == nil && sum == checksum.Sum([]byte(rendered)) {
		return false, nil
	}

	if err := runHook(ctx, "before", e.Before, group, abs); err != nil {
		return false, err
	}

	m.preWrite(abs)
	if err := WriteLocal(abs, []byte(rendered)); err != nil {
		return false, err
	}
	m.Logger.Info("apply.written", "path", abs, "bytes", len(rendered))

	// A failed after hook is reported; the write stands.
	if err := runHook(ctx, "after", e.After, group, abs); err != nil {
		return true, err
	}
	return true, nil
}

// WriteLocal writes a managed file via temp+rename, carrying over the
// existing file's permission bits including setuid/setgid.
func WriteLocal(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode() & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	tmp := path + ".laszoo-tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open temp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := f.Chmod(mode); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func matchFilter(filter []string, path string) bool {
	for _, f := range filter {
		if abs, err := canonicalize(f); err == nil && abs == path {
			return true
		}
	}
	return false
}
