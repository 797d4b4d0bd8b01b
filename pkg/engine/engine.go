// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine reconciles local files against shared templates. Five
// actions define direction and policy: converge (bidirectional via Extract),
// rollback (template wins), forward (local wins), freeze (report only) and
// drift (ignore). All shared-side writes follow the optimistic CAS
// discipline; there is no distributed lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/Zorlin/laszoo/pkg/checksum"
	"github.com/Zorlin/laszoo/pkg/enroll"
	"github.com/Zorlin/laszoo/pkg/fspath"
	"github.com/Zorlin/laszoo/pkg/manifest"
	"github.com/Zorlin/laszoo/pkg/template"
)

var (
	// ErrMountUnavailable marks a reconciliation refused because the shared
	// root cannot be read. Partitioned hosts must not silently diverge, so
	// neither side is mutated until the mount returns.
	ErrMountUnavailable = errors.New("shared mount unavailable")

	// ErrRetryExhausted surfaces after the CAS loop lost three races on the
	// same entry. The entry stays divergent; the next tick retries.
	ErrRetryExhausted = errors.New("convergence retries exhausted")
)

// casRetries bounds re-evaluation of an entry whose peer changed between
// action selection and write.
const casRetries = 3

// Recorder appends template mutations to the version log. Log failures
// never abort reconciliation, so implementations swallow their own errors.
type Recorder interface {
	Record(ctx context.Context, paths []string)
}

// State classifies one file's relation to its template.
type State string

const (
	StateInSync          State = "in-sync"
	StateDiverged        State = "diverged"
	StateMissingLocal    State = "missing-local"
	StateMissingTemplate State = "missing-template"
	StateError           State = "error"
)

// Result reports the outcome of reconciling one local path.
type Result struct {
	Path          string
	Action        manifest.Action
	State         State
	WroteLocal    bool
	WroteTemplate bool
	Degraded      bool
	Err           error
}

// Engine drives reconciliation for one host.
type Engine struct {
	Layout  fspath.Layout
	Store   *manifest.Store
	Manager *enroll.Manager
	Log     Recorder // optional
	Host    string
	Vars    map[string]string
	Logger  *slog.Logger

	// PreWrite is invoked with each path immediately before the engine
	// writes it; the watch loop arms echo suppression with it.
	PreWrite func(path string)

	// DryRun reports what would happen without writing either side.
	DryRun bool
}

// SyncGroup reconciles every entry of group, in lexicographic path order,
// one at a time, so a crash leaves a prefix applied. actionOverride, when
// non-empty, replaces each entry's configured action. Per-entry errors are
// carried in the results; one bad entry never stalls the rest.
func (e *Engine) SyncGroup(ctx context.Context, group string, actionOverride manifest.Action) ([]Result, error) {
	if !e.Layout.Available() {
		return nil, ErrMountUnavailable
	}
	entries, err := e.Manager.EntriesFor(group)
	if err != nil {
		return nil, err
	}

	type job struct {
		entry *manifest.Entry
		path  string
	}
	var jobs []job
	var results []Result
	for _, entry := range entries {
		paths, err := e.Manager.EntryFiles(group, entry)
		if err != nil {
			results = append(results, Result{Path: entry.Path, Action: entry.Action, State: StateError, Err: err})
			continue
		}
		for _, p := range paths {
			jobs = append(jobs, job{entry: entry, path: p})
		}
	}
	// Lexicographic path order, one at a time: a crash leaves a prefix
	// applied.
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].path < jobs[j].path })

	for _, j := range jobs {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		action := j.entry.Action
		if actionOverride != "" {
			action = actionOverride
		}
		res := e.syncOne(ctx, group, j.entry, j.path, action)
		results = append(results, res)
		if res.Err != nil {
			e.Logger.Warn("sync.entry.failed", "path", j.path, "action", action, "err", res.Err)
		}
	}
	return results, nil
}

// SyncPath reconciles a single enrolled file. The watch loop dispatches
// queue items here. An empty action means the entry's configured one.
func (e *Engine) SyncPath(ctx context.Context, group string, entry *manifest.Entry, abs string, action manifest.Action) Result {
	if action == "" {
		action = entry.Action
	}
	if !e.Layout.Available() {
		return Result{Path: abs, Action: action, State: StateError, Err: ErrMountUnavailable}
	}
	return e.syncOne(ctx, group, entry, abs, action)
}

// syncOne runs the CAS loop for a single file.
func (e *Engine) syncOne(ctx context.Context, group string, entry *manifest.Entry, abs string, action manifest.Action) Result {
	res := Result{Path: abs, Action: action}
	if action == manifest.ActionDrift {
		res.State = StateInSync
		return res
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		retry, err := e.attempt(ctx, group, entry, abs, action, &res)
		if err != nil {
			res.Err = err
			res.State = StateError
			return res
		}
		if !retry {
			return res
		}
		e.Logger.Debug("sync.cas.retry", "path", abs, "attempt", attempt+1)
	}
	res.Err = fmt.Errorf("%w: %s", ErrRetryExhausted, abs)
	res.State = StateDiverged
	return res
}

// attempt evaluates the entry once. It returns retry=true when the peer
// changed underneath the selected action and the whole evaluation must
// restart from fresh reads.
func (e *Engine) attempt(ctx context.Context, group string, entry *manifest.Entry, abs string, action manifest.Action, res *Result) (bool, error) {
	if !e.Layout.Available() {
		return false, ErrMountUnavailable
	}

	tpath := e.templatePath(group, abs, entry.Kind)
	tsrc, err := os.ReadFile(tpath)
	if err != nil {
		if os.IsNotExist(err) {
			res.State = StateMissingTemplate
			return false, nil
		}
		return false, fmt.Errorf("read template: %w", err)
	}
	tsum := checksum.Sum(tsrc)

	tmpl, err := template.Parse(string(tsrc))
	if err != nil {
		return false, err
	}
	quacks, err := enroll.LoadQuacks(e.Layout, e.Host, abs)
	if err != nil {
		return false, err
	}
	in := template.RenderInput{
		Bindings: enroll.Bindings(e.Host, e.Vars),
		Quacks:   quacks,
		Machine:  entry.Kind == manifest.KindMachine,
	}
	expected, err := tmpl.Render(in)
	if err != nil {
		return false, err
	}

	local, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			res.State = StateMissingLocal
			// A missing local file is maximal drift: rollback and converge
			// both restore it from the template.
			if action == manifest.ActionRollback || action == manifest.ActionConverge {
				return false, e.writeLocal(abs, expected, res)
			}
			return false, nil
		}
		return false, fmt.Errorf("read local: %w", err)
	}

	if string(local) == expected {
		res.State = StateInSync
		return false, nil
	}
	res.State = StateDiverged

	switch action {
	case manifest.ActionFreeze:
		e.Logger.Warn("sync.frozen.divergence", "path", abs)
		return false, nil

	case manifest.ActionRollback:
		if e.DryRun {
			return false, nil
		}
		return false, e.writeLocal(abs, expected, res)

	case manifest.ActionForward:
		if e.DryRun {
			return false, nil
		}
		return e.writeTemplate(ctx, group, entry, abs, tpath, tsum, string(local), res, func() error {
			// A flat template owns the whole file; stale private regions
			// would shadow future edits.
			return enroll.SaveQuacks(e.Layout, e.Host, abs, nil)
		})

	case manifest.ActionConverge:
		extracted, err := tmpl.Extract(string(local), in)
		if err != nil {
			return false, err
		}
		if extracted.Degraded {
			res.Degraded = true
			e.Logger.Warn("sync.converge.degraded", "path", abs,
				"msg", "edited file no longer resembles the render; promoting as flat template")
		}
		if e.DryRun {
			return false, nil
		}
		newSrc := extracted.Template.Source()
		if newSrc != string(tsrc) {
			retry, err := e.writeTemplate(ctx, group, entry, abs, tpath, tsum, newSrc, res, func() error {
				return enroll.SaveQuacks(e.Layout, e.Host, abs, extracted.Quacks)
			})
			if retry || err != nil {
				return retry, err
			}
		} else if err := enroll.SaveQuacks(e.Layout, e.Host, abs, extracted.Quacks); err != nil {
			return false, err
		}

		// Re-render with the promoted template and quacks; private drift is
		// preserved, so this usually matches the local file already.
		in.Quacks = extracted.Quacks
		final, err := extracted.Template.Render(in)
		if err != nil {
			return false, err
		}
		if final != string(local) {
			return false, e.writeLocal(abs, final, res)
		}
		return false, nil

	default:
		return false, fmt.Errorf("unknown sync action %q", action)
	}
}

// writeTemplate performs the CAS-guarded shared-side write: re-read the
// peer's checksum, abort to a retry when it moved, otherwise rename the new
// content into place, run the follow-up, update the manifest checksum and
// append to the version log.
func (e *Engine) writeTemplate(ctx context.Context, group string, entry *manifest.Entry, abs, tpath, observedSum, content string, res *Result, after func() error) (bool, error) {
	curSum, err := checksum.File(tpath)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("re-read template: %w", err)
	}
	if curSum != observedSum {
		return true, nil
	}
	e.preWrite(tpath)
	if err := fspath.WriteAtomic(tpath, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write template: %w", err)
	}
	res.WroteTemplate = true
	if after != nil {
		if err := after(); err != nil {
			return false, err
		}
	}
	e.updateChecksum(group, entry, content)
	if e.Log != nil {
		e.Log.Record(ctx, []string{abs})
	}
	e.Logger.Info("sync.template.written", "path", abs, "template", tpath)
	return false, nil
}

func (e *Engine) writeLocal(abs, content string, res *Result) error {
	if e.DryRun {
		return nil
	}
	e.preWrite(abs)
	if err := enroll.WriteLocal(abs, []byte(content)); err != nil {
		return err
	}
	res.WroteLocal = true
	e.Logger.Info("sync.local.written", "path", abs)
	return nil
}

// updateChecksum refreshes the entry's recorded template checksum.
// Best-effort: losing this CAS leaves a stale hint field, nothing more.
func (e *Engine) updateChecksum(group string, entry *manifest.Entry, content string) {
	sum := checksum.Sum([]byte(content))
	if entry.Kind == manifest.KindMachine {
		mach, _, err := e.Store.LoadMachine(e.Host)
		if err != nil {
			return
		}
		if cur := mach.Find(entry.Path); cur != nil {
			cur.Checksum = sum
			_ = e.Store.SaveMachine(e.Host, mach)
		}
		return
	}
	gm, prevSum, err := e.Store.LoadGroup(group)
	if err != nil {
		return
	}
	if cur := gm.Find(entry.Path); cur != nil {
		cur.Checksum = sum
		if err := e.Store.SaveGroupIf(group, gm, prevSum); err != nil {
			e.Logger.Debug("sync.checksum.update.lost", "group", group, "path", entry.Path)
		}
	}
}

func (e *Engine) templatePath(group, abs string, kind manifest.Kind) string {
	if kind == manifest.KindMachine {
		return e.Layout.MachineTemplate(e.Host, abs)
	}
	return e.Layout.GroupTemplate(group, abs)
}

func (e *Engine) preWrite(path string) {
	if e.PreWrite != nil {
		e.PreWrite(path)
	}
}
