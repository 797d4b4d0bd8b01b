// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package watch runs the per-host reconciliation loop: an fsnotify producer
// for local edits, a checksum-polled scanner for remote template edits, and
// a single consumer draining a coalescing queue into the sync engine. The
// loop never stops on a dead mount; it fails closed and resumes on the next
// tick.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Zorlin/laszoo/pkg/checksum"
	"github.com/Zorlin/laszoo/pkg/engine"
	"github.com/Zorlin/laszoo/pkg/fspath"
	"github.com/Zorlin/laszoo/pkg/group"
	"github.com/Zorlin/laszoo/pkg/manifest"
)

// Options tune the loop's timing and behavior.
type Options struct {
	// Debounce collapses bursts of local events for one path. Default 500ms.
	Debounce time.Duration
	// PollInterval paces the remote scanner. Default 2s.
	PollInterval time.Duration
	// IgnoreTTL is the echo-suppression window. Default 5s.
	IgnoreTTL time.Duration
	// ActionOverride, when set, replaces every entry's configured action
	// (watch --hard runs everything as rollback).
	ActionOverride manifest.Action
	// ReportOnly observes and logs divergence without reconciling
	// (watch without --auto).
	ReportOnly bool
}

func (o *Options) defaults() {
	if o.Debounce <= 0 {
		o.Debounce = 500 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.IgnoreTTL <= 0 {
		o.IgnoreTTL = 5 * time.Second
	}
}

// entryRef ties an expanded local path back to its enrollment.
type entryRef struct {
	group string
	entry *manifest.Entry
}

// Loop is the long-lived watcher/scanner/consumer assembly for one host.
type Loop struct {
	eng    *engine.Engine
	roster *group.Roster
	layout fspath.Layout
	host   string
	logger *slog.Logger
	opts   Options

	ignore  *ignoreSet
	queue   *eventQueue
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	index    map[string]entryRef // exact enrolled local path -> enrollment
	dirs     map[string]entryRef // directory-entry local path -> enrollment
	lastSeen map[string]string   // template path -> checksum
	watched  map[string]bool     // dirs currently in the fsnotify set
	timers   map[string]*time.Timer
}

// New assembles a loop. The engine's PreWrite hook is claimed for echo
// suppression; writes made through this engine while the loop runs will not
// re-enter the queue.
func New(eng *engine.Engine, roster *group.Roster, layout fspath.Layout, host string, logger *slog.Logger, opts Options) *Loop {
	opts.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		eng:      eng,
		roster:   roster,
		layout:   layout,
		host:     host,
		logger:   logger,
		opts:     opts,
		ignore:   newIgnoreSet(opts.IgnoreTTL),
		queue:    newEventQueue(),
		index:    map[string]entryRef{},
		dirs:     map[string]entryRef{},
		lastSeen: map[string]string{},
		watched:  map[string]bool{},
		timers:   map[string]*time.Timer{},
	}
	eng.PreWrite = l.ignore.Add
	if eng.Manager != nil {
		eng.Manager.PreWrite = l.ignore.Add
	}
	return l
}

// Run drives the loop until ctx is canceled: the watcher stops producing,
// the scanner finishes its walk, and the consumer drains what is queued.
func (l *Loop) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	l.watcher = w
	defer w.Close()

	l.scanTick(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.pumpLocal(ctx)
	}()
	go func() {
		defer wg.Done()
		l.pumpRemote(ctx)
	}()

	l.consume(ctx)
	wg.Wait()
	return ctx.Err()
}

// pumpLocal converts raw fsnotify events into debounced LocalChanged queue
// entries for enrolled paths.
func (l *Loop) pumpLocal(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			path := filepath.Clean(ev.Name)
			if strings.HasSuffix(path, ".laszoo-tmp") {
				continue
			}
			if !l.relevantLocal(path) {
				continue
			}
			l.debounce(path)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("watch.fsnotify.error", "err", err)
		}
	}
}

// debounce (re)arms a per-path timer; the queue sees one event per burst.
func (l *Loop) debounce(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.timers[path]; ok {
		t.Reset(l.opts.Debounce)
		return
	}
	l.timers[path] = time.AfterFunc(l.opts.Debounce, func() {
		l.mu.Lock()
		delete(l.timers, path)
		l.mu.Unlock()
		eventsTotal.WithLabelValues("local").Inc()
		l.queue.Push(Event{Path: path, Kind: LocalChanged})
	})
}

// pumpRemote paces the scanner.
func (l *Loop) pumpRemote(ctx context.Context) {
	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.scanTick(ctx)
		}
	}
}

// scanTick is one remote-scan pass: probe the mount, refresh the enrollment
// index and watch set, then diff template checksums against last-seen.
// Errors are logged and retried on the next tick; the loop never dies with
// the mount.
func (l *Loop) scanTick(ctx context.Context) {
	available := l.layout.Available()
	if available {
		mountAvailable.Set(1)
	} else {
		mountAvailable.Set(0)
		l.logger.Warn("watch.mount.unavailable", "root", l.layout.Root)
		return
	}

	if err := l.refreshIndex(); err != nil {
		scanErrors.Inc()
		l.logger.Warn("watch.scan.index_error", "err", err)
		return
	}
	l.scanTemplates(ctx)
}

// refreshIndex reloads the enrollments this host cares about: every group
// it is a member of plus its machine entries, expanding directory entries
// into their current descendants. The fsnotify watch set follows.
func (l *Loop) refreshIndex() error {
	mgr := l.eng.Manager
	groups, err := l.roster.Groups(l.host)
	if err != nil {
		return err
	}

	index := map[string]entryRef{}
	dirs := map[string]entryRef{}
	seen := map[string]bool{}
	add := func(g string, entries []*manifest.Entry) error {
		for _, e := range entries {
			ref := entryRef{group: g, entry: e}
			if g == "" {
				ref.group = e.Group
			}
			if e.IsDirectory {
				dirs[e.Path] = ref
			}
			paths, err := mgr.EntryFiles(g, e)
			if err != nil {
				return err
			}
			for _, p := range paths {
				if !seen[p] {
					seen[p] = true
					index[p] = ref
				}
			}
		}
		return nil
	}
	for _, g := range groups {
		entries, err := mgr.EntriesFor(g)
		if err != nil {
			return err
		}
		if err := add(g, entries); err != nil {
			return err
		}
	}
	// Machine entries are owned by this host regardless of membership.
	mach, _, err := l.eng.Store.LoadMachine(l.host)
	if err != nil {
		return err
	}
	if err := add("", mach.Entries); err != nil {
		return err
	}

	l.mu.Lock()
	l.index = index
	l.dirs = dirs
	l.mu.Unlock()

	l.updateWatchSet(index, dirs)
	return nil
}

// updateWatchSet watches the parent directory of every enrolled file and
// the full tree of directory enrollments, dropping watches that no longer
// matter.
func (l *Loop) updateWatchSet(index map[string]entryRef, dirs map[string]entryRef) {
	if l.watcher == nil {
		return
	}
	want := map[string]bool{}
	for p := range index {
		want[filepath.Dir(p)] = true
	}
	for d := range dirs {
		_ = filepath.WalkDir(d, func(path string, ent fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ent.IsDir() {
				want[path] = true
			}
			return nil
		})
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for dir := range want {
		if l.watched[dir] {
			continue
		}
		if err := l.watcher.Add(dir); err != nil {
			l.logger.Warn("watch.add.failed", "dir", dir, "err", err)
			continue
		}
		l.watched[dir] = true
	}
	for dir := range l.watched {
		if want[dir] {
			continue
		}
		if err := l.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			l.logger.Warn("watch.remove.failed", "dir", dir, "err", err)
		}
		delete(l.watched, dir)
	}
}

// scanTemplates diffs every owned template's checksum against the last-seen
// map and queues TemplateChanged events. A template's first sighting also
// queues, so a fresh loop reconciles everything it finds.
func (l *Loop) scanTemplates(ctx context.Context) {
	roots := []string{l.layout.MachineDir(l.host)}
	groups, err := l.roster.Groups(l.host)
	if err != nil {
		scanErrors.Inc()
		return
	}
	for _, g := range groups {
		roots = append(roots, l.layout.GroupDir(g))
	}

	for _, root := range roots {
		if ctx.Err() != nil {
			return
		}
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
			sum, err := checksum.File(path)
			if err != nil {
				return err
			}
			l.mu.Lock()
			prev, known := l.lastSeen[path]
			l.lastSeen[path] = sum
			l.mu.Unlock()
			if known && prev == sum {
				return nil
			}
			_, _, local, err := l.layout.LocalPath(path)
			if err != nil {
				return nil
			}
			eventsTotal.WithLabelValues("template").Inc()
			l.queue.Push(Event{Path: local, Kind: TemplateChanged})
			return nil
		})
		if err != nil {
			scanErrors.Inc()
			l.logger.Warn("watch.scan.io_error", "root", root, "err", err)
		}
	}
}

// consume drains the queue sequentially. On shutdown it finishes whatever
// is already queued, then exits.
func (l *Loop) consume(ctx context.Context) {
	for {
		ev, err := l.queue.Pop(ctx)
		if err != nil {
			l.drain()
			return
		}
		l.handle(ctx, ev)
	}
}

func (l *Loop) drain() {
	// Bounded by the snapshot length: an event requeued during shutdown
	// (mount down) is not chased forever.
	for n := l.queue.Len(); n > 0; n-- {
		ev, err := l.queue.Pop(context.Background())
		if err != nil {
			return
		}
		l.handle(context.Background(), ev)
	}
}

// handle dispatches one event to the sync engine.
func (l *Loop) handle(ctx context.Context, ev Event) {
	if l.ignore.Hit(ev.Path) {
		eventsDiscarded.Inc()
		l.logger.Debug("watch.event.suppressed", "path", ev.Path, "kind", ev.Kind.String())
		return
	}

	ref, ok := l.lookup(ev.Path)
	if !ok {
		l.logger.Debug("watch.event.unenrolled", "path", ev.Path)
		return
	}

	if !l.layout.Available() {
		// Fail closed: requeue and wait for the mount to come back.
		mountAvailable.Set(0)
		l.queue.Push(ev)
		select {
		case <-ctx.Done():
		case <-time.After(l.opts.PollInterval):
		}
		return
	}

	action := ref.entry.Action
	if l.opts.ActionOverride != "" {
		action = l.opts.ActionOverride
	}
	if l.opts.ReportOnly {
		action = manifest.ActionFreeze
	}

	res := l.eng.SyncPath(ctx, ref.group, ref.entry, ev.Path, action)
	outcome := "ok"
	switch {
	case errors.Is(res.Err, engine.ErrMountUnavailable):
		outcome = "mount-unavailable"
		l.queue.Push(ev)
	case res.Err != nil:
		outcome = "error"
	}
	syncsTotal.WithLabelValues(string(action), outcome).Inc()
	l.logger.Info("watch.sync", "path", ev.Path, "kind", ev.Kind.String(),
		"action", action, "state", string(res.State),
		"wrote_local", res.WroteLocal, "wrote_template", res.WroteTemplate, "err", res.Err)
}

// lookup resolves an event path to its enrollment: exact entry first, then
// the covering directory entry.
func (l *Loop) lookup(path string) (entryRef, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ref, ok := l.index[path]; ok {
		return ref, true
	}
	for d, ref := range l.dirs {
		if strings.HasPrefix(path, d+"/") {
			return ref, true
		}
	}
	return entryRef{}, false
}

// relevantLocal reports whether a local filesystem event concerns an
// enrolled path.
func (l *Loop) relevantLocal(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.index[path]; ok {
		return true
	}
	for d := range l.dirs {
		if strings.HasPrefix(path, d+"/") {
			return true
		}
	}
	return false
}
