// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package manifest persists the per-group and per-host enrollment records on
// the shared tree. Manifests are stable-key JSON (lexicographic ordering),
// tolerant of missing files on read, atomic on write, and safe across hosts
// via a checksum-compared optimistic save.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind selects how a path's template is scoped.
type Kind string

const (
	// KindGroup shares one template across the whole group.
	KindGroup Kind = "group"
	// KindMachine keeps a per-host template.
	KindMachine Kind = "machine"
	// KindHybrid shares a group template that embeds per-host quack regions.
	KindHybrid Kind = "hybrid"
)

// Action is the reconciliation strategy for an entry.
type Action string

const (
	ActionConverge Action = "converge"
	ActionRollback Action = "rollback"
	ActionForward  Action = "forward"
	ActionFreeze   Action = "freeze"
	ActionDrift    Action = "drift"
)

// ValidKind reports whether k is a recognized enrollment kind.
func ValidKind(k Kind) bool {
	return k == KindGroup || k == KindMachine || k == KindHybrid
}

// ValidAction reports whether a is a recognized sync action.
func ValidAction(a Action) bool {
	switch a {
	case ActionConverge, ActionRollback, ActionForward, ActionFreeze, ActionDrift:
		return true
	}
	return false
}

// Entry is one enrollment record. Unknown JSON keys read from disk are kept
// and written back unchanged, so newer fields survive older engines.
type Entry struct {
	Group       string
	Path        string
	Kind        Kind
	Action      Action
	Before      string
	After       string
	IsDirectory bool
	Checksum    string

	unknown map[string]json.RawMessage
}

var entryKnownKeys = map[string]bool{
	"group": true, "path": true, "kind": true, "action": true,
	"before": true, "after": true, "is_directory": true, "checksum": true,
}

// UnmarshalJSON decodes the wire schema, capturing unrecognized keys.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	get := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		return json.Unmarshal(v, dst)
	}
	if err := errors.Join(
		get("group", &e.Group),
		get("path", &e.Path),
		get("kind", &e.Kind),
		get("action", &e.Action),
		get("before", &e.Before),
		get("after", &e.After),
		get("is_directory", &e.IsDirectory),
		get("checksum", &e.Checksum),
	); err != nil {
		return err
	}
	for key, v := range raw {
		if entryKnownKeys[key] {
			continue
		}
		if e.unknown == nil {
			e.unknown = map[string]json.RawMessage{}
		}
		e.unknown[key] = v
	}
	return nil
}

// MarshalJSON emits the entry with lexicographically ordered keys.
func (e *Entry) MarshalJSON() ([]byte, error) {
	fields := map[string]any{
		"group":        e.Group,
		"path":         e.Path,
		"kind":         e.Kind,
		"action":       e.Action,
		"is_directory": e.IsDirectory,
		"checksum":     e.Checksum,
	}
	if e.Before != "" {
		fields["before"] = e.Before
	}
	if e.After != "" {
		fields["after"] = e.After
	}
	raw := map[string]json.RawMessage{}
	for key, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw[key] = b
	}
	for key, v := range e.unknown {
		raw[key] = v
	}
	return orderedObject(raw), nil
}

// Manifest is the decoded content of one manifest.json.
type Manifest struct {
	Entries []*Entry

	unknown map[string]json.RawMessage
}

// UnmarshalJSON decodes {"entries": [...]} plus any unknown top-level keys.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["entries"]; ok {
		if err := json.Unmarshal(v, &m.Entries); err != nil {
			return fmt.Errorf("decode entries: %w", err)
		}
	}
	for key, v := range raw {
		if key == "entries" {
			continue
		}
		if m.unknown == nil {
			m.unknown = map[string]json.RawMessage{}
		}
		m.unknown[key] = v
	}
	return nil
}

// MarshalJSON emits stable-key JSON. Entries are ordered by path so two
// hosts writing the same logical content produce identical bytes.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	entries := make([]*Entry, len(m.Entries))
	copy(entries, m.Entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	var list bytes.Buffer
	list.WriteByte('[')
	for i, e := range entries {
		if i > 0 {
			list.WriteByte(',')
		}
		b, err := e.MarshalJSON()
		if err != nil {
			return nil, err
		}
		list.Write(b)
	}
	list.WriteByte(']')

	raw := map[string]json.RawMessage{"entries": list.Bytes()}
	for key, v := range m.unknown {
		raw[key] = v
	}
	return orderedObject(raw), nil
}

// Find returns the entry for an exact local path, or nil.
func (m *Manifest) Find(path string) *Entry {
	for _, e := range m.Entries {
		if e.Path == path {
			return e
		}
	}
	return nil
}

// CoveringDirectory returns the directory entry that adopts path, or nil.
// A path beneath an enrolled directory must not carry its own entry.
func (m *Manifest) CoveringDirectory(path string) *Entry {
	for _, e := range m.Entries {
		if e.IsDirectory && e.Path != path && strings.HasPrefix(path, e.Path+"/") {
			return e
		}
	}
	return nil
}

// Upsert inserts or replaces the entry for e.Path.
func (m *Manifest) Upsert(e *Entry) {
	for i, old := range m.Entries {
		if old.Path == e.Path {
			m.Entries[i] = e
			return
		}
	}
	m.Entries = append(m.Entries, e)
}

// Remove deletes the entry for path; it reports whether one existed.
func (m *Manifest) Remove(path string) bool {
	for i, e := range m.Entries {
		if e.Path == path {
			m.Entries = append(m.Entries[:i], m.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// Empty reports whether the manifest carries no state worth persisting.
func (m *Manifest) Empty() bool {
	return len(m.Entries) == 0 && len(m.unknown) == 0
}

// SortedPaths returns enrolled paths in lexicographic order, the order the
// sync engine processes entries in.
func (m *Manifest) SortedPaths() []string {
	paths := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		paths = append(paths, e.Path)
	}
	sort.Strings(paths)
	return paths
}

// orderedObject renders a JSON object with keys in lexicographic order.
func orderedObject(raw map[string]json.RawMessage) []byte {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	b.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, _ := json.Marshal(key)
		b.Write(kb)
		b.WriteByte(':')
		b.Write(raw[key])
	}
	b.WriteByte('}')
	return b.Bytes()
}
