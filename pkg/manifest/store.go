// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Zorlin/laszoo/pkg/checksum"
	"github.com/Zorlin/laszoo/pkg/fspath"
)

// ErrConflict is returned by SaveGroupIf when another writer changed the manifest
// between the caller's read and its write. Callers re-read and retry.
var ErrConflict = errors.New("manifest conflict: concurrent writer won")

// Store reads and writes manifests on the shared tree.
//
// There is no distributed lock. Writers follow the CAS discipline: load a
// manifest together with its content checksum, mutate, then SaveGroupIf with
// that checksum. A lost race surfaces as ErrConflict, never as silent overwrite.
type Store struct {
	layout fspath.Layout
	logger *slog.Logger
}

// NewStore creates a store over the given layout.
func NewStore(layout fspath.Layout, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{layout: layout, logger: logger}
}

// LoadGroup reads a group manifest. A missing file yields an empty manifest
// and an empty checksum.
func (s *Store) LoadGroup(group string) (*Manifest, string, error) {
	return s.load(s.layout.GroupManifest(group))
}

// LoadMachine reads a host's machine manifest.
func (s *Store) LoadMachine(host string) (*Manifest, string, error) {
	return s.load(s.layout.MachineManifest(host))
}

func (s *Store) load(path string) (*Manifest, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{}, "", nil
		}
		return nil, "", fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, checksum.Sum(data), nil
}

// SaveGroup writes a group manifest unconditionally (single-writer paths
// such as group rename). Prefer SaveGroupIf in reconciliation code.
func (s *Store) SaveGroup(group string, m *Manifest) error {
	return s.save(s.layout.GroupManifest(group), m, true)
}

// SaveMachine writes a host's machine manifest. Machine manifests are only
// ever mutated by their own host, so no CAS is needed. An empty machine
// manifest is kept on disk: a host listed in any membership roster must have
// one.
func (s *Store) SaveMachine(host string, m *Manifest) error {
	return s.save(s.layout.MachineManifest(host), m, false)
}

// SaveGroupIf writes a group manifest only if the on-disk content still
// matches prevSum (the checksum returned by the load that produced m).
// Because the underlying rename is last-writer-wins, the write is re-read
// and re-compared afterwards; a mismatch is a lost race.
func (s *Store) SaveGroupIf(group string, m *Manifest, prevSum string) error {
	path := s.layout.GroupManifest(group)

	curSum, err := fileSum(path)
	if err != nil {
		return err
	}
	if curSum != prevSum {
		s.logger.Debug("manifest.cas.stale", "path", path)
		return ErrConflict
	}

	if err := s.save(path, m, true); err != nil {
		return err
	}

	// Re-read: whoever's rename landed last owns the file now.
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	postSum, err := fileSum(path)
	if err != nil {
		return err
	}
	if !m.Empty() && postSum != checksum.Sum(indent(data)) {
		s.logger.Debug("manifest.cas.lost", "path", path)
		return ErrConflict
	}
	return nil
}

func (s *Store) save(path string, m *Manifest, prune bool) error {
	if prune && m.Empty() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("prune manifest: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := fspath.WriteAtomic(path, indent(data), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// fileSum returns the checksum of a file, or "" when it does not exist.
func fileSum(path string) (string, error) {
	sum, err := checksum.File(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("checksum manifest: %w", err)
	}
	return sum, nil
}

// indent pretty-prints the stable-key JSON for humans poking at the tree.
// Key order is preserved.
func indent(data []byte) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return data
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}
