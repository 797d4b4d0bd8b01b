// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package enroll

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/Zorlin/laszoo/pkg/fspath"
)

// quackFile is the on-disk shape of a host's private region bodies for one
// group-enrolled path: region ordinal -> body. It lives next to the host's
// machine tree so only that host ever writes it.
type quackFile struct {
	Regions map[string]string `json:"regions"`
}

// LoadQuacks reads the host's recorded quack bodies for a local path.
// Missing sidecar means no regions recorded.
func LoadQuacks(layout fspath.Layout, host, localPath string) (map[int]string, error) {
	data, err := os.ReadFile(layout.QuackFile(host, localPath))
	if err != nil {
		if os.IsNotExist(err) {
			return map[int]string{}, nil
		}
		return nil, fmt.Errorf("read quacks: %w", err)
	}
	var qf quackFile
	if err := json.Unmarshal(data, &qf); err != nil {
		return nil, fmt.Errorf("parse quacks: %w", err)
	}
	out := map[int]string{}
	for k, v := range qf.Regions {
		i, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[i] = v
	}
	return out, nil
}

// SaveQuacks persists the host's quack bodies atomically. An empty set
// removes the sidecar.
func SaveQuacks(layout fspath.Layout, host, localPath string, quacks map[int]string) error {
	path := layout.QuackFile(host, localPath)
	if len(quacks) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("prune quacks: %w", err)
		}
		return nil
	}
	qf := quackFile{Regions: map[string]string{}}
	for i, v := range quacks {
		qf.Regions[strconv.Itoa(i)] = v
	}
	data, err := json.MarshalIndent(qf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal quacks: %w", err)
	}
	if err := fspath.WriteAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write quacks: %w", err)
	}
	return nil
}
