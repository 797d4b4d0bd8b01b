// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package template

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Hybridize builds a shared template from a group baseline and one host's
// divergent copy: spans common to both stay literal, each divergent span
// becomes a quack region whose shared body is the baseline text and whose
// recorded private body is the host's text. Other hosts keep rendering the
// baseline; this host's quacks reproduce its file byte-for-byte.
func Hybridize(base, local string) (*Template, map[int]string) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(base, local, true)
	diffs = dmp.DiffCleanupSemantic(diffs)

	t := &Template{}
	quacks := map[int]string{}
	ordinal := 0

	var pendingBase, pendingLocal strings.Builder
	pending := false
	flush := func() {
		if !pending {
			return
		}
		body := pendingBase.String()
		t.nodes = append(t.nodes, node{kind: nodeQuack, raw: serializeQuack(body), body: body})
		quacks[ordinal] = pendingLocal.String()
		ordinal++
		pendingBase.Reset()
		pendingLocal.Reset()
		pending = false
	}

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			t.nodes = append(t.nodes, node{kind: nodeLiteral, raw: d.Text})
		case diffmatchpatch.DiffDelete:
			pendingBase.WriteString(d.Text)
			pending = true
		case diffmatchpatch.DiffInsert:
			pendingLocal.WriteString(d.Text)
			pending = true
		}
	}
	flush()
	return t, quacks
}

func serializeQuack(body string) string {
	if body == "" {
		return quackOpen + " " + quackClose
	}
	return quackOpen + " " + body + " " + quackClose
}
