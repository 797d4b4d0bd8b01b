// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package template

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ExtractResult is the outcome of mapping a locally edited render back onto
// the template.
type ExtractResult struct {
	// Template carries the user's edits to static (literal) regions. If no
	// literal changed it is structurally identical to the input template.
	Template *Template

	// Quacks holds the updated per-region private bodies for this host,
	// keyed by region ordinal. Regions the user did not touch keep their
	// prior recorded value.
	Quacks map[int]string

	// Degraded is set when the edited file no longer resembles the render
	// and Extract fell back to a flat overwrite of the whole template. The
	// caller should surface a warning.
	Degraded bool
}

// degradeRatio: when fewer than 1/4 of the larger side's bytes survive the
// diff unchanged, alignment is meaningless (binary churn, wholesale rewrite)
// and Extract degrades to a flat template.
const degradeRatio = 4

// Extract is the inverse of Render: given the file as edited on this host,
// recover (a) a template whose static regions reflect the edits and (b) the
// host's new quack bodies. Edits inside a quack region's span update that
// region's private body; edits inside a hole's span are absorbed by the
// binding (the hole survives); everything else is a literal template edit.
//
// Extract is deterministic and idempotent: extracting an unmodified render
// returns the template and quack set unchanged.
func (t *Template) Extract(rendered string, in RenderInput) (*ExtractResult, error) {
	expected, spans, err := t.renderSpans(in)
	if err != nil {
		return nil, err
	}
	if expected == rendered {
		return &ExtractResult{Template: t, Quacks: copyQuacks(in.Quacks)}, nil
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(expected, rendered, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	if degraded(diffs, len(expected), len(rendered)) {
		return &ExtractResult{
			Template: Flat(rendered),
			Quacks:   copyQuacks(in.Quacks),
			Degraded: true,
		}, nil
	}

	// Replay the diff against the node spans, accumulating each node's new
	// output text.
	out := make([]strings.Builder, len(t.nodes))
	pos := 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			distribute(out, spans, pos, d.Text)
			pos += len(d.Text)
		case diffmatchpatch.DiffDelete:
			pos += len(d.Text)
		case diffmatchpatch.DiffInsert:
			out[t.insertTarget(spans, pos)].WriteString(d.Text)
		}
	}

	return t.rebuild(out, in), nil
}

// distribute appends an unchanged run of expected text to every node whose
// span overlaps it.
func distribute(out []strings.Builder, spans []span, pos int, text string) {
	end := pos + len(text)
	for i, s := range spans {
		if s.end <= pos || s.start >= end {
			continue
		}
		lo, hi := max(s.start, pos), min(s.end, end)
		out[i].WriteString(text[lo-pos : hi-pos])
	}
}

// insertTarget picks the node that absorbs an insertion at expected-position
// pos. A quack region adjacent to or containing the position wins, so local
// additions at a region boundary become private content rather than template
// edits; otherwise the containing node, then the following one.
func (t *Template) insertTarget(spans []span, pos int) int {
	containing, prev, next := -1, -1, -1
	for i, s := range spans {
		if s.start < pos && pos < s.end {
			containing = i
		}
		if s.end == pos {
			prev = i
		}
		if s.start == pos && next < 0 {
			next = i
		}
	}
	for _, i := range []int{containing, prev, next} {
		if i >= 0 && t.nodes[i].kind == nodeQuack {
			return i
		}
	}
	// A hole adjacent to the insertion absorbs it: its output is the
	// binding's business and is dropped on rebuild.
	for _, i := range []int{containing, prev, next} {
		if i >= 0 && t.nodes[i].kind == nodeHole {
			return i
		}
	}
	if containing >= 0 {
		return containing
	}
	if next >= 0 {
		return next
	}
	if prev >= 0 {
		return prev
	}
	return len(t.nodes) - 1
}

// rebuild assembles the new template and quack set from per-node output.
func (t *Template) rebuild(out []strings.Builder, in RenderInput) *ExtractResult {
	res := &ExtractResult{
		Template: &Template{nodes: make([]node, len(t.nodes))},
		Quacks:   copyQuacks(in.Quacks),
	}
	quackIdx := 0
	for i, n := range t.nodes {
		switch n.kind {
		case nodeLiteral:
			n.raw = out[i].String()
		case nodeHole:
			// Holes survive untouched: the rendered value is the binding's
			// business, not the template's.
		case nodeQuack:
			prior, recorded := in.Quacks[quackIdx]
			rendered := n.body
			if in.Machine {
				rendered = n.raw
			} else if recorded {
				rendered = prior
			}
			if got := out[i].String(); got != rendered {
				res.Quacks[quackIdx] = got
			}
			quackIdx++
		}
		res.Template.nodes[i] = n
	}
	return res
}

func degraded(diffs []diffmatchpatch.Diff, expectedLen, renderedLen int) bool {
	longer := max(expectedLen, renderedLen)
	if longer == 0 {
		return false
	}
	equal := 0
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			equal += len(d.Text)
		}
	}
	return equal*degradeRatio < longer
}

func copyQuacks(q map[int]string) map[int]string {
	out := make(map[int]string, len(q))
	for k, v := range q {
		out[k] = v
	}
	return out
}
