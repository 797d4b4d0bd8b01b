// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package template implements the text-level merge model behind every
// managed file: variable holes ({{ name }}, {{ name | default: "x" }}) and
// per-host quack regions ([[x body x]]). A template renders to the exact
// bytes of the managed file; Extract recovers template edits and quack
// bodies back out of a locally modified render.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	holeOpen   = "{{"
	holeClose  = "}}"
	quackOpen  = "[[x"
	quackClose = "x]]"
)

var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// MalformedTemplateError reports a template the parser rejects: unterminated
// or nested tokens, or an invalid hole expression.
type MalformedTemplateError struct {
	Offset int
	Reason string
}

func (e *MalformedTemplateError) Error() string {
	return fmt.Sprintf("malformed template at byte %d: %s", e.Offset, e.Reason)
}

// UnboundVariableError reports a hole with no binding and no default.
type UnboundVariableError struct {
	Name string
}

func (e *UnboundVariableError) Error() string {
	return fmt.Sprintf("unbound variable %q", e.Name)
}

type nodeKind int

const (
	nodeLiteral nodeKind = iota
	nodeHole
	nodeQuack
)

// node is one parsed segment. raw is the exact source text of the segment,
// so that Source() round-trips byte-identically.
type node struct {
	kind nodeKind
	raw  string

	// hole fields
	name   string
	def    string
	hasDef bool

	// quack field: the shared body (empty for a placeholder region)
	body string
}

// Template is a parsed .lasz file. Holes and quack regions are
// non-overlapping by construction; the parser rejects nesting.
type Template struct {
	nodes []node
}

// Parse scans src in one left-to-right pass, recognizing the token set at
// literal byte boundaries. All other bytes are literal.
func Parse(src string) (*Template, error) {
	t := &Template{}
	pos := 0
	for pos < len(src) {
		hi := strings.Index(src[pos:], holeOpen)
		qi := strings.Index(src[pos:], quackOpen)
		next, isQuack := hi, false
		if next < 0 || (qi >= 0 && qi < next) {
			next, isQuack = qi, true
		}
		if next < 0 {
			t.nodes = append(t.nodes, node{kind: nodeLiteral, raw: src[pos:]})
			break
		}
		if next > 0 {
			t.nodes = append(t.nodes, node{kind: nodeLiteral, raw: src[pos : pos+next]})
		}
		pos += next
		var n node
		var err error
		var consumed int
		if isQuack {
			n, consumed, err = parseQuack(src, pos)
		} else {
			n, consumed, err = parseHole(src, pos)
		}
		if err != nil {
			return nil, err
		}
		t.nodes = append(t.nodes, n)
		pos += consumed
	}
	return t, nil
}

func parseHole(src string, start int) (node, int, error) {
	inner := src[start+len(holeOpen):]
	end := strings.Index(inner, holeClose)
	if end < 0 {
		return node{}, 0, &MalformedTemplateError{Offset: start, Reason: "unterminated {{ token"}
	}
	expr := inner[:end]
	if strings.Contains(expr, holeOpen) || strings.Contains(expr, quackOpen) {
		return node{}, 0, &MalformedTemplateError{Offset: start, Reason: "nested token inside {{ }}"}
	}
	consumed := len(holeOpen) + end + len(holeClose)
	n := node{kind: nodeHole, raw: src[start : start+consumed]}

	name := expr
	if bar := strings.Index(expr, "|"); bar >= 0 {
		name = expr[:bar]
		def, err := parseDefault(expr[bar+1:])
		if err != nil {
			return node{}, 0, &MalformedTemplateError{Offset: start, Reason: err.Error()}
		}
		n.def, n.hasDef = def, true
	}
	n.name = strings.TrimSpace(name)
	if !nameRe.MatchString(n.name) {
		return node{}, 0, &MalformedTemplateError{Offset: start, Reason: fmt.Sprintf("invalid variable name %q", n.name)}
	}
	return n, consumed, nil
}

// parseDefault parses the filter part of a hole: `default: "value"`.
func parseDefault(s string) (string, error) {
	s = strings.TrimSpace(s)
	rest, ok := strings.CutPrefix(s, "default:")
	if !ok {
		return "", fmt.Errorf("unknown filter %q (only default: is recognized)", s)
	}
	rest = strings.TrimSpace(rest)
	if len(rest) < 2 || rest[0] != '"' || rest[len(rest)-1] != '"' {
		return "", fmt.Errorf("default value must be double-quoted, got %q", rest)
	}
	return rest[1 : len(rest)-1], nil
}

func parseQuack(src string, start int) (node, int, error) {
	inner := src[start+len(quackOpen):]
	end := strings.Index(inner, quackClose)
	if end < 0 {
		return node{}, 0, &MalformedTemplateError{Offset: start, Reason: "unterminated [[x token"}
	}
	body := inner[:end]
	if strings.Contains(body, holeOpen) || strings.Contains(body, quackOpen) {
		return node{}, 0, &MalformedTemplateError{Offset: start, Reason: "nested token inside [[x x]]"}
	}
	consumed := len(quackOpen) + end + len(quackClose)
	return node{kind: nodeQuack, raw: src[start : start+consumed], body: trimQuackBody(body)}, consumed, nil
}

// trimQuackBody strips the single delimiting space on each side of a region
// body. A whitespace-only body is a placeholder and reads as empty.
func trimQuackBody(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	body = strings.TrimPrefix(body, " ")
	body = strings.TrimSuffix(body, " ")
	return body
}

// Flat returns a template that renders to exactly content: a single literal
// node, no tokens interpreted. Used by forward-style promotion of a local
// file whose bytes may contain token-like text.
func Flat(content string) *Template {
	return &Template{nodes: []node{{kind: nodeLiteral, raw: content}}}
}

// Source serializes the template back to .lasz text. For an unmodified
// parse, Source is byte-identical to the input.
func (t *Template) Source() string {
	var b strings.Builder
	for _, n := range t.nodes {
		b.WriteString(n.raw)
	}
	return b.String()
}

// QuackCount reports how many quack regions the template carries.
func (t *Template) QuackCount() int {
	count := 0
	for _, n := range t.nodes {
		if n.kind == nodeQuack {
			count++
		}
	}
	return count
}

// Vars returns the hole names in appearance order, without duplicates.
func (t *Template) Vars() []string {
	seen := map[string]bool{}
	var names []string
	for _, n := range t.nodes {
		if n.kind == nodeHole && !seen[n.name] {
			seen[n.name] = true
			names = append(names, n.name)
		}
	}
	return names
}

// RenderInput carries the per-host state a render depends on.
type RenderInput struct {
	// Bindings substitute variable holes.
	Bindings map[string]string

	// Quacks maps quack-region ordinal (0-based, in template order) to this
	// host's recorded private content. A region with no recorded entry emits
	// its shared body.
	Quacks map[int]string

	// Machine marks a per-host template: quack regions are emitted verbatim
	// (markers included) since the whole file is already host-owned.
	Machine bool
}

// Render produces the managed file's bytes. Output is deterministic: a pure
// concatenation of input slices, bindings and quack content.
func (t *Template) Render(in RenderInput) (string, error) {
	var b strings.Builder
	quackIdx := 0
	for _, n := range t.nodes {
		switch n.kind {
		case nodeLiteral:
			b.WriteString(n.raw)
		case nodeHole:
			val, ok := in.Bindings[n.name]
			if !ok {
				if !n.hasDef {
					return "", &UnboundVariableError{Name: n.name}
				}
				val = n.def
			}
			b.WriteString(val)
		case nodeQuack:
			switch {
			case in.Machine:
				b.WriteString(n.raw)
			default:
				if q, ok := in.Quacks[quackIdx]; ok {
					b.WriteString(q)
				} else {
					b.WriteString(n.body)
				}
			}
			quackIdx++
		}
	}
	return b.String(), nil
}

// renderSpans renders like Render but also records, for every node, the byte
// range it produced in the output. Extract uses the spans to attribute local
// edits back to nodes.
func (t *Template) renderSpans(in RenderInput) (string, []span, error) {
	var b strings.Builder
	spans := make([]span, len(t.nodes))
	quackIdx := 0
	for i, n := range t.nodes {
		start := b.Len()
		switch n.kind {
		case nodeLiteral:
			b.WriteString(n.raw)
		case nodeHole:
			val, ok := in.Bindings[n.name]
			if !ok {
				if !n.hasDef {
					return "", nil, &UnboundVariableError{Name: n.name}
				}
				val = n.def
			}
			b.WriteString(val)
		case nodeQuack:
			switch {
			case in.Machine:
				b.WriteString(n.raw)
			default:
				if q, ok := in.Quacks[quackIdx]; ok {
					b.WriteString(q)
				} else {
					b.WriteString(n.body)
				}
			}
			quackIdx++
		}
		spans[i] = span{start: start, end: b.Len()}
	}
	return b.String(), spans, nil
}

type span struct {
	start, end int
}
