// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package template

import (
	"errors"
	"testing"
)

func mustParse(t *testing.T, src string) *Template {
	t.Helper()
	tmpl, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", src, err)
	}
	return tmpl
}

func render(t *testing.T, tmpl *Template, in RenderInput) string {
	t.Helper()
	out, err := tmpl.Render(in)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	return out
}

func TestRender_LiteralPassthrough(t *testing.T) {
	src := "port=80\nworkers=4\n"
	tmpl := mustParse(t, src)
	if got := render(t, tmpl, RenderInput{}); got != src {
		t.Errorf("literal template changed: got %q, want %q", got, src)
	}
	if tmpl.Source() != src {
		t.Errorf("Source() not byte-identical: got %q", tmpl.Source())
	}
}

func TestRender_VariableBinding(t *testing.T) {
	tmpl := mustParse(t, "host={{ hostname }}\n")
	got := render(t, tmpl, RenderInput{Bindings: map[string]string{"hostname": "h1"}})
	if got != "host=h1\n" {
		t.Errorf("got %q, want %q", got, "host=h1\n")
	}
}

func TestRender_Default(t *testing.T) {
	tmpl := mustParse(t, `port={{ port | default: "8080" }}`)

	if got := render(t, tmpl, RenderInput{}); got != "port=8080" {
		t.Errorf("default not used: got %q", got)
	}
	got := render(t, tmpl, RenderInput{Bindings: map[string]string{"port": "9090"}})
	if got != "port=9090" {
		t.Errorf("binding should win over default: got %q", got)
	}
}

func TestRender_UnboundVariable(t *testing.T) {
	tmpl := mustParse(t, "x={{ missing }}")
	_, err := tmpl.Render(RenderInput{})
	var ub *UnboundVariableError
	if !errors.As(err, &ub) {
		t.Fatalf("expected UnboundVariableError, got %v", err)
	}
	if ub.Name != "missing" {
		t.Errorf("wrong variable name: %q", ub.Name)
	}
}

func TestRender_CaseSensitiveNames(t *testing.T) {
	tmpl := mustParse(t, "{{ Host }}")
	_, err := tmpl.Render(RenderInput{Bindings: map[string]string{"host": "h1"}})
	if err == nil {
		t.Error("lowercase binding must not satisfy {{ Host }}")
	}
}

func TestRender_Deterministic(t *testing.T) {
	tmpl := mustParse(t, "a={{ a }}\n[[x private x]]\nend\n")
	in := RenderInput{Bindings: map[string]string{"a": "1"}}
	first := render(t, tmpl, in)
	for i := 0; i < 10; i++ {
		if got := render(t, tmpl, in); got != first {
			t.Fatalf("render not deterministic: %q vs %q", got, first)
		}
	}
}

func TestRender_EmptyQuackRendersEmpty(t *testing.T) {
	tmpl := mustParse(t, "a\n[[x x]]\nz\n")
	if got := render(t, tmpl, RenderInput{}); got != "a\n\nz\n" {
		t.Errorf("empty region should render empty: got %q", got)
	}
}

func TestRender_WhitespaceOnlyQuackIsEmpty(t *testing.T) {
	tmpl := mustParse(t, "a[[x   x]]b")
	if got := render(t, tmpl, RenderInput{}); got != "ab" {
		t.Errorf("whitespace-only region should be empty: got %q", got)
	}
}

func TestRender_QuackSubstitution(t *testing.T) {
	tmpl := mustParse(t, "cfg\n[[x shared x]]\n")

	if got := render(t, tmpl, RenderInput{}); got != "cfg\nshared\n" {
		t.Errorf("unrecorded region should emit body: got %q", got)
	}
	got := render(t, tmpl, RenderInput{Quacks: map[int]string{0: "mine"}})
	if got != "cfg\nmine\n" {
		t.Errorf("recorded quack should win: got %q", got)
	}
}

func TestRender_MachineEmitsRegionVerbatim(t *testing.T) {
	src := "cfg\n[[x owned x]]\n"
	tmpl := mustParse(t, src)
	got := render(t, tmpl, RenderInput{Machine: true, Quacks: map[int]string{0: "ignored"}})
	if got != src {
		t.Errorf("machine render must keep region markers: got %q", got)
	}
}

func TestParse_Malformed(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"unterminated hole", "literal {{ oops"},
		{"unterminated quack", "literal [[x oops"},
		{"nested hole", "{{ a {{ b }} }}"},
		{"hole inside quack", "[[x {{ a }} x]]"},
		{"quack inside hole", "{{ [[x b x]] }}"},
		{"bad name", "{{ 9lives }}"},
		{"unknown filter", `{{ a | upper: "x" }}`},
		{"unquoted default", "{{ a | default: 42 }}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.src)
			var mt *MalformedTemplateError
			if !errors.As(err, &mt) {
				t.Errorf("Parse(%q): expected MalformedTemplateError, got %v", tc.src, err)
			}
		})
	}
}

func TestParse_QuackBodyWithInnerX(t *testing.T) {
	tmpl := mustParse(t, "[[x xylophone x]]")
	if got := render(t, tmpl, RenderInput{}); got != "xylophone" {
		t.Errorf("got %q, want %q", got, "xylophone")
	}
}

func TestParse_SourceRoundTrip(t *testing.T) {
	srcs := []string{
		"plain\n",
		"a={{ a }}\n",
		`p={{ p | default: "80" }}` + "\n",
		"x\n[[x body x]]\ny\n",
		"mixed {{ a }} and [[x q x]] done\n",
	}
	for _, src := range srcs {
		if got := mustParse(t, src).Source(); got != src {
			t.Errorf("Source() round-trip: got %q, want %q", got, src)
		}
	}
}

func TestVarsAndQuackCount(t *testing.T) {
	tmpl := mustParse(t, "{{ a }} {{ b }} {{ a }} [[x x]] [[x y x]]")
	vars := tmpl.Vars()
	if len(vars) != 2 || vars[0] != "a" || vars[1] != "b" {
		t.Errorf("Vars() = %v", vars)
	}
	if tmpl.QuackCount() != 2 {
		t.Errorf("QuackCount() = %d, want 2", tmpl.QuackCount())
	}
}
