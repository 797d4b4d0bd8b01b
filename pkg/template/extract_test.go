// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package template

import (
	"strings"
	"testing"
)

func TestExtract_Idempotent(t *testing.T) {
	cases := []struct {
		name string
		src  string
		in   RenderInput
	}{
		{"plain", "a\nb\nc\n", RenderInput{}},
		{"hole", "h={{ h }}\n", RenderInput{Bindings: map[string]string{"h": "x"}}},
		{"quack empty", "a\n[[x x]]\nz\n", RenderInput{}},
		{"quack recorded", "a\n[[x x]]\nz\n", RenderInput{Quacks: map[int]string{0: "Q"}}},
		{"mixed", "p={{ p | default: \"80\" }}\n[[x shared x]]\nend\n", RenderInput{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tmpl := mustParse(t, tc.src)
			rendered := render(t, tmpl, tc.in)
			res, err := tmpl.Extract(rendered, tc.in)
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}
			if res.Template.Source() != tc.src {
				t.Errorf("template changed: got %q, want %q", res.Template.Source(), tc.src)
			}
			if len(res.Quacks) != len(tc.in.Quacks) {
				t.Errorf("quacks changed: got %v, want %v", res.Quacks, tc.in.Quacks)
			}
			for k, v := range tc.in.Quacks {
				if res.Quacks[k] != v {
					t.Errorf("quack %d changed: got %q, want %q", k, res.Quacks[k], v)
				}
			}
			if res.Degraded {
				t.Error("unmodified render must not degrade")
			}
		})
	}
}

func TestExtract_QuackEditPromoted(t *testing.T) {
	// Host edits its private region: the template stays shared, the quack
	// records the host's content.
	tmpl := mustParse(t, "a\n[[x x]]\nz\n")
	in := RenderInput{}

	res, err := tmpl.Extract("a\nQ1\nz\n", in)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if res.Template.Source() != "a\n[[x x]]\nz\n" {
		t.Errorf("template must stay unchanged, got %q", res.Template.Source())
	}
	if res.Quacks[0] != "Q1" {
		t.Errorf("quack not promoted: got %q, want %q", res.Quacks[0], "Q1")
	}

	// Re-render on this host reproduces the edit; a host with an empty
	// quack set still renders the placeholder empty.
	got, err := res.Template.Render(RenderInput{Quacks: res.Quacks})
	if err != nil {
		t.Fatalf("re-render failed: %v", err)
	}
	if got != "a\nQ1\nz\n" {
		t.Errorf("re-render: got %q", got)
	}
	other, err := res.Template.Render(RenderInput{})
	if err != nil {
		t.Fatalf("other-host render failed: %v", err)
	}
	if other != "a\n\nz\n" {
		t.Errorf("other host: got %q, want %q", other, "a\n\nz\n")
	}
}

func TestExtract_QuackUpdateReplacesPrior(t *testing.T) {
	tmpl := mustParse(t, "cfg\n[[x default x]]\ntail\n")
	in := RenderInput{Quacks: map[int]string{0: "old"}}

	res, err := tmpl.Extract("cfg\nnew\ntail\n", in)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if res.Quacks[0] != "new" {
		t.Errorf("quack not updated: got %q", res.Quacks[0])
	}
	if res.Template.Source() != "cfg\n[[x default x]]\ntail\n" {
		t.Errorf("shared body must survive: got %q", res.Template.Source())
	}
}

func TestExtract_LiteralEditBecomesTemplateEdit(t *testing.T) {
	tmpl := mustParse(t, "port=80\ntimeout=5\n")
	res, err := tmpl.Extract("port=80\ntimeout=30\n", RenderInput{})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if res.Template.Source() != "port=80\ntimeout=30\n" {
		t.Errorf("literal edit lost: got %q", res.Template.Source())
	}
	if len(res.Quacks) != 0 {
		t.Errorf("no quacks expected, got %v", res.Quacks)
	}
}

func TestExtract_HoleSurvivesEdit(t *testing.T) {
	// Edits inside a hole's rendered value are the binding's business; the
	// hole stays in the template.
	src := "host={{ hostname }}\nstatic\n"
	tmpl := mustParse(t, src)
	in := RenderInput{Bindings: map[string]string{"hostname": "h1"}}

	res, err := tmpl.Extract("host=h2\nstatic\n", in)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !strings.Contains(res.Template.Source(), "{{ hostname }}") {
		t.Errorf("hole lost: got %q", res.Template.Source())
	}
}

func TestExtract_DegradedOnWholesaleRewrite(t *testing.T) {
	tmpl := mustParse(t, "alpha\nbeta\ngamma\ndelta\n")
	rewrite := "0000\n1111\n2222\n3333\n4444\n5555\n"
	res, err := tmpl.Extract(rewrite, RenderInput{})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !res.Degraded {
		t.Fatal("expected degraded extraction")
	}
	if res.Template.Source() != rewrite {
		t.Errorf("degraded result must be the flat rewrite: got %q", res.Template.Source())
	}
}

func TestHybridize_RendersBothSides(t *testing.T) {
	base := "cfg\ncommon=1\nshared tail\n"
	local := "cfg\nmine=2\nshared tail\n"

	tmpl, quacks := Hybridize(base, local)

	ours, err := tmpl.Render(RenderInput{Quacks: quacks})
	if err != nil {
		t.Fatalf("render with quacks: %v", err)
	}
	if ours != local {
		t.Errorf("host render: got %q, want %q", ours, local)
	}

	theirs, err := tmpl.Render(RenderInput{})
	if err != nil {
		t.Fatalf("render without quacks: %v", err)
	}
	if theirs != base {
		t.Errorf("baseline render: got %q, want %q", theirs, base)
	}
}

func TestHybridize_IdenticalInputsNoRegions(t *testing.T) {
	tmpl, quacks := Hybridize("same\n", "same\n")
	if tmpl.QuackCount() != 0 {
		t.Errorf("identical inputs must not create regions, got %d", tmpl.QuackCount())
	}
	if len(quacks) != 0 {
		t.Errorf("unexpected quacks: %v", quacks)
	}
}
