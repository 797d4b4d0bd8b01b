// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package manifest

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEntry_RoundTripPreservesUnknownKeys(t *testing.T) {
	in := `{"action":"converge","checksum":"abc","future_field":{"nested":true},"group":"web","is_directory":false,"kind":"group","path":"/etc/a.conf"}`

	var e Entry
	if err := json.Unmarshal([]byte(in), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Group != "web" || e.Path != "/etc/a.conf" || e.Kind != KindGroup || e.Action != ActionConverge {
		t.Errorf("known fields lost: %+v", e)
	}

	out, err := json.Marshal(&e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(out), `"future_field":{"nested":true}`) {
		t.Errorf("unknown key dropped: %s", out)
	}
}

func TestEntry_KeysLexicographic(t *testing.T) {
	e := &Entry{Group: "web", Path: "/etc/a", Kind: KindGroup, Action: ActionConverge, Before: "b", After: "a", Checksum: "c"}
	out, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	keys := []string{"action", "after", "before", "checksum", "group", "is_directory", "kind", "path"}
	last := -1
	for _, k := range keys {
		i := strings.Index(string(out), `"`+k+`"`)
		if i < 0 {
			t.Fatalf("missing key %q in %s", k, out)
		}
		if i < last {
			t.Errorf("key %q out of order in %s", k, out)
		}
		last = i
	}
}

func TestManifest_MarshalStable(t *testing.T) {
	m := &Manifest{Entries: []*Entry{
		{Group: "g", Path: "/etc/z", Kind: KindGroup, Action: ActionConverge},
		{Group: "g", Path: "/etc/a", Kind: KindGroup, Action: ActionConverge},
	}}
	first, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, _ := json.Marshal(m)
		if string(again) != string(first) {
			t.Fatalf("marshal not stable: %s vs %s", again, first)
		}
	}
	// Entries come out ordered by path.
	if strings.Index(string(first), "/etc/a") > strings.Index(string(first), "/etc/z") {
		t.Errorf("entries not path-ordered: %s", first)
	}
}

func TestManifest_EmptyOmitsHooks(t *testing.T) {
	e := &Entry{Group: "g", Path: "/p", Kind: KindMachine, Action: ActionDrift}
	out, _ := json.Marshal(e)
	if strings.Contains(string(out), "before") || strings.Contains(string(out), "after") {
		t.Errorf("empty hooks must be omitted: %s", out)
	}
}

func TestManifest_FindUpsertRemove(t *testing.T) {
	m := &Manifest{}
	if m.Find("/p") != nil {
		t.Error("Find on empty manifest")
	}
	m.Upsert(&Entry{Path: "/p", Action: ActionConverge})
	m.Upsert(&Entry{Path: "/p", Action: ActionFreeze})
	if len(m.Entries) != 1 {
		t.Fatalf("Upsert duplicated: %d entries", len(m.Entries))
	}
	if m.Find("/p").Action != ActionFreeze {
		t.Error("Upsert did not replace")
	}
	if !m.Remove("/p") || m.Remove("/p") {
		t.Error("Remove semantics wrong")
	}
	if !m.Empty() {
		t.Error("manifest should be empty after removal")
	}
}

func TestManifest_CoveringDirectory(t *testing.T) {
	m := &Manifest{Entries: []*Entry{
		{Path: "/etc/nginx", IsDirectory: true},
		{Path: "/etc/hosts"},
	}}
	if m.CoveringDirectory("/etc/nginx/conf.d/a.conf") == nil {
		t.Error("descendant must be covered")
	}
	if m.CoveringDirectory("/etc/nginx") != nil {
		t.Error("the directory itself is not its own descendant")
	}
	if m.CoveringDirectory("/etc/nginxother/a.conf") != nil {
		t.Error("sibling prefix must not match")
	}
	if m.CoveringDirectory("/etc/hosts") != nil {
		t.Error("file entry never covers")
	}
}
