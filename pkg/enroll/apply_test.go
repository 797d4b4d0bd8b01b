// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package enroll

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Zorlin/laszoo/pkg/checksum"
	"github.com/Zorlin/laszoo/pkg/manifest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestApply_VariableBinding(t *testing.T) {
	m, local := newTestManager(t)
	conf := filepath.Join(local, "b.conf")

	// The template exists on the shared tree with a hole; the manifest
	// carries the enrollment.
	writeFile(t, m.Layout.GroupTemplate("grp1", conf), "host={{ hostname }}\n")
	gm := &manifest.Manifest{Entries: []*manifest.Entry{
		{Group: "grp1", Path: conf, Kind: manifest.KindGroup, Action: manifest.ActionConverge},
	}}
	require.NoError(t, m.Store.SaveGroup("grp1", gm))

	results, err := m.Apply(context.Background(), "grp1", nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.True(t, results[0].Changed)
	require.Equal(t, "host=h1\n", readFile(t, conf))

	// Invariant: the applied file's checksum equals the render's checksum.
	sum, err := checksum.File(conf)
	require.NoError(t, err)
	require.Equal(t, checksum.Sum([]byte("host=h1\n")), sum)
}

func TestApply_Idempotent(t *testing.T) {
	m, local := newTestManager(t)
	conf := filepath.Join(local, "a.conf")
	writeFile(t, conf, "v=1\n")
	_, err := m.Enroll("grp1", conf, manifest.KindGroup, manifest.ActionConverge, "", "")
	require.NoError(t, err)

	first, err := m.Apply(context.Background(), "grp1", nil, nil)
	require.NoError(t, err)
	second, err := m.Apply(context.Background(), "grp1", nil, nil)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for _, r := range second {
		require.NoError(t, r.Err)
		require.False(t, r.Changed, "second apply must be a no-op for %s", r.Path)
	}
}

func TestApply_PreservesPermissionBits(t *testing.T) {
	m, local := newTestManager(t)
	conf := filepath.Join(local, "secure.conf")
	writeFile(t, conf, "old\n")
	require.NoError(t, os.Chmod(conf, 0o750|os.ModeSetuid))

	writeFile(t, m.Layout.GroupTemplate("grp1", conf), "new\n")
	gm := &manifest.Manifest{Entries: []*manifest.Entry{
		{Group: "grp1", Path: conf, Kind: manifest.KindGroup, Action: manifest.ActionConverge},
	}}
	require.NoError(t, m.Store.SaveGroup("grp1", gm))

	results, err := m.Apply(context.Background(), "grp1", nil, nil)
	require.NoError(t, err)
	require.NoError(t, results[0].Err)

	info, err := os.Stat(conf)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o750), info.Mode().Perm())
	require.NotZero(t, info.Mode()&os.ModeSetuid, "setuid bit must survive apply")
}

func TestApply_BeforeHookAborts(t *testing.T) {
	m, local := newTestManager(t)
	conf := filepath.Join(local, "hooked.conf")
	writeFile(t, conf, "old\n")
	writeFile(t, m.Layout.GroupTemplate("grp1", conf), "new\n")
	gm := &manifest.Manifest{Entries: []*manifest.Entry{
		{Group: "grp1", Path: conf, Kind: manifest.KindGroup, Action: manifest.ActionConverge, Before: "exit 1"},
	}}
	require.NoError(t, m.Store.SaveGroup("grp1", gm))

	results, err := m.Apply(context.Background(), "grp1", nil, nil)
	require.NoError(t, err)
	require.Error(t, results[0].Err)
	var hookErr *HookError
	require.ErrorAs(t, results[0].Err, &hookErr)
	require.Equal(t, "before", hookErr.Phase)
	require.Equal(t, "old\n", readFile(t, conf), "aborted apply must not write")
}

func TestApply_AfterHookReportedWriteStands(t *testing.T) {
	m, local := newTestManager(t)
	conf := filepath.Join(local, "hooked2.conf")
	writeFile(t, conf, "old\n")
	writeFile(t, m.Layout.GroupTemplate("grp1", conf), "new\n")
	gm := &manifest.Manifest{Entries: []*manifest.Entry{
		{Group: "grp1", Path: conf, Kind: manifest.KindGroup, Action: manifest.ActionConverge, After: "exit 1"},
	}}
	require.NoError(t, m.Store.SaveGroup("grp1", gm))

	results, err := m.Apply(context.Background(), "grp1", nil, nil)
	require.NoError(t, err)
	require.Error(t, results[0].Err)
	require.True(t, results[0].Changed)
	require.Equal(t, "new\n", readFile(t, conf), "after-hook failure must not roll back")
}

func TestApply_HookSeesEnvironment(t *testing.T) {
	m, local := newTestManager(t)
	conf := filepath.Join(local, "env.conf")
	marker := filepath.Join(local, "marker")
	writeFile(t, conf, "old\n")
	writeFile(t, m.Layout.GroupTemplate("grp1", conf), "new\n")
	gm := &manifest.Manifest{Entries: []*manifest.Entry{
		{Group: "grp1", Path: conf, Kind: manifest.KindGroup, Action: manifest.ActionConverge,
			Before: "echo \"$LASZOO_GROUP $LASZOO_FILE\" > " + marker},
	}}
	require.NoError(t, m.Store.SaveGroup("grp1", gm))

	results, err := m.Apply(context.Background(), "grp1", nil, nil)
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	require.Equal(t, "grp1 "+conf+"\n", readFile(t, marker))
}

func TestApply_FilterRestrictsRun(t *testing.T) {
	m, local := newTestManager(t)
	a := filepath.Join(local, "a.conf")
	b := filepath.Join(local, "b.conf")
	writeFile(t, a, "a\n")
	writeFile(t, b, "b\n")
	for _, p := range []string{a, b} {
		_, err := m.Enroll("grp1", p, manifest.KindGroup, manifest.ActionConverge, "", "")
		require.NoError(t, err)
	}

	results, err := m.Apply(context.Background(), "grp1", []string{a}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, a, results[0].Path)
}

func TestApply_ErrorDoesNotStallOtherEntries(t *testing.T) {
	m, local := newTestManager(t)
	bad := filepath.Join(local, "bad.conf")
	good := filepath.Join(local, "good.conf")
	writeFile(t, bad, "x\n")
	writeFile(t, good, "y\n")

	writeFile(t, m.Layout.GroupTemplate("grp1", bad), "{{ unbound_name }}\n")
	writeFile(t, m.Layout.GroupTemplate("grp1", good), "updated\n")
	gm := &manifest.Manifest{Entries: []*manifest.Entry{
		{Group: "grp1", Path: bad, Kind: manifest.KindGroup, Action: manifest.ActionConverge},
		{Group: "grp1", Path: good, Kind: manifest.KindGroup, Action: manifest.ActionConverge},
	}}
	require.NoError(t, m.Store.SaveGroup("grp1", gm))

	results, err := m.Apply(context.Background(), "grp1", nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Error(t, results[0].Err, "unbound variable must fail that entry")
	require.NoError(t, results[1].Err)
	require.Equal(t, "updated\n", readFile(t, good))
}
