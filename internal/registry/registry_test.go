// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertGetList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	r := Open(path)

	d := Descriptor{Name: "alpha", Directory: "/tmp/alpha", CreatedAt: time.Now()}
	require.NoError(t, r.Upsert(d))

	got, ok := r.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "/tmp/alpha", got.Directory)
	assert.Len(t, r.List(), 1)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	r := Open(path)
	require.NoError(t, r.Upsert(Descriptor{Name: "alpha", Directory: "/a"}))
	require.NoError(t, r.Upsert(Descriptor{Name: "beta", Directory: "/b"}))

	r2 := Open(path)
	assert.Len(t, r2.List(), 2)
	got, ok := r2.Get("beta")
	require.True(t, ok)
	assert.Equal(t, "/b", got.Directory)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	r := Open(path)
	require.NoError(t, r.Upsert(Descriptor{Name: "alpha", Directory: "/a"}))
	require.NoError(t, r.Remove("alpha"))
	_, ok := r.Get("alpha")
	assert.False(t, ok)
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	r := Open(path)
	assert.Empty(t, r.List())
}

func TestOpenMalformedFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	r := Open(path)
	assert.Empty(t, r.List())
}
