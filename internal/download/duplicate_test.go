package download

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuplicatePolicy(t *testing.T) {
	for raw, want := range map[string]DuplicatePolicy{
		"":          DuplicateRename,
		"rename":    DuplicateRename,
		"Overwrite": DuplicateOverwrite,
		" skip ":    DuplicateSkip,
	} {
		got, err := ParseDuplicatePolicy(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := ParseDuplicatePolicy("prompt")
	assert.Error(t, err)
}

func TestResolveExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Song - Artist.m4a")

	got, skip, err := resolveExisting(path, DuplicateSkip)
	require.NoError(t, err)
	assert.False(t, skip)
	assert.Equal(t, path, got)

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	got, skip, err = resolveExisting(path, DuplicateSkip)
	require.NoError(t, err)
	assert.True(t, skip)
	assert.Equal(t, path, got)

	got, skip, err = resolveExisting(path, DuplicateOverwrite)
	require.NoError(t, err)
	assert.False(t, skip)
	assert.Equal(t, path, got)

	got, _, err = resolveExisting(path, DuplicateRename)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Song - Artist (1).m4a"), got)

	require.NoError(t, os.WriteFile(got, []byte("x"), 0o644))
	got, _, err = resolveExisting(path, DuplicateRename)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Song - Artist (2).m4a"), got)
}

func TestResolveExistingRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	_, _, err := resolveExisting(dir, DuplicateOverwrite)
	assert.Error(t, err)
}
