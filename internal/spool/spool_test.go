package spool

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetgen/api/internal/model"
)

func TestBatch_AddAndRelease(t *testing.T) {
	s := New(t.TempDir())

	batch, err := s.NewBatch()
	require.NoError(t, err)

	f, err := batch.Add(3, "../../photo.png", "image/png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "photo.png", f.Name)
	assert.Equal(t, int64(9), f.Size)
	assert.Equal(t, "image/png", f.ContentType)
	assert.Equal(t, filepath.Join(batch.dir, "3_photo.png"), f.Path)

	data, err := os.ReadFile(f.Path)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	outside := filepath.Join(t.TempDir(), "keep.png")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))

	s.Release(map[int]*model.LocalFile{3: f, 4: nil, 5: {Path: outside}})

	_, err = os.Stat(batch.dir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(outside)
	assert.NoError(t, err)
}

func TestSpool_Sweep(t *testing.T) {
	s := New(t.TempDir())

	old, err := s.NewBatch()
	require.NoError(t, err)
	fresh, err := s.NewBatch()
	require.NoError(t, err)

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old.dir, past, past))

	removed, err := s.Sweep(time.Now(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(old.dir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh.dir)
	assert.NoError(t, err)

	removed, err = New(filepath.Join(t.TempDir(), "missing")).Sweep(time.Now(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestBatch_Discard(t *testing.T) {
	s := New(t.TempDir())
	batch, err := s.NewBatch()
	require.NoError(t, err)
	_, err = batch.Add(1, "a.png", "", strings.NewReader("a"))
	require.NoError(t, err)

	batch.Discard()

	_, err = os.Stat(batch.dir)
	assert.True(t, os.IsNotExist(err))
}
