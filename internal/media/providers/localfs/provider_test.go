package localfs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/wagate/internal/media"
)

func TestProvider_Path(t *testing.T) {
	t.Parallel()
	p := &Provider{root: "/srv/media"}

	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "originals/2026/03/msg-1/photo.jpg", want: "/srv/media/originals/2026/03/msg-1/photo.jpg"},
		{key: "thumbnails/2026/03/msg-1/photo-thumb.jpg", want: "/srv/media/thumbnails/2026/03/msg-1/photo-thumb.jpg"},
		{key: "/etc/passwd", wantErr: true},
		{key: "../escape", wantErr: true},
		{key: "originals/../../escape", wantErr: true},
		{key: "originals\\..\\escape", wantErr: true},
		{key: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := p.Path(tt.key)
		if tt.wantErr {
			require.Error(t, err, "key %q", tt.key)
			assert.ErrorIs(t, err, media.ErrPathTraversal)
			continue
		}
		require.NoError(t, err, "key %q", tt.key)
		assert.Equal(t, tt.want, got)
	}
}

func TestProvider_PutOpenDelete(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	p, err := New(tmpDir)
	require.NoError(t, err)

	ctx := context.Background()
	key := "originals/2026/03/msg-1/test.png"
	data := []byte("hello media content")

	require.NoError(t, p.Put(ctx, key, bytes.NewReader(data)))
	_, err = os.Stat(filepath.Join(tmpDir, "originals", "2026", "03", "msg-1", "test.png"))
	require.NoError(t, err)

	reader, err := p.Open(ctx, key)
	require.NoError(t, err)
	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	assert.Equal(t, data, got)

	require.NoError(t, p.Delete(ctx, key))
	_, err = p.Open(ctx, key)
	assert.ErrorIs(t, err, media.ErrAssetNotFound)

	require.NoError(t, p.Delete(ctx, key), "deleting a missing object is not an error")
}

func TestProvider_PutOverwrites(t *testing.T) {
	t.Parallel()
	p, err := New(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key := "originals/2026/03/msg-1/doc.pdf"
	require.NoError(t, p.Put(ctx, key, bytes.NewReader([]byte("first"))))
	require.NoError(t, p.Put(ctx, key, bytes.NewReader([]byte("second"))))

	reader, err := p.Open(ctx, key)
	require.NoError(t, err)
	defer reader.Close()
	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	entries, err := os.ReadDir(filepath.Dir(filepath.Join(p.Root(), key)))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestProvider_OpenDirectoryIsNotFound(t *testing.T) {
	t.Parallel()
	p, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, p.Put(context.Background(), "originals/a/file.bin", bytes.NewReader([]byte("x"))))

	_, err = p.Open(context.Background(), "originals/a")
	assert.ErrorIs(t, err, media.ErrAssetNotFound)
}
