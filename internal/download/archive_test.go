package download

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, fs afero.Fs, path string, entries map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0o600))
}

func writeTar(t *testing.T, fs afero.Fs, path string, entries map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o600,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0o600))
}

func TestDecompressedSizeZip(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/game.zip", map[string]string{
		"readme.txt": "hello",
		"bin/game":   "0123456789",
	})
	size, ok := decompressedSize(fs, "/game.zip")
	assert.True(t, ok)
	assert.EqualValues(t, 15, size)
}

func TestDecompressedSizeTar(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeTar(t, fs, "/game.tar", map[string]string{
		"a": "xx",
		"b": "yyy",
	})
	size, ok := decompressedSize(fs, "/game.tar")
	assert.True(t, ok)
	assert.EqualValues(t, 5, size)
}

func TestDecompressedSizeUnrecognized(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/game.bin", []byte("just some bytes"), 0o600))
	_, ok := decompressedSize(fs, "/game.bin")
	assert.False(t, ok)

	_, ok = decompressedSize(fs, "/missing")
	assert.False(t, ok)
}
