package hasher

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHashTruncates(t *testing.T) {
	full := ContentHash([]byte("webp"), 0)
	assert.Len(t, full, 16)
	assert.Equal(t, full[:8], ContentHash([]byte("webp"), 8))
	assert.NotEqual(t, full, ContentHash([]byte("webq"), 0))
}

func TestReaderAndFileAgree(t *testing.T) {
	data := bytes.Repeat([]byte("RIFF"), 1024)
	path := filepath.Join(t.TempDir(), "a.webp")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	fromReader, err := ContentHashReader(bytes.NewReader(data), Len)
	require.NoError(t, err)
	fromFile, size, err := FileHash(path, Len)
	require.NoError(t, err)

	assert.Equal(t, ContentHash(data, Len), fromReader)
	assert.Equal(t, fromReader, fromFile)
	assert.Equal(t, int64(len(data)), size)
}

func TestFileHashMissing(t *testing.T) {
	_, _, err := FileHash(filepath.Join(t.TempDir(), "nope"), Len)
	assert.Error(t, err)
}
