package image

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadsSaveKeepsExtension(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	uploads := NewUploads(dir)

	path, err := uploads.Save(strings.NewReader("png-bytes"), "Photo.PNG")
	require.NoError(t, err)

	assert.Equal(t, filepath.ToSlash(dir), filepath.ToSlash(filepath.Dir(path)))
	assert.True(t, strings.HasSuffix(path, ".png"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestUploadsSaveDropsUnsafeNames(t *testing.T) {
	uploads := NewUploads(t.TempDir())

	path, err := uploads.Save(strings.NewReader("x"), "../../etc/passwd.sh;rm -rf")
	require.NoError(t, err)
	assert.Equal(t, "", filepath.Ext(path))
	assert.Equal(t, filepath.ToSlash(uploads.Dir()), filepath.ToSlash(filepath.Dir(path)))
}
