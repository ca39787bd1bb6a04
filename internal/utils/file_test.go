package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFileExtension(t *testing.T) {
	assert.Equal(t, "jpg", GetFileExtension("nail.JPG"))
	assert.Equal(t, "png", GetFileExtension("/tmp/a.b/thumb.png"))
	assert.Equal(t, "", GetFileExtension("README"))
}

func TestHasExtension(t *testing.T) {
	assert.True(t, HasExtension("scan.JPeG", UploadExtensions))
	assert.True(t, HasExtension("scan.png", []string{".png"}))
	assert.False(t, HasExtension("scan.gif", UploadExtensions))
	assert.False(t, HasExtension("scan", UploadExtensions))
	assert.True(t, IsUploadFile("x.jpg"))
}

func TestArtifactPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "scan_1_roi.jpg"), ArtifactPath("out", "scan:1", "roi", "JPG"))
	assert.Equal(t, filepath.Join("out", "a_mask.png"), ArtifactPath("out", "a", "mask", ""))
	assert.Equal(t, "thumb_left", ScanIDFromPath("/data/uploads/thumb_left.jpg"))
}

func TestListUploadFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	for _, name := range []string{"a.jpg", "b.txt", "sub/c.PNG"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	files, err := ListUploadFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.jpg"), filepath.Join(dir, "sub", "c.PNG")}, files)

	assert.True(t, DirExists(dir))
	assert.True(t, FileExists(filepath.Join(dir, "a.jpg")))
	assert.False(t, FileExists(dir))
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "x", "y")
	require.NoError(t, EnsureDir(dir))
	assert.True(t, DirExists(dir))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c", SanitizeFilename(" a/b:c. "))
}

func TestSizes(t *testing.T) {
	assert.Equal(t, 8.0, Megabytes(8*1024*1024))
	assert.Equal(t, "512 B", FormatFileSize(512))
	assert.Equal(t, "1.5 MB", FormatFileSize(1536*1024))
}
