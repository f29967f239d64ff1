package uploads

import (
	"bytes"
	"image"
	"image/png"
	"mime/multipart"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(&body, w.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { form.RemoveAll() })
	require.Len(t, form.File["image"], 1)
	return form.File["image"][0]
}

func testStorage(t *testing.T, maxSize int64) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "uploads"), maxSize)
	require.NoError(t, err)
	s.now = func() time.Time { return time.UnixMilli(1714564800000) }
	return s
}

func TestSave_StoresFileUnderTimestampedName(t *testing.T) {
	s := testStorage(t, 1<<20)

	ref, err := s.Save(fileHeader(t, "notes.txt", []byte("hello")))

	require.NoError(t, err)
	assert.Equal(t, "/uploads/1714564800000-notes.txt", ref)
	data, err := os.ReadFile(filepath.Join(s.Dir(), "1714564800000-notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestSave_CompressesLargePhoto(t *testing.T) {
	s := testStorage(t, 10<<20)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2000, 1500))))

	ref, err := s.Save(fileHeader(t, "photo.png", buf.Bytes()))

	require.NoError(t, err)
	assert.Equal(t, "/uploads/1714564800000-photo.jpg", ref)
	_, err = os.Stat(filepath.Join(s.Dir(), "1714564800000-photo.jpg"))
	assert.NoError(t, err)
}

func TestSave_RejectsOversizedFile(t *testing.T) {
	s := testStorage(t, 4)

	_, err := s.Save(fileHeader(t, "big.txt", []byte("too many bytes")))

	assert.ErrorIs(t, err, ErrTooLarge)
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileName(t *testing.T) {
	now := time.UnixMilli(1000)

	assert.Equal(t, "1000-photo.jpg", fileName(now, "photo.jpg"))
	assert.Equal(t, "1000-passwd", fileName(now, "../../etc/passwd"))
	assert.Equal(t, "1000-evil.png", fileName(now, `C:\temp\evil.png`))
	assert.Equal(t, "1000-my_photo_1_.jpg", fileName(now, "my photo (1).jpg"))
	assert.Equal(t, "1000-upload", fileName(now, ".."))
}

func TestRemove(t *testing.T) {
	s := testStorage(t, 1<<20)
	ref, err := s.Save(fileHeader(t, "notes.txt", []byte("hello")))
	require.NoError(t, err)

	require.NoError(t, s.Remove(ref))

	_, err = os.Stat(filepath.Join(s.Dir(), "1714564800000-notes.txt"))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, s.Remove(ref), "removing twice")
}

func TestRemove_RejectsForeignPaths(t *testing.T) {
	s := testStorage(t, 1<<20)

	for _, ref := range []string{"", "notes.txt", "/uploads/", "/uploads/..", "/uploads/../config.go", "/etc/passwd"} {
		assert.Error(t, s.Remove(ref), "ref %q", ref)
	}
}
