package media

import (
	"bytes"
	"errors"
	"image/color"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 80, B: 20, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func TestLocalStorage_SaveOpenDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save("abc_1.txt", strings.NewReader("hello")))

	rc, info, err := store.Open("abc_1.txt")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, int64(5), info.Size())

	require.NoError(t, store.Delete("abc_1.txt"))
	err = store.Delete("abc_1.txt")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../escape", "/etc/passwd", "a/b", ".hidden", ""} {
		assert.ErrorIs(t, store.Save(key, strings.NewReader("x")), ErrInvalidKey, key)
		_, _, err := store.Open(key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestCleanKey(t *testing.T) {
	assert.Equal(t, "photo.jpg", CleanKey("../../photo.jpg"))
	assert.Equal(t, "photo.jpg", CleanKey("/photo.jpg"))
	assert.Equal(t, "a/b.jpg", CleanKey("a//b.jpg"))
	assert.Equal(t, "", CleanKey(".."))
}

func newTestProcessor(t *testing.T) (*Processor, *LocalStorage) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewProcessor(store, ProcessorConfig{
		AllowedMIMETypes: []string{"image/png", "image/jpeg"},
		MaxBytes:         1 << 20,
		PortraitMaxSize:  64,
	}), store
}

func TestProcessor_SavePhoto(t *testing.T) {
	p, store := newTestProcessor(t)
	data := pngBytes(t, 10, 10)

	up, err := p.SavePhoto("person-1", bytes.NewReader(data))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(up.Key, "person-1_"))
	assert.True(t, strings.HasSuffix(up.Key, ".png"))
	assert.Equal(t, "image/png", up.MIME)
	assert.Len(t, up.Hash, 64)
	assert.Nil(t, up.Taken)

	rc, _, err := store.Open(up.Key)
	require.NoError(t, err)
	stored, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, data, stored)
}

func TestProcessor_Rejects(t *testing.T) {
	p, _ := newTestProcessor(t)

	_, err := p.SavePhoto("p", strings.NewReader("plain text, not an image"))
	assert.Equal(t, apperrors.CodeMediaRejected, apperrors.CodeOf(err))

	_, err = p.SavePhoto("p", bytes.NewReader(nil))
	assert.Equal(t, apperrors.CodeMediaRejected, apperrors.CodeOf(err))

	p.cfg.MaxBytes = 16
	_, err = p.SavePhoto("p", bytes.NewReader(pngBytes(t, 10, 10)))
	assert.Equal(t, apperrors.CodeMediaRejected, apperrors.CodeOf(err))
}

func TestProcessor_SavePortraitFits(t *testing.T) {
	p, store := newTestProcessor(t)

	up, err := p.SavePortrait("person-2", bytes.NewReader(pngBytes(t, 400, 200)))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(up.Key, ".jpg"))

	rc, _, err := store.Open(up.Key)
	require.NoError(t, err)
	defer rc.Close()
	img, err := imaging.Decode(rc)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())
}

func TestProcessor_DeleteBestEffort(t *testing.T) {
	p, store := newTestProcessor(t)
	require.NoError(t, store.Save("keep_me.txt", strings.NewReader("x")))

	p.DeleteBestEffort("keep_me.txt", "missing.txt", "../bad", "")

	_, _, err := store.Open("keep_me.txt")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
