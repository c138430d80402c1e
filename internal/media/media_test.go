package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/UkralStul/yatube/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tinyPNG encodes a 2x2 image.
func tinyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestValidate(t *testing.T) {
	format, err := Validate(tinyPNG(t))
	require.NoError(t, err)
	assert.Equal(t, "png", format)

	_, err = Validate([]byte("definitely not an image"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = Validate(nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSave(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	key, err := store.Save(bytes.NewReader(tinyPNG(t)))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "posts/"))
	assert.True(t, strings.HasSuffix(key, ".png"))

	_, err = os.Stat(filepath.Join(root, filepath.FromSlash(key)))
	require.NoError(t, err)

	require.NoError(t, store.Remove(key))
	require.NoError(t, store.Remove(key), "removing twice is fine")
}

func TestSaveRejectsMalformed(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	_, err := store.Save(strings.NewReader("GIF89a but truncated"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = os.Stat(filepath.Join(root, "posts"))
	assert.True(t, os.IsNotExist(err), "nothing is written for rejected uploads")
}
