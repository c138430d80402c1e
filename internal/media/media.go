// Package media validates uploaded post images and stores them on disk.
package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/UkralStul/yatube/internal/domain"

	"github.com/google/uuid"
)

// MaxUploadSize caps the accepted image payload.
const MaxUploadSize = 5 << 20

var extensions = map[string]string{
	"jpeg": ".jpg",
	"png":  ".png",
	"gif":  ".gif",
}

// Store keeps accepted images under root, keyed "posts/<uuid>.<ext>".
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

// Validate decodes the image header and returns the detected format.
// Anything that is not a well-formed JPEG, PNG or GIF is a validation error.
func Validate(data []byte) (string, error) {
	if len(data) == 0 {
		return "", domain.Validationf("image is empty")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", domain.Validationf("upload a valid image: %v", err)
	}
	if _, ok := extensions[format]; !ok {
		return "", domain.Validationf("unsupported image format %q", format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", domain.Validationf("image has no pixels")
	}
	return format, nil
}

// Save validates the payload read from r and writes it to disk. Nothing is
// written when validation fails.
func (s *Store) Save(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxUploadSize {
		return "", domain.Validationf("image is larger than %d bytes", MaxUploadSize)
	}
	format, err := Validate(data)
	if err != nil {
		return "", err
	}

	key := path.Join("posts", uuid.NewString()+extensions[format])
	dst := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return key, nil
}

// Remove deletes a stored image. Missing files are ignored.
func (s *Store) Remove(key string) error {
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Root returns the directory images are served from.
func (s *Store) Root() string { return s.root }
