package capture

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
)

var (
	// ErrNoImages is returned when a selection holds no supported image files.
	ErrNoImages = errors.New("no supported image files")
	// ErrUnreadableImage is returned when an image file cannot be decoded.
	ErrUnreadableImage = errors.New("image could not be read")
)

// SupportedExtensions lists the image file types accepted in file mode.
var SupportedExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".webp"}

// IsSupportedImage reports whether path has a supported image extension.
func IsSupportedImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// FileSource is the finite, ordered image selection used in file mode.
type FileSource struct {
	paths []string
}

// NewFileSource keeps the supported paths from a selection, in order.
func NewFileSource(paths []string) (*FileSource, error) {
	kept := make([]string, 0, len(paths))
	for _, p := range paths {
		if IsSupportedImage(p) {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return nil, ErrNoImages
	}
	return &FileSource{paths: kept}, nil
}

// Len returns the number of images in the selection.
func (s *FileSource) Len() int {
	if s == nil {
		return 0
	}
	return len(s.paths)
}

// Path returns the i-th image path.
func (s *FileSource) Path(i int) (string, bool) {
	if s == nil || i < 0 || i >= len(s.paths) {
		return "", false
	}
	return s.paths[i], true
}

// Paths returns a copy of the selection.
func (s *FileSource) Paths() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.paths...)
}

// ReadImage decodes an image file as BGR. The caller must close the Mat.
func ReadImage(path string) (gocv.Mat, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), fmt.Errorf("%w: %s", ErrUnreadableImage, path)
	}
	return img, nil
}
