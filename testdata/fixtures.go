// Package testdata builds synthetic images and frames for tests.
package testdata

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"

	"gocv.io/x/gocv"
)

// Frame dimensions used by the fixtures.
const (
	Width  = 640
	Height = 480
)

// Blob is a filled rectangle drawn on a fixture frame.
type Blob struct {
	Rect  image.Rectangle
	Color color.RGBA
}

// NewFrame returns a grey 640x480 BGR frame with the given blobs drawn on it.
// The caller must close it.
func NewFrame(blobs ...Blob) (*gocv.Mat, error) {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(90, 90, 90, 0), Height, Width, gocv.MatTypeCV8UC3)
	for _, b := range blobs {
		if err := gocv.Rectangle(&mat, b.Rect, b.Color, -1); err != nil {
			mat.Close()
			return nil, fmt.Errorf("draw blob: %w", err)
		}
	}
	return &mat, nil
}

// WriteImage writes a fixture frame to dir/name and returns the path.
func WriteImage(dir, name string, blobs ...Blob) (string, error) {
	frame, err := NewFrame(blobs...)
	if err != nil {
		return "", err
	}
	defer frame.Close()

	path := filepath.Join(dir, name)
	if ok := gocv.IMWrite(path, *frame); !ok {
		return "", fmt.Errorf("write image %s", path)
	}
	return path, nil
}

// LoadSequence returns n frames with one blob moving right by step pixels
// per frame, for tracking tests. The caller must close every frame.
func LoadSequence(n, step int) ([]*gocv.Mat, error) {
	var frames []*gocv.Mat
	for i := 0; i < n; i++ {
		x := 100 + i*step
		frame, err := NewFrame(Blob{
			Rect:  image.Rect(x, 200, x+80, 320),
			Color: color.RGBA{R: 255, G: 255, A: 255},
		})
		if err != nil {
			// Clean up already built frames
			for _, f := range frames {
				f.Close()
			}
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}
