package capture

import (
	"errors"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"
)

func TestIsSupportedImage(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"a.png", true},
		{"dir/b.JPG", true},
		{"c.jpeg", true},
		{"d.bmp", true},
		{"e.webp", true},
		{"f.gif", false},
		{"noext", false},
	}
	for _, tt := range tests {
		if got := IsSupportedImage(tt.path); got != tt.want {
			t.Errorf("IsSupportedImage(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestNewFileSource(t *testing.T) {
	src, err := NewFileSource([]string{"a.png", "notes.txt", "b.jpg"})
	if err != nil {
		t.Fatalf("NewFileSource() error = %v", err)
	}
	if src.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", src.Len())
	}
	if p, ok := src.Path(1); !ok || p != "b.jpg" {
		t.Errorf("Path(1) = %q, %v", p, ok)
	}
	if _, ok := src.Path(2); ok {
		t.Error("Path(2) should be out of range")
	}

	if _, err := NewFileSource([]string{"x.txt"}); !errors.Is(err, ErrNoImages) {
		t.Errorf("NewFileSource() error = %v, want ErrNoImages", err)
	}
}

func TestReadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame.png")

	img := gocv.NewMatWithSize(40, 60, gocv.MatTypeCV8UC3)
	defer img.Close()
	if ok := gocv.IMWrite(path, img); !ok {
		t.Fatal("IMWrite failed")
	}

	got, err := ReadImage(path)
	if err != nil {
		t.Fatalf("ReadImage() error = %v", err)
	}
	defer got.Close()
	if got.Rows() != 40 || got.Cols() != 60 {
		t.Errorf("ReadImage() size = %dx%d, want 60x40", got.Cols(), got.Rows())
	}

	_, err = ReadImage(filepath.Join(dir, "missing.png"))
	if !errors.Is(err, ErrUnreadableImage) {
		t.Errorf("ReadImage() error = %v, want ErrUnreadableImage", err)
	}
}
