// Package detector runs the pretrained plastic-waste object detector on frames.
package detector

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gocv.io/x/gocv"

	"github.com/ayusman/plastisort/internal/detection"
)

// ErrUnsupportedModel is returned for weight files no backend can load.
var ErrUnsupportedModel = errors.New("unsupported model format")

// Result is one raw detection as produced by the model.
type Result struct {
	ClassID    int
	Confidence float64
	Box        detection.Box
}

// Params are the per-call inference thresholds.
type Params struct {
	Confidence float64
	IoU        float64
}

// Detector defines the interface for object detection implementations.
type Detector interface {
	// Detect runs inference on a BGR frame, keeping detections with confidence
	// >= p.Confidence after non-maximum suppression at p.IoU.
	Detect(frame *gocv.Mat, p Params) ([]Result, error)

	// Classes returns the class id to name table, fixed once the model is loaded.
	Classes() map[int]string

	// Close releases any resources held by the detector.
	Close() error
}

// Config selects and configures a detector backend.
type Config struct {
	// ModelPath is the weights file: .onnx runs in-process, .pt runs in the Python service.
	ModelPath string
	// ClassesPath is a text file with one class name per line, used by the ONNX backend.
	ClassesPath string
	// InputSize is the square network input size (default 640).
	InputSize int
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		ModelPath: filepath.Join("models", "plastics.onnx"),
		InputSize: 640,
	}
}

// Open loads the detector backend matching the model file extension.
func Open(cfg Config) (Detector, error) {
	switch strings.ToLower(filepath.Ext(cfg.ModelPath)) {
	case ".onnx":
		return NewONNXDetector(cfg)
	case ".pt":
		return NewSubprocessDetector(cfg)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, cfg.ModelPath)
}

// ClassName looks up a class id, falling back to "Class_{id}".
func ClassName(classes map[int]string, id int) string {
	if name, ok := classes[id]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("Class_%d", id)
}

// ClassNames returns the class names ordered by id.
func ClassNames(classes map[int]string) []string {
	ids := make([]int, 0, len(classes))
	for id := range classes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = classes[id]
	}
	return names
}

func sortByConfidence(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
}

// ToDetections resolves class names for raw results.
func ToDetections(results []Result, classes map[int]string) []detection.Detection {
	out := make([]detection.Detection, len(results))
	for i, r := range results {
		out[i] = detection.Detection{
			Class:      ClassName(classes, r.ClassID),
			Confidence: detection.RoundConfidence(r.Confidence),
			Box:        r.Box,
		}
	}
	return out
}
