package detector

import (
	"bufio"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/plastisort/internal/detection"
)

// ONNXDetector runs a YOLOv8-style ONNX export in-process with the OpenCV DNN module.
type ONNXDetector struct {
	net       gocv.Net
	classes   map[int]string
	inputSize int
	mu        sync.Mutex
}

// NewONNXDetector loads the network and its class table.
func NewONNXDetector(cfg Config) (*ONNXDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	classes, err := loadClasses(cfg)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load ONNX model %s", cfg.ModelPath)
	}

	size := cfg.InputSize
	if size <= 0 {
		size = 640
	}

	return &ONNXDetector{
		net:       net,
		classes:   classes,
		inputSize: size,
	}, nil
}

// loadClasses reads the class names file. Without one, the model is assumed to
// emit the standard resin classes in order.
func loadClasses(cfg Config) (map[int]string, error) {
	path := cfg.ClassesPath
	if path == "" {
		candidate := strings.TrimSuffix(cfg.ModelPath, filepath.Ext(cfg.ModelPath)) + ".names"
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}

	classes := make(map[int]string)
	if path == "" {
		for i, name := range detection.Plastics {
			classes[i] = name
		}
		return classes, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open classes file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	id := 0
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		classes[id] = name
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read classes file: %w", err)
	}
	return classes, nil
}

// Classes implements Detector.
func (d *ONNXDetector) Classes() map[int]string {
	return d.classes
}

// Detect implements Detector.
func (d *ONNXDetector) Detect(frame *gocv.Mat, p Params) ([]Result, error) {
	if frame == nil || frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	height, width := frame.Rows(), frame.Cols()
	maxDim := max(height, width)

	// letterbox into a square so the scale is uniform on both axes
	square := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), maxDim, maxDim, gocv.MatTypeCV8UC3)
	defer square.Close()
	roi := square.Region(image.Rect(0, 0, width, height))
	frame.CopyTo(&roi)
	roi.Close()

	blob := gocv.BlobFromImage(square, 1.0/255.0, image.Pt(d.inputSize, d.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}

	// [1, 4+nc, N] is the usual export; [1, N, 4+nc] is handled as well
	attrs, anchors := dims[1], dims[2]
	at := func(attr, anchor int) float32 { return out.GetFloatAt3(0, attr, anchor) }
	if attrs > anchors {
		attrs, anchors = anchors, attrs
		at = func(attr, anchor int) float32 { return out.GetFloatAt3(0, anchor, attr) }
	}

	scale := float64(maxDim) / float64(d.inputSize)
	candidates := decodeYOLO(at, attrs, anchors, scale, p.Confidence)
	return suppress(candidates, p.IoU, width, height), nil
}

// Close implements Detector.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// decodeYOLO turns raw YOLOv8 output (cx, cy, w, h followed by one score per
// class, per anchor) into corner boxes in source image pixels.
func decodeYOLO(at func(attr, anchor int) float32, attrs, anchors int, scale, minConf float64) []Result {
	var out []Result
	for a := 0; a < anchors; a++ {
		bestClass := -1
		bestScore := float32(0)
		for c := 4; c < attrs; c++ {
			if s := at(c, a); s > bestScore {
				bestScore = s
				bestClass = c - 4
			}
		}
		if bestClass < 0 || float64(bestScore) < minConf {
			continue
		}

		cx, cy := float64(at(0, a)), float64(at(1, a))
		w, h := float64(at(2, a)), float64(at(3, a))
		out = append(out, Result{
			ClassID:    bestClass,
			Confidence: float64(bestScore),
			Box: detection.Box{
				X1: int((cx - w/2) * scale),
				Y1: int((cy - h/2) * scale),
				X2: int((cx + w/2) * scale),
				Y2: int((cy + h/2) * scale),
			},
		})
	}
	return out
}

// suppress runs per-class non-maximum suppression and clips boxes to the image.
// Boxes of different classes are shifted apart so one NMSBoxes call never
// suppresses across classes.
func suppress(candidates []Result, iou float64, width, height int) []Result {
	if len(candidates) == 0 {
		return nil
	}

	offset := max(width, height) + 1
	rects := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		shift := c.ClassID * offset
		rects[i] = image.Rect(c.Box.X1+shift, c.Box.Y1+shift, c.Box.X2+shift, c.Box.Y2+shift)
		scores[i] = float32(c.Confidence)
	}

	keep := gocv.NMSBoxes(rects, scores, 0, float32(iou))

	out := make([]Result, 0, len(keep))
	for _, k := range keep {
		r := candidates[k]
		r.Box = clip(r.Box, width, height)
		out = append(out, r)
	}
	sortByConfidence(out)
	return out
}

func clip(b detection.Box, width, height int) detection.Box {
	return detection.Box{
		X1: min(max(b.X1, 0), width),
		Y1: min(max(b.Y1, 0), height),
		X2: min(max(b.X2, 0), width),
		Y2: min(max(b.Y2, 0), height),
	}
}
