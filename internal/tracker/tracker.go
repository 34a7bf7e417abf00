// Package tracker assigns stable identities to detections across webcam frames
// and remembers the class label each identity was first seen with.
package tracker

import (
	"math"
	"sort"

	"github.com/bmharper/flatbush-go"
	"gocv.io/x/gocv"

	"github.com/ayusman/plastisort/internal/detection"
)

// Default tracker settings.
const (
	DefaultMaxAge = 30
	DefaultMinIoU = 0.1
)

// CenterBox is a box in center form, the input format of Tracker.Update.
type CenterBox struct {
	XC, YC, W, H float64
}

// ToCenter converts a corner-form box to center form.
func ToCenter(b detection.Box) CenterBox {
	return CenterBox{
		XC: float64(b.X1+b.X2) / 2,
		YC: float64(b.Y1+b.Y2) / 2,
		W:  float64(b.X2 - b.X1),
		H:  float64(b.Y2 - b.Y1),
	}
}

// Corners converts a center-form box back to integer corner coordinates.
func (c CenterBox) Corners() detection.Box {
	return detection.Box{
		X1: int(math.Round(c.XC - c.W/2)),
		Y1: int(math.Round(c.YC - c.H/2)),
		X2: int(math.Round(c.XC + c.W/2)),
		Y2: int(math.Round(c.YC + c.H/2)),
	}
}

// Track is one identity reported for the current frame.
type Track struct {
	Box        detection.Box
	ID         int
	ClassID    int
	Confidence float64
}

// Tracker associates detections across frames.
type Tracker interface {
	// Update matches this frame's detections to known identities and returns the
	// identities seen in this frame.
	Update(boxes []CenterBox, confs []float64, classIDs []int, frame *gocv.Mat) []Track
	// AgeWithoutDetections advances track ages for a frame with nothing to match.
	AgeWithoutDetections()
	// Reset forgets every identity.
	Reset()
}

type track struct {
	id         int
	box        detection.Box
	classID    int
	confidence float64
	age        int // frames since last matched
	hits       int
}

// IoUTracker is a greedy overlap tracker. Detections are matched, highest
// confidence first, to the unmatched track with the largest IoU; when nothing
// overlaps, the nearest track center inside a search window is taken instead.
// Tracks unmatched for more than MaxAge frames are dropped.
type IoUTracker struct {
	MaxAge  int
	MinIoU  float64
	MinHits int

	tracks []*track
	nextID int
}

// NewIoUTracker creates a tracker with default settings.
func NewIoUTracker() *IoUTracker {
	return &IoUTracker{
		MaxAge:  DefaultMaxAge,
		MinIoU:  DefaultMinIoU,
		MinHits: 1,
		nextID:  1,
	}
}

// Reset implements Tracker.
func (t *IoUTracker) Reset() {
	t.tracks = nil
	t.nextID = 1
}

// AgeWithoutDetections implements Tracker.
func (t *IoUTracker) AgeWithoutDetections() {
	for _, tr := range t.tracks {
		tr.age++
	}
	t.prune()
}

func (t *IoUTracker) prune() {
	kept := t.tracks[:0]
	for _, tr := range t.tracks {
		if tr.age <= t.MaxAge {
			kept = append(kept, tr)
		}
	}
	t.tracks = kept
}

func centerDistance(a, b detection.Box) float64 {
	ca, cb := ToCenter(a), ToCenter(b)
	return math.Hypot(ca.XC-cb.XC, ca.YC-cb.YC)
}

// Update implements Tracker. The frame is not used by this tracker.
func (t *IoUTracker) Update(boxes []CenterBox, confs []float64, classIDs []int, frame *gocv.Mat) []Track {
	n := len(boxes)
	if n == 0 {
		t.AgeWithoutDetections()
		return nil
	}
	if t.nextID == 0 {
		t.nextID = 1
	}

	corners := make([]detection.Box, n)
	for i, b := range boxes {
		corners[i] = b.Corners()
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return valueAt(confs, order[a]) > valueAt(confs, order[b])
	})

	matchedTrack := make([]bool, len(t.tracks))
	detToTrack := make([]int, n)
	for i := range detToTrack {
		detToTrack[i] = -1
	}

	if len(t.tracks) > 0 {
		fb := flatbush.NewFlatbush[int32]()
		fb.Reserve(len(t.tracks))
		for _, tr := range t.tracks {
			fb.Add(int32(tr.box.X1), int32(tr.box.Y1), int32(tr.box.X2), int32(tr.box.Y2))
		}
		fb.Finish()

		var nearby []int
		for _, i := range order {
			box := corners[i]
			bufX := int32(max(8, box.Width()*4/5))
			bufY := int32(max(8, box.Height()*4/5))
			nearby = fb.SearchFast(int32(box.X1)-bufX, int32(box.Y1)-bufY, int32(box.X2)+bufX, int32(box.Y2)+bufY, nearby)

			best := -1
			bestIoU := 0.0
			bestDist := math.MaxFloat64
			for _, j := range nearby {
				if matchedTrack[j] {
					continue
				}
				iou := box.IoU(t.tracks[j].box)
				dist := centerDistance(box, t.tracks[j].box)
				if iou > bestIoU {
					bestIoU = iou
					best = j
				} else if bestIoU == 0 && dist < bestDist {
					bestDist = dist
					best = j
				}
			}
			if best == -1 {
				continue
			}
			if bestIoU > 0 && bestIoU < t.MinIoU {
				continue
			}
			matchedTrack[best] = true
			detToTrack[i] = best
		}
	}

	for _, tr := range t.tracks {
		tr.age++
	}

	out := make([]Track, 0, n)
	for i := 0; i < n; i++ {
		var tr *track
		if j := detToTrack[i]; j >= 0 {
			tr = t.tracks[j]
		} else {
			tr = &track{id: t.nextID}
			t.nextID++
			t.tracks = append(t.tracks, tr)
		}
		tr.box = corners[i]
		tr.classID = valueAt(classIDs, i)
		tr.confidence = valueAt(confs, i)
		tr.age = 0
		tr.hits++

		if tr.hits >= t.MinHits {
			out = append(out, Track{
				Box:        tr.box,
				ID:         tr.id,
				ClassID:    tr.classID,
				Confidence: tr.confidence,
			})
		}
	}

	t.prune()
	return out
}

func valueAt[T any](s []T, i int) T {
	var zero T
	if i < len(s) {
		return s[i]
	}
	return zero
}
