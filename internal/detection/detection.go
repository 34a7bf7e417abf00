// Package detection provides the detection data model shared by the inference,
// tracking, history and annotation layers, along with class-label normalization.
package detection

import (
	"encoding/json"
	"fmt"
	"math"
)

// FloorConfidence is the confidence used when capturing raw detections for history,
// low enough that a stored record can be re-filtered at any later display threshold.
const FloorConfidence = 0.01

// LowConfidence is the confidence below which a drawn label is marked as uncertain.
const LowConfidence = 0.5

// Box is an axis-aligned bounding box in image pixel coordinates (corner form).
type Box struct {
	X1, Y1, X2, Y2 int
}

// Width returns the box width.
func (b Box) Width() int { return b.X2 - b.X1 }

// Height returns the box height.
func (b Box) Height() int { return b.Y2 - b.Y1 }

// Area returns the box area, zero for degenerate boxes.
func (b Box) Area() int {
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return 0
	}
	return b.Width() * b.Height()
}

// IoU returns the intersection over union of two boxes.
func (b Box) IoU(o Box) float64 {
	ix1 := max(b.X1, o.X1)
	iy1 := max(b.Y1, o.Y1)
	ix2 := min(b.X2, o.X2)
	iy2 := min(b.Y2, o.Y2)
	inter := Box{ix1, iy1, ix2, iy2}.Area()
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Detection is one recognized object instance within a single frame.
type Detection struct {
	Class      string
	Confidence float64
	Box        Box
	TrackID    *int
}

// Tracked reports whether the detection carries a track identity.
func (d Detection) Tracked() bool {
	return d.TrackID != nil
}

// jsonDetection is the stored payload form: {"class", "conf", "box": [x1,y1,x2,y2], "track_id"}.
type jsonDetection struct {
	Class   string   `json:"class"`
	Conf    *float64 `json:"conf"`
	Box     []int    `json:"box"`
	TrackID *int     `json:"track_id,omitempty"`
}

// MarshalJSON encodes the detection in its stored payload form.
func (d Detection) MarshalJSON() ([]byte, error) {
	conf := d.Confidence
	return json.Marshal(jsonDetection{
		Class:   d.Class,
		Conf:    &conf,
		Box:     []int{d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2},
		TrackID: d.TrackID,
	})
}

// UnmarshalJSON decodes a stored payload, rejecting entries with a missing
// confidence, an out-of-range confidence or a box that is not four integers.
func (d *Detection) UnmarshalJSON(data []byte) error {
	var raw jsonDetection
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Conf == nil {
		return fmt.Errorf("detection %q has no confidence", raw.Class)
	}
	if math.IsNaN(*raw.Conf) || *raw.Conf < 0 || *raw.Conf > 1 {
		return fmt.Errorf("detection %q has confidence %v outside [0,1]", raw.Class, *raw.Conf)
	}
	if len(raw.Box) != 4 {
		return fmt.Errorf("detection %q has %d box coordinates, want 4", raw.Class, len(raw.Box))
	}
	*d = Detection{
		Class:      raw.Class,
		Confidence: *raw.Conf,
		Box:        Box{raw.Box[0], raw.Box[1], raw.Box[2], raw.Box[3]},
		TrackID:    raw.TrackID,
	}
	return nil
}

// RoundConfidence rounds a confidence to four decimals, the precision kept in history.
func RoundConfidence(c float64) float64 {
	return math.Round(c*10000) / 10000
}

// Clone returns a deep copy of the detection list.
func Clone(dets []Detection) []Detection {
	if dets == nil {
		return nil
	}
	out := make([]Detection, len(dets))
	for i, d := range dets {
		out[i] = d
		if d.TrackID != nil {
			id := *d.TrackID
			out[i].TrackID = &id
		}
	}
	return out
}

// FilterForDisplay returns the detections with confidence >= threshold, preserving order.
// The input slice is never modified.
func FilterForDisplay(dets []Detection, threshold float64) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out
}
