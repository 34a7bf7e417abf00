// Package annotate draws detection boxes and labels onto frames and produces
// the per-object rows used for export.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/plastisort/internal/detection"
)

const (
	fontFace      = gocv.FontHersheySimplex
	fontScale     = 0.5
	fontThickness = 1
	boxThickness  = 2

	labelOffset   = 5
	labelPadY     = 2
	labelPadX     = 3
	lowConfSuffix = " (low confidence)"

	// NoPlasticsText is drawn on webcam frames without any detection.
	NoPlasticsText  = "No plastics detected"
	bannerScale     = 1.0
	bannerThickness = 2
	bannerY         = 50
)

var bannerColor = color.RGBA{R: 255, A: 255}

// ExportRow is the structured form of one drawn detection.
type ExportRow struct {
	Source     string `json:"image_source"`
	Index      int    `json:"object_id"`
	Class      string `json:"class_name"`
	Confidence string `json:"confidence"`
	X1         int    `json:"x1"`
	Y1         int    `json:"y1"`
	X2         int    `json:"x2"`
	Y2         int    `json:"y2"`
	TrackID    *int   `json:"track_id,omitempty"`
}

// Annotator renders detections using the colours of the target classes.
type Annotator struct {
	Targets []string
}

// New returns an Annotator for the given target classes.
func New(targets []string) *Annotator {
	return &Annotator{Targets: targets}
}

// Label returns the text drawn above a detection.
func Label(d detection.Detection, targets []string) string {
	name, _ := detection.Normalize(d.Class, targets)
	text := fmt.Sprintf("%s %.2f", name, d.Confidence)
	if d.Confidence < detection.LowConfidence {
		text += lowConfSuffix
	}
	if d.TrackID != nil {
		text = fmt.Sprintf("ID %d: %s", *d.TrackID, text)
	}
	return text
}

// Rows builds the export rows for dets without drawing anything.
func Rows(dets []detection.Detection, source string, targets []string) []ExportRow {
	rows := make([]ExportRow, len(dets))
	for i, d := range dets {
		name, _ := detection.Normalize(d.Class, targets)
		rows[i] = ExportRow{
			Source:     source,
			Index:      i + 1,
			Class:      name,
			Confidence: fmt.Sprintf("%.2f", d.Confidence),
			X1:         d.Box.X1,
			Y1:         d.Box.Y1,
			X2:         d.Box.X2,
			Y2:         d.Box.Y2,
		}
		if d.TrackID != nil {
			id := *d.TrackID
			rows[i].TrackID = &id
		}
	}
	return rows
}

// Annotate returns a copy of img with every detection drawn, in order, and the
// matching export rows. The caller must close the returned Mat.
func (a *Annotator) Annotate(img gocv.Mat, dets []detection.Detection, source string) (gocv.Mat, []ExportRow, error) {
	out := img.Clone()
	imgW := out.Cols()

	for _, d := range dets {
		boxColor, textColor := detection.ColorFor(d.Class, a.Targets)
		text := Label(d, a.Targets)

		size, baseline := gocv.GetTextSizeWithBaseline(text, fontFace, fontScale, fontThickness)
		layout := LabelLayout(d.Box, size.X, size.Y, baseline, imgW)

		rect := image.Rect(d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
		if err := gocv.Rectangle(&out, rect, rgba(boxColor), boxThickness); err != nil {
			out.Close()
			return gocv.NewMat(), nil, fmt.Errorf("failed to draw box: %w", err)
		}
		if layout.HasBackground() {
			if err := gocv.Rectangle(&out, layout.Background, rgba(boxColor), -1); err != nil {
				out.Close()
				return gocv.NewMat(), nil, fmt.Errorf("failed to draw label background: %w", err)
			}
		}
		err := gocv.PutTextWithParams(&out, text, layout.Text, fontFace, fontScale, rgba(textColor), fontThickness, gocv.LineAA, false)
		if err != nil {
			out.Close()
			return gocv.NewMat(), nil, fmt.Errorf("failed to draw label: %w", err)
		}
	}

	return out, Rows(dets, source, a.Targets), nil
}

// Banner returns a copy of img with text centred horizontally near the top in red.
func Banner(img gocv.Mat, text string) (gocv.Mat, error) {
	out := img.Clone()
	size := gocv.GetTextSize(text, fontFace, bannerScale, bannerThickness)
	org := image.Pt((out.Cols()-size.X)/2, bannerY)
	if err := gocv.PutTextWithParams(&out, text, org, fontFace, bannerScale, bannerColor, bannerThickness, gocv.LineAA, false); err != nil {
		out.Close()
		return gocv.NewMat(), fmt.Errorf("failed to draw banner: %w", err)
	}
	return out, nil
}

func rgba(c detection.Color) color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}
}
