package annotate

import (
	"image"

	"github.com/ayusman/plastisort/internal/detection"
)

// Layout is where a label goes relative to its box.
type Layout struct {
	// Background is the filled label rectangle, clamped to the image width.
	Background image.Rectangle
	// Text is the bottom-left origin of the label text.
	Text image.Point
	// Below is true when the label did not fit above the box.
	Below bool
}

// HasBackground reports whether the clamped background is still non-empty.
func (l Layout) HasBackground() bool {
	return l.Background.Min.X < l.Background.Max.X && l.Background.Min.Y < l.Background.Max.Y
}

// LabelLayout places a label of the given text metrics above box, or below it
// when the background would start above the top edge of the image.
func LabelLayout(box detection.Box, textW, textH, baseline, imgW int) Layout {
	var l Layout

	textY := box.Y1 - labelOffset
	top := box.Y1 - textH - labelOffset - labelPadY
	bottom := box.Y1 - labelOffset + baseline/2

	if top < 0 {
		l.Below = true
		textY = box.Y2 + textH + labelOffset
		top = box.Y2 + labelOffset - baseline/2
		bottom = box.Y2 + textH + labelOffset + labelPadY
	}

	left := max(0, box.X1)
	right := min(imgW, box.X1+textW+2*labelPadX)

	l.Background = image.Rectangle{Min: image.Pt(left, top), Max: image.Pt(right, bottom)}
	l.Text = image.Pt(max(box.X1, left)+labelPadX, max(textH, textY))
	return l
}
