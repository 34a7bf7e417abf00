package app

import (
	"gocv.io/x/gocv"

	"github.com/ayusman/plastisort/internal/annotate"
	"github.com/ayusman/plastisort/internal/config"
	"github.com/ayusman/plastisort/internal/detection"
	"github.com/ayusman/plastisort/internal/stats"
	"github.com/ayusman/plastisort/internal/tracker"
)

// Export row sources for webcam frames.
const (
	SourceWebcamFrame        = "webcam_frame"
	SourceWebcamTrackedFrame = "webcam_tracked_frame"
)

// State is the session state threaded through every pipeline call. Callers
// keep the returned State and pass it to the next call.
type State struct {
	Thresholds    config.Thresholds
	Identities    tracker.Identities
	TargetClasses []string
	// ImageIndex is the file mode cursor, -1 when no image is selected.
	ImageIndex int
	// SessionID tags the records of one webcam session.
	SessionID string
}

// NewState returns the initial state for the given thresholds and stat-card classes.
func NewState(th config.Thresholds, targets []string) State {
	return State{
		Thresholds:    th,
		Identities:    tracker.Identities{},
		TargetClasses: append([]string(nil), targets...),
		ImageIndex:    -1,
	}
}

// Output is the result of processing one image or frame.
type Output struct {
	// Annotated is the drawn frame. The receiver of an Output must Close it.
	Annotated gocv.Mat
	// Rows replace the export snapshot of the previous view.
	Rows []annotate.ExportRow
	// Stats is the live statistics view for this frame.
	Stats stats.Snapshot
	// Raw holds every detection the frame produced before display filtering.
	Raw []detection.Detection
	// Displayed holds the detections drawn at the current confidence.
	Displayed []detection.Detection
	// Source is the image path, or a webcam frame marker.
	Source string
	// RecordID is the history record written or reused, 0 when none.
	RecordID int64
	// Reused is true when a file was served from history without inference.
	Reused bool
}

// Close releases the annotated frame.
func (o *Output) Close() {
	o.Annotated.Close()
}
