package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"

	"github.com/ayusman/plastisort/internal/annotate"
	"github.com/ayusman/plastisort/internal/capture"
	"github.com/ayusman/plastisort/internal/detection"
	"github.com/ayusman/plastisort/internal/detector"
	"github.com/ayusman/plastisort/internal/history"
	"github.com/ayusman/plastisort/internal/metrics"
	"github.com/ayusman/plastisort/internal/stats"
	"github.com/ayusman/plastisort/internal/tracker"
)

// ErrInference wraps a failed model call. The frame is dropped and the live
// statistics are cleared, nothing else is affected.
var ErrInference = errors.New("inference failed")

// Pipeline turns one image or frame into detections, history and a rendered view.
// It is not safe for concurrent use; App serialises calls.
type Pipeline struct {
	detector detector.Detector
	tracker  tracker.Tracker
	history  history.Store
	metrics  *metrics.Metrics
	log      logs.Log
	now      func() time.Time
}

// PipelineConfig holds the collaborators of a Pipeline.
type PipelineConfig struct {
	Detector detector.Detector
	Tracker  tracker.Tracker
	History  history.Store
	Metrics  *metrics.Metrics
	Log      logs.Log
}

// NewPipeline creates a Pipeline. A nil Tracker gets the IoU tracker and nil
// Metrics a private registry.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	p := &Pipeline{
		detector: cfg.Detector,
		tracker:  cfg.Tracker,
		history:  cfg.History,
		metrics:  cfg.Metrics,
		log:      cfg.Log,
		now:      time.Now,
	}
	if p.tracker == nil {
		p.tracker = tracker.NewIoUTracker()
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}
	return p
}

// ResetTracker forgets every track, used when a webcam session starts.
func (p *Pipeline) ResetTracker() {
	p.tracker.Reset()
}

// ProcessImage shows one image file. The first visit runs inference at the
// floor confidence and stores the record; later visits reuse the stored
// detections. Either way the display is filtered at the current confidence.
func (p *Pipeline) ProcessImage(ctx context.Context, path string, st State) (Output, State, error) {
	img, err := capture.ReadImage(path)
	if err != nil {
		p.metrics.ReadErrors.Add(1)
		return Output{}, st, err
	}
	defer img.Close()

	rec, found, err := p.history.FindByPath(ctx, path)
	if err != nil {
		return Output{}, st, fmt.Errorf("failed to look up history: %w", err)
	}

	if !found {
		_, raw, elapsed, err := p.infer(img, detector.Params{
			Confidence: detection.FloorConfidence,
			IoU:        st.Thresholds.IoU,
		})
		if err != nil {
			return Output{Stats: stats.Zero(st.TargetClasses)}, st, err
		}

		rec, found, err = p.history.AppendOrReuse(ctx, history.NewRecord{
			Timestamp:           p.now(),
			SourcePath:          path,
			SourceKind:          history.SourceFile,
			ProcessingTimeMs:    elapsed,
			ConfidenceThreshold: st.Thresholds.Confidence,
			IoUThreshold:        st.Thresholds.IoU,
			Detections:          raw,
		})
		if err != nil {
			p.metrics.StoreErrors.Add(1)
			p.log.Errorf("Failed to store history for %s: %v", path, err)
			rec = history.Record{Detections: raw, ProcessingTimeMs: elapsed}
		} else if !found {
			p.metrics.RecordsAppended.Add(1)
		}
	}
	if found {
		p.metrics.RecordsReused.Add(1)
	}
	p.metrics.ImagesProcessed.Add(1)

	shown := detection.FilterForDisplay(rec.Detections, st.Thresholds.Confidence)
	annotated, rows, err := annotate.New(st.TargetClasses).Annotate(img, shown, filepath.Base(path))
	if err != nil {
		return Output{}, st, err
	}

	return Output{
		Annotated: annotated,
		Rows:      rows,
		Stats:     stats.Project(shown, rec.ProcessingTimeMs, st.TargetClasses),
		Raw:       rec.Detections,
		Displayed: shown,
		Source:    path,
		RecordID:  rec.ID,
		Reused:    found,
	}, st, nil
}

// ProcessFrame runs one webcam tick. With tracking, detections are associated
// across frames and each newly bound identity is recorded once; without it
// every tick that detects something is recorded. Frames without any displayed
// detection get the "No plastics detected" banner.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame gocv.Mat, st State, tracking bool) (Output, State, error) {
	p.metrics.FramesProcessed.Add(1)

	results, raw, elapsed, err := p.infer(frame, detector.Params{
		Confidence: st.Thresholds.Confidence,
		IoU:        st.Thresholds.IoU,
	})
	if err != nil {
		return Output{Stats: stats.Zero(st.TargetClasses)}, st, err
	}

	var display []detection.Detection
	var toRecord []detection.Detection
	kind := history.SourceWebcam
	source := SourceWebcamFrame

	if tracking {
		kind = history.SourceWebcamTracked
		source = SourceWebcamTrackedFrame

		var tracks []tracker.Track
		if len(raw) == 0 {
			p.tracker.AgeWithoutDetections()
		} else {
			tracks = p.tracker.Update(centers(raw), confidences(raw), classIDs(results), &frame)
		}

		next, labelled, fresh := st.Identities.Reconcile(tracks, func(id int) string {
			return detector.ClassName(p.detector.Classes(), id)
		})
		st.Identities = next
		display = trackedDetections(labelled)
		toRecord = trackedDetections(fresh)
	} else {
		display = raw
		toRecord = raw
	}

	var recordID int64
	if len(toRecord) > 0 {
		rec, _, err := p.history.AppendOrReuse(ctx, history.NewRecord{
			Timestamp:           p.now(),
			SourceKind:          kind,
			SessionID:           st.SessionID,
			ProcessingTimeMs:    elapsed,
			ConfidenceThreshold: st.Thresholds.Confidence,
			IoUThreshold:        st.Thresholds.IoU,
			Detections:          toRecord,
		})
		if err != nil {
			p.metrics.StoreErrors.Add(1)
			p.log.Errorf("Failed to store webcam history: %v", err)
		} else {
			recordID = rec.ID
			p.metrics.RecordsAppended.Add(1)
		}
	}

	shown := detection.FilterForDisplay(display, st.Thresholds.Confidence)

	var annotated gocv.Mat
	var rows []annotate.ExportRow
	if len(shown) == 0 {
		annotated, err = annotate.Banner(frame, annotate.NoPlasticsText)
	} else {
		annotated, rows, err = annotate.New(st.TargetClasses).Annotate(frame, shown, source)
	}
	if err != nil {
		return Output{}, st, err
	}

	return Output{
		Annotated: annotated,
		Rows:      rows,
		Stats:     stats.Project(shown, elapsed, st.TargetClasses),
		Raw:       raw,
		Displayed: shown,
		Source:    source,
		RecordID:  recordID,
	}, st, nil
}

// infer runs the detector and returns the raw results, their named form and
// the inference time in milliseconds.
func (p *Pipeline) infer(img gocv.Mat, params detector.Params) ([]detector.Result, []detection.Detection, float64, error) {
	start := time.Now()
	results, err := p.detector.Detect(&img, params)
	elapsed := time.Since(start)
	if err != nil {
		p.metrics.InferenceErrors.Add(1)
		return nil, nil, 0, fmt.Errorf("%w: %v", ErrInference, err)
	}
	p.metrics.ObserveInference(elapsed)
	return results, detector.ToDetections(results, p.detector.Classes()), float64(elapsed.Microseconds()) / 1000, nil
}

func classIDs(results []detector.Result) []int {
	ids := make([]int, len(results))
	for i, r := range results {
		ids[i] = r.ClassID
	}
	return ids
}

func centers(dets []detection.Detection) []tracker.CenterBox {
	out := make([]tracker.CenterBox, len(dets))
	for i, d := range dets {
		out[i] = tracker.ToCenter(d.Box)
	}
	return out
}

func confidences(dets []detection.Detection) []float64 {
	out := make([]float64, len(dets))
	for i, d := range dets {
		out[i] = d.Confidence
	}
	return out
}

func trackedDetections(tracks []tracker.Labelled) []detection.Detection {
	if len(tracks) == 0 {
		return nil
	}
	out := make([]detection.Detection, len(tracks))
	for i, t := range tracks {
		id := t.ID
		out[i] = detection.Detection{
			Class:      t.Label,
			Confidence: detection.RoundConfidence(t.Confidence),
			Box:        t.Box,
			TrackID:    &id,
		}
	}
	return out
}
