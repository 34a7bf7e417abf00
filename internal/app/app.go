// Package app drives a detection session: model loading, file browsing, the
// live webcam loop, thresholds, history and export of the current view.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"

	"github.com/ayusman/plastisort/internal/annotate"
	"github.com/ayusman/plastisort/internal/capture"
	"github.com/ayusman/plastisort/internal/config"
	"github.com/ayusman/plastisort/internal/detection"
	"github.com/ayusman/plastisort/internal/detector"
	"github.com/ayusman/plastisort/internal/export"
	"github.com/ayusman/plastisort/internal/history"
	"github.com/ayusman/plastisort/internal/metrics"
	"github.com/ayusman/plastisort/internal/stats"
	"github.com/ayusman/plastisort/internal/store"
	"github.com/ayusman/plastisort/internal/tracker"
)

var (
	// ErrModelNotLoaded is returned by detection operations until the model is ready.
	ErrModelNotLoaded = errors.New("model not loaded")
	// ErrClearNotConfirmed is returned when a history clear was not confirmed.
	ErrClearNotConfirmed = errors.New("clearing history requires confirmation")
	// ErrNoImageSelected is returned when navigating without a loaded selection.
	ErrNoImageSelected = errors.New("no image selected")
	// ErrNoMoreImages is returned when navigating past either end of the selection.
	ErrNoMoreImages = errors.New("no more images in that direction")
)

// SettingsStore persists thresholds between runs.
type SettingsStore interface {
	GetFloat(key string, def float64) float64
	SetFloat(key string, value float64) error
}

// Config holds configuration options for the application.
type Config struct {
	History  history.Store
	Settings SettingsStore
	Log      logs.Log
	Metrics  *metrics.Metrics

	Detector   detector.Config
	OpenModel  detector.Opener
	OpenCamera capture.Opener
	Tracker    tracker.Tracker

	CameraID      int
	Tracking      bool
	TickInterval  time.Duration
	PageSize      int
	StatCardLimit int
	Thresholds    config.Thresholds
}

// LiveUpdate is published after every processed image or frame.
type LiveUpdate struct {
	Source     string               `json:"source"`
	Stats      stats.Snapshot       `json:"stats"`
	Rows       []annotate.ExportRow `json:"rows"`
	RecordID   int64                `json:"record_id,omitempty"`
	Reused     bool                 `json:"reused"`
	Webcam     bool                 `json:"webcam"`
	ImageIndex int                  `json:"image_index"`
	ImageCount int                  `json:"image_count"`
	Error      string               `json:"error,omitempty"`
}

// Status describes the session for the dashboard.
type Status struct {
	ModelLoaded   bool              `json:"model_loaded"`
	ModelProgress string            `json:"model_progress"`
	ModelError    string            `json:"model_error,omitempty"`
	Classes       []string          `json:"classes"`
	TargetClasses []string          `json:"target_classes"`
	Thresholds    config.Thresholds `json:"thresholds"`
	Webcam        bool              `json:"webcam"`
	Tracking      bool              `json:"tracking"`
	ImageIndex    int               `json:"image_index"`
	ImageCount    int               `json:"image_count"`
	HistoryCount  int               `json:"history_count"`
}

// App is the detection session. All methods are safe for concurrent use.
type App struct {
	config  Config
	log     logs.Log
	metrics *metrics.Metrics
	history history.Store

	mu            sync.RWMutex
	state         State
	pipeline      *Pipeline
	detector      detector.Detector
	modelErr      error
	modelProgress string
	images        *capture.FileSource
	view          LiveUpdate
	lastFrame     []byte

	// procMu serialises pipeline runs between the webcam loop and file mode.
	procMu sync.Mutex

	webcam *webcamSession

	subMu   sync.Mutex
	subs    map[int]chan LiveUpdate
	nextSub int
}

// New creates an App. Thresholds saved in Settings take precedence over the
// configured ones. Detection stays unavailable until LoadModel or SetDetector.
func New(cfg Config) *App {
	if cfg.Log == nil {
		cfg.Log, _ = logs.NewLog()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.OpenCamera == nil {
		cfg.OpenCamera = capture.NewCamera
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = config.DefaultTickInterval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = history.DefaultPageSize
	}
	if cfg.StatCardLimit <= 0 {
		cfg.StatCardLimit = detection.DefaultStatCardLimit
	}
	if cfg.Thresholds == (config.Thresholds{}) {
		cfg.Thresholds = config.DefaultThresholds()
	}

	th := cfg.Thresholds
	if cfg.Settings != nil {
		if err := th.SetConfidence(cfg.Settings.GetFloat(store.SettingConfidence, th.Confidence)); err != nil {
			cfg.Log.Warnf("Ignoring saved confidence threshold: %v", err)
		}
		if err := th.SetIoU(cfg.Settings.GetFloat(store.SettingIoU, th.IoU)); err != nil {
			cfg.Log.Warnf("Ignoring saved IoU threshold: %v", err)
		}
	}

	a := &App{
		config:        cfg,
		log:           cfg.Log,
		metrics:       cfg.Metrics,
		history:       cfg.History,
		state:         NewState(th, detection.Plastics),
		modelProgress: "Model not loaded",
		subs:          make(map[int]chan LiveUpdate),
	}
	a.view = a.emptyView()
	return a
}

// LoadModel loads the detector on a background goroutine. The returned channel
// receives the outcome once and is then closed.
func (a *App) LoadModel() <-chan error {
	done := make(chan error, 1)
	results := detector.LoadAsync(a.config.Detector, a.config.OpenModel, func(msg string) {
		a.mu.Lock()
		a.modelProgress = msg
		a.mu.Unlock()
		a.log.Infof("%s", msg)
	})

	go func() {
		defer close(done)
		res := <-results
		if res.Err != nil {
			a.mu.Lock()
			a.modelErr = res.Err
			a.mu.Unlock()
			a.log.Errorf("Detection disabled, model failed to load: %v", res.Err)
			done <- res.Err
			return
		}
		a.SetDetector(res.Detector)
		done <- nil
	}()

	return done
}

// SetDetector installs a ready detector and derives the stat-card classes from
// its class names.
func (a *App) SetDetector(d detector.Detector) {
	names := detector.ClassNames(d.Classes())
	targets := detection.DeriveTargetClasses(names, a.config.StatCardLimit)

	p := NewPipeline(PipelineConfig{
		Detector: d,
		Tracker:  a.config.Tracker,
		History:  a.history,
		Metrics:  a.metrics,
		Log:      a.log,
	})

	a.procMu.Lock()
	a.mu.Lock()
	a.detector = d
	a.pipeline = p
	a.modelErr = nil
	a.modelProgress = "Model loaded"
	a.state.TargetClasses = targets
	a.view = a.emptyView()
	a.mu.Unlock()
	a.procMu.Unlock()

	a.log.Infof("Model ready with %d classes, stat cards: %v", len(names), targets)
}

// Status returns a snapshot of the session.
func (a *App) Status(ctx context.Context) Status {
	a.mu.RLock()
	s := Status{
		ModelLoaded:   a.pipeline != nil,
		ModelProgress: a.modelProgress,
		TargetClasses: append([]string(nil), a.state.TargetClasses...),
		Thresholds:    a.state.Thresholds,
		Webcam:        a.webcam != nil,
		Tracking:      a.config.Tracking,
		ImageIndex:    a.state.ImageIndex,
		ImageCount:    a.images.Len(),
	}
	if a.modelErr != nil {
		s.ModelError = a.modelErr.Error()
	}
	if a.detector != nil {
		s.Classes = detector.ClassNames(a.detector.Classes())
	}
	a.mu.RUnlock()

	if n, err := a.history.Count(ctx); err == nil {
		s.HistoryCount = n
	}
	return s
}

// Thresholds returns the current thresholds.
func (a *App) Thresholds() config.Thresholds {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Thresholds
}

// SetConfidence validates and applies a new confidence threshold. An invalid
// value is rejected and the previous one kept. In file mode the current image
// is redrawn from its stored detections.
func (a *App) SetConfidence(ctx context.Context, v float64) error {
	return a.setThreshold(ctx, store.SettingConfidence, v, (*config.Thresholds).SetConfidence)
}

// SetIoU validates and applies a new IoU threshold. It affects the next
// inference; stored file detections are not recomputed.
func (a *App) SetIoU(ctx context.Context, v float64) error {
	return a.setThreshold(ctx, store.SettingIoU, v, (*config.Thresholds).SetIoU)
}

func (a *App) setThreshold(ctx context.Context, key string, v float64, set func(*config.Thresholds, float64) error) error {
	a.mu.Lock()
	if err := set(&a.state.Thresholds, v); err != nil {
		a.mu.Unlock()
		return err
	}
	redisplay := a.webcam == nil && a.state.ImageIndex >= 0 && a.pipeline != nil
	a.mu.Unlock()

	if a.config.Settings != nil {
		if err := a.config.Settings.SetFloat(key, v); err != nil {
			a.log.Warnf("Failed to save %s: %v", key, err)
		}
	}

	if redisplay {
		if _, err := a.showCurrent(ctx); err != nil {
			a.log.Warnf("Failed to redisplay image: %v", err)
		}
	}
	return nil
}

// LoadImages replaces the file selection, stops any webcam session and shows
// the first image.
func (a *App) LoadImages(ctx context.Context, paths []string) (LiveUpdate, error) {
	a.mu.RLock()
	ready := a.pipeline != nil
	a.mu.RUnlock()
	if !ready {
		return LiveUpdate{}, ErrModelNotLoaded
	}

	src, err := capture.NewFileSource(paths)
	if err != nil {
		return LiveUpdate{}, err
	}

	a.StopWebcam()

	a.mu.Lock()
	a.images = src
	a.state.ImageIndex = 0
	a.mu.Unlock()

	return a.showCurrent(ctx)
}

// Next shows the next image of the selection.
func (a *App) Next(ctx context.Context) (LiveUpdate, error) {
	return a.step(ctx, 1)
}

// Prev shows the previous image of the selection.
func (a *App) Prev(ctx context.Context) (LiveUpdate, error) {
	return a.step(ctx, -1)
}

func (a *App) step(ctx context.Context, delta int) (LiveUpdate, error) {
	a.mu.Lock()
	if a.images.Len() == 0 || a.state.ImageIndex < 0 {
		a.mu.Unlock()
		return LiveUpdate{}, ErrNoImageSelected
	}
	next := a.state.ImageIndex + delta
	if next < 0 || next >= a.images.Len() {
		a.mu.Unlock()
		return LiveUpdate{}, ErrNoMoreImages
	}
	a.state.ImageIndex = next
	a.mu.Unlock()

	return a.showCurrent(ctx)
}

// Current returns the view of the last processed image or frame.
func (a *App) Current() LiveUpdate {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.view
}

// LastFrame returns the JPEG of the last annotated image or frame, nil before the first.
func (a *App) LastFrame() []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastFrame
}

func (a *App) showCurrent(ctx context.Context) (LiveUpdate, error) {
	a.procMu.Lock()
	defer a.procMu.Unlock()

	a.mu.RLock()
	p := a.pipeline
	st := a.state
	path, ok := a.images.Path(st.ImageIndex)
	a.mu.RUnlock()

	if p == nil {
		return LiveUpdate{}, ErrModelNotLoaded
	}
	if !ok {
		return LiveUpdate{}, ErrNoImageSelected
	}

	out, _, err := p.ProcessImage(ctx, path, st)
	if err != nil {
		a.log.Errorf("Failed to process %s: %v", path, err)
		a.publishFailure(path, st, err)
		return LiveUpdate{}, err
	}
	defer out.Close()

	return a.publish(out, false), nil
}

// Analytics aggregates the history inside window at the current confidence.
func (a *App) Analytics(ctx context.Context, window history.Window) (history.Summary, error) {
	records, err := a.history.All(ctx)
	if err != nil {
		return history.Summary{}, fmt.Errorf("failed to read history: %w", err)
	}

	if since := window.Since(time.Now()); !since.IsZero() {
		kept := records[:0]
		for _, r := range records {
			if !r.Timestamp.Before(since) {
				kept = append(kept, r)
			}
		}
		records = kept
	}

	a.mu.RLock()
	threshold := a.state.Thresholds.Confidence
	targets := a.state.TargetClasses
	a.mu.RUnlock()

	return history.Aggregate(records, threshold, targets), nil
}

// History returns one page of the history. A zero page size uses the configured default.
func (a *App) History(ctx context.Context, q history.Query) (history.Page, error) {
	if q.PageSize <= 0 {
		q.PageSize = a.config.PageSize
	}
	return a.history.Query(ctx, q)
}

// Record returns one history record.
func (a *App) Record(ctx context.Context, id int64) (history.Record, error) {
	return a.history.Get(ctx, id)
}

// ClearHistory irreversibly removes every record. It refuses unless confirmed.
func (a *App) ClearHistory(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return ErrClearNotConfirmed
	}
	if err := a.history.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	a.log.Infof("Detection history cleared")
	return nil
}

// Export writes the current view as CSV.
func (a *App) Export(w io.Writer) error {
	a.mu.RLock()
	ready := a.pipeline != nil
	view := a.view
	th := a.state.Thresholds
	a.mu.RUnlock()

	if !ready {
		return ErrModelNotLoaded
	}
	return export.WriteCSV(w, view.Rows, view.Stats, th)
}

// ExportFilename suggests a file name for Export.
func (a *App) ExportFilename(now time.Time) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	source := a.view.Source
	if a.webcam != nil {
		source = "webcam_capture"
	}
	return export.Filename(source, now)
}

// Subscribe registers for live updates. Slow subscribers miss updates rather
// than stall the pipeline. Call the returned function to unsubscribe.
func (a *App) Subscribe() (<-chan LiveUpdate, func()) {
	ch := make(chan LiveUpdate, 8)

	a.subMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = ch
	a.subMu.Unlock()
	a.metrics.LiveClients.Add(1)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.subMu.Lock()
			delete(a.subs, id)
			a.subMu.Unlock()
			close(ch)
			a.metrics.LiveClients.Add(-1)
		})
	}
}

func (a *App) broadcast(u LiveUpdate) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for _, ch := range a.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// publish makes out the current view. The caller still owns out.
func (a *App) publish(out Output, webcam bool) LiveUpdate {
	var jpeg []byte
	if !out.Annotated.Empty() {
		if buf, err := gocv.IMEncode(".jpg", out.Annotated); err == nil {
			jpeg = append([]byte(nil), buf.GetBytes()...)
			buf.Close()
		} else {
			a.log.Warnf("Failed to encode frame: %v", err)
		}
	}

	a.mu.Lock()
	u := LiveUpdate{
		Source:     out.Source,
		Stats:      out.Stats,
		Rows:       out.Rows,
		RecordID:   out.RecordID,
		Reused:     out.Reused,
		Webcam:     webcam,
		ImageIndex: a.state.ImageIndex,
		ImageCount: a.images.Len(),
	}
	a.view = u
	if jpeg != nil {
		a.lastFrame = jpeg
	}
	a.mu.Unlock()

	a.broadcast(u)
	return u
}

// publishFailure clears the live statistics after a failed image or frame.
func (a *App) publishFailure(source string, st State, err error) {
	a.mu.Lock()
	u := LiveUpdate{
		Source:     source,
		Stats:      stats.Zero(st.TargetClasses),
		Webcam:     a.webcam != nil,
		ImageIndex: a.state.ImageIndex,
		ImageCount: a.images.Len(),
		Error:      err.Error(),
	}
	a.view = u
	a.mu.Unlock()

	a.broadcast(u)
}

func (a *App) emptyView() LiveUpdate {
	return LiveUpdate{
		Stats:      stats.Zero(a.state.TargetClasses),
		ImageIndex: a.state.ImageIndex,
		ImageCount: a.images.Len(),
	}
}

// Close stops the webcam and releases the detector. The history store is
// owned by the caller.
func (a *App) Close() error {
	a.StopWebcam()

	a.procMu.Lock()
	a.mu.Lock()
	d := a.detector
	a.detector = nil
	a.pipeline = nil
	a.mu.Unlock()
	a.procMu.Unlock()

	if d != nil {
		return d.Close()
	}
	return nil
}
