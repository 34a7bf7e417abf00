package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/plastisort/internal/config"
	"github.com/ayusman/plastisort/internal/detection"
	"github.com/ayusman/plastisort/internal/detector"
	"github.com/ayusman/plastisort/internal/history"
	"github.com/ayusman/plastisort/internal/tracker"
	"github.com/ayusman/plastisort/testdata"
)

func newTestPipeline(t *testing.T) (*Pipeline, *detector.MockDetector, *history.MemoryStore) {
	t.Helper()
	mock := detector.NewMockDetector()
	hist := history.NewMemoryStore()
	p := NewPipeline(PipelineConfig{
		Detector: mock,
		History:  hist,
		Log:      logs.NewTestingLog(t),
	})
	return p, mock, hist
}

func box(x1, y1, x2, y2 int) detection.Box {
	return detection.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func TestPipeline_ProcessImage_ReusesVisitedFile(t *testing.T) {
	ctx := context.Background()
	p, mock, hist := newTestPipeline(t)

	dir := t.TempDir()
	path, err := testdata.WriteImage(dir, "bottle.png")
	require.NoError(t, err)

	mock.SetResults(
		detector.Result{ClassID: 0, Confidence: 0.9, Box: box(10, 10, 100, 100)},
		detector.Result{ClassID: 2, Confidence: 0.3, Box: box(200, 200, 260, 280)},
	)
	st := NewState(config.DefaultThresholds(), detection.Plastics)

	out, _, err := p.ProcessImage(ctx, path, st)
	require.NoError(t, err)
	defer out.Close()

	assert.False(t, out.Reused)
	assert.NotZero(t, out.RecordID)
	assert.Len(t, out.Raw, 2, "raw detections are kept at the floor confidence")
	assert.Len(t, out.Displayed, 1)
	assert.Equal(t, 1, out.Stats.Counts["PET"])
	assert.Equal(t, 1, out.Stats.TotalItems)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, "bottle.png", out.Rows[0].Source)
	assert.Equal(t, []detector.Params{{Confidence: detection.FloorConfidence, IoU: 0.5}}, mock.Calls())

	// lowering the threshold redisplays from history without inference
	st.Thresholds.Confidence = 0.2
	again, _, err := p.ProcessImage(ctx, filepath.Join(dir, ".", "bottle.png"), st)
	require.NoError(t, err)
	defer again.Close()

	assert.True(t, again.Reused)
	assert.Equal(t, out.RecordID, again.RecordID)
	assert.Len(t, again.Displayed, 2)
	assert.Equal(t, 1, again.Stats.Counts["PVC"])
	assert.Len(t, mock.Calls(), 1)

	n, err := hist.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPipeline_ProcessImage_Unreadable(t *testing.T) {
	p, mock, _ := newTestPipeline(t)
	st := NewState(config.DefaultThresholds(), detection.Plastics)

	_, _, err := p.ProcessImage(context.Background(), filepath.Join(t.TempDir(), "missing.png"), st)
	assert.Error(t, err)
	assert.Empty(t, mock.Calls())
}

func TestPipeline_ProcessImage_InferenceFailure(t *testing.T) {
	ctx := context.Background()
	p, mock, hist := newTestPipeline(t)
	path, err := testdata.WriteImage(t.TempDir(), "a.png")
	require.NoError(t, err)

	mock.SetError(errors.New("cuda out of memory"))
	st := NewState(config.DefaultThresholds(), detection.Plastics)

	out, _, err := p.ProcessImage(ctx, path, st)
	assert.ErrorIs(t, err, ErrInference)
	assert.Zero(t, out.Stats.TotalItems)
	assert.Len(t, out.Stats.Counts, len(detection.Plastics))

	n, _ := hist.Count(ctx)
	assert.Zero(t, n, "failed inference is not recorded")
}

func TestPipeline_ProcessFrame_TrackedIdentityMemory(t *testing.T) {
	ctx := context.Background()
	p, mock, hist := newTestPipeline(t)
	frame, err := testdata.NewFrame()
	require.NoError(t, err)
	defer frame.Close()

	st := NewState(config.DefaultThresholds(), detection.Plastics)
	run := func() Output {
		t.Helper()
		out, next, err := p.ProcessFrame(ctx, *frame, st, true)
		require.NoError(t, err)
		st = next
		t.Cleanup(out.Close)
		return out
	}
	count := func() int {
		n, err := hist.Count(ctx)
		require.NoError(t, err)
		return n
	}

	// frame N: PET is first seen and recorded
	mock.SetResults(detector.Result{ClassID: 0, Confidence: 0.9, Box: box(100, 100, 200, 220)})
	out := run()
	require.Len(t, out.Displayed, 1)
	require.NotNil(t, out.Displayed[0].TrackID)
	id := *out.Displayed[0].TrackID
	assert.Equal(t, "PET", out.Displayed[0].Class)
	assert.Equal(t, SourceWebcamTrackedFrame, out.Rows[0].Source)
	assert.Equal(t, 1, count())

	rec, err := hist.Get(ctx, out.RecordID)
	require.NoError(t, err)
	assert.Equal(t, history.SourceWebcamTracked, rec.SourceKind)
	require.Len(t, rec.Detections, 1)
	assert.Equal(t, id, *rec.Detections[0].TrackID)

	// frame N+1: the classifier drifts to HDPE, the bound label wins
	mock.SetResults(detector.Result{ClassID: 1, Confidence: 0.8, Box: box(104, 102, 204, 222)})
	out = run()
	require.Len(t, out.Displayed, 1)
	assert.Equal(t, id, *out.Displayed[0].TrackID)
	assert.Equal(t, "PET", out.Displayed[0].Class)
	assert.Equal(t, 1, count(), "a bound identity is recorded once")

	// empty frame: banner, identities expire
	mock.SetResults()
	out = run()
	assert.Empty(t, out.Displayed)
	assert.Empty(t, out.Rows)
	assert.Empty(t, st.Identities)
	assert.Zero(t, out.Stats.TotalItems)

	// seen again: rebound with the class reported now
	mock.SetResults(detector.Result{ClassID: 1, Confidence: 0.8, Box: box(104, 102, 204, 222)})
	out = run()
	require.Len(t, out.Displayed, 1)
	assert.Equal(t, "HDPE", out.Displayed[0].Class)
	assert.Equal(t, 2, count())
}

// spyTracker records how the pipeline drives it and reports fixed tracks.
type spyTracker struct {
	tracks  []tracker.Track
	updates int
	ages    int
	resets  int
}

func (s *spyTracker) Update(boxes []tracker.CenterBox, confs []float64, classIDs []int, frame *gocv.Mat) []tracker.Track {
	s.updates++
	return s.tracks
}

func (s *spyTracker) AgeWithoutDetections() { s.ages++ }

func (s *spyTracker) Reset() { s.resets++ }

func TestPipeline_ProcessFrame_DrivesTracker(t *testing.T) {
	tests := []struct {
		name        string
		results     []detector.Result
		tracks      []tracker.Track
		wantUpdates int
		wantAges    int
		wantIDs     tracker.Identities
	}{
		{
			name:     "empty frame ages tracks",
			wantAges: 1,
			wantIDs:  tracker.Identities{},
		},
		{
			name:        "detections without tracks expire identities",
			results:     []detector.Result{{ClassID: 0, Confidence: 0.9, Box: box(100, 100, 200, 220)}},
			wantUpdates: 1,
			wantIDs:     tracker.Identities{},
		},
		{
			name:        "surviving track keeps its label",
			results:     []detector.Result{{ClassID: 1, Confidence: 0.9, Box: box(100, 100, 200, 220)}},
			tracks:      []tracker.Track{{ID: 7, ClassID: 1, Confidence: 0.9, Box: box(100, 100, 200, 220)}},
			wantUpdates: 1,
			wantIDs:     tracker.Identities{7: "PET"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := &spyTracker{tracks: tt.tracks}
			mock := detector.NewMockDetector()
			mock.SetResults(tt.results...)
			p := NewPipeline(PipelineConfig{
				Detector: mock,
				Tracker:  spy,
				History:  history.NewMemoryStore(),
				Log:      logs.NewTestingLog(t),
			})

			frame, err := testdata.NewFrame()
			require.NoError(t, err)
			defer frame.Close()

			st := NewState(config.DefaultThresholds(), detection.Plastics)
			st.Identities = tracker.Identities{7: "PET", 9: "PVC"}

			out, next, err := p.ProcessFrame(context.Background(), *frame, st, true)
			require.NoError(t, err)
			defer out.Close()

			assert.Equal(t, tt.wantUpdates, spy.updates)
			assert.Equal(t, tt.wantAges, spy.ages)
			assert.Equal(t, tt.wantIDs, next.Identities)
			assert.Len(t, out.Displayed, len(tt.tracks))
			assert.Equal(t, tracker.Identities{7: "PET", 9: "PVC"}, st.Identities, "input state is not modified")
		})
	}
}

func TestPipeline_ProcessFrame_Untracked(t *testing.T) {
	ctx := context.Background()
	p, mock, hist := newTestPipeline(t)
	frame, err := testdata.NewFrame()
	require.NoError(t, err)
	defer frame.Close()

	st := NewState(config.DefaultThresholds(), detection.Plastics)
	st.SessionID = "session-1"
	mock.SetResults(detector.Result{ClassID: 2, Confidence: 0.7, Box: box(10, 10, 50, 50)})

	for i := 0; i < 2; i++ {
		out, next, err := p.ProcessFrame(ctx, *frame, st, false)
		require.NoError(t, err)
		st = next
		assert.Equal(t, SourceWebcamFrame, out.Source)
		assert.Nil(t, out.Displayed[0].TrackID)
		out.Close()
	}

	mock.SetResults()
	out, _, err := p.ProcessFrame(ctx, *frame, st, false)
	require.NoError(t, err)
	out.Close()

	records, err := hist.All(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2, "one record per tick with detections")
	for _, r := range records {
		assert.Equal(t, history.SourceWebcam, r.SourceKind)
		assert.Equal(t, "session-1", r.SessionID)
	}

	// webcam inference runs at the live confidence
	assert.Equal(t, 0.5, mock.Calls()[0].Confidence)
}

func TestPipeline_ProcessFrame_InferenceFailureKeepsState(t *testing.T) {
	p, mock, _ := newTestPipeline(t)
	frame, err := testdata.NewFrame()
	require.NoError(t, err)
	defer frame.Close()

	st := NewState(config.DefaultThresholds(), detection.Plastics)
	st.Identities = map[int]string{4: "PS"}
	mock.SetError(errors.New("boom"))

	out, next, err := p.ProcessFrame(context.Background(), *frame, st, true)
	assert.ErrorIs(t, err, ErrInference)
	assert.Equal(t, st.Identities, next.Identities)
	assert.Equal(t, 0, out.Stats.TotalItems)
}
