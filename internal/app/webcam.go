package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/plastisort/internal/capture"
	"github.com/ayusman/plastisort/internal/tracker"
)

// ErrWebcamRunning is returned when starting a session while one is active.
var ErrWebcamRunning = errors.New("webcam session already running")

type webcamSession struct {
	camera capture.Camera
	cancel context.CancelFunc
	stopCh chan struct{}
	doneCh chan struct{}
}

// StartWebcam opens the camera and starts the polling loop. Identities and
// tracks from any earlier session are forgotten. A negative deviceID uses the
// configured camera.
func (a *App) StartWebcam(deviceID int) error {
	if deviceID < 0 {
		deviceID = a.config.CameraID
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pipeline == nil {
		return ErrModelNotLoaded
	}
	if a.webcam != nil {
		return ErrWebcamRunning
	}

	cam := a.config.OpenCamera(deviceID)
	if err := cam.Open(); err != nil {
		return fmt.Errorf("failed to start webcam: %w", err)
	}

	a.pipeline.ResetTracker()
	a.state.Identities = tracker.Identities{}
	a.state.SessionID = uuid.NewString()

	ctx, cancel := context.WithCancel(context.Background())
	s := &webcamSession{
		camera: cam,
		cancel: cancel,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	a.webcam = s
	a.metrics.SetWebcamActive(true)

	go a.runWebcam(ctx, s)

	a.log.Infof("Webcam %d started, session %s, tracking %v", deviceID, a.state.SessionID, a.config.Tracking)
	return nil
}

// StopWebcam stops the polling loop, waits for the tick in progress to finish
// and only then releases the camera. It is a no-op without a session.
func (a *App) StopWebcam() {
	a.mu.Lock()
	s := a.webcam
	a.webcam = nil
	a.mu.Unlock()

	if s == nil {
		return
	}

	close(s.stopCh)
	<-s.doneCh
	s.cancel()

	if err := s.camera.Close(); err != nil {
		a.log.Warnf("Error closing camera: %v", err)
	}

	a.mu.Lock()
	a.state.Identities = tracker.Identities{}
	a.state.SessionID = ""
	a.mu.Unlock()
	a.metrics.SetWebcamActive(false)

	a.log.Infof("Webcam stopped")
}

// WebcamRunning reports whether a webcam session is active.
func (a *App) WebcamRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.webcam != nil
}

// runWebcam polls the camera once per tick. Each tick runs to completion
// before the next is taken, so slow inference lowers the frame rate instead
// of queueing frames.
func (a *App) runWebcam(ctx context.Context, s *webcamSession) {
	defer close(s.doneCh)

	ticker := time.NewTicker(a.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			a.tick(ctx, s)
		}
	}
}

func (a *App) tick(ctx context.Context, s *webcamSession) {
	frame, err := s.camera.ReadFrame()
	if err != nil {
		a.metrics.ReadErrors.Add(1)
		a.log.Warnf("Error reading frame: %v", err)
		return
	}
	defer frame.Close()
	a.metrics.FramesRead.Add(1)

	a.procMu.Lock()
	defer a.procMu.Unlock()

	a.mu.RLock()
	p := a.pipeline
	st := a.state
	a.mu.RUnlock()
	if p == nil {
		return
	}

	out, next, err := p.ProcessFrame(ctx, *frame, st, a.config.Tracking)
	if err != nil {
		a.log.Errorf("Error processing frame: %v", err)
		a.publishFailure(SourceWebcamFrame, st, err)
		return
	}
	defer out.Close()

	a.mu.Lock()
	if a.webcam == s {
		a.state.Identities = next.Identities
	}
	a.mu.Unlock()

	a.publish(out, true)
}
