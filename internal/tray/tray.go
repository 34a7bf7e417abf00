// Package tray provides the system tray shell of the plastic detection dashboard.
package tray

import (
	"fmt"
	"strings"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/plastisort/internal/stats"
)

const (
	titleStart = "▶ Start webcam"
	titleStop  = "■ Stop webcam"
)

// Tray represents the system tray application.
type Tray struct {
	onWebcam    func(start bool) error
	onDashboard func()
	onQuit      func()
	running     bool
	mu          sync.RWMutex

	// Menu items stored for later updates
	menuWebcam *systray.MenuItem
	menuLast   *systray.MenuItem
	menuError  *systray.MenuItem
}

// New creates a new Tray with the webcam stopped.
func New() *Tray {
	return &Tray{}
}

// OnWebcam sets the callback run when the webcam item is clicked. start is
// the requested state; an error leaves the previous state in place.
func (t *Tray) OnWebcam(fn func(start bool) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onWebcam = fn
}

// OnDashboard sets the callback run when the dashboard item is clicked.
func (t *Tray) OnDashboard(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDashboard = fn
}

// OnQuit sets the callback run when the quit item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit stops the tray loop from another goroutine.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("PlastiSort")
	systray.SetTooltip("PlastiSort plastic waste detection")

	t.mu.Lock()
	t.menuWebcam = systray.AddMenuItem(titleStart, "Start or stop live webcam detection")
	systray.AddSeparator()
	t.menuLast = systray.AddMenuItem("Last: none", "Plastics in the last processed view")
	t.menuLast.Disable()
	t.menuError = systray.AddMenuItem("", "")
	t.menuError.Disable()
	t.menuError.Hide()
	t.mu.Unlock()
	systray.AddSeparator()

	menuDashboard := systray.AddMenuItem("Open Dashboard...", "Open the dashboard in a browser")
	systray.AddSeparator()
	menuQuit := systray.AddMenuItem("Quit", "Quit PlastiSort")

	go func() {
		for {
			select {
			case <-t.menuWebcam.ClickedCh:
				t.handleWebcam()
			case <-menuDashboard.ClickedCh:
				t.handleDashboard()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handleWebcam flips the webcam state through the callback.
func (t *Tray) handleWebcam() {
	t.mu.RLock()
	want := !t.running
	callback := t.onWebcam
	t.mu.RUnlock()

	// Call the callback outside the lock to prevent deadlocks
	var err error
	if callback != nil {
		err = callback(want)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.showError(fmt.Sprintf("Webcam: %v", err))
		return
	}
	t.showError("")
	t.setRunning(want)
}

func (t *Tray) handleDashboard() {
	t.mu.RLock()
	callback := t.onDashboard
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetWebcamRunning syncs the menu with a webcam state changed elsewhere.
func (t *Tray) SetWebcamRunning(running bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setRunning(running)
}

func (t *Tray) setRunning(running bool) {
	t.running = running
	if t.menuWebcam == nil {
		return
	}
	if running {
		t.menuWebcam.SetTitle(titleStop)
	} else {
		t.menuWebcam.SetTitle(titleStart)
	}
}

func (t *Tray) showError(msg string) {
	if t.menuError == nil {
		return
	}
	if msg == "" {
		t.menuError.Hide()
		return
	}
	t.menuError.SetTitle(msg)
	t.menuError.Show()
}

// WebcamRunning reports the webcam state shown in the menu.
func (t *Tray) WebcamRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// SetLastDetection shows the counts of the last processed view.
func (t *Tray) SetLastDetection(s stats.Snapshot) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuLast != nil {
		t.menuLast.SetTitle("Last: " + Summary(s))
	}
}

// Summary renders the non-zero class counts of a snapshot, e.g. "PET 2, PVC 1".
func Summary(s stats.Snapshot) string {
	var parts []string
	for _, c := range s.Classes {
		if n := s.Counts[c]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", c, n))
		}
	}
	if extra := s.TotalItems - countOf(s); extra > 0 {
		parts = append(parts, fmt.Sprintf("other %d", extra))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func countOf(s stats.Snapshot) int {
	n := 0
	for _, c := range s.Classes {
		n += s.Counts[c]
	}
	return n
}
