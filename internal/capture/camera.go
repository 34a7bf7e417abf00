// Package capture provides the frame sources for detection: a live webcam and
// a user-selected list of image files.
package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Default webcam settings
const (
	DefaultWidth  = 640
	DefaultHeight = 480

	// MaxProbeDevices is how many device indices ListCameras tries.
	MaxProbeDevices = 5
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrFrameUnavailable is returned when the device is open but yields no frame.
	ErrFrameUnavailable = errors.New("no frame available")
)

// Camera is a live frame source polled once per webcam tick.
type Camera interface {
	Open() error
	Close() error
	// ReadFrame returns the next frame. The caller must close the Mat.
	ReadFrame() (*gocv.Mat, error)
	IsOpen() bool
	DeviceID() int
}

// Opener creates the camera for a device index.
type Opener func(deviceID int) Camera

type webcam struct {
	deviceID int
	capture  *gocv.VideoCapture
	mu       sync.Mutex
}

// NewCamera creates a Camera for the given device index. Nothing is acquired
// until Open.
func NewCamera(deviceID int) Camera {
	return &webcam{deviceID: deviceID}
}

// Open acquires the device at 640x480.
func (c *webcam) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture != nil {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.deviceID)
	if err != nil {
		return fmt.Errorf("failed to open camera %d: %w", c.deviceID, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("failed to open camera %d: %w", c.deviceID, ErrCameraNotOpen)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, DefaultWidth)
	capture.Set(gocv.VideoCaptureFrameHeight, DefaultHeight)

	c.capture = capture
	return nil
}

// Close releases the device. Closing a closed camera is a no-op.
func (c *webcam) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	return err
}

func (c *webcam) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, ErrFrameUnavailable
	}

	return &mat, nil
}

func (c *webcam) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture != nil
}

func (c *webcam) DeviceID() int {
	return c.deviceID
}

// ListCameras returns the device indices below MaxProbeDevices that can be opened.
func ListCameras() []int {
	var found []int
	for i := 0; i < MaxProbeDevices; i++ {
		capture, err := gocv.OpenVideoCapture(i)
		if err != nil {
			continue
		}
		if capture.IsOpened() {
			found = append(found, i)
		}
		capture.Close()
	}
	return found
}
