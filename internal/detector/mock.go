package detector

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/plastisort/internal/detection"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu      sync.Mutex
	results []Result
	classes map[int]string
	err     error
	calls   []Params
}

// NewMockDetector creates a MockDetector that reports the standard resin classes.
func NewMockDetector() *MockDetector {
	classes := make(map[int]string, len(detection.Plastics))
	for i, name := range detection.Plastics {
		classes[i] = name
	}
	return &MockDetector{classes: classes}
}

// SetResults sets the results that will be returned by Detect.
func (m *MockDetector) SetResults(results ...Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = results
}

// SetClasses replaces the class table.
func (m *MockDetector) SetClasses(classes map[int]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes = classes
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the parameters of every Detect call so far.
func (m *MockDetector) Calls() []Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Params(nil), m.calls...)
}

// Detect returns the pre-configured results at or above p.Confidence.
func (m *MockDetector) Detect(frame *gocv.Mat, p Params) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, p)
	if m.err != nil {
		return nil, m.err
	}

	out := make([]Result, 0, len(m.results))
	for _, r := range m.results {
		if r.Confidence >= p.Confidence {
			out = append(out, r)
		}
	}
	return out, nil
}

// Classes implements Detector.
func (m *MockDetector) Classes() map[int]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.classes
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}
