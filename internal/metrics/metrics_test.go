package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler(t *testing.T) {
	m := New()
	m.FramesProcessed.Add(3)
	m.InferenceErrors.Add(1)
	m.ObserveInference(12500 * time.Microsecond)
	m.SetWebcamActive(true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		"plastisort_frames_processed_total 3",
		"plastisort_inference_errors_total 1",
		"plastisort_inference_latency_ms 12.5",
		"plastisort_webcam_active 1",
		"plastisort_live_clients 0",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
