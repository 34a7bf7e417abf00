package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"

	"github.com/ayusman/plastisort/internal/app"
	"github.com/ayusman/plastisort/internal/detection"
	"github.com/ayusman/plastisort/internal/detector"
	"github.com/ayusman/plastisort/internal/history"
	"github.com/ayusman/plastisort/internal/metrics"
	"github.com/ayusman/plastisort/testdata"
)

func newTestApp(t *testing.T) (*app.App, *detector.MockDetector) {
	t.Helper()
	d := detector.NewMockDetector()
	d.SetResults(detector.Result{ClassID: 0, Confidence: 0.9, Box: detection.Box{X1: 10, Y1: 10, X2: 80, Y2: 90}})

	a := app.New(app.Config{
		History: history.NewMemoryStore(),
		Log:     logs.NewTestingLog(t),
	})
	a.SetDetector(d)
	t.Cleanup(func() { a.Close() })
	return a, d
}

func TestServer_Health(t *testing.T) {
	a, _ := newTestApp(t)
	s := New(Config{App: a, Log: logs.NewTestingLog(t)})

	t.Run("returns 200 with JSON response", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", ct)
		}

		var response map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response["status"] != "ok" {
			t.Errorf("expected status 'ok', got %v", response["status"])
		}
		if response["model_loaded"] != true {
			t.Errorf("expected model_loaded true, got %v", response["model_loaded"])
		}
	})

	t.Run("only allows GET method", func(t *testing.T) {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
			req := httptest.NewRequest(method, "/api/health", nil)
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("method %s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
			}
		}
	})
}

func TestServer_WithoutApp(t *testing.T) {
	s := New(Config{Log: logs.NewTestingLog(t)})

	for _, path := range []string{"/", "/api/status", "/api/history", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusNotFound, rec.Code)
		}
	}
}

func TestServer_StaticFiles(t *testing.T) {
	dir := t.TempDir()
	index := "<html><body>Plastic detection</body></html>"
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(index), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	s := New(Config{StaticDir: dir, Log: logs.NewTestingLog(t)})

	tests := []struct {
		path string
		code int
		body string
	}{
		{"/", http.StatusOK, index},
		{"/missing.css", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.code {
				t.Errorf("expected status %d, got %d", tt.code, rec.Code)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Errorf("expected body %q, got %q", tt.body, rec.Body.String())
			}
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	m := metrics.New()
	m.FramesRead.Add(3)
	s := New(Config{Metrics: m, Log: logs.NewTestingLog(t)})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "plastisort_frames_read_total 3") {
		t.Errorf("frames counter missing from metrics output")
	}
}

func TestServer_LiveUpdates(t *testing.T) {
	a, _ := newTestApp(t)
	srv := httptest.NewServer(New(Config{App: a, Log: logs.NewTestingLog(t)}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// the current, still empty view arrives first
	var u app.LiveUpdate
	if err := conn.ReadJSON(&u); err != nil {
		t.Fatalf("read initial update: %v", err)
	}
	if u.Stats.TotalItems != 0 {
		t.Errorf("initial TotalItems = %d, want 0", u.Stats.TotalItems)
	}

	path, err := testdata.WriteImage(t.TempDir(), "bottle.png")
	if err != nil {
		t.Fatalf("write image: %v", err)
	}
	if _, err := a.LoadImages(context.Background(), []string{path}); err != nil {
		t.Fatalf("LoadImages() error = %v", err)
	}

	if err := conn.ReadJSON(&u); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if u.Stats.Counts["PET"] != 1 {
		t.Errorf("Counts[PET] = %d, want 1", u.Stats.Counts["PET"])
	}
	if u.Source != path {
		t.Errorf("Source = %q, want %q", u.Source, path)
	}
}

func TestServer_Stream(t *testing.T) {
	a, _ := newTestApp(t)
	path, err := testdata.WriteImage(t.TempDir(), "bottle.png")
	if err != nil {
		t.Fatalf("write image: %v", err)
	}
	if _, err := a.LoadImages(context.Background(), []string{path}); err != nil {
		t.Fatalf("LoadImages() error = %v", err)
	}

	s := New(Config{App: a, Log: logs.NewTestingLog(t)})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx))

	if ct := rec.Header().Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	if n := strings.Count(body, "--frame\r\n"); n != 1 {
		t.Errorf("stream wrote %d parts for an unchanged view, want 1", n)
	}
	if !strings.Contains(body, "Content-Type: image/jpeg") {
		t.Error("stream part is not a JPEG")
	}
}
