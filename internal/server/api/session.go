package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/plastisort/internal/app"
	"github.com/ayusman/plastisort/internal/capture"
	"github.com/ayusman/plastisort/internal/config"
)

// SessionHandler serves the detection session: status, thresholds, file
// browsing, the webcam and CSV export of the current view.
type SessionHandler struct {
	app         *app.App
	log         logs.Log
	listCameras func() []int
}

// NewSessionHandler creates a SessionHandler for a.
func NewSessionHandler(a *app.App, log logs.Log) *SessionHandler {
	return &SessionHandler{app: a, log: log, listCameras: capture.ListCameras}
}

// ServeHTTP routes /api/status, /api/thresholds, /api/images[/next|/prev|/current],
// /api/webcam, /api/cameras and /api/export.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch strings.TrimSuffix(r.URL.Path, "/") {
	case "/api/status":
		if allow(w, r, http.MethodGet) {
			writeJSON(w, http.StatusOK, h.app.Status(r.Context()))
		}
	case "/api/thresholds":
		h.thresholds(w, r)
	case "/api/images":
		if allow(w, r, http.MethodPost) {
			h.loadImages(w, r)
		}
	case "/api/images/next":
		if allow(w, r, http.MethodPost) {
			u, err := h.app.Next(r.Context())
			h.respond(w, u, err)
		}
	case "/api/images/prev":
		if allow(w, r, http.MethodPost) {
			u, err := h.app.Prev(r.Context())
			h.respond(w, u, err)
		}
	case "/api/images/current":
		if allow(w, r, http.MethodGet) {
			writeJSON(w, http.StatusOK, h.app.Current())
		}
	case "/api/webcam":
		h.webcam(w, r)
	case "/api/cameras":
		if allow(w, r, http.MethodGet) {
			writeJSON(w, http.StatusOK, camerasResponse{Devices: h.listCameras()})
		}
	case "/api/export":
		if allow(w, r, http.MethodGet) {
			h.export(w, r)
		}
	default:
		http.NotFound(w, r)
	}
}

type loadImagesRequest struct {
	Paths []string `json:"paths"`
}

type webcamRequest struct {
	Device *int `json:"device"`
}

type webcamResponse struct {
	Running bool `json:"running"`
}

type camerasResponse struct {
	Devices []int `json:"devices"`
}

// thresholdValue accepts either a JSON number or a string such as "45%".
type thresholdValue string

func (v *thresholdValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = thresholdValue(s)
		return nil
	}
	var f json.Number
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("threshold must be a number or string")
	}
	*v = thresholdValue(f.String())
	return nil
}

type thresholdsRequest struct {
	Confidence *thresholdValue `json:"confidence"`
	IoU        *thresholdValue `json:"iou"`
}

func (h *SessionHandler) respond(w http.ResponseWriter, u app.LiveUpdate, err error) {
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *SessionHandler) loadImages(w http.ResponseWriter, r *http.Request) {
	var req loadImagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	u, err := h.app.LoadImages(r.Context(), req.Paths)
	h.respond(w, u, err)
}

func (h *SessionHandler) thresholds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.app.Thresholds())
	case http.MethodPut:
		var req thresholdsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
		// both values are validated before either is applied
		var conf, iou float64
		var err error
		if req.Confidence != nil {
			if conf, err = config.ParseThreshold(string(*req.Confidence)); err != nil {
				writeAppError(w, err)
				return
			}
		}
		if req.IoU != nil {
			if iou, err = config.ParseThreshold(string(*req.IoU)); err != nil {
				writeAppError(w, err)
				return
			}
		}
		if req.Confidence != nil {
			if err := h.app.SetConfidence(r.Context(), conf); err != nil {
				writeAppError(w, err)
				return
			}
		}
		if req.IoU != nil {
			if err := h.app.SetIoU(r.Context(), iou); err != nil {
				writeAppError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, h.app.Thresholds())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SessionHandler) webcam(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, webcamResponse{Running: h.app.WebcamRunning()})
	case http.MethodPost:
		device := -1
		if r.ContentLength != 0 {
			var req webcamRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "Invalid JSON")
				return
			}
			if req.Device != nil {
				device = *req.Device
			}
		}
		if err := h.app.StartWebcam(device); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, webcamResponse{Running: true})
	case http.MethodDelete:
		h.app.StopWebcam()
		writeJSON(w, http.StatusOK, webcamResponse{Running: false})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SessionHandler) export(w http.ResponseWriter, r *http.Request) {
	var buf strings.Builder
	if err := h.app.Export(&buf); err != nil {
		writeAppError(w, err)
		return
	}
	name := h.app.ExportFilename(time.Now())
	h.log.Infof("Exported current view as %s", name)

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(buf.String()))
}
