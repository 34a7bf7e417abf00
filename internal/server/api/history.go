package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/plastisort/internal/app"
	"github.com/ayusman/plastisort/internal/detection"
	"github.com/ayusman/plastisort/internal/history"
)

const dateLayout = "2006-01-02"

// HistoryHandler serves the detection history and its analytics.
type HistoryHandler struct {
	app *app.App
	log logs.Log
}

// NewHistoryHandler creates a HistoryHandler for a.
func NewHistoryHandler(a *app.App, log logs.Log) *HistoryHandler {
	return &HistoryHandler{app: a, log: log}
}

// ServeHTTP routes /api/history, /api/history/{id} and /api/analytics.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSuffix(r.URL.Path, "/") == "/api/analytics" {
		if allow(w, r, http.MethodGet) {
			h.analytics(w, r)
		}
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/history")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodDelete:
			h.clear(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if !allow(w, r, http.MethodGet) {
		return
	}
	id, err := strconv.ParseInt(path, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid record id")
		return
	}
	h.get(w, r, id)
}

type recordResponse struct {
	ID                  int64                 `json:"id"`
	Timestamp           string                `json:"timestamp"`
	SourcePath          string                `json:"source_path,omitempty"`
	SourceKind          string                `json:"source_kind"`
	SessionID           string                `json:"session_id,omitempty"`
	ProcessingTimeMs    float64               `json:"processing_time_ms"`
	ConfidenceThreshold float64               `json:"confidence_threshold"`
	IoUThreshold        float64               `json:"iou_threshold"`
	Items               int                   `json:"items"`
	Detections          []detection.Detection `json:"detections"`
}

type pageResponse struct {
	Records    []recordResponse `json:"records"`
	Total      int              `json:"total"`
	Page       int              `json:"page"`
	TotalPages int              `json:"total_pages"`
	PageSize   int              `json:"page_size"`
}

// toResponse converts a history.Record. Items counts the detections shown at
// the current confidence, Detections keeps the full stored set.
func toResponse(rec history.Record, threshold float64) recordResponse {
	dets := rec.Detections
	if dets == nil {
		dets = []detection.Detection{}
	}
	return recordResponse{
		ID:                  rec.ID,
		Timestamp:           rec.Timestamp.Format(time.RFC3339),
		SourcePath:          rec.SourcePath,
		SourceKind:          string(rec.SourceKind),
		SessionID:           rec.SessionID,
		ProcessingTimeMs:    rec.ProcessingTimeMs,
		ConfidenceThreshold: rec.ConfidenceThreshold,
		IoUThreshold:        rec.IoUThreshold,
		Items:               len(detection.FilterForDisplay(rec.Detections, threshold)),
		Detections:          dets,
	}
}

// parseQuery reads page, page_size, search, class, from and to. Dates are
// YYYY-MM-DD in local time and to includes the whole day.
func parseQuery(r *http.Request) (history.Query, error) {
	v := r.URL.Query()
	q := history.Query{
		Search: v.Get("search"),
		Class:  v.Get("class"),
	}

	var err error
	if s := v.Get("page"); s != "" {
		if q.Page, err = strconv.Atoi(s); err != nil {
			return q, fmt.Errorf("invalid page %q", s)
		}
	}
	if s := v.Get("page_size"); s != "" {
		if q.PageSize, err = strconv.Atoi(s); err != nil {
			return q, fmt.Errorf("invalid page_size %q", s)
		}
	}
	if s := v.Get("from"); s != "" {
		if q.From, err = time.ParseInLocation(dateLayout, s, time.Local); err != nil {
			return q, fmt.Errorf("invalid from date %q", s)
		}
	}
	if s := v.Get("to"); s != "" {
		to, err := time.ParseInLocation(dateLayout, s, time.Local)
		if err != nil {
			return q, fmt.Errorf("invalid to date %q", s)
		}
		q.To = to.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return q, nil
}

// list handles GET /api/history.
func (h *HistoryHandler) list(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.app.History(r.Context(), q)
	if err != nil {
		h.log.Errorf("Failed to query history: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to query history")
		return
	}

	threshold := h.app.Thresholds().Confidence
	resp := pageResponse{
		Records:    make([]recordResponse, 0, len(page.Records)),
		Total:      page.Total,
		Page:       page.Page,
		TotalPages: page.TotalPages,
		PageSize:   page.PageSize,
	}
	for _, rec := range page.Records {
		resp.Records = append(resp.Records, toResponse(rec, threshold))
	}
	writeJSON(w, http.StatusOK, resp)
}

// get handles GET /api/history/{id}.
func (h *HistoryHandler) get(w http.ResponseWriter, r *http.Request, id int64) {
	rec, err := h.app.Record(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec, h.app.Thresholds().Confidence))
}

// clear handles DELETE /api/history?confirm=true.
func (h *HistoryHandler) clear(w http.ResponseWriter, r *http.Request) {
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	if err := h.app.ClearHistory(r.Context(), confirmed); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// analytics handles GET /api/analytics?window=all|7d|30d.
func (h *HistoryHandler) analytics(w http.ResponseWriter, r *http.Request) {
	window := history.Window(r.URL.Query().Get("window"))
	switch window {
	case "":
		window = history.WindowAll
	case history.WindowAll, history.WindowWeek, history.WindowMonth:
	default:
		writeError(w, http.StatusBadRequest, "window must be all, 7d or 30d")
		return
	}

	summary, err := h.app.Analytics(r.Context(), window)
	if err != nil {
		h.log.Errorf("Failed to aggregate history: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to aggregate history")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
