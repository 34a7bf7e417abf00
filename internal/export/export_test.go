package export

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/ayusman/plastisort/internal/annotate"
	"github.com/ayusman/plastisort/internal/config"
	"github.com/ayusman/plastisort/internal/detection"
	"github.com/ayusman/plastisort/internal/stats"
)

func TestWriteCSV_FileRows(t *testing.T) {
	dets := []detection.Detection{
		{Class: "PET", Confidence: 0.91, Box: detection.Box{X1: 1, Y1: 2, X2: 30, Y2: 40}},
		{Class: "PVC", Confidence: 0.55, Box: detection.Box{X1: 5, Y1: 6, X2: 70, Y2: 80}},
	}
	targets := []string{"PET", "PVC"}
	rows := annotate.Rows(dets, "bottle.jpg", targets)
	snap := stats.Project(dets, 41.34, targets)

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows, snap, config.Thresholds{Confidence: 0.29, IoU: 0.5}); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	want := "image_source,object_id,class_name,confidence,x1,y1,x2,y2\n" +
		"bottle.jpg,1,PET,0.91,1,2,30,40\n" +
		"bottle.jpg,2,PVC,0.55,5,6,70,80\n" +
		"\n" +
		"Summary Statistics (Current View):\n" +
		"PET: 1\n" +
		"PVC: 1\n" +
		"Total Items Detected: 2\n" +
		"Processing Time: 41.3ms\n" +
		"\n" +
		"Detection Parameters (Current View):\n" +
		"Confidence Threshold: 29%\n" +
		"IoU Threshold: 50%\n"
	if got := buf.String(); got != want {
		t.Errorf("WriteCSV() =\n%s\nwant\n%s", got, want)
	}
}

func TestWriteCSV_TrackedRows(t *testing.T) {
	id := 7
	rows := []annotate.ExportRow{{Source: "webcam_tracked_frame", Index: 1, Class: "HDPE", Confidence: "0.80", X2: 10, Y2: 10, TrackID: &id}}
	snap := stats.Zero([]string{"HDPE"})
	snap.Counts["HDPE"] = 1
	snap.TotalItems = 1

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows, snap, config.DefaultThresholds()); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	wantPrefix := "image_source,object_id,track_id,class_name,confidence,x1,y1,x2,y2\n" +
		"webcam_tracked_frame,1,7,HDPE,0.80,0,0,10,10\n"
	if got := buf.String(); len(got) < len(wantPrefix) || got[:len(wantPrefix)] != wantPrefix {
		t.Errorf("WriteCSV() =\n%s\nwant prefix\n%s", got, wantPrefix)
	}
}

func TestWriteCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, nil, stats.Zero(detection.Plastics), config.DefaultThresholds())
	if !errors.Is(err, ErrNothingToExport) {
		t.Errorf("WriteCSV() error = %v, want ErrNothingToExport", err)
	}
	if buf.Len() != 0 {
		t.Errorf("wrote %q for an empty view", buf.String())
	}
}

func TestFilename(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)

	tests := []struct {
		source string
		want   string
	}{
		{"/photos/bottle.jpg", "detection_export_bottle_20240309_140506.csv"},
		{"webcam_capture", "detection_export_webcam_capture_20240309_140506.csv"},
		{"", "detection_export_last_view_20240309_140506.csv"},
	}
	for _, tt := range tests {
		if got := Filename(tt.source, now); got != tt.want {
			t.Errorf("Filename(%q) = %q, want %q", tt.source, got, tt.want)
		}
	}
}
