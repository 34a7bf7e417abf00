// Package export writes the current detection view as a CSV report.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ayusman/plastisort/internal/annotate"
	"github.com/ayusman/plastisort/internal/config"
	"github.com/ayusman/plastisort/internal/stats"
)

// ErrNothingToExport is returned when the current view has no detections.
var ErrNothingToExport = errors.New("no detection data in the current view to export")

const noRowsLine = "No detailed object detections for the last view.\n\n"

// Filename suggests a file name for an export of source taken at now.
func Filename(source string, now time.Time) string {
	base := "last_view"
	if source != "" {
		base = strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	}
	return fmt.Sprintf("detection_export_%s_%s.csv", base, now.Format("20060102_150405"))
}

// WriteCSV writes the per-object rows followed by the summary of the view and
// the thresholds it was produced with. The track_id column is present only
// when the first row carries a track id.
func WriteCSV(w io.Writer, rows []annotate.ExportRow, snap stats.Snapshot, th config.Thresholds) error {
	if len(rows) == 0 && snap.TotalItems == 0 {
		return ErrNothingToExport
	}

	if len(rows) > 0 {
		tracked := rows[0].TrackID != nil
		header := []string{"image_source", "object_id"}
		if tracked {
			header = append(header, "track_id")
		}
		header = append(header, "class_name", "confidence", "x1", "y1", "x2", "y2")

		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for _, r := range rows {
			rec := []string{r.Source, strconv.Itoa(r.Index)}
			if tracked {
				id := ""
				if r.TrackID != nil {
					id = strconv.Itoa(*r.TrackID)
				}
				rec = append(rec, id)
			}
			rec = append(rec, r.Class, r.Confidence,
				strconv.Itoa(r.X1), strconv.Itoa(r.Y1), strconv.Itoa(r.X2), strconv.Itoa(r.Y2))
			if err := cw.Write(rec); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return fmt.Errorf("flush rows: %w", err)
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	} else if _, err := io.WriteString(w, noRowsLine); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("Summary Statistics (Current View):\n")
	for _, c := range snap.Classes {
		fmt.Fprintf(&b, "%s: %d\n", c, snap.Counts[c])
	}
	fmt.Fprintf(&b, "Total Items Detected: %d\n", snap.TotalItems)
	fmt.Fprintf(&b, "Processing Time: %.1fms\n", snap.ProcessingTimeMs)
	b.WriteString("\nDetection Parameters (Current View):\n")
	fmt.Fprintf(&b, "Confidence Threshold: %d%%\n", percent(th.Confidence))
	fmt.Fprintf(&b, "IoU Threshold: %d%%\n", percent(th.IoU))

	_, err := io.WriteString(w, b.String())
	return err
}

// percent truncates like the dashboard does; the epsilon keeps 0.29 at 29.
func percent(v float64) int {
	return int(v*100 + 1e-9)
}
