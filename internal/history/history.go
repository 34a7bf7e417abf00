// Package history provides the detection history store: one immutable record per
// processed image or webcam tick, with query, pagination and aggregation over them.
package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ayusman/plastisort/internal/detection"
)

// DefaultPageSize is the number of records per history page.
const DefaultPageSize = 16

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SourceKind identifies where a record's frame came from.
type SourceKind string

const (
	// SourceFile is an image file processed once and reused afterwards.
	SourceFile SourceKind = "file"
	// SourceWebcam is an untracked webcam tick.
	SourceWebcam SourceKind = "webcam"
	// SourceWebcamTracked holds the identities first bound during a tracked webcam tick.
	SourceWebcamTracked SourceKind = "webcam_tracked"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceFile, SourceWebcam, SourceWebcamTracked:
		return true
	}
	return false
}

// Record is one processed unit of work. Detections are stored at the floor
// confidence so the record can be re-filtered at any later threshold.
type Record struct {
	ID                  int64
	Timestamp           time.Time
	SourcePath          string
	SourceKind          SourceKind
	SessionID           string
	ProcessingTimeMs    float64
	ConfidenceThreshold float64
	IoUThreshold        float64
	Detections          []detection.Detection
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	r.Detections = detection.Clone(r.Detections)
	return r
}

// NewRecord describes a record to append. The store assigns ID and, when zero, Timestamp.
type NewRecord struct {
	Timestamp           time.Time
	SourcePath          string
	SourceKind          SourceKind
	SessionID           string
	ProcessingTimeMs    float64
	ConfidenceThreshold float64
	IoUThreshold        float64
	Detections          []detection.Detection
}

// Query selects a page of records. Zero From/To leave the range unbounded.
type Query struct {
	From     time.Time
	To       time.Time
	Search   string
	Class    string
	Page     int
	PageSize int
}

// Page is one page of query results, newest first.
type Page struct {
	Records    []Record
	Total      int
	Page       int
	TotalPages int
	PageSize   int
}

// Store is implemented by every history backend. The in-memory backend loses its
// contents when the process exits, the sqlite backend survives restarts.
type Store interface {
	// AppendOrReuse stores a new record. For file sources an existing record with
	// the same normalized path is returned instead, with reused=true.
	AppendOrReuse(ctx context.Context, rec NewRecord) (stored Record, reused bool, err error)
	FindByPath(ctx context.Context, path string) (Record, bool, error)
	Get(ctx context.Context, id int64) (Record, error)
	Query(ctx context.Context, q Query) (Page, error)
	// All returns every record, oldest first.
	All(ctx context.Context) ([]Record, error)
	Count(ctx context.Context) (int, error)
	// Clear irreversibly removes all records. IDs are not reused afterwards.
	Clear(ctx context.Context) error
	Close() error
}

// NormalizePath returns the absolute, cleaned form of a file path used as the
// identity of file records.
func NormalizePath(path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// Validate checks a record before it is stored.
func Validate(rec NewRecord) error {
	if !rec.SourceKind.Valid() {
		return fmt.Errorf("invalid source kind %q", rec.SourceKind)
	}
	if rec.SourceKind == SourceFile && rec.SourcePath == "" {
		return errors.New("file record requires a source path")
	}
	return nil
}
