package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayusman/plastisort/internal/detection"
	"github.com/ayusman/plastisort/internal/history"
)

// timestampLayout sorts lexically in time order; all stored times are UTC.
const timestampLayout = "2006-01-02 15:04:05.000000"

const recordColumns = `id, timestamp, image_path, source_type, session_id, processing_time_ms,
	confidence_threshold, iou_threshold, detected_objects`

var _ history.Store = (*Store)(nil)

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one detections row. A row whose detected_objects payload
// cannot be decoded is returned with a non-nil decode error so callers can skip it.
func scanRecord(row rowScanner) (rec history.Record, decodeErr error, err error) {
	var (
		ts      string
		path    sql.NullString
		kind    string
		payload string
	)
	err = row.Scan(&rec.ID, &ts, &path, &kind, &rec.SessionID, &rec.ProcessingTimeMs,
		&rec.ConfidenceThreshold, &rec.IoUThreshold, &payload)
	if err != nil {
		return rec, nil, err
	}

	rec.SourcePath = path.String
	rec.SourceKind = history.SourceKind(kind)

	rec.Timestamp, decodeErr = time.ParseInLocation(timestampLayout, ts, time.UTC)
	if decodeErr != nil {
		return rec, fmt.Errorf("parse timestamp %q: %w", ts, decodeErr), nil
	}
	if err := json.Unmarshal([]byte(payload), &rec.Detections); err != nil {
		return rec, fmt.Errorf("parse detected_objects: %w", err), nil
	}
	return rec, nil, nil
}

// AppendOrReuse implements history.Store.
func (s *Store) AppendOrReuse(ctx context.Context, rec history.NewRecord) (history.Record, bool, error) {
	if err := history.Validate(rec); err != nil {
		return history.Record{}, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return history.Record{}, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var path sql.NullString
	if rec.SourcePath != "" {
		path = sql.NullString{String: rec.SourcePath, Valid: true}
	}

	if rec.SourceKind == history.SourceFile {
		path.String = history.NormalizePath(rec.SourcePath)
		existing, found, err := s.findByPath(ctx, tx, path.String)
		if err != nil {
			return history.Record{}, false, err
		}
		if found {
			return existing, true, nil
		}
	}

	dets := rec.Detections
	if dets == nil {
		dets = []detection.Detection{}
	}
	payload, err := json.Marshal(dets)
	if err != nil {
		return history.Record{}, false, fmt.Errorf("failed to encode detections: %w", err)
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	tsText := formatTimestamp(ts)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO detections (timestamp, image_path, source_type, session_id, processing_time_ms,
			confidence_threshold, iou_threshold, detected_objects)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tsText, path, string(rec.SourceKind), rec.SessionID, rec.ProcessingTimeMs,
		rec.ConfidenceThreshold, rec.IoUThreshold, string(payload),
	)
	if err != nil {
		return history.Record{}, false, fmt.Errorf("failed to insert detection record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return history.Record{}, false, fmt.Errorf("failed to read record id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return history.Record{}, false, fmt.Errorf("failed to commit detection record: %w", err)
	}

	stored, _ := time.ParseInLocation(timestampLayout, tsText, time.UTC)
	return history.Record{
		ID:                  id,
		Timestamp:           stored,
		SourcePath:          path.String,
		SourceKind:          rec.SourceKind,
		SessionID:           rec.SessionID,
		ProcessingTimeMs:    rec.ProcessingTimeMs,
		ConfidenceThreshold: rec.ConfidenceThreshold,
		IoUThreshold:        rec.IoUThreshold,
		Detections:          detection.Clone(dets),
	}, false, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// findByPath returns the file record stored for normalized. A stored record
// that cannot be decoded is deleted and reported as absent, so the image is
// inferred and recorded again.
func (s *Store) findByPath(ctx context.Context, q queryer, normalized string) (history.Record, bool, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM detections WHERE source_type = 'file' AND image_path = ?`,
		normalized,
	)
	rec, decodeErr, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return history.Record{}, false, nil
	}
	if err != nil {
		return history.Record{}, false, fmt.Errorf("failed to look up %s: %w", normalized, err)
	}
	if decodeErr != nil {
		s.log.Warnf("Discarding malformed history record %d for %s: %v", rec.ID, normalized, decodeErr)
		if _, err := q.ExecContext(ctx, `DELETE FROM detections WHERE id = ?`, rec.ID); err != nil {
			return history.Record{}, false, fmt.Errorf("failed to discard record %d: %w", rec.ID, err)
		}
		return history.Record{}, false, nil
	}
	return rec, true, nil
}

// FindByPath implements history.Store.
func (s *Store) FindByPath(ctx context.Context, path string) (history.Record, bool, error) {
	return s.findByPath(ctx, s.db, history.NormalizePath(path))
}

// Get implements history.Store.
func (s *Store) Get(ctx context.Context, id int64) (history.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM detections WHERE id = ?`, id)
	rec, decodeErr, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return history.Record{}, history.ErrNotFound
	}
	if err != nil {
		return history.Record{}, err
	}
	if decodeErr != nil {
		return history.Record{}, fmt.Errorf("record %d is malformed: %w", id, decodeErr)
	}
	return rec, nil
}

// list loads records in id order, restricted to [from, to] when set.
// Malformed rows are skipped with a warning.
func (s *Store) list(ctx context.Context, from, to time.Time) ([]history.Record, error) {
	var (
		where []string
		args  []any
	)
	if !from.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTimestamp(from))
	}
	if !to.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, formatTimestamp(to))
	}

	query := `SELECT ` + recordColumns + ` FROM detections`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	records := []history.Record{}
	for rows.Next() {
		rec, decodeErr, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if decodeErr != nil {
			s.log.Warnf("Skipping malformed history record %d: %v", rec.ID, decodeErr)
			continue
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Query implements history.Store.
func (s *Store) Query(ctx context.Context, q history.Query) (history.Page, error) {
	records, err := s.list(ctx, q.From, q.To)
	if err != nil {
		return history.Page{}, err
	}
	return history.Paginate(records, q), nil
}

// All implements history.Store.
func (s *Store) All(ctx context.Context) ([]history.Record, error) {
	return s.list(ctx, time.Time{}, time.Time{})
}

// Count implements history.Store. Malformed rows are not counted, matching
// what All and Query return.
func (s *Store) Count(ctx context.Context) (int, error) {
	records, err := s.list(ctx, time.Time{}, time.Time{})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Clear implements history.Store. AUTOINCREMENT keeps ids from being reused.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM detections`); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}
