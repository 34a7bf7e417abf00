package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Detections table - one row per processed image or webcam tick.
		// detected_objects is a JSON list of {"class", "conf", "box", "track_id"}.
		`CREATE TABLE IF NOT EXISTS detections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			image_path TEXT,
			source_type TEXT NOT NULL CHECK(source_type IN ('file', 'webcam', 'webcam_tracked')),
			session_id TEXT NOT NULL DEFAULT '',
			processing_time_ms REAL NOT NULL DEFAULT 0,
			confidence_threshold REAL NOT NULL DEFAULT 0,
			iou_threshold REAL NOT NULL DEFAULT 0,
			detected_objects TEXT NOT NULL DEFAULT '[]'
		)`,

		// Settings table - stores application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_detections_timestamp ON detections(timestamp)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_detections_file_path ON detections(image_path) WHERE source_type = 'file'`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
