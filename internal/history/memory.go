package history

import (
	"context"
	"sync"
	"time"

	"github.com/ayusman/plastisort/internal/detection"
)

// MemoryStore keeps records in process memory. Its contents are lost on exit.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	byPath  map[string]int
	nextID  int64
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byPath: make(map[string]int),
		nextID: 1,
		now:    time.Now,
	}
}

// AppendOrReuse implements Store.
func (m *MemoryStore) AppendOrReuse(ctx context.Context, rec NewRecord) (Record, bool, error) {
	if err := Validate(rec); err != nil {
		return Record{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path := rec.SourcePath
	if rec.SourceKind == SourceFile {
		path = NormalizePath(path)
		if idx, ok := m.byPath[path]; ok {
			return m.records[idx].Clone(), true, nil
		}
	}

	r := Record{
		ID:                  m.nextID,
		Timestamp:           rec.Timestamp,
		SourcePath:          path,
		SourceKind:          rec.SourceKind,
		SessionID:           rec.SessionID,
		ProcessingTimeMs:    rec.ProcessingTimeMs,
		ConfidenceThreshold: rec.ConfidenceThreshold,
		IoUThreshold:        rec.IoUThreshold,
		Detections:          detection.Clone(rec.Detections),
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = m.now()
	}
	m.nextID++

	m.records = append(m.records, r)
	if r.SourceKind == SourceFile {
		m.byPath[path] = len(m.records) - 1
	}

	return r.Clone(), false, nil
}

// FindByPath implements Store.
func (m *MemoryStore) FindByPath(ctx context.Context, path string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.byPath[NormalizePath(path)]
	if !ok {
		return Record{}, false, nil
	}
	return m.records[idx].Clone(), true, nil
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, id int64) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.records {
		if r.ID == id {
			return r.Clone(), nil
		}
	}
	return Record{}, ErrNotFound
}

// Query implements Store.
func (m *MemoryStore) Query(ctx context.Context, q Query) (Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Paginate(m.records, q), nil
}

// All implements Store.
func (m *MemoryStore) All(ctx context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, len(m.records))
	for i, r := range m.records {
		out[i] = r.Clone()
	}
	return out, nil
}

// Count implements Store.
func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = nil
	m.byPath = make(map[string]int)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}
