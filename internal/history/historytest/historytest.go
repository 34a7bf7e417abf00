// Package historytest holds behavior tests shared by every history.Store backend.
package historytest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ayusman/plastisort/internal/detection"
	"github.com/ayusman/plastisort/internal/history"
)

// Factory opens a fresh, empty store for one subtest.
type Factory func(t *testing.T) history.Store

// Run exercises the Store contract against the backend produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("AppendOrReuseSamePath", func(t *testing.T) { testAppendOrReuse(t, newStore(t)) })
	t.Run("WebcamAlwaysAppends", func(t *testing.T) { testWebcamAppends(t, newStore(t)) })
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, newStore(t)) })
	t.Run("QueryEmpty", func(t *testing.T) { testQueryEmpty(t, newStore(t)) })
	t.Run("QueryFiltersAndOrder", func(t *testing.T) { testQueryFilters(t, newStore(t)) })
	t.Run("QueryPaging", func(t *testing.T) { testQueryPaging(t, newStore(t)) })
	t.Run("AggregateScenario", func(t *testing.T) { testAggregateScenario(t, newStore(t)) })
	t.Run("ClearThenAggregate", func(t *testing.T) { testClear(t, newStore(t)) })
	t.Run("ConcurrentAppendAndRead", func(t *testing.T) { testConcurrent(t, newStore(t)) })
}

// Detections builds a detection list from alternating class/confidence pairs.
func Detections(pairs ...any) []detection.Detection {
	var out []detection.Detection
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, detection.Detection{
			Class:      pairs[i].(string),
			Confidence: pairs[i+1].(float64),
			Box:        detection.Box{X1: 10 * i, Y1: 10, X2: 10*i + 20, Y2: 40},
		})
	}
	return out
}

func testAppendOrReuse(t *testing.T, s history.Store) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "bottle.jpg")

	first, reused, err := s.AppendOrReuse(ctx, history.NewRecord{
		SourcePath:       path,
		SourceKind:       history.SourceFile,
		ProcessingTimeMs: 12.5,
		Detections:       Detections("PET", 0.9, "HDPE", 0.3),
	})
	require.NoError(t, err)
	require.False(t, reused)

	// a different spelling of the same file
	second, reused, err := s.AppendOrReuse(ctx, history.NewRecord{
		SourcePath: filepath.Join(dir, ".", "sub", "..", "bottle.jpg"),
		SourceKind: history.SourceFile,
		Detections: Detections("PVC", 0.8),
	})
	require.NoError(t, err)
	require.True(t, reused)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.Detections, second.Detections)
	require.Equal(t, 12.5, second.ProcessingTimeMs)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	found, ok, err := s.FindByPath(ctx, path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first.ID, found.ID)
}

func testWebcamAppends(t *testing.T, s history.Store) {
	ctx := context.Background()
	var ids []int64
	for i := 0; i < 3; i++ {
		r, reused, err := s.AppendOrReuse(ctx, history.NewRecord{
			SourceKind: history.SourceWebcamTracked,
			SessionID:  "session-1",
			Detections: Detections("PET", 0.7),
		})
		require.NoError(t, err)
		require.False(t, reused)
		ids = append(ids, r.ID)
	}
	require.Len(t, ids, 3)
	require.Less(t, ids[0], ids[1])
	require.Less(t, ids[1], ids[2])

	_, _, err := s.AppendOrReuse(ctx, history.NewRecord{SourceKind: "video"})
	require.Error(t, err)
}

func testGetNotFound(t *testing.T, s history.Store) {
	_, err := s.Get(context.Background(), 999)
	require.ErrorIs(t, err, history.ErrNotFound)
}

func testQueryEmpty(t *testing.T, s history.Store) {
	page, err := s.Query(context.Background(), history.Query{Search: "nothing", Page: 3})
	require.NoError(t, err)
	require.Empty(t, page.Records)
	require.Equal(t, 0, page.Total)
	require.Equal(t, 1, page.TotalPages)
	require.Equal(t, 1, page.Page)
}

func testQueryFilters(t *testing.T, s history.Store) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()

	add := func(name string, offset time.Duration, dets []detection.Detection) history.Record {
		kind := history.SourceWebcam
		path := ""
		if name != "" {
			kind = history.SourceFile
			path = filepath.Join(dir, name)
		}
		r, _, err := s.AppendOrReuse(ctx, history.NewRecord{
			Timestamp:  base.Add(offset),
			SourcePath: path,
			SourceKind: kind,
			Detections: dets,
		})
		require.NoError(t, err)
		return r
	}

	a := add("kitchen_bottle.jpg", 0, Detections("PET", 0.9))
	b := add("yard.jpg", time.Hour, Detections("pvc_pipe", 0.6, "PET", 0.2))
	c := add("", 2*time.Hour, Detections("HDPE", 0.5))

	page, err := s.Query(ctx, history.Query{})
	require.NoError(t, err)
	require.Equal(t, []int64{c.ID, b.ID, a.ID}, ids(page.Records))

	page, err = s.Query(ctx, history.Query{Search: "BOTTLE"})
	require.NoError(t, err)
	require.Equal(t, []int64{a.ID}, ids(page.Records))

	page, err = s.Query(ctx, history.Query{Search: "pvc"})
	require.NoError(t, err)
	require.Equal(t, []int64{b.ID}, ids(page.Records))

	page, err = s.Query(ctx, history.Query{Class: "PET"})
	require.NoError(t, err)
	require.Equal(t, []int64{b.ID, a.ID}, ids(page.Records))

	page, err = s.Query(ctx, history.Query{From: base.Add(30 * time.Minute), To: base.Add(90 * time.Minute)})
	require.NoError(t, err)
	require.Equal(t, []int64{b.ID}, ids(page.Records))
	require.Equal(t, 1, page.Total)
}

func testQueryPaging(t *testing.T, s history.Store) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, _, err := s.AppendOrReuse(ctx, history.NewRecord{
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			SourceKind: history.SourceWebcam,
			Detections: Detections(fmt.Sprintf("PET-%d", i), 0.8),
		})
		require.NoError(t, err)
	}

	page, err := s.Query(ctx, history.Query{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, 5, page.Total)
	require.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Records, 2)
	require.Equal(t, "PET-2", page.Records[0].Detections[0].Class)

	page, err = s.Query(ctx, history.Query{Page: 10, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, 3, page.Page)
	require.Len(t, page.Records, 1)
	require.Equal(t, "PET-0", page.Records[0].Detections[0].Class)
}

func testAggregateScenario(t *testing.T, s history.Store) {
	ctx := context.Background()
	for _, dets := range [][]detection.Detection{
		Detections("PET", 0.9, "HDPE", 0.3),
		Detections("PVC", 0.6),
		nil,
	} {
		_, _, err := s.AppendOrReuse(ctx, history.NewRecord{SourceKind: history.SourceWebcam, ProcessingTimeMs: 30, Detections: dets})
		require.NoError(t, err)
	}

	records, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)

	sum := history.Aggregate(records, 0.5, detection.Plastics)
	require.Equal(t, map[string]int{"PET": 1, "PVC": 1}, sum.PerClass)
	require.Equal(t, 2, sum.TotalItems)
	require.Equal(t, 3, sum.Records)
	require.InDelta(t, 30, sum.AvgProcessingTimeMs, 1e-9)
	require.InDelta(t, 0.75, sum.AvgConfidence, 1e-9)
}

func testClear(t *testing.T, s history.Store) {
	ctx := context.Background()
	first, _, err := s.AppendOrReuse(ctx, history.NewRecord{SourceKind: history.SourceWebcam, Detections: Detections("PET", 0.9)})
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx))

	records, err := s.All(ctx)
	require.NoError(t, err)
	require.Empty(t, records)

	sum := history.Aggregate(records, 0.5, detection.Plastics)
	require.Equal(t, 0, sum.TotalItems)
	require.Equal(t, 0, sum.Records)
	require.Zero(t, sum.AvgConfidence)
	require.Zero(t, sum.AvgProcessingTimeMs)
	require.Empty(t, sum.PerClass)
	require.Equal(t, history.NoClass, sum.MostFrequent)

	next, _, err := s.AppendOrReuse(ctx, history.NewRecord{SourceKind: history.SourceWebcam})
	require.NoError(t, err)
	require.Greater(t, next.ID, first.ID)
}

func testConcurrent(t *testing.T, s history.Store) {
	ctx := context.Background()
	const writes = 50

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < writes; i++ {
			_, _, err := s.AppendOrReuse(ctx, history.NewRecord{
				SourceKind: history.SourceWebcamTracked,
				Detections: Detections("PET", 0.9, "PP", 0.8),
			})
			if err != nil {
				t.Errorf("AppendOrReuse() error = %v", err)
				return
			}
		}
	}()

	for i := 0; i < writes; i++ {
		records, err := s.All(ctx)
		require.NoError(t, err)
		for _, r := range records {
			require.Len(t, r.Detections, 2, "torn record %d", r.ID)
		}
		_, err = s.Query(ctx, history.Query{Class: "PP"})
		require.NoError(t, err)
	}
	wg.Wait()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, writes, n)
}

func ids(records []history.Record) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
