package history

import (
	"testing"
	"time"

	"github.com/ayusman/plastisort/internal/detection"
)

func TestPageCount(t *testing.T) {
	tests := []struct {
		total, size, want int
	}{
		{0, 16, 1},
		{1, 16, 1},
		{16, 16, 1},
		{17, 16, 2},
		{33, 16, 3},
		{5, 0, 1},
	}
	for _, tt := range tests {
		if got := PageCount(tt.total, tt.size); got != tt.want {
			t.Errorf("PageCount(%d, %d) = %d, want %d", tt.total, tt.size, got, tt.want)
		}
	}
}

func TestAggregate_Empty(t *testing.T) {
	s := Aggregate(nil, 0.5, detection.Plastics)

	if s.TotalItems != 0 || s.Records != 0 {
		t.Errorf("totals = %d items / %d records, want 0/0", s.TotalItems, s.Records)
	}
	if s.AvgConfidence != 0 || s.AvgProcessingTimeMs != 0 {
		t.Errorf("averages = %v / %v, want 0", s.AvgConfidence, s.AvgProcessingTimeMs)
	}
	if len(s.PerClass) != 0 {
		t.Errorf("PerClass = %v, want empty", s.PerClass)
	}
	if s.MostFrequent != "N/A" {
		t.Errorf("MostFrequent = %q, want N/A", s.MostFrequent)
	}
}

func TestAggregate_BucketsAndMostFrequent(t *testing.T) {
	day := time.Date(2025, 5, 4, 10, 0, 0, 0, time.UTC)
	records := []Record{
		{ID: 1, Timestamp: day, ProcessingTimeMs: 10, Detections: []detection.Detection{
			{Class: "pet_bottle", Confidence: 0.8},
			{Class: "glass", Confidence: 0.7},
			{Class: "", Confidence: 0.9},
		}},
		{ID: 2, Timestamp: day.AddDate(0, 0, 1), ProcessingTimeMs: 20, Detections: []detection.Detection{
			{Class: "PET", Confidence: 0.6},
			{Class: "glass", Confidence: 0.2},
		}},
	}

	s := Aggregate(records, 0.5, detection.Plastics)

	want := map[string]int{"PET": 2, "glass": 1, "Unknown": 1}
	for class, n := range want {
		if s.PerClass[class] != n {
			t.Errorf("PerClass[%q] = %d, want %d", class, s.PerClass[class], n)
		}
	}
	if s.MostFrequent != "PET" || s.MostFrequentCount != 2 {
		t.Errorf("MostFrequent = %q (%d), want PET (2)", s.MostFrequent, s.MostFrequentCount)
	}
	if s.AvgProcessingTimeMs != 15 {
		t.Errorf("AvgProcessingTimeMs = %v, want 15", s.AvgProcessingTimeMs)
	}
	if s.Daily["2025-05-04"] != 3 || s.Daily["2025-05-05"] != 1 {
		t.Errorf("Daily = %v", s.Daily)
	}
}

func TestWindow_Since(t *testing.T) {
	now := time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC)
	if got := WindowAll.Since(now); !got.IsZero() {
		t.Errorf("WindowAll.Since() = %v, want zero", got)
	}
	if got := WindowWeek.Since(now); !got.Equal(now.AddDate(0, 0, -7)) {
		t.Errorf("WindowWeek.Since() = %v", got)
	}
}

func TestQuery_MatchesSearchOnPathOrClass(t *testing.T) {
	r := Record{SourcePath: "/data/Beach/IMG_01.jpg", Detections: []detection.Detection{{Class: "LDPE bag"}}}

	tests := []struct {
		name string
		q    Query
		want bool
	}{
		{name: "empty query", q: Query{}, want: true},
		{name: "path match", q: Query{Search: "beach"}, want: true},
		{name: "class match", q: Query{Search: "bag"}, want: true},
		{name: "no match", q: Query{Search: "bottle"}, want: false},
		{name: "class filter", q: Query{Class: "LDPE"}, want: true},
		{name: "class filter miss", q: Query{Class: "PVC"}, want: false},
		{name: "class filter is case-insensitive", q: Query{Class: "ldpe"}, want: true},
		{name: "class filter matches raw label containing class", q: Query{Class: "bag"}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Matches(r); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
