package history

import (
	"sort"
	"time"

	"github.com/ayusman/plastisort/internal/detection"
)

// NoClass is reported as the most frequent class when nothing passes the threshold.
const NoClass = "N/A"

// UnknownClass buckets detections with an empty class label.
const UnknownClass = "Unknown"

// Window limits an aggregation to recent records.
type Window string

const (
	WindowAll   Window = "all"
	WindowWeek  Window = "7d"
	WindowMonth Window = "30d"
)

// Since returns the lower time bound of the window relative to now, zero for WindowAll.
func (w Window) Since(now time.Time) time.Time {
	switch w {
	case WindowWeek:
		return now.AddDate(0, 0, -7)
	case WindowMonth:
		return now.AddDate(0, 0, -30)
	}
	return time.Time{}
}

// ClassCount is one entry of the per-class distribution.
type ClassCount struct {
	Class string `json:"class"`
	Count int    `json:"count"`
}

// Summary is the analytics view over a set of records at one confidence threshold.
type Summary struct {
	Records             int            `json:"records"`
	TotalItems          int            `json:"total_items"`
	AvgProcessingTimeMs float64        `json:"avg_processing_time_ms"`
	AvgConfidence       float64        `json:"avg_confidence"`
	PerClass            map[string]int `json:"per_class_counts"`
	Distribution        []ClassCount   `json:"distribution"`
	MostFrequent        string         `json:"most_frequent_class"`
	MostFrequentCount   int            `json:"most_frequent_count"`
	Daily               map[string]int `json:"daily_counts"`
	Threshold           float64        `json:"confidence_threshold"`
}

// Aggregate re-filters every record at threshold and summarizes the result.
// Each detection lands in the first target class its label contains, otherwise
// in a bucket named after its raw label. Averages are zero when there is no data.
func Aggregate(records []Record, threshold float64, targets []string) Summary {
	s := Summary{
		Records:      len(records),
		PerClass:     make(map[string]int),
		Distribution: []ClassCount{},
		MostFrequent: NoClass,
		Daily:        make(map[string]int),
		Threshold:    threshold,
	}

	var totalProc, totalConf float64
	for _, r := range records {
		totalProc += r.ProcessingTimeMs
		filtered := detection.FilterForDisplay(r.Detections, threshold)
		s.TotalItems += len(filtered)
		s.Daily[r.Timestamp.Format("2006-01-02")] += len(filtered)

		for _, d := range filtered {
			totalConf += d.Confidence
			s.PerClass[bucket(d.Class, targets)]++
		}
	}

	if len(records) > 0 {
		s.AvgProcessingTimeMs = totalProc / float64(len(records))
	}
	if s.TotalItems > 0 {
		s.AvgConfidence = totalConf / float64(s.TotalItems)
	}

	for class, n := range s.PerClass {
		s.Distribution = append(s.Distribution, ClassCount{Class: class, Count: n})
	}
	sort.Slice(s.Distribution, func(i, j int) bool {
		if s.Distribution[i].Count != s.Distribution[j].Count {
			return s.Distribution[i].Count > s.Distribution[j].Count
		}
		return s.Distribution[i].Class < s.Distribution[j].Class
	})
	if len(s.Distribution) > 0 {
		s.MostFrequent = s.Distribution[0].Class
		s.MostFrequentCount = s.Distribution[0].Count
	}

	return s
}

func bucket(raw string, targets []string) string {
	if raw == "" {
		return UnknownClass
	}
	label, _ := detection.Normalize(raw, targets)
	return label
}
