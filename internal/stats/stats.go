// Package stats projects the displayed detections of one frame into the
// per-class counts shown on the live stat cards.
package stats

import (
	"github.com/ayusman/plastisort/internal/detection"
)

// Snapshot is the live statistics view for the current frame or image.
type Snapshot struct {
	Classes          []string       `json:"classes"`
	Counts           map[string]int `json:"counts"`
	Percent          map[string]int `json:"percent"`
	TotalItems       int            `json:"total_items"`
	ProcessingTimeMs float64        `json:"processing_time_ms"`
	AvgConfidence    float64        `json:"avg_confidence"`
}

// Zero is the reset state: every target class present with a zero count.
func Zero(targets []string) Snapshot {
	s := Snapshot{
		Classes: append([]string(nil), targets...),
		Counts:  make(map[string]int, len(targets)),
		Percent: make(map[string]int, len(targets)),
	}
	for _, t := range targets {
		s.Counts[t] = 0
		s.Percent[t] = 0
	}
	return s
}

// Project counts filtered detections per target class. A detection lands in
// the first target its class contains, or in none. TotalItems counts every
// filtered detection, matched or not.
func Project(filtered []detection.Detection, processingTimeMs float64, targets []string) Snapshot {
	s := Zero(targets)
	s.ProcessingTimeMs = processingTimeMs
	s.TotalItems = len(filtered)

	var confSum float64
	for _, d := range filtered {
		confSum += d.Confidence
		if name, ok := detection.Normalize(d.Class, targets); ok {
			s.Counts[name]++
		}
	}
	if len(filtered) > 0 {
		s.AvgConfidence = confSum / float64(len(filtered))
	}

	denom := max(1, s.TotalItems)
	for _, t := range targets {
		s.Percent[t] = s.Counts[t] * 100 / denom
	}
	return s
}
