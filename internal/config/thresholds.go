package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Default detection thresholds.
const (
	DefaultConfidence = 0.50
	DefaultIoU        = 0.50
)

var (
	// ErrThresholdOutOfRange is returned for threshold values outside [0,1].
	ErrThresholdOutOfRange = errors.New("threshold must be between 0 and 1")
	// ErrInvalidThreshold is returned for threshold input that is not a number.
	ErrInvalidThreshold = errors.New("threshold is not a number")
)

// Thresholds is the confidence and IoU configuration applied to inference and display.
type Thresholds struct {
	Confidence float64 `json:"confidence"`
	IoU        float64 `json:"iou"`
}

// DefaultThresholds returns the startup thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Confidence: DefaultConfidence, IoU: DefaultIoU}
}

func checkRange(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: %v", ErrThresholdOutOfRange, v)
	}
	return nil
}

// SetConfidence updates the confidence threshold. Invalid values leave it unchanged.
func (t *Thresholds) SetConfidence(v float64) error {
	if err := checkRange(v); err != nil {
		return err
	}
	t.Confidence = v
	return nil
}

// SetIoU updates the IoU threshold. Invalid values leave it unchanged.
func (t *Thresholds) SetIoU(v float64) error {
	if err := checkRange(v); err != nil {
		return err
	}
	t.IoU = v
	return nil
}

// ParseThreshold parses user input such as "0.45". A trailing "%" is read as a percentage.
func ParseThreshold(s string) (float64, error) {
	s = strings.TrimSpace(s)
	scale := 1.0
	if strings.HasSuffix(s, "%") {
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
		scale = 100
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidThreshold, s)
	}
	v /= scale
	if err := checkRange(v); err != nil {
		return 0, err
	}
	return v, nil
}
