// Package config loads process configuration from the environment and holds
// the user-adjustable detection thresholds.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ayusman/plastisort/internal/detection"
	"github.com/ayusman/plastisort/internal/history"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// DefaultTickInterval is the webcam polling period.
const DefaultTickInterval = 30 * time.Millisecond

// Config holds process-level settings.
type Config struct {
	Addr          string
	DataDir       string
	Backend       string
	ModelPath     string
	ClassesPath   string
	CameraID      int
	Tracking      bool
	TickInterval  time.Duration
	PageSize      int
	StatCardLimit int
	Thresholds    Thresholds
	StaticDir     string
}

// DBPath returns the sqlite database location inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "plastisort.db")
}

// Load reads an optional .env file and then the PLASTISORT_* environment variables.
func Load() *Config {
	// a missing .env is normal
	_ = godotenv.Load()

	thresholds := DefaultThresholds()
	if err := thresholds.SetConfidence(getEnvAsFloat("PLASTISORT_CONFIDENCE", thresholds.Confidence)); err != nil {
		thresholds = DefaultThresholds()
	}
	if err := thresholds.SetIoU(getEnvAsFloat("PLASTISORT_IOU", thresholds.IoU)); err != nil {
		thresholds.IoU = DefaultThresholds().IoU
	}

	return &Config{
		Addr:          getEnv("PLASTISORT_ADDR", "127.0.0.1:8080"),
		DataDir:       getEnv("PLASTISORT_DATA_DIR", defaultDataDir()),
		Backend:       strings.ToLower(getEnv("PLASTISORT_BACKEND", BackendSQLite)),
		ModelPath:     getEnv("PLASTISORT_MODEL", filepath.Join(".", "models", "plastics.onnx")),
		ClassesPath:   getEnv("PLASTISORT_CLASSES", ""),
		CameraID:      getEnvAsInt("PLASTISORT_CAMERA", 0),
		Tracking:      getEnvAsBool("PLASTISORT_TRACKING", true),
		TickInterval:  time.Duration(getEnvAsInt("PLASTISORT_TICK_MS", int(DefaultTickInterval/time.Millisecond))) * time.Millisecond,
		PageSize:      getEnvAsInt("PLASTISORT_PAGE_SIZE", history.DefaultPageSize),
		StatCardLimit: getEnvAsInt("PLASTISORT_STAT_CARDS", detection.DefaultStatCardLimit),
		Thresholds:    thresholds,
		StaticDir:     getEnv("PLASTISORT_WEB_DIR", ""),
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".plastisort"
	}
	return filepath.Join(home, ".plastisort")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
