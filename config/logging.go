package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const logFilePrefix = "photobooth_"

// SetupLogging tees the standard logger into a daily log file
// (log/photobooth_YYYYMMDD.log) and purges files older than keepDays.
// Returns the open file so main can close it on shutdown.
func SetupLogging(paths Paths, keepDays int) (*os.File, error) {
	if err := os.MkdirAll(paths.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	name := fmt.Sprintf("%s%s.log", logFilePrefix, time.Now().Format("20060102"))
	f, err := os.OpenFile(filepath.Join(paths.LogDir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	log.SetOutput(io.MultiWriter(os.Stdout, f))

	purgeOldLogs(paths.LogDir, keepDays)

	return f, nil
}

func purgeOldLogs(dir string, keepDays int) {
	if keepDays <= 0 {
		keepDays = 7
	}
	cutoff := time.Now().AddDate(0, 0, -keepDays)

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Printf("config: cannot list log directory: %v", err)
		return
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), logFilePrefix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(e.Name(), logFilePrefix), ".log")
		t, err := time.Parse("20060102", stamp)
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				log.Printf("config: failed to purge old log %s: %v", e.Name(), err)
			}
		}
	}
}
