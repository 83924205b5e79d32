package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Load reads the canonical config file. A missing file is not an error: the
// defaults are persisted and returned. A file that fails to parse or to
// validate is left untouched on disk and the defaults are used for this run.
func Load(paths Paths) (AppConfig, error) {
	cfgFile := filepath.Join(paths.ConfigDir, ConfigFilename)

	data, err := os.ReadFile(cfgFile)
	if os.IsNotExist(err) {
		log.Printf("config: no %s found, writing defaults", ConfigFilename)
		cfg := Default()
		if err := Persist(paths, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to persist default config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return Default(), fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Printf("config: cannot parse %s, using defaults: %v", cfgFile, err)
		return Default(), nil
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("config: %s invalid, using defaults: %v", cfgFile, err)
		return Default(), nil
	}

	return cfg, nil
}

// Persist writes the config atomically and rotates a timestamped backup of
// the previous file, keeping the configured number of backups.
func Persist(paths Paths, cfg *AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(paths.ConfigDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgFile := filepath.Join(paths.ConfigDir, ConfigFilename)

	// rotate current file away before replacing it
	if _, err := os.Stat(cfgFile); err == nil {
		backup := fmt.Sprintf("%s_backup-%s", cfgFile, time.Now().Format("20060102-150405"))
		if err := os.Rename(cfgFile, backup); err != nil {
			log.Printf("config: could not create backup %s: %v", backup, err)
		}
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp := cfgFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, cfgFile); err != nil {
		return fmt.Errorf("failed to move config into place: %w", err)
	}

	pruneBackups(paths.ConfigDir, cfg.Collection.KeepConfigBackups)

	return nil
}

func pruneBackups(dir string, keep int) {
	if keep <= 0 {
		keep = 10
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Printf("config: cannot list %s for backup pruning: %v", dir, err)
		return
	}

	var backups []string
	for _, e := range entries {
		if !e.IsDir() && strings.Contains(e.Name(), "_backup-") {
			backups = append(backups, e.Name())
		}
	}

	// backup names embed the timestamp, so lexicographic order is age order
	sort.Strings(backups)

	for len(backups) > keep {
		victim := filepath.Join(dir, backups[0])
		if err := os.Remove(victim); err != nil {
			log.Printf("config: failed to prune backup %s: %v", victim, err)
		}
		backups = backups[1:]
	}
}
