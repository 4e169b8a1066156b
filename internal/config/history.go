package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

const backupLayout = "2006-01-02_15-04-05"

var (
	ErrNoBackup = errors.New("no usable config backup")

	backupName = regexp.MustCompile(`^history_(\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2})_config\.yaml$`)
)

// BackupDir is the history directory that sits next to the config file.
func BackupDir(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "backup")
}

// Backup copies the config file at path into its history directory.
func Backup(path string, now time.Time) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read config for backup: %w", err)
	}
	dir := BackupDir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, fmt.Sprintf("history_%s_config.yaml", now.Format(backupLayout)))
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return dst, nil
}

// LatestBackup scans dir newest first and returns the first backup that
// decodes and validates once env overrides and defaults are applied. The
// returned config is as stored; Read applies those layers itself.
func LatestBackup(dir string) (*Config, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrNoBackup, err)
	}

	type candidate struct {
		name string
		at   time.Time
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := backupName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		at, err := time.Parse(backupLayout, m[1])
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{name: e.Name(), at: at})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].at.After(candidates[j].at)
	})

	for _, c := range candidates {
		path := filepath.Join(dir, c.name)
		cfg, err := readFile(path)
		if err != nil {
			continue
		}
		check := *cfg
		check.applyEnv()
		check.applyDefaults()
		if err := check.Validate(); err != nil {
			continue
		}
		return cfg, path, nil
	}
	return nil, "", ErrNoBackup
}
