// Package datadir locates clawlink's per-user state: the config file, the
// transcript database and optional .env files.
package datadir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the data directory name under $HOME.
	DefaultDirName = ".clawlink"

	// EnvVar overrides the data directory.
	EnvVar = "CLAWLINK_DATA_DIR"

	// ConfigFileName is the default config file inside the root.
	ConfigFileName = "config.json"

	// TranscriptFileName is the transcript database inside DatabaseDir.
	TranscriptFileName = "transcripts.db"

	databaseSubdir = "data"
	logsSubdir     = "logs"
)

// DataDir resolves every path clawlink writes under its root.
type DataDir struct {
	root string
}

// New returns a DataDir without touching the filesystem.
//
// Resolution priority:
//  1. CLAWLINK_DATA_DIR
//  2. configValue (the config file's data_dir)
//  3. ~/.clawlink/
func New(configValue string) (*DataDir, error) {
	root, err := resolveRoot(configValue)
	if err != nil {
		return nil, err
	}
	return &DataDir{root: root}, nil
}

// Root returns the base directory.
func (d *DataDir) Root() string { return d.root }

// DatabaseDir returns {root}/data/.
func (d *DataDir) DatabaseDir() string { return filepath.Join(d.root, databaseSubdir) }

// LogsDir returns {root}/logs/.
func (d *DataDir) LogsDir() string { return filepath.Join(d.root, logsSubdir) }

// ConfigPath returns {root}/config.json.
func (d *DataDir) ConfigPath() string { return filepath.Join(d.root, ConfigFileName) }

// TranscriptPath returns {root}/data/transcripts.db.
func (d *DataDir) TranscriptPath() string {
	return filepath.Join(d.DatabaseDir(), TranscriptFileName)
}

// EnsureDirs creates the root and its subdirectories with 0700 permissions.
func (d *DataDir) EnsureDirs() error {
	for _, dir := range []string{d.root, d.DatabaseDir(), d.LogsDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DefaultConfigPath is the config location used when --config is not given.
func DefaultConfigPath() (string, error) {
	d, err := New("")
	if err != nil {
		return "", err
	}
	return d.ConfigPath(), nil
}

func resolveRoot(configValue string) (string, error) {
	dir := os.Getenv(EnvVar)
	if dir == "" {
		dir = configValue
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, DefaultDirName)
	}
	return dir, nil
}
