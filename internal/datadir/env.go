package datadir

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvFileEnvVar names a single .env file to load instead of the defaults.
const EnvFileEnvVar = "CLAWLINK_ENV_FILE"

// LoadEnv loads KEY=VALUE files into the environment. The first file to set
// a key wins and variables already in the environment are never replaced.
//
// Search order, unless CLAWLINK_ENV_FILE is set:
//  1. {dataRoot}/.env
//  2. ./.env
func LoadEnv(dataRoot string) error {
	seen := make(map[string]bool)
	for _, p := range envPaths(dataRoot) {
		if err := loadEnvFile(p, seen); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func envPaths(dataRoot string) []string {
	if override := os.Getenv(EnvFileEnvVar); override != "" {
		return []string{override}
	}

	var paths []string
	if dataRoot != "" {
		paths = append(paths, filepath.Join(dataRoot, ".env"))
	}
	if cwd, err := os.Getwd(); err == nil {
		local := filepath.Join(cwd, ".env")
		if len(paths) == 0 || filepath.Clean(paths[0]) != filepath.Clean(local) {
			paths = append(paths, local)
		}
	}
	return paths
}

// loadEnvFile applies one file; a missing file is not an error
func loadEnvFile(path string, seen map[string]bool) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := ParseEnvLine(scanner.Text())
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		os.Setenv(key, value)
	}
	return scanner.Err()
}

// ParseEnvLine splits a KEY=VALUE line, trimming an optional "export " prefix
// and matching quotes. Blank lines and # comments report ok=false.
func ParseEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")
	key, value, ok = strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" {
		return "", "", false
	}
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return key, value, true
}
