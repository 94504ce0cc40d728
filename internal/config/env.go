package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// envLookup resolves a variable from the process environment first and the
// .env overlay second. Blank values count as unset.
type envLookup func(key string) (string, bool)

// loadEnv reads the .env overlay without mutating the process environment.
// An explicit paths.env_file must exist; otherwise a .env next to the config
// file is used when present.
func loadEnv(explicit, configPath string) (envLookup, error) {
	var overlay map[string]string
	candidate := strings.TrimSpace(explicit)
	required := candidate != ""
	if !required && configPath != "" {
		candidate = filepath.Join(filepath.Dir(configPath), ".env")
	}
	if candidate != "" {
		expanded, err := expandPath(candidate)
		if err != nil {
			return nil, fmt.Errorf("paths.env_file: %w", err)
		}
		values, err := godotenv.Read(expanded)
		switch {
		case err == nil:
			overlay = values
		case errors.Is(err, fs.ErrNotExist) && !required:
		default:
			return nil, fmt.Errorf("read env file %q: %w", expanded, err)
		}
	}
	return func(key string) (string, bool) {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value, true
		}
		if value := strings.TrimSpace(overlay[key]); value != "" {
			return value, true
		}
		return "", false
	}, nil
}

func (lookup envLookup) first(keys ...string) (string, bool) {
	if lookup == nil {
		return "", false
	}
	for _, key := range keys {
		if value, ok := lookup(key); ok {
			return value, true
		}
	}
	return "", false
}
