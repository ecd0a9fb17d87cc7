package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// EnvLoader locates and loads a .env file, searching upward from the
// working directory until one is found or the filesystem root is reached.
type EnvLoader struct {
	loaded bool
	path   string
}

// NewEnvLoader creates a new EnvLoader.
func NewEnvLoader() *EnvLoader {
	return &EnvLoader{}
}

// Load finds and loads the nearest .env file, if any.
func (e *EnvLoader) Load() error {
	path, err := findEnvFile()
	if err != nil {
		return nil // absence of a .env file is not an error
	}
	if err := godotenv.Load(path); err != nil {
		return err
	}
	e.path = path
	e.loaded = true
	return nil
}

// Path returns the path of the loaded .env file, if any.
func (e *EnvLoader) Path() string {
	return e.path
}

// Loaded reports whether a .env file was found and loaded.
func (e *EnvLoader) Loaded() bool {
	return e.loaded
}

// findEnvFile walks upward from the current directory looking for a .env file.
func findEnvFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, ".env")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", os.ErrNotExist
}
