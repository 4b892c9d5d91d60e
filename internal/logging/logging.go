// Package logging wraps stdlib log.Logger construction for the core's
// append-only log files: log.New(file, "", log.LstdFlags) over a file
// opened O_CREATE|O_APPEND|O_WRONLY.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// Open opens (creating parent directories as needed) an append-only log
// file and wraps it in a standard logger with date/time prefixes.
func Open(path string) (*log.Logger, *os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	return log.New(f, "", log.LstdFlags), f, nil
}

// MustOpen is like Open but panics on failure.
func MustOpen(path string) (*log.Logger, *os.File) {
	logger, f, err := Open(path)
	if err != nil {
		panic(err)
	}
	return logger, f
}
