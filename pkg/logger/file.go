package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig describes the rotating log file
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// EnableFile attaches a rotating file sink to the default logger. The
// returned function closes the file.
func EnableFile(cfg FileConfig) (func() error, error) {
	if cfg.Path == "" {
		return func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	s := defaultSink()
	s.mu.Lock()
	s.file = w
	s.mu.Unlock()

	return func() error {
		s.mu.Lock()
		s.file = nil
		s.mu.Unlock()
		return w.Close()
	}, nil
}
