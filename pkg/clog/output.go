package clog

import (
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

type RotationConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Output returns stderr, or stderr tee'd into a size-rotated file when
// cfg.Filename is set. The returned closer must be called on shutdown.
func Output(cfg RotationConfig) (io.Writer, io.Closer) {
	if cfg.Filename == "" {
		return os.Stderr, nopCloser{}
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return io.MultiWriter(os.Stderr, rotator), rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
