package logger

import (
	"gopkg.in/natefinch/lumberjack.v2"
)

const defaultLogFile = "busclient.log"

// rotatingFile returns a size-rotated log file for cfg. Rotated files are
// gzipped and named with local timestamps.
func rotatingFile(cfg Config) *lumberjack.Logger {
	path := cfg.FilePath
	if path == "" {
		path = defaultLogFile
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxFiles,
		LocalTime:  true,
		Compress:   true,
	}
}
