// Package log provides the process wide structured logger.
//
// Call sites log through Global with fields attached:
//
//	log.Global.WithField("height", h).Info("New block template")
package log

import (
	"io"
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
)

const (
	defaultLogMaxSize    = 100 // megabytes
	defaultLogMaxBackups = 3
	defaultLogMaxAge     = 28 // days
)

type Fields = logrus.Fields

// Global is replaced by ConfigureGlobal during startup. Until then it logs
// to stdout at info level.
var Global = New("", "info")

// New builds a logger writing to stdout and, when path is not empty, to a
// size rotated file at path.
func New(path string, level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "01-02|15:04:05.000",
	})

	var out io.Writer = os.Stdout
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			logger.WithField("err", err).Warn("Unable to create log directory, logging to stdout only")
		} else {
			out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
				Filename:   path,
				MaxSize:    defaultLogMaxSize,
				MaxBackups: defaultLogMaxBackups,
				MaxAge:     defaultLogMaxAge,
				Compress:   true,
			})
		}
	}
	logger.SetOutput(out)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.WithField("level", level).Warn("Unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// ConfigureGlobal swaps the global logger. It is not safe to call once
// request handling has started.
func ConfigureGlobal(path string, level string) {
	Global = New(path, level)
}
