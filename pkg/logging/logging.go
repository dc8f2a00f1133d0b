// Package logging configures the logrus logger used across tractparc.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/natefinch/lumberjack"
	log "github.com/sirupsen/logrus"
)

// Options controls where and how much is logged
type Options struct {
	// Level is a logrus level name such as "debug" or "info"
	Level string

	// File, when set, receives log output through a rotating writer
	File string

	// MaxSize is the size in megabytes before rotation
	MaxSize int

	// MaxAge is the number of days rotated files are kept
	MaxAge int
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup applies opts to the standard logrus logger. The returned closer
// flushes and closes the log file, if one was opened.
func Setup(opts Options) (io.Closer, error) {
	level := log.InfoLevel
	if opts.Level != "" {
		l, err := log.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = l
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if opts.File == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}

	l := &lumberjack.Logger{
		Filename: opts.File,
		MaxSize:  opts.MaxSize, // megabytes
		MaxAge:   opts.MaxAge,  // days
	}
	log.SetOutput(l)
	log.WithFields(log.Fields{
		"file":    opts.File,
		"maxSize": opts.MaxSize,
		"maxAge":  opts.MaxAge,
	}).Debug("Sending log messages to file")
	return l, nil
}
