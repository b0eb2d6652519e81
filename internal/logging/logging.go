// Package logging builds the prefixed loggers handed to each component.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects where log output goes.
type Options struct {
	// Stderr copies output to standard error.
	Stderr bool

	// File is a log file rotated by size; empty disables file logging.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Sink is a shared log destination.
type Sink struct {
	out  io.Writer
	file *lumberjack.Logger
}

// New opens the sink described by opts. With neither stderr nor a file,
// output is discarded.
func New(opts Options) *Sink {
	var writers []io.Writer
	if opts.Stderr {
		writers = append(writers, os.Stderr)
	}

	s := &Sink{}
	if opts.File != "" {
		s.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		writers = append(writers, s.file)
	}

	switch len(writers) {
	case 0:
		s.out = io.Discard
	case 1:
		s.out = writers[0]
	default:
		s.out = io.MultiWriter(writers...)
	}
	return s
}

// Logger returns a logger writing to the sink with a "[component] " prefix.
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.out, "["+component+"] ", log.LstdFlags)
}

// Writer returns the sink's underlying writer.
func (s *Sink) Writer() io.Writer {
	return s.out
}

// Close closes the log file, if any.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
