// Package samplelog appends one CSV line per control cycle.
package samplelog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultPath is where the controller writes its samples.
const DefaultPath = "logs/log.csv"

// TimeLayout renders DD-MM-YYYY,HH:MM:SS.
const TimeLayout = "02-01-2006,15:04:05"

// Sample is the record of one control cycle.
type Sample struct {
	Time      time.Time `json:"time"`
	Internal  float64   `json:"internal"`
	Reference float64   `json:"reference"`
	Signal    int       `json:"signal"`
}

// Format renders s as a CSV line without the trailing newline.
func (s Sample) Format() string {
	return fmt.Sprintf("%s,%.2f,%.2f,%d%%", s.Time.Format(TimeLayout), s.Internal, s.Reference, s.Signal)
}

// Config defines the rotated log file.
type Config struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

// Logger writes samples to w. It is not safe for concurrent Append.
type Logger struct {
	w         io.WriteCloser
	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// New wraps w.
func New(w io.WriteCloser) *Logger {
	return &Logger{w: w}
}

// Open creates a rotated log file.
func Open(conf Config) (*Logger, error) {
	path := conf.Path
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("sample log: %w", err)
	}
	return New(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    conf.MaxSizeMB,
		MaxBackups: conf.MaxBackups,
		LocalTime:  true,
	}), nil
}

// Append writes one line. lumberjack writes through to the file on every
// call so each line is durable once Append returns.
func (l *Logger) Append(s Sample) error {
	if l.closed {
		return os.ErrClosed
	}
	_, err := io.WriteString(l.w, s.Format()+"\n")
	return err
}

// Close closes the underlying writer once.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		l.closed = true
		l.closeErr = l.w.Close()
	})
	return l.closeErr
}
