package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"devicebridge"
)

// FileSink appends one JSON line per reading into a per-run output
// directory, one file per device type. A write failure is reported to the
// dispatcher and does not affect other sinks.
type FileSink struct {
	dir   string
	files map[string]*os.File
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir, files: make(map[string]*os.File)}
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Write(_ context.Context, r devicebridge.Reading) error {
	f, err := s.fileFor(r.DeviceType)
	if err != nil {
		return err
	}
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading for %s: %w", r.DeviceID, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append to %s: %w", f.Name(), err)
	}
	return nil
}

func (s *FileSink) fileFor(deviceType string) (*os.File, error) {
	if f, ok := s.files[deviceType]; ok {
		return f, nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %q: %w", s.dir, err)
	}
	path := filepath.Join(s.dir, deviceType+"_data.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	s.files[deviceType] = f
	return f, nil
}

func (s *FileSink) Flush(context.Context) error {
	for _, f := range s.files {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("sync %s: %w", f.Name(), err)
		}
	}
	return nil
}

func (s *FileSink) Close() error {
	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.files = make(map[string]*os.File)
	return firstErr
}
