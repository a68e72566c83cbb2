package logcollection

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
)

type outputLine struct {
	Timestamp time.Time  `json:"timestamp"`
	Stream    StreamType `json:"stream"`
	LineNum   int64      `json:"line_num"`
	Line      string     `json:"line"`
}

type lineWriter interface {
	Write(line outputLine) error
	Flush() error
	Close() error
}

func createOutputWriter(config OutputConfig) (lineWriter, error) {
	switch config.Type {
	case OutputFile:
		return &fileWriter{path: config.Path, json: config.Format == "json"}, nil
	case OutputNone, "":
		return nopWriter{}, nil
	default:
		return nil, errors.NewValidationError("unsupported output type: "+string(config.Type), nil)
	}
}

type nopWriter struct{}

func (nopWriter) Write(outputLine) error { return nil }
func (nopWriter) Flush() error           { return nil }
func (nopWriter) Close() error           { return nil }

// fileWriter appends lines to a file, creating directories on first write
type fileWriter struct {
	path   string
	json   bool
	file   *os.File
	writer *bufio.Writer
	mutex  sync.Mutex
}

func (f *fileWriter) Write(line outputLine) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if err := f.ensureFileOpen(); err != nil {
		return err
	}

	if f.json {
		data, err := json.Marshal(line)
		if err != nil {
			return errors.NewInternalError("failed to encode output line", err)
		}
		data = append(data, '\n')
		if _, err := f.writer.Write(data); err != nil {
			return errors.NewIOError("failed to write output line", err)
		}
		return nil
	}

	text := fmt.Sprintf("[%s][%s] %s\n", line.Timestamp.Format(time.RFC3339), line.Stream, line.Line)
	if _, err := f.writer.WriteString(text); err != nil {
		return errors.NewIOError("failed to write output line", err)
	}
	return nil
}

func (f *fileWriter) Flush() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.writer != nil {
		return f.writer.Flush()
	}
	return nil
}

func (f *fileWriter) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.writer != nil {
		_ = f.writer.Flush()
		f.writer = nil
	}
	if f.file != nil {
		err := f.file.Close()
		f.file = nil
		return err
	}
	return nil
}

func (f *fileWriter) ensureFileOpen() error {
	if f.file != nil {
		return nil
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIOError("failed to create log directory", err).WithContext("dir", dir)
	}

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.NewIOError("failed to open log file", err).WithContext("path", f.path)
	}

	f.file = file
	f.writer = bufio.NewWriter(file)
	return nil
}
