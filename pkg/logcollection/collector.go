package logcollection

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
)

// StreamType identifies the source stream
type StreamType string

const (
	StdoutStream StreamType = "stdout"
	StderrStream StreamType = "stderr"
)

// MatchFunc is called from the reader goroutine for every line containing a readiness marker
type MatchFunc func(stream StreamType, marker string, line string)

// Status reports collection counters
type Status struct {
	Active         bool
	LinesProcessed int64
	BytesProcessed int64
	Matches        int64
	LastActivity   time.Time
	Errors         []string
}

const maxRecordedErrors = 10

// Collector reads the backend's output streams line by line, forwards every line to the
// coordinator log and reports readiness markers. One collector serves one process.
type Collector struct {
	config  Config
	logger  *zap.Logger
	matcher *MarkerMatcher
	onMatch MatchFunc
	output  lineWriter
	wg      conc.WaitGroup

	mutex          sync.Mutex
	activeStreams  int
	linesProcessed int64
	bytesProcessed int64
	matches        int64
	lastActivity   time.Time
	errors         []string
}

func NewCollector(config Config, logger *zap.Logger, onMatch MatchFunc) (*Collector, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.NewValidationError("invalid log collection configuration", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	output, err := createOutputWriter(config.Output)
	if err != nil {
		return nil, err
	}

	return &Collector{
		config:  config,
		logger:  logger,
		matcher: NewMarkerMatcher(config.Markers),
		onMatch: onMatch,
		output:  output,
	}, nil
}

// CollectFromProcess starts one reader per stream. Nil streams are skipped.
func (c *Collector) CollectFromProcess(stdout, stderr io.Reader) {
	if stdout != nil {
		c.CollectFromStream(stdout, StdoutStream)
	}
	if stderr != nil {
		c.CollectFromStream(stderr, StderrStream)
	}
}

// CollectFromStream starts a reader for a single stream. A stream that is not
// captured is still drained so the child never blocks on a full pipe.
func (c *Collector) CollectFromStream(stream io.Reader, streamType StreamType) {
	captured := (streamType == StdoutStream && c.config.CaptureStdout) ||
		(streamType == StderrStream && c.config.CaptureStderr)

	c.mutex.Lock()
	c.activeStreams++
	c.mutex.Unlock()

	c.wg.Go(func() {
		defer func() {
			c.mutex.Lock()
			c.activeStreams--
			c.mutex.Unlock()
		}()

		if !captured {
			_, _ = io.Copy(io.Discard, stream)
			return
		}
		c.streamReader(stream, streamType)
	})
}

// Wait blocks until every stream reached EOF, then flushes the output copy
func (c *Collector) Wait() {
	c.wg.Wait()
	if err := c.output.Flush(); err != nil {
		c.recordError(fmt.Sprintf("output flush error: %v", err))
	}
}

// Close releases the output copy. Call after Wait.
func (c *Collector) Close() error {
	return c.output.Close()
}

func (c *Collector) Status() Status {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	errorsCopy := make([]string, len(c.errors))
	copy(errorsCopy, c.errors)

	return Status{
		Active:         c.activeStreams > 0,
		LinesProcessed: c.linesProcessed,
		BytesProcessed: c.bytesProcessed,
		Matches:        c.matches,
		LastActivity:   c.lastActivity,
		Errors:         errorsCopy,
	}
}

func (c *Collector) streamReader(stream io.Reader, streamType StreamType) {
	logger := c.logger.With(zap.String("stream", string(streamType)))

	// Lines longer than MaxLineLength are cut there; the rest of the line is
	// discarded and scanning continues with the next one
	limit := c.config.MaxLineLength
	reader := bufio.NewReaderSize(stream, 4096)
	line := make([]byte, 0, 256)
	truncated := false
	lineNum := int64(0)

	emit := func() {
		lineNum++
		if truncated {
			logger.Warn("Backend output line truncated", zap.Int64("line_num", lineNum), zap.Int("limit", limit))
			c.recordError(fmt.Sprintf("%s line %d truncated at %d bytes", streamType, lineNum, limit))
		}
		c.processLine(logger, streamType, lineNum, string(line))
		line = line[:0]
		truncated = false
	}

	for {
		fragment, isPrefix, err := reader.ReadLine()
		if err != nil {
			if len(line) > 0 || truncated {
				emit()
			}
			if err != io.EOF {
				logger.Warn("Error reading backend output", zap.Error(err))
				c.recordError(fmt.Sprintf("%s reading error: %v", streamType, err))
				_, _ = io.Copy(io.Discard, stream)
			}
			return
		}

		if room := limit - len(line); len(fragment) > room {
			fragment = fragment[:room]
			truncated = true
		}
		line = append(line, fragment...)

		if !isPrefix {
			emit()
		}
	}
}

func (c *Collector) processLine(logger *zap.Logger, streamType StreamType, lineNum int64, line string) {
	now := time.Now()

	c.mutex.Lock()
	c.linesProcessed++
	c.bytesProcessed += int64(len(line))
	c.lastActivity = now
	c.mutex.Unlock()

	logger.Info(line, zap.Int64("line_num", lineNum))

	if err := c.output.Write(outputLine{Timestamp: now, Stream: streamType, LineNum: lineNum, Line: line}); err != nil {
		logger.Warn("Failed to write backend output copy", zap.Error(err))
		c.recordError(fmt.Sprintf("output write error: %v", err))
	}

	marker, ok := c.matcher.Match(line)
	if !ok {
		return
	}

	c.mutex.Lock()
	c.matches++
	c.mutex.Unlock()

	logger.Debug("Readiness marker matched", zap.String("marker", marker), zap.Int64("line_num", lineNum))
	if c.onMatch != nil {
		c.onMatch(streamType, marker, line)
	}
}

func (c *Collector) recordError(errMsg string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.errors = append(c.errors, fmt.Sprintf("%s: %s", time.Now().Format(time.RFC3339), errMsg))
	if len(c.errors) > maxRecordedErrors {
		c.errors = c.errors[len(c.errors)-maxRecordedErrors:]
	}
}
