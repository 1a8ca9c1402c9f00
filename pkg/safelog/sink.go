// Package safelog provides a thread-safe log/event sink with two backends:
// a buffered file writer drained by a single background goroutine, or
// pass-through to klog. It mirrors the two-mode contract of krkn_lib's
// SafeLogger: callers never block on file I/O, and closing drains whatever
// is still queued before the backing file is closed.
package safelog

import (
	"fmt"
	"os"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// Level identifies the severity of a logged record.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

func (l Level) marker() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// WriteMode controls how NewFileSink opens the backing file.
type WriteMode int

const (
	Truncate WriteMode = iota
	Append
)

type record struct {
	level Level
	text  string
}

// Sink is a log/event sink safe for concurrent use from multiple goroutines.
// In file mode, Info/Warning/Error append to an in-memory queue and return
// immediately; a single goroutine drains the queue to disk. In pass-through
// mode every verb forwards straight to klog.
type Sink struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue []record

	closed bool
	done   chan struct{}

	file *os.File
}

// NewFileSink opens filename under the given WriteMode and starts the drain
// worker. The returned Sink must be closed to flush and release the file.
func NewFileSink(filename string, mode WriteMode) (*Sink, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if mode == Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(filename, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("safelog: opening %s: %w", filename, err)
	}
	s := &Sink{file: f, done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	go s.drain()
	return s, nil
}

// NewPassthroughSink returns a Sink that forwards every verb straight to klog.
func NewPassthroughSink() *Sink {
	s := &Sink{closed: true, done: make(chan struct{})}
	close(s.done)
	return s
}

// Info queues an informational record (or forwards to klog.Info in
// pass-through mode).
func (s *Sink) Info(format string, args ...any) { s.emit(LevelInfo, format, args...) }

// Warning queues a warning record.
func (s *Sink) Warning(format string, args ...any) { s.emit(LevelWarning, format, args...) }

// Error queues an error record.
func (s *Sink) Error(format string, args ...any) { s.emit(LevelError, format, args...) }

func (s *Sink) emit(level Level, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}

	s.mu.Lock()
	fileMode := s.file != nil && !s.closed
	if fileMode {
		s.queue = append(s.queue, record{level: level, text: msg})
		s.cond.Signal()
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	switch level {
	case LevelWarning:
		klog.Warning(msg)
	case LevelError:
		klog.Error(msg)
	default:
		klog.Info(msg)
	}
}

// Close signals the drain worker to finish writing whatever remains queued,
// waits for it, and closes the backing file. After Close returns, further
// verbs fall back to pass-through. Close on a pass-through Sink is a no-op.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.file == nil || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()

	<-s.done
	return s.file.Close()
}

func (s *Sink) drain() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		pending := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, rec := range pending {
			line := fmt.Sprintf("%s [%s] %s\n", time.Now().Format("2006-01-02 15:04"), rec.level.marker(), rec.text)
			if _, err := s.file.WriteString(line); err != nil {
				klog.Warningf("safelog: dropping record after write failure: %v", err)
			}
		}
	}
}
