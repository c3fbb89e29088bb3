package sandbox

import (
	"bytes"
	"strings"
	"sync"
	"time"
)

// lineWriter captures one output stream and emits complete lines as they
// arrive. Capture stops at limit bytes; later lines are still emitted to
// onLine so live viewers see everything.
type lineWriter struct {
	stream string
	limit  int
	onLine func(Line)

	mu        sync.Mutex
	pending   []byte
	captured  strings.Builder
	truncated bool
}

func newLineWriter(stream string, limit int, onLine func(Line)) *lineWriter {
	return &lineWriter{stream: stream, limit: limit, onLine: onLine}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.emit(string(bytes.TrimSuffix(w.pending[:i], []byte("\r"))), true)
		w.pending = w.pending[i+1:]
	}

	// A single unterminated line may not grow without bound.
	if w.limit > 0 && len(w.pending) > w.limit {
		w.emit(string(w.pending), false)
		w.pending = w.pending[:0]
	}
	return len(p), nil
}

// flush emits a trailing line that had no newline.
func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) > 0 {
		w.emit(string(w.pending), false)
		w.pending = nil
	}
}

func (w *lineWriter) emit(text string, newline bool) {
	n := len(text)
	if newline {
		n++
	}
	switch {
	case w.truncated:
	case w.limit > 0 && w.captured.Len()+n > w.limit:
		w.truncated = true
	default:
		w.captured.WriteString(text)
		if newline {
			w.captured.WriteByte('\n')
		}
	}
	if w.onLine != nil {
		w.onLine(Line{Stream: w.stream, Text: text})
	}
}

func (w *lineWriter) result() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.captured.String(), w.truncated
}

// lineFeedBuffer is how many lines may queue for a slow OnLine consumer
// before further lines are dropped from the live feed.
const lineFeedBuffer = 1024

// lineFeed hands lines to the caller's OnLine from a single goroutine so
// that a slow or stuck consumer never blocks the output pipes. Capture is
// unaffected; only the live feed drops lines.
type lineFeed struct {
	onLine func(Line)
	ch     chan Line
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
}

func newLineFeed(onLine func(Line)) *lineFeed {
	f := &lineFeed{
		onLine: onLine,
		ch:     make(chan Line, lineFeedBuffer),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(f.done)
		for l := range f.ch {
			f.onLine(l)
		}
	}()
	return f
}

// send queues l without blocking.
func (f *lineFeed) send(l Line) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		f.dropped++
		return
	}
	select {
	case f.ch <- l:
	default:
		f.dropped++
	}
}

// close stops accepting lines and waits up to wait for queued ones to be
// delivered. It returns false if the consumer did not drain in time, plus
// the number of lines that never reached it.
func (f *lineFeed) close(wait time.Duration) (drained bool, dropped int) {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	f.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-f.done:
		drained = true
	case <-timer.C:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	dropped = f.dropped
	if !drained {
		dropped += len(f.ch)
	}
	return drained, dropped
}
