package libgvap

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
)

// OutputStream identifies one of the node's output streams. Nodes log to stderr, which
// makes it the zero value.
type OutputStream int

const (
	Stderr OutputStream = iota
	Stdout
)

func (s OutputStream) String() string {
	if s == Stdout {
		return "stdout"
	}
	return "stderr"
}

// OutputEvent is a single line of node output.
type OutputEvent struct {
	Stream OutputStream
	Line   string
}

const (
	backlogLines     = 512
	subscriptionSize = 256
)

// OutputHub splits node output into lines and fans them out to subscribers.
//
// Marker waits registered through WaitFor are evaluated synchronously for every line and
// never miss output. Subscriptions are buffered; a subscriber that falls behind loses lines.
type OutputHub struct {
	mu      sync.Mutex
	partial [2][]byte
	backlog []OutputEvent
	subs    map[*subscription]struct{}
	waits   map[*markerWait]struct{}
	closed  bool
	done    chan struct{}
}

type subscription struct {
	stream  OutputStream
	ch      chan OutputEvent
	dropped int
}

type markerWait struct {
	stream OutputStream
	marker string
	found  chan struct{}
}

// NewOutputHub creates an empty hub.
func NewOutputHub() *OutputHub {
	return &OutputHub{
		subs:  make(map[*subscription]struct{}),
		waits: make(map[*markerWait]struct{}),
		done:  make(chan struct{}),
	}
}

// Writer returns an io.Writer feeding the given stream.
func (h *OutputHub) Writer(s OutputStream) io.Writer {
	return streamWriter{h, s}
}

type streamWriter struct {
	h *OutputHub
	s OutputStream
}

func (w streamWriter) Write(p []byte) (int, error) {
	w.h.write(w.s, p)
	return len(p), nil
}

func (h *OutputHub) write(s OutputStream, p []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	buf := append(h.partial[s], p...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		h.publish(OutputEvent{Stream: s, Line: strings.TrimRight(string(buf[:i]), "\r")})
		buf = buf[i+1:]
	}
	h.partial[s] = append(h.partial[s][:0], buf...)
}

// publish delivers a line. It must be called with h.mu held.
func (h *OutputHub) publish(ev OutputEvent) {
	h.backlog = append(h.backlog, ev)
	if len(h.backlog) > backlogLines {
		h.backlog = h.backlog[len(h.backlog)-backlogLines:]
	}
	for w := range h.waits {
		if w.stream == ev.Stream && strings.Contains(ev.Line, w.marker) {
			close(w.found)
			delete(h.waits, w)
		}
	}
	for sub := range h.subs {
		if sub.stream != ev.Stream {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
		}
	}
}

// Subscribe returns a channel receiving all further lines of the given stream. The channel
// is closed by the returned function or when the hub is closed.
func (h *OutputHub) Subscribe(s OutputStream) (<-chan OutputEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &subscription{stream: s, ch: make(chan OutputEvent, subscriptionSize)}
	if h.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.subs[sub] = struct{}{}
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.ch)
			}
		})
	}
	return sub.ch, unsubscribe
}

// WaitFor blocks until a line of stream s contains marker. Lines still held in the backlog
// count, so a marker printed shortly before the call is found.
func (h *OutputHub) WaitFor(ctx context.Context, s OutputStream, marker string) error {
	h.mu.Lock()
	for _, ev := range h.backlog {
		if ev.Stream == s && strings.Contains(ev.Line, marker) {
			h.mu.Unlock()
			return nil
		}
	}
	if h.closed {
		h.mu.Unlock()
		return ErrOutputClosed
	}
	w := &markerWait{stream: s, marker: marker, found: make(chan struct{})}
	h.waits[w] = struct{}{}
	h.mu.Unlock()

	select {
	case <-w.found:
		return nil
	case <-h.done:
		select {
		case <-w.found:
			return nil
		default:
			return ErrOutputClosed
		}
	case <-ctx.Done():
		h.mu.Lock()
		delete(h.waits, w)
		h.mu.Unlock()
		return ctx.Err()
	}
}

// Lines returns the lines currently held in the backlog.
func (h *OutputHub) Lines() []OutputEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]OutputEvent(nil), h.backlog...)
}

// Done is closed when the hub is closed.
func (h *OutputHub) Done() <-chan struct{} {
	return h.done
}

// Close flushes incomplete lines and ends all subscriptions.
func (h *OutputHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for s := range h.partial {
		if len(h.partial[s]) > 0 {
			h.publish(OutputEvent{Stream: OutputStream(s), Line: string(h.partial[s])})
			h.partial[s] = nil
		}
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
		delete(h.subs, sub)
	}
	close(h.done)
}

// PrefixWriter wraps a writer, prefixing written lines with a string.
type PrefixWriter struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
	buf    []byte
}

// NewPrefixWriter creates a PrefixWriter.
func NewPrefixWriter(w io.Writer, prefix string) *PrefixWriter {
	return &PrefixWriter{w: w, prefix: prefix, buf: []byte(prefix)}
}

func (w *PrefixWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var err error
	for _, b := range p {
		w.buf = append(w.buf, b)
		if b == '\n' {
			_, err = w.w.Write(w.buf)
			w.buf = append(w.buf[:0], w.prefix...)
		}
	}
	return len(p), err
}

// Close flushes the last line.
func (w *PrefixWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var err error
	if len(w.buf) > len(w.prefix) {
		w.buf = append(w.buf, '\n')
		_, err = w.w.Write(w.buf)
	}
	w.buf = append(w.buf[:0], w.prefix...)
	return err
}

// LockedWriter serializes writes from several pumps into one writer.
type LockedWriter struct {
	mu sync.Mutex
	W  io.Writer
}

func (w *LockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.W.Write(p)
}
