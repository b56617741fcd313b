package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"mercator-hq/chatrelay/pkg/relay"
)

// DefaultHeartbeatInterval is the SSE keep-alive comment interval.
const DefaultHeartbeatInterval = 30 * time.Second

// eventWriter serializes writes to one response and flushes after each.
// Headers are committed by the first write, so an error status can still
// be sent when the relay rejects a task before its first event.
type eventWriter struct {
	mu           sync.Mutex
	w            http.ResponseWriter
	rc           *http.ResponseController
	setHeaders   func(http.ResponseWriter)
	writeTimeout time.Duration
	started      bool
	closed       bool
}

func newEventWriter(w http.ResponseWriter, setHeaders func(http.ResponseWriter), writeTimeout time.Duration) *eventWriter {
	return &eventWriter{
		w:            w,
		rc:           http.NewResponseController(w),
		setHeaders:   setHeaders,
		writeTimeout: writeTimeout,
	}
}

// write sends b and flushes. Callers hold mu.
func (ew *eventWriter) write(b []byte) (int, error) {
	if ew.closed {
		return 0, errSinkClosed
	}
	if !ew.started {
		ew.setHeaders(ew.w)
		ew.w.WriteHeader(http.StatusOK)
		ew.started = true
	}
	if ew.writeTimeout > 0 {
		// Recorders and some wrappers do not support deadlines.
		if err := ew.rc.SetWriteDeadline(time.Now().Add(ew.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return 0, err
		}
	}

	n, err := ew.w.Write(b)
	if err != nil {
		return n, err
	}
	if err := ew.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return n, err
	}
	return n, nil
}

// Started reports whether the stream has committed its headers.
func (ew *eventWriter) Started() bool {
	ew.mu.Lock()
	defer ew.mu.Unlock()
	return ew.started
}

var errSinkClosed = errors.New("event sink closed")

// NDJSONSink writes relay events as one JSON object per line.
type NDJSONSink struct {
	*eventWriter
}

// NewNDJSONSink returns a sink writing application/x-ndjson to w.
func NewNDJSONSink(w http.ResponseWriter, writeTimeout time.Duration) *NDJSONSink {
	return &NDJSONSink{eventWriter: newEventWriter(w, SetNDJSONHeaders, writeTimeout)}
}

// Send implements relay.Sink.
func (s *NDJSONSink) Send(ev relay.Event) (int, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(append(b, '\n'))
}

// SSESink writes relay events as Server-Sent Events, one "data:" frame per
// event, and keeps idle streams open with comment heartbeats.
type SSESink struct {
	*eventWriter
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewSSESink returns a sink writing text/event-stream to w. A positive
// heartbeat starts a goroutine that must be ended with Close.
func NewSSESink(w http.ResponseWriter, heartbeat, writeTimeout time.Duration) *SSESink {
	s := &SSESink{
		eventWriter: newEventWriter(w, SetSSEHeaders, writeTimeout),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if heartbeat > 0 {
		go s.heartbeat(heartbeat)
	} else {
		close(s.done)
	}
	return s
}

// Send implements relay.Sink.
func (s *SSESink) Send(ev relay.Event) (int, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	frame := make([]byte, 0, len(b)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, b...)
	frame = append(frame, '\n', '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(frame)
}

// Close stops the heartbeat and rejects further writes. It is idempotent.
func (s *SSESink) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *SSESink) heartbeat(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			var err error
			// Heartbeats never open a stream on their own.
			if s.started {
				_, err = s.write([]byte(": ping\n\n"))
			}
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

var (
	_ relay.Sink = (*NDJSONSink)(nil)
	_ relay.Sink = (*SSESink)(nil)
)
