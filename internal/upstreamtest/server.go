// Package upstreamtest provides a scripted text-generation webhook for tests.
package upstreamtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// Script describes how the mock webhook answers the next requests.
type Script struct {
	// StatusCode defaults to 200.
	StatusCode int

	// ContentType defaults to application/x-ndjson.
	ContentType string

	// Headers are added to the response.
	Headers map[string]string

	// Chunks are written one by one, each followed by a flush, so every
	// chunk normally reaches the client as a separate read.
	Chunks []string

	// ChunkDelay is slept between chunks.
	ChunkDelay time.Duration

	// Delay is slept before the response headers are written.
	Delay time.Duration

	// Hold keeps the response open after the last chunk until the client
	// goes away or the server is closed.
	Hold bool
}

// Received is one request captured by the server.
type Received struct {
	Method  string
	Path    string
	Header  http.Header
	Payload Payload
	Raw     []byte
}

// Payload mirrors the JSON body the relay sends to the webhook.
type Payload struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Session   struct {
		ID           string `json:"id"`
		OriginDomain string `json:"origin_domain"`
	} `json:"session"`
	JWTToken string `json:"jwt_token"`
}

// Server is a mock webhook backed by httptest.
type Server struct {
	server *httptest.Server

	mu       sync.Mutex
	script   Script
	queue    []Script
	received []Received
	closing  chan struct{}
	once     sync.Once
}

// NewServer starts a server that answers with script until changed.
func NewServer(script Script) *Server {
	s := &Server{
		script:  script,
		closing: make(chan struct{}),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the webhook URL.
func (s *Server) URL() string {
	return s.server.URL + "/webhook/chat"
}

// BaseURL returns the server root.
func (s *Server) BaseURL() string {
	return s.server.URL
}

// Close releases held responses and shuts the server down.
func (s *Server) Close() {
	s.once.Do(func() { close(s.closing) })
	s.server.Close()
}

// SetScript replaces the default script.
func (s *Server) SetScript(script Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = script
}

// Enqueue adds scripts that are used once each, in order, before the
// default script applies again.
func (s *Server) Enqueue(scripts ...Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, scripts...)
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received(nil), s.received...)
}

// RequestCount returns the number of requests received.
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func (s *Server) next() Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 {
		sc := s.queue[0]
		s.queue = s.queue[1:]
		return sc
	}
	return s.script
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	rec := Received{
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header.Clone(),
		Raw:    raw,
	}
	_ = json.Unmarshal(raw, &rec.Payload)

	s.mu.Lock()
	s.received = append(s.received, rec)
	s.mu.Unlock()

	sc := s.next()

	if sc.Delay > 0 {
		select {
		case <-time.After(sc.Delay):
		case <-r.Context().Done():
			return
		case <-s.closing:
			return
		}
	}

	contentType := sc.ContentType
	if contentType == "" {
		contentType = "application/x-ndjson"
	}
	w.Header().Set("Content-Type", contentType)
	for k, v := range sc.Headers {
		w.Header().Set(k, v)
	}

	status := sc.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	flusher, _ := w.(http.Flusher)
	for i, chunk := range sc.Chunks {
		if i > 0 && sc.ChunkDelay > 0 {
			select {
			case <-time.After(sc.ChunkDelay):
			case <-r.Context().Done():
				return
			case <-s.closing:
				return
			}
		}
		_, _ = io.WriteString(w, chunk)
		if flusher != nil {
			flusher.Flush()
		}
	}

	if sc.Hold {
		select {
		case <-r.Context().Done():
		case <-s.closing:
		}
	}
}

// Line returns a JSON envelope line terminated by a newline.
func Line(eventType, content string) string {
	env := map[string]string{"type": eventType}
	if eventType == "item" || eventType == "error" {
		env["content"] = content
	}
	b, _ := json.Marshal(env)
	return string(b) + "\n"
}
