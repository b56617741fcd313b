package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/chatrelay/pkg/breaker"
	"mercator-hq/chatrelay/pkg/session"
	"mercator-hq/chatrelay/pkg/upstream"
)

// Sink receives the events of one relay task. Send must write and flush
// the event before returning, and report how many bytes it wrote.
type Sink interface {
	Send(Event) (int, error)
}

// Stream is a raw upstream response body.
type Stream interface {
	Recv() ([]byte, error)
	ContentType() string
	Close() error
}

// Upstream opens one upstream call.
type Upstream interface {
	Open(ctx context.Context, req upstream.Request) (Stream, error)
}

// TokenIssuer mints a fresh upstream credential per call.
type TokenIssuer interface {
	IssueUpstreamToken(sess *session.Session, exchangeID string) (session.UpstreamToken, time.Time, error)
}

// Recorder observes relay activity.
type Recorder interface {
	StreamStarted()
	EventSent(t EventType)
	StreamFinished(res Result)
}

// FromClient adapts an upstream.Client to Upstream.
func FromClient(c *upstream.Client) Upstream {
	return clientUpstream{c: c}
}

type clientUpstream struct {
	c *upstream.Client
}

func (u clientUpstream) Open(ctx context.Context, req upstream.Request) (Stream, error) {
	s, err := u.c.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Config configures a Relay.
type Config struct {
	Upstream Upstream
	Breaker  *breaker.Breaker
	Tokens   TokenIssuer
	Recorder Recorder

	// Deadline bounds one relay task from upstream call to terminal event.
	Deadline time.Duration

	// MaxLineBytes bounds the reassembly carry buffer.
	MaxLineBytes int

	// MaxConnections caps concurrently running tasks.
	MaxConnections int

	// IdleTimeout is how long a task may forward nothing before it is pruned.
	IdleTimeout time.Duration

	// PruneInterval is how often idle tasks and expired pending exchanges
	// are swept.
	PruneInterval time.Duration

	// PendingTTL is how long a staged message waits for its stream.
	PendingTTL time.Duration

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Exchange is one message to relay for an authenticated session.
type Exchange struct {
	// ID identifies the exchange; generated when empty.
	ID       string
	Session  *session.Session
	Message  string
	ClientIP string
}

// Result summarizes a finished relay task.
type Result struct {
	ExchangeID     string
	ConnectionID   string
	Terminal       EventType
	Reason         string
	Events         int
	Items          int
	Malformed      int
	BytesForwarded int64
	UpstreamBytes  int64
	Duration       time.Duration

	// SinkErr is set when the client stopped accepting events.
	SinkErr error
}

// Relay forwards chat messages to the upstream and streams the
// reassembled events back. At most one task runs per session.
type Relay struct {
	upstream Upstream
	breaker  *breaker.Breaker
	tokens   TokenIssuer
	recorder Recorder

	deadline      time.Duration
	maxLine       int
	pruneInterval time.Duration
	now           func() time.Time

	flights *flights
	pending *pendingStore
	tracker *tracker

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  bool
	mu       sync.Mutex
	logger   *slog.Logger
}

// New validates cfg and builds a Relay.
func New(cfg Config) (*Relay, error) {
	if cfg.Upstream == nil {
		return nil, errors.New("relay upstream is required")
	}
	if cfg.Breaker == nil {
		return nil, errors.New("relay circuit breaker is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("relay token issuer is required")
	}
	if cfg.Deadline <= 0 {
		return nil, errors.New("relay deadline must be positive")
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10000
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Minute
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = time.Minute
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Relay{
		upstream:      cfg.Upstream,
		breaker:       cfg.Breaker,
		tokens:        cfg.Tokens,
		recorder:      cfg.Recorder,
		deadline:      cfg.Deadline,
		maxLine:       cfg.MaxLineBytes,
		pruneInterval: cfg.PruneInterval,
		now:           cfg.Now,
		flights:       newFlights(),
		pending:       newPendingStore(cfg.PendingTTL, cfg.Now),
		tracker:       newTracker(cfg.MaxConnections, cfg.IdleTimeout, cfg.Now),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		logger:        slog.Default().With("component", "relay"),
	}, nil
}

// Stage stores a message for a later Claim by the GET stream. An unclaimed
// message for the same session is replaced. Staging fails with
// ErrSessionBusy while the session has a task in flight.
func (r *Relay) Stage(sessionID, message string) (*PendingExchange, error) {
	if r.flights.busy(sessionID) {
		return nil, ErrSessionBusy
	}
	ex, replaced := r.pending.stage(sessionID, message)
	if replaced != nil {
		r.logger.Info("replaced unclaimed pending message",
			"session_id", sessionID,
			"replaced_exchange_id", replaced.ID,
		)
	}
	return ex, nil
}

// Claim removes and returns the staged message for a session. A non-empty
// exchangeID must match the staged one.
func (r *Relay) Claim(sessionID, exchangeID string) (*PendingExchange, error) {
	return r.pending.claim(sessionID, exchangeID)
}

// Restore returns a claimed message to the pending store when Run refused
// it before sending anything, so a retry of the same stream URL finds it.
// It reports whether the message was put back.
func (r *Relay) Restore(ex *PendingExchange) bool {
	ok := r.pending.restore(ex)
	if ok {
		r.logger.Debug("restored pending message",
			"session_id", ex.SessionID,
			"exchange_id", ex.ID,
		)
	}
	return ok
}

// Discard drops any staged message for a session.
func (r *Relay) Discard(sessionID string) {
	r.pending.drop(sessionID)
}

// Busy reports whether a session has a task in flight.
func (r *Relay) Busy(sessionID string) bool {
	return r.flights.busy(sessionID)
}

// Run relays one exchange. Errors returned before any event is sent mean
// nothing was written to sink: ErrSessionBusy, ErrTooManyConnections, a
// *breaker.OpenError, or a session error from the token issuer. Once the
// upstream call has been attempted Run always sends a complete event
// sequence (begin, items, then one end or error) and reports the outcome
// in Result instead of an error.
func (r *Relay) Run(ctx context.Context, ex Exchange, sink Sink) (res Result, err error) {
	if ex.Session == nil {
		return Result{}, errors.New("relay: exchange has no session")
	}
	sessionID := ex.Session.ID

	release, err := r.flights.acquire(sessionID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	conn, err := r.tracker.open(sessionID, ex.ClientIP, cancel)
	if err != nil {
		return Result{}, err
	}
	defer r.tracker.close(conn)

	done, err := r.breaker.Allow()
	if err != nil {
		return Result{}, err
	}
	outcome := breaker.Ignore
	defer func() { done(outcome) }()

	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	token, _, err := r.tokens.IssueUpstreamToken(ex.Session, ex.ID)
	if err != nil {
		return Result{}, err
	}

	t := &task{
		relay: r,
		conn:  conn,
		sink:  sink,
		start: r.now(),
		res: Result{
			ExchangeID:   ex.ID,
			ConnectionID: conn.rec.ID,
		},
		logger: r.logger.With("session_id", sessionID, "exchange_id", ex.ID),
	}
	r.recorder.StreamStarted()

	defer func() {
		if p := recover(); p != nil {
			outcome = breaker.Ignore
			t.logger.ErrorContext(ctx, "panic during relay",
				"panic", p,
				"stack", string(debug.Stack()),
			)
			t.fail(ReasonInternal)
		}
		res = t.finish(ctx)
		err = nil
	}()

	outcome = t.relay.stream(ctx, t, upstream.Request{
		Message:      ex.Message,
		SessionID:    sessionID,
		OriginDomain: ex.Session.OriginDomain,
		Token:        token,
	})
	return res, nil
}

// stream performs the upstream call and forwards its events. It returns
// what the circuit breaker should record.
func (r *Relay) stream(ctx context.Context, t *task, req upstream.Request) breaker.Outcome {
	callCtx, cancel := context.WithTimeoutCause(ctx, r.deadline, errDeadline)
	defer cancel()

	s, err := r.upstream.Open(callCtx, req)
	if err != nil {
		outcome, reason := classify(callCtx, err)
		t.logger.WarnContext(ctx, "upstream call failed", "reason", reason, "error", err)
		t.fail(reason)
		return outcome
	}
	defer s.Close()

	framing := FramingLines
	if strings.HasPrefix(strings.ToLower(s.ContentType()), "text/event-stream") {
		framing = FramingSSE
	}
	asm := NewReassembler(framing, r.maxLine)
	defer func() { t.res.Malformed = asm.Malformed() }()

	for {
		chunk, recvErr := s.Recv()
		t.res.UpstreamBytes += int64(len(chunk))

		for _, ev := range asm.Feed(chunk) {
			if !t.emit(ev) {
				break
			}
		}
		if t.stopped() {
			return t.outcomeAfterStop()
		}
		if recvErr == nil {
			continue
		}

		if errors.Is(recvErr, io.EOF) {
			for _, ev := range asm.Finish() {
				if !t.emit(ev) {
					break
				}
			}
			if t.stopped() {
				return t.outcomeAfterStop()
			}
			t.logger.WarnContext(ctx, "upstream closed without a terminal event",
				"upstream_bytes", t.res.UpstreamBytes,
			)
			t.fail(ReasonIncomplete)
			return breaker.Success
		}

		outcome, reason := classify(callCtx, recvErr)
		t.logger.WarnContext(ctx, "upstream stream failed", "reason", reason, "error", recvErr)
		t.fail(reason)
		return outcome
	}
}

// classify maps an upstream error to a breaker outcome and a reason.
func classify(ctx context.Context, err error) (breaker.Outcome, string) {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrIdle):
		return breaker.Ignore, ReasonIdle
	case errors.Is(cause, errDeadline):
		return breaker.Failure, ReasonTimeout
	}

	var timeoutErr *upstream.TimeoutError
	if errors.As(err, &timeoutErr) {
		return breaker.Failure, ReasonTimeout
	}
	if errors.Is(err, context.Canceled) || errors.Is(cause, context.Canceled) {
		return breaker.Ignore, ReasonCanceled
	}
	if upstream.IsFailure(err) {
		return breaker.Failure, ReasonUnavailable
	}
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		return breaker.Ignore, ReasonRejected
	}
	return breaker.Failure, ReasonUnavailable
}

// Start runs the background sweep of idle connections and expired
// pending messages until ctx is cancelled or Stop is called.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.pruneInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.Prune()
			}
		}
	}()
}

// Prune cancels idle connections and drops expired pending messages.
func (r *Relay) Prune() (connections, pending int) {
	pruned := r.tracker.prune()
	for _, rec := range pruned {
		r.logger.Info("pruned idle connection",
			"connection_id", rec.ID,
			"session_id", rec.SessionID,
			"last_activity", rec.LastActivity,
		)
	}
	expired := r.pending.cleanup()
	if expired > 0 {
		r.logger.Debug("dropped expired pending messages", "count", expired)
	}
	return len(pruned), expired
}

// Stop ends the background sweep.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started {
		<-r.done
	}
}

// SetMaxConnections changes the connection cap. Running tasks keep their
// slot, so lowering the cap only affects new tasks. Values below 1 are
// ignored.
func (r *Relay) SetMaxConnections(n int) {
	if n < 1 {
		return
	}
	r.tracker.slots.SetLimit(n)
}

// Connections returns the active connection records, oldest first.
func (r *Relay) Connections() []ConnectionRecord {
	return r.tracker.records()
}

// Stats summarizes the active connections.
func (r *Relay) Stats() ConnectionStats {
	return r.tracker.stats()
}

// Active returns the number of running tasks.
func (r *Relay) Active() int {
	return r.tracker.len()
}

// PendingCount returns the number of staged messages.
func (r *Relay) PendingCount() int {
	return r.pending.len()
}

// task is the state of one Run.
type task struct {
	relay  *Relay
	conn   *connection
	sink   Sink
	start  time.Time
	res    Result
	logger *slog.Logger

	begun      bool
	terminated bool
}

// emit sends ev to the sink, keeping the sequence well formed: a begin is
// sent first, repeated begins are dropped, and nothing follows a terminal
// event. It reports whether the task should keep going.
func (t *task) emit(ev Event) bool {
	if t.stopped() {
		return false
	}
	if ev.Type == EventBegin && t.begun {
		return true
	}
	if ev.Type != EventBegin && !t.begun {
		if !t.send(Begin()) {
			return false
		}
	}
	return t.send(ev)
}

func (t *task) send(ev Event) bool {
	n, err := t.sink.Send(ev)
	if err != nil {
		t.res.SinkErr = err
		return false
	}

	t.relay.tracker.touch(t.conn, n)
	t.relay.recorder.EventSent(ev.Type)
	t.res.Events++
	t.res.BytesForwarded += int64(n)

	switch ev.Type {
	case EventBegin:
		t.begun = true
	case EventItem:
		t.res.Items++
	case EventEnd:
		t.terminated = true
		t.res.Terminal = EventEnd
		if t.res.Reason == "" {
			t.res.Reason = ReasonCompleted
		}
	case EventError:
		t.terminated = true
		t.res.Terminal = EventError
		if t.res.Reason == "" {
			t.res.Reason = ReasonUpstreamErr
		}
	}
	return true
}

// fail ends the sequence with a synthetic error for reason.
func (t *task) fail(reason string) {
	if t.stopped() {
		return
	}
	t.res.Reason = reason
	msg, ok := reasonMessages[reason]
	if !ok {
		msg = reason
	}
	t.emit(ErrorEvent(msg))
}

func (t *task) stopped() bool {
	return t.terminated || t.res.SinkErr != nil
}

// outcomeAfterStop is the breaker outcome once the sequence ended early,
// either on a terminal event from the upstream or a failed client write.
func (t *task) outcomeAfterStop() breaker.Outcome {
	if t.terminated {
		return breaker.Success
	}
	return breaker.Ignore
}

func (t *task) finish(ctx context.Context) Result {
	t.res.Duration = t.relay.now().Sub(t.start)
	if t.res.SinkErr != nil && !t.terminated {
		t.res.Reason = ReasonClientGone
	}
	t.relay.recorder.StreamFinished(t.res)

	t.logger.InfoContext(ctx, "relay finished",
		"reason", t.res.Reason,
		"terminal", t.res.Terminal,
		"events", t.res.Events,
		"items", t.res.Items,
		"malformed", t.res.Malformed,
		"bytes_forwarded", t.res.BytesForwarded,
		"duration", t.res.Duration,
	)
	return t.res
}

type nopRecorder struct{}

func (nopRecorder) StreamStarted()        {}
func (nopRecorder) EventSent(EventType)   {}
func (nopRecorder) StreamFinished(Result) {}
