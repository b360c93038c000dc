package dictation

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Status is the dictation session state.
type Status int

const (
	Idle Status = iota
	Listening
	Stopped
)

func (s Status) String() string {
	switch s {
	case Listening:
		return "listening"
	case Stopped:
		return "stopped"
	default:
		return "idle"
	}
}

// SignalKind identifies what a queued signal asks the session to do.
type SignalKind int

const (
	SignalStart SignalKind = iota
	SignalStop
	SignalClear
	SignalResult
	SignalEnd
	SignalError
)

// Signal is one entry of the session queue. Sources tag results, end and
// error signals with the session ID they were started with.
type Signal struct {
	Kind      SignalKind
	SessionID string
	Event     Event
	Code      ErrorCode
}

func ResultSignal(sessionID string, evt Event) Signal {
	return Signal{Kind: SignalResult, SessionID: sessionID, Event: evt}
}

func EndSignal(sessionID string) Signal {
	return Signal{Kind: SignalEnd, SessionID: sessionID}
}

func ErrorSignal(sessionID string, code ErrorCode) Signal {
	return Signal{Kind: SignalError, SessionID: sessionID, Code: code}
}

// Options are handed to a source when a session starts.
type Options struct {
	SessionID       string
	Language        string
	InterimResults  bool
	Continuous      bool
	MaxAlternatives int
}

// Sink receives signals from a source. Implementations are safe for
// concurrent use.
type Sink interface {
	Post(Signal)
}

// Source is a speech engine that can be started and stopped.
type Source interface {
	Available() bool
	Start(ctx context.Context, opts Options, sink Sink) error
	Stop() error
}

// Renderer displays dictation state. Calls come from the session loop only.
type Renderer interface {
	RenderStatus(status Status, message string)
	RenderPreview(p Preview)
	RenderTranscript(text string)
}

// Notifier surfaces errors to the user.
type Notifier interface {
	NotifyError(message string)
}

// Snapshot is a read-only view of the session for other goroutines.
type Snapshot struct {
	Status    Status
	SessionID string
	Committed string
	Preview   Preview
	Message   string
	Available bool
}

// Session drives one dictation at a time. Every mutation happens on the
// goroutine running Run; other goroutines only Post signals or read
// snapshots.
type Session struct {
	source   Source
	renderer Renderer
	notifier Notifier
	opts     Options
	log      *slog.Logger
	newID    func() string
	metrics  sessionMetrics

	queue     chan Signal
	done      chan struct{}
	closeOnce sync.Once

	status    Status
	state     State
	sessionID string

	mu   sync.RWMutex
	snap Snapshot
}

type sessionMetrics struct {
	started    metric.Int64Counter
	committed  metric.Int64Counter
	suppressed metric.Int64Counter
	errors     metric.Int64Counter
}

func NewSession(source Source, renderer Renderer, notifier Notifier, opts Options, logger *slog.Logger) *Session {
	s := &Session{
		source:   source,
		renderer: renderer,
		notifier: notifier,
		opts:     opts,
		log:      logger.With(slog.String("component", "dictation")),
		newID:    uuid.NewString,
		queue:    make(chan Signal, 64),
		done:     make(chan struct{}),
	}
	s.initMetrics()
	s.snap = Snapshot{Status: Idle, Available: source.Available()}
	return s
}

func (s *Session) initMetrics() {
	meter := otel.Meter("github.com/loqalabs/loqa-companion/dictation")
	var err error
	if s.metrics.started, err = meter.Int64Counter("companion.dictation.sessions",
		metric.WithDescription("Dictation sessions started")); err != nil {
		s.log.Warn("failed to create metric", slogError(err))
	}
	if s.metrics.committed, err = meter.Int64Counter("companion.dictation.finals_committed",
		metric.WithDescription("Final results appended to the transcript")); err != nil {
		s.log.Warn("failed to create metric", slogError(err))
	}
	if s.metrics.suppressed, err = meter.Int64Counter("companion.dictation.finals_suppressed",
		metric.WithDescription("Repeated final results dropped")); err != nil {
		s.log.Warn("failed to create metric", slogError(err))
	}
	if s.metrics.errors, err = meter.Int64Counter("companion.dictation.errors",
		metric.WithDescription("Speech engine errors by code")); err != nil {
		s.log.Warn("failed to create metric", slogError(err))
	}
}

// Start requests a new dictation. It fails immediately when the source can
// never run here; otherwise the request is queued.
func (s *Session) Start() error {
	if !s.source.Available() {
		s.log.Warn("dictation start refused", slog.String("reason", "engine unavailable"))
		s.notifier.NotifyError(UnavailableMessage)
		return ErrEngineUnavailable
	}
	s.Post(Signal{Kind: SignalStart})
	return nil
}

// Stop requests the current dictation to end.
func (s *Session) Stop() { s.Post(Signal{Kind: SignalStop}) }

// Clear discards the transcript collected so far.
func (s *Session) Clear() { s.Post(Signal{Kind: SignalClear}) }

// Post enqueues a signal. It blocks while the queue is full and drops the
// signal once the session loop has exited.
func (s *Session) Post(sig Signal) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.queue <- sig:
	case <-s.done:
	}
}

// Run processes queued signals in arrival order until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer s.closeOnce.Do(func() { close(s.done) })
	for {
		select {
		case <-ctx.Done():
			if s.status == Listening {
				if err := s.source.Stop(); err != nil {
					s.log.Warn("failed to stop speech source", slogError(err))
				}
			}
			return ctx.Err()
		case sig := <-s.queue:
			s.handle(ctx, sig)
		}
	}
}

// Snapshot returns the state published after the last processed signal.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// FinalTranscript returns the committed transcript once the session stopped.
func (s *Session) FinalTranscript() (string, bool) {
	snap := s.Snapshot()
	if snap.Status != Stopped || strings.TrimSpace(snap.Committed) == "" {
		return "", false
	}
	return snap.Committed, true
}

func (s *Session) handle(ctx context.Context, sig Signal) {
	switch sig.Kind {
	case SignalStart:
		s.handleStart(ctx)
	case SignalStop:
		if s.status != Listening {
			return
		}
		if err := s.source.Stop(); err != nil {
			s.log.Warn("failed to stop speech source", slogError(err))
		}
		s.finish()
	case SignalClear:
		s.state = State{}
		s.publish(Preview{}, s.Snapshot().Message)
		s.renderer.RenderPreview(Preview{})
	case SignalResult:
		if !s.accepts(sig) {
			return
		}
		s.handleResult(sig.Event)
	case SignalEnd:
		if !s.accepts(sig) {
			return
		}
		s.finish()
	case SignalError:
		if !s.accepts(sig) {
			return
		}
		s.fail(sig.Code)
	}
}

// accepts drops source signals that arrive outside the active session.
func (s *Session) accepts(sig Signal) bool {
	if s.status != Listening || sig.SessionID != s.sessionID {
		s.log.Debug("dropping stale signal",
			slog.Int("kind", int(sig.Kind)),
			slog.String("session_id", sig.SessionID),
			slog.String("status", s.status.String()))
		return false
	}
	return true
}

func (s *Session) handleStart(ctx context.Context) {
	if !s.source.Available() {
		s.notifier.NotifyError(UnavailableMessage)
		return
	}
	if s.status == Listening {
		s.log.Debug("dictation already listening", slog.String("session_id", s.sessionID))
		return
	}

	s.sessionID = s.newID()
	s.state = State{}
	s.status = Listening
	if s.metrics.started != nil {
		s.metrics.started.Add(ctx, 1)
	}
	s.publish(Preview{}, ListeningMessage)
	s.renderer.RenderStatus(Listening, ListeningMessage)
	s.renderer.RenderPreview(Preview{})
	s.log.Info("dictation started", slog.String("session_id", s.sessionID))

	opts := s.opts
	opts.SessionID = s.sessionID
	if err := s.source.Start(ctx, opts, s); err != nil {
		s.log.Warn("speech source failed to start", slogError(err))
		s.fail(codeFromError(err))
	}
}

func (s *Session) handleResult(evt Event) {
	before := s.state
	var preview Preview
	s.state, preview = Reconcile(s.state, evt)
	if evt.Kind == Final && evt.Text != "" {
		if s.state.Committed != before.Committed {
			if s.metrics.committed != nil {
				s.metrics.committed.Add(context.Background(), 1)
			}
		} else {
			s.log.Debug("duplicate final result suppressed", slog.String("text", evt.Text))
			if s.metrics.suppressed != nil {
				s.metrics.suppressed.Add(context.Background(), 1)
			}
		}
	}
	s.publish(preview, ListeningMessage)
	s.renderer.RenderPreview(preview)
}

func (s *Session) finish() {
	s.status = Stopped
	committed := s.state.Committed
	if strings.TrimSpace(committed) != "" {
		s.publish(Preview{Committed: committed}, CapturedMessage)
		s.renderer.RenderStatus(Stopped, CapturedMessage)
		s.renderer.RenderTranscript(committed)
		s.log.Info("dictation captured", slog.String("session_id", s.sessionID), slog.Int("chars", len(committed)))
		return
	}
	s.publish(Preview{}, NoCaptureMessage)
	s.renderer.RenderStatus(Stopped, NoCaptureMessage)
	s.log.Info("dictation ended without speech", slog.String("session_id", s.sessionID))
}

func (s *Session) fail(code ErrorCode) {
	s.status = Stopped
	if err := s.source.Stop(); err != nil {
		s.log.Debug("speech source stop after error", slogError(err))
	}
	msg := Message(code)
	if s.metrics.errors != nil {
		s.metrics.errors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("code", string(code))))
	}
	s.log.Warn("speech recognition error", slog.String("code", string(code)), slog.String("session_id", s.sessionID))
	s.publish(Preview{}, msg)
	s.renderer.RenderStatus(Stopped, msg)
	s.renderer.RenderPreview(Preview{})
	s.notifier.NotifyError(msg)
}

func (s *Session) publish(preview Preview, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{
		Status:    s.status,
		SessionID: s.sessionID,
		Committed: s.state.Committed,
		Preview:   preview,
		Message:   message,
		Available: s.source.Available(),
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
