package speech

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-companion/internal/dictation"
)

// CaptureClient toggles transcription on the answer server.
type CaptureClient interface {
	StartCapture(ctx context.Context) error
	StopCapture(ctx context.Context) error
}

// ServerSource lets the answer server do the listening. Start and Stop are
// forwarded over HTTP and transcription updates pushed back by the server are
// fed in with Feed.
type ServerSource struct {
	client  CaptureClient
	timeout time.Duration
	log     *slog.Logger

	mu        sync.Mutex
	sessionID string
	sink      dictation.Sink
}

func NewServerSource(client CaptureClient, timeout time.Duration, logger *slog.Logger) *ServerSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ServerSource{
		client:  client,
		timeout: timeout,
		log:     logger.With(slog.String("component", "speech.server")),
	}
}

func (s *ServerSource) Available() bool { return s.client != nil }

func (s *ServerSource) Start(ctx context.Context, opts dictation.Options, sink dictation.Sink) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.StartCapture(callCtx); err != nil {
		s.log.Warn("server capture failed to start", slogError(err))
		return &dictation.EngineError{Code: dictation.CodeNetwork}
	}
	s.mu.Lock()
	s.sessionID = opts.SessionID
	s.sink = sink
	s.mu.Unlock()
	return nil
}

func (s *ServerSource) Stop() error {
	s.mu.Lock()
	active := s.sessionID != ""
	s.sessionID = ""
	s.sink = nil
	s.mu.Unlock()
	if !active {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.StopCapture(ctx)
}

// Feed delivers a transcription chunk reported by the server. Chunks are
// already finalized on the server side. Updates that arrive while no session
// is active are dropped.
func (s *ServerSource) Feed(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	sessionID, sink := s.sessionID, s.sink
	s.mu.Unlock()
	if sink == nil {
		s.log.Debug("transcription update without active dictation", slog.Int("chars", len(text)))
		return
	}
	sink.Post(dictation.ResultSignal(sessionID, dictation.FinalEvent(text)))
}
