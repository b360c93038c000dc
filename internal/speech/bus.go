package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-companion/internal/bus"
	"github.com/loqalabs/loqa-companion/internal/dictation"
	"github.com/loqalabs/loqa-companion/internal/protocol"
	"github.com/nats-io/nats.go"
)

// BusSource drives a recognizer that lives on the message bus. Control
// requests go out on stt.control.*, results come back on stt.text.*.
type BusSource struct {
	bus         *bus.Client
	log         *slog.Logger
	recognizers RecognizerCheck

	mu        sync.Mutex
	subs      []*nats.Subscription
	sessionID string
}

func NewBusSource(busClient *bus.Client, logger *slog.Logger) *BusSource {
	return &BusSource{
		bus: busClient,
		log: logger.With(slog.String("component", "speech.bus")),
	}
}

// RecognizerCheck reports whether a recognizer is currently reachable.
type RecognizerCheck interface {
	RecognizerAvailable() bool
}

// RequireRecognizer makes the source unavailable while check reports no
// recognizer on the bus.
func (s *BusSource) RequireRecognizer(check RecognizerCheck) {
	s.recognizers = check
}

func (s *BusSource) Available() bool {
	if s.bus == nil {
		return false
	}
	return s.recognizers == nil || s.recognizers.RecognizerAvailable()
}

func (s *BusSource) Start(_ context.Context, opts dictation.Options, sink dictation.Sink) error {
	if !s.bus.Healthy() {
		return &dictation.EngineError{Code: dictation.CodeNetwork}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribeLocked()
	s.sessionID = opts.SessionID

	// one subscription keeps results, errors and the end marker in the order
	// the recognizer published them
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSpeechAll, s.handler(opts, sink))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", protocol.SubjectSpeechAll, err)
	}
	s.subs = append(s.subs, sub)

	ctrl := protocol.DictationControl{
		SessionID:       opts.SessionID,
		Language:        opts.Language,
		InterimResults:  opts.InterimResults,
		Continuous:      opts.Continuous,
		MaxAlternatives: opts.MaxAlternatives,
		Timestamp:       time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectDictationStart, ctrl); err != nil {
		s.unsubscribeLocked()
		return err
	}
	s.log.Info("dictation requested on bus", slog.String("session_id", opts.SessionID))
	return nil
}

func (s *BusSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == "" {
		return nil
	}
	ctrl := protocol.DictationControl{SessionID: s.sessionID, Timestamp: time.Now().UTC()}
	s.sessionID = ""
	s.unsubscribeLocked()
	return s.bus.PublishJSON(protocol.SubjectDictationStop, ctrl)
}

func (s *BusSource) unsubscribeLocked() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *BusSource) handler(opts dictation.Options, sink dictation.Sink) nats.MsgHandler {
	sessionID := opts.SessionID
	return func(msg *nats.Msg) {
		switch msg.Subject {
		case protocol.SubjectTranscriptPartial, protocol.SubjectTranscriptFinal:
			var transcript protocol.Transcript
			if err := json.Unmarshal(msg.Data, &transcript); err != nil {
				s.log.Warn("failed to decode transcript", slogError(err))
				return
			}
			if transcript.SessionID != sessionID {
				return
			}
			evt := dictation.FinalEvent(transcript.Text)
			if msg.Subject == protocol.SubjectTranscriptPartial || transcript.Partial {
				if !opts.InterimResults {
					return
				}
				evt = dictation.InterimEvent(transcript.Text)
			}
			sink.Post(dictation.ResultSignal(sessionID, evt))
		case protocol.SubjectRecognitionError:
			var recErr protocol.RecognitionError
			if err := json.Unmarshal(msg.Data, &recErr); err != nil {
				s.log.Warn("failed to decode recognition error", slogError(err))
				return
			}
			if recErr.SessionID != sessionID {
				return
			}
			sink.Post(dictation.ErrorSignal(sessionID, dictation.ErrorCode(recErr.Code)))
		case protocol.SubjectSessionEnd:
			var end protocol.SessionEnd
			if err := json.Unmarshal(msg.Data, &end); err != nil {
				s.log.Warn("failed to decode session end", slogError(err))
				return
			}
			if end.SessionID != sessionID {
				return
			}
			sink.Post(dictation.EndSignal(sessionID))
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
