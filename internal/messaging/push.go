package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-companion/internal/protocol"
)

// ErrNotConnected is returned when a push send is attempted without a live
// channel.
var ErrNotConnected = errors.New("push channel not connected")

// Listener receives events pushed by the answer server.
type Listener interface {
	AnswerReceived(protocol.AnswerResponse)
	QuestionDetected(question string)
	StatusChanged(protocol.StatusUpdate)
	ServerFailed(message string)
	TranscriptionUpdated(protocol.TranscriptionUpdate)
	ConnectionChanged(connected bool)
}

// Push is a bidirectional event channel to the answer server.
type Push interface {
	// Run delivers events to l until ctx is cancelled.
	Run(ctx context.Context, l Listener) error
	// AskQuestion sends a question over the channel; the answer comes back as
	// an AnswerReceived event.
	AskQuestion(ctx context.Context, question string) error
}

// dispatch decodes one event payload and hands it to the listener. Unknown
// events are ignored.
func dispatch(l Listener, event string, data []byte) error {
	switch event {
	case protocol.EventAnswerReceived:
		var answer protocol.AnswerResponse
		if err := json.Unmarshal(data, &answer); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		l.AnswerReceived(answer)
	case protocol.EventQuestionDetected:
		var detected protocol.QuestionDetected
		if err := json.Unmarshal(data, &detected); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		l.QuestionDetected(detected.Question)
	case protocol.EventStatusUpdate:
		var status protocol.StatusUpdate
		if err := json.Unmarshal(data, &status); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		l.StatusChanged(status)
	case protocol.EventError:
		var notice protocol.ErrorNotice
		if err := json.Unmarshal(data, &notice); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		l.ServerFailed(notice.Message)
	case protocol.EventTranscriptionUpdate:
		var update protocol.TranscriptionUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		l.TranscriptionUpdated(update)
	}
	return nil
}

// NoPush is used when no push channel is configured.
type NoPush struct{}

func (NoPush) Run(ctx context.Context, l Listener) error {
	l.ConnectionChanged(false)
	<-ctx.Done()
	return ctx.Err()
}

func (NoPush) AskQuestion(context.Context, string) error { return ErrNotConnected }

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
