package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-companion/internal/bus"
	"github.com/loqalabs/loqa-companion/internal/protocol"
	"github.com/nats-io/nats.go"
)

var subjectEvents = map[string]string{
	protocol.SubjectAnswer:           protocol.EventAnswerReceived,
	protocol.SubjectQuestionDetected: protocol.EventQuestionDetected,
	protocol.SubjectStatus:           protocol.EventStatusUpdate,
	protocol.SubjectError:            protocol.EventError,
	protocol.SubjectTranscription:    protocol.EventTranscriptionUpdate,
}

// BusPush carries server events over NATS subjects under companion.*.
type BusPush struct {
	bus *bus.Client
	log *slog.Logger
}

func NewBusPush(busClient *bus.Client, logger *slog.Logger) *BusPush {
	return &BusPush{bus: busClient, log: logger.With(slog.String("component", "messaging.bus"))}
}

func (p *BusPush) Run(ctx context.Context, l Listener) error {
	p.bus.OnConnectionChange(l.ConnectionChanged)
	sub, err := p.bus.Conn().Subscribe(protocol.SubjectCompanionAll, func(msg *nats.Msg) {
		event, ok := subjectEvents[msg.Subject]
		if !ok {
			return
		}
		if err := dispatch(l, event, msg.Data); err != nil {
			p.log.Warn("dropping malformed push event", slog.String("subject", msg.Subject), slogError(err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", protocol.SubjectCompanionAll, err)
	}
	defer func() { _ = sub.Unsubscribe() }()
	if err := p.bus.Conn().Flush(); err != nil {
		p.log.Warn("flush after subscribe failed", slogError(err))
	}
	l.ConnectionChanged(p.bus.Healthy())

	<-ctx.Done()
	return ctx.Err()
}

func (p *BusPush) AskQuestion(_ context.Context, question string) error {
	if !p.bus.Healthy() {
		return ErrNotConnected
	}
	return p.bus.PublishJSON(protocol.SubjectManualQuestion, protocol.QuestionRequest{Question: question})
}
