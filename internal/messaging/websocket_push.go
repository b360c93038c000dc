package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-companion/internal/protocol"
)

// WebSocketPush receives server events as JSON envelopes over a websocket
// and reconnects after the connection drops.
type WebSocketPush struct {
	url            string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	log            *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWebSocketPush(url string, logger *slog.Logger) *WebSocketPush {
	return &WebSocketPush{
		url:            url,
		dialer:         &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		reconnectDelay: 2 * time.Second,
		log:            logger.With(slog.String("component", "messaging.websocket")),
	}
}

func (p *WebSocketPush) Run(ctx context.Context, l Listener) error {
	l.ConnectionChanged(false)
	for {
		conn, _, err := p.dialer.DialContext(ctx, p.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Debug("push dial failed", slog.String("url", p.url), slogError(err))
		} else {
			p.serve(ctx, conn, l)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.reconnectDelay):
		}
	}
}

func (p *WebSocketPush) serve(ctx context.Context, conn *websocket.Conn, l Listener) {
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	p.log.Info("push channel connected", slog.String("url", p.url))
	l.ConnectionChanged(true)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		p.mu.Lock()
		p.conn = nil
		p.mu.Unlock()
		_ = conn.Close()
		l.ConnectionChanged(false)
	}()

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() == nil {
				p.log.Warn("push channel disconnected", slogError(err))
			}
			return
		}
		if err := dispatch(l, env.Event, env.Data); err != nil {
			p.log.Warn("dropping malformed push event", slog.String("event", env.Event), slogError(err))
		}
	}
}

func (p *WebSocketPush) AskQuestion(_ context.Context, question string) error {
	data, err := json.Marshal(protocol.QuestionRequest{Question: question})
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return ErrNotConnected
	}
	if err := p.conn.WriteJSON(protocol.Envelope{Event: protocol.EventManualQuestion, Data: data}); err != nil {
		return fmt.Errorf("send %s: %w", protocol.EventManualQuestion, err)
	}
	return nil
}
