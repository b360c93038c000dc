package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-companion/internal/config"
	"github.com/loqalabs/loqa-companion/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ServerError is a request the answer server understood and refused.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// Client talks to the answer server over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(cfg config.MessagingConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: time.Duration(cfg.RequestTimeoutMS) * time.Millisecond},
		log:     logger.With(slog.String("component", "messaging.http")),
	}
}

// SubmitQuestion asks the server for an answer.
func (c *Client) SubmitQuestion(ctx context.Context, question string) (protocol.AnswerResponse, error) {
	var resp protocol.AnswerResponse
	status, err := c.do(ctx, http.MethodPost, "/send_question", protocol.QuestionRequest{Question: question}, &resp)
	if err != nil {
		return protocol.AnswerResponse{}, err
	}
	if !resp.Success {
		return protocol.AnswerResponse{}, refused(status, resp.Message)
	}
	if resp.Question == "" {
		resp.Question = question
	}
	if resp.Timestamp == 0 {
		resp.Timestamp = float64(time.Now().UnixNano()) / float64(time.Second)
	}
	return resp, nil
}

// StartCapture turns on server-side transcription.
func (c *Client) StartCapture(ctx context.Context) error {
	return c.toggle(ctx, "/start_transcription")
}

// StopCapture turns off server-side transcription.
func (c *Client) StopCapture(ctx context.Context) error {
	return c.toggle(ctx, "/stop_transcription")
}

// CurrentTranscription returns the server's transcription buffer.
func (c *Client) CurrentTranscription(ctx context.Context) (protocol.CaptureState, error) {
	var state protocol.CaptureState
	status, err := c.do(ctx, http.MethodGet, "/get_current_transcription", nil, &state)
	if err != nil {
		return protocol.CaptureState{}, err
	}
	if status >= 300 {
		return protocol.CaptureState{}, refused(status, "")
	}
	return state, nil
}

func (c *Client) toggle(ctx context.Context, path string) error {
	var resp protocol.StatusResponse
	status, err := c.do(ctx, http.MethodPost, path, struct{}{}, &resp)
	if err != nil {
		return err
	}
	if !resp.Success {
		return refused(status, resp.Message)
	}
	return nil
}

func refused(status int, message string) error {
	if message == "" {
		message = fmt.Sprintf("server returned %d %s", status, http.StatusText(status))
	}
	return &ServerError{Status: status, Message: message}
}

// do sends a JSON request and decodes the JSON reply into out. The server
// reports failures with a JSON body on non-2xx statuses, so the body is
// decoded whatever the status.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	ctx, span := otel.Tracer("github.com/loqalabs/loqa-companion/messaging").Start(ctx, "messaging.http "+path)
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method))

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read %s response: %w", path, err)
	}
	c.log.Debug("server request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)))

	if err := json.Unmarshal(data, out); err != nil {
		if resp.StatusCode >= 300 {
			return resp.StatusCode, refused(resp.StatusCode, "")
		}
		return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
	}
	return resp.StatusCode, nil
}

// IsServerError reports whether err came back from the server rather than
// the transport.
func IsServerError(err error) bool {
	var serverErr *ServerError
	return errors.As(err, &serverErr)
}
