package speech

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/loqalabs/loqa-companion/internal/dictation"
)

// ScriptSource replays recognition lines from a file with a fixed delay
// between them. It stands in for a recognizer in demos and tests.
type ScriptSource struct {
	lines [][]byte
	delay time.Duration
	log   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func LoadScriptSource(path string, delay time.Duration, logger *slog.Logger) (*ScriptSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read speech script: %w", err)
	}
	return NewScriptSource(data, delay, logger)
}

// NewScriptSource validates every line up front so a broken script fails at
// startup rather than mid-session.
func NewScriptSource(data []byte, delay time.Duration, logger *slog.Logger) (*ScriptSource, error) {
	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(data))
	n := 0
	for scanner.Scan() {
		n++
		raw := append([]byte(nil), scanner.Bytes()...)
		if _, ok, err := decodeLine(raw); err != nil {
			return nil, fmt.Errorf("speech script line %d: %w", n, err)
		} else if !ok {
			continue
		}
		lines = append(lines, raw)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan speech script: %w", err)
	}
	return &ScriptSource{
		lines: lines,
		delay: delay,
		log:   logger.With(slog.String("component", "speech.script")),
	}, nil
}

func (s *ScriptSource) Available() bool { return true }

func (s *ScriptSource) Start(ctx context.Context, opts dictation.Options, sink dictation.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		defer cancel()
		for _, raw := range s.lines {
			if s.delay > 0 {
				select {
				case <-runCtx.Done():
					return
				case <-time.After(s.delay):
				}
			} else if runCtx.Err() != nil {
				return
			}
			st, _, _ := decodeLine(raw)
			if emit(sink, opts.SessionID, st, opts.InterimResults) {
				return
			}
		}
		if runCtx.Err() == nil && !opts.Continuous {
			sink.Post(dictation.EndSignal(opts.SessionID))
		}
	}()
	s.log.Debug("script playback started", slog.String("session_id", opts.SessionID), slog.Int("lines", len(s.lines)))
	return nil
}

func (s *ScriptSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}
