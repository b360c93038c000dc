package speech

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/loqalabs/loqa-companion/internal/dictation"
	"github.com/mattn/go-shellwords"
)

// maxLineBytes bounds one line of helper output.
const maxLineBytes = 1 << 20

// ExecSource runs a local recognizer helper and reads JSON lines from its
// stdout until it exits.
type ExecSource struct {
	cmd     []string
	maxLine int
	log     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewExecSource(command string, logger *slog.Logger) (*ExecSource, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse speech command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("speech command is empty")
	}
	return &ExecSource{
		cmd:     args,
		maxLine: maxLineBytes,
		log:     logger.With(slog.String("component", "speech.exec")),
	}, nil
}

func (s *ExecSource) Available() bool { return len(s.cmd) > 0 }

func (s *ExecSource) Start(ctx context.Context, opts dictation.Options, sink dictation.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}

	args := append([]string{}, s.cmd[1:]...)
	args = append(args, "--session", opts.SessionID)
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	if opts.InterimResults {
		args = append(args, "--interim")
	}
	if opts.Continuous {
		args = append(args, "--continuous")
	}

	runCtx, cancel := context.WithCancel(ctx)
	command := exec.CommandContext(runCtx, s.cmd[0], args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	stdout, err := command.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("speech command stdout: %w", err)
	}
	if err := command.Start(); err != nil {
		cancel()
		return &dictation.EngineError{Code: dictation.CodeAudioCapture}
	}
	s.cancel = cancel
	s.log.Info("speech helper started", slog.String("session_id", opts.SessionID), slog.Int("pid", command.Process.Pid))

	go func() {
		defer cancel()
		finished := false
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), s.maxLine)
		for !finished && scanner.Scan() {
			st, ok, err := decodeLine(scanner.Bytes())
			if err != nil {
				s.log.Warn("skipping malformed recognizer output", slogError(err))
				continue
			}
			if !ok {
				continue
			}
			finished = emit(sink, opts.SessionID, st, opts.InterimResults)
		}
		scanErr := scanner.Err()
		if finished || scanErr != nil {
			cancel()
		}
		// keep the pipe drained so the helper can exit and Wait returns
		_, _ = io.Copy(io.Discard, stdout)
		err := command.Wait()
		if finished {
			return
		}
		if scanErr != nil {
			s.log.Warn("speech helper output unreadable", slogError(scanErr))
			sink.Post(dictation.ErrorSignal(opts.SessionID, dictation.ErrorCode(fmt.Sprintf("helper output unreadable: %v", scanErr))))
			return
		}
		if err != nil && !errors.Is(runCtx.Err(), context.Canceled) {
			s.log.Warn("speech helper failed", slogError(err), slog.String("stderr", stderr.String()))
			sink.Post(dictation.ErrorSignal(opts.SessionID, dictation.ErrorCode(fmt.Sprintf("helper exited: %v", err))))
			return
		}
		sink.Post(dictation.EndSignal(opts.SessionID))
	}()
	return nil
}

// Stop kills the helper. It does not wait for the reader goroutine: signals
// it still posts belong to a session that has already ended.
func (s *ExecSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}
