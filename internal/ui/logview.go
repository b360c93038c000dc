package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-companion/internal/companion"
)

// LogView is a line-oriented front end for terminals without a TUI. Typed
// lines are questions; lines starting with a slash are commands.
type LogView struct {
	ctrl Controller
	out  io.Writer

	mu   sync.Mutex
	last companion.State
}

func NewLogView(ctrl Controller, out io.Writer) *LogView {
	return &LogView{ctrl: ctrl, out: out, last: ctrl.Snapshot()}
}

// Changed prints what is new since the previous call.
func (v *LogView) Changed() {
	s := v.ctrl.Snapshot()
	v.mu.Lock()
	defer v.mu.Unlock()
	prev := v.last
	v.last = s

	if s.Connected != prev.Connected {
		if s.Connected {
			fmt.Fprintln(v.out, "* connected")
		} else {
			fmt.Fprintln(v.out, "* disconnected")
		}
	}
	if s.DictationMessage != prev.DictationMessage && s.DictationMessage != "" {
		fmt.Fprintf(v.out, "* %s\n", s.DictationMessage)
	}
	if s.Transcript != prev.Transcript && s.Transcript != "" {
		fmt.Fprintf(v.out, "transcript: %s\n", strings.TrimSpace(s.Transcript))
	}
	if s.Alert != prev.Alert && s.Alert != "" {
		fmt.Fprintf(v.out, "question detected: %s (/auto to answer)\n", s.Alert)
	}
	if s.Error != prev.Error && s.Error != "" {
		fmt.Fprintf(v.out, "error: %s\n", s.Error)
	}
	if s.AnswerCount > prev.AnswerCount && len(s.Answers) > 0 {
		for i := min(s.AnswerCount-prev.AnswerCount, len(s.Answers)) - 1; i >= 0; i-- {
			a := s.Answers[i]
			fmt.Fprintf(v.out, "[%s] Q: %s\nA: %s\n", a.At.Format("15:04:05"), a.Question, a.Text)
		}
	}
}

// Run reads commands from in until it is exhausted or ctx is done.
func (v *LogView) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case line := <-lines:
			v.handle(ctx, strings.TrimSpace(line))
		}
	}
}

func (v *LogView) handle(ctx context.Context, line string) {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "":
		return
	case "/start":
		_ = v.ctrl.StartDictation()
	case "/stop":
		v.ctrl.StopDictation()
	case "/send":
		v.ctrl.SendQuestion(ctx)
	case "/push":
		if arg != "" {
			v.ctrl.SetQuestion(arg)
		}
		v.ctrl.AskViaPush(ctx)
	case "/auto":
		v.ctrl.AutoAnswer(ctx)
	case "/dismiss":
		v.ctrl.DismissAlert()
	case "/improve":
		v.ctrl.ImproveAnswer(ctx, 0)
	case "/copy":
		v.ctrl.CopyAnswer(0)
	case "/clear":
		v.ctrl.ClearAnswers()
	case "/sample":
		v.ctrl.NextSample()
		fmt.Fprintf(v.out, "question: %s\n", v.ctrl.Snapshot().Question)
	case "/help":
		fmt.Fprintln(v.out, "commands: /start /stop /send /push [q] /auto /dismiss /improve /copy /clear /sample; any other line is sent as a question")
	default:
		v.ctrl.SetQuestion(line)
		v.ctrl.SendQuestion(ctx)
	}
}
