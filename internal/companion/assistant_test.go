package companion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-companion/internal/config"
	"github.com/loqalabs/loqa-companion/internal/dictation"
	"github.com/loqalabs/loqa-companion/internal/messaging"
	"github.com/loqalabs/loqa-companion/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeAsker struct {
	mu        sync.Mutex
	questions []string
	err       error
}

func (f *fakeAsker) SubmitQuestion(_ context.Context, q string) (protocol.AnswerResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, q)
	if f.err != nil {
		return protocol.AnswerResponse{}, f.err
	}
	return protocol.AnswerResponse{Success: true, Question: q, Answer: "answer to " + q, Timestamp: 1700000000}, nil
}

type fakePush struct {
	asked []string
	err   error
}

func (f *fakePush) Run(ctx context.Context, _ messaging.Listener) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakePush) AskQuestion(_ context.Context, q string) error {
	if f.err != nil {
		return f.err
	}
	f.asked = append(f.asked, q)
	return nil
}

type fakeClipboard struct {
	text string
	err  error
}

func (f *fakeClipboard) WriteAll(text string) error {
	if f.err != nil {
		return f.err
	}
	f.text = text
	return nil
}

type fakeFeeder struct{ chunks []string }

func (f *fakeFeeder) Feed(text string) { f.chunks = append(f.chunks, text) }

var slowNotify = config.NotifyConfig{ErrorTTLMS: 60000, AlertTTLMS: 60000, CopyFeedbackTTLMS: 60000}

func newTestAssistant(deps Deps) *Assistant {
	if deps.Logger == nil {
		deps.Logger = newLogger()
	}
	if deps.Notify == (config.NotifyConfig{}) {
		deps.Notify = slowNotify
	}
	return NewAssistant(deps)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSendQuestionRejectsEmpty(t *testing.T) {
	asker := &fakeAsker{}
	a := newTestAssistant(Deps{Asker: asker})
	a.SetQuestion("   ")
	a.SendQuestion(context.Background())
	if got := a.Snapshot().Error; got != EmptyQuestionMessage {
		t.Fatalf("error = %q", got)
	}
	if len(asker.questions) != 0 {
		t.Fatalf("empty question must not be submitted")
	}
}

func TestSendQuestionPrependsAnswers(t *testing.T) {
	asker := &fakeAsker{}
	a := newTestAssistant(Deps{Asker: asker})
	a.SetQuestion("  first?  ")
	a.SendQuestion(context.Background())
	a.SetQuestion("second?")
	a.SendQuestion(context.Background())

	s := a.Snapshot()
	if s.AnswerCount != 2 || len(s.Answers) != 2 {
		t.Fatalf("expected two answers, got %+v", s.Answers)
	}
	if s.Answers[0].Question != "second?" || s.Answers[1].Question != "first?" {
		t.Fatalf("answers not newest first: %+v", s.Answers)
	}
	if s.Sending {
		t.Fatalf("sending flag left set")
	}
	if s.Question != "second?" {
		t.Fatalf("question input should be kept after HTTP send, got %q", s.Question)
	}
}

func TestSendQuestionFailures(t *testing.T) {
	asker := &fakeAsker{err: &messaging.ServerError{Status: 500, Message: "Failed to generate answer: quota"}}
	a := newTestAssistant(Deps{Asker: asker})
	a.SetQuestion("q")
	a.SendQuestion(context.Background())
	if got := a.Snapshot().Error; got != "Failed to generate answer: quota" {
		t.Fatalf("server error = %q", got)
	}

	asker.err = errors.New("connection refused")
	a.SendQuestion(context.Background())
	if got := a.Snapshot().Error; got != "Failed to send question: connection refused" {
		t.Fatalf("transport error = %q", got)
	}
	if a.Snapshot().AnswerCount != 0 {
		t.Fatalf("failed sends must not add answers")
	}
}

func TestAskViaPushClearsInput(t *testing.T) {
	push := &fakePush{}
	a := newTestAssistant(Deps{Push: push})
	a.SetQuestion(" tell me about yourself ")
	a.AskViaPush(context.Background())
	if len(push.asked) != 1 || push.asked[0] != "tell me about yourself" {
		t.Fatalf("unexpected push questions %v", push.asked)
	}
	if a.Snapshot().Question != "" {
		t.Fatalf("input should be cleared")
	}

	push.err = errors.New("closed")
	a.SetQuestion("again")
	a.AskViaPush(context.Background())
	if got := a.Snapshot().Error; got != "Failed to send question: closed" {
		t.Fatalf("error = %q", got)
	}
}

func TestPushedAnswerDeduplicatesHTTPAnswer(t *testing.T) {
	a := newTestAssistant(Deps{Asker: &fakeAsker{}})
	a.SetQuestion("why go?")
	a.SendQuestion(context.Background())
	a.AnswerReceived(protocol.AnswerResponse{Question: "why go?", Answer: "answer to why go?"})
	if got := a.Snapshot().AnswerCount; got != 1 {
		t.Fatalf("duplicate pushed answer added, count = %d", got)
	}
	a.AnswerReceived(protocol.AnswerResponse{Question: "other", Answer: "x"})
	if got := a.Snapshot().AnswerCount; got != 2 {
		t.Fatalf("count = %d", got)
	}
}

func TestClearAnswers(t *testing.T) {
	a := newTestAssistant(Deps{})
	a.AnswerReceived(protocol.AnswerResponse{Question: "q", Answer: "a"})
	a.ClearAnswers()
	s := a.Snapshot()
	if s.AnswerCount != 0 || len(s.Answers) != 0 {
		t.Fatalf("answers not cleared: %+v", s)
	}
}

func TestQuestionAlertAutoDismisses(t *testing.T) {
	a := newTestAssistant(Deps{Notify: config.NotifyConfig{ErrorTTLMS: 60000, AlertTTLMS: 20, CopyFeedbackTTLMS: 60000}})
	a.QuestionDetected("  What are your strengths?  ")
	if got := a.Snapshot().Alert; got != "What are your strengths?" {
		t.Fatalf("alert = %q", got)
	}
	waitFor(t, func() bool { return a.Snapshot().Alert == "" })
}

func TestAutoAnswerUsesPushThenFallsBack(t *testing.T) {
	push := &fakePush{}
	asker := &fakeAsker{}
	a := newTestAssistant(Deps{Push: push, Asker: asker})

	a.AutoAnswer(context.Background())
	if len(push.asked) != 0 {
		t.Fatalf("auto answer without alert must do nothing")
	}

	a.QuestionDetected("Why this company?")
	a.AutoAnswer(context.Background())
	if len(push.asked) != 1 || push.asked[0] != "Why this company?" {
		t.Fatalf("unexpected push questions %v", push.asked)
	}
	if a.Snapshot().Alert != "" {
		t.Fatalf("alert should be dismissed")
	}

	push.err = messaging.ErrNotConnected
	a.QuestionDetected("Where do you see yourself?")
	a.AutoAnswer(context.Background())
	if len(asker.questions) != 1 || asker.questions[0] != "Where do you see yourself?" {
		t.Fatalf("expected HTTP fallback, got %v", asker.questions)
	}
}

func TestImproveAnswerPrompt(t *testing.T) {
	asker := &fakeAsker{}
	a := newTestAssistant(Deps{Asker: asker})
	a.AnswerReceived(protocol.AnswerResponse{Question: "Why Go?", Answer: "It is simple."})
	a.ImproveAnswer(context.Background(), 5)
	if len(asker.questions) != 0 {
		t.Fatalf("out of range index must be ignored")
	}
	a.ImproveAnswer(context.Background(), 0)
	want := `Please improve this interview answer: Question: "Why Go?" Current answer: "It is simple." Provide a better, more detailed version.`
	if len(asker.questions) != 1 || asker.questions[0] != want {
		t.Fatalf("prompt = %v", asker.questions)
	}

	asker.err = errors.New("timeout")
	a.ImproveAnswer(context.Background(), 0)
	if got := a.Snapshot().Error; got != "Failed to improve answer: timeout" {
		t.Fatalf("error = %q", got)
	}
}

func TestCopyFeedback(t *testing.T) {
	clip := &fakeClipboard{}
	a := newTestAssistant(Deps{Clipboard: clip, Notify: config.NotifyConfig{ErrorTTLMS: 60000, AlertTTLMS: 60000, CopyFeedbackTTLMS: 20}})
	a.AnswerReceived(protocol.AnswerResponse{Question: "q1", Answer: "a1"})

	a.CopyQuestion(0)
	if clip.text != "q1" {
		t.Fatalf("clipboard = %q", clip.text)
	}
	a.CopyAnswer(0)
	if clip.text != "a1" {
		t.Fatalf("clipboard = %q", clip.text)
	}
	copied := a.Snapshot().Copied
	if copied == nil || copied.Index != 0 || copied.Question {
		t.Fatalf("unexpected copy feedback %+v", copied)
	}
	waitFor(t, func() bool { return a.Snapshot().Copied == nil })

	clip.err = errors.New("no display")
	a.CopyAnswer(0)
	if got := a.Snapshot().Error; got != CopyFailedMessage {
		t.Fatalf("error = %q", got)
	}
}

func TestTranscriptionUpdateFillsEmptyQuestion(t *testing.T) {
	a := newTestAssistant(Deps{})
	a.TranscriptionUpdated(protocol.TranscriptionUpdate{Text: "so", FullTranscription: "so why"})
	if got := a.Snapshot().Question; got != "so why" {
		t.Fatalf("question = %q", got)
	}
	a.SetQuestion("typed")
	a.TranscriptionUpdated(protocol.TranscriptionUpdate{Text: "more", FullTranscription: "so why more"})
	s := a.Snapshot()
	if s.Question != "typed" || s.ServerTranscript != "so why more" {
		t.Fatalf("unexpected state %+v", s)
	}
}

func TestTranscriptionUpdateFeedsServerDictation(t *testing.T) {
	feeder := &fakeFeeder{}
	a := newTestAssistant(Deps{Feeder: feeder})
	a.TranscriptionUpdated(protocol.TranscriptionUpdate{Text: "hello", FullTranscription: "hello"})
	if len(feeder.chunks) != 1 || feeder.chunks[0] != "hello" {
		t.Fatalf("chunks = %v", feeder.chunks)
	}
	if a.Snapshot().Question != "" {
		t.Fatalf("question is filled by dictation previews in server mode")
	}
}

func TestPreviewFillsQuestion(t *testing.T) {
	a := newTestAssistant(Deps{})
	a.SetQuestion("typed")
	a.RenderPreview(dictation.Preview{})
	if got := a.Snapshot().Question; got != "typed" {
		t.Fatalf("empty preview must not overwrite input, got %q", got)
	}
	a.RenderPreview(dictation.Preview{Committed: "hello ", Interim: "wor"})
	if got := a.Snapshot().Question; got != "hello wor" {
		t.Fatalf("question = %q", got)
	}
}

func TestBadge(t *testing.T) {
	a := newTestAssistant(Deps{})
	if a.Snapshot().Badge != BadgeReady {
		t.Fatalf("initial badge should be ready")
	}
	a.RenderStatus(dictation.Listening, dictation.ListeningMessage)
	if a.Snapshot().Badge != BadgeRecording {
		t.Fatalf("expected recording badge")
	}
	a.RenderStatus(dictation.Stopped, dictation.CapturedMessage)
	if a.Snapshot().Badge != BadgeReady {
		t.Fatalf("expected ready badge")
	}
	a.RenderStatus(dictation.Stopped, dictation.Message(dictation.CodeNoSpeech))
	if a.Snapshot().Badge != BadgeError {
		t.Fatalf("expected error badge")
	}
}

func TestStartDictationWithoutSession(t *testing.T) {
	a := newTestAssistant(Deps{})
	if err := a.StartDictation(); !errors.Is(err, dictation.ErrEngineUnavailable) {
		t.Fatalf("err = %v", err)
	}
	s := a.Snapshot()
	if s.Error != dictation.UnavailableMessage || s.Badge != BadgeError {
		t.Fatalf("unexpected state %+v", s)
	}
}

func TestOnChangeCalled(t *testing.T) {
	a := newTestAssistant(Deps{})
	var calls int
	a.OnChange(func() { calls++ })
	a.SetQuestion("x")
	a.ConnectionChanged(true)
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
	if !a.Snapshot().Connected {
		t.Fatalf("expected connected")
	}
}

// scriptedSource delivers a fixed list of events when started.
type scriptedSource struct {
	events []dictation.Event
}

func (s *scriptedSource) Available() bool { return true }

func (s *scriptedSource) Start(_ context.Context, opts dictation.Options, sink dictation.Sink) error {
	go func() {
		for _, evt := range s.events {
			sink.Post(dictation.ResultSignal(opts.SessionID, evt))
		}
		sink.Post(dictation.EndSignal(opts.SessionID))
	}()
	return nil
}

func (s *scriptedSource) Stop() error { return nil }

func TestDictationFillsQuestion(t *testing.T) {
	a := newTestAssistant(Deps{})
	src := &scriptedSource{events: []dictation.Event{
		dictation.InterimEvent("what"),
		dictation.FinalEvent("what is"),
		dictation.FinalEvent("what is"),
		dictation.InterimEvent("your"),
		dictation.FinalEvent("your name"),
	}}
	session := dictation.NewSession(src, a, a, dictation.Options{InterimResults: true}, newLogger())
	a.BindDictation(session)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = session.Run(ctx) }()

	if err := a.StartDictation(); err != nil {
		t.Fatalf("StartDictation: %v", err)
	}
	waitFor(t, func() bool { return a.Snapshot().Transcript != "" })
	s := a.Snapshot()
	if s.Transcript != "what is your name " {
		t.Fatalf("transcript = %q", s.Transcript)
	}
	if s.Question != "what is your name" {
		t.Fatalf("question = %q", s.Question)
	}
	if s.DictationMessage != dictation.CapturedMessage || s.Badge != BadgeReady {
		t.Fatalf("unexpected dictation state %+v", s)
	}
	if strings.Contains(s.Question, "  ") {
		t.Fatalf("question has doubled spaces: %q", s.Question)
	}
}

func TestNextSampleCyclesQuestions(t *testing.T) {
	a := newTestAssistant(Deps{Samples: []string{"first?", "second?"}})
	var got []string
	for range 3 {
		a.NextSample()
		got = append(got, a.Snapshot().Question)
	}
	if strings.Join(got, "|") != "first?|second?|first?" {
		t.Fatalf("samples = %v", got)
	}

	empty := newTestAssistant(Deps{})
	empty.SetQuestion("mine")
	empty.NextSample()
	if q := empty.Snapshot().Question; q != "mine" {
		t.Fatalf("question changed without samples: %q", q)
	}
}
