package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/loqalabs/loqa-companion/internal/config"
	"github.com/loqalabs/loqa-companion/internal/dictation"
	"github.com/loqalabs/loqa-companion/internal/messaging"
	"github.com/loqalabs/loqa-companion/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	EmptyQuestionMessage = "Please enter a question"
	CopiedMessage        = "Copied!"
	CopyFailedMessage    = "Failed to copy to clipboard"
)

// Badge is the coarse recording indicator.
type Badge int

const (
	BadgeReady Badge = iota
	BadgeRecording
	BadgeError
)

func (b Badge) String() string {
	switch b {
	case BadgeRecording:
		return "Recording"
	case BadgeError:
		return "Error"
	default:
		return "Ready"
	}
}

// Answer is one entry in the answer history.
type Answer struct {
	Question string
	Text     string
	At       time.Time
}

// CopyTarget names what a copy feedback refers to.
type CopyTarget struct {
	Index    int
	Question bool
}

// State is what a view renders.
type State struct {
	Question         string
	DictationStatus  dictation.Status
	DictationMessage string
	Preview          dictation.Preview
	Transcript       string
	ServerTranscript string
	ServerStatus     string
	Badge            Badge
	Connected        bool
	Sending          bool
	Answers          []Answer
	AnswerCount      int
	Alert            string
	Error            string
	Copied           *CopyTarget
}

// Asker submits questions over request/response.
type Asker interface {
	SubmitQuestion(ctx context.Context, question string) (protocol.AnswerResponse, error)
}

// Dictation is the part of a dictation session the assistant drives.
type Dictation interface {
	Start() error
	Stop()
	Clear()
}

// Feeder accepts transcription chunks produced by server-side capture.
type Feeder interface {
	Feed(text string)
}

// Clipboard writes text to the system clipboard.
type Clipboard interface {
	WriteAll(text string) error
}

// SystemClipboard is the OS clipboard.
type SystemClipboard struct{}

func (SystemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

type Deps struct {
	Asker     Asker
	Push      messaging.Push
	Feeder    Feeder
	Clipboard Clipboard
	Notify    config.NotifyConfig
	Samples   []string
	Logger    *slog.Logger
}

// Assistant owns the companion screen state. It renders dictation progress,
// relays questions to the answer server and keeps the answer history.
type Assistant struct {
	asker     Asker
	push      messaging.Push
	feeder    Feeder
	clipboard Clipboard
	errorTTL  time.Duration
	alertTTL  time.Duration
	copyTTL   time.Duration
	samples   []string
	log       *slog.Logger

	mu        sync.Mutex
	dictation Dictation
	state     State
	errorGen  int
	alertGen  int
	copyGen   int
	sending   int
	sample    int
	onChange  func()

	questions metric.Int64Counter
	answers   metric.Int64Counter
}

func NewAssistant(deps Deps) *Assistant {
	if deps.Push == nil {
		deps.Push = messaging.NoPush{}
	}
	if deps.Clipboard == nil {
		deps.Clipboard = SystemClipboard{}
	}
	a := &Assistant{
		asker:     deps.Asker,
		push:      deps.Push,
		feeder:    deps.Feeder,
		clipboard: deps.Clipboard,
		errorTTL:  time.Duration(deps.Notify.ErrorTTLMS) * time.Millisecond,
		alertTTL:  time.Duration(deps.Notify.AlertTTLMS) * time.Millisecond,
		copyTTL:   time.Duration(deps.Notify.CopyFeedbackTTLMS) * time.Millisecond,
		samples:   deps.Samples,
		log:       deps.Logger.With(slog.String("component", "companion")),
		state:     State{DictationMessage: dictation.NoCaptureMessage},
	}
	meter := otel.Meter("github.com/loqalabs/loqa-companion/companion")
	var err error
	if a.questions, err = meter.Int64Counter("companion.questions",
		metric.WithDescription("Questions sent to the answer server")); err != nil {
		a.log.Warn("failed to create metric", slogError(err))
	}
	if a.answers, err = meter.Int64Counter("companion.answers",
		metric.WithDescription("Answers added to the history")); err != nil {
		a.log.Warn("failed to create metric", slogError(err))
	}
	return a
}

// BindDictation attaches the dictation session. The session renders back
// into the assistant, so it is created after it.
func (a *Assistant) BindDictation(d Dictation) {
	a.mu.Lock()
	a.dictation = d
	a.mu.Unlock()
}

// OnChange registers fn to be called after every state change.
func (a *Assistant) OnChange(fn func()) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (a *Assistant) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.state
	s.Answers = append([]Answer(nil), a.state.Answers...)
	if a.state.Copied != nil {
		target := *a.state.Copied
		s.Copied = &target
	}
	return s
}

// update applies fn under the lock and notifies the view.
func (a *Assistant) update(fn func(s *State)) {
	a.mu.Lock()
	fn(&a.state)
	notify := a.onChange
	a.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// Question input.

func (a *Assistant) SetQuestion(text string) {
	a.update(func(s *State) { s.Question = text })
}

func (a *Assistant) ClearQuestion() {
	a.update(func(s *State) { s.Question = "" })
}

// NextSample puts the next sample question into the input, wrapping around
// at the end of the list.
func (a *Assistant) NextSample() {
	if len(a.samples) == 0 {
		return
	}
	a.update(func(s *State) {
		s.Question = a.samples[a.sample%len(a.samples)]
		a.sample++
	})
}

// Dictation controls.

func (a *Assistant) StartDictation() error {
	a.mu.Lock()
	d := a.dictation
	a.mu.Unlock()
	if d == nil {
		a.NotifyError(dictation.UnavailableMessage)
		return dictation.ErrEngineUnavailable
	}
	return d.Start()
}

func (a *Assistant) StopDictation() {
	a.mu.Lock()
	d := a.dictation
	a.mu.Unlock()
	if d != nil {
		d.Stop()
	}
}

func (a *Assistant) ClearTranscript() {
	a.mu.Lock()
	d := a.dictation
	a.mu.Unlock()
	if d != nil {
		d.Clear()
	}
	a.update(func(s *State) {
		s.Transcript = ""
		s.ServerTranscript = ""
	})
}

// Questions and answers.

// SendQuestion submits the current question and records the answer.
func (a *Assistant) SendQuestion(ctx context.Context) {
	question := strings.TrimSpace(a.Snapshot().Question)
	if question == "" {
		a.showError(EmptyQuestionMessage)
		return
	}
	a.submit(ctx, question, "http", "Failed to send question")
}

// AskViaPush sends the current question over the push channel and clears
// the input. The answer arrives as a push event.
func (a *Assistant) AskViaPush(ctx context.Context) {
	question := strings.TrimSpace(a.Snapshot().Question)
	if question == "" {
		a.showError(EmptyQuestionMessage)
		return
	}
	if err := a.push.AskQuestion(ctx, question); err != nil {
		a.showError(fmt.Sprintf("Failed to send question: %v", err))
		return
	}
	a.countQuestion(ctx, "push")
	a.ClearQuestion()
}

// AutoAnswer asks the detected question and dismisses the alert. Without a
// push channel the question goes over HTTP.
func (a *Assistant) AutoAnswer(ctx context.Context) {
	question := a.Snapshot().Alert
	if question == "" {
		return
	}
	a.DismissAlert()
	err := a.push.AskQuestion(ctx, question)
	switch {
	case err == nil:
		a.countQuestion(ctx, "push")
	case errors.Is(err, messaging.ErrNotConnected):
		a.submit(ctx, question, "http", "Failed to send question")
	default:
		a.showError(fmt.Sprintf("Failed to send question: %v", err))
	}
}

// ImproveAnswer asks the server for a better version of the answer at index
// i of the history, newest first.
func (a *Assistant) ImproveAnswer(ctx context.Context, i int) {
	answer, ok := a.answerAt(i)
	if !ok {
		return
	}
	prompt := fmt.Sprintf(`Please improve this interview answer: Question: "%s" Current answer: "%s" Provide a better, more detailed version.`,
		answer.Question, answer.Text)
	a.submit(ctx, prompt, "improve", "Failed to improve answer")
}

func (a *Assistant) submit(ctx context.Context, question, via, failure string) {
	if a.asker == nil {
		a.showError(fmt.Sprintf("%s: no answer server configured", failure))
		return
	}
	a.update(func(s *State) {
		a.sending++
		s.Sending = true
	})
	defer a.update(func(s *State) {
		a.sending--
		s.Sending = a.sending > 0
	})

	a.countQuestion(ctx, via)
	resp, err := a.asker.SubmitQuestion(ctx, question)
	if err != nil {
		a.log.Warn("question failed", slog.String("via", via), slogError(err))
		if messaging.IsServerError(err) && err.Error() != "" {
			a.showError(err.Error())
			return
		}
		a.showError(fmt.Sprintf("%s: %v", failure, err))
		return
	}
	a.addAnswer(resp, false)
}

func (a *Assistant) countQuestion(ctx context.Context, via string) {
	if a.questions != nil {
		a.questions.Add(ctx, 1, metric.WithAttributes(attribute.String("via", via)))
	}
}

// addAnswer prepends an answer. Pushed answers that repeat the newest entry
// are dropped since the server also broadcasts answers it returned over HTTP.
func (a *Assistant) addAnswer(resp protocol.AnswerResponse, pushed bool) {
	at := resp.Time()
	if at.IsZero() {
		at = time.Now()
	}
	entry := Answer{Question: resp.Question, Text: resp.Answer, At: at}
	added := false
	a.update(func(s *State) {
		if pushed && len(s.Answers) > 0 && s.Answers[0].Question == entry.Question && s.Answers[0].Text == entry.Text {
			return
		}
		s.Answers = append([]Answer{entry}, s.Answers...)
		s.AnswerCount++
		if s.Copied != nil {
			s.Copied.Index++
		}
		added = true
	})
	if added && a.answers != nil {
		a.answers.Add(context.Background(), 1)
	}
}

func (a *Assistant) answerAt(i int) (Answer, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i < 0 || i >= len(a.state.Answers) {
		return Answer{}, false
	}
	return a.state.Answers[i], true
}

func (a *Assistant) ClearAnswers() {
	a.update(func(s *State) {
		s.Answers = nil
		s.AnswerCount = 0
		s.Copied = nil
	})
}

// Clipboard.

func (a *Assistant) CopyAnswer(i int) {
	if answer, ok := a.answerAt(i); ok {
		a.copy(answer.Text, CopyTarget{Index: i})
	}
}

func (a *Assistant) CopyQuestion(i int) {
	if answer, ok := a.answerAt(i); ok {
		a.copy(answer.Question, CopyTarget{Index: i, Question: true})
	}
}

func (a *Assistant) copy(text string, target CopyTarget) {
	if err := a.clipboard.WriteAll(text); err != nil {
		a.log.Warn("clipboard write failed", slogError(err))
		a.showError(CopyFailedMessage)
		return
	}
	var gen int
	a.update(func(s *State) {
		a.copyGen++
		gen = a.copyGen
		s.Copied = &target
	})
	time.AfterFunc(a.copyTTL, func() {
		a.update(func(s *State) {
			if a.copyGen == gen {
				s.Copied = nil
			}
		})
	})
}

// Alerts and errors.

func (a *Assistant) DismissAlert() {
	a.update(func(s *State) { s.Alert = "" })
}

func (a *Assistant) showAlert(question string) {
	var gen int
	a.update(func(s *State) {
		a.alertGen++
		gen = a.alertGen
		s.Alert = question
	})
	time.AfterFunc(a.alertTTL, func() {
		a.update(func(s *State) {
			if a.alertGen == gen {
				s.Alert = ""
			}
		})
	})
}

func (a *Assistant) showError(message string) {
	var gen int
	a.update(func(s *State) {
		a.errorGen++
		gen = a.errorGen
		s.Error = message
	})
	time.AfterFunc(a.errorTTL, func() {
		a.update(func(s *State) {
			if a.errorGen == gen {
				s.Error = ""
			}
		})
	})
}

// DismissError hides the current error toast.
func (a *Assistant) DismissError() {
	a.update(func(s *State) { s.Error = "" })
}

// dictation.Renderer and dictation.Notifier.

func (a *Assistant) RenderStatus(status dictation.Status, message string) {
	a.update(func(s *State) {
		s.DictationStatus = status
		s.DictationMessage = message
		switch {
		case status == dictation.Listening:
			s.Badge = BadgeRecording
		case message == dictation.CapturedMessage || message == dictation.NoCaptureMessage:
			s.Badge = BadgeReady
		default:
			s.Badge = BadgeError
		}
	})
}

func (a *Assistant) RenderPreview(p dictation.Preview) {
	a.update(func(s *State) {
		s.Preview = p
		if full := strings.TrimSpace(p.Text()); full != "" {
			s.Question = full
		}
	})
}

func (a *Assistant) RenderTranscript(text string) {
	a.update(func(s *State) { s.Transcript = text })
}

func (a *Assistant) NotifyError(message string) {
	a.update(func(s *State) {
		if s.DictationStatus != dictation.Listening {
			s.Badge = BadgeError
		}
	})
	a.showError(message)
}

// messaging.Listener.

func (a *Assistant) AnswerReceived(resp protocol.AnswerResponse) {
	a.addAnswer(resp, true)
}

func (a *Assistant) QuestionDetected(question string) {
	question = strings.TrimSpace(question)
	if question == "" {
		return
	}
	a.log.Info("question detected", slog.Int("chars", len(question)))
	a.showAlert(question)
}

func (a *Assistant) StatusChanged(update protocol.StatusUpdate) {
	a.update(func(s *State) { s.ServerStatus = update.Message })
}

func (a *Assistant) ServerFailed(message string) {
	a.showError(message)
}

func (a *Assistant) TranscriptionUpdated(update protocol.TranscriptionUpdate) {
	if a.feeder != nil {
		a.feeder.Feed(update.Text)
	}
	a.update(func(s *State) {
		s.ServerTranscript = update.FullTranscription
		if a.feeder == nil && strings.TrimSpace(s.Question) == "" {
			s.Question = update.FullTranscription
		}
	})
}

func (a *Assistant) ConnectionChanged(connected bool) {
	a.update(func(s *State) { s.Connected = connected })
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
