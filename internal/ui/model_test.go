package ui

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-companion/internal/companion"
	"github.com/loqalabs/loqa-companion/internal/dictation"

	tea "github.com/charmbracelet/bubbletea"
)

type fakeController struct {
	state    companion.State
	calls    []string
	startErr error
}

func (f *fakeController) Snapshot() companion.State { return f.state }
func (f *fakeController) SetQuestion(text string) {
	f.calls = append(f.calls, "set")
	f.state.Question = text
}
func (f *fakeController) ClearQuestion() {
	f.calls = append(f.calls, "clear-question")
	f.state.Question = ""
}
func (f *fakeController) NextSample() {
	f.calls = append(f.calls, "sample")
	f.state.Question = "sample"
}
func (f *fakeController) StartDictation() error {
	f.calls = append(f.calls, "start")
	return f.startErr
}
func (f *fakeController) StopDictation() { f.calls = append(f.calls, "stop") }
func (f *fakeController) SendQuestion(context.Context) { f.calls = append(f.calls, "send") }
func (f *fakeController) AskViaPush(context.Context) { f.calls = append(f.calls, "push") }
func (f *fakeController) AutoAnswer(context.Context) { f.calls = append(f.calls, "auto") }
func (f *fakeController) ImproveAnswer(_ context.Context, i int) {
	f.calls = append(f.calls, "improve")
}
func (f *fakeController) CopyAnswer(int) { f.calls = append(f.calls, "copy-answer") }
func (f *fakeController) CopyQuestion(int) { f.calls = append(f.calls, "copy-question") }
func (f *fakeController) ClearAnswers() {
	f.calls = append(f.calls, "clear-answers")
	f.state.Answers = nil
}
func (f *fakeController) DismissAlert() { f.calls = append(f.calls, "dismiss") }

func (f *fakeController) last() string {
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func newModel(ctrl *fakeController) Model {
	m := New(context.Background(), ctrl)
	m.width = 80
	m.height = 24
	return m
}

func press(m Model, key tea.KeyMsg) (Model, tea.Cmd) {
	updated, cmd := m.Update(key)
	return updated.(Model), cmd
}

func TestTypingEditsQuestion(t *testing.T) {
	ctrl := &fakeController{}
	m := newModel(ctrl)
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("why")})
	m, _ = press(m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")})
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("go")})
	if m.state.Question != "why go" {
		t.Fatalf("question = %q", m.state.Question)
	}
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyBackspace})
	if m.state.Question != "why g" {
		t.Fatalf("question after backspace = %q", m.state.Question)
	}
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyCtrlU})
	if m.state.Question != "" || ctrl.last() != "clear-question" {
		t.Fatalf("question not cleared: %q", m.state.Question)
	}
}

func TestEnterSendsInBackground(t *testing.T) {
	ctrl := &fakeController{}
	m := newModel(ctrl)
	_, cmd := press(m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatalf("expected a command")
	}
	if len(ctrl.calls) != 0 {
		t.Fatalf("send must not run on the update loop")
	}
	if _, ok := cmd().(actionDoneMsg); !ok {
		t.Fatalf("expected actionDoneMsg")
	}
	if ctrl.last() != "send" {
		t.Fatalf("calls = %v", ctrl.calls)
	}
}

func TestDictationToggle(t *testing.T) {
	ctrl := &fakeController{}
	m := newModel(ctrl)
	_, cmd := press(m, tea.KeyMsg{Type: tea.KeyCtrlS})
	if cmd == nil {
		t.Fatalf("expected start command")
	}
	cmd()
	if ctrl.last() != "start" {
		t.Fatalf("calls = %v", ctrl.calls)
	}

	ctrl.state.DictationStatus = dictation.Listening
	m, _ = press(m.refresh(), tea.KeyMsg{Type: tea.KeyCtrlS})
	if ctrl.last() != "stop" {
		t.Fatalf("expected stop while listening, calls = %v", ctrl.calls)
	}
	press(m, tea.KeyMsg{Type: tea.KeyCtrlX})
	if ctrl.last() != "stop" {
		t.Fatalf("calls = %v", ctrl.calls)
	}
}

func TestDictationStartFailureRefreshes(t *testing.T) {
	ctrl := &fakeController{startErr: dictation.ErrEngineUnavailable}
	m := newModel(ctrl)
	_, cmd := press(m, tea.KeyMsg{Type: tea.KeyCtrlS})
	msg := cmd()
	if _, ok := msg.(dictationFailedMsg); !ok {
		t.Fatalf("expected dictationFailedMsg, got %T", msg)
	}
	ctrl.state.Error = dictation.UnavailableMessage
	updated, _ := m.Update(msg)
	if got := updated.(Model).state.Error; got != dictation.UnavailableMessage {
		t.Fatalf("error = %q", got)
	}
}

func TestAnswerSelection(t *testing.T) {
	ctrl := &fakeController{state: companion.State{
		Answers: []companion.Answer{
			{Question: "q2", Text: "a2", At: time.Now()},
			{Question: "q1", Text: "a1", At: time.Now()},
		},
		AnswerCount: 2,
	}}
	m := newModel(ctrl)
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyDown})
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyDown})
	if m.selected != 1 {
		t.Fatalf("selected = %d", m.selected)
	}
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyUp})
	if m.selected != 0 {
		t.Fatalf("selected = %d", m.selected)
	}
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyCtrlY})
	if ctrl.last() != "copy-answer" {
		t.Fatalf("calls = %v", ctrl.calls)
	}
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyCtrlT})
	if ctrl.last() != "copy-question" {
		t.Fatalf("calls = %v", ctrl.calls)
	}
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyCtrlL})
	if ctrl.last() != "clear-answers" || m.selected != 0 || len(m.state.Answers) != 0 {
		t.Fatalf("answers not cleared")
	}
}

func TestStateChangedRefreshes(t *testing.T) {
	ctrl := &fakeController{}
	m := newModel(ctrl)
	ctrl.state.Alert = "What motivates you?"
	ctrl.state.Connected = true
	updated, _ := m.Update(StateChangedMsg{})
	m = updated.(Model)
	view := m.View()
	if !strings.Contains(view, "What motivates you?") {
		t.Fatalf("alert not rendered:\n%s", view)
	}
	if !strings.Contains(view, "Connected") {
		t.Fatalf("connection not rendered:\n%s", view)
	}
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyEsc})
	if ctrl.last() != "dismiss" {
		t.Fatalf("calls = %v", ctrl.calls)
	}
}

func TestViewShowsAnswersAndErrors(t *testing.T) {
	ctrl := &fakeController{state: companion.State{
		Answers:     []companion.Answer{{Question: "Why Go?", Text: "It compiles fast.", At: time.Now()}},
		AnswerCount: 1,
		Error:       "Failed to copy to clipboard",
		Copied:      &companion.CopyTarget{Index: 0},
	}}
	view := newModel(ctrl).View()
	for _, want := range []string{"Why Go?", "It compiles fast.", "1 answer(s)", "Failed to copy to clipboard", companion.CopiedMessage} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestViewBeforeResize(t *testing.T) {
	m := New(context.Background(), &fakeController{})
	if m.View() != "Initializing..." {
		t.Fatalf("unexpected initial view")
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText("the quick brown fox jumps", 10)
	want := []string{"the quick", "brown fox", "jumps"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("lines = %q", lines)
		}
	}
}

func TestSampleKeyFillsQuestion(t *testing.T) {
	ctrl := &fakeController{}
	m := newModel(ctrl)
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyCtrlN})
	if ctrl.last() != "sample" || m.state.Question != "sample" {
		t.Fatalf("sample not applied: calls=%v question=%q", ctrl.calls, m.state.Question)
	}
}
