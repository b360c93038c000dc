package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/loqalabs/loqa-companion/internal/companion"
	"github.com/loqalabs/loqa-companion/internal/dictation"

	tea "github.com/charmbracelet/bubbletea"
)

// Controller is the assistant surface driven by the keyboard.
type Controller interface {
	Snapshot() companion.State
	SetQuestion(text string)
	ClearQuestion()
	NextSample()
	StartDictation() error
	StopDictation()
	SendQuestion(ctx context.Context)
	AskViaPush(ctx context.Context)
	AutoAnswer(ctx context.Context)
	ImproveAnswer(ctx context.Context, i int)
	CopyAnswer(i int)
	CopyQuestion(i int)
	ClearAnswers()
	DismissAlert()
}

// Model is the root bubbletea model for the companion screen.
type Model struct {
	ctx   context.Context
	ctrl  Controller
	state companion.State

	selected int
	width    int
	height   int
}

func New(ctx context.Context, ctrl Controller) Model {
	return Model{ctx: ctx, ctrl: ctrl, state: ctrl.Snapshot()}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case StateChangedMsg, actionDoneMsg, dictationFailedMsg:
		return m.refresh(), nil
	}
	return m, nil
}

func (m Model) refresh() Model {
	m.state = m.ctrl.Snapshot()
	if m.selected >= len(m.state.Answers) {
		m.selected = max(len(m.state.Answers)-1, 0)
	}
	return m
}

// run wraps a blocking assistant call so it runs off the update loop.
func (m Model) run(fn func(ctx context.Context)) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		fn(ctx)
		return actionDoneMsg{}
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit:
		return m, tea.Quit

	case KeyToggleDictate:
		if m.state.DictationStatus == dictation.Listening {
			m.ctrl.StopDictation()
			return m, nil
		}
		ctrl := m.ctrl
		return m, func() tea.Msg {
			if err := ctrl.StartDictation(); err != nil {
				return dictationFailedMsg{Err: err}
			}
			return actionDoneMsg{}
		}

	case KeyStopDictate:
		m.ctrl.StopDictation()
		return m, nil

	case KeySend:
		return m, m.run(m.ctrl.SendQuestion)

	case KeyAskPush:
		return m, m.run(m.ctrl.AskViaPush)

	case KeyAutoAnswer:
		return m, m.run(m.ctrl.AutoAnswer)

	case KeyImprove:
		i := m.selected
		return m, m.run(func(ctx context.Context) { m.ctrl.ImproveAnswer(ctx, i) })

	case KeyClearAnswers:
		m.ctrl.ClearAnswers()
		m.selected = 0

	case KeyClearQuestion:
		m.ctrl.ClearQuestion()

	case KeySample:
		m.ctrl.NextSample()

	case KeyCopyAnswer:
		m.ctrl.CopyAnswer(m.selected)

	case KeyCopyQuestion:
		m.ctrl.CopyQuestion(m.selected)

	case KeyDismiss:
		m.ctrl.DismissAlert()

	case KeyUp:
		if m.selected > 0 {
			m.selected--
		}

	case KeyDown:
		if m.selected < len(m.state.Answers)-1 {
			m.selected++
		}

	case KeyBackspace:
		runes := []rune(m.state.Question)
		if len(runes) > 0 {
			m.ctrl.SetQuestion(string(runes[:len(runes)-1]))
		}

	default:
		switch msg.Type {
		case tea.KeyRunes:
			m.ctrl.SetQuestion(m.state.Question + string(msg.Runes))
		case tea.KeySpace:
			m.ctrl.SetQuestion(m.state.Question + " ")
		}
	}
	return m.refresh(), nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderDictation())
	if m.state.Alert != "" {
		sections = append(sections, AlertStyle.Render("Question detected: "+m.state.Alert)+
			DimStyle.Render("  (ctrl+a answer, esc dismiss)"))
	}
	sections = append(sections, m.renderInput())
	sections = append(sections, DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderAnswers())
	sections = append(sections, DividerStyle.Render(strings.Repeat("─", m.width)))
	if m.state.Error != "" {
		sections = append(sections, ErrorStyle.Render("Error: ")+m.state.Error)
	}
	sections = append(sections, m.renderFooter())
	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := TitleStyle.Render("LOQA COMPANION")

	conn := DisconnectedStyle.Render("○ Disconnected")
	if m.state.Connected {
		conn = ConnectedStyle.Render("● Connected")
	}

	var badge string
	switch m.state.Badge {
	case companion.BadgeRecording:
		badge = RecordingBadgeStyle.Render("● Recording")
	case companion.BadgeError:
		badge = ErrorBadgeStyle.Render(" Error ")
	default:
		badge = ReadyBadgeStyle.Render("Ready")
	}

	header := title + "  " + conn + "  " + badge
	if m.state.ServerStatus != "" {
		header += DimStyle.Render("  " + m.state.ServerStatus)
	}
	if m.state.Sending {
		header += DimStyle.Render("  sending...")
	}
	return header
}

func (m Model) renderDictation() string {
	line := DimStyle.Render(m.state.DictationMessage)
	p := m.state.Preview
	switch {
	case m.state.DictationStatus == dictation.Listening && p.Empty():
		line += "\n" + InterimStyle.Render("Listening for your speech...")
	case m.state.DictationStatus == dictation.Listening:
		line += "\n" + p.Committed + InterimStyle.Render(p.Interim)
	case m.state.Transcript != "":
		line += "\n" + DimStyle.Render("Final transcript: ") + m.state.Transcript
	}
	return line
}

func (m Model) renderInput() string {
	text := m.state.Question
	if text == "" {
		text = DimStyle.Render("Type or dictate your question...")
	}
	width := m.width - 4
	if width < 10 {
		width = 10
	}
	return InputStyle.Width(width).Render(strings.Join(wrapText(text, width-2), "\n") + "▏")
}

func (m Model) renderAnswers() string {
	if len(m.state.Answers) == 0 {
		return DimStyle.Render("Answers will appear here after you submit a question...")
	}
	lines := []string{DimStyle.Render(fmt.Sprintf("%d answer(s)", m.state.AnswerCount))}
	for i, a := range m.state.Answers {
		marker := "  "
		if i == m.selected {
			marker = SelectedStyle.Render("▸ ")
		}
		stamp := DimStyle.Render(a.At.Format("15:04:05"))
		question := QuestionStyle.Render(a.Question)
		if c := m.state.Copied; c != nil && c.Index == i {
			what := "answer"
			if c.Question {
				what = "question"
			}
			question += "  " + CopiedStyle.Render(companion.CopiedMessage+" ("+what+")")
		}
		lines = append(lines, marker+stamp+" "+question)
		for _, l := range wrapText(a.Text, max(m.width-4, 10)) {
			lines = append(lines, "    "+AnswerStyle.Render(l))
		}
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderFooter() string {
	keys := []struct{ key, desc string }{
		{"^S", "Dictate"},
		{"Enter", "Send"},
		{"^A", "Auto-answer"},
		{"^N", "Sample"},
		{"^Y/^T", "Copy"},
		{"^R", "Improve"},
		{"^L", "Clear"},
		{"^C", "Quit"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, FooterKeyStyle.Render(k.key)+FooterDescStyle.Render(" "+k.desc))
	}
	return strings.Join(parts, "  ")
}

func wrapText(text string, width int) []string {
	if width <= 0 || lipgloss.Width(text) <= width {
		return []string{text}
	}
	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			switch {
			case current == "":
				current = word
			case len(current)+1+len(word) <= width:
				current += " " + word
			default:
				lines = append(lines, current)
				current = word
			}
		}
		lines = append(lines, current)
	}
	return lines
}
