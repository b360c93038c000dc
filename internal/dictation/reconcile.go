package dictation

import "strings"

// Kind tags a recognition event as tentative or settled.
type Kind int

const (
	Interim Kind = iota
	Final
)

func (k Kind) String() string {
	if k == Final {
		return "final"
	}
	return "interim"
}

// Event is a single recognition result, delivered in arrival order.
type Event struct {
	Kind Kind
	Text string
}

// InterimEvent is a tentative result that may still change.
func InterimEvent(text string) Event { return Event{Kind: Interim, Text: text} }

// FinalEvent is a settled result.
func FinalEvent(text string) Event { return Event{Kind: Final, Text: text} }

// State is the transcript accumulated during one dictation session.
// Committed only grows until the state is replaced by a fresh one.
type State struct {
	Committed string
	LastFinal string
}

// Preview is what the user should currently see. Interim is kept apart so a
// renderer can style it differently from committed text.
type Preview struct {
	Committed string
	Interim   string
}

// Text joins committed and interim text.
func (p Preview) Text() string { return p.Committed + p.Interim }

// Empty reports whether there is nothing to show.
func (p Preview) Empty() bool { return p.Committed == "" && p.Interim == "" }

// Reconcile folds one event into the state. A final result equal to the
// previous final is not appended again; only the immediately preceding final
// is compared, so A, B, A commits A twice. Empty finals are ignored.
func Reconcile(state State, evt Event) (State, Preview) {
	if evt.Kind == Final {
		if evt.Text != "" && evt.Text != state.LastFinal {
			state.Committed += evt.Text + " "
			state.LastFinal = evt.Text
		}
		return state, Preview{Committed: state.Committed}
	}
	return state, Preview{Committed: state.Committed, Interim: evt.Text}
}

// Result is one hypothesis inside an engine callback.
type Result struct {
	Text  string
	Final bool
}

// Collapse folds the results of a single engine callback into at most one
// final and one interim event, final first. Texts of the same kind are
// concatenated in order.
func Collapse(results []Result) []Event {
	var finals, interims strings.Builder
	for _, r := range results {
		if r.Final {
			finals.WriteString(r.Text)
		} else {
			interims.WriteString(r.Text)
		}
	}
	var events []Event
	if finals.Len() > 0 {
		events = append(events, FinalEvent(finals.String()))
	}
	if interims.Len() > 0 {
		events = append(events, InterimEvent(interims.String()))
	}
	return events
}

// Replay runs events through Reconcile from an empty state and returns the
// final state with every intermediate preview.
func Replay(events []Event) (State, []Preview) {
	var state State
	previews := make([]Preview, 0, len(events))
	for _, evt := range events {
		var p Preview
		state, p = Reconcile(state, evt)
		previews = append(previews, p)
	}
	return state, previews
}
