package ui

// StateChangedMsg tells the model to re-read the assistant state.
type StateChangedMsg struct{}

// actionDoneMsg is returned by commands that ran a blocking assistant call.
type actionDoneMsg struct{}

// dictationFailedMsg reports that dictation could not be started.
type dictationFailedMsg struct{ Err error }
