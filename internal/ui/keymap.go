package ui

// Key bindings handled by the model.
const (
	KeyQuit          = "ctrl+c"
	KeyToggleDictate = "ctrl+s"
	KeyStopDictate   = "ctrl+x"
	KeySend          = "enter"
	KeyAskPush       = "alt+enter"
	KeyClearAnswers  = "ctrl+l"
	KeyClearQuestion = "ctrl+u"
	KeySample        = "ctrl+n"
	KeyAutoAnswer    = "ctrl+a"
	KeyCopyAnswer    = "ctrl+y"
	KeyCopyQuestion  = "ctrl+t"
	KeyImprove       = "ctrl+r"
	KeyDismiss       = "esc"
	KeyBackspace     = "backspace"
	KeyUp            = "up"
	KeyDown          = "down"
)
