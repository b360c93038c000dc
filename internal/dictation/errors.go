package dictation

import (
	"errors"
	"fmt"
)

// ErrorCode is a speech engine error category.
type ErrorCode string

const (
	CodeNotAllowed        ErrorCode = "not-allowed"
	CodeNoSpeech          ErrorCode = "no-speech"
	CodeAudioCapture      ErrorCode = "audio-capture"
	CodeNetwork           ErrorCode = "network"
	CodeServiceNotAllowed ErrorCode = "service-not-allowed"
)

// ErrEngineUnavailable is returned when no speech source can run here.
var ErrEngineUnavailable = errors.New("speech recognition not supported")

const (
	UnavailableMessage = "Speech recognition not supported in this environment. Configure a speech source or type your question."
	ListeningMessage   = "Listening... Speak clearly"
	CapturedMessage    = "Speech captured successfully"
	NoCaptureMessage   = "Start dictation to speak your question"
)

// Message maps an engine error code to the text shown to the user.
func Message(code ErrorCode) string {
	switch code {
	case CodeNotAllowed:
		return "Microphone access denied. Please allow microphone access and try again."
	case CodeNoSpeech:
		return "No speech detected. Please try speaking louder or closer to the microphone."
	case CodeAudioCapture:
		return "Audio capture failed. Please check your microphone connection."
	case CodeNetwork:
		return "Network error occurred during speech recognition."
	case CodeServiceNotAllowed:
		return "Speech recognition service not allowed. Please check browser settings."
	default:
		return fmt.Sprintf("Speech recognition error: %s", string(code))
	}
}

// EngineError reports a runtime failure of the speech engine.
type EngineError struct {
	Code ErrorCode
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("speech engine error: %s", string(e.Code))
}

// codeFromError extracts the engine code, falling back to the error text.
func codeFromError(err error) ErrorCode {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	return ErrorCode(err.Error())
}
