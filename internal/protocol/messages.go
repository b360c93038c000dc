package protocol

import (
	"encoding/json"
	"time"
)

// Transcript represents a recognition result broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// DictationControl asks a recognizer to start or stop a session.
type DictationControl struct {
	SessionID       string    `json:"session_id"`
	Language        string    `json:"language,omitempty"`
	InterimResults  bool      `json:"interim_results"`
	Continuous      bool      `json:"continuous"`
	MaxAlternatives int       `json:"max_alternatives,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// RecognitionError carries an engine error category code.
type RecognitionError struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
}

// SessionEnd is emitted by the recognizer once it stops delivering results.
type SessionEnd struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectDictationStart    = "stt.control.start"
	SubjectDictationStop     = "stt.control.stop"
	SubjectRecognitionError  = "stt.error"
	SubjectSessionEnd        = "stt.session.end"
	SubjectSpeechAll         = "stt.>"
)

// QuestionRequest is the body of a question submission.
type QuestionRequest struct {
	Question string `json:"question"`
}

// AnswerResponse is returned by the question endpoint and pushed to clients.
// Timestamp is seconds since the epoch with a fractional part.
type AnswerResponse struct {
	Success   bool    `json:"success"`
	Question  string  `json:"question,omitempty"`
	Answer    string  `json:"answer,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// Time converts the wire timestamp; a zero timestamp yields the zero time.
func (a AnswerResponse) Time() time.Time {
	if a.Timestamp <= 0 {
		return time.Time{}
	}
	sec := int64(a.Timestamp)
	nsec := int64((a.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// StatusResponse acknowledges capture start/stop requests.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// CaptureState reports the server-side transcription buffer.
type CaptureState struct {
	Transcription string `json:"transcription"`
	Active        bool   `json:"active"`
}

// QuestionDetected is pushed when the server spots a question in speech.
type QuestionDetected struct {
	Question string `json:"question"`
}

// StatusUpdate is pushed on server state changes.
type StatusUpdate struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrorNotice is pushed when the server fails outside a request.
type ErrorNotice struct {
	Message string `json:"message"`
}

// TranscriptionUpdate is pushed by server-side capture.
type TranscriptionUpdate struct {
	Text              string `json:"text"`
	FullTranscription string `json:"full_transcription"`
}

// Envelope frames push events on stream transports.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	EventAnswerReceived      = "answer_received"
	EventQuestionDetected    = "question_detected"
	EventStatusUpdate        = "status_update"
	EventError               = "error"
	EventTranscriptionUpdate = "transcription_update"
	EventManualQuestion      = "manual_question"
)

const (
	SubjectAnswer           = "companion.answer"
	SubjectQuestionDetected = "companion.question.detected"
	SubjectStatus           = "companion.status"
	SubjectError            = "companion.error"
	SubjectTranscription    = "companion.transcription"
	SubjectManualQuestion   = "companion.question.manual"
	SubjectCompanionAll     = "companion.>"
)
