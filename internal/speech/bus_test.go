package speech

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/loqalabs/loqa-companion/internal/bus/bustest"
	"github.com/loqalabs/loqa-companion/internal/dictation"
	"github.com/loqalabs/loqa-companion/internal/protocol"
)

func TestBusSourceRelaysSessionResults(t *testing.T) {
	client := bustest.Connect(t)
	control, err := client.Conn().SubscribeSync(protocol.SubjectDictationStart)
	if err != nil {
		t.Fatalf("subscribe control: %v", err)
	}

	src := NewBusSource(client, bustest.Logger())
	sink := make(chanSink, 16)
	opts := dictation.Options{SessionID: "s1", Language: "en-US", InterimResults: true}
	if err := src.Start(t.Context(), opts, sink); err != nil {
		t.Fatalf("Start: %v", err)
	}

	msg, err := control.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("no start control: %v", err)
	}
	var ctrl protocol.DictationControl
	if err := json.Unmarshal(msg.Data, &ctrl); err != nil {
		t.Fatalf("decode control: %v", err)
	}
	if ctrl.SessionID != "s1" || ctrl.Language != "en-US" {
		t.Fatalf("unexpected control %+v", ctrl)
	}

	publish := func(subject string, v any) {
		t.Helper()
		if err := client.PublishJSON(subject, v); err != nil {
			t.Fatalf("publish %s: %v", subject, err)
		}
	}
	publish(protocol.SubjectTranscriptPartial, protocol.Transcript{SessionID: "s1", Text: "hel", Partial: true})
	publish(protocol.SubjectTranscriptFinal, protocol.Transcript{SessionID: "other", Text: "ignored"})
	publish(protocol.SubjectTranscriptFinal, protocol.Transcript{SessionID: "s1", Text: "hello"})
	publish(protocol.SubjectSessionEnd, protocol.SessionEnd{SessionID: "s1"})

	got := collect(t, sink)
	if len(got) != 3 {
		t.Fatalf("expected 3 signals, got %+v", got)
	}
	if got[0].Event != dictation.InterimEvent("hel") || got[1].Event != dictation.FinalEvent("hello") {
		t.Fatalf("unexpected results %+v", got[:2])
	}
	if got[2].Kind != dictation.SignalEnd {
		t.Fatalf("expected end, got %+v", got[2])
	}
}

func TestBusSourceRelaysErrors(t *testing.T) {
	client := bustest.Connect(t)
	src := NewBusSource(client, bustest.Logger())
	sink := make(chanSink, 4)
	if err := src.Start(t.Context(), dictation.Options{SessionID: "s1"}, sink); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := client.PublishJSON(protocol.SubjectTranscriptPartial, protocol.Transcript{SessionID: "s1", Text: "dropped"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := client.PublishJSON(protocol.SubjectRecognitionError, protocol.RecognitionError{SessionID: "s1", Code: "not-allowed"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got := collect(t, sink)
	if len(got) != 1 || got[0].Code != dictation.CodeNotAllowed {
		t.Fatalf("unexpected signals %+v", got)
	}
}

func TestBusSourceStopPublishesControl(t *testing.T) {
	client := bustest.Connect(t)
	control, err := client.Conn().SubscribeSync(protocol.SubjectDictationStop)
	if err != nil {
		t.Fatalf("subscribe control: %v", err)
	}
	src := NewBusSource(client, bustest.Logger())
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop before start: %v", err)
	}
	if err := src.Start(t.Context(), dictation.Options{SessionID: "s1"}, make(chanSink, 4)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	msg, err := control.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("no stop control: %v", err)
	}
	var ctrl protocol.DictationControl
	if err := json.Unmarshal(msg.Data, &ctrl); err != nil {
		t.Fatalf("decode control: %v", err)
	}
	if ctrl.SessionID != "s1" {
		t.Fatalf("unexpected stop control %+v", ctrl)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if _, err := control.NextMsg(100 * time.Millisecond); err == nil {
		t.Fatalf("second Stop must not publish")
	}
}

type fixedRecognizers bool

func (f fixedRecognizers) RecognizerAvailable() bool { return bool(f) }

func TestBusSourceRequiresRecognizer(t *testing.T) {
	client := bustest.Connect(t)
	src := NewBusSource(client, bustest.Logger())
	if !src.Available() {
		t.Fatal("expected source to be available without a recognizer check")
	}
	src.RequireRecognizer(fixedRecognizers(false))
	if src.Available() {
		t.Fatal("expected source to be unavailable without a recognizer")
	}
	src.RequireRecognizer(fixedRecognizers(true))
	if !src.Available() {
		t.Fatal("expected source to be available once a recognizer is present")
	}
}
