package presence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/loqalabs/loqa-companion/internal/bus/bustest"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDirectoryAnnouncesItself(t *testing.T) {
	client := bustest.Connect(t)
	announces, err := client.Conn().SubscribeSync(SubjectAnnounce)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	dir := New(client, Options{
		NodeID:       "companion-1",
		Role:         "companion",
		Capabilities: []Capability{{Name: "dictation"}},
	}, bustest.Logger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = dir.Run(ctx) }()

	msg, err := announces.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("no announce: %v", err)
	}
	var a announceMessage
	if err := json.Unmarshal(msg.Data, &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.NodeID != "companion-1" || a.Role != "companion" || len(a.Capabilities) != 1 {
		t.Fatalf("unexpected announce %+v", a)
	}
	if len(dir.Peers()) != 0 {
		t.Fatalf("own announce must not be tracked: %+v", dir.Peers())
	}
}

func TestDirectoryTracksRecognizer(t *testing.T) {
	client := bustest.Connect(t)
	dir := New(client, Options{NodeID: "companion-1", Role: "companion"}, bustest.Logger())
	if err := dir.subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer dir.unsubscribe()

	if dir.RecognizerAvailable() {
		t.Fatal("no recognizer announced yet")
	}
	if err := client.PublishJSON(SubjectAnnounce, announceMessage{
		NodeID:       "stt-1",
		Role:         "recognizer",
		Capabilities: []Capability{{Name: CapabilitySpeech, Tier: "local"}},
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, dir.RecognizerAvailable)

	peers := dir.Peers()
	if len(peers) != 1 || peers[0].ID != "stt-1" || peers[0].Role != "recognizer" {
		t.Fatalf("unexpected peers %+v", peers)
	}
}

func TestDirectoryExpiresSilentPeers(t *testing.T) {
	client := bustest.Connect(t)
	dir := New(client, Options{NodeID: "companion-1", HeartbeatInterval: time.Second}, bustest.Logger())
	now := time.Unix(1000, 0)
	dir.now = func() time.Time { return now }

	dir.touch("stt-1", "recognizer", []Capability{{Name: CapabilitySpeech}})
	if !dir.RecognizerAvailable() {
		t.Fatal("expected recognizer after touch")
	}

	now = now.Add(2 * time.Second)
	dir.expire()
	if !dir.RecognizerAvailable() {
		t.Fatal("peer expired before timeout")
	}

	now = now.Add(2 * time.Second)
	dir.expire()
	if dir.RecognizerAvailable() {
		t.Fatal("expected silent peer to be unhealthy")
	}

	// a heartbeat revives it and keeps the announced capabilities
	dir.touch("stt-1", "", nil)
	if !dir.RecognizerAvailable() {
		t.Fatal("expected heartbeat to revive peer")
	}
}

func TestDirectoryIgnoresGarbage(t *testing.T) {
	client := bustest.Connect(t)
	dir := New(client, Options{NodeID: "companion-1"}, bustest.Logger())
	if err := dir.subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer dir.unsubscribe()

	if err := client.Conn().Publish(SubjectAnnounce, []byte("not json")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := client.PublishJSON("ctrl.node.heartbeat.stt-2", heartbeatMessage{NodeID: "stt-2"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { return len(dir.Peers()) == 1 })
	if dir.RecognizerAvailable() {
		t.Fatal("heartbeat alone carries no capabilities")
	}
}
