package bus_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/loqalabs/loqa-companion/internal/bus"
	"github.com/loqalabs/loqa-companion/internal/bus/bustest"
	"github.com/loqalabs/loqa-companion/internal/config"
	"github.com/loqalabs/loqa-companion/internal/protocol"
)

func TestConnectRequiresServers(t *testing.T) {
	if _, err := bus.Connect(context.Background(), config.BusConfig{}, bustest.Logger()); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestPublishJSONRoundTrip(t *testing.T) {
	client := bustest.Connect(t)
	if !client.Healthy() {
		t.Fatal("expected healthy connection")
	}

	sub, err := client.Conn().SubscribeSync(protocol.SubjectStatus)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.PublishJSON(protocol.SubjectStatus, protocol.StatusUpdate{Status: "connected", Message: "hi"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	var got protocol.StatusUpdate
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "connected" || got.Message != "hi" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}
