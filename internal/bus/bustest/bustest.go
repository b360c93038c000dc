// Package bustest starts an in-process NATS server for tests.
package bustest

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/loqalabs/loqa-companion/internal/bus"
	"github.com/loqalabs/loqa-companion/internal/config"
	"github.com/loqalabs/loqa-companion/internal/natsserver"
)

func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Connect starts an embedded server on a random port and returns a client
// connected to it. Both are torn down when the test ends.
func Connect(t testing.TB) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1}, Logger())
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, Logger())
	if err != nil {
		t.Fatalf("connect to embedded nats: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}
