package speech

import (
	"context"

	"github.com/loqalabs/loqa-companion/internal/dictation"
)

// Unsupported is the source used when no recognizer is configured.
type Unsupported struct{}

func (Unsupported) Available() bool { return false }

func (Unsupported) Start(context.Context, dictation.Options, dictation.Sink) error {
	return dictation.ErrEngineUnavailable
}

func (Unsupported) Stop() error { return nil }
