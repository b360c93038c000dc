package runtime

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-companion/internal/bus"
	"github.com/loqalabs/loqa-companion/internal/config"
	"github.com/loqalabs/loqa-companion/internal/dictation"
	"github.com/loqalabs/loqa-companion/internal/messaging"
	"github.com/loqalabs/loqa-companion/internal/presence"
	"github.com/loqalabs/loqa-companion/internal/speech"

	"github.com/google/uuid"
)

// buildSource picks the speech source for the configured mode. In server
// mode the returned ServerSource also needs the push channel's transcription
// updates.
func buildSource(cfg config.Config, busClient *bus.Client, client *messaging.Client, logger *slog.Logger) (dictation.Source, *speech.ServerSource, error) {
	switch cfg.Speech.Mode {
	case "bus":
		if busClient == nil {
			return nil, nil, fmt.Errorf("speech mode bus requires the bus")
		}
		return speech.NewBusSource(busClient, logger), nil, nil
	case "exec":
		src, err := speech.NewExecSource(cfg.Speech.Command, logger)
		if err != nil {
			return nil, nil, err
		}
		return src, nil, nil
	case "script":
		delay := time.Duration(cfg.Speech.ScriptDelayMS) * time.Millisecond
		src, err := speech.LoadScriptSource(cfg.Speech.ScriptPath, delay, logger)
		if err != nil {
			return nil, nil, err
		}
		return src, nil, nil
	case "server":
		timeout := time.Duration(cfg.Messaging.RequestTimeoutMS) * time.Millisecond
		src := speech.NewServerSource(client, timeout, logger)
		return src, src, nil
	case "none", "":
		return speech.Unsupported{}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown speech mode %q", cfg.Speech.Mode)
	}
}

func buildPush(cfg config.Config, busClient *bus.Client, logger *slog.Logger) (messaging.Push, error) {
	switch cfg.Messaging.Push {
	case "bus":
		if busClient == nil {
			return nil, fmt.Errorf("push over bus requires the bus")
		}
		return messaging.NewBusPush(busClient, logger), nil
	case "websocket":
		return messaging.NewWebSocketPush(cfg.Messaging.PushURL, logger), nil
	case "none", "":
		return messaging.NoPush{}, nil
	default:
		return nil, fmt.Errorf("unknown push transport %q", cfg.Messaging.Push)
	}
}

// buildPresence returns nil when presence is disabled or there is no bus.
func buildPresence(cfg config.Config, busClient *bus.Client, logger *slog.Logger) *presence.Directory {
	if !cfg.Presence.Enabled || busClient == nil {
		return nil
	}
	nodeID := cfg.Presence.NodeID
	if nodeID == "" {
		nodeID = "companion-" + uuid.NewString()[:8]
	}
	capabilities := []presence.Capability{{Name: "question-input"}}
	if cfg.Speech.Mode != "none" {
		capabilities = append(capabilities, presence.Capability{
			Name:       "dictation",
			Attributes: map[string]string{"mode": cfg.Speech.Mode, "language": cfg.Dictation.Language},
		})
	}
	return presence.New(busClient, presence.Options{
		NodeID:            nodeID,
		Role:              "companion",
		Capabilities:      capabilities,
		HeartbeatInterval: time.Duration(cfg.Presence.HeartbeatIntervalMS) * time.Millisecond,
		HeartbeatTimeout:  time.Duration(cfg.Presence.HeartbeatTimeoutMS) * time.Millisecond,
	}, logger)
}

func dictationOptions(cfg config.DictationConfig) dictation.Options {
	return dictation.Options{
		Language:        cfg.Language,
		InterimResults:  cfg.InterimResults,
		Continuous:      cfg.Continuous,
		MaxAlternatives: cfg.MaxAlternatives,
	}
}
