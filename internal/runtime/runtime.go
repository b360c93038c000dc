package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-companion/internal/bus"
	"github.com/loqalabs/loqa-companion/internal/companion"
	"github.com/loqalabs/loqa-companion/internal/config"
	"github.com/loqalabs/loqa-companion/internal/dictation"
	"github.com/loqalabs/loqa-companion/internal/messaging"
	"github.com/loqalabs/loqa-companion/internal/natsserver"
	"github.com/loqalabs/loqa-companion/internal/presence"
	"github.com/loqalabs/loqa-companion/internal/speech"
	"github.com/loqalabs/loqa-companion/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
)

type Runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	in       io.Reader
	out      io.Writer
	traceOut io.Writer

	httpServer    *http.Server
	metricsServer *http.Server
	busClient     *bus.Client
	directory     *presence.Directory
	assistant     *companion.Assistant
	session       *dictation.Session
	ready         atomic.Bool
	wg            sync.WaitGroup
}

type Option func(*Runtime)

// WithTerminal sets where the front end reads input and draws output.
func WithTerminal(in io.Reader, out io.Writer) Option {
	return func(r *Runtime) {
		r.in = in
		r.out = out
	}
}

// WithTraceWriter sends spans to w when no OTLP endpoint is configured.
func WithTraceWriter(w io.Writer) Option {
	return func(r *Runtime) { r.traceOut = w }
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:    cfg,
		logger: logger,
		in:     os.Stdin,
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start wires the companion together and blocks until ctx is cancelled or
// the user quits the front end.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.traceOut, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger.With(slog.String("component", "natsserver")))
	if err != nil {
		return err
	}
	defer embedded.Shutdown()

	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		if embedded != nil {
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		r.busClient, err = bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			return err
		}
		defer r.busClient.Close()
	}

	client := messaging.NewClient(r.cfg.Messaging, r.logger)
	push, err := buildPush(r.cfg, r.busClient, r.logger)
	if err != nil {
		return err
	}
	source, serverSource, err := buildSource(r.cfg, r.busClient, client, r.logger)
	if err != nil {
		return err
	}
	r.directory = buildPresence(r.cfg, r.busClient, r.logger)
	if busSource, ok := source.(*speech.BusSource); ok && r.directory != nil && r.cfg.Presence.RequireRecognizer {
		busSource.RequireRecognizer(r.directory)
	}

	deps := companion.Deps{
		Asker:   client,
		Push:    push,
		Notify:  r.cfg.Notify,
		Samples: r.cfg.UI.SampleQuestions,
		Logger:  r.logger,
	}
	if serverSource != nil {
		deps.Feeder = serverSource
	}
	r.assistant = companion.NewAssistant(deps)
	r.session = dictation.NewSession(source, r.assistant, r.assistant, dictationOptions(r.cfg.Dictation), r.logger)
	r.assistant.BindDictation(r.session)

	r.goRun("dictation", func() error { return r.session.Run(ctx) })
	r.goRun("push", func() error { return push.Run(ctx, r.assistant) })
	if r.directory != nil {
		r.goRun("presence", func() error { return r.directory.Run(ctx) })
	}
	r.startHTTP(metricsHandler)

	r.ready.Store(true)
	r.logger.Info("companion started",
		slog.String("speech", r.cfg.Speech.Mode),
		slog.String("push", r.cfg.Messaging.Push),
		slog.String("ui", r.cfg.UI.Mode))

	uiErr := r.runFrontEnd(ctx)
	cancel()

	r.logger.Info("companion stopping")
	r.ready.Store(false)
	r.stopHTTP()
	r.wg.Wait()
	return uiErr
}

func (r *Runtime) runFrontEnd(ctx context.Context) error {
	switch r.cfg.UI.Mode {
	case "log":
		view := ui.NewLogView(r.assistant, r.out)
		r.assistant.OnChange(view.Changed)
		if err := view.Run(ctx, r.in); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		// input closed: keep serving until signalled
		<-ctx.Done()
		return nil
	default:
		program := tea.NewProgram(ui.New(ctx, r.assistant),
			tea.WithAltScreen(),
			tea.WithContext(ctx),
			tea.WithInput(r.in),
			tea.WithOutput(r.out))

		// coalesce change notifications so the assistant never blocks on
		// the program's event loop
		changed := make(chan struct{}, 1)
		r.assistant.OnChange(func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
		r.goRun("ui-notify", func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-changed:
					program.Send(ui.StateChangedMsg{})
				}
			}
		})

		if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("terminal ui: %w", err)
		}
		return nil
	}
}

func (r *Runtime) goRun(name string, fn func() error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("component failed", slog.String("component", name), slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) startHTTP(metricsHandler http.Handler) {
	if r.cfg.HTTP.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", r.handleHealth)
		mux.HandleFunc("/readyz", r.handleReady)
		mux.HandleFunc("/state", r.handleState)
		addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
		r.httpServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		r.serve(r.httpServer)
	}
	if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{Addr: r.cfg.Telemetry.PrometheusBind, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		r.serve(r.metricsServer)
	}
}

func (r *Runtime) serve(srv *http.Server) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.logger.Info("http listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("addr", srv.Addr), slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) stopHTTP() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (!r.cfg.Bus.Enabled || r.busClient.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

type stateResponse struct {
	Dictation dictation.Snapshot `json:"dictation"`
	Companion companion.State    `json:"companion"`
	Peers     []presence.Peer    `json:"peers,omitempty"`
}

func (r *Runtime) handleState(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	resp := stateResponse{
		Dictation: r.session.Snapshot(),
		Companion: r.assistant.Snapshot(),
	}
	if r.directory != nil {
		resp.Peers = r.directory.Peers()
	}
	_ = json.NewEncoder(w).Encode(resp)
}
