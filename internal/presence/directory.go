package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/loqa-companion/internal/bus"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	SubjectAnnounce  = "ctrl.node.announce"
	SubjectHeartbeat = "ctrl.node.heartbeat.*"

	// CapabilitySpeech is advertised by recognizers that serve stt.control.*.
	CapabilitySpeech = "stt"
)

type Capability struct {
	Name       string            `json:"name"`
	Tier       string            `json:"tier,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Peer is a node seen on the bus.
type Peer struct {
	ID           string       `json:"id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	LastSeen     time.Time    `json:"last_seen"`
	Healthy      bool         `json:"healthy"`
}

func (p Peer) Has(capability string) bool {
	for _, c := range p.Capabilities {
		if c.Name == capability {
			return true
		}
	}
	return false
}

type announceMessage struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type heartbeatMessage struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}

type Options struct {
	NodeID            string
	Role              string
	Capabilities      []Capability
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// Directory announces this process on the bus and keeps track of the other
// nodes that announce themselves, such as recognizers and answer servers.
type Directory struct {
	opts Options
	bus  *bus.Client
	log  *slog.Logger

	mu    sync.RWMutex
	peers map[string]*Peer
	subs  []*nats.Subscription
	now   func() time.Time
}

func New(busClient *bus.Client, opts Options, logger *slog.Logger) *Directory {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 2 * time.Second
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 3 * opts.HeartbeatInterval
	}
	return &Directory{
		opts:  opts,
		bus:   busClient,
		log:   logger.With(slog.String("component", "presence")),
		peers: make(map[string]*Peer),
		now:   time.Now,
	}
}

// Run subscribes, announces and heartbeats until ctx is cancelled.
func (d *Directory) Run(ctx context.Context) error {
	if err := d.subscribe(); err != nil {
		return err
	}
	defer d.unsubscribe()
	d.initMetrics()

	if err := d.announce(); err != nil {
		d.log.Warn("failed to announce node", slogError(err))
	}

	heartbeat := time.NewTicker(d.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeat.C:
			if err := d.publishHeartbeat(); err != nil {
				d.log.Warn("failed to publish heartbeat", slogError(err))
			}
			d.expire()
		}
	}
}

func (d *Directory) subscribe() error {
	conn := d.bus.Conn()
	announceSub, err := conn.Subscribe(SubjectAnnounce, d.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	heartbeatSub, err := conn.Subscribe(SubjectHeartbeat, d.handleHeartbeat)
	if err != nil {
		_ = announceSub.Unsubscribe()
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	d.mu.Lock()
	d.subs = []*nats.Subscription{announceSub, heartbeatSub}
	d.mu.Unlock()
	return conn.Flush()
}

func (d *Directory) unsubscribe() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sub := range d.subs {
		_ = sub.Unsubscribe()
	}
	d.subs = nil
}

func (d *Directory) announce() error {
	return d.bus.PublishJSON(SubjectAnnounce, announceMessage{
		NodeID:       d.opts.NodeID,
		Role:         d.opts.Role,
		Capabilities: d.opts.Capabilities,
		Timestamp:    d.now().UTC(),
	})
}

func (d *Directory) publishHeartbeat() error {
	subject := fmt.Sprintf("ctrl.node.heartbeat.%s", d.opts.NodeID)
	return d.bus.PublishJSON(subject, heartbeatMessage{NodeID: d.opts.NodeID, Timestamp: d.now().UTC()})
}

func (d *Directory) handleAnnounce(msg *nats.Msg) {
	var a announceMessage
	if err := json.Unmarshal(msg.Data, &a); err != nil {
		d.log.Warn("invalid announce message", slogError(err))
		return
	}
	if a.NodeID == "" || a.NodeID == d.opts.NodeID {
		return
	}
	d.touch(a.NodeID, a.Role, a.Capabilities)
	d.log.Info("peer announced", slog.String("node_id", a.NodeID), slog.String("role", a.Role))
}

func (d *Directory) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		d.log.Warn("invalid heartbeat message", slogError(err))
		return
	}
	if hb.NodeID == "" || hb.NodeID == d.opts.NodeID {
		return
	}
	d.touch(hb.NodeID, "", nil)
}

// touch records that a peer was seen. Local time is used so clock skew
// between nodes cannot keep a dead peer alive.
func (d *Directory) touch(nodeID, role string, capabilities []Capability) {
	d.mu.Lock()
	defer d.mu.Unlock()
	peer, ok := d.peers[nodeID]
	if !ok {
		peer = &Peer{ID: nodeID}
		d.peers[nodeID] = peer
	}
	if role != "" {
		peer.Role = role
	}
	if len(capabilities) > 0 {
		peer.Capabilities = capabilities
	}
	peer.LastSeen = d.now()
	peer.Healthy = true
}

func (d *Directory) expire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for _, peer := range d.peers {
		if peer.Healthy && now.Sub(peer.LastSeen) > d.opts.HeartbeatTimeout {
			peer.Healthy = false
			d.log.Warn("peer went silent", slog.String("node_id", peer.ID))
		}
	}
}

// Peers returns the known peers sorted by ID.
func (d *Directory) Peers() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Peer, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HasCapability reports whether a healthy peer advertises capability.
func (d *Directory) HasCapability(capability string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.peers {
		if p.Healthy && p.Has(capability) {
			return true
		}
	}
	return false
}

// RecognizerAvailable reports whether a healthy recognizer is on the bus.
func (d *Directory) RecognizerAvailable() bool {
	return d.HasCapability(CapabilitySpeech)
}

func (d *Directory) initMetrics() {
	meter := otel.Meter("github.com/loqalabs/loqa-companion/presence")
	gauge, err := meter.Int64ObservableGauge("companion.presence.peers", metric.WithDescription("Healthy peers seen on the bus"))
	if err != nil {
		d.log.Warn("failed to create metric", slogError(err))
		return
	}
	if _, err := meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		var healthy int64
		for _, p := range d.Peers() {
			if p.Healthy {
				healthy++
			}
		}
		obs.ObserveInt64(gauge, healthy)
		return nil
	}, gauge); err != nil {
		d.log.Warn("failed to register metric callback", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
