package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/quizowl/quizowl-tutor/internal/bus"
	"github.com/quizowl/quizowl-tutor/internal/config"
	"github.com/quizowl/quizowl-tutor/internal/protocol"
)

// ClientInfo describes one quiz client known to the runtime: a tablet
// or browser that opens tutor sessions and plays audio.
type ClientInfo struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind,omitempty"`
	LastSeen time.Time `json:"last_seen"`
	Alive    bool      `json:"alive"`
}

// Registry tracks quiz clients through their announce and heartbeat
// messages and expires the ones that stop beating.
type Registry struct {
	cfg    config.RegistryConfig
	log    *slog.Logger
	bus    *bus.Client
	cancel context.CancelFunc
	subs   []*nats.Subscription

	mu      sync.RWMutex
	clients map[string]*ClientInfo
	clock   func() time.Time
}

func New(ctx context.Context, cfg config.RegistryConfig, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:     cfg,
		log:     log.With(slog.String("component", "client-registry")),
		bus:     busClient,
		cancel:  cancel,
		clients: make(map[string]*ClientInfo),
		clock:   time.Now,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	go r.monitorLiveness(ctx)

	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectClientAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectClientHeartbeatPrefix+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)

	return nil
}

func (r *Registry) monitorLiveness(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.expireStale()
		}
	}
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announce protocol.ClientAnnounce
	if err := json.Unmarshal(msg.Data, &announce); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announce.ClientID == "" {
		return
	}
	if announce.Timestamp.IsZero() {
		announce.Timestamp = r.clock().UTC()
	}
	r.touch(announce.ClientID, announce.Kind, announce.Timestamp)
	r.log.Info("quiz client announced", slog.String("client_id", announce.ClientID), slog.String("kind", announce.Kind))
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.ClientHeartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.ClientID == "" {
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.clock().UTC()
	}
	r.touch(hb.ClientID, "", hb.Timestamp)
}

func (r *Registry) touch(clientID, kind string, timestamp time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[clientID]
	if !ok {
		client = &ClientInfo{ID: clientID}
		r.clients[clientID] = client
	}
	if kind != "" {
		client.Kind = kind
	}
	client.LastSeen = timestamp
	client.Alive = true
}

func (r *Registry) expireStale() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeoutMS) * time.Millisecond
	now := r.clock()
	for _, client := range r.clients {
		if client.Alive && now.Sub(client.LastSeen) > timeout {
			client.Alive = false
			r.log.Info("quiz client expired", slog.String("client_id", client.ID))
		}
	}
}

// Alive reports whether the given client has a live heartbeat.
func (r *Registry) Alive(clientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[clientID]
	return ok && client.Alive
}

// Clients returns a snapshot of every known client.
func (r *Registry) Clients() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]ClientInfo, 0, len(r.clients))
	for _, client := range r.clients {
		results = append(results, *client)
	}
	return results
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/quizowl/quizowl-tutor/runtime")
	known, err := meter.Int64ObservableGauge("quizowl.clients.known", metric.WithDescription("Number of known quiz clients"))
	if err != nil {
		return err
	}
	alive, err := meter.Int64ObservableGauge("quizowl.clients.alive", metric.WithDescription("Quiz clients with a live heartbeat"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		knownCount, aliveCount := r.snapshotCounts()
		obs.ObserveInt64(known, knownCount)
		obs.ObserveInt64(alive, aliveCount)
		return nil
	}, known, alive)
	return err
}

func (r *Registry) snapshotCounts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var known, alive int64
	for _, client := range r.clients {
		known++
		if client.Alive {
			alive++
		}
	}
	return known, alive
}
