package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sleepwatch/backend/internal/models"
	"github.com/sleepwatch/backend/internal/outbox"
)

const (
	// PingInterval and PongWait are used for heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60
	// DefaultSendBuffer is the per-subscriber outbound queue length.
	DefaultSendBuffer = 64
	// closeGrace bounds how long a closing subscription may take to flush.
	closeGrace = 5 * time.Second
	// relayBacklog is the per-session queue of relay publishes awaiting Redis.
	relayBacklog = 64
	// endedRetention is how long an ended session id is remembered so late
	// subscribers are told it ended instead of waiting forever.
	endedRetention = 10 * time.Minute
)

// Transport is the write side of one push connection. The hub serialises all
// calls for a given transport on a single writer goroutine.
type Transport interface {
	WriteMessage(data []byte) error
	Ping() error
	Close() error
}

// RelayMessage crosses instances for sessions with subscribers on several hosts.
type RelayMessage struct {
	Kind   string           `json:"kind"`
	Data   json.RawMessage  `json:"data,omitempty"`
	Reason models.EndReason `json:"reason,omitempty"`
}

const (
	relayKindMessage = "message"
	relayKindClose   = "close"
)

// Relay forwards session traffic to hubs on other instances. Implementations
// must not deliver a hub's own publications back to it.
type Relay interface {
	Publish(sessionID string, msg RelayMessage) error
	Subscribe(sessionID string, handler func(RelayMessage)) (cancel func(), err error)
}

// Config tunes liveness and buffering.
type Config struct {
	PingInterval time.Duration
	PongWait     time.Duration
	SendBuffer   int
	Now          func() time.Time
}

// Hub maintains session_id -> set of subscriptions and fans updates out.
// Uses an optional relay for horizontal scaling: local delivery + publish to peers.
type Hub struct {
	// sessionID -> map[subscriptionID]*Subscription
	sessions map[string]map[string]*Subscription
	relays   map[string]*relayLink
	outboxes map[string]*outbox.Outbox // pending relay publishes per session
	ended    map[string]endedMark
	mu       sync.RWMutex
	cfg      Config
	relay    Relay
	logger   *zap.Logger
}

// relayLink is the relay subscription of one session. cancel stays nil while
// the subscribe call is in flight.
type relayLink struct {
	cancel func()
}

type endedMark struct {
	reason models.EndReason
	at     time.Time
}

// NewHub creates a hub. relay may be nil for a single instance.
func NewHub(cfg Config, relay Relay, logger *zap.Logger) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = PingInterval * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = PongWait * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[string]map[string]*Subscription),
		relays:   make(map[string]*relayLink),
		outboxes: make(map[string]*outbox.Outbox),
		ended:    make(map[string]endedMark),
		cfg:      cfg,
		relay:    relay,
		logger:   logger,
	}
}

// Subscribe registers t as an observer of sessionID, sends the connected
// acknowledgement and starts the subscription's writer. Subscribing to a
// session that already ended delivers session_ended and closes t.
func (h *Hub) Subscribe(sessionID string, t Transport) *Subscription {
	s := &Subscription{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		hub:       h,
		transport: t,
		capacity:  h.cfg.SendBuffer,
		notify:    make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
	s.lastSeen.Store(h.cfg.Now().UnixNano())

	ack, _ := json.Marshal(models.ConnectedMessage{
		Type:      models.MessageConnected,
		SessionID: sessionID,
		Message:   "WebSocket connected",
	})
	s.enqueue(ack)
	s.state.Store(int32(StateOpen))

	h.mu.Lock()
	if mark, ok := h.ended[sessionID]; ok {
		h.mu.Unlock()
		s.endWith(endedMessage(sessionID, mark.reason))
		go s.writeLoop()
		h.logger.Debug("subscription to ended session", zap.String("subscription_id", s.ID), zap.String("session_id", sessionID))
		return s
	}
	var link *relayLink
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[string]*Subscription)
		if h.relay != nil {
			link = &relayLink{}
			h.relays[sessionID] = link
		}
	}
	h.sessions[sessionID][s.ID] = s
	h.mu.Unlock()

	go s.writeLoop()
	if link != nil {
		h.attachRelay(sessionID, link)
	}

	h.logger.Debug("subscription opened", zap.String("subscription_id", s.ID), zap.String("session_id", sessionID))
	return s
}

// attachRelay subscribes to peer traffic without holding h.mu. The link may
// have been dropped meanwhile, in which case the new subscription is cancelled.
func (h *Hub) attachRelay(sessionID string, link *relayLink) {
	cancel, err := h.relay.Subscribe(sessionID, func(m RelayMessage) { h.onRelay(sessionID, m) })

	h.mu.Lock()
	current := h.relays[sessionID] == link
	if err != nil {
		if current {
			delete(h.relays, sessionID)
		}
		h.mu.Unlock()
		h.logger.Warn("relay subscribe failed", zap.Error(err), zap.String("session_id", sessionID))
		return
	}
	if current {
		link.cancel = cancel
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	cancel()
}

// Unsubscribe removes s from the hub and closes its transport.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.detach(s)
	s.shutdown()
	h.logger.Debug("subscription closed", zap.String("subscription_id", s.ID), zap.String("session_id", s.SessionID))
}

func (h *Hub) detach(s *Subscription) {
	h.mu.Lock()
	m, ok := h.sessions[s.SessionID]
	if !ok || m[s.ID] != s {
		h.mu.Unlock()
		return
	}
	delete(m, s.ID)
	var cancel func()
	if len(m) == 0 {
		delete(h.sessions, s.SessionID)
		cancel = h.dropRelayLocked(s.SessionID)
	}
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// dropRelayLocked forgets the session's relay link and returns its cancel
// func, if the subscription was established, for the caller to run unlocked.
func (h *Hub) dropRelayLocked(sessionID string) func() {
	link, ok := h.relays[sessionID]
	if !ok {
		return nil
	}
	delete(h.relays, sessionID)
	return link.cancel
}

// Publish delivers msg to every open subscription of the session here and,
// through the relay, on other instances. It never blocks on a subscriber.
func (h *Hub) Publish(sessionID string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal push message", zap.Error(err), zap.String("session_id", sessionID))
		return
	}
	h.deliver(sessionID, data)
	if h.relay == nil {
		return
	}
	if box := h.relayOutbox(sessionID); box != nil {
		box.Push(func() { h.relayPublish(sessionID, RelayMessage{Kind: relayKindMessage, Data: data}) })
	}
}

// relayOutbox returns the session's queue of relay publishes, creating it on
// first use. It returns nil for a session that already ended.
func (h *Hub) relayOutbox(sessionID string) *outbox.Outbox {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.ended[sessionID]; ok {
		return nil
	}
	box, ok := h.outboxes[sessionID]
	if !ok {
		box = outbox.New(relayBacklog)
		h.outboxes[sessionID] = box
	}
	return box
}

func (h *Hub) relayPublish(sessionID string, msg RelayMessage) {
	if err := h.relay.Publish(sessionID, msg); err != nil {
		h.logger.Warn("relay publish failed", zap.Error(err), zap.String("session_id", sessionID), zap.String("kind", msg.Kind))
	}
}

func (h *Hub) deliver(sessionID string, data []byte) {
	for _, s := range h.subscribers(sessionID) {
		if s.State() == StateOpen {
			s.enqueue(data)
		}
	}
}

func (h *Hub) subscribers(sessionID string) []*Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m := h.sessions[sessionID]
	out := make([]*Subscription, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out
}

// CloseSession tells every subscriber the session ended and closes them once
// the message is flushed.
func (h *Hub) CloseSession(sessionID string, reason models.EndReason) {
	h.closeLocal(sessionID, reason)
	if h.relay == nil {
		return
	}
	h.mu.Lock()
	box, ok := h.outboxes[sessionID]
	delete(h.outboxes, sessionID)
	h.mu.Unlock()
	if !ok {
		box = outbox.New(1)
	}
	box.Push(func() { h.relayPublish(sessionID, RelayMessage{Kind: relayKindClose, Reason: reason}) })
	box.Close()
}

func (h *Hub) closeLocal(sessionID string, reason models.EndReason) {
	h.mu.Lock()
	m := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.ended[sessionID] = endedMark{reason: reason, at: h.cfg.Now()}
	cancel := h.dropRelayLocked(sessionID)
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if len(m) == 0 {
		return
	}

	ended := endedMessage(sessionID, reason)
	for _, s := range m {
		s.endWith(ended)
	}
	h.logger.Info("session subscriptions closed", zap.String("session_id", sessionID), zap.Int("subscribers", len(m)))
}

func endedMessage(sessionID string, reason models.EndReason) []byte {
	data, _ := json.Marshal(models.SessionEndedMessage{
		Type:      models.MessageSessionEnded,
		SessionID: sessionID,
		Reason:    reason,
	})
	return data
}

func (h *Hub) onRelay(sessionID string, m RelayMessage) {
	switch m.Kind {
	case relayKindMessage:
		h.deliver(sessionID, m.Data)
	case relayKindClose:
		h.closeLocal(sessionID, m.Reason)
	}
}

// Touch records a liveness signal for s.
func (h *Hub) Touch(s *Subscription) {
	s.lastSeen.Store(h.cfg.Now().UnixNano())
}

// EvictStale closes subscriptions with no liveness signal for longer than
// PongWait before now and forgets sessions that ended long ago. It returns
// the number of subscriptions evicted.
func (h *Hub) EvictStale(now time.Time) int {
	h.mu.Lock()
	var stale []*Subscription
	for _, m := range h.sessions {
		for _, s := range m {
			if now.Sub(s.LastSeen()) > h.cfg.PongWait {
				stale = append(stale, s)
			}
		}
	}
	for id, mark := range h.ended {
		if now.Sub(mark.at) > endedRetention {
			delete(h.ended, id)
		}
	}
	h.mu.Unlock()

	for _, s := range stale {
		h.logger.Info("evicting silent subscription",
			zap.String("subscription_id", s.ID),
			zap.String("session_id", s.SessionID),
			zap.Time("last_seen", s.LastSeen()),
		)
		h.Unsubscribe(s)
	}
	return len(stale)
}

// Run evicts silent subscriptions until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PongWait / 4)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.EvictStale(h.cfg.Now())
		}
	}
}

// SubscriberCount returns the number of subscriptions for a session on this instance.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
