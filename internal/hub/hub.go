// Package hub is the event relay between connected consumers. It validates
// inbound events, updates the stores and fans derived events out to the
// subscribers of each topic without waiting for persistence.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"rescueops-hub/internal/audit"
	"rescueops-hub/internal/correlate"
	"rescueops-hub/internal/fleet"
	"rescueops-hub/internal/keylock"
	"rescueops-hub/internal/metrics"
	"rescueops-hub/internal/session"
	"rescueops-hub/internal/sink"
	"rescueops-hub/internal/state"
	"rescueops-hub/internal/writeback"
)

// ErrClosed is returned once Shutdown has started.
var ErrClosed = errors.New("hub: closed")

// Options tune connection handling. Zero values get defaults.
type Options struct {
	// DefaultSession scopes MISSION_COMPLETE audit events when neither the
	// event nor any registered session names one.
	DefaultSession string
	SendBuffer     int
	ReadLimit      int64
	WriteTimeout   time.Duration
	PongWait       time.Duration
	InboundRate    float64
	InboundBurst   int
}

func (o *Options) defaults() {
	if o.DefaultSession == "" {
		o.DefaultSession = "unscoped"
	}
	if o.SendBuffer < 1 {
		o.SendBuffer = 256
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.InboundBurst < 1 {
		o.InboundBurst = 1
	}
}

// Deps are the stores the hub writes to. Correlator, Queue and Writer are
// optional; without Queue or Writer nothing is persisted.
type Deps struct {
	State      *state.Store
	Sessions   *session.Registry
	Audit      *audit.Trail
	Correlator *correlate.Correlator
	Queue      *writeback.Queue
	Writer     sink.Writer
}

// Hub routes events between connections.
type Hub struct {
	deps  Deps
	opts  Options
	log   *slog.Logger
	locks *keylock.Map

	newID func() string
	now   func() time.Time

	upgrader websocket.Upgrader
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.RWMutex
	reg     *registry
	closing bool
	wg      sync.WaitGroup
}

// New returns a hub. When a correlator is given, its samples and expiries
// are recorded in metrics.
func New(deps Deps, opts Options, log *slog.Logger) *Hub {
	opts.defaults()
	if log == nil {
		log = slog.Default()
	}
	if c := deps.Correlator; c != nil {
		if c.OnSample == nil {
			c.OnSample = func(s fleet.ResponseTimeSample) { metrics.ObserveMission(s.DurationSeconds) }
		}
		if c.OnExpire == nil {
			c.OnExpire = func(n int) { metrics.CorrelationExpiredTotal.Add(float64(n)) }
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		deps:  deps,
		opts:  opts,
		log:   log,
		locks: keylock.New(),
		newID: uuid.NewString,
		now:   time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
		reg:    newRegistry(),
	}
}

// ServeWS upgrades the request to a websocket connection. Topics come from
// the role and subscribe query parameters.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	topics, err := ParseSubscription(q.Get("role"), q.Get("subscribe"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.mu.RLock()
	closing := h.closing
	h.mu.RUnlock()
	if closing {
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	limit := rate.Inf
	if h.opts.InboundRate > 0 {
		limit = rate.Limit(h.opts.InboundRate)
	}
	c := newClient(h.newID(), conn, topics, h.opts.SendBuffer, rate.NewLimiter(limit, h.opts.InboundBurst))
	if err := h.register(c, true); err != nil {
		_ = conn.Close()
		return
	}
	h.log.Info("consumer connected", "client", c.id, "remote", r.RemoteAddr, "topics", len(topics))
	go func() {
		defer h.wg.Done()
		c.writePump(h.opts.WriteTimeout, h.opts.PongWait*9/10)
	}()
	go func() {
		defer h.wg.Done()
		h.readPump(c)
	}()
}

func (h *Hub) register(c *Client, pumps bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return ErrClosed
	}
	h.reg.add(c)
	if pumps {
		h.wg.Add(2)
	}
	metrics.Connections.Inc()
	return nil
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	removed := h.reg.remove(c)
	h.mu.Unlock()
	c.close()
	if removed {
		metrics.Connections.Dec()
		h.log.Info("consumer disconnected", "client", c.id)
	}
}

func (h *Hub) readPump(c *Client) {
	defer func() {
		h.unregister(c)
		c.closeConn()
	}()
	c.conn.SetReadLimit(h.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("read failed", "client", c.id, "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
		if c.limiter != nil && !c.limiter.Allow() {
			metrics.IncInbound("", "rate_limited")
			h.reply(c, EventError, ErrorReply{Kind: "rate_limited", Message: "inbound rate exceeded"})
			continue
		}
		h.Handle(h.ctx, c, frame)
	}
}

// Shutdown disconnects every consumer and waits for their pumps to exit.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	clients := make([]*Client, 0, len(h.reg.clients))
	for c := range h.reg.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	h.cancel()
	for _, c := range clients {
		c.closeConn()
		h.unregister(c)
	}
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClientCount returns the number of connected consumers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.reg.clients)
}

// Broadcast queues payload under topic for every subscriber. A subscriber
// whose buffer is full is disconnected rather than allowed to stall the
// others.
func (h *Hub) Broadcast(topic Topic, payload any) {
	msg, err := encode(string(topic), payload)
	if err != nil {
		h.log.Error("encode broadcast", "topic", topic, "err", err)
		return
	}
	h.mu.RLock()
	subs := h.reg.subscribers(topic)
	h.mu.RUnlock()
	for _, c := range subs {
		if c.enqueue(msg) {
			metrics.IncBroadcast(string(topic))
			continue
		}
		if c.isClosed() {
			metrics.IncDropped(string(topic), "closed")
			continue
		}
		metrics.IncDropped(string(topic), "slow_consumer")
		h.log.Warn("dropping slow consumer", "client", c.id, "topic", topic)
		h.unregister(c)
		c.closeConn()
	}
}

func (h *Hub) reply(c *Client, event string, payload any) {
	msg, err := encode(event, payload)
	if err != nil {
		h.log.Error("encode reply", "event", event, "err", err)
		return
	}
	if !c.enqueue(msg) {
		metrics.IncDropped(event, "reply_dropped")
	}
}

// Handle processes one inbound frame from c. Failures are answered with an
// error event to c alone.
func (h *Hub) Handle(ctx context.Context, c *Client, frame []byte) {
	event, msg, err := Decode(frame)
	if err == nil {
		err = h.dispatch(ctx, c, msg)
	}
	if err != nil {
		kind := fleet.Kind(err)
		metrics.IncInbound(event, kind)
		h.log.Warn("inbound event rejected", "client", c.id, "event", event, "kind", kind, "err", err)
		h.reply(c, EventError, ErrorReply{Event: event, Kind: kind, Message: err.Error()})
		return
	}
	metrics.IncInbound(event, "ok")
}

func (h *Hub) dispatch(ctx context.Context, c *Client, msg Inbound) error {
	switch m := msg.(type) {
	case *Movement:
		return h.onMovement(m)
	case *DisasterCreated:
		h.onDisasterCreated(m)
		return nil
	case *MissionComplete:
		return h.onMissionComplete(m)
	case *SessionInit:
		return h.onSessionInit(ctx, m)
	case *LogEvent:
		return h.onLogEvent(c, m)
	}
	return fmt.Errorf("no handler for %s", msg.Event())
}

// onMovement holds the agent's lock across upsert, broadcast and write
// submission so all three observe one order per agent.
func (h *Hub) onMovement(m *Movement) error {
	st := m.State()
	st.LastUpdated = h.now().UTC()
	unlock := h.locks.Lock(st.AgentID)
	defer unlock()
	if err := h.deps.State.Upsert(st); err != nil {
		return err
	}
	h.Broadcast(TopicStateUpdate, m)
	h.persist("agents", st.AgentID, func(ctx context.Context) error {
		return h.deps.Writer.WriteAgent(ctx, st)
	})
	return nil
}

func (h *Hub) onDisasterCreated(d *DisasterCreated) {
	h.Broadcast(TopicDisasterSpawned, DisasterSpawned{Lat: *d.Lat, Lng: *d.Lng, Type: d.Type, Status: fleet.DisasterActive})
	taskID := h.newID()
	h.Broadcast(TopicNewTask, NewTask{Lat: *d.Lat, Lng: *d.Lng, Type: d.Type, TaskID: taskID})
	h.log.Info("disaster reported", "lat", *d.Lat, "lng", *d.Lng, "type", d.Type, "task_id", taskID)
}

func (h *Hub) onMissionComplete(m *MissionComplete) error {
	h.Broadcast(TopicDisasterResolved, DisasterResolved{Lat: *m.Lat, Lng: *m.Lng})

	sessionID := m.SessionID
	if sessionID == "" {
		sessionID = h.deps.Sessions.Latest()
	}
	if sessionID == "" {
		sessionID = h.opts.DefaultSession
	}
	details, err := json.Marshal(fleet.MissionDetails{Lat: m.Lat, Lng: m.Lng, MissionID: m.MissionID, TaskID: m.TaskID})
	if err != nil {
		return err
	}
	_, err = h.appendAudit(fleet.AuditEvent{
		SessionID: sessionID,
		EventType: fleet.EventMissionComplete,
		AgentID:   m.AgentID,
		Timestamp: h.now().UTC(),
		Details:   details,
	})
	return err
}

func (h *Hub) onSessionInit(ctx context.Context, s *SessionInit) error {
	sess, err := h.deps.Sessions.Register(ctx, s.SessionID, *s.AgentCount)
	if err != nil {
		return err
	}
	h.log.Info("session registered", "session_id", sess.SessionID, "participants", sess.ParticipantCount)
	h.persist("sessions", sess.SessionID, func(ctx context.Context) error {
		return h.deps.Writer.WriteSession(ctx, sess)
	})
	return nil
}

func (h *Hub) onLogEvent(c *Client, l *LogEvent) error {
	ev := l.audit()
	ev.Timestamp = h.now().UTC()
	var minted string
	if ev.EventType == fleet.EventTaskAssigned && fleet.DecodeMissionDetails(ev.Details).Identifier() == "" {
		id := h.newID()
		if details, ok := withMissionID(ev.Details, id); ok {
			ev.Details = details
			minted = id
		}
	}
	stored, err := h.appendAudit(ev)
	if err != nil {
		return err
	}
	if minted != "" {
		h.reply(c, EventMissionAssigned, MissionAssigned{MissionID: minted, AgentID: stored.AgentID, SessionID: stored.SessionID})
	}
	return nil
}

func (h *Hub) appendAudit(ev fleet.AuditEvent) (fleet.AuditEvent, error) {
	stored, err := h.deps.Audit.Append(ev)
	if err != nil {
		return fleet.AuditEvent{}, err
	}
	h.persist("audit_events", stored.SessionID, func(ctx context.Context) error {
		return h.deps.Writer.WriteAudit(ctx, stored)
	})
	if c := h.deps.Correlator; c != nil {
		c.Observe(stored)
		metrics.CorrelationPending.Set(float64(c.Pending()))
	}
	return stored, nil
}

func (h *Hub) persist(collection, key string, fn writeback.Task) {
	if h.deps.Queue == nil || h.deps.Writer == nil {
		return
	}
	h.deps.Queue.Submit(collection, key, fn)
}

// withMissionID adds a missionId field to object details.
func withMissionID(details json.RawMessage, id string) (json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(details, &obj); err != nil || obj == nil {
		return details, false
	}
	raw, err := json.Marshal(id)
	if err != nil {
		return details, false
	}
	obj["missionId"] = raw
	out, err := json.Marshal(obj)
	if err != nil {
		return details, false
	}
	return out, true
}
