package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/operantlabs/operant/pkg/models"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsSendBuffer      = 64
	wsPongWait        = 60 * time.Second
	wsPingInterval    = 25 * time.Second
	wsWriteWait       = 10 * time.Second
)

// wsCommand is the inbound client envelope.
type wsCommand struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// hub owns every WebSocket connection and fans job and message updates
// out to their subscribers. Delivery is best effort: a client whose send
// buffer is full or whose socket errors is dropped along with its
// subscriptions.
type hub struct {
	server   *Server
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	closed   bool
	byClient map[string]map[*wsClient]struct{}
	jobSubs  map[string]map[*wsClient]struct{}
	// bindings routes chat_update deltas for a job to the client id that
	// submitted it.
	bindings map[string]string
}

func newHub(s *Server) *hub {
	return &hub{
		server: s,
		log:    s.log.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		byClient: make(map[string]map[*wsClient]struct{}),
		jobSubs:  make(map[string]map[*wsClient]struct{}),
		bindings: make(map[string]string),
	}
}

// wsClient is one upgraded connection. A client id may hold several
// connections; every one of them receives that client's events.
type wsClient struct {
	hub      *hub
	conn     *websocket.Conn
	send     chan []byte
	clientID string

	closeOnce sync.Once
	done      chan struct{}
}

// ServeHTTP upgrades GET /ws/{client_id}. The upgrade authenticates its
// own request because browser WebSocket clients cannot set arbitrary
// headers reliably; a token or API key query parameter is accepted.
func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/"), "/")
	if clientID == "" || strings.Contains(clientID, "/") {
		http.Error(w, "client id required", http.StatusNotFound)
		return
	}
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &wsClient{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, wsSendBuffer),
		clientID: clientID,
		done:     make(chan struct{}),
	}
	if !h.register(client) {
		_ = conn.Close() //nolint:errcheck
		return
	}
	h.server.metrics.WSClientConnected()
	h.log.Debug("client connected", "client_id", clientID)

	go client.writeLoop()
	client.readLoop()
	h.drop(client)
}

// authorized checks the upgrade request against the auth service.
func (h *hub) authorized(r *http.Request) bool {
	service := h.server.auth
	if !service.Enabled() {
		return true
	}
	token := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = strings.TrimSpace(token[len("bearer "):])
	} else {
		token = r.URL.Query().Get("token")
	}
	if token != "" {
		if _, err := service.ValidateJWT(token); err == nil {
			return true
		}
	}
	key := r.Header.Get("X-API-Key")
	if key == "" {
		key = r.URL.Query().Get("api_key")
	}
	if key != "" {
		if _, err := service.ValidateAPIKey(key); err == nil {
			return true
		}
	}
	return false
}

func (h *hub) register(client *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	conns, ok := h.byClient[client.clientID]
	if !ok {
		conns = make(map[*wsClient]struct{})
		h.byClient[client.clientID] = conns
	}
	conns[client] = struct{}{}
	return true
}

// drop removes a client and every subscription it holds.
func (h *hub) drop(client *wsClient) {
	h.mu.Lock()
	conns, ok := h.byClient[client.clientID]
	if ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.byClient, client.clientID)
		}
	}
	for jobID, subs := range h.jobSubs {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.jobSubs, jobID)
		}
	}
	h.mu.Unlock()

	if ok {
		client.close()
		h.server.metrics.WSClientDisconnected()
		h.log.Debug("client disconnected", "client_id", client.clientID)
	}
}

// closeAll severs every connection; called on server shutdown.
func (h *hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	var clients []*wsClient
	for _, conns := range h.byClient {
		for client := range conns {
			clients = append(clients, client)
		}
	}
	h.byClient = make(map[string]map[*wsClient]struct{})
	h.jobSubs = make(map[string]map[*wsClient]struct{})
	h.bindings = make(map[string]string)
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
		h.server.metrics.WSClientDisconnected()
	}
}

// BindJob routes chat_update deltas for a job to one client id.
func (h *hub) BindJob(jobID, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bindings[jobID] = clientID
}

func (h *hub) subscribe(jobID string, client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.jobSubs[jobID]
	if !ok {
		subs = make(map[*wsClient]struct{})
		h.jobSubs[jobID] = subs
	}
	subs[client] = struct{}{}
}

func (h *hub) unsubscribe(jobID string, client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.jobSubs[jobID]
	if !ok {
		return
	}
	delete(subs, client)
	if len(subs) == 0 {
		delete(h.jobSubs, jobID)
	}
}

// subscribers snapshots the recipient set for a job under the lock so a
// broadcast never holds it across socket writes.
func (h *hub) subscribers(jobID string) []*wsClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.jobSubs[jobID]
	if len(subs) == 0 {
		return nil
	}
	out := make([]*wsClient, 0, len(subs))
	for client := range subs {
		out = append(out, client)
	}
	return out
}

func (h *hub) clientConns(clientID string) []*wsClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.byClient[clientID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*wsClient, 0, len(conns))
	for client := range conns {
		out = append(out, client)
	}
	return out
}

// jobUpdateEvent is the job_update payload; the job snapshot is
// flattened so clients can read status without unwrapping.
type jobUpdateEvent struct {
	Event       string            `json:"event"`
	JobID       string            `json:"job_id"`
	AgentID     string            `json:"agent_id,omitempty"`
	Status      models.JobStatus  `json:"status"`
	IsComplete  bool              `json:"is_complete"`
	Result      *models.JobResult `json:"result,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

func jobUpdate(job *models.Job) jobUpdateEvent {
	return jobUpdateEvent{
		Event:       "job_update",
		JobID:       job.ID,
		AgentID:     job.AgentID,
		Status:      job.Status,
		IsComplete:  job.IsComplete(),
		Result:      job.Result,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}

// PublishJob broadcasts a state change to every subscriber of the job.
// Implements jobs.Publisher; the manager calls it on every transition.
func (h *hub) PublishJob(job *models.Job) {
	data, err := json.Marshal(jobUpdate(job))
	if err != nil {
		h.log.Warn("failed to encode job update", "job_id", job.ID, "error", err)
		return
	}
	for _, client := range h.subscribers(job.ID) {
		h.deliver(client, data)
	}
	if job.Status.Terminal() {
		h.mu.Lock()
		delete(h.bindings, job.ID)
		h.mu.Unlock()
	}
}

// messageUpdateEvent wraps one streaming turn update for subscribers.
type messageUpdateEvent struct {
	Event string `json:"event"`
	MessageUpdate
}

// PublishMessage fans one turn update out: message_update frames go to
// the job's subscribers, and the client that submitted the job receives
// the same payload as a chat_update. Implements messageSink.
func (h *hub) PublishMessage(update MessageUpdate) {
	if update.JobID != "" {
		data, err := json.Marshal(messageUpdateEvent{Event: "message_update", MessageUpdate: update})
		if err != nil {
			return
		}
		for _, client := range h.subscribers(update.JobID) {
			h.deliver(client, data)
		}
	}

	h.mu.Lock()
	clientID := h.bindings[update.JobID]
	h.mu.Unlock()
	if clientID == "" {
		return
	}
	data, err := json.Marshal(messageUpdateEvent{Event: "chat_update", MessageUpdate: update})
	if err != nil {
		return
	}
	for _, client := range h.clientConns(clientID) {
		h.deliver(client, data)
	}
}

// deliver enqueues one frame; a client that cannot keep up is dropped.
func (h *hub) deliver(client *wsClient, data []byte) {
	select {
	case client.send <- data:
	case <-client.done:
	default:
		h.log.Warn("send buffer full, dropping client", "client_id", client.clientID)
		h.drop(client)
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close() //nolint:errcheck
	})
}

func (c *wsClient) readLoop() {
	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.sendEvent(wsErrorEvent("Invalid JSON format"))
			continue
		}
		if err := validateWSCommand(data, cmd.Command); err != nil {
			c.sendEvent(wsErrorEvent(err.Error()))
			continue
		}
		c.handleCommand(cmd)
	}
}

func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *wsClient) handleCommand(cmd wsCommand) {
	switch cmd.Command {
	case "ping":
		var params struct {
			Timestamp int64 `json:"timestamp"`
		}
		if len(cmd.Data) > 0 {
			_ = json.Unmarshal(cmd.Data, &params) //nolint:errcheck
		}
		c.sendEvent(map[string]any{"event": "pong", "timestamp": params.Timestamp})

	case "subscribe_job":
		jobID := commandJobID(cmd.Data)
		c.hub.subscribe(jobID, c)
		// A late subscriber still learns the outcome: the current
		// snapshot is sent immediately, terminal or not.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		job, err := c.hub.server.manager.Get(ctx, jobID)
		cancel()
		if err == nil {
			c.sendEvent(jobUpdate(job))
		}

	case "unsubscribe_job":
		c.hub.unsubscribe(commandJobID(cmd.Data), c)

	default:
		c.sendEvent(wsErrorEvent("Unknown command: " + cmd.Command))
	}
}

// sendEvent enqueues a server-initiated frame on this connection only.
func (c *wsClient) sendEvent(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.hub.deliver(c, data)
}

func wsErrorEvent(message string) map[string]any {
	return map[string]any{"event": "error", "message": message}
}

func commandJobID(data json.RawMessage) string {
	var params struct {
		JobID string `json:"job_id"`
	}
	_ = json.Unmarshal(data, &params) //nolint:errcheck
	return params.JobID
}
