package hub

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const (
	ActionJoin  = "join"
	ActionLeave = "leave"

	writeTimeout = 5 * time.Second
)

// ClientMessage is what a websocket client sends to manage its rooms
type ClientMessage struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

// WSOptions guards the websocket endpoint
type WSOptions struct {
	// Token, when set, must be sent as "Authorization: Bearer <token>" or as
	// the token query parameter, which browsers can set on an upgrade.
	Token string
	// OriginPatterns are browser origins accepted besides the request host
	OriginPatterns []string
}

// WSHandler exposes the hub over websocket. Each connection may join any
// number of rooms; join and leave are idempotent and acknowledged.
type WSHandler struct {
	hub    *Hub
	logger *zap.Logger
	token  string
	accept websocket.AcceptOptions
}

// NewWSHandler creates the websocket endpoint for hub
func NewWSHandler(hub *Hub, logger *zap.Logger, opts WSOptions) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		hub:    hub,
		logger: logger.With(zap.String("component", "ws")),
		token:  opts.Token,
		accept: websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns},
	}
}

func (h *WSHandler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	got := r.URL.Query().Get("token")
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		got = bearer
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}

type wsClient struct {
	conn *websocket.Conn
	hub  *Hub
	out  chan Event

	mu   sync.Mutex
	subs map[string]*Subscription
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.logger.Debug("websocket rejected", zap.String("remote", r.RemoteAddr))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// origins other than the request host are refused unless listed
	conn, err := websocket.Accept(w, r, &h.accept)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsClient{
		conn: conn,
		hub:  h.hub,
		out:  make(chan Event, h.hub.buffer),
		subs: make(map[string]*Subscription),
	}
	defer func() {
		c.leaveAll()
		_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
	}()

	go func() {
		defer cancel()
		if err := c.writeLoop(ctx); err != nil {
			h.logger.Debug("websocket write loop ended", zap.Error(err))
		}
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Room == "" {
			c.send(ctx, Event{Name: "error", Data: json.RawMessage(`"invalid message"`)})
			continue
		}

		switch msg.Action {
		case ActionJoin:
			c.join(ctx, msg.Room)
			c.send(ctx, Event{Name: "joined", Room: msg.Room})
		case ActionLeave:
			c.leave(msg.Room)
			c.send(ctx, Event{Name: "left", Room: msg.Room})
		default:
			c.send(ctx, Event{Name: "error", Room: msg.Room, Data: json.RawMessage(`"unknown action"`)})
		}
	}
}

func (c *wsClient) join(ctx context.Context, room string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subs[room]; ok {
		return
	}
	sub := c.hub.Subscribe(room)
	c.subs[room] = sub

	go func() {
		for ev := range sub.C {
			select {
			case c.out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *wsClient) leave(room string) {
	c.mu.Lock()
	sub, ok := c.subs[room]
	delete(c.subs, room)
	c.mu.Unlock()

	if ok {
		sub.Close()
	}
}

func (c *wsClient) leaveAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*Subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (c *wsClient) send(ctx context.Context, ev Event) {
	select {
	case c.out <- ev:
	case <-ctx.Done():
	}
}

func (c *wsClient) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.out:
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
