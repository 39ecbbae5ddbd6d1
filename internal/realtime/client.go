package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/course-select-api/internal/models"
)

// Client actions accepted over the socket.
const (
	ActionAuthenticate = "authenticate"
	ActionSubscribe    = "subscribe"
	ActionUnsubscribe  = "unsubscribe"
	ActionPing         = "ping"
)

// Acknowledgement event names sent back to the client.
const (
	AckAuthenticated = "authenticated"
	AckSubscribed    = "subscribed"
	AckUnsubscribed  = "unsubscribed"
	AckPong          = "pong"
	AckError         = "error"
)

// TokenValidator resolves a bearer token into claims.
type TokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// Command is an inbound client message.
type Command struct {
	Action string `json:"action"`
	Token  string `json:"token,omitempty"`
	TermID string `json:"termId,omitempty"`
}

type ackError struct {
	Message string `json:"message"`
}

type ackIdentity struct {
	UserID string          `json:"userId"`
	Role   models.UserRole `json:"role"`
}

// ClientConfig tunes a single connection.
type ClientConfig struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	return c
}

// Client is one websocket connection. Its memberships are owned by its own
// lifecycle: they are added on subscribe and removed on unsubscribe or disconnect.
type Client struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	auth   TokenValidator
	logger *zap.Logger
	cfg    ClientConfig

	send      chan [][]byte
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.RWMutex
	claims *models.JWTClaims
}

// NewClient wraps an upgraded connection. claims may be nil when the token is
// sent later with an authenticate action.
func NewClient(id string, conn *websocket.Conn, hub *Hub, auth TokenValidator, claims *models.JWTClaims, cfg ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Client{
		id:     id,
		conn:   conn,
		hub:    hub,
		auth:   auth,
		logger: logger.With(zap.String("connection_id", id)),
		cfg:    cfg,
		send:   make(chan [][]byte, cfg.SendBuffer),
		done:   make(chan struct{}),
		claims: claims,
	}
}

// ID implements Subscriber.
func (c *Client) ID() string { return c.id }

// Deliver implements Subscriber without blocking.
func (c *Client) Deliver(frames [][]byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frames:
		return true
	default:
		return false
	}
}

// Run serves the connection until the peer disconnects or ctx ends.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c.id)

	go c.writePump()
	go func() {
		select {
		case <-ctx.Done():
			c.close()
		case <-c.done:
		}
	}()

	c.readPump()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer c.close()

	readWait := c.cfg.PingInterval * 2
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("realtime connection closed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))

		var cmd Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			c.reply(AckError, "", ackError{Message: "malformed message"})
			continue
		}
		c.handle(cmd)
	}
}

func (c *Client) handle(cmd Command) {
	switch cmd.Action {
	case ActionAuthenticate:
		if c.auth == nil || cmd.Token == "" {
			c.reply(AckError, "", ackError{Message: "token is required"})
			return
		}
		claims, err := c.auth.ValidateToken(cmd.Token)
		if err != nil {
			c.reply(AckError, "", ackError{Message: "invalid token"})
			return
		}
		c.mu.Lock()
		c.claims = claims
		c.mu.Unlock()
		c.reply(AckAuthenticated, "", ackIdentity{UserID: claims.UserID, Role: claims.Role})
	case ActionSubscribe:
		if !c.authenticated() {
			c.reply(AckError, cmd.TermID, ackError{Message: "authenticate before subscribing"})
			return
		}
		if cmd.TermID == "" {
			c.reply(AckError, "", ackError{Message: "termId is required"})
			return
		}
		if err := c.hub.Subscribe(c.id, cmd.TermID); err != nil {
			c.reply(AckError, cmd.TermID, ackError{Message: "subscription failed"})
			return
		}
		c.reply(AckSubscribed, cmd.TermID, nil)
	case ActionUnsubscribe:
		if cmd.TermID == "" {
			c.reply(AckError, "", ackError{Message: "termId is required"})
			return
		}
		c.hub.Unsubscribe(c.id, cmd.TermID)
		c.reply(AckUnsubscribed, cmd.TermID, nil)
	case ActionPing:
		c.reply(AckPong, "", nil)
	default:
		c.reply(AckError, "", ackError{Message: "unknown action"})
	}
}

func (c *Client) authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.claims != nil
}

func (c *Client) reply(event, termID string, data interface{}) {
	frame, err := json.Marshal(models.Event{Name: event, TermID: termID, Data: data})
	if err != nil {
		c.logger.Error("encode realtime ack", zap.Error(err))
		return
	}
	if !c.Deliver([][]byte{frame}) {
		c.logger.Warn("realtime ack dropped", zap.String("event", event))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frames := <-c.send:
			for _, frame := range frames {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					c.logger.Debug("realtime write failed", zap.Error(err))
					return
				}
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}
