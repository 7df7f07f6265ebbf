package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tecu23/duel-server/pkg/events"
	"github.com/tecu23/duel-server/pkg/game"
	"github.com/tecu23/duel-server/pkg/lobby"
	"github.com/tecu23/duel-server/pkg/manager"
	"github.com/tecu23/duel-server/pkg/messages"
	"github.com/tecu23/duel-server/pkg/rules"
	"github.com/tecu23/duel-server/pkg/session"
	"github.com/tecu23/duel-server/pkg/store"
)

const requestTimeout = 10 * time.Second

// InboundHubMessage are the messages that the hub receives
type InboundHubMessage struct {
	Conn    *Connection             // who sent it
	Message messages.InboundMessage // decoded envelope
}

// Hub should keep track of all active connection. Also be responsible of registering/unregistering connections
// Messages come from the inbound channel and are routed to the session manager
type Hub struct {
	mu          sync.RWMutex         // Mutex to protect direct access to the connections map.
	connections map[*Connection]bool // Registered connections

	register   chan *Connection       // Incoming registration
	unregister chan *Connection       // Incoming unregistration
	inbound    chan InboundHubMessage // Channel of inbound messages routed to the manager
	quit       chan struct{}
	quitOnce   sync.Once

	manager   *manager.Manager
	publisher *events.Publisher
	logger    *zap.Logger
}

// NewHub creates a new hub
func NewHub(m *manager.Manager, publisher *events.Publisher, logger *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		inbound:     make(chan InboundHubMessage),
		quit:        make(chan struct{}),
		manager:     m,
		publisher:   publisher,
		logger:      logger,
	}
}

// Run is the main execution of the hub
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.registerConnection(conn)

		case conn := <-h.unregister:
			h.unregisterConnection(conn)

		case msg := <-h.inbound:
			h.handleInbound(msg)

		case <-h.quit:
			h.closeAll()
			return
		}
	}
}

func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.quit:
		conn.close()
	}
}

func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.quit:
	}
}

func (h *Hub) Inbound(msg InboundHubMessage) {
	select {
	case h.inbound <- msg:
	case <-h.quit:
	}
}

// Shutdown stops the hub and closes every connection
func (h *Hub) Shutdown() {
	h.quitOnce.Do(func() {
		close(h.quit)
	})
}

// Connections returns the number of registered connections
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.connections)
}

func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	h.connections[conn] = true
	n := len(h.connections)
	h.mu.Unlock()

	h.logger.Info("New connection registered",
		zap.String("connection_id", conn.ID.String()),
		zap.String("player_id", conn.Player.ID),
		zap.Int("connections", n),
	)

	h.sendMessage(conn, messages.OutboundMessage{
		Event: messages.Connected,
		Payload: messages.ConnectedPayload{
			ConnectionID: conn.ID.String(),
			PlayerID:     conn.Player.ID,
		},
	})
}

func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.connections[conn]; ok {
		delete(h.connections, conn)
		conn.close()
		h.logger.Info("Connection unregistered",
			zap.String("connection_id", conn.ID.String()),
			zap.Int("connections", len(h.connections)),
		)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.connections {
		conn.close()
		delete(h.connections, conn)
	}
}

// handleInbound decodes the message and routes it to the manager.
func (h *Hub) handleInbound(msg InboundHubMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	conn := msg.Conn
	connID := conn.ID.String()

	switch msg.Message.Type {
	case messages.CreateSession:
		var payload messages.CreateSessionPayload
		if !h.decode(conn, msg, &payload) {
			return
		}

		var tc *session.TimeControl
		if p := payload.TimeControl; p != nil {
			tc = &session.TimeControl{
				Initial:   time.Duration(p.Initial) * time.Millisecond,
				Increment: time.Duration(p.Increment) * time.Millisecond,
			}
		}

		s, err := h.manager.CreateSession(ctx, conn.Player, tc)
		if err != nil {
			h.sendError(conn, "", err)
			return
		}

		h.sendMessage(conn, messages.OutboundMessage{
			Event:   messages.SessionCreated,
			Payload: messages.SessionCreatedPayload{SessionID: s.ID},
		})

		if _, err := h.attach(ctx, conn, s.ID); err != nil {
			h.sendError(conn, s.ID, err)
		}

	case messages.ListOpen:
		open, err := h.manager.ListOpen(ctx)
		if err != nil {
			h.sendError(conn, "", err)
			return
		}

		h.sendMessage(conn, messages.OutboundMessage{
			Event:   messages.OpenSessions,
			Payload: openSessionsPayload(open),
		})

	case messages.Attach:
		var payload messages.SessionRefPayload
		if !h.decode(conn, msg, &payload) {
			return
		}

		if _, err := h.attach(ctx, conn, payload.SessionID); err != nil {
			h.sendError(conn, payload.SessionID, err)
		}

	case messages.Detach:
		var payload messages.SessionRefPayload
		if !h.decode(conn, msg, &payload) {
			return
		}

		h.manager.Detach(connID, payload.SessionID)

	case messages.Join:
		var payload messages.SessionRefPayload
		if !h.decode(conn, msg, &payload) {
			return
		}

		c, err := h.attach(ctx, conn, payload.SessionID)
		if err != nil {
			h.sendError(conn, payload.SessionID, err)
			return
		}
		if _, err := c.Join(ctx); err != nil {
			h.sendError(conn, payload.SessionID, err)
		}

	case messages.MakeMove:
		var payload messages.MakeMovePayload
		if !h.decode(conn, msg, &payload) {
			return
		}

		mv, err := rules.ParseUCI(payload.Move)
		if err != nil {
			h.sendError(conn, payload.SessionID, &session.ValidationError{
				Code:    session.CodeIllegalMove,
				Message: "malformed move " + payload.Move,
				Cause:   err,
			})
			return
		}

		h.act(ctx, conn, payload.SessionID, func(c *game.Client) error {
			_, err := c.Move(ctx, mv)
			return err
		})

	case messages.OfferDraw, messages.AcceptDraw, messages.DeclineDraw, messages.Resign, messages.Abort:
		var payload messages.SessionRefPayload
		if !h.decode(conn, msg, &payload) {
			return
		}

		action := msg.Message.Type
		h.act(ctx, conn, payload.SessionID, func(c *game.Client) error {
			var err error
			switch action {
			case messages.OfferDraw:
				_, err = c.OfferDraw(ctx)
			case messages.AcceptDraw:
				_, err = c.AcceptDraw(ctx)
			case messages.DeclineDraw:
				_, err = c.DeclineDraw(ctx)
			case messages.Resign:
				_, err = c.Resign(ctx)
			case messages.Abort:
				_, err = c.Abort(ctx)
			}
			return err
		})

	default:
		h.sendMessage(conn, messages.OutboundMessage{
			Event:   messages.Error,
			Payload: messages.ErrorPayload{Code: codeBadRequest, Message: "Unknown message type " + msg.Message.Type},
		})
	}
}

func (h *Hub) decode(conn *Connection, msg InboundHubMessage, v interface{}) bool {
	if len(msg.Message.Payload) == 0 {
		msg.Message.Payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(msg.Message.Payload, v); err != nil {
		h.sendMessage(conn, messages.OutboundMessage{
			Event:   messages.Error,
			Payload: messages.ErrorPayload{Code: codeBadRequest, Message: "Invalid " + msg.Message.Type + " payload"},
		})
		return false
	}

	return true
}

// attach subscribes conn to sessionID, pushing SESSION_STATE for every new
// version and CLOCK_UPDATE for ticks in between.
func (h *Hub) attach(ctx context.Context, conn *Connection, sessionID string) (*game.Client, error) {
	var last int64

	return h.manager.Attach(ctx, conn.ID.String(), sessionID, conn.Player, func(id string, v game.View) {
		if v.Err != nil || v.Session.Version > last {
			last = v.Session.Version
			h.sendMessage(conn, messages.OutboundMessage{Event: messages.SessionState, Payload: sessionStatePayload(v)})
			return
		}

		if v.Session.Status == session.StatusActive && v.Session.Timed() {
			h.sendMessage(conn, messages.OutboundMessage{Event: messages.ClockUpdate, Payload: clockUpdatePayload(v)})
		}
	})
}

// act runs fn against the client conn holds for sessionID.
func (h *Hub) act(ctx context.Context, conn *Connection, sessionID string, fn func(c *game.Client) error) {
	c, err := h.attach(ctx, conn, sessionID)
	if err != nil {
		h.sendError(conn, sessionID, err)
		return
	}

	if err := fn(c); err != nil {
		h.sendError(conn, sessionID, err)
	}
}

func (h *Hub) sendError(conn *Connection, sessionID string, err error) {
	code := errorCode(err)
	if code == codeInternal {
		h.logger.Error("request failed", zap.String("session_id", sessionID), zap.Error(err))
	}

	h.sendMessage(conn, messages.OutboundMessage{
		Event: messages.Error,
		Payload: messages.ErrorPayload{
			Code:      code,
			Message:   err.Error(),
			SessionID: sessionID,
		},
	})
}

func (h *Hub) sendMessage(conn *Connection, msg messages.OutboundMessage) {
	conn.SendJSON(msg)
}

const (
	codeBadRequest       = "BAD_REQUEST"
	codeNotFound         = "NOT_FOUND"
	codeAlreadyFinished  = "ALREADY_FINISHED"
	codeCorruptedState   = "CORRUPTED_STATE"
	codeStoreWriteFailed = "STORE_WRITE_FAILED"
	codeInternal         = "INTERNAL"
)

func errorCode(err error) string {
	var verr *session.ValidationError
	var werr *game.StoreWriteError

	switch {
	case errors.As(err, &verr):
		return string(verr.Code)
	case errors.Is(err, session.ErrCorruptedState):
		return codeCorruptedState
	case errors.Is(err, session.ErrAlreadyFinished):
		return codeAlreadyFinished
	case errors.As(err, &werr):
		return codeStoreWriteFailed
	case errors.Is(err, store.ErrNotFound):
		return codeNotFound
	case errors.Is(err, lobby.ErrMissingPlayer), errors.Is(err, lobby.ErrInvalidTimeControl):
		return codeBadRequest
	default:
		return codeInternal
	}
}
