package api

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/example/ephemeral-chat/modules/broadcast"
	"github.com/example/ephemeral-chat/modules/session"
	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// handleWebSocket handles WebSocket connections at /ws.
func (m *APIModule) handleWebSocket(c *websocket.Conn) {
	connID := uuid.New().String()
	client := m.router.Attach(connID)
	conn := m.sessions.NewConnection(connID)
	limiter := rate.NewLimiter(rate.Limit(m.cfg.MessageRate), m.cfg.MessageBurst)

	writerDone := make(chan struct{})
	go m.writeLoop(c, client, writerDone)

	defer func() {
		conn.Disconnect(context.Background())
		m.router.Detach(connID)
		<-writerDone
		m.logger.Debug("WebSocket disconnected", "conn_id", connID)
	}()

	m.logger.Debug("WebSocket connected", "conn_id", connID)

	ctx := context.Background()
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				m.logger.Warn("WebSocket read error", "conn_id", connID, "error", err)
			}
			return
		}

		if done := m.dispatch(ctx, conn, limiter, data); done {
			return
		}
	}
}

// writeLoop drains the client's queue onto the socket. It closes the socket
// when the client is detached or a write fails, which unblocks the reader.
func (m *APIModule) writeLoop(c *websocket.Conn, client *broadcast.Client, done chan<- struct{}) {
	defer close(done)
	defer c.Close()

	for {
		select {
		case data := <-client.Messages():
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				m.logger.Debug("WebSocket write failed", "conn_id", client.ID, "error", err)
				return
			}
		case <-client.Done():
			return
		}
	}
}

// dispatch handles one inbound frame and reports whether the connection is finished.
// Malformed or unexpected frames are dropped.
func (m *APIModule) dispatch(ctx context.Context, conn *session.Connection, limiter *rate.Limiter, data []byte) bool {
	var msg WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		m.logger.Debug("Dropping malformed frame", "conn_id", conn.ID(), "error", err)
		return false
	}

	switch msg.Type {
	case WSTypeJoin:
		var p JoinPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			m.logger.Debug("Dropping malformed join", "conn_id", conn.ID(), "error", err)
			return false
		}
		if err := conn.Join(ctx, p.RoomID, p.Username); err != nil {
			m.logger.Debug("Join ignored", "conn_id", conn.ID(), "error", err)
		}

	case WSTypeMessage:
		if !limiter.Allow() {
			m.logger.Debug("Rate limit exceeded, dropping message", "conn_id", conn.ID())
			return false
		}
		var p MessagePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			m.logger.Debug("Dropping malformed message", "conn_id", conn.ID(), "error", err)
			return false
		}
		if _, err := conn.Message(ctx, p.RoomID, p.Text); err != nil {
			if errors.Is(err, session.ErrNotMember) || errors.Is(err, session.ErrConnectionClosed) {
				m.logger.Debug("Message ignored", "conn_id", conn.ID(), "error", err)
			} else {
				m.logger.Error("Failed to send message", "conn_id", conn.ID(), "error", err)
			}
		}

	case WSTypeLeave:
		conn.Leave(ctx)
		return true

	default:
		m.logger.Debug("Dropping unknown frame type", "conn_id", conn.ID(), "type", msg.Type)
	}
	return false
}
