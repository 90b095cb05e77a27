package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	deliverysvc "github.com/Jak-Sim/back-chat/internal/services/delivery"
	logpkg "github.com/Jak-Sim/back-chat/pkg/log"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
	// Outbound buffer per connection. A client that cannot drain it loses
	// events rather than stalling the broadcaster.
	sendBuffer = 256
)

// client bridges one WebSocket connection and one delivery session.
type client struct {
	conn     *websocket.Conn
	delivery *deliverysvc.Service
	session  *deliverysvc.Session
	logger   logpkg.Logger
	send     chan []byte
}

func newClient(conn *websocket.Conn, delivery *deliverysvc.Service, logger logpkg.Logger) *client {
	return &client{
		conn:     conn,
		delivery: delivery,
		logger:   logger,
		send:     make(chan []byte, sendBuffer),
	}
}

// Deliver implements the delivery sink. It must not block: when the buffer
// is full the event is dropped for this connection only and the error is
// surfaced to the broadcaster for logging.
func (c *client) Deliver(ev deliverysvc.Event) error {
	b, err := marshalEnvelope(typeMessageEvent, ev)
	if err != nil {
		return err
	}
	select {
	case c.send <- b:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

func (c *client) sendError(code, message string) {
	b, err := marshalEnvelope(typeErrorEvent, errorEvent{Code: code, Message: message})
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

// readPump reads envelopes from the socket and dispatches them until the
// connection drops. Runs in the connection's handler goroutine; on return
// the session is disconnected and the write pump shut down.
func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.delivery.Disconnect(c.session.ID())
		close(c.send)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("socket read failed", logpkg.Err(err))
			}
			return
		}
		c.dispatch(ctx, raw)
	}
}

func (c *client) dispatch(ctx context.Context, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.sendError(codeBadRequest, "malformed envelope")
		return
	}
	switch env.Type {
	case typeJoinRoom:
		var req roomRef
		if err := json.Unmarshal(env.Data, &req); err != nil || req.RoomID == "" {
			c.sendError(codeBadRequest, "join-room requires roomId")
			return
		}
		if err := c.delivery.Join(ctx, c.session.ID(), req.RoomID); err != nil {
			c.fail("join room", req.RoomID, err)
		}
	case typeLeaveRoom:
		var req roomRef
		if err := json.Unmarshal(env.Data, &req); err != nil || req.RoomID == "" {
			c.sendError(codeBadRequest, "leave-room requires roomId")
			return
		}
		if err := c.delivery.Leave(c.session.ID(), req.RoomID); err != nil {
			c.fail("leave room", req.RoomID, err)
		}
	case typeSendMessage:
		var req sendMessageReq
		if err := json.Unmarshal(env.Data, &req); err != nil || req.RoomID == "" {
			c.sendError(codeBadRequest, "send-message requires roomId and body")
			return
		}
		if _, err := c.delivery.SendMessage(ctx, c.session.ID(), req.RoomID, req.Body); err != nil {
			c.fail("send message", req.RoomID, err)
		}
	case typeSendImage:
		var req sendImageReq
		if err := json.Unmarshal(env.Data, &req); err != nil || req.RoomID == "" {
			c.sendError(codeBadRequest, "send-image requires roomId and imageRef")
			return
		}
		if _, err := c.delivery.SendImage(ctx, c.session.ID(), req.RoomID, req.ImageRef); err != nil {
			c.fail("send image", req.RoomID, err)
		}
	default:
		c.sendError(codeBadRequest, "unknown envelope type "+env.Type)
	}
}

func (c *client) fail(op, roomID string, err error) {
	code := errorCode(err)
	if code == codeInternal {
		c.logger.Error(op+" failed", logpkg.Str("room", roomID), logpkg.Err(err))
	}
	c.sendError(code, err.Error())
}

// writePump drains the send buffer to the socket and keeps the connection
// alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
