package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mathduel/mathduel-backend/pkg/ratelimit"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: 프로덕션에서는 특정 origin만 허용
		return true
	},
}

// Client WebSocket 클라이언트 연결
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan *Message
	connID  string
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// ConnID 연결 식별자
func (c *Client) ConnID() string {
	return c.connID
}

// Send 이 연결로 직접 메시지 전송
func (c *Client) Send(msgType string, payload interface{}) {
	select {
	case c.send <- &Message{Type: msgType, Payload: payload}:
	default:
		c.logger.Warn("Client send channel full, dropping message",
			zap.String("connId", c.connID),
			zap.String("type", msgType))
	}
}

// readPump 인바운드 이벤트 파싱 및 디스패치 (핑/퐁 유지)
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		c.limiter.Forget(c.connID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error",
					zap.String("connId", c.connID),
					zap.Error(err))
			}
			break
		}

		if !c.limiter.Allow(c.connID) {
			c.Send("error", map[string]string{"message": "too many requests"})
			continue
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.logger.Warn("Failed to parse client event",
				zap.String("connId", c.connID),
				zap.Error(err))
			c.Send("error", map[string]string{"message": "invalid message format"})
			continue
		}

		if c.hub.handler != nil {
			c.hub.handler.HandleEvent(c, event)
		}
	}
}

// writePump Hub로부터 메시지를 받아 클라이언트에게 전송
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub가 채널을 닫음
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				c.logger.Error("Failed to marshal message",
					zap.String("connId", c.connID),
					zap.Error(err))
				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error("Failed to write message",
					zap.String("connId", c.connID),
					zap.Error(err))
				return
			}

		case <-ticker.C:
			// Ping 전송
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs WebSocket 연결 업그레이드 및 클라이언트 시작
func ServeWs(hub *Hub, limiter *ratelimit.Limiter, logger *zap.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan *Message, 256),
		connID:  uuid.New().String(),
		limiter: limiter,
		logger:  logger,
	}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}
