package websocket

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// EventHandler 인바운드 이벤트 처리기. API 계층이 구현한다.
type EventHandler interface {
	HandleEvent(client *Client, event Event)
	HandleDisconnect(connID string)
}

// Event 클라이언트가 보내는 이벤트
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message 서버가 클라이언트에게 보내는 메시지
type Message struct {
	ConnID  string      `json:"-"` // 수신자 (빈 문자열이면 전체 브로드캐스트)
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Hub WebSocket 연결 관리 및 메시지 라우팅
type Hub struct {
	// 연결별 클라이언트 저장 (connID -> *Client)
	clients map[string]*Client
	mu      sync.RWMutex

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client

	handler EventHandler
	logger  *zap.Logger
}

// NewHub Hub 생성
func NewHub(handler EventHandler, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		handler:    handler,
		logger:     logger,
	}
}

// Run Hub 실행
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.dispatchMessage(message)
		}
	}
}

// registerClient 클라이언트 등록
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.connID] = client
	h.logger.Info("WebSocket client connected",
		zap.String("connId", client.connID),
		zap.Int("totalClients", len(h.clients)))
}

// unregisterClient 클라이언트 해제 및 연결 종료 통지
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	_, exists := h.clients[client.connID]
	if exists {
		delete(h.clients, client.connID)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !exists {
		return
	}

	h.logger.Info("WebSocket client disconnected",
		zap.String("connId", client.connID),
		zap.Int("totalClients", total))

	if h.handler != nil {
		h.handler.HandleDisconnect(client.connID)
	}
}

// dispatchMessage 메시지 라우팅
func (h *Hub) dispatchMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if message.ConnID == "" {
		// 전체 브로드캐스트
		for _, client := range h.clients {
			select {
			case client.send <- message:
			default:
				// 채널이 가득 찬 경우 연결 해제
				h.logger.Warn("Client send channel full, unregistering",
					zap.String("connId", client.connID))
				go func(c *Client) {
					h.unregister <- c
				}(client)
			}
		}
		return
	}

	if client, exists := h.clients[message.ConnID]; exists {
		select {
		case client.send <- message:
		default:
			h.logger.Warn("Client send channel full",
				zap.String("connId", message.ConnID))
		}
	}
}

// SendToConn 특정 연결에 메시지 전송
func (h *Hub) SendToConn(connID string, msgType string, payload interface{}) {
	h.broadcast <- &Message{
		ConnID:  connID,
		Type:    msgType,
		Payload: payload,
	}
}

// Broadcast 접속 중인 모든 연결에 메시지 전송
func (h *Hub) Broadcast(msgType string, payload interface{}) {
	h.broadcast <- &Message{
		ConnID:  "",
		Type:    msgType,
		Payload: payload,
	}
}

// Disconnect 서버 주도 연결 종료
func (h *Hub) Disconnect(connID string) {
	h.mu.RLock()
	client, exists := h.clients[connID]
	h.mu.RUnlock()

	if exists {
		client.conn.Close()
	}
}

// ClientCount 현재 연결 수
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
