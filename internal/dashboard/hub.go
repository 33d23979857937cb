// Package dashboard реализует интерактивную панель: страница с формой
// и websocket, по которому панель запрашивает предсказания и получает
// общую ленту результатов.
package dashboard

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vitals-risk-service/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBufferSize = 64
)

// Client подключенная панель
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// envelope сообщение одному клиенту или всем (to == nil)
type envelope struct {
	to   *Client
	data []byte
}

// Hub владеет набором клиентов. Все изменения набора и отправки идут через
// один цикл Run, поэтому канал send закрывается только им.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	outbound   chan envelope
	done       chan struct{}
	logger     *zap.Logger
}

// NewHub создает хаб
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan envelope, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run обслуживает хаб до отмены контекста
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			metrics.DashboardClients.Set(float64(len(h.clients)))
			h.logger.Info("Dashboard connected", zap.String("client_id", client.id), zap.Int("total", len(h.clients)))

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Info("Dashboard disconnected", zap.String("client_id", client.id), zap.Int("total", len(h.clients)))

		case env := <-h.outbound:
			if env.to != nil {
				if h.clients[env.to] {
					h.deliver(env.to, env.data)
				}
				continue
			}
			for client := range h.clients {
				h.deliver(client, env.data)
			}

		case <-ctx.Done():
			for client := range h.clients {
				h.remove(client)
			}
			return
		}
	}
}

// deliver отправляет без блокировки; медленный клиент отключается
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.logger.Warn("Dashboard send buffer full, dropping client", zap.String("client_id", client.id))
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	metrics.DashboardClients.Set(float64(len(h.clients)))
}

// join регистрирует клиента; false если хаб уже остановлен
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Broadcast отправляет сообщение всем панелям
func (h *Hub) Broadcast(data []byte) {
	h.enqueue(envelope{data: data})
}

// SendTo отправляет сообщение одной панели
func (h *Hub) SendTo(client *Client, data []byte) {
	h.enqueue(envelope{to: client, data: data})
}

func (h *Hub) enqueue(env envelope) {
	select {
	case h.outbound <- env:
	default:
		h.logger.Warn("Dashboard outbound queue is full, dropping message")
	}
}

// writePump пишет сообщения клиента и пингует соединение
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// readPump читает сообщения клиента и передает их в handle
func (c *Client) readPump(h *Hub, handle func(*Client, []byte)) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Dashboard websocket error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		handle(c, data)
	}
}
