package services

import (
	"context"
	"sync"
	"time"

	"premiosplatzi/models"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 16
)

// Hub fans out live results to websocket subscribers grouped by question.
// Client bookkeeping only happens on the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan broadcastMessage
	reply      chan replyMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
}

type Client struct {
	hub        *Hub
	id         string
	socket     *websocket.Conn
	send       chan []byte
	questionID uint
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type ChoiceResult struct {
	ID         uint   `json:"id"`
	ChoiceText string `json:"choice_text"`
	Votes      int64  `json:"votes"`
}

type ResultsPayload struct {
	QuestionID   uint           `json:"question_id"`
	QuestionText string         `json:"question_text"`
	TotalVotes   int64          `json:"total_votes"`
	Choices      []ChoiceResult `json:"choices"`
}

type broadcastMessage struct {
	questionID uint
	data       []byte
}

type replyMessage struct {
	client *Client
	data   []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcastMessage, 256),
		reply:      make(chan replyMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// NewResultsPayload flattens a question with loaded choices.
func NewResultsPayload(question *models.Question) ResultsPayload {
	payload := ResultsPayload{
		QuestionID:   question.ID,
		QuestionText: question.QuestionText,
		TotalVotes:   question.TotalVotes(),
		Choices:      make([]ChoiceResult, 0, len(question.Choices)),
	}
	for _, c := range question.Choices {
		payload.Choices = append(payload.Choices, ChoiceResult{
			ID:         c.ID,
			ChoiceText: c.ChoiceText,
			Votes:      c.Votes,
		})
	}
	return payload
}

// Run processes registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			log.Info().Msg("live results hub stopped")
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			log.Debug().Str("client_id", client.id).Uint("question_id", client.questionID).Int("clients", total).Msg("client registered")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Debug().Str("client_id", client.id).Uint("question_id", client.questionID).Int("clients", len(h.clients)).Msg("client unregistered")
			}
			h.mutex.Unlock()

		case msg := <-h.reply:
			h.mutex.Lock()
			if _, ok := h.clients[msg.client]; ok {
				select {
				case msg.client.send <- msg.data:
				default:
				}
			}
			h.mutex.Unlock()

		case msg := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				if client.questionID != msg.questionID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					log.Warn().Str("client_id", client.id).Msg("client send buffer full, dropping")
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// PublishResults queues a results update for every subscriber of the
// question. It never blocks the caller.
func (h *Hub) PublishResults(question *models.Question) {
	data, err := json.Marshal(Message{Type: "results", Payload: NewResultsPayload(question)})
	if err != nil {
		log.Error().Err(err).Uint("question_id", question.ID).Msg("error marshaling results message")
		return
	}

	select {
	case h.broadcast <- broadcastMessage{questionID: question.ID, data: data}:
	default:
		log.Warn().Uint("question_id", question.ID).Msg("broadcast queue full, results update dropped")
	}
}

// Subscribe attaches conn to the question's live feed. The current results
// are sent before any later update.
func (h *Hub) Subscribe(conn *websocket.Conn, question *models.Question) *Client {
	client := &Client{
		hub:        h,
		id:         uuid.NewString(),
		socket:     conn,
		send:       make(chan []byte, sendBufferSize),
		questionID: question.ID,
	}

	if data, err := json.Marshal(Message{Type: "results", Payload: NewResultsPayload(question)}); err == nil {
		client.send <- data
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return client
	}

	go client.writePump()
	go client.readPump()

	return client
}

// Subscribers returns how many clients follow the question.
func (h *Hub) Subscribers(questionID uint) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	n := 0
	for client := range h.clients {
		if client.questionID == questionID {
			n++
		}
	}
	return n
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.socket.Close()
	}()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("client_id", c.id).Msg("websocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Str("client_id", c.id).Msg("error unmarshaling message")
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "ping":
		data, _ := json.Marshal(Message{Type: "pong"})
		select {
		case c.hub.reply <- replyMessage{client: c, data: data}:
		case <-c.hub.done:
		}
	default:
		log.Debug().Str("type", msg.Type).Str("client_id", c.id).Msg("unknown message type")
	}
}
