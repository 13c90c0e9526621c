package services

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Dispatcher handles messages read from websocket clients.
type Dispatcher interface {
	Dispatch(c *Client, msg InboundMessage)
	Disconnected(c *Client)
}

// Hub fans survey events out to the websocket clients subscribed to each survey.
// A client whose send buffer is full is dropped instead of stalling the publisher.
type Hub struct {
	mutex      sync.RWMutex
	surveys    map[uint]map[*Client]bool
	dispatcher Dispatcher
}

type Client struct {
	hub           *Hub
	id            string
	socket        *websocket.Conn
	send          chan []byte
	surveyID      uint
	userID        uint
	participantID string
	nickname      string
}

func NewHub() *Hub {
	return &Hub{surveys: make(map[uint]map[*Client]bool)}
}

func (h *Hub) SetDispatcher(d Dispatcher) {
	h.mutex.Lock()
	h.dispatcher = d
	h.mutex.Unlock()
}

func (c *Client) ID() string            { return c.id }
func (c *Client) SurveyID() uint        { return c.surveyID }
func (c *Client) UserID() uint          { return c.userID }
func (c *Client) ParticipantID() string { return c.participantID }

// IsCreator reports whether the client is the survey's creator rather than a
// participant.
func (c *Client) IsCreator() bool { return c.participantID == "" }

func newClient(h *Hub, conn *websocket.Conn, surveyID uint, participantID, nickname string) *Client {
	return &Client{
		hub:           h,
		id:            uuid.NewString(),
		socket:        conn,
		send:          make(chan []byte, sendBufferSize),
		surveyID:      surveyID,
		participantID: participantID,
		nickname:      nickname,
	}
}

// RegisterClient subscribes a websocket connection to a survey and starts its
// pumps. An empty participantID registers the survey's creator, identified by
// userID.
func (h *Hub) RegisterClient(conn *websocket.Conn, surveyID, userID uint, participantID, nickname string) *Client {
	client := newClient(h, conn, surveyID, participantID, nickname)
	client.userID = userID
	h.Subscribe(client)

	go client.writePump()
	go client.readPump()

	return client
}

func (h *Hub) Subscribe(client *Client) {
	h.mutex.Lock()
	clients, ok := h.surveys[client.surveyID]
	if !ok {
		clients = make(map[*Client]bool)
		h.surveys[client.surveyID] = clients
	}
	clients[client] = true
	total := len(clients)
	h.mutex.Unlock()

	slog.Info("client subscribed", "client", client.id, "survey_id", client.surveyID,
		"participant", client.participantID, "clients", total)
	if !client.IsCreator() {
		h.Publish(client.surveyID, EventParticipantJoined, h.presence(client))
	}
}

// Unsubscribe removes a client and closes its send channel. It is safe to call more
// than once.
func (h *Hub) Unsubscribe(client *Client) {
	if !h.remove(client) {
		return
	}
	slog.Info("client unsubscribed", "client", client.id, "survey_id", client.surveyID,
		"participant", client.participantID)
	if !client.IsCreator() {
		h.Publish(client.surveyID, EventParticipantLeft, h.presence(client))
	}
}

func (h *Hub) remove(client *Client) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) bool {
	clients, ok := h.surveys[client.surveyID]
	if !ok || !clients[client] {
		return false
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.surveys, client.surveyID)
	}
	close(client.send)
	return true
}

func (h *Hub) presence(client *Client) Presence {
	return Presence{
		ParticipantID: client.participantID,
		Nickname:      client.nickname,
		Count:         h.ParticipantCount(client.surveyID),
	}
}

// Publish sends an event to every client subscribed to the survey.
func (h *Hub) Publish(surveyID uint, event string, payload interface{}) {
	h.fanout(surveyID, event, payload, func(*Client) bool { return true })
}

// SendToParticipant sends an event to the connections of one participant.
func (h *Hub) SendToParticipant(surveyID uint, participantID string, event string, payload interface{}) {
	h.fanout(surveyID, event, payload, func(c *Client) bool { return c.participantID == participantID })
}

// SendTo sends an event to a single client.
func (h *Hub) SendTo(client *Client, event string, payload interface{}) {
	h.fanout(client.surveyID, event, payload, func(c *Client) bool { return c == client })
}

func (h *Hub) fanout(surveyID uint, event string, payload interface{}, match func(*Client) bool) {
	data, err := json.Marshal(Message{Type: event, Payload: payload})
	if err != nil {
		slog.Error("failed to marshal event", "event", event, "error", err)
		return
	}

	var slow []*Client
	h.mutex.RLock()
	for client := range h.surveys[surveyID] {
		if !match(client) {
			continue
		}
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mutex.RUnlock()

	if len(slow) == 0 {
		return
	}
	var dropped []*Client
	h.mutex.Lock()
	for _, client := range slow {
		if h.removeLocked(client) {
			slog.Warn("dropping slow client", "client", client.id, "survey_id", surveyID, "event", event)
			dropped = append(dropped, client)
		}
	}
	h.mutex.Unlock()

	for _, client := range dropped {
		if !client.IsCreator() {
			h.Publish(surveyID, EventParticipantLeft, h.presence(client))
		}
	}
}

// ClientCount returns the number of connections subscribed to a survey.
func (h *Hub) ClientCount(surveyID uint) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.surveys[surveyID])
}

// Connected reports whether the participant has any connection open to the survey.
func (h *Hub) Connected(surveyID uint, participantID string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for client := range h.surveys[surveyID] {
		if client.participantID == participantID {
			return true
		}
	}
	return false
}

// ParticipantCount returns the number of distinct participants connected to a
// survey.
func (h *Hub) ParticipantCount(surveyID uint) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	seen := make(map[string]bool)
	for client := range h.surveys[surveyID] {
		if !client.IsCreator() {
			seen[client.participantID] = true
		}
	}
	return len(seen)
}

func (h *Hub) currentDispatcher() Dispatcher {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.dispatcher
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unsubscribe(c)
		c.socket.Close()
		if d := c.hub.currentDispatcher(); d != nil {
			d.Disconnected(c)
		}
	}()

	c.socket.SetReadLimit(maxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "client", c.id, "error", err)
			}
			return
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.SendTo(c, EventError, map[string]string{"error": "malformed message"})
			continue
		}
		if d := c.hub.currentDispatcher(); d != nil {
			d.Dispatch(c, msg)
		}
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
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
