package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/elo-ladder/internal/domain"
)

// Message types
const (
	MessageTypeRatingUpdate = "rating_update"
	MessageTypeLadderReset  = "ladder_reset"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	PlayerID  string      `json:"player_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub maintains the set of active clients and broadcasts rating changes.
// Clients may subscribe to individual players by external id; rating updates
// go to everyone, player-targeted notices only to subscribers.
type Hub struct {
	// clients subscribed per player external id
	clients map[string]map[*Client]bool

	// all connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu sync.RWMutex

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client   *Client
	playerID string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for playerID, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, playerID)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.playerID]; !ok {
				h.clients[req.playerID] = make(map[*Client]bool)
			}
			h.clients[req.playerID][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "player_id", req.playerID)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.playerID]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.playerID)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "player_id", req.playerID)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the right set of clients
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	// player-targeted messages go only to that player's subscribers
	if message.PlayerID != "" {
		if clients, ok := h.clients[message.PlayerID]; ok {
			for client := range clients {
				select {
				case client.send <- data:
				default:
					h.logger.Warn("client buffer full, skipping", "client_id", client.id)
				}
			}
		}
		return
	}

	for client := range h.allClients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// BroadcastRatingUpdate pushes a confirmed or reversed game outcome to all
// clients, plus targeted copies for each participant's subscribers
func (h *Hub) BroadcastRatingUpdate(update domain.RatingUpdate) {
	h.enqueue(&Message{
		Type:      MessageTypeRatingUpdate,
		Data:      update,
		Timestamp: time.Now(),
	})
	for _, id := range []int64{update.Winner.ExternalID, update.Loser.ExternalID} {
		h.enqueue(&Message{
			Type:      MessageTypeRatingUpdate,
			PlayerID:  strconv.FormatInt(id, 10),
			Data:      update,
			Timestamp: time.Now(),
		})
	}
}

// BroadcastLadderReset notifies all clients that ratings were recalculated
// and any cached view should be refetched
func (h *Hub) BroadcastLadderReset() {
	h.enqueue(&Message{
		Type:      MessageTypeLadderReset,
		Timestamp: time.Now(),
	})
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a player subscription
func (h *Hub) Subscribe(client *Client, playerID string) {
	h.subscribe <- &subscriptionRequest{client: client, playerID: playerID}
}

// Unsubscribe removes a client from a player subscription
func (h *Hub) Unsubscribe(client *Client, playerID string) {
	h.unsubscribe <- &subscriptionRequest{client: client, playerID: playerID}
}

// GetSubscriberCount returns the number of subscribers for a player
func (h *Hub) GetSubscriberCount(playerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.clients[playerID]; ok {
		return len(clients)
	}
	return 0
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
