package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/streme-leaderboard/internal/domain"
)

// Message types
const (
	MessageTypeLeaderboardUpdate = "leaderboard_update"
	MessageTypePlayerUpdate      = "player_update"
	MessageTypeSubscribe         = "subscribe"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypeSubscribed        = "subscribed"
	MessageTypeUnsubscribed      = "unsubscribed"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	PlayerID  int64       `json:"fid,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// LeaderboardUpdate contains the top of the leaderboard for broadcast
type LeaderboardUpdate struct {
	Entries []domain.ScoreEntry     `json:"entries"`
	Stats   domain.LeaderboardStats `json:"stats"`
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Clients following a single player, by fid
	players map[int64]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client   *Client
	playerID int64
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		players:     make(map[int64]map[*Client]bool),
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
				for fid, clients := range h.players {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.players, fid)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.allClients[req.client]; ok {
				if _, ok := h.players[req.playerID]; !ok {
					h.players[req.playerID] = make(map[*Client]bool)
				}
				h.players[req.playerID][req.client] = true
				req.client.sendAck(MessageTypeSubscribed, req.playerID)
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "fid", req.playerID)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.players[req.playerID]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.players, req.playerID)
				}
			}
			if _, ok := h.allClients[req.client]; ok {
				req.client.sendAck(MessageTypeUnsubscribed, req.playerID)
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "fid", req.playerID)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends player messages to that player's followers and
// everything else to all clients
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	targets := h.allClients
	if message.PlayerID != 0 {
		targets = h.players[message.PlayerID]
	}
	for client := range targets {
		select {
		case client.send <- data:
		default:
			// Client's buffer is full, skip
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", message.Type)
	}
}

// BroadcastLeaderboardUpdate sends the current top of the leaderboard to every client
func (h *Hub) BroadcastLeaderboardUpdate(entries []domain.ScoreEntry, stats domain.LeaderboardStats) {
	h.enqueue(&Message{
		Type: MessageTypeLeaderboardUpdate,
		Data: LeaderboardUpdate{
			Entries: entries,
			Stats:   stats,
		},
		Timestamp: time.Now(),
	})
}

// BroadcastPlayerUpdate sends a new session to clients following its player
func (h *Hub) BroadcastPlayerUpdate(entry domain.ScoreEntry) {
	h.enqueue(&Message{
		Type:      MessageTypePlayerUpdate,
		PlayerID:  entry.PlayerID,
		Data:      entry,
		Timestamp: time.Now(),
	})
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe starts delivering a player's updates to the client
func (h *Hub) Subscribe(client *Client, playerID int64) {
	h.subscribe <- &subscriptionRequest{
		client:   client,
		playerID: playerID,
	}
}

// Unsubscribe stops delivering a player's updates to the client
func (h *Hub) Unsubscribe(client *Client, playerID int64) {
	h.unsubscribe <- &subscriptionRequest{
		client:   client,
		playerID: playerID,
	}
}

// GetSubscriberCount returns the number of clients following a player
func (h *Hub) GetSubscriberCount(playerID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.players[playerID])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
