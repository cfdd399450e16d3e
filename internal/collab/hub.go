package collab

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/pixelveil/pixelveil/backend-go/internal/region"
)

// ApplyFunc is called after an editor's region collection was accepted.
type ApplyFunc func(ctx context.Context, sessionID, imageID string, regions []region.Region)

type Room struct {
	sessionID string
	clients   map[string]*Client // clientID -> client
	presence  *PresenceManager
	handoff   *HandoffState
}

func NewRoom(sessionID string) *Room {
	return &Room{
		sessionID: sessionID,
		clients:   make(map[string]*Client),
		presence:  NewPresenceManager(),
		handoff:   NewHandoffState(),
	}
}

type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]*Room // sessionID -> room
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	onApply    ApplyFunc
}

// NewHub creates a hub. onApply may be nil.
func NewHub(onApply ApplyFunc) *Hub {
	return &Hub{
		rooms:      make(map[string]*Room),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		onApply:    onApply,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case <-h.done:
			return
		}
	}
}

// Stop ends Run and closes every connection.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		defer h.mu.Unlock()
		for _, room := range h.rooms {
			for _, c := range room.clients {
				c.close()
				c.conn.Close(websocket.StatusGoingAway, "server shutting down")
			}
		}
		h.rooms = make(map[string]*Room)
	})
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Handoff returns the handoff state of a session, if it has clients.
func (h *Hub) Handoff(sessionID string) (*HandoffState, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[sessionID]
	if !ok {
		return nil, false
	}
	return room.handoff, true
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	room, ok := h.rooms[client.SessionID]
	if !ok {
		room = NewRoom(client.SessionID)
		h.rooms[client.SessionID] = room
	}
	room.clients[client.ClientID] = client
	room.presence.Add(client.ClientID, client.Role)
	h.mu.Unlock()

	client.Send(&Message{
		Type:      TypeWelcome,
		SessionID: client.SessionID,
		ClientID:  client.ClientID,
		Role:      client.Role,
	})
	client.Send(room.presence.StateMessage())
	for _, msg := range room.handoff.ReplayFor(client.Role) {
		client.Send(msg)
	}

	joinMsg := &Message{
		Type:     TypePeerJoin,
		ClientID: client.ClientID,
		Role:     client.Role,
	}
	h.broadcast(client.SessionID, joinMsg, "", client.ClientID)

	slog.Info("client joined", "client", client.ClientID, "role", client.Role, "session", client.SessionID)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	room, ok := h.rooms[client.SessionID]
	if !ok || room.clients[client.ClientID] != client {
		h.mu.Unlock()
		return
	}

	delete(room.clients, client.ClientID)
	client.close()
	room.presence.Remove(client.ClientID)

	if len(room.clients) == 0 {
		delete(h.rooms, client.SessionID)
	}
	h.mu.Unlock()

	leaveMsg := &Message{
		Type:     TypePeerLeave,
		ClientID: client.ClientID,
		Role:     client.Role,
	}
	h.broadcast(client.SessionID, leaveMsg, "", "")

	slog.Info("client left", "client", client.ClientID, "role", client.Role, "session", client.SessionID)
}

func (h *Hub) handleMessage(ctx context.Context, sender *Client, msg *Message) {
	switch msg.Type {
	case TypeApplyRegions:
		h.handleApply(ctx, sender, msg)
	case TypeCancel:
		h.handleCancel(sender)
	case TypeOpenImage:
		h.handleOpenImage(sender, msg)
	default:
		slog.Warn("unknown message type", "type", msg.Type, "client", sender.ClientID)
		sender.Send(&Message{Type: TypeError, Error: "unknown message type: " + msg.Type})
	}
}

func (h *Hub) room(sessionID string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[sessionID]
	return room, ok
}

func (h *Hub) handleApply(ctx context.Context, sender *Client, msg *Message) {
	if sender.Role != RoleEditor {
		sender.Send(&Message{Type: TypeError, Error: "only editors may apply regions"})
		return
	}
	room, ok := h.room(sender.SessionID)
	if !ok {
		return
	}

	seq, err := room.handoff.Apply(msg.Regions)
	if err != nil {
		slog.Warn("handoff rejected", "error", err, "client", sender.ClientID)
		sender.Send(&Message{Type: TypeError, Error: err.Error()})
		return
	}
	imageID, regions, _, _ := room.handoff.Snapshot()

	h.broadcast(sender.SessionID, &Message{
		Type:      TypeApplyRegions,
		SessionID: sender.SessionID,
		ClientID:  sender.ClientID,
		Seq:       seq,
		ImageID:   imageID,
		Regions:   regions,
	}, RoleHost, "")

	slog.Info("regions handed off", "session", sender.SessionID, "image", imageID, "regions", len(regions), "seq", seq)
	if h.onApply != nil {
		h.onApply(ctx, sender.SessionID, imageID, regions)
	}
}

func (h *Hub) handleCancel(sender *Client) {
	if sender.Role != RoleEditor {
		sender.Send(&Message{Type: TypeError, Error: "only editors may cancel"})
		return
	}
	room, ok := h.room(sender.SessionID)
	if !ok {
		return
	}
	seq := room.handoff.Cancel()
	h.broadcast(sender.SessionID, &Message{
		Type:      TypeCancel,
		SessionID: sender.SessionID,
		ClientID:  sender.ClientID,
		Seq:       seq,
	}, RoleHost, "")
}

func (h *Hub) handleOpenImage(sender *Client, msg *Message) {
	if sender.Role != RoleHost {
		sender.Send(&Message{Type: TypeError, Error: "only hosts may open images"})
		return
	}
	if msg.ImageID == "" {
		sender.Send(&Message{Type: TypeError, Error: "imageId is required"})
		return
	}
	room, ok := h.room(sender.SessionID)
	if !ok {
		return
	}
	seq := room.handoff.OpenImage(msg.ImageID)
	h.broadcast(sender.SessionID, &Message{
		Type:      TypeOpenImage,
		SessionID: sender.SessionID,
		ClientID:  sender.ClientID,
		Seq:       seq,
		ImageID:   msg.ImageID,
	}, RoleEditor, "")
}

// broadcast sends msg to every client of a session holding role (any role
// when empty), except excludeClientID.
func (h *Hub) broadcast(sessionID string, msg *Message, role Role, excludeClientID string) {
	h.mu.RLock()
	room, ok := h.rooms[sessionID]
	if !ok {
		h.mu.RUnlock()
		return
	}

	clients := make([]*Client, 0, len(room.clients))
	for _, c := range room.clients {
		if c.ClientID == excludeClientID || (role != "" && c.Role != role) {
			continue
		}
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Send(msg)
	}
}
