package ws

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pairlens/pairlens/internal/db"
	"github.com/pairlens/pairlens/internal/event"
	"github.com/pairlens/pairlens/internal/room"
)

// Hub relays room events between the two participants of each room and
// mirrors presence, readiness, progress, and chat into the durable store.
type Hub struct {
	// Registered clients by room
	rooms map[string]map[*Client]bool

	// Inbound events from clients
	broadcast chan *Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	database *db.Database

	mu sync.RWMutex
}

type Message struct {
	RoomID string
	Event  event.Event
	Data   []byte
	Sender *Client
}

func NewHub(database *db.Database) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan *Message),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		database:   database,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.rooms[client.roomID]; !ok {
				h.rooms[client.roomID] = make(map[*Client]bool)
			}
			h.rooms[client.roomID][client] = true
			clientCount := len(h.rooms[client.roomID])
			h.mu.Unlock()

			log.Printf("Client joined room %s slot %s (total: %d)", client.roomID, client.slot, clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.roomID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)

					if len(clients) == 0 {
						delete(h.rooms, client.roomID)
						log.Printf("Room %s idle (empty)", client.roomID)
					} else {
						log.Printf("Client left room %s slot %s (remaining: %d)", client.roomID, client.slot, len(clients))
					}
				}
			}
			h.mu.Unlock()

			// A dropped connection is an implicit leave for presence.
			h.persistPresence(client.roomID, client.slot, false)

		case message := <-h.broadcast:
			h.persist(message)

			h.mu.Lock()
			if clients, ok := h.rooms[message.RoomID]; ok {
				for client := range clients {
					if client != message.Sender {
						select {
						case client.send <- message.Data:
						default:
							// Client is slow/full - drop them.
							close(client.send)
							delete(clients, client)
						}
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// persist mirrors realtime events into slot columns so a reconnecting
// client can seed from the snapshot.
func (h *Hub) persist(msg *Message) {
	if h.database == nil {
		return
	}

	ev := msg.Event
	var err error

	switch ev.Type {
	case event.TypePresenceAnnounce:
		err = h.database.SetPresence(msg.RoomID, ev.Slot, true)
	case event.TypeLeave:
		err = h.database.SetPresence(msg.RoomID, ev.Slot, false)
	case event.TypeReady:
		err = h.database.SetReady(msg.RoomID, ev.Slot)
	case event.TypeProgressUpdated:
		if ev.Progress != nil {
			err = h.database.SetProgress(msg.RoomID, ev.Slot, *ev.Progress)
		}
	case event.TypeCategoryFixed:
		err = h.database.SetFixedCategory(msg.RoomID, ev.Slot, ev.Category)
	case event.TypeCategoryCompleted:
		err = h.database.AddCompletedCategory(msg.RoomID, ev.Slot, ev.Category)
	case event.TypeChatMessage:
		err = h.database.AppendChat(msg.RoomID, room.ChatMessage{
			ID:     uuid.NewString(),
			Slot:   ev.Slot,
			Text:   ev.Message,
			SentAt: time.Now(),
		})
	case event.TypePing:
		// Not persisted.
	}

	if err != nil {
		log.Printf("Failed to persist %s event for room %s: %v", ev.Type, msg.RoomID, err)
	}
}

func (h *Hub) persistPresence(roomID string, slot event.Slot, present bool) {
	if h.database == nil {
		return
	}
	if err := h.database.SetPresence(roomID, slot, present); err != nil {
		log.Printf("Failed to persist presence for room %s: %v", roomID, err)
	}
}

// GetRoomCount returns the number of rooms with at least one connection.
func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// GetClientCount returns the total number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, clients := range h.rooms {
		count += len(clients)
	}
	return count
}

// GetActiveRooms maps room IDs to their connected client counts.
func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	active := make(map[string]int, len(h.rooms))
	for id, clients := range h.rooms {
		active[id] = len(clients)
	}
	return active
}
