package api

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/pairlens/pairlens/internal/db"
	"github.com/pairlens/pairlens/internal/event"
	"github.com/pairlens/pairlens/internal/room"
	"github.com/pairlens/pairlens/internal/ws"
)

// Room codes avoid lookalike characters since partners read them aloud.
const roomIDCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
const roomIDLength = 8

type API struct {
	hub      *ws.Hub
	database *db.Database

	// joinBaseURL is the public URL joins happen against, used for the
	// shareable QR code.
	joinBaseURL string
}

func New(hub *ws.Hub, database *db.Database, joinBaseURL string) *API {
	return &API{
		hub:         hub,
		database:    database,
		joinBaseURL: joinBaseURL,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// Register attaches all routes, including the realtime endpoint.
func (a *API) Register(mux *httprouter.Router) {
	mux.GET("/healthz", a.HealthHandler)
	mux.GET("/api/stats", a.StatsHandler)
	mux.POST("/api/rooms", a.CreateRoomHandler)
	mux.GET("/api/rooms/:id", a.GetRoomHandler)
	mux.POST("/api/rooms/:id/join", a.JoinRoomHandler)
	mux.GET("/api/rooms/:id/qr", a.QRHandler)
	mux.GET("/realtime", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		ws.ServeWs(a.hub, w, r)
	})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			stats["total_rooms"] = dbStats["room_count"]
			stats["total_chat_messages"] = dbStats["chat_count"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type ParticipantRequest struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Role   string `json:"role,omitempty"`
}

type JoinResponse struct {
	RoomID string     `json:"room_id"`
	Slot   event.Slot `json:"slot"`
}

type RoomResponse struct {
	ID          string             `json:"id"`
	CreatedAt   time.Time          `json:"created_at"`
	Slots       roomSlotsView      `json:"slots"`
	Chat        []room.ChatMessage `json:"chat,omitempty"`
	ActiveUsers int                `json:"active_users"`
}

type roomSlotsView struct {
	A room.SlotInfo `json:"a"`
	B room.SlotInfo `json:"b"`
}

// CreateRoomHandler creates a room and claims slot a for the creator.
func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req ParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		errorResponse(w, http.StatusBadRequest, "Name is required")
		return
	}

	roomID, err := a.newRoomID()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create room")
		return
	}

	if err := a.database.CreateRoom(roomID); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create room")
		return
	}
	info := room.SlotInfo{Name: req.Name, Avatar: req.Avatar, Role: req.Role}
	if err := a.database.ClaimSlot(roomID, event.SlotA, info); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to claim slot")
		return
	}

	jsonResponse(w, http.StatusCreated, JoinResponse{RoomID: roomID, Slot: event.SlotA})
}

// JoinRoomHandler claims slot b for the partner.
func (a *API) JoinRoomHandler(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	roomID := p.ByName("id")

	var req ParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		errorResponse(w, http.StatusBadRequest, "Name is required")
		return
	}

	snap, err := a.database.GetRoomSnapshot(roomID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}
	if snap == nil {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}
	if snap.Expired(time.Now()) {
		errorResponse(w, http.StatusGone, "Room expired")
		return
	}

	info := room.SlotInfo{Name: req.Name, Avatar: req.Avatar, Role: req.Role}
	err = a.database.ClaimSlot(roomID, event.SlotB, info)
	if errors.Is(err, db.ErrSlotTaken) {
		errorResponse(w, http.StatusConflict, "Room is full")
		return
	}
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to claim slot")
		return
	}

	jsonResponse(w, http.StatusOK, JoinResponse{RoomID: roomID, Slot: event.SlotB})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	roomID := p.ByName("id")

	snap, err := a.database.GetRoomSnapshot(roomID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}
	if snap == nil {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	activeRooms := a.hub.GetActiveRooms()

	jsonResponse(w, http.StatusOK, RoomResponse{
		ID:          snap.ID,
		CreatedAt:   snap.CreatedAt,
		Slots:       roomSlotsView{A: snap.Slots.A, B: snap.Slots.B},
		Chat:        snap.Chat,
		ActiveUsers: activeRooms[roomID],
	})
}

// QRHandler renders a shareable QR code pointing the partner at the join
// page for this room.
func (a *API) QRHandler(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	roomID := p.ByName("id")

	snap, err := a.database.GetRoomSnapshot(roomID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}
	if snap == nil {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	png, err := qrcode.Encode(a.joinBaseURL+"/join/"+roomID, qrcode.Medium, 256)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to render QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		log.Printf("Error writing QR response: %v", err)
	}
}

func (a *API) newRoomID() (string, error) {
	// Regenerate on the off chance of a collision with a live room.
	for attempt := 0; attempt < 10; attempt++ {
		buf := make([]byte, roomIDLength)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		id := make([]byte, roomIDLength)
		for i, b := range buf {
			id[i] = roomIDCharset[int(b)%len(roomIDCharset)]
		}

		snap, err := a.database.GetRoomSnapshot(string(id))
		if err != nil {
			return "", err
		}
		if snap == nil {
			return string(id), nil
		}
	}
	return "", errors.New("could not generate unique room id")
}
