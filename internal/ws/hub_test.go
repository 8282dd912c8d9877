package ws

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pairlens/pairlens/internal/db"
	"github.com/pairlens/pairlens/internal/event"
	"github.com/pairlens/pairlens/internal/room"
)

func newTestClient(roomID string, slot event.Slot) *Client {
	return &Client{
		roomID:   roomID,
		slot:     slot,
		send:     make(chan []byte, 64),
		clientID: "test-" + string(slot),
	}
}

func TestHubCreation(t *testing.T) {
	hub := NewHub(nil)
	if hub == nil {
		t.Fatal("Hub should not be nil")
	}
	if hub.rooms == nil {
		t.Error("Hub rooms map should be initialized")
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	a := newTestClient("ABCD1234", event.SlotA)
	b := newTestClient("ABCD1234", event.SlotB)

	hub.register <- a
	hub.register <- b

	waitForCond(t, func() bool { return hub.GetClientCount() == 2 }, "Clients never registered")
	if hub.GetRoomCount() != 1 {
		t.Errorf("Room count = %d, want 1", hub.GetRoomCount())
	}
	if got := hub.GetActiveRooms()["ABCD1234"]; got != 2 {
		t.Errorf("Active clients = %d, want 2", got)
	}

	hub.unregister <- a
	waitForCond(t, func() bool { return hub.GetClientCount() == 1 }, "Client never unregistered")

	hub.unregister <- b
	waitForCond(t, func() bool { return hub.GetRoomCount() == 0 }, "Empty room should be dropped")
}

func TestHubBroadcastExcludesSender(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	a := newTestClient("ABCD1234", event.SlotA)
	b := newTestClient("ABCD1234", event.SlotB)
	other := newTestClient("ZZZZ9999", event.SlotA)

	hub.register <- a
	hub.register <- b
	hub.register <- other
	waitForCond(t, func() bool { return hub.GetClientCount() == 3 }, "Clients never registered")

	data, _ := event.NewChat(event.SlotA, "hi").Encode()
	hub.broadcast <- &Message{
		RoomID: "ABCD1234",
		Event:  event.NewChat(event.SlotA, "hi"),
		Data:   data,
		Sender: a,
	}

	select {
	case got := <-b.send:
		if string(got) != string(data) {
			t.Errorf("Partner received %q, want %q", got, data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Partner never received the broadcast")
	}

	select {
	case <-a.send:
		t.Error("Sender must not receive its own event")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case <-other.send:
		t.Error("Other rooms must not receive the event")
	case <-time.After(50 * time.Millisecond):
	}
}

func setupHubWithDB(t *testing.T) (*Hub, *db.Database) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "pairlens-ws-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	database, err := db.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.CreateRoom("ABCD1234"); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := database.ClaimSlot("ABCD1234", event.SlotA, room.SlotInfo{Name: "Alice"}); err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}
	if err := database.ClaimSlot("ABCD1234", event.SlotB, room.SlotInfo{Name: "Bob"}); err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}

	hub := NewHub(database)
	go hub.Run()
	return hub, database
}

func TestHubPersistsSideEffects(t *testing.T) {
	hub, database := setupHubWithDB(t)

	a := newTestClient("ABCD1234", event.SlotA)
	hub.register <- a

	send := func(ev event.Event) {
		data, err := ev.Encode()
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		hub.broadcast <- &Message{RoomID: "ABCD1234", Event: ev, Data: data, Sender: a}
	}

	send(event.NewPresenceAnnounce(event.SlotA))
	send(event.NewReady(event.SlotA))
	send(event.NewProgress(event.SlotA, 60))
	send(event.NewCategoryFixed(event.SlotA, "animal"))
	send(event.NewCategoryCompleted(event.SlotA, "animal"))
	send(event.NewCategoryCompleted(event.SlotA, "animal"))
	send(event.NewChat(event.SlotA, "done with animals"))

	waitForCond(t, func() bool {
		snap, err := database.GetRoomSnapshot("ABCD1234")
		if err != nil || snap == nil {
			return false
		}
		info := snap.Slots.A
		return info.Present && info.Ready && info.Progress == 60 &&
			info.FixedCategory == "animal" && len(info.Completed) == 1 &&
			len(snap.Chat) == 1
	}, "Event side effects never reached the snapshot")

	// Disconnect clears presence
	hub.unregister <- a
	waitForCond(t, func() bool {
		snap, err := database.GetRoomSnapshot("ABCD1234")
		return err == nil && snap != nil && !snap.Slots.A.Present
	}, "Unregister should clear presence")
}

func TestServeWsRoundTrip(t *testing.T) {
	hub, _ := setupHubWithDB(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	// Missing params are rejected before upgrade
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Missing roomId should 400, got %d", resp.StatusCode)
	}

	alice, _, err := websocket.DefaultDialer.Dial(wsURL+"?roomId=ABCD1234&slot=a", nil)
	if err != nil {
		t.Fatalf("Dial a: %v", err)
	}
	defer alice.Close()

	bob, _, err := websocket.DefaultDialer.Dial(wsURL+"?roomId=ABCD1234&slot=b", nil)
	if err != nil {
		t.Fatalf("Dial b: %v", err)
	}
	defer bob.Close()

	waitForCond(t, func() bool { return hub.GetClientCount() == 2 }, "Clients never registered")

	// Alice's event reaches Bob
	data, _ := event.NewCategoryFixed(event.SlotA, "animal").Encode()
	if err := alice.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := bob.ReadMessage()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	ev, err := event.Decode(got)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Type != event.TypeCategoryFixed || ev.Slot != event.SlotA || ev.Category != "animal" {
		t.Errorf("Relayed event = %+v", ev)
	}

	// Slot spoofing is dropped: Alice cannot speak for slot b
	spoof, _ := event.NewReady(event.SlotB).Encode()
	if err := alice.WriteMessage(websocket.TextMessage, spoof); err != nil {
		t.Fatalf("Write: %v", err)
	}
	bob.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := bob.ReadMessage(); err == nil {
		t.Error("Spoofed-slot event should not be relayed")
	}
}

func waitForCond(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
