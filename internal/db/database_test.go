package db

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pairlens/pairlens/internal/event"
	"github.com/pairlens/pairlens/internal/room"
)

func setupTestDB(t *testing.T) (*Database, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "pairlens-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

func TestDatabaseCreation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if db == nil {
		t.Fatal("Database should not be nil")
	}
}

func TestRoomLifecycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.CreateRoom("ABCD1234"); err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}

	snap, err := db.GetRoomSnapshot("ABCD1234")
	if err != nil {
		t.Fatalf("Failed to get snapshot: %v", err)
	}
	if snap == nil {
		t.Fatal("Room should exist")
	}
	if snap.ID != "ABCD1234" {
		t.Errorf("Expected room ID 'ABCD1234', got '%s'", snap.ID)
	}
	if snap.Full() {
		t.Error("New room should have no occupied slots")
	}

	// Non-existent room returns nil, not an error
	snap, err = db.GetRoomSnapshot("NOPE0000")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if snap != nil {
		t.Error("Non-existent room should return nil")
	}

	if err := db.DeleteRoom("ABCD1234"); err != nil {
		t.Fatalf("Failed to delete room: %v", err)
	}
	snap, err = db.GetRoomSnapshot("ABCD1234")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if snap != nil {
		t.Error("Deleted room should not exist")
	}
}

func TestClaimSlot(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.CreateRoom("ABCD1234"); err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}

	alice := room.SlotInfo{Name: "Alice", Avatar: "🟢", Role: "partner"}
	if err := db.ClaimSlot("ABCD1234", event.SlotA, alice); err != nil {
		t.Fatalf("Failed to claim slot a: %v", err)
	}

	// Same slot cannot be claimed twice
	err := db.ClaimSlot("ABCD1234", event.SlotA, room.SlotInfo{Name: "Mallory"})
	if !errors.Is(err, ErrSlotTaken) {
		t.Errorf("Expected ErrSlotTaken, got %v", err)
	}

	bob := room.SlotInfo{Name: "Bob", Avatar: "🔵", Role: "partner"}
	if err := db.ClaimSlot("ABCD1234", event.SlotB, bob); err != nil {
		t.Fatalf("Failed to claim slot b: %v", err)
	}

	snap, err := db.GetRoomSnapshot("ABCD1234")
	if err != nil {
		t.Fatalf("Failed to get snapshot: %v", err)
	}
	if !snap.Full() {
		t.Error("Room should be full after both claims")
	}
	if snap.Slots.A.Name != "Alice" || snap.Slots.B.Name != "Bob" {
		t.Errorf("Slot names wrong: a=%q b=%q", snap.Slots.A.Name, snap.Slots.B.Name)
	}
	if snap.Slots.A.Avatar != "🟢" {
		t.Errorf("Slot a avatar = %q", snap.Slots.A.Avatar)
	}
}

func TestMirrorFields(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.CreateRoom("ABCD1234"); err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}
	if err := db.ClaimSlot("ABCD1234", event.SlotA, room.SlotInfo{Name: "Alice"}); err != nil {
		t.Fatalf("Failed to claim slot: %v", err)
	}

	if err := db.SetPresence("ABCD1234", event.SlotA, true); err != nil {
		t.Fatalf("SetPresence: %v", err)
	}
	if err := db.SetReady("ABCD1234", event.SlotA); err != nil {
		t.Fatalf("SetReady: %v", err)
	}
	if err := db.SetProgress("ABCD1234", event.SlotA, 60); err != nil {
		t.Fatalf("SetProgress: %v", err)
	}
	if err := db.SetFixedCategory("ABCD1234", event.SlotA, "animal"); err != nil {
		t.Fatalf("SetFixedCategory: %v", err)
	}

	snap, err := db.GetRoomSnapshot("ABCD1234")
	if err != nil {
		t.Fatalf("Failed to get snapshot: %v", err)
	}
	a := snap.Slots.A
	if !a.Present || !a.Ready {
		t.Errorf("Expected present+ready, got present=%v ready=%v", a.Present, a.Ready)
	}
	if a.Progress != 60 {
		t.Errorf("Progress = %d, want 60", a.Progress)
	}
	if a.FixedCategory != "animal" {
		t.Errorf("Fixed category = %q, want 'animal'", a.FixedCategory)
	}
}

func TestAddCompletedCategoryDedup(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.CreateRoom("ABCD1234"); err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}
	if err := db.ClaimSlot("ABCD1234", event.SlotB, room.SlotInfo{Name: "Bob"}); err != nil {
		t.Fatalf("Failed to claim slot: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := db.AddCompletedCategory("ABCD1234", event.SlotB, "animal"); err != nil {
			t.Fatalf("AddCompletedCategory: %v", err)
		}
	}
	if err := db.AddCompletedCategory("ABCD1234", event.SlotB, "color"); err != nil {
		t.Fatalf("AddCompletedCategory: %v", err)
	}

	snap, err := db.GetRoomSnapshot("ABCD1234")
	if err != nil {
		t.Fatalf("Failed to get snapshot: %v", err)
	}
	completed := snap.Slots.B.Completed
	if len(completed) != 2 {
		t.Fatalf("Expected 2 completed categories, got %v", completed)
	}
	if completed[0] != "animal" || completed[1] != "color" {
		t.Errorf("Completed = %v, want [animal color]", completed)
	}
}

func TestSaveImageRefs(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.CreateRoom("ABCD1234"); err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}
	if err := db.ClaimSlot("ABCD1234", event.SlotA, room.SlotInfo{Name: "Alice"}); err != nil {
		t.Fatalf("Failed to claim slot: %v", err)
	}

	refs := []string{"img/animal/1.webp", "img/animal/2.webp"}
	if err := db.SaveImageRefs("ABCD1234", event.SlotA, "animal", refs); err != nil {
		t.Fatalf("SaveImageRefs: %v", err)
	}

	snap, err := db.GetRoomSnapshot("ABCD1234")
	if err != nil {
		t.Fatalf("Failed to get snapshot: %v", err)
	}
	got := snap.Slots.A.Images["animal"]
	if len(got) != 2 || got[0] != refs[0] {
		t.Errorf("Image refs = %v, want %v", got, refs)
	}
}

func TestChatLog(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.CreateRoom("ABCD1234"); err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}

	base := time.Now().Add(-time.Minute)
	for i, text := range []string{"hi", "hello", "ready?"} {
		msg := room.ChatMessage{
			ID:     uuid.NewString(),
			Slot:   event.SlotA,
			Text:   text,
			SentAt: base.Add(time.Duration(i) * time.Second),
		}
		if i == 1 {
			msg.Slot = event.SlotB
		}
		if err := db.AppendChat("ABCD1234", msg); err != nil {
			t.Fatalf("AppendChat: %v", err)
		}
	}

	log, err := db.GetChatLog("ABCD1234")
	if err != nil {
		t.Fatalf("GetChatLog: %v", err)
	}
	if len(log) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(log))
	}
	if log[0].Text != "hi" || log[2].Text != "ready?" {
		t.Errorf("Chat log out of order: %v", log)
	}
	if log[1].Slot != event.SlotB {
		t.Errorf("Second message slot = %s, want b", log[1].Slot)
	}
}

func TestExpireRooms(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.CreateRoom("FRESH001"); err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}
	if err := db.CreateRoom("STALE001"); err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}

	// Nothing expired yet
	n, err := db.ExpireRooms(time.Now())
	if err != nil {
		t.Fatalf("ExpireRooms: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 expired rooms, got %d", n)
	}

	// Jump past the retention window: everything goes
	n, err = db.ExpireRooms(time.Now().Add(room.RetentionWindow + time.Minute))
	if err != nil {
		t.Fatalf("ExpireRooms: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 expired rooms, got %d", n)
	}

	snap, err := db.GetRoomSnapshot("FRESH001")
	if err != nil {
		t.Fatalf("GetRoomSnapshot: %v", err)
	}
	if snap != nil {
		t.Error("Expired room should be gone")
	}
}
