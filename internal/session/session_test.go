package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pairlens/pairlens/internal/event"
	"github.com/pairlens/pairlens/internal/room"
)

func testStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "active_room.json"))
}

func testIdentity() Identity {
	return Identity{
		RoomID:   "ABCD1234",
		Slot:     event.SlotA,
		Role:     "partner",
		Name:     "Alice",
		Avatar:   "🟢",
		JoinedAt: time.Now(),
	}
}

func TestGetMissing(t *testing.T) {
	s := testStore(t)

	ident, err := s.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ident != nil {
		t.Error("Missing file should yield nil identity")
	}
}

func TestSetGetClear(t *testing.T) {
	s := testStore(t)

	if err := s.Set(testIdentity()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	ident, err := s.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ident == nil {
		t.Fatal("Identity should exist")
	}
	if ident.RoomID != "ABCD1234" || ident.Slot != event.SlotA || ident.Name != "Alice" {
		t.Errorf("Identity = %+v", ident)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	ident, err = s.Get()
	if err != nil {
		t.Fatalf("Get after clear: %v", err)
	}
	if ident != nil {
		t.Error("Cleared identity should be gone")
	}

	// Clearing twice is fine
	if err := s.Clear(); err != nil {
		t.Errorf("Second clear: %v", err)
	}
}

func TestStaleIdentityCleared(t *testing.T) {
	s := testStore(t)

	ident := testIdentity()
	ident.JoinedAt = time.Now().Add(-room.RetentionWindow - time.Minute)
	if err := s.Set(ident); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := s.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Error("Stale identity should be reported absent")
	}
	if _, err := os.Stat(s.path); !os.IsNotExist(err) {
		t.Error("Stale identity file should be removed")
	}
}

func TestCorruptFileCleared(t *testing.T) {
	s := testStore(t)

	if err := os.WriteFile(s.path, []byte("{broken"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := s.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Error("Corrupt identity should be reported absent")
	}
}

func TestWatchSeesExternalClear(t *testing.T) {
	s := testStore(t)
	if err := s.Set(testIdentity()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Simulate another tab clearing the session
	if err := os.Remove(s.path); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	select {
	case ident := <-changes:
		if ident != nil {
			t.Errorf("External clear should deliver nil, got %+v", ident)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch never reported the external clear")
	}
}

func TestWatchSeesExternalWrite(t *testing.T) {
	s := testStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := s.Set(testIdentity()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ident := <-changes:
			if ident != nil && ident.RoomID == "ABCD1234" {
				return
			}
			// Partial write events may deliver nil first; keep waiting.
		case <-deadline:
			t.Fatal("Watch never reported the external write")
		}
	}
}
