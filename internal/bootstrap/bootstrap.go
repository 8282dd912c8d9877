package bootstrap

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pairlens/pairlens/internal/conn"
	"github.com/pairlens/pairlens/internal/event"
	"github.com/pairlens/pairlens/internal/room"
	"github.com/pairlens/pairlens/internal/session"
	"github.com/pairlens/pairlens/internal/state"
)

// Validation failures are terminal for the session: the caller renders an
// access-denied outcome, never a retry loop.
var (
	ErrNoIdentity   = errors.New("no local session identity")
	ErrRoomNotFound = errors.New("room does not exist")
	ErrRoomExpired  = errors.New("room past retention window")
	ErrRoomNotFull  = errors.New("room does not have both slots occupied")
	ErrRoomMismatch = errors.New("identity references a different room")
	ErrSlotMismatch = errors.New("identity does not match the room slot")
)

// SnapshotSource reads durable room snapshots.
type SnapshotSource interface {
	GetRoomSnapshot(roomID string) (*room.Snapshot, error)
}

// IdentityStore holds the local session identity.
type IdentityStore interface {
	Get() (*session.Identity, error)
	Clear() error
}

// Validate gates entry into the realtime flow: the durable snapshot must
// show a live, fully occupied room, and the local identity must match one
// of its slots.
func Validate(roomID string, ident *session.Identity, snap *room.Snapshot, now time.Time) error {
	if ident == nil {
		return ErrNoIdentity
	}
	if snap == nil {
		return ErrRoomNotFound
	}
	if snap.Expired(now) {
		return ErrRoomExpired
	}
	if !snap.Full() {
		return ErrRoomNotFull
	}
	if ident.RoomID != roomID {
		return ErrRoomMismatch
	}
	if !ident.Slot.Valid() || snap.Slots.Of(ident.Slot).Name != ident.Name {
		return ErrSlotMismatch
	}
	return nil
}

type Config struct {
	// Endpoint is the realtime relay websocket URL.
	Endpoint   string
	Rooms      SnapshotSource
	Identities IdentityStore

	// Connection timing overrides, zero for defaults. Mostly for tests.
	SettleDelay    time.Duration
	ReconnectDelay time.Duration
}

// Session is one participant's live attachment to a room: the state store
// and the connection, created together and disposed together. Constructed
// only through Start, so a connection can never exist for an unvalidated
// room.
type Session struct {
	roomID string
	slot   event.Slot

	store      *state.Store
	mgr        *conn.Manager
	identities IdentityStore
}

// Start validates the participant against the durable snapshot, seeds the
// state store, and only then opens the connection.
func Start(roomID string, cfg Config) (*Session, error) {
	ident, err := cfg.Identities.Get()
	if err != nil {
		return nil, fmt.Errorf("read session identity: %w", err)
	}

	snap, err := cfg.Rooms.GetRoomSnapshot(roomID)
	if err != nil {
		return nil, fmt.Errorf("load room snapshot: %w", err)
	}

	if err := Validate(roomID, ident, snap, time.Now()); err != nil {
		return nil, err
	}

	store := state.NewStore()
	store.Seed(snap, ident.Slot)

	mgr := conn.NewManager(conn.Config{
		URL:            cfg.Endpoint,
		RoomID:         roomID,
		Slot:           ident.Slot,
		SettleDelay:    cfg.SettleDelay,
		ReconnectDelay: cfg.ReconnectDelay,
		OnEvent:        store.Apply,
		OnStatus:       store.SetConnected,
	})

	s := &Session{
		roomID:     roomID,
		slot:       ident.Slot,
		store:      store,
		mgr:        mgr,
		identities: cfg.Identities,
	}

	log.Printf("Joined room %s as %s (slot %s)", roomID, ident.Name, ident.Slot)
	mgr.Connect()
	return s, nil
}

func (s *Session) RoomID() string      { return s.roomID }
func (s *Session) Slot() event.Slot    { return s.slot }
func (s *Session) State() *state.Store { return s.store }

// Connected reports the live connection status.
func (s *Session) Connected() bool {
	return s.mgr.Connected()
}

// Reconnect forces a fresh connection after the user observes a
// disconnected state.
func (s *Session) Reconnect() {
	s.mgr.Reconnect()
}

// Local actions: each updates the store optimistically and sends the
// matching event.

func (s *Session) FixCategory(category string) {
	s.store.SetMyFixedCategory(category)
	s.mgr.Send(event.NewCategoryFixed(s.slot, category))
}

func (s *Session) CompleteCategory(category string) {
	s.store.CompleteMyCategory(category)
	s.mgr.Send(event.NewCategoryCompleted(s.slot, category))
}

func (s *Session) SetProgress(progress int) {
	s.store.SetMyProgress(progress)
	s.mgr.Send(event.NewProgress(s.slot, progress))
}

func (s *Session) MarkReady() {
	s.store.SetMyReady()
	s.mgr.Send(event.NewReady(s.slot))
}

func (s *Session) SendChat(text string) {
	if text == "" {
		return
	}
	s.store.AppendMyChat(text)
	s.mgr.Send(event.NewChat(s.slot, text))
}

// Leave tears the session down: reconnection is suppressed, a leave event
// is flushed if the connection is open, the socket closes cleanly, state
// resets, and the local identity is cleared. Safe even if the connection
// never opened. The callback runs last (e.g. navigation).
func (s *Session) Leave(cb func()) {
	leave := event.NewLeave(s.slot)
	s.mgr.Stop(&leave)
	s.store.Reset()
	if err := s.identities.Clear(); err != nil {
		log.Printf("Failed to clear session identity: %v", err)
	}
	if cb != nil {
		cb()
	}
}
