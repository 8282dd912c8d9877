package state

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pairlens/pairlens/internal/event"
	"github.com/pairlens/pairlens/internal/room"
)

// Profile is a participant's display identity.
type Profile struct {
	Name   string
	Avatar string
	Role   string
}

// State is the client-side view of a room: both participants' progress,
// the chat log, and connection status.
type State struct {
	RoomID      string
	MySlot      event.Slot
	PartnerSlot event.Slot
	Initialized bool
	Connected   bool

	Profiles      room.Sides[Profile]
	FixedCategory room.Sides[string]
	Completed     room.Sides[[]string]
	Progress      room.Sides[int]
	Ready         room.Sides[bool]

	PartnerPresent bool
	Chat           []room.ChatMessage
	Unread         int
	ChatOpen       bool
}

// Store is the single source of truth for room state on this client.
// Only the reducer (Apply) and the local mutators change it; UI consumers
// subscribe read-only.
type Store struct {
	mu    sync.RWMutex
	state State
	subs  map[chan struct{}]bool
}

func NewStore() *Store {
	return &Store{
		subs: make(map[chan struct{}]bool),
	}
}

// Seed populates the store from a durable room snapshot and the local
// participant's slot. Idempotent: seeding twice with the same snapshot
// yields the same state. This is the only path that sets Initialized,
// which gates connection startup.
func (s *Store) Seed(snap *room.Snapshot, mySlot event.Slot) {
	s.mu.Lock()

	partner := mySlot.Other()
	st := State{
		RoomID:      snap.ID,
		MySlot:      mySlot,
		PartnerSlot: partner,
		Initialized: true,
		Connected:   s.state.Connected,
	}

	for _, slot := range []event.Slot{event.SlotA, event.SlotB} {
		info := snap.Slots.Of(slot)
		st.Profiles.SetOf(slot, Profile{Name: info.Name, Avatar: info.Avatar, Role: info.Role})
		st.FixedCategory.SetOf(slot, info.FixedCategory)
		st.Completed.SetOf(slot, append([]string(nil), info.Completed...))
		st.Progress.SetOf(slot, info.Progress)
		st.Ready.SetOf(slot, info.Ready)
	}

	st.PartnerPresent = snap.Slots.Of(partner).Present
	st.Chat = append([]room.ChatMessage(nil), snap.Chat...)

	s.state = st
	s.mu.Unlock()
	s.notify()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.state
	st.Chat = append([]room.ChatMessage(nil), s.state.Chat...)
	st.Completed.A = append([]string(nil), s.state.Completed.A...)
	st.Completed.B = append([]string(nil), s.state.Completed.B...)
	return st
}

// Initialized reports whether the store has been seeded.
func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Initialized
}

// Apply is the event reducer. Events from my slot update my-side fields,
// events from the partner slot update partner-side fields.
func (s *Store) Apply(ev event.Event) {
	s.mu.Lock()

	switch ev.Type {
	case event.TypePresenceAnnounce:
		if ev.Slot == s.state.PartnerSlot {
			s.state.PartnerPresent = true
		}

	case event.TypeLeave:
		if ev.Slot == s.state.PartnerSlot {
			s.state.PartnerPresent = false
		}

	case event.TypeCategoryFixed:
		s.state.FixedCategory.SetOf(ev.Slot, ev.Category)

	case event.TypeCategoryCompleted:
		completed := s.state.Completed.Of(ev.Slot)
		if !contains(completed, ev.Category) {
			s.state.Completed.SetOf(ev.Slot, append(completed, ev.Category))
		}

	case event.TypeProgressUpdated:
		// Last write wins; a late update may regress the value.
		if ev.Progress != nil {
			s.state.Progress.SetOf(ev.Slot, *ev.Progress)
		}

	case event.TypeReady:
		// Readiness is monotonic within a session.
		s.state.Ready.SetOf(ev.Slot, true)

	case event.TypeChatMessage:
		s.state.Chat = append(s.state.Chat, room.ChatMessage{
			ID:     uuid.NewString(),
			Slot:   ev.Slot,
			Text:   ev.Message,
			SentAt: time.Now(),
		})
		if ev.Slot != s.state.MySlot && !s.state.ChatOpen {
			s.state.Unread++
		}

	case event.TypePing:
		// Keepalive only.
	}

	s.mu.Unlock()
	s.notify()
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Local mutators. These reflect local intent immediately; callers pair
// each with an outbound send of the matching event.

func (s *Store) SetMyFixedCategory(category string) {
	s.mu.Lock()
	s.state.FixedCategory.SetOf(s.state.MySlot, category)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) CompleteMyCategory(category string) {
	s.mu.Lock()
	completed := s.state.Completed.Of(s.state.MySlot)
	if !contains(completed, category) {
		s.state.Completed.SetOf(s.state.MySlot, append(completed, category))
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) SetMyProgress(progress int) {
	s.mu.Lock()
	s.state.Progress.SetOf(s.state.MySlot, progress)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) SetMyReady() {
	s.mu.Lock()
	s.state.Ready.SetOf(s.state.MySlot, true)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) AppendMyChat(text string) {
	s.mu.Lock()
	s.state.Chat = append(s.state.Chat, room.ChatMessage{
		ID:     uuid.NewString(),
		Slot:   s.state.MySlot,
		Text:   text,
		SentAt: time.Now(),
	})
	s.mu.Unlock()
	s.notify()
}

// SetChatOpen marks the chat view open or closed. Opening clears the
// unread counter.
func (s *Store) SetChatOpen(open bool) {
	s.mu.Lock()
	s.state.ChatOpen = open
	if open {
		s.state.Unread = 0
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	s.state.Connected = connected
	s.mu.Unlock()
	s.notify()
}

// Reset clears all state back to initial. Used by the leave flow.
func (s *Store) Reset() {
	s.mu.Lock()
	s.state = State{}
	s.mu.Unlock()
	s.notify()
}

// Subscribe registers for change notifications. The channel coalesces:
// a pending signal covers any number of changes. The returned func
// unsubscribes.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	s.subs[ch] = true
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Store) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
			// Subscriber already has a pending signal.
		}
	}
}
