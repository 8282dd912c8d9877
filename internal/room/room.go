package room

import (
	"time"

	"github.com/pairlens/pairlens/internal/event"
)

// RetentionWindow is how long a room lives after creation. Expired rooms
// are swept by the reaper and rejected at bootstrap.
const RetentionWindow = 150 * time.Minute

// Sides holds one value per participant slot. An explicit two-field record
// instead of slot-keyed maps keeps lookups typo-proof.
type Sides[T any] struct {
	A T
	B T
}

// Of returns the value for the given slot.
func (s Sides[T]) Of(slot event.Slot) T {
	if slot == event.SlotA {
		return s.A
	}
	return s.B
}

// SetOf replaces the value for the given slot.
func (s *Sides[T]) SetOf(slot event.Slot, v T) {
	if slot == event.SlotA {
		s.A = v
	} else {
		s.B = v
	}
}

// SlotInfo is one participant's durable slot record: profile fields plus
// the realtime-mirrored fields the relay writes back as events flow.
type SlotInfo struct {
	Name          string              `json:"name"`
	Avatar        string              `json:"avatar"`
	Role          string              `json:"role"`
	Ready         bool                `json:"ready"`
	Present       bool                `json:"present"`
	FixedCategory string              `json:"fixed_category,omitempty"`
	Completed     []string            `json:"completed,omitempty"`
	Progress      int                 `json:"progress"`
	Images        map[string][]string `json:"images,omitempty"`
}

// Occupied reports whether the slot holds a participant. A slot is either
// fully empty (no name) or fully populated.
func (s SlotInfo) Occupied() bool {
	return s.Name != ""
}

// ChatMessage is one entry in a room's chat log.
type ChatMessage struct {
	ID     string     `json:"id"`
	Slot   event.Slot `json:"slot"`
	Text   string     `json:"text"`
	SentAt time.Time  `json:"sent_at"`
}

// Snapshot is the durable server-held record of a room.
type Snapshot struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Slots     Sides[SlotInfo] `json:"slots"`
	Chat      []ChatMessage   `json:"chat,omitempty"`
}

// Full reports whether both slots are occupied.
func (s *Snapshot) Full() bool {
	return s.Slots.A.Occupied() && s.Slots.B.Occupied()
}

// Expired reports whether the room is past its retention window.
func (s *Snapshot) Expired(now time.Time) bool {
	return now.After(s.CreatedAt.Add(RetentionWindow))
}
