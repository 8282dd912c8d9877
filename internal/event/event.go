package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Slot is one of the two fixed participant positions in a room.
type Slot string

const (
	SlotA Slot = "a"
	SlotB Slot = "b"
)

func (s Slot) Valid() bool {
	return s == SlotA || s == SlotB
}

// Other returns the complementary slot.
func (s Slot) Other() Slot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

// Type identifies a room event variant.
type Type string

const (
	TypeCategoryFixed     Type = "category-fixed"
	TypeCategoryCompleted Type = "category-completed"
	TypeProgressUpdated   Type = "progress-updated"
	TypeReady             Type = "ready"
	TypeChatMessage       Type = "chat-message"
	TypePing              Type = "ping"
	TypeLeave             Type = "leave"
	TypePresenceAnnounce  Type = "presence-announce"
)

var (
	ErrUnknownType    = errors.New("unknown event type")
	ErrInvalidSlot    = errors.New("missing or invalid slot")
	ErrMissingPayload = errors.New("missing event payload")
	ErrInvalidPayload = errors.New("invalid event payload")
)

// Event is a single room event exchanged over the realtime connection.
// Payload fields are required per type: Category for category-fixed and
// category-completed, Progress for progress-updated, Message for
// chat-message. Ping, ready, leave, and presence-announce carry none.
type Event struct {
	Type     Type   `json:"type"`
	Slot     Slot   `json:"slot"`
	Category string `json:"category,omitempty"`
	Progress *int   `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Validate checks the event against its variant's payload contract.
func (e Event) Validate() error {
	if !e.Slot.Valid() {
		return ErrInvalidSlot
	}

	switch e.Type {
	case TypeCategoryFixed, TypeCategoryCompleted:
		if e.Category == "" {
			return fmt.Errorf("%w: %s requires category", ErrMissingPayload, e.Type)
		}
	case TypeProgressUpdated:
		if e.Progress == nil {
			return fmt.Errorf("%w: progress-updated requires progress", ErrMissingPayload)
		}
		if *e.Progress < 0 || *e.Progress > 100 {
			return fmt.Errorf("%w: progress %d out of range", ErrInvalidPayload, *e.Progress)
		}
	case TypeChatMessage:
		if e.Message == "" {
			return fmt.Errorf("%w: chat-message requires message", ErrMissingPayload)
		}
	case TypeReady, TypePing, TypeLeave, TypePresenceAnnounce:
		// No payload.
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}

	return nil
}

// Decode parses and validates a wire message. Malformed input is rejected
// here so the reducer never sees a partial event.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Encode serializes an event for the wire.
func (e Event) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Constructors for each variant.

func NewCategoryFixed(slot Slot, category string) Event {
	return Event{Type: TypeCategoryFixed, Slot: slot, Category: category}
}

func NewCategoryCompleted(slot Slot, category string) Event {
	return Event{Type: TypeCategoryCompleted, Slot: slot, Category: category}
}

func NewProgress(slot Slot, progress int) Event {
	return Event{Type: TypeProgressUpdated, Slot: slot, Progress: &progress}
}

func NewReady(slot Slot) Event {
	return Event{Type: TypeReady, Slot: slot}
}

func NewChat(slot Slot, message string) Event {
	return Event{Type: TypeChatMessage, Slot: slot, Message: message}
}

func NewPing(slot Slot) Event {
	return Event{Type: TypePing, Slot: slot}
}

func NewLeave(slot Slot) Event {
	return Event{Type: TypeLeave, Slot: slot}
}

func NewPresenceAnnounce(slot Slot) Event {
	return Event{Type: TypePresenceAnnounce, Slot: slot}
}
