package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pairlens/pairlens/internal/event"
	"github.com/pairlens/pairlens/internal/room"
)

var ErrSlotTaken = errors.New("slot already occupied")

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Printf("Database initialized at %s", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS slots (
		room_id TEXT NOT NULL,
		slot TEXT NOT NULL CHECK (slot IN ('a', 'b')),
		name TEXT NOT NULL,
		avatar TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT '',
		ready BOOLEAN NOT NULL DEFAULT FALSE,
		present BOOLEAN NOT NULL DEFAULT FALSE,
		fixed_category TEXT NOT NULL DEFAULT '',
		completed TEXT NOT NULL DEFAULT '[]',
		progress INTEGER NOT NULL DEFAULT 0,
		images TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (room_id, slot),
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		slot TEXT NOT NULL,
		body TEXT NOT NULL,
		sent_at DATETIME NOT NULL,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chat_messages_room_id ON chat_messages(room_id, sent_at ASC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Room operations

func (d *Database) CreateRoom(id string) error {
	_, err := d.db.Exec(
		"INSERT OR IGNORE INTO rooms (id, created_at) VALUES (?, ?)",
		id, time.Now().UTC(),
	)
	return err
}

// ClaimSlot populates a slot with a participant's profile. Returns
// ErrSlotTaken if the slot is already occupied.
func (d *Database) ClaimSlot(roomID string, slot event.Slot, info room.SlotInfo) error {
	images, err := json.Marshal(info.Images)
	if err != nil {
		return err
	}
	if info.Images == nil {
		images = []byte("{}")
	}

	var exists int
	err = d.db.QueryRow(
		"SELECT COUNT(*) FROM slots WHERE room_id = ? AND slot = ?",
		roomID, string(slot),
	).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return ErrSlotTaken
	}

	_, err = d.db.Exec(`
		INSERT INTO slots (room_id, slot, name, avatar, role, images)
		VALUES (?, ?, ?, ?, ?, ?)
	`, roomID, string(slot), info.Name, info.Avatar, info.Role, string(images))
	return err
}

// GetRoomSnapshot loads a room with both slots and its chat log.
// Returns nil when the room does not exist.
func (d *Database) GetRoomSnapshot(id string) (*room.Snapshot, error) {
	row := d.db.QueryRow("SELECT id, created_at FROM rooms WHERE id = ?", id)

	var snap room.Snapshot
	err := row.Scan(&snap.ID, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := d.db.Query(`
		SELECT slot, name, avatar, role, ready, present, fixed_category, completed, progress, images
		FROM slots WHERE room_id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var slot string
		var info room.SlotInfo
		var completed, images string
		if err := rows.Scan(&slot, &info.Name, &info.Avatar, &info.Role,
			&info.Ready, &info.Present, &info.FixedCategory,
			&completed, &info.Progress, &images); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(completed), &info.Completed); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(images), &info.Images); err != nil {
			return nil, err
		}
		snap.Slots.SetOf(event.Slot(slot), info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	chat, err := d.GetChatLog(id)
	if err != nil {
		return nil, err
	}
	snap.Chat = chat

	return &snap, nil
}

func (d *Database) DeleteRoom(id string) error {
	if _, err := d.db.Exec("DELETE FROM slots WHERE room_id = ?", id); err != nil {
		return err
	}
	if _, err := d.db.Exec("DELETE FROM chat_messages WHERE room_id = ?", id); err != nil {
		return err
	}
	_, err := d.db.Exec("DELETE FROM rooms WHERE id = ?", id)
	return err
}

// ExpireRooms deletes rooms past the retention window, returning how many
// were removed.
func (d *Database) ExpireRooms(now time.Time) (int, error) {
	cutoff := now.UTC().Add(-room.RetentionWindow)

	rows, err := d.db.Query("SELECT id FROM rooms WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		expired = append(expired, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range expired {
		if err := d.DeleteRoom(id); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

// Mirror operations (connection-layer side effects)

func (d *Database) SetPresence(roomID string, slot event.Slot, present bool) error {
	_, err := d.db.Exec(
		"UPDATE slots SET present = ? WHERE room_id = ? AND slot = ?",
		present, roomID, string(slot),
	)
	return err
}

func (d *Database) SetReady(roomID string, slot event.Slot) error {
	_, err := d.db.Exec(
		"UPDATE slots SET ready = TRUE WHERE room_id = ? AND slot = ?",
		roomID, string(slot),
	)
	return err
}

func (d *Database) SetProgress(roomID string, slot event.Slot, progress int) error {
	_, err := d.db.Exec(
		"UPDATE slots SET progress = ? WHERE room_id = ? AND slot = ?",
		progress, roomID, string(slot),
	)
	return err
}

func (d *Database) SetFixedCategory(roomID string, slot event.Slot, category string) error {
	_, err := d.db.Exec(
		"UPDATE slots SET fixed_category = ? WHERE room_id = ? AND slot = ?",
		category, roomID, string(slot),
	)
	return err
}

// AddCompletedCategory appends a category to a slot's completed set if not
// already present.
func (d *Database) AddCompletedCategory(roomID string, slot event.Slot, category string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRow(
		"SELECT completed FROM slots WHERE room_id = ? AND slot = ?",
		roomID, string(slot),
	).Scan(&raw)
	if err != nil {
		return err
	}

	var completed []string
	if err := json.Unmarshal([]byte(raw), &completed); err != nil {
		return err
	}
	for _, c := range completed {
		if c == category {
			return nil
		}
	}
	completed = append(completed, category)

	updated, err := json.Marshal(completed)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(
		"UPDATE slots SET completed = ? WHERE room_id = ? AND slot = ?",
		string(updated), roomID, string(slot),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveImageRefs replaces a slot's uploaded-image references for a category.
func (d *Database) SaveImageRefs(roomID string, slot event.Slot, category string, refs []string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRow(
		"SELECT images FROM slots WHERE room_id = ? AND slot = ?",
		roomID, string(slot),
	).Scan(&raw)
	if err != nil {
		return err
	}

	images := make(map[string][]string)
	if err := json.Unmarshal([]byte(raw), &images); err != nil {
		return err
	}
	images[category] = refs

	updated, err := json.Marshal(images)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(
		"UPDATE slots SET images = ? WHERE room_id = ? AND slot = ?",
		string(updated), roomID, string(slot),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Chat operations

func (d *Database) AppendChat(roomID string, msg room.ChatMessage) error {
	_, err := d.db.Exec(
		"INSERT INTO chat_messages (id, room_id, slot, body, sent_at) VALUES (?, ?, ?, ?, ?)",
		msg.ID, roomID, string(msg.Slot), msg.Text, msg.SentAt.UTC(),
	)
	return err
}

func (d *Database) GetChatLog(roomID string) ([]room.ChatMessage, error) {
	rows, err := d.db.Query(
		"SELECT id, slot, body, sent_at FROM chat_messages WHERE room_id = ? ORDER BY sent_at ASC, id ASC",
		roomID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var log []room.ChatMessage
	for rows.Next() {
		var msg room.ChatMessage
		var slot string
		if err := rows.Scan(&msg.ID, &slot, &msg.Text, &msg.SentAt); err != nil {
			return nil, err
		}
		msg.Slot = event.Slot(slot)
		log = append(log, msg)
	}
	return log, rows.Err()
}

// Stats

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var roomCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM rooms").Scan(&roomCount); err != nil {
		return nil, err
	}
	stats["room_count"] = roomCount

	var chatCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM chat_messages").Scan(&chatCount); err != nil {
		return nil, err
	}
	stats["chat_count"] = chatCount

	return stats, nil
}
