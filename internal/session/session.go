package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pairlens/pairlens/internal/event"
	"github.com/pairlens/pairlens/internal/room"
)

// Identity is the locally held proof of room membership: which room this
// client joined and which slot it holds there.
type Identity struct {
	RoomID   string     `json:"room_id"`
	Slot     event.Slot `json:"slot"`
	Role     string     `json:"role"`
	Name     string     `json:"name"`
	Avatar   string     `json:"avatar"`
	JoinedAt time.Time  `json:"joined_at"`
}

// Stale reports whether the identity has outlived the room retention
// window.
func (i *Identity) Stale(now time.Time) bool {
	return now.After(i.JoinedAt.Add(room.RetentionWindow))
}

// FileStore keeps the active-room identity as a JSON file, the local
// equivalent of the browser's storage key. Only this one value is stored.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Get returns the stored identity, or nil when none exists. A stale
// identity is cleared and reported as absent.
func (s *FileStore) Get() (*Identity, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ident Identity
	if err := json.Unmarshal(data, &ident); err != nil {
		// A corrupt file is as good as no identity; drop it.
		log.Printf("Clearing unreadable session file %s: %v", s.path, err)
		_ = s.Clear()
		return nil, nil
	}

	if ident.Stale(time.Now()) {
		if err := s.Clear(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return &ident, nil
}

func (s *FileStore) Set(ident Identity) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(ident, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}

func (s *FileStore) Clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Watch reports external changes to the identity file (another process
// writing or clearing it). Each change delivers the current identity,
// nil when it was removed. The channel closes when ctx is done.
func (s *FileStore) Watch(ctx context.Context) (<-chan *Identity, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: the file itself may not exist yet, and
	// editors replace files rather than rewriting them.
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	out := make(chan *Identity, 1)
	go func() {
		defer watcher.Close()
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != s.path {
					continue
				}
				ident, err := s.Get()
				if err != nil {
					log.Printf("Session watch read failed: %v", err)
					continue
				}
				select {
				case out <- ident:
				case <-ctx.Done():
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("Session watch error: %v", err)
			}
		}
	}()

	return out, nil
}
