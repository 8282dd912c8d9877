package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pairlens/pairlens/internal/api"
	"github.com/pairlens/pairlens/internal/bootstrap"
	"github.com/pairlens/pairlens/internal/config"
	"github.com/pairlens/pairlens/internal/room"
	"github.com/pairlens/pairlens/internal/session"
	"github.com/pairlens/pairlens/internal/state"
)

func newJoinCmd() *cobra.Command {
	cfg := config.Default()

	var (
		roomID string
		name   string
		avatar string
		role   string
		create bool
	)

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Attach to a room from the terminal.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			config.ApplyEnv(cmd.Flags())
			return join(cfg, roomID, name, avatar, role, create)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	cfg.BindClientFlags(fs)
	fs.StringVar(&roomID, "room", "", "room code to join (env: PAIRLENS_ROOM)")
	fs.StringVar(&name, "name", "", "display name when claiming a slot (env: PAIRLENS_NAME)")
	fs.StringVar(&avatar, "avatar", "", "avatar when claiming a slot (env: PAIRLENS_AVATAR)")
	fs.StringVar(&role, "role", "", "role when claiming a slot (env: PAIRLENS_ROLE)")
	fs.BoolVar(&create, "create", false, "create a new room instead of joining one (env: PAIRLENS_CREATE)")

	return cmd
}

// httpRooms reads room snapshots from the relay's HTTP API.
type httpRooms struct {
	base string
}

func (h *httpRooms) GetRoomSnapshot(roomID string) (*room.Snapshot, error) {
	resp, err := http.Get(h.base + "/api/rooms/" + roomID)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching room %s", resp.StatusCode, roomID)
	}

	var view api.RoomResponse
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, err
	}

	return &room.Snapshot{
		ID:        view.ID,
		CreatedAt: view.CreatedAt,
		Slots:     room.Sides[room.SlotInfo]{A: view.Slots.A, B: view.Slots.B},
		Chat:      view.Chat,
	}, nil
}

// claim obtains a slot through the HTTP API and returns the identity to
// persist locally.
func claim(cfg *config.Config, roomID, name, avatar, role string, create bool) (*session.Identity, error) {
	if name == "" {
		return nil, errors.New("--name is required when claiming a slot")
	}

	body, err := json.Marshal(api.ParticipantRequest{Name: name, Avatar: avatar, Role: role})
	if err != nil {
		return nil, err
	}

	url := cfg.APIBaseURL + "/api/rooms"
	if !create {
		if roomID == "" {
			return nil, errors.New("--room is required unless --create is set")
		}
		url = cfg.APIBaseURL + "/api/rooms/" + roomID + "/join"
	}

	resp, err := http.Post(url, "application/json", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusNotFound:
		return nil, fmt.Errorf("room %s not found", roomID)
	case http.StatusGone:
		return nil, fmt.Errorf("room %s has expired", roomID)
	case http.StatusConflict:
		return nil, fmt.Errorf("room %s is already full", roomID)
	default:
		return nil, fmt.Errorf("claim failed with status %d", resp.StatusCode)
	}

	var joined api.JoinResponse
	if err := json.NewDecoder(resp.Body).Decode(&joined); err != nil {
		return nil, err
	}

	return &session.Identity{
		RoomID:   joined.RoomID,
		Slot:     joined.Slot,
		Role:     role,
		Name:     name,
		Avatar:   avatar,
		JoinedAt: time.Now(),
	}, nil
}

func join(cfg *config.Config, roomID, name, avatar, role string, create bool) error {
	store := session.NewFileStore(cfg.SessionFile)

	ident, err := store.Get()
	if err != nil {
		return err
	}
	if ident == nil {
		ident, err = claim(cfg, roomID, name, avatar, role, create)
		if err != nil {
			return err
		}
		if err := store.Set(*ident); err != nil {
			return err
		}
		log.Printf("Claimed slot %s in room %s", ident.Slot, ident.RoomID)
	}
	if roomID == "" {
		roomID = ident.RoomID
	}

	sess, err := bootstrap.Start(roomID, bootstrap.Config{
		Endpoint:   cfg.Endpoint,
		Rooms:      &httpRooms{base: cfg.APIBaseURL},
		Identities: store,
	})
	if err != nil {
		return err
	}

	sess.State().SetChatOpen(true)

	done := make(chan struct{})
	finish := sync.OnceFunc(func() { close(done) })
	go watchState(sess, done)

	// Another pairlens process clearing the identity file ends this
	// session too, mirroring a logout in one browser tab.
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	if idents, err := store.Watch(watchCtx); err != nil {
		log.Printf("⚠️ Session file watch unavailable: %v", err)
	} else {
		go func() {
			for ident := range idents {
				if ident == nil {
					log.Println("Session cleared externally, leaving.")
					sess.Leave(finish)
					return
				}
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println()
		sess.Leave(finish)
	}()

	log.Println("Commands: /fix <category>, /done <category>, /progress <0-100>, /ready, /reconnect, /leave")
	log.Println("Anything else is sent as chat.")

	go readInput(sess, finish)

	<-done
	return nil
}

// watchState prints partner activity as the store changes.
func watchState(sess *bootstrap.Session, done chan struct{}) {
	updates, cancel := sess.State().Subscribe()
	defer cancel()

	prev := sess.State().Snapshot()
	seenChat := len(prev.Chat)

	for {
		select {
		case <-done:
			return
		case <-updates:
		}

		cur := sess.State().Snapshot()
		partner := cur.PartnerSlot

		if cur.Connected != prev.Connected {
			if cur.Connected {
				log.Println("Connected.")
			} else {
				log.Println("⚠️ Connection lost. Use /reconnect to retry.")
			}
		}
		if cur.PartnerPresent != prev.PartnerPresent {
			if cur.PartnerPresent {
				log.Printf("%s is here.", partnerName(cur))
			} else {
				log.Printf("%s left.", partnerName(cur))
			}
		}
		if cur.FixedCategory.Of(partner) != prev.FixedCategory.Of(partner) {
			log.Printf("%s fixed category %q.", partnerName(cur), cur.FixedCategory.Of(partner))
		}
		if len(cur.Completed.Of(partner)) > len(prev.Completed.Of(partner)) {
			latest := cur.Completed.Of(partner)[len(cur.Completed.Of(partner))-1]
			log.Printf("%s completed %q.", partnerName(cur), latest)
		}
		if cur.Progress.Of(partner) != prev.Progress.Of(partner) {
			log.Printf("%s is at %d%%.", partnerName(cur), cur.Progress.Of(partner))
		}
		if cur.Ready.Of(partner) && !prev.Ready.Of(partner) {
			log.Printf("%s is ready.", partnerName(cur))
		}
		for ; seenChat < len(cur.Chat); seenChat++ {
			msg := cur.Chat[seenChat]
			if msg.Slot != cur.MySlot {
				log.Printf("[%s] %s", partnerName(cur), msg.Text)
			}
		}

		prev = cur
	}
}

func partnerName(st state.State) string {
	name := st.Profiles.Of(st.PartnerSlot).Name
	if name == "" {
		return "Partner"
	}
	return name
}

func readInput(sess *bootstrap.Session, finish func()) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/leave":
			sess.Leave(finish)
			return
		case line == "/ready":
			sess.MarkReady()
		case line == "/reconnect":
			sess.Reconnect()
		case strings.HasPrefix(line, "/fix "):
			sess.FixCategory(strings.TrimSpace(strings.TrimPrefix(line, "/fix ")))
		case strings.HasPrefix(line, "/done "):
			sess.CompleteCategory(strings.TrimSpace(strings.TrimPrefix(line, "/done ")))
		case strings.HasPrefix(line, "/progress "):
			pct, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/progress ")))
			if err != nil || pct < 0 || pct > 100 {
				log.Println("Usage: /progress <0-100>")
				continue
			}
			sess.SetProgress(pct)
		case strings.HasPrefix(line, "/"):
			log.Printf("Unknown command: %s", line)
		default:
			sess.SendChat(line)
		}
	}
}
