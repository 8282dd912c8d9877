package conn

import (
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pairlens/pairlens/internal/event"
)

const (
	writeWait             = 10 * time.Second
	defaultSettleDelay    = 300 * time.Millisecond
	defaultReconnectDelay = 3 * time.Second
	defaultSendRetryDelay = 500 * time.Millisecond
	defaultPingPeriod     = 30 * time.Second
	sendQueueSize         = 16
)

// Status is the connection state machine. Reconnect decisions are a
// function of this state, not of scattered boolean flags.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusOpen
	StatusClosedClean
	StatusClosedAbnormal
	StatusReconnectPending
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosedClean:
		return "closed-clean"
	case StatusClosedAbnormal:
		return "closed-abnormal"
	case StatusReconnectPending:
		return "reconnect-pending"
	default:
		return "unknown"
	}
}

type Config struct {
	// URL is the realtime endpoint; roomId and slot are appended as
	// query parameters.
	URL    string
	RoomID string
	Slot   event.Slot

	// Zero values fall back to defaults.
	SettleDelay    time.Duration
	ReconnectDelay time.Duration
	SendRetryDelay time.Duration
	PingPeriod     time.Duration

	// OnEvent receives every decoded inbound event.
	OnEvent func(event.Event)
	// OnStatus receives connected/disconnected transitions.
	OnStatus func(connected bool)
}

// Manager owns the single realtime connection for one (room, slot) pair.
// Transient network failure is hidden from callers: errors are logged and
// surfaced only through OnStatus.
type Manager struct {
	cfg Config

	mu             sync.Mutex
	status         Status
	ws             *websocket.Conn
	send           chan event.Event
	sendOpen       bool
	gen            int
	stopped        bool
	settleTimer    *time.Timer
	reconnectTimer *time.Timer
}

func NewManager(cfg Config) *Manager {
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.SendRetryDelay == 0 {
		cfg.SendRetryDelay = defaultSendRetryDelay
	}
	if cfg.PingPeriod == 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	return &Manager{cfg: cfg}
}

// Status returns the current connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connected reports whether the connection is open.
func (m *Manager) Connected() bool {
	return m.Status() == StatusOpen
}

// Connect opens the connection asynchronously. A connect already in
// flight, or an open connection, makes this a no-op: duplicate sockets
// would double presence announcements and chat.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if m.status == StatusConnecting || m.status == StatusOpen {
		log.Printf("⚠️ Connect ignored for room %s slot %s: connection %s",
			m.cfg.RoomID, m.cfg.Slot, m.status)
		m.mu.Unlock()
		return
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.status = StatusConnecting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.dial(gen)
}

func (m *Manager) dial(gen int) {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		m.failDial(gen, err)
		return
	}
	q := u.Query()
	q.Set("roomId", m.cfg.RoomID)
	q.Set("slot", string(m.cfg.Slot))
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		m.failDial(gen, err)
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.stopped {
		m.mu.Unlock()
		ws.Close()
		return
	}
	m.ws = ws
	m.send = make(chan event.Event, sendQueueSize)
	m.sendOpen = true
	m.status = StatusOpen

	// Announce presence only after a short settle delay: some runtimes
	// report the socket open before it is ready to write.
	m.settleTimer = time.AfterFunc(m.cfg.SettleDelay, func() {
		m.Send(event.NewPresenceAnnounce(m.cfg.Slot))
	})

	send := m.send
	m.mu.Unlock()

	go m.readPump(ws, gen)
	go m.writePump(ws, send)

	m.notifyStatus(true)
}

// failDial marks a dial that never reached open. Genuine failures are not
// retried: looping against an unreachable room would be a reconnect storm.
func (m *Manager) failDial(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.status = StatusClosedAbnormal
	m.mu.Unlock()

	log.Printf("⚠️ Connect failed for room %s slot %s: %v", m.cfg.RoomID, m.cfg.Slot, err)
	m.notifyStatus(false)
}

// Send queues an event for delivery. Best effort: while connecting the
// send is retried once after a short delay, otherwise it is dropped with
// a warning. Callers get no delivery guarantee.
func (m *Manager) Send(ev event.Event) {
	m.mu.Lock()
	switch m.status {
	case StatusOpen:
		m.enqueueLocked(ev)
		m.mu.Unlock()
	case StatusConnecting:
		m.mu.Unlock()
		time.AfterFunc(m.cfg.SendRetryDelay, func() {
			m.mu.Lock()
			if m.status == StatusOpen {
				m.enqueueLocked(ev)
			} else {
				log.Printf("⚠️ Dropping %s event for room %s: connection %s after retry",
					ev.Type, m.cfg.RoomID, m.status)
			}
			m.mu.Unlock()
		})
	default:
		status := m.status
		m.mu.Unlock()
		log.Printf("⚠️ Dropping %s event for room %s: connection %s",
			ev.Type, m.cfg.RoomID, status)
	}
}

func (m *Manager) enqueueLocked(ev event.Event) {
	if !m.sendOpen {
		return
	}
	select {
	case m.send <- ev:
	default:
		log.Printf("⚠️ Send queue full, dropping %s event for room %s", ev.Type, m.cfg.RoomID)
	}
}

func (m *Manager) readPump(ws *websocket.Conn, gen int) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}

		ev, err := event.Decode(data)
		if err != nil {
			// Malformed input never tears down the connection.
			log.Printf("Dropping malformed message in room %s: %v", m.cfg.RoomID, err)
			continue
		}

		if m.cfg.OnEvent != nil {
			m.cfg.OnEvent(ev)
		}
	}
}

func (m *Manager) writePump(ws *websocket.Conn, send chan event.Event) {
	ticker := time.NewTicker(m.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case ev, ok := <-send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed means intentional shutdown: clean close code.
				ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving"))
				return
			}
			data, err := ev.Encode()
			if err != nil {
				log.Printf("Refusing to send invalid %s event: %v", ev.Type, err)
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := event.NewPing(m.cfg.Slot).Encode()
			if err != nil {
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// handleClose runs when the read loop exits. An abnormal close after a
// successful open schedules exactly one reconnect attempt; repeated
// failures require an explicit Reconnect from the user.
func (m *Manager) handleClose(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	m.ws = nil
	if m.sendOpen {
		close(m.send)
		m.sendOpen = false
	}
	if m.settleTimer != nil {
		m.settleTimer.Stop()
		m.settleTimer = nil
	}

	clean := m.stopped ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	if clean {
		m.status = StatusClosedClean
		m.mu.Unlock()
		m.notifyStatus(false)
		return
	}

	m.status = StatusReconnectPending
	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.mu.Lock()
		if m.stopped || m.status != StatusReconnectPending {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		m.Connect()
	})
	m.mu.Unlock()

	log.Printf("⚠️ Connection lost for room %s slot %s (%v), reconnecting in %v",
		m.cfg.RoomID, m.cfg.Slot, err, m.cfg.ReconnectDelay)
	m.notifyStatus(false)
}

// Reconnect forces a fresh connection, closing any existing socket first.
// Used when the UI explicitly requests reconnection.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	m.stopped = false
	m.gen++ // orphan any running pumps
	if m.ws != nil {
		if m.sendOpen {
			close(m.send)
			m.sendOpen = false
		}
		m.ws.Close()
		m.ws = nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.settleTimer != nil {
		m.settleTimer.Stop()
		m.settleTimer = nil
	}
	m.status = StatusIdle
	m.mu.Unlock()

	m.Connect()
}

// Stop performs a clean close and suppresses the reconnect path. The
// optional final event (typically leave) is flushed before the close
// frame. Safe to call when the connection was never opened.
func (m *Manager) Stop(final *event.Event) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true

	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.settleTimer != nil {
		m.settleTimer.Stop()
		m.settleTimer = nil
	}

	if m.status == StatusOpen && m.sendOpen {
		if final != nil {
			m.enqueueLocked(*final)
		}
		close(m.send)
		m.sendOpen = false
	}
	m.status = StatusClosedClean
	m.mu.Unlock()
}

func (m *Manager) notifyStatus(connected bool) {
	if m.cfg.OnStatus != nil {
		m.cfg.OnStatus(connected)
	}
}
