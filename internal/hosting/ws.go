package hosting

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ReloadMessage tells live-reload clients to refresh the page
const ReloadMessage = "reload"

// checkOrigin accepts same-host and localhost origins
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := u.Hostname()
	if originHost == "localhost" || originHost == "127.0.0.1" || strings.HasSuffix(originHost, ".localhost") {
		return true
	}

	host := r.Host
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	if strings.EqualFold(originHost, host) {
		return true
	}

	zap.L().Warn("Rejected websocket origin", zap.String("origin", origin), zap.String("host", r.Host))
	return false
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// SiteHub fans messages out to the live-reload clients of one site
type SiteHub struct {
	siteID     string
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	stopOnce   sync.Once
	onChange   func(delta int)
	mu         sync.RWMutex
}

// Hubs holds one hub per site
type Hubs struct {
	hubs map[string]*SiteHub
	// onChange is told about every client connect (+1) and disconnect (-1)
	onChange func(delta int)
	mu       sync.Mutex
}

// NewHubs creates an empty hub registry. onChange may be nil.
func NewHubs(onChange func(delta int)) *Hubs {
	if onChange == nil {
		onChange = func(int) {}
	}
	return &Hubs{hubs: make(map[string]*SiteHub), onChange: onChange}
}

// Get returns the hub for a site, creating one if needed
func (hs *Hubs) Get(siteID string) *SiteHub {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hub, exists := hs.hubs[siteID]; exists {
		return hub
	}

	hub := &SiteHub{
		siteID:     siteID,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		onChange:   hs.onChange,
	}
	hs.hubs[siteID] = hub
	go hub.run()
	return hub
}

// Remove stops and forgets a site's hub
func (hs *Hubs) Remove(siteID string) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hub, exists := hs.hubs[siteID]; exists {
		hub.Stop()
		delete(hs.hubs, siteID)
	}
}

// Close stops every hub
func (hs *Hubs) Close() {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	for id, hub := range hs.hubs {
		hub.Stop()
		delete(hs.hubs, id)
	}
}

func (h *SiteHub) run() {
	log := zap.L().With(zap.String("site", h.siteID))
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
				h.onChange(-1)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.onChange(1)
			log.Debug("Live-reload client connected", zap.Int("clients", n))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				h.onChange(-1)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					conn.Close()
					delete(h.clients, conn)
					h.onChange(-1)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the hub down; safe to call more than once
func (h *SiteHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues a message for every client, dropping it if the queue is full
func (h *SiteHub) Broadcast(message string) {
	select {
	case h.broadcast <- []byte(message):
	default:
		zap.L().Warn("Live-reload queue full, dropping message", zap.String("site", h.siteID))
	}
}

// ClientCount returns the number of connected clients
func (h *SiteHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and registers the connection with the site's
// hub. Clients only listen; anything they send is discarded.
func (hs *Hubs) ServeWS(w http.ResponseWriter, r *http.Request, siteID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Debug("Websocket upgrade failed", zap.String("site", siteID), zap.Error(err))
		return
	}

	hub := hs.Get(siteID)
	select {
	case hub.register <- conn:
	case <-hub.done:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case hub.unregister <- conn:
			case <-hub.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
