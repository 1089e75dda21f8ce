// Package broadcast owns the daemon's loopback HTTP server: it upgrades
// WebSocket subscribers, greets them, answers their pings, and fans each
// telemetry frame out as one JSON text message.
package broadcast

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"abyss-sniffer/internal/model"
)

const (
	serverName    = "abyss-sniffer"
	serverVersion = "0.1.0"

	// helloSchema is the control-channel schema, independent of the
	// telemetry frame schema.
	helloSchema = 2

	writeTimeout = 5 * time.Second
)

type helloMessage struct {
	Type    string `json:"type"`
	Schema  int    `json:"schema"`
	Server  string `json:"server"`
	Version string `json:"version"`
}

type pingMessage struct {
	Type string  `json:"type"`
	T    float64 `json:"t"`
}

type pongMessage struct {
	Type string  `json:"type"`
	T    float64 `json:"t"`
}

// Broadcaster serves ws://127.0.0.1:port/ and fans frames out to every
// connected subscriber. Writes to all connections are serialized under one
// lock; each connection gets its own read goroutine.
type Broadcaster struct {
	port     int
	router   *mux.Router
	server   *http.Server
	listener net.Listener

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	running    atomic.Bool
	framesSent atomic.Uint64
}

// New builds a broadcaster for the given loopback port. Extra HTTP routes
// may be attached with Handle before Start.
func New(port int) *Broadcaster {
	b := &Broadcaster{
		port:    port,
		router:  mux.NewRouter(),
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			// The listener is loopback-only; subscribers are local
			// programs, not browser pages from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	b.router.HandleFunc("/", b.handleSubscriber)
	b.router.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)
	return b
}

// Handle attaches an extra route to the loopback server.
func (b *Broadcaster) Handle(path string, h http.Handler) {
	b.router.Handle(path, h)
}

// Start binds 127.0.0.1 and serves in the background.
func (b *Broadcaster) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", b.port))
	if err != nil {
		return fmt.Errorf("websocket server failed to listen on port %d: %w", b.port, err)
	}
	b.listener = listener
	b.server = &http.Server{Handler: b.router}
	b.running.Store(true)

	go func() {
		if err := b.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[abyss] websocket server error: %v", err)
		}
	}()

	log.Printf("[abyss] websocket server listening on ws://%s/", listener.Addr())
	return nil
}

// Addr returns the bound address, which differs from the requested port
// when port 0 was asked for.
func (b *Broadcaster) Addr() string {
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Stop drops every client and closes the listener. Idempotent.
func (b *Broadcaster) Stop() {
	if !b.running.Swap(false) {
		return
	}

	b.mu.Lock()
	for conn := range b.clients {
		conn.Close()
	}
	b.clients = make(map[*websocket.Conn]struct{})
	b.mu.Unlock()

	if b.server != nil {
		b.server.Close()
	}
	log.Printf("[abyss] websocket server stopped")
}

// Broadcast serializes the frame once and writes it to every subscriber.
// Connections whose write fails are dropped on the spot.
func (b *Broadcaster) Broadcast(frame *model.TelemetryFrame) {
	if !b.running.Load() {
		return
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[abyss] failed to encode telemetry frame: %v", err)
		return
	}

	b.mu.Lock()
	for conn := range b.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			delete(b.clients, conn)
		}
	}
	b.mu.Unlock()

	b.framesSent.Add(1)
}

// ClientCount returns the number of connected subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// FramesSent returns how many frames have been broadcast.
func (b *Broadcaster) FramesSent() uint64 {
	return b.framesSent.Load()
}

func (b *Broadcaster) handleSubscriber(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[abyss] websocket upgrade failed: %v", err)
		return
	}

	// Register and greet under one lock so no frame can precede the hello.
	b.mu.Lock()
	b.clients[conn] = struct{}{}
	count := len(b.clients)
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteJSON(helloMessage{
		Type:    "hello",
		Schema:  helloSchema,
		Server:  serverName,
		Version: serverVersion,
	})
	if err != nil {
		conn.Close()
		delete(b.clients, conn)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	log.Printf("[abyss] client connected: %s (%d active)", conn.RemoteAddr(), count)
	go b.readLoop(conn)
}

// readLoop services one client's inbound messages until it goes away.
// Anything that is not a well-formed ping is ignored.
func (b *Broadcaster) readLoop(conn *websocket.Conn) {
	defer b.dropClient(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var ping pingMessage
		if err := json.Unmarshal(data, &ping); err != nil || ping.Type != "ping" {
			continue
		}
		b.writeJSON(conn, pongMessage{Type: "pong", T: ping.T})
	}
}

func (b *Broadcaster) writeJSON(conn *websocket.Conn, v interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[conn]; !ok {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(v); err != nil {
		conn.Close()
		delete(b.clients, conn)
	}
}

func (b *Broadcaster) dropClient(conn *websocket.Conn) {
	b.mu.Lock()
	_, known := b.clients[conn]
	delete(b.clients, conn)
	b.mu.Unlock()

	conn.Close()
	if known {
		log.Printf("[abyss] client disconnected: %s", conn.RemoteAddr())
	}
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
