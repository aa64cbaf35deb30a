// SPDX-License-Identifier: MIT
package transport

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	applog "lightbeat/internal/log"
)

// WebSocketTransport broadcasts feature reports as JSON to every connected
// visualization client. Clients that cannot keep up are dropped; the
// broadcast channel is bounded and Send never blocks.
type WebSocketTransport struct {
	addr      string
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan any
	server    *http.Server
	done      chan struct{}
}

// NewWebSocketTransport starts the server on addr and begins accepting
// clients on /ws.
func NewWebSocketTransport(addr string) *WebSocketTransport {
	t := &WebSocketTransport{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Visualization clients connect from file:// shells and local
			// dev servers; origin checks buy nothing here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan any, 256),
		done:      make(chan struct{}),
	}
	t.start()
	return t
}

func (t *WebSocketTransport) start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", t.handleWebSocket)
	t.server = &http.Server{Addr: t.addr, Handler: mux}

	go func() {
		applog.Infof("transport: websocket server listening on %s", t.addr)
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			applog.Errorf("transport: websocket server: %v", err)
		}
	}()
	go t.handleBroadcasts()
}

func (t *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("transport: websocket upgrade: %v", err)
		return
	}

	t.clientsMu.Lock()
	t.clients[conn] = true
	total := len(t.clients)
	t.clientsMu.Unlock()
	applog.Infof("transport: websocket client connected (%d total)", total)

	// The feed is one-way; the read loop exists to notice the disconnect.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				t.dropClient(conn)
				return
			}
		}
	}()
}

func (t *WebSocketTransport) dropClient(conn *websocket.Conn) {
	t.clientsMu.Lock()
	if t.clients[conn] {
		delete(t.clients, conn)
		conn.Close()
		applog.Infof("transport: websocket client disconnected (%d total)", len(t.clients))
	}
	t.clientsMu.Unlock()
}

func (t *WebSocketTransport) handleBroadcasts() {
	for {
		select {
		case data := <-t.broadcast:
			t.clientsMu.Lock()
			for client := range t.clients {
				if err := client.WriteJSON(data); err != nil {
					applog.Debugf("transport: websocket write: %v", err)
					delete(t.clients, client)
					client.Close()
				}
			}
			t.clientsMu.Unlock()
		case <-t.done:
			return
		}
	}
}

// Send queues data for broadcast. A full queue drops the payload; the next
// report supersedes it anyway.
func (t *WebSocketTransport) Send(data any) error {
	select {
	case t.broadcast <- data:
	default:
	}
	return nil
}

// Close disconnects all clients and shuts the server down.
func (t *WebSocketTransport) Close() error {
	close(t.done)

	t.clientsMu.Lock()
	for client := range t.clients {
		client.Close()
	}
	t.clients = make(map[*websocket.Conn]bool)
	t.clientsMu.Unlock()

	if t.server != nil {
		return t.server.Close()
	}
	return nil
}

var _ Transport = (*WebSocketTransport)(nil)
