// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	applog "micscope/internal/log"

	"github.com/gorilla/websocket"
)

// Route mounts an extra handler on the WebSocket server's mux, e.g. the
// metrics endpoint.
type Route struct {
	Pattern string
	Handler http.Handler
}

// WebSocketOptions configure a WebSocketTransport.
type WebSocketOptions struct {
	Addr            string        // listen address, e.g. ":8080"
	Path            string        // WebSocket endpoint; defaults to "/ws"
	MinSendInterval time.Duration // summaries closer together than this are dropped
	Routes          []Route
}

// WebSocketTransport broadcasts JSON messages to every connected client.
type WebSocketTransport struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan any
	server    *http.Server
	listener  net.Listener
	wg        sync.WaitGroup // server and broadcast goroutines
	readers   sync.WaitGroup // per-client read loops

	sendMu sync.RWMutex // guards closed against the broadcast channel close
	closed bool

	minSendInterval time.Duration
	lastSendMu      sync.Mutex
	lastSend        time.Time

	closeOnce sync.Once
}

// NewWebSocketTransport listens on opts.Addr and starts serving.
func NewWebSocketTransport(opts WebSocketOptions) (*WebSocketTransport, error) {
	if opts.Path == "" {
		opts.Path = "/ws"
	}
	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on '%s': %w", opts.Addr, err)
	}

	wst := &WebSocketTransport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Visualisers are served from anywhere.
			},
		},
		clients:         make(map[*websocket.Conn]bool),
		broadcast:       make(chan any, 256),
		listener:        ln,
		minSendInterval: opts.MinSendInterval,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(opts.Path, wst.handleWebSocket)
	for _, r := range opts.Routes {
		mux.Handle(r.Pattern, r.Handler)
	}
	wst.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	wst.wg.Add(2)
	go func() {
		defer wst.wg.Done()
		applog.Infof("WebSocketTransport: Serving %s on %s", opts.Path, ln.Addr())
		if err := wst.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Errorf("WebSocketTransport: Server error: %v", err)
		}
	}()
	go func() {
		defer wst.wg.Done()
		wst.handleBroadcasts()
	}()
	return wst, nil
}

// Addr returns the bound listen address.
func (wst *WebSocketTransport) Addr() net.Addr { return wst.listener.Addr() }

// ClientCount returns the number of connected clients.
func (wst *WebSocketTransport) ClientCount() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("WebSocketTransport: Upgrade error: %v", err)
		return
	}

	wst.clientsMu.Lock()
	wst.clients[conn] = true
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	applog.Infof("WebSocketTransport: Client connected, total: %d", total)

	// Clients never send; a read error means the peer went away.
	wst.readers.Add(1)
	go func() {
		defer wst.readers.Done()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wst.drop(conn)
				return
			}
		}
	}()
}

func (wst *WebSocketTransport) drop(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	if ok {
		conn.Close()
		applog.Infof("WebSocketTransport: Client disconnected, total: %d", total)
	}
}

func (wst *WebSocketTransport) handleBroadcasts() {
	for data := range wst.broadcast {
		wst.clientsMu.Lock()
		for client := range wst.clients {
			_ = client.SetWriteDeadline(time.Now().Add(time.Second))
			if err := client.WriteJSON(data); err != nil {
				applog.Debugf("WebSocketTransport: Error sending to client: %v", err)
				client.Close()
				delete(wst.clients, client)
			}
		}
		wst.clientsMu.Unlock()
	}
}

// Send queues data for broadcast. Summaries inside MinSendInterval of the
// previous one, and anything arriving while the queue is full, are dropped.
func (wst *WebSocketTransport) Send(data any) error {
	if _, ok := data.(*Summary); ok && wst.minSendInterval > 0 {
		wst.lastSendMu.Lock()
		now := time.Now()
		if now.Sub(wst.lastSend) < wst.minSendInterval {
			wst.lastSendMu.Unlock()
			return nil
		}
		wst.lastSend = now
		wst.lastSendMu.Unlock()
	}

	wst.sendMu.RLock()
	defer wst.sendMu.RUnlock()
	if wst.closed {
		return ErrClosed
	}
	select {
	case wst.broadcast <- data:
	default:
	}
	return nil
}

// Close shuts down the server and disconnects every client.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		applog.Infof("WebSocketTransport: Closing server")
		err = wst.server.Close()

		wst.sendMu.Lock()
		wst.closed = true
		close(wst.broadcast)
		wst.sendMu.Unlock()
		wst.wg.Wait()

		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.Close()
		}
		wst.clients = make(map[*websocket.Conn]bool)
		wst.clientsMu.Unlock()
		wst.readers.Wait()
	})
	return err
}

var _ Transport = (*WebSocketTransport)(nil)
