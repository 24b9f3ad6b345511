package dev

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Reload tokens sent to browsers.
const (
	TokenStylesheet = "style.css"
	TokenBundle     = "elm.js"
	TokenContent    = "content.json"
)

// Conn is one open live-reload stream.
type Conn interface {
	Send(token string) error
	Close() error
}

// Broadcaster fans reload tokens out to connected browsers. A token is only
// delivered to connections open at the time it is broadcast.
type Broadcaster struct {
	clients  map[uuid.UUID]Conn
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	metrics  *Metrics
	log      zerolog.Logger
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster(logger zerolog.Logger, metrics *Metrics) *Broadcaster {
	return &Broadcaster{
		clients: make(map[uuid.UUID]Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in dev
			},
		},
		metrics: metrics,
		log:     logger,
	}
}

// Open registers conn and returns the function that removes it.
func (b *Broadcaster) Open(conn Conn) func() {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	b.mu.Lock()
	b.clients[id] = conn
	n := len(b.clients)
	b.mu.Unlock()
	b.metrics.setClients(n)

	return func() { b.remove(id) }
}

func (b *Broadcaster) remove(id uuid.UUID) {
	b.mu.Lock()
	_, ok := b.clients[id]
	delete(b.clients, id)
	n := len(b.clients)
	b.mu.Unlock()
	if ok {
		b.metrics.setClients(n)
	}
}

// Broadcast sends token to every connection. Connections that fail are
// closed and removed. It returns the number of successful sends.
func (b *Broadcaster) Broadcast(token string) int {
	b.mu.RLock()
	ids := make([]uuid.UUID, 0, len(b.clients))
	conns := make([]Conn, 0, len(b.clients))
	for id, c := range b.clients {
		ids = append(ids, id)
		conns = append(conns, c)
	}
	b.mu.RUnlock()

	sent := 0
	for i, c := range conns {
		if err := c.Send(token); err != nil {
			b.log.Debug().Err(err).Str("client", ids[i].String()).Msg("Dropping live-reload client")
			b.remove(ids[i])
			c.Close()
			continue
		}
		sent++
	}
	b.metrics.observeBroadcast(token)
	return sent
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close closes all client connections.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, c := range b.clients {
		c.Close()
		delete(b.clients, id)
	}
	b.metrics.setClients(0)
}

var (
	errStreamClosed  = errors.New("stream closed")
	errStreamStalled = errors.New("stream client is not reading")
)

// streamConn hands tokens to the SSE handler goroutine, which owns the
// response writer.
type streamConn struct {
	tokens chan string
	closed chan struct{}
	once   sync.Once
}

func newStreamConn() *streamConn {
	return &streamConn{
		tokens: make(chan string, 16),
		closed: make(chan struct{}),
	}
}

func (c *streamConn) Send(token string) error {
	select {
	case <-c.closed:
		return errStreamClosed
	default:
	}
	select {
	case c.tokens <- token:
		return nil
	case <-c.closed:
		return errStreamClosed
	default:
		return errStreamStalled
	}
}

func (c *streamConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// ServeSSE handles GET /stream.
func (b *Broadcaster) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	conn := newStreamConn()
	deregister := b.Open(conn)
	defer deregister()
	defer conn.Close()

	for {
		select {
		case token := <-conn.tokens:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", token); err != nil {
				return
			}
			flusher.Flush()
		case <-conn.closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// wsConn is a WebSocket live-reload connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) Send(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(token))
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// ServeWebSocket handles WebSocket upgrade and connection.
func (b *Broadcaster) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	deregister := b.Open(&wsConn{conn: conn})
	defer conn.Close()
	defer deregister()

	// Keep connection alive until client disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// LiveReloadMarker identifies the injected live-reload client.
const LiveReloadMarker = "elm-pages-live-reload"

// LiveReloadScript is the live-reload client injected into rendered pages.
// It listens on the SSE stream and falls back to the WebSocket endpoint.
const LiveReloadScript = `
(function() {
    'use strict';

    function handle(token) {
        if (token === 'style.css') {
            var links = document.querySelectorAll('link[rel="stylesheet"]');
            for (var i = 0; i < links.length; i++) {
                var url = new URL(links[i].href);
                url.searchParams.set('v', Date.now());
                links[i].href = url.toString();
            }
            return;
        }
        location.reload();
    }

    function connectWebSocket() {
        var protocol = location.protocol === 'https:' ? 'wss:' : 'ws:';
        var ws = new WebSocket(protocol + '//' + location.host + '/_elm-pages/reload');
        ws.onmessage = function(e) { handle(e.data); };
        ws.onclose = function() { setTimeout(connectWebSocket, 1000); };
    }

    if (window.EventSource) {
        var source = new EventSource('/stream');
        source.onmessage = function(e) { handle(e.data); };
    } else {
        connectWebSocket();
    }
})();
`
