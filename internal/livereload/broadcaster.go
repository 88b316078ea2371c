// Package livereload keeps the set of connected browsers and tells them
// to reload, swap stylesheets or show a notice.
//
// Messages are fanned out to the clients connected at the moment of the
// call. Nothing is queued for later connections and nothing is replayed.
// A client whose send buffer is full is dropped rather than allowed to
// hold up the others.
package livereload

import (
	"context"
	_ "embed"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/sitepipe/internal/logging"
	"github.com/conneroisu/sitepipe/internal/metrics"
)

const (
	// SocketPath is where browsers open the live-reload websocket.
	SocketPath = "/__sitepipe/ws"
	// ScriptPath serves the browser client.
	ScriptPath = "/__sitepipe/client.js"

	// Time allowed to write a message or get a pong back from the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	sendBuffer = 16
)

// Send pings to peer with this period. A peer that misses a pong within
// writeWait is dropped.
var pingPeriod = 54 * time.Second

//go:embed client.js
var clientScript []byte

// ClientScript returns the browser side of the protocol. It reconnects on
// its own, swaps stylesheet links on css messages, reloads on reload
// messages and shows a toast on notify messages.
func ClientScript() []byte {
	return clientScript
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Broadcaster is the registry of connected browsers. The zero value is
// not usable, create one with NewBroadcaster.
type Broadcaster struct {
	clients      map[*client]struct{}
	clientsMutex sync.RWMutex

	originPatterns []string
	notify         bool
	logger         logging.Logger
	metrics        *metrics.Recorder

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(b *Broadcaster) { b.logger = logger }
}

// WithMetrics records client counts and broadcasts.
func WithMetrics(m *metrics.Recorder) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

// WithOriginPatterns allows cross-origin connections from hosts matching
// patterns, e.g. "quelle.test". Same-origin connections are always
// accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(b *Broadcaster) { b.originPatterns = append(b.originPatterns, patterns...) }
}

// WithNotifications turns notify messages on or off.
func WithNotifications(enabled bool) Option {
	return func(b *Broadcaster) { b.notify = enabled }
}

// NewBroadcaster creates an empty registry.
func NewBroadcaster(opts ...Option) *Broadcaster {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broadcaster{
		clients: make(map[*client]struct{}),
		notify:  true,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.NewDiscard()
	}
	b.logger = b.logger.WithComponent("livereload")
	return b
}

// ServeHTTP upgrades the request to a websocket and keeps the client
// registered until it disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: b.originPatterns,
	})
	if err != nil {
		b.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	b.register(c)
	defer b.unregister(c)

	go b.writePump(c)
	b.readPump(c)
}

// Reload tells every connected browser to reload the page.
func (b *Broadcaster) Reload() int {
	return b.broadcast(Message{Type: MessageReload})
}

// InjectCSS tells every connected browser that the stylesheets at paths,
// relative to the site root, changed.
func (b *Broadcaster) InjectCSS(paths ...string) int {
	if len(paths) == 0 {
		return 0
	}
	return b.broadcast(Message{Type: MessageCSS, Paths: paths})
}

// Notify shows message in every connected browser. It does nothing when
// notifications are turned off.
func (b *Broadcaster) Notify(message string) int {
	if !b.notify {
		return 0
	}
	return b.broadcast(Message{Type: MessageNotify, Message: message})
}

// Clients returns the number of connected browsers.
func (b *Broadcaster) Clients() int {
	b.clientsMutex.RLock()
	defer b.clientsMutex.RUnlock()
	return len(b.clients)
}

// Shutdown closes every connection and refuses new ones.
func (b *Broadcaster) Shutdown(ctx context.Context) error {
	b.shutdownOnce.Do(func() {
		b.cancel()

		b.clientsMutex.Lock()
		clients := make([]*client, 0, len(b.clients))
		for c := range b.clients {
			clients = append(clients, c)
			delete(b.clients, c)
			close(c.send)
		}
		b.clientsMutex.Unlock()

		for _, c := range clients {
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
		b.metrics.SetClients(0)
		b.logger.Info(ctx, "Live reload stopped", "clients", len(clients))
	})
	return nil
}

func (b *Broadcaster) broadcast(msg Message) int {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error(b.ctx, err, "Failed to marshal broadcast message")
		return 0
	}

	var reached int
	var full []*client
	b.clientsMutex.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
			reached++
		default:
			full = append(full, c)
		}
	}
	b.clientsMutex.RUnlock()

	for _, c := range full {
		b.logger.Warn(b.ctx, nil, "Dropping slow live reload client")
		b.unregister(c)
		c.conn.Close(websocket.StatusPolicyViolation, "client too slow")
	}

	b.metrics.Broadcast(string(msg.Type))
	b.logger.Debug(b.ctx, "Broadcast", "type", msg.Type, "clients", reached)
	return reached
}

func (b *Broadcaster) register(c *client) {
	b.clientsMutex.Lock()
	b.clients[c] = struct{}{}
	n := len(b.clients)
	b.clientsMutex.Unlock()

	b.metrics.SetClients(n)
	b.logger.Debug(b.ctx, "Client connected", "clients", n)
}

// unregister removes c. Only the call that removes it closes its send
// channel, so repeated calls are safe.
func (b *Broadcaster) unregister(c *client) {
	b.clientsMutex.Lock()
	_, ok := b.clients[c]
	if ok {
		delete(b.clients, c)
		close(c.send)
	}
	n := len(b.clients)
	b.clientsMutex.Unlock()

	if ok {
		b.metrics.SetClients(n)
		b.logger.Debug(b.ctx, "Client disconnected", "clients", n)
	}
}

// readPump drains the connection so control frames are processed, until
// the peer goes away. Browsers never send data frames, so there is no read
// deadline; writePump's pings find dead peers.
func (b *Broadcaster) readPump(c *client) {
	for {
		_, _, err := c.conn.Read(b.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && b.ctx.Err() == nil {
				b.logger.Debug(b.ctx, "Client read ended", "error", err.Error())
			}
			return
		}
	}
}

// writePump forwards queued messages and keeps the connection alive.
func (b *Broadcaster) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(b.ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(b.ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}

		case <-b.ctx.Done():
			return
		}
	}
}
