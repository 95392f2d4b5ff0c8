// Package relay owns the websocket transport to a single relay: one
// reader goroutine that only enqueues parsed frames into a
// mutex-guarded buffer, and reconnect/backoff state that is advanced
// exclusively by the caller's tick, never by the reader goroutine
// itself.
package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"

	"github.com/nostrwire/core/protocol"
)

// State is the connection's lifecycle stage.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// Connection is a single relay websocket with cooperative reconnect.
// Every exported method except the reader goroutine's internals is
// meant to be called from a single driving goroutine (the engine's
// tick loop); no method here starts background work beyond the one
// reader goroutine spawned by connect.
type Connection struct {
	URL      string
	ProxyURL string // optional SOCKS5 proxy address (host:port), e.g. "127.0.0.1:9050"

	mu          sync.Mutex
	state       State
	ws          *websocket.Conn
	backoff     *backoff
	lastAttempt time.Time
	inbox       []*protocol.RelayMessage
	closed      bool
}

// New creates a disconnected Connection for url.
func New(url string) *Connection {
	return &Connection{URL: url, state: StateDisconnected, backoff: newBackoff()}
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the connection is currently usable for
// sending; satisfies outbox.Sender.
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// NeedsReconnect reports whether enough time has passed since the last
// attempt (or the connection dropped) to justify another connect call.
func (c *Connection) NeedsReconnect(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state == StateConnected || c.state == StateConnecting {
		return false
	}
	return now.Sub(c.lastAttempt) >= c.nextDelayLocked()
}

func (c *Connection) nextDelayLocked() time.Duration {
	if c.lastAttempt.IsZero() {
		return 0
	}
	return c.backoff.current
}

func (c *Connection) dialer() (*websocket.Dialer, error) {
	if c.ProxyURL == "" {
		return websocket.DefaultDialer, nil
	}
	socksDialer, err := proxy.SOCKS5("tcp", c.ProxyURL, nil, proxy.Direct)
	if err != nil {
		return nil, protocol.TransportErrorf("build socks5 dialer: %w", err)
	}
	contextDialer, ok := socksDialer.(proxy.ContextDialer)
	if !ok {
		return nil, protocol.TransportErrorf("socks5 dialer does not support contexts")
	}
	return &websocket.Dialer{NetDialContext: contextDialer.DialContext}, nil
}

// Connect attempts a single connection attempt. On success it spawns
// the enqueue-only reader goroutine and resets the backoff; on failure
// it advances the backoff schedule. Safe to call repeatedly; callers
// should gate calls with NeedsReconnect.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.lastAttempt = time.Now()
	c.mu.Unlock()

	dialer, err := c.dialer()
	if err != nil {
		c.recordFailure()
		return err
	}

	ws, _, err := dialer.DialContext(ctx, c.URL, http.Header{})
	if err != nil {
		c.recordFailure()
		return protocol.TransportErrorf("dial relay %s: %w", c.URL, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.state = StateConnected
	c.backoff.reset()
	c.mu.Unlock()

	go c.readLoop(ws)
	return nil
}

func (c *Connection) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateDisconnected
	c.backoff.next()
}

// readLoop is the connection's one background goroutine. It only reads
// frames off the wire, parses them, and appends them to inbox under
// the mutex — it never calls into subscription/outbox/engine state.
func (c *Connection) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.ws == ws {
				c.state = StateDisconnected
				c.ws = nil
			}
			c.mu.Unlock()
			return
		}
		msg, err := protocol.ParseRelayMessage(data)
		if err != nil {
			continue
		}
		c.mu.Lock()
		c.inbox = append(c.inbox, msg)
		c.mu.Unlock()
	}
}

// DrainMessages removes and returns every frame queued since the last
// call, in arrival order.
func (c *Connection) DrainMessages() []*protocol.RelayMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbox) == 0 {
		return nil
	}
	out := c.inbox
	c.inbox = nil
	return out
}

// Send writes a raw frame to the relay. Returns an error wrapping
// protocol.ErrTransport if not currently connected.
func (c *Connection) Send(frame []byte) error {
	c.mu.Lock()
	ws := c.ws
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || ws == nil {
		return protocol.TransportErrorf("relay %s is not connected", c.URL)
	}
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return protocol.TransportErrorf("write to relay %s: %w", c.URL, err)
	}
	return nil
}

// Close terminates the connection permanently; NeedsReconnect will
// never report true again afterward.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.closed = true
	ws := c.ws
	c.ws = nil
	c.state = StateDisconnected
	c.mu.Unlock()
	if ws != nil {
		return ws.Close()
	}
	return nil
}
