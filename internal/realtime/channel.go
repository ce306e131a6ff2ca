// Package realtime maintains the long-lived sync channel to the gateway:
// handshake, transport, sequence tracking, resume and reconnection.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"
)

// Channel states
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateReconnecting = "reconnecting"
)

// ErrAuthRequired is returned by a HandshakeFunc when the operator session
// itself is invalid. It is terminal for the channel: the caller must
// redirect to re-authentication, not retry.
var ErrAuthRequired = errors.New("realtime: operator session invalid")

// Reconnect backoff bounds
const (
	baseReconnectDelay = 1 * time.Second
	maxReconnectDelay  = 30 * time.Second
)

// ReconnectDelay returns the backoff delay for the given attempt number:
// 1s doubling per attempt, capped at 30s.
func ReconnectDelay(attempt int) time.Duration {
	delay := baseReconnectDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxReconnectDelay {
			return maxReconnectDelay
		}
	}
	return delay
}

// Handshake is the credential response that authorizes the transport
type Handshake struct {
	Token     string `json:"token"`
	WSURL     string `json:"wsUrl"`
	ExpiresIn int    `json:"expiresIn"`
}

// HandshakeFunc acquires a short-lived handshake credential. It must return
// ErrAuthRequired (possibly wrapped) when the operator session is invalid.
type HandshakeFunc func(ctx context.Context) (Handshake, error)

// Conn is the minimal transport surface the channel drives
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a transport to the given URL
type Dialer func(ctx context.Context, wsURL string) (Conn, error)

// Listener receives normalized events
type Listener func(Event)

// Channel is a single logical realtime connection. All state transitions
// are serialized under one mutex, mirroring the one cooperative timeline
// of message arrival, timer firing and connect/close callbacks.
type Channel struct {
	handshake HandshakeFunc
	dial      Dialer
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	state    string
	degraded bool
	closed   bool
	fatalErr error
	conn     Conn
	epoch    int
	attempt  int
	lastSeq  int64
	timer    *time.Timer

	subs    map[int]Listener
	nextSub int

	// onFatal runs once when the channel aborts on an auth failure
	onFatal func(error)
}

// NewChannel creates a channel. The dialer defaults to the gorilla
// websocket transport when nil.
func NewChannel(handshake HandshakeFunc, dial Dialer, logger *slog.Logger) *Channel {
	if dial == nil {
		dial = dialWebsocket
	}
	return &Channel{
		handshake: handshake,
		dial:      dial,
		logger:    logger,
		now:       time.Now,
		state:     StateDisconnected,
		subs:      make(map[int]Listener),
	}
}

// OnFatal registers the hook invoked when the channel terminates on an
// authentication failure. Must be called before Start.
func (c *Channel) OnFatal(fn func(error)) {
	c.onFatal = fn
}

// Start begins connecting in the background
func (c *Channel) Start(ctx context.Context) {
	go c.connect(ctx, c.bumpEpoch())
}

// State returns the channel state. Degraded mode reports connected: no
// push updates will arrive, but the UI must not show "reconnecting".
func (c *Channel) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Degraded reports whether the gateway offered no realtime transport.
// Callers are expected to substitute periodic polling.
func (c *Channel) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// LastSeq returns the sequence high-water mark observed this lifetime
func (c *Channel) LastSeq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// Err returns the terminal error, if the channel aborted
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatalErr
}

// Subscribe registers a listener and returns its unsubscribe function.
// Any number of listeners may register and unregister independently.
func (c *Channel) Subscribe(fn Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Send writes a control frame on the current transport, if connected
func (c *Channel) Send(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("realtime: not connected")
	}
	return conn.WriteJSON(v)
}

// Close tears the channel down: the transport is closed and any pending
// reconnect timer is cancelled so nothing fires afterwards.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.state = StateDisconnected
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// bumpEpoch invalidates callbacks from any previous connection attempt
func (c *Channel) bumpEpoch() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	return c.epoch
}

// connect runs one connection attempt for the given epoch
func (c *Channel) connect(ctx context.Context, epoch int) {
	c.mu.Lock()
	if c.closed || epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	hs, err := c.handshake(ctx)
	if err != nil {
		if errors.Is(err, ErrAuthRequired) {
			c.abort(err)
			return
		}
		c.logger.Warn("realtime handshake failed", "error", err)
		c.scheduleReconnect(ctx)
		return
	}

	// Explicitly no realtime transport: degrade, report connected, and
	// never attempt again.
	if hs.WSURL == "" {
		c.mu.Lock()
		if !c.closed && epoch == c.epoch {
			c.degraded = true
			c.state = StateConnected
		}
		c.mu.Unlock()
		c.logger.Info("gateway offers no realtime transport, operating in polling mode")
		return
	}

	conn, err := c.dial(ctx, hs.WSURL+"?token="+url.QueryEscape(hs.Token))
	if err != nil {
		c.logger.Warn("realtime dial failed", "error", err)
		c.scheduleReconnect(ctx)
		return
	}

	c.mu.Lock()
	if c.closed || epoch != c.epoch {
		// Superseded while dialing: abandon this socket
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.attempt = 0
	resumeFrom := c.lastSeq
	c.mu.Unlock()

	c.logger.Info("realtime channel connected", "resume_from", resumeFrom)

	// Resume only when a sequenced message was observed before
	if resumeFrom > 0 {
		if err := conn.WriteJSON(resumeMessage{Type: "resume", LastSeq: resumeFrom}); err != nil {
			c.logger.Warn("failed to send resume request", "error", err)
		}
	}

	go c.readLoop(ctx, epoch, conn)
}

// readLoop pumps inbound frames until the transport closes
func (c *Channel) readLoop(ctx context.Context, epoch int, conn Conn) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(ctx, epoch)
			return
		}
		c.handleMessage(raw)
	}
}

// handleClose reacts to transport closure from any state other than a
// deliberate shutdown
func (c *Channel) handleClose(ctx context.Context, epoch int) {
	c.mu.Lock()
	if c.closed || epoch != c.epoch {
		// Stale socket callback for a superseded connection; it must not
		// revive a state that has moved on.
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateReconnecting
	c.mu.Unlock()

	c.logger.Info("realtime transport closed, reconnecting")
	c.scheduleReconnect(ctx)
}

// scheduleReconnect arms the single reconnect timer with exponential backoff
func (c *Channel) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.timer != nil {
		// Only one pending timer at a time
		return
	}

	delay := ReconnectDelay(c.attempt)
	c.attempt++
	c.state = StateReconnecting

	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.timer = nil
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.epoch++
		epoch := c.epoch
		c.mu.Unlock()
		c.connect(ctx, epoch)
	})

	c.logger.Debug("reconnect scheduled", "attempt", c.attempt, "delay", delay)
}

// handleMessage normalizes one inbound frame and dispatches it.
// Malformed payloads are dropped silently; they never crash the channel
// and never reach subscribers.
func (c *Channel) handleMessage(raw []byte) {
	msg, err := normalizeEnvelope(raw)
	if err != nil {
		c.logger.Debug("dropping malformed frame", "error", err)
		return
	}

	c.mu.Lock()
	// Track the high-water mark; an out-of-order lower number never
	// regresses it, though the event itself is still dispatched.
	if msg.Seq > c.lastSeq {
		c.lastSeq = msg.Seq
	}
	c.mu.Unlock()

	if msg.Event == eventResumeStale {
		// Gap too large to replay: tell every subscriber to do a full
		// refresh instead of forwarding the stale signal itself.
		c.dispatch(Event{
			Event:     EventNeedsRefresh,
			Seq:       msg.Seq,
			Timestamp: c.now().UnixMilli(),
		})
		return
	}

	c.dispatch(msg)
}

// dispatch fans an event out to all current subscribers
func (c *Channel) dispatch(msg Event) {
	c.mu.Lock()
	listeners := make([]Listener, 0, len(c.subs))
	for _, fn := range c.subs {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(msg)
	}
}

// abort terminates the channel on an authentication failure
func (c *Channel) abort(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.fatalErr = err
	c.state = StateDisconnected
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	onFatal := c.onFatal
	c.mu.Unlock()

	c.logger.Error("realtime channel aborted, re-authentication required", "error", err)
	if onFatal != nil {
		onFatal(err)
	}
}
