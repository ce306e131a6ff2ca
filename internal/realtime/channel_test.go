package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florawren/clawboard/internal/testutil"
)

// fakeConn is a scriptable transport: frames pushed into in come out of
// ReadMessage, and everything written is recorded.
type fakeConn struct {
	in     chan []byte
	closed chan struct{}

	mu        sync.Mutex
	writes    []any
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case frame := <-c.in:
		return frame, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Writes() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.writes))
	copy(out, c.writes)
	return out
}

// fakeDialer hands out one fakeConn per dial and records the URLs
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	urls  []string
	err   error
}

func (d *fakeDialer) dial(_ context.Context, wsURL string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	d.urls = append(d.urls, wsURL)
	return conn, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// eventSink collects dispatched events
type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) listen(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *eventSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func staticHandshake(wsURL, token string) HandshakeFunc {
	return func(ctx context.Context) (Handshake, error) {
		return Handshake{Token: token, WSURL: wsURL, ExpiresIn: 30}, nil
	}
}

func startConnected(t *testing.T) (*Channel, *fakeDialer, *eventSink) {
	t.Helper()

	dialer := &fakeDialer{}
	ch := NewChannel(staticHandshake("ws://gateway/ws", "tok"), dialer.dial, testutil.NewTestLogger().Logger())
	t.Cleanup(ch.Close)

	sink := &eventSink{}
	ch.Subscribe(sink.listen)

	ch.Start(context.Background())
	testutil.WaitFor(t, func() bool { return ch.State() == StateConnected }, 2*time.Second, "channel never connected")
	return ch, dialer, sink
}

func TestReconnectDelay(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.expected, ReconnectDelay(tt.attempt))
		})
	}
}

func TestChannel_ConnectAttachesToken(t *testing.T) {
	dialer := &fakeDialer{}
	ch := NewChannel(staticHandshake("ws://gateway/ws", "a token&more"), dialer.dial, testutil.NewTestLogger().Logger())
	defer ch.Close()

	ch.Start(context.Background())
	testutil.WaitFor(t, func() bool { return ch.State() == StateConnected }, 2*time.Second, "channel never connected")

	require.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, "ws://gateway/ws?token=a+token%26more", dialer.urls[0])
}

func TestChannel_NoResumeOnFirstConnect(t *testing.T) {
	_, dialer, _ := startConnected(t)

	// Give the connect goroutine a beat; nothing should have been written
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, dialer.conn(0).Writes())
}

func TestChannel_DispatchAndSeqHighWaterMark(t *testing.T) {
	ch, dialer, sink := startConnected(t)

	conn := dialer.conn(0)
	conn.in <- []byte(`{"event":"task:updated","seq":5,"data":{"id":"t1"}}`)
	conn.in <- []byte(`{"event":"task:updated","seq":3,"data":{"id":"t2"}}`)
	conn.in <- []byte(`{"event":"task:updated","seq":7,"data":{"id":"t3"}}`)

	testutil.WaitFor(t, func() bool { return sink.count() == 3 }, 2*time.Second, "events not dispatched")

	// Out-of-order frames are all dispatched, and the high-water mark
	// never regresses
	assert.Equal(t, int64(7), ch.LastSeq())
}

func TestChannel_MalformedFramesDropped(t *testing.T) {
	_, dialer, sink := startConnected(t)

	conn := dialer.conn(0)
	conn.in <- []byte(`{{{not json`)
	conn.in <- []byte(`{"event":"task:updated","seq":1}`)

	testutil.WaitFor(t, func() bool { return sink.count() == 1 }, 2*time.Second, "valid event not dispatched")
	assert.Equal(t, "task:updated", sink.all()[0].Event)
}

func TestChannel_ResumeStaleSynthesizesNeedsRefresh(t *testing.T) {
	_, dialer, sink := startConnected(t)

	dialer.conn(0).in <- []byte(`{"event":"resume:stale","seq":12}`)

	testutil.WaitFor(t, func() bool { return sink.count() == 1 }, 2*time.Second, "no event dispatched")

	got := sink.all()[0]
	assert.Equal(t, EventNeedsRefresh, got.Event)
	assert.Equal(t, int64(12), got.Seq)
	assert.NotZero(t, got.Timestamp)
}

func TestChannel_LegacyFramesNormalized(t *testing.T) {
	_, dialer, sink := startConnected(t)

	dialer.conn(0).in <- []byte(`{"type":"snapshot","payload":{"tasks":[]}}`)

	testutil.WaitFor(t, func() bool { return sink.count() == 1 }, 2*time.Second, "legacy event not dispatched")

	got := sink.all()[0]
	assert.Equal(t, "snapshot", got.Event)
	// The whole original frame rides along as data
	assert.JSONEq(t, `{"type":"snapshot","payload":{"tasks":[]}}`, string(got.Data))
}

func TestChannel_ReconnectSendsResume(t *testing.T) {
	ch, dialer, sink := startConnected(t)

	conn := dialer.conn(0)
	conn.in <- []byte(`{"event":"task:updated","seq":42}`)
	testutil.WaitFor(t, func() bool { return sink.count() == 1 }, 2*time.Second, "event not dispatched")

	// Drop the transport; backoff for the first attempt is one second
	conn.Close()
	testutil.WaitFor(t, func() bool { return dialer.dialCount() == 2 }, 3*time.Second, "channel never redialed")
	testutil.WaitFor(t, func() bool { return ch.State() == StateConnected }, 2*time.Second, "channel never reconnected")

	second := dialer.conn(1)
	testutil.WaitFor(t, func() bool { return len(second.Writes()) == 1 }, 2*time.Second, "no resume frame sent")

	resume, ok := second.Writes()[0].(resumeMessage)
	require.True(t, ok, "expected a resume control frame, got %T", second.Writes()[0])
	assert.Equal(t, "resume", resume.Type)
	assert.Equal(t, int64(42), resume.LastSeq)
}

func TestChannel_DegradedModeWhenNoTransportOffered(t *testing.T) {
	dialer := &fakeDialer{}
	ch := NewChannel(staticHandshake("", ""), dialer.dial, testutil.NewTestLogger().Logger())
	defer ch.Close()

	ch.Start(context.Background())
	testutil.WaitFor(t, func() bool { return ch.State() == StateConnected }, 2*time.Second, "degraded channel must report connected")

	assert.True(t, ch.Degraded())
	assert.Zero(t, dialer.dialCount(), "degraded mode must not dial")

	// No reconnect ever fires
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, dialer.dialCount())
}

func TestChannel_AuthFailureIsTerminal(t *testing.T) {
	dialer := &fakeDialer{}
	handshake := func(ctx context.Context) (Handshake, error) {
		return Handshake{}, fmt.Errorf("ws-token endpoint: %w", ErrAuthRequired)
	}

	ch := NewChannel(handshake, dialer.dial, testutil.NewTestLogger().Logger())
	defer ch.Close()

	var fatalErr error
	var fatalMu sync.Mutex
	ch.OnFatal(func(err error) {
		fatalMu.Lock()
		fatalErr = err
		fatalMu.Unlock()
	})

	ch.Start(context.Background())
	testutil.WaitFor(t, func() bool { return ch.Err() != nil }, 2*time.Second, "channel never aborted")

	assert.ErrorIs(t, ch.Err(), ErrAuthRequired)
	assert.Equal(t, StateDisconnected, ch.State())
	assert.Zero(t, dialer.dialCount())

	fatalMu.Lock()
	defer fatalMu.Unlock()
	assert.ErrorIs(t, fatalErr, ErrAuthRequired)
}

func TestChannel_TransientHandshakeFailureRetries(t *testing.T) {
	dialer := &fakeDialer{}

	var mu sync.Mutex
	failures := 1
	handshake := func(ctx context.Context) (Handshake, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return Handshake{}, errors.New("gateway busy")
		}
		return Handshake{Token: "tok", WSURL: "ws://gateway/ws"}, nil
	}

	ch := NewChannel(handshake, dialer.dial, testutil.NewTestLogger().Logger())
	defer ch.Close()

	ch.Start(context.Background())

	// First attempt fails and schedules a retry
	testutil.WaitFor(t, func() bool { return ch.State() == StateReconnecting }, 2*time.Second, "no retry scheduled")
	assert.NoError(t, ch.Err(), "transient failure must not be terminal")

	// After the backoff the second attempt succeeds
	testutil.WaitFor(t, func() bool { return ch.State() == StateConnected }, 3*time.Second, "channel never recovered")
	assert.Equal(t, 1, dialer.dialCount())
}

func TestChannel_CloseStopsEverything(t *testing.T) {
	ch, dialer, _ := startConnected(t)

	ch.Close()
	assert.Equal(t, StateDisconnected, ch.State())

	// The transport was closed and nothing redials afterwards
	select {
	case <-dialer.conn(0).closed:
	default:
		t.Error("transport not closed on Close()")
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestChannel_SendRequiresConnection(t *testing.T) {
	ch := NewChannel(staticHandshake("ws://gateway/ws", "tok"), (&fakeDialer{}).dial, testutil.NewTestLogger().Logger())
	defer ch.Close()

	assert.Error(t, ch.Send(map[string]string{"type": "ping"}))
}

func TestChannel_Unsubscribe(t *testing.T) {
	ch, dialer, sink := startConnected(t)

	other := &eventSink{}
	unsubscribe := ch.Subscribe(other.listen)
	unsubscribe()

	dialer.conn(0).in <- []byte(`{"event":"task:updated","seq":1}`)
	testutil.WaitFor(t, func() bool { return sink.count() == 1 }, 2*time.Second, "remaining listener not notified")

	assert.Zero(t, other.count(), "unsubscribed listener was notified")
}
