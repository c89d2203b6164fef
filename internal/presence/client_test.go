// SPDX-License-Identifier: MIT
package presence

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/result"
)

type collectHandler struct {
	mu     sync.Mutex
	events []CallStateEvent
	states []bool
}

func (h *collectHandler) OnCallStateEvent(ev CallStateEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *collectHandler) OnConnectionStateChanged(connected bool, _ string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, connected)
}

func (h *collectHandler) eventCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func (h *collectHandler) lastEvent() CallStateEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events[len(h.events)-1]
}

// testFeedServer accepts one connection at a time and writes whatever the
// test pushes through send.
type testFeedServer struct {
	ln   net.Listener
	send chan string
	done chan struct{}
}

func newTestFeedServer(t *testing.T) *testFeedServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testFeedServer{ln: ln, send: make(chan string, 16), done: make(chan struct{})}
	go s.serve()
	t.Cleanup(s.close)
	return s
}

func (s *testFeedServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go func(c net.Conn) {
			defer c.Close()
			for {
				select {
				case <-s.done:
					return
				case payload := <-s.send:
					if _, err := c.Write([]byte(payload)); err != nil {
						return
					}
				}
			}
		}(conn)
	}
}

func (s *testFeedServer) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	_ = s.ln.Close()
}

func (s *testFeedServer) endpoint() (string, int) {
	addr := s.ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func clientConfig(host string, port int) *config.AppConfig {
	return &config.AppConfig{
		PresenceServers:              []config.PresenceServer{{Host: host, Port: port, Priority: 1}},
		PresenceFailoverStrategy:     "priority",
		PresenceServerCooldown:       time.Second,
		PresenceReconnectInterval:    50 * time.Millisecond,
		PresenceReconnectMaxInterval: 200 * time.Millisecond,
		PresenceReadTimeout:          time.Second,
		PresenceRecvBufferSize:       4096,
		PresenceHeartbeatInterval:    time.Hour, // effectively disabled
		PresenceHeartbeatMiss:        3,
	}
}

func TestClientReceivesEvents(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	srv := newTestFeedServer(t)
	host, port := srv.endpoint()
	cfg := clientConfig(host, port)

	h := &collectHandler{}
	c := NewClient(cfg, NewFailoverManager(cfg), h)
	require.True(t, c.Start(context.Background()).IsOk())
	defer c.Stop()

	waitFor(t, c.Connected)
	assert.Equal(t, host+":"+strconv.Itoa(port), c.ConnectedServer())

	srv.send <- sampleEvent
	waitFor(t, func() bool { return h.eventCount() == 1 })
	assert.Equal(t, "call-42", h.lastEvent().CallID)
	assert.Equal(t, CallStateRinging, h.lastEvent().State)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.EventsDelivered)
	assert.Equal(t, StateConnected, stats.State)
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	srv := newTestFeedServer(t)
	host, port := srv.endpoint()
	cfg := clientConfig(host, port)

	h := &collectHandler{}
	c := NewClient(cfg, NewFailoverManager(cfg), h)
	require.True(t, c.Start(context.Background()).IsOk())
	defer c.Stop()

	waitFor(t, c.Connected)
	first := c.Stats().ConnectSuccesses

	// Kill the connection server-side and verify the client notices and
	// goes back through the failover manager.
	srv.close()
	waitFor(t, func() bool { return c.Stats().Disconnects > 0 })
	waitFor(t, func() bool { return c.Stats().ConnectAttempts > first })
}

func TestClientDropsSilentConnection(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	srv := newTestFeedServer(t)
	host, port := srv.endpoint()
	cfg := clientConfig(host, port)
	cfg.PresenceReadTimeout = 150 * time.Millisecond

	h := &collectHandler{}
	c := NewClient(cfg, NewFailoverManager(cfg), h)
	require.True(t, c.Start(context.Background()).IsOk())
	defer c.Stop()

	waitFor(t, c.Connected)

	// The server accepts but never writes. The client must give up on the
	// silent link within the read timeout and redial.
	waitFor(t, func() bool { return c.Stats().Disconnects > 0 })
	waitFor(t, func() bool { return c.Stats().ConnectAttempts >= 2 })
}

func TestClientStartRequiresHandler(t *testing.T) {
	cfg := clientConfig("127.0.0.1", 1)
	c := NewClient(cfg, NewFailoverManager(cfg), nil)
	assert.Equal(t, result.InvalidArgument, c.Start(context.Background()))
}

func TestClientStopIdempotent(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	srv := newTestFeedServer(t)
	host, port := srv.endpoint()
	cfg := clientConfig(host, port)

	c := NewClient(cfg, NewFailoverManager(cfg), &collectHandler{})
	require.True(t, c.Start(context.Background()).IsOk())
	assert.Equal(t, result.AlreadyExists, c.Start(context.Background()))

	c.Stop()
	c.Stop()
	assert.Equal(t, StateDisconnected, c.State())
}
