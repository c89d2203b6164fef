// SPDX-License-Identifier: MIT
package presence

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/log"
	"github.com/Badareenadh/sip-event-processor/internal/metrics"
	"github.com/Badareenadh/sip-event-processor/internal/result"
)

// Connection states as exposed through metrics and the stats surface.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateReconnecting = "reconnecting"
)

func connStateGauge(state string) int {
	switch state {
	case StateConnecting:
		return 1
	case StateConnected:
		return 2
	case StateReconnecting:
		return 3
	default:
		return 0
	}
}

// EventHandler receives parsed feed events and connection transitions. The
// router implements this.
type EventHandler interface {
	OnCallStateEvent(ev CallStateEvent)
	OnConnectionStateChanged(connected bool, detail string)
}

// ClientStats is a snapshot of client counters for the stats surface.
type ClientStats struct {
	ConnectAttempts   uint64 `json:"connect_attempts"`
	ConnectSuccesses  uint64 `json:"connect_successes"`
	Disconnects       uint64 `json:"disconnects"`
	Failovers         uint64 `json:"failovers"`
	BytesReceived     uint64 `json:"bytes_received"`
	EventsReceived    uint64 `json:"events_received"`
	EventsDelivered   uint64 `json:"events_delivered"`
	HeartbeatTimeouts uint64 `json:"heartbeat_timeouts"`
	ParseErrors       uint64 `json:"parse_errors"`
	State             string `json:"state"`
	ConnectedServer   string `json:"connected_server"`
}

// Client maintains one TCP connection to the presence feed, reconnecting
// through the failover manager with exponential backoff. One reader
// goroutine; heartbeat supervision closes stale connections.
type Client struct {
	cfg      *config.AppConfig
	failover *FailoverManager
	handler  EventHandler
	parser   *StreamParser
	logger   zerolog.Logger

	machine *fsm.FSM

	connMu sync.Mutex
	conn   net.Conn

	serverMu sync.Mutex
	server   Endpoint

	hbMu          sync.Mutex
	lastHeartbeat time.Time

	backoff time.Duration

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	connectAttempts   atomic.Uint64
	connectSuccesses  atomic.Uint64
	disconnects       atomic.Uint64
	failovers         atomic.Uint64
	bytesReceived     atomic.Uint64
	eventsReceived    atomic.Uint64
	eventsDelivered   atomic.Uint64
	heartbeatTimeouts atomic.Uint64
}

// NewClient wires a feed client to its failover manager and handler.
func NewClient(cfg *config.AppConfig, failover *FailoverManager, handler EventHandler) *Client {
	c := &Client{
		cfg:      cfg,
		failover: failover,
		handler:  handler,
		parser:   NewStreamParser(),
		logger:   log.WithComponent("presence_client"),
		backoff:  cfg.PresenceReconnectInterval,
	}
	c.machine = fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: "dial", Src: []string{StateDisconnected, StateReconnecting}, Dst: StateConnecting},
			{Name: "established", Src: []string{StateConnecting}, Dst: StateConnected},
			{Name: "lost", Src: []string{StateConnecting, StateConnected}, Dst: StateReconnecting},
			{Name: "stopped", Src: []string{StateDisconnected, StateConnecting, StateConnected, StateReconnecting}, Dst: StateDisconnected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				metrics.SetPresenceConnState(connStateGauge(e.Dst))
			},
		},
	)
	return c
}

// State returns the current connection state name.
func (c *Client) State() string { return c.machine.Current() }

// Connected reports whether the feed link is up.
func (c *Client) Connected() bool { return c.machine.Current() == StateConnected }

// ConnectedServer returns the address of the live feed server.
func (c *Client) ConnectedServer() string {
	c.serverMu.Lock()
	defer c.serverMu.Unlock()
	if c.server.IsZero() {
		return "(none)"
	}
	return c.server.Addr()
}

// Stats returns a counter snapshot.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		ConnectAttempts:   c.connectAttempts.Load(),
		ConnectSuccesses:  c.connectSuccesses.Load(),
		Disconnects:       c.disconnects.Load(),
		Failovers:         c.failovers.Load(),
		BytesReceived:     c.bytesReceived.Load(),
		EventsReceived:    c.eventsReceived.Load(),
		EventsDelivered:   c.eventsDelivered.Load(),
		HeartbeatTimeouts: c.heartbeatTimeouts.Load(),
		ParseErrors:       c.parser.Errors(),
		State:             c.State(),
		ConnectedServer:   c.ConnectedServer(),
	}
}

// Start launches the reader goroutine. The client runs until Stop or the
// parent context is cancelled.
func (c *Client) Start(ctx context.Context) result.Code {
	if c.handler == nil {
		return result.InvalidArgument
	}
	if !c.running.CompareAndSwap(false, true) {
		return result.AlreadyExists
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx)
	c.logger.Info().Msg("presence client started")
	return result.Ok
}

// Stop tears the connection down and waits for the reader to exit.
func (c *Client) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.cancel()
	c.closeConn()
	<-c.done
	_ = c.machine.Event(context.Background(), "stopped")
	c.logger.Info().Msg("presence client stopped")
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	for ctx.Err() == nil {
		ep := c.failover.NextServer()
		if ep.IsZero() {
			c.logger.Warn().Msg("no feed servers available")
			if !c.sleepBackoff(ctx) {
				return
			}
			continue
		}

		if code := c.connect(ctx, ep); !code.IsOk() {
			c.failover.ReportFailure(ep, code.String())
			c.failovers.Add(1)
			metrics.IncPresenceReconnect()
			if !c.sleepBackoff(ctx) {
				return
			}
			continue
		}

		c.failover.ReportSuccess(ep)
		c.readLoop(ctx)

		c.closeConn()
		c.disconnects.Add(1)
		_ = c.machine.Event(ctx, "lost")
		c.notifyState(false, "disconnected")
		if ctx.Err() != nil {
			return
		}
		c.failover.ReportFailure(ep, "disconnected")
		c.failovers.Add(1)
		metrics.IncPresenceReconnect()
		if !c.sleepBackoff(ctx) {
			return
		}
	}
}

func (c *Client) connect(ctx context.Context, ep Endpoint) result.Code {
	_ = c.machine.Event(ctx, "dial")
	c.connectAttempts.Add(1)

	dialer := net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	conn, err := dialer.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		c.logger.Error().Err(err).Str(log.FieldEndpoint, ep.Addr()).Msg("connect failed")
		_ = c.machine.Event(ctx, "lost")
		if ctx.Err() != nil {
			return result.ShuttingDown
		}
		return result.ConnectionLost
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.serverMu.Lock()
	c.server = ep
	c.serverMu.Unlock()

	c.connectSuccesses.Add(1)
	c.backoff = c.cfg.PresenceReconnectInterval
	c.touchHeartbeat()
	c.parser.Reset()

	_ = c.machine.Event(ctx, "established")
	c.logger.Info().Str(log.FieldEndpoint, ep.Addr()).Msg("feed connected")
	c.notifyState(true, ep.Addr())
	return result.Ok
}

func (c *Client) readLoop(ctx context.Context) {
	buf := make([]byte, c.cfg.PresenceRecvBufferSize)

	readTimeout := c.cfg.PresenceReadTimeout
	poll := time.Second
	if readTimeout > 0 && readTimeout < poll {
		poll = readTimeout
	}
	lastRead := time.Now()

	for ctx.Err() == nil {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		// Short deadline so read and heartbeat supervision run even on
		// a silent link.
		_ = conn.SetReadDeadline(time.Now().Add(poll))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if readTimeout > 0 && time.Since(lastRead) > readTimeout {
					c.logger.Warn().Dur("elapsed", time.Since(lastRead)).
						Msg("read timeout, dropping connection")
					return
				}
				if c.heartbeatExpired() {
					return
				}
				continue
			}
			return
		}

		lastRead = time.Now()
		c.bytesReceived.Add(uint64(n))
		res := c.parser.Feed(buf[:n])

		if res.Heartbeat || len(res.Events) > 0 {
			c.touchHeartbeat()
		}
		if res.Heartbeat {
			metrics.IncPresenceHeartbeat()
		}
		for i := range res.Events {
			c.eventsReceived.Add(1)
			c.handler.OnCallStateEvent(res.Events[i])
			c.eventsDelivered.Add(1)
		}
	}
}

func (c *Client) heartbeatExpired() bool {
	c.hbMu.Lock()
	elapsed := time.Since(c.lastHeartbeat)
	c.hbMu.Unlock()

	timeout := c.cfg.PresenceHeartbeatInterval * time.Duration(c.cfg.PresenceHeartbeatMiss)
	if timeout <= 0 || elapsed <= timeout {
		return false
	}
	c.heartbeatTimeouts.Add(1)
	c.logger.Warn().Dur("elapsed", elapsed).Msg("heartbeat timeout, dropping connection")
	return true
}

func (c *Client) touchHeartbeat() {
	c.hbMu.Lock()
	c.lastHeartbeat = time.Now()
	c.hbMu.Unlock()
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// sleepBackoff waits the current backoff and doubles it up to the
// configured max. Returns false when the context ended during the wait.
func (c *Client) sleepBackoff(ctx context.Context) bool {
	t := time.NewTimer(c.backoff)
	defer t.Stop()

	next := c.backoff * 2
	if next > c.cfg.PresenceReconnectMaxInterval {
		next = c.cfg.PresenceReconnectMaxInterval
	}
	c.backoff = next

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Client) notifyState(connected bool, detail string) {
	if c.handler != nil {
		c.handler.OnConnectionStateChanged(connected, detail)
	}
}
