// Package reactor implements the TCP connection/command loop: accept
// connections, frame and dispatch requests, and track per-connection idle
// time and key expirations. Go's runtime netpoller already multiplexes
// blocking net.Conn reads across however many OS threads it needs, so
// Server.Serve runs one goroutine per accepted connection rather than a
// hand-rolled single-threaded readiness loop. Every connection dispatches
// into the same keyspace.Store, which owns the single-writer invariant over
// the keyspace itself; Server's own mutex only protects its reactor-local
// idle-list and connection-registry state, which the keyspace lock knows
// nothing about.
//
// A dedicated sweeper goroutine expires due keys and closes idle
// connections, using a "stop-then-reset a time.Timer, select against a wake
// channel" idiom; every new connection and every dispatched command nudges
// that wake channel so the sweeper's timer is never stale for longer than
// the current tick.
package reactor

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/photondb/photondb/internal/command"
	"github.com/photondb/photondb/internal/idlelist"
	"github.com/photondb/photondb/internal/keyspace"
	"github.com/photondb/photondb/internal/wire"
)

// DefaultIdleTimeout is how long a connection may sit without a successful
// read or write before the sweeper closes it.
const DefaultIdleTimeout = 20 * time.Second

// readBufSize bounds a single Read() call; requests larger than this
// still work, they just accumulate across more than one read before a
// full frame is available.
const readBufSize = 64 * 1024

type conn struct {
	id           uuid.UUID
	nc           net.Conn
	dec          *wire.Decoder
	lastActiveMs int64
	elem         idlelist.Elem[*conn]
	inIdle       bool
}

// Server is the TCP reactor: accept loop, per-connection goroutines, and
// the idle/expiration sweeper. Its own mutex serializes the idle list and
// connection registry; keyspace mutation is serialized separately, by
// store's own lock.
type Server struct {
	listener net.Listener
	store    *keyspace.Store
	dispatch *command.Dispatcher
	log      *zap.Logger

	idleTimeout time.Duration

	mu    sync.Mutex
	idle  *idlelist.List[*conn]
	conns map[uuid.UUID]*conn

	wake chan struct{}
}

// New constructs a reactor Server. Call Serve to run it.
func New(listener net.Listener, store *keyspace.Store, dispatch *command.Dispatcher, log *zap.Logger, idleTimeout time.Duration) *Server {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Server{
		listener:    listener,
		store:       store,
		dispatch:    dispatch,
		log:         log.Named("reactor"),
		idleTimeout: idleTimeout,
		idle:        idlelist.New[*conn](),
		conns:       make(map[uuid.UUID]*conn),
		wake:        make(chan struct{}, 1),
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }

// Serve accepts connections until ctx is cancelled or the listener
// errors. It starts the sweeper goroutine and spawns one goroutine per
// accepted connection (see the package doc).
func (s *Server) Serve(ctx context.Context) error {
	go s.sweep(ctx)

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		c := s.accept(nc)
		go s.handleConn(c)
	}
}

func (s *Server) accept(nc net.Conn) *conn {
	c := &conn{
		id:           uuid.New(),
		nc:           nc,
		dec:          wire.NewDecoder(),
		lastActiveMs: nowMs(),
	}

	s.mu.Lock()
	c.elem = s.idle.PushBack(c)
	c.inIdle = true
	s.conns[c.id] = c
	s.mu.Unlock()
	s.wakeSweeper()

	s.log.Debug("connection accepted", zap.String("conn_id", c.id.String()), zap.String("remote", nc.RemoteAddr().String()))
	return c
}

// handleConn is the per-connection goroutine: read, feed the decoder,
// dispatch every whole request found, write the accumulated responses.
// One goroutine handling its own connection's reads sequentially already
// gives strict per-connection request/response ordering for free.
func (s *Server) handleConn(c *conn) {
	defer s.teardown(c)

	buf := make([]byte, readBufSize)
	for {
		n, readErr := c.nc.Read(buf)
		if n > 0 {
			if !s.process(c, buf[:n]) {
				return
			}
		}
		if readErr != nil {
			return
		}
	}
}

// process feeds newly-read bytes through the decoder, dispatches every
// complete request, writes the accumulated responses, and touches the
// idle list. c.dec is only ever touched by this connection's own
// goroutine, so it needs no lock; s.dispatch.Dispatch serializes through
// keyspace.Store's own mutex, so the reactor doesn't need to wrap it in
// s.mu either — s.mu here only protects the idle list and connection
// registry, reactor-local state the keyspace lock knows nothing about.
// Returns false if a framing error or write error means the connection
// should be torn down.
func (s *Server) process(c *conn, data []byte) bool {
	c.dec.Feed(data)

	var out []byte
	for {
		args, err := c.dec.Next()
		if err != nil {
			if errors.Is(err, wire.ErrNeedMore) {
				break
			}
			// Framing error: drop the connection without replying.
			return false
		}
		resp := s.dispatch.Dispatch(args)
		out = append(out, wire.Encode(resp)...)
	}

	s.mu.Lock()
	c.lastActiveMs = nowMs()
	if c.inIdle {
		s.idle.Touch(c.elem)
	}
	s.mu.Unlock()
	// A command may have lowered the soonest TTL deadline (PEXPIRE) or
	// just proved the connection alive; either way the sweeper's timer may
	// now be armed too far out, so nudge it to recompute.
	s.wakeSweeper()

	if len(out) == 0 {
		return true
	}
	// Best-effort write; an error here tears the connection down the same
	// way a read error would.
	_, err := c.nc.Write(out)
	return err == nil
}

// wakeSweeper nudges the sweeper goroutine to recompute its next wake
// delay from fresh state. Non-blocking: if a wake is already pending, a
// second one is redundant.
func (s *Server) wakeSweeper() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// teardown removes c from the idle list and connection registry (if not
// already removed by the sweeper) and closes its socket. Idempotent:
// whichever of handleConn's defer or the sweeper's forced close runs
// first does the removal, the other is a no-op.
func (s *Server) teardown(c *conn) {
	s.mu.Lock()
	if c.inIdle {
		s.idle.Remove(c.elem)
		c.inIdle = false
	}
	delete(s.conns, c.id)
	s.mu.Unlock()

	c.nc.Close()
	s.log.Debug("connection closed", zap.String("conn_id", c.id.String()))
}

// sweep expires due keys and closes idle connections, waking exactly when
// the soonest deadline requires it.
func (s *Server) sweep(ctx context.Context) {
	const noDeadlineFallback = time.Hour

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		s.mu.Lock()
		delay, has := s.nextWakeDelay()
		s.mu.Unlock()
		if !has {
			delay = noDeadlineFallback
		}
		arm(timer, delay)

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.runSweepTick()
		case <-s.wake:
			// loop around: recompute the next delay from fresh state
		}
	}
}

func (s *Server) runSweepTick() {
	now := nowMs()

	s.mu.Lock()
	expired := s.store.ExpireDue(now, keyspace.ExpireBudget)
	idleConns := s.collectIdleConnsLocked(now)
	s.mu.Unlock()

	for _, key := range expired {
		s.log.Debug("key expired", zap.String("key", key))
	}
	for _, c := range idleConns {
		s.log.Debug("connection idle timeout", zap.String("conn_id", c.id.String()))
		c.nc.Close()
	}
}

// collectIdleConnsLocked detaches every connection past its idle
// deadline from the idle list and registry, returning them so the caller
// can close their sockets outside the lock. Must be called with s.mu held.
func (s *Server) collectIdleConnsLocked(nowMs int64) []*conn {
	var due []*conn
	for {
		c, elem, ok := s.idle.FrontElem()
		if !ok || c.lastActiveMs+s.idleTimeout.Milliseconds() > nowMs {
			break
		}
		s.idle.Remove(elem)
		c.inIdle = false
		delete(s.conns, c.id)
		due = append(due, c)
	}
	return due
}

// nextWakeDelay returns how long until the soonest TTL deadline or idle
// timeout, or ok=false if neither exists. Must be called with s.mu held.
func (s *Server) nextWakeDelay() (time.Duration, bool) {
	now := nowMs()
	has := false
	var best int64

	if deadline, ok := s.store.NextDeadline(); ok {
		best = deadline
		has = true
	}
	if front, ok := s.idle.Front(); ok {
		idleDeadline := front.lastActiveMs + s.idleTimeout.Milliseconds()
		if !has || idleDeadline < best {
			best = idleDeadline
			has = true
		}
	}
	if !has {
		return 0, false
	}

	delayMs := best - now
	if delayMs < 0 {
		delayMs = 0
	}
	return time.Duration(delayMs) * time.Millisecond, true
}

// ConnCount returns the number of currently-open connections, for the
// admin /stats endpoint.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// IdleListLen returns the idle list's current length.
func (s *Server) IdleListLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle.Len()
}

// arm stops and drains timer if necessary, then resets it to fire after d.
func arm(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}
