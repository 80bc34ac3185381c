//go:build linux

// Package gateway is the network front door of the trip planner: a
// single-goroutine poll(2) event loop that accepts one-shot HTTP GET
// requests, forwards each query to the broker channel, and writes the
// broker's reply back to the originating socket before closing it.
package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/adred-codev/tripgate/internal/broker"
	"github.com/adred-codev/tripgate/internal/config"
	"github.com/adred-codev/tripgate/internal/metrics"
)

// Fixed poll set layout: wake pipe, listener, then one entry per open
// connection. Connection i is always at index connOffset+i.
const (
	pollWake     = 0
	pollListener = 1
	connOffset   = 2
)

// Response literals, byte-exact with the classic OTP API shim so existing
// clients keep working. LF line endings are deliberate.
const (
	okTextPlain = "HTTP/1.0 200 OK\nContent-Type:text/plain\n\n"
	error404    = "HTTP/1.0 404 Not Found\nContent-Type:text/plain\n\nFOUR ZERO FOUR\n"
)

// Gateway owns the listener, the connection table, and the broker wake
// pipe. Everything socket-shaped is touched only from the Run goroutine;
// the one crossing point is the pending reply queue, fed by a forwarder
// goroutine that wakes the poll loop through the pipe.
type Gateway struct {
	cfg   config.Config
	log   zerolog.Logger
	ch    broker.Channel
	table *connTable

	listenFd     int
	wakeR, wakeW int
	addr         string

	pending chan broker.Reply

	// awaiting tracks connections whose request is in flight at the
	// broker, keyed by the correlation handle (the socket fd). Their
	// table slots are gone; this map is what keeps them from leaking and
	// what stops a stray reply from hitting a recycled fd.
	awaiting map[int32]time.Time

	limiter *rate.Limiter // nil when accept rate limiting is off

	closing  atomic.Bool
	quit     chan struct{}
	fwdDone  chan struct{}
	done     chan struct{}
	shutOnce sync.Once
}

// New binds the listener and prepares the event loop. The broker channel
// is owned by the gateway from here on and closed during shutdown.
func New(cfg config.Config, log zerolog.Logger, ch broker.Channel) (*Gateway, error) {
	listenFd, err := listen(cfg.Port, cfg.Backlog)
	if err != nil {
		return nil, err
	}
	addr, err := boundAddr(listenFd)
	if err != nil {
		unix.Close(listenFd)
		return nil, err
	}

	var pipeFds [2]int
	if err := unix.Pipe2(pipeFds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(listenFd)
		return nil, err
	}

	g := &Gateway{
		cfg:      cfg,
		log:      log,
		ch:       ch,
		listenFd: listenFd,
		wakeR:    pipeFds[0],
		wakeW:    pipeFds[1],
		addr:     addr,
		table:    newConnTable(cfg.MaxConns, cfg.BufferSize, pipeFds[0], listenFd),
		pending:  make(chan broker.Reply, 1024),
		awaiting: make(map[int32]time.Time),
		quit:     make(chan struct{}),
		fwdDone:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	if cfg.AcceptRate > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), cfg.AcceptBurst)
	}

	metrics.ConnectionsMax.Set(float64(cfg.MaxConns))
	log.Info().
		Str("addr", addr).
		Int("max_connections", cfg.MaxConns).
		Int("buffer_size", cfg.BufferSize).
		Int("backlog", cfg.Backlog).
		Msg("gateway listening")

	return g, nil
}

// Addr reports the bound listener address, useful when Port was 0.
func (g *Gateway) Addr() string { return g.addr }

// Run drives the event loop until Shutdown is called or the poll call
// fails unrecoverably. Each iteration handles, in fixed priority order:
// broker replies, one queued accept, then every readable connection; the
// removal batch collected along the way is applied once at the end.
func (g *Gateway) Run() error {
	go g.forwardReplies()

	defer func() {
		close(g.quit)
		<-g.fwdDone
		g.ch.Close()
		for fd := range g.awaiting {
			unix.Close(int(fd))
		}
		g.table.closeAll()
		unix.Close(g.listenFd)
		unix.Close(g.wakeR)
		unix.Close(g.wakeW)
		metrics.ConnectionsActive.Set(0)
		close(g.done)
	}()

	for {
		if g.closing.Load() {
			g.log.Info().Msg("gateway shutting down")
			return nil
		}

		// Backpressure: stop watching the listener while the table is
		// full, so pending connections queue in the kernel backlog
		// instead of overflowing the table.
		fds := g.table.pollSet()
		if g.table.full() {
			fds[pollListener].Events = 0
		} else {
			fds[pollListener].Events = unix.POLLIN
		}

		ready, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			g.log.Error().Err(err).Msg("poll failed, terminating")
			return err
		}

		if fds[pollWake].Revents&unix.POLLIN != 0 {
			g.drainWakePipe()
			g.deliverReplies()
			ready--
		}

		if fds[pollListener].Revents&unix.POLLIN != 0 {
			g.acceptOne()
			ready--
		}

		// Iterate the snapshot taken before poll: a connection accepted
		// above sits past its end and is picked up next iteration.
		for i := 0; i < len(fds)-connOffset && ready > 0; i++ {
			if fds[connOffset+i].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
				g.handleReadable(i)
				ready--
			}
		}

		g.table.drainRemovals()
		metrics.ConnectionsActive.Set(float64(g.table.count()))
	}
}

// Shutdown asks the loop to exit and waits for every socket to be closed.
func (g *Gateway) Shutdown() {
	g.shutOnce.Do(func() {
		g.closing.Store(true)
		g.wake()
	})
	<-g.done
}

// forwardReplies moves broker replies into the loop's pending queue and
// kicks the wake pipe. It is the only goroutine besides Run, and it never
// touches sockets or the table.
func (g *Gateway) forwardReplies() {
	defer close(g.fwdDone)
	for {
		select {
		case r, ok := <-g.ch.Replies():
			if !ok {
				return
			}
			select {
			case g.pending <- r:
				g.wake()
			default:
				metrics.RepliesDropped.WithLabelValues("queue_full").Inc()
				g.log.Warn().Int32("handle", r.Handle).Msg("pending reply queue full, dropping reply")
			}
		case <-g.quit:
			return
		}
	}
}

func (g *Gateway) wake() {
	_, _ = unix.Write(g.wakeW, []byte{1})
}

func (g *Gateway) drainWakePipe() {
	var sink [64]byte
	for {
		n, err := unix.Read(g.wakeR, sink[:])
		if err != nil || n < len(sink) {
			return
		}
	}
}

// deliverReplies writes out every decoded reply queued so far and closes
// the target sockets. A reply whose handle is not awaiting one is dropped:
// its connection was already torn down by another path.
func (g *Gateway) deliverReplies() {
	for {
		select {
		case r := <-g.pending:
			g.deliver(r)
		default:
			return
		}
	}
}

func (g *Gateway) deliver(r broker.Reply) {
	dispatched, ok := g.awaiting[r.Handle]
	if !ok {
		metrics.RepliesDropped.WithLabelValues("no_target").Inc()
		g.log.Warn().Int32("handle", r.Handle).Msg("reply target vanished, dropping reply")
		return
	}
	delete(g.awaiting, r.Handle)

	fd := int(r.Handle)
	if err := writeAll(fd, []byte(okTextPlain)); err != nil {
		g.log.Warn().Err(err).Int("fd", fd).Msg("failed writing reply preamble")
	} else if err := writeAll(fd, r.Body); err != nil {
		g.log.Warn().Err(err).Int("fd", fd).Msg("failed writing reply body")
	} else {
		metrics.RepliesDelivered.Inc()
		metrics.BytesWritten.Add(float64(len(okTextPlain) + len(r.Body)))
	}
	unix.Close(fd)

	g.log.Debug().
		Int32("handle", r.Handle).
		Int("reply_bytes", len(r.Body)).
		Dur("broker_latency", time.Since(dispatched)).
		Msg("reply delivered")
}

// acceptOne admits a single queued connection into the table. The loop
// only watches the listener while capacity remains, so a full table here
// means a bookkeeping bug, not load.
func (g *Gateway) acceptOne() {
	fd, err := acceptConn(g.listenFd)
	if err != nil {
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			g.log.Error().Err(err).Msg("accept failed")
		}
		return
	}

	if g.limiter != nil && !g.limiter.Allow() {
		metrics.ConnectionsRejected.WithLabelValues("rate_limited").Inc()
		g.log.Debug().Int("fd", fd).Msg("accept rate limit exceeded, dropping connection")
		unix.Close(fd)
		return
	}

	slot, err := g.table.add(int32(fd))
	if err != nil {
		metrics.ConnectionsRejected.WithLabelValues("capacity").Inc()
		g.log.Warn().Int("fd", fd).Msg("connection table full, dropping accepted connection")
		unix.Close(fd)
		return
	}

	metrics.ConnectionsAccepted.Inc()
	g.log.Debug().Int("fd", fd).Int("slot", slot).Int("active", g.table.count()).Msg("connection accepted")
}

// handleReadable reads whatever slot i has pending and advances its
// request. Readiness with a zero-byte read means the peer closed.
func (g *Gateway) handleReadable(i int) {
	c := g.table.conn(i)
	if c.closing {
		return
	}
	fd := int(c.fd)

	spare := c.buf[len(c.buf):cap(c.buf)]
	n, err := unix.Read(fd, spare)
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		return
	case err != nil:
		g.log.Debug().Err(err).Int("fd", fd).Msg("read failed, closing connection")
		unix.Close(fd)
		g.table.scheduleRemove(i)
		return
	case n == 0:
		g.log.Debug().Int("fd", fd).Msg("peer closed connection")
		unix.Close(fd)
		g.table.scheduleRemove(i)
		return
	}

	c.buf = c.buf[:len(c.buf)+n]
	metrics.BytesRead.Add(float64(n))

	line, done := completeLine(c.buf, n)
	if !done {
		if len(c.buf) == cap(c.buf) {
			g.log.Debug().Int("fd", fd).Msg("request line exceeds buffer, rejecting")
			g.reject(i, "too_long")
		}
		return
	}

	g.dispatch(i, string(line))
}

// dispatch validates a completed request line. A well-formed request goes
// to the broker and the connection leaves the poll set with its socket
// open, awaiting the reply; anything else gets the 404 literal and an
// immediate close. Both paths converge on the same idempotent removal
// scheduling.
func (g *Gateway) dispatch(i int, line string) {
	c := g.table.conn(i)

	query, err := parseRequestLine(line)
	if err != nil {
		var reason string
		switch err {
		case errBadMethod:
			reason = "method"
		case errNoResource:
			reason = "resource"
		default:
			reason = "query"
		}
		g.log.Debug().Int32("fd", c.fd).Str("line", line).Str("reason", reason).Msg("malformed request")
		g.reject(i, reason)
		return
	}

	record, err := broker.BuildRecord(query)
	if err != nil {
		g.log.Debug().Int32("fd", c.fd).Int("query_len", len(query)).Msg("query too long for plan record")
		g.reject(i, "query_too_long")
		return
	}

	if err := g.ch.Send(c.fd, record); err != nil {
		metrics.BrokerSendErrors.Inc()
		g.log.Error().Err(err).Int32("fd", c.fd).Msg("broker send failed")
		g.reject(i, "broker_unavailable")
		return
	}

	// Request is in flight: drop the table slot but keep the socket open
	// until the reply comes back under this handle.
	g.awaiting[c.fd] = time.Now()
	g.table.scheduleRemove(i)
	metrics.RequestsForwarded.Inc()
	g.log.Debug().Int32("fd", c.fd).Str("query", query).Msg("request forwarded to broker")
}

// reject answers slot i with the 404 literal, closes it, and schedules
// its removal.
func (g *Gateway) reject(i int, reason string) {
	c := g.table.conn(i)
	fd := int(c.fd)
	if err := writeAll(fd, []byte(error404)); err != nil {
		g.log.Debug().Err(err).Int("fd", fd).Msg("failed writing 404")
	} else {
		metrics.BytesWritten.Add(float64(len(error404)))
	}
	unix.Close(fd)
	g.table.scheduleRemove(i)
	metrics.RequestsMalformed.WithLabelValues(reason).Inc()
}

// writeAll pushes the whole buffer out, retrying short writes. Responses
// are at most a few KiB, so kernel buffers absorb them; a socket that
// still reports EAGAIN gets a handful of brief retries rather than
// stalling the loop indefinitely.
func writeAll(fd int, data []byte) error {
	retries := 0
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			if retries++; retries > 10 {
				return err
			}
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
