package netstream

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/skyformat99/lib-nodepp/config"
	"github.com/skyformat99/lib-nodepp/emitter"
	"github.com/skyformat99/lib-nodepp/logx"
	"github.com/skyformat99/lib-nodepp/reactor"
	"github.com/skyformat99/lib-nodepp/xerr"
)

// ListenerState tracks the acceptor's lifecycle, matching the original
// design's unbound -> bound -> listening -> closed progression.
type ListenerState int32

const (
	StateUnbound ListenerState = iota
	StateBound
	StateListening
	StateClosed
)

func (s ListenerState) String() string {
	switch s {
	case StateBound:
		return "bound"
	case StateListening:
		return "listening"
	case StateClosed:
		return "closed"
	default:
		return "unbound"
	}
}

// EndPoint is the bound local address reported on the "listening" event
// — a supplemented feature: the original only signals that listening
// succeeded, not what address/port the OS actually bound (relevant when
// port 0 requests an ephemeral port).
type EndPoint struct {
	Network string
	Address string
}

// Listener is the toolkit's non-blocking TCP/TLS acceptor. Each accepted
// connection is wrapped in a *Stream and delivered via the "connection"
// event, mirroring the original's on_connection callback plus the
// teacher's accept-then-wrap pattern (internal/transport/websocket_listener.go).
type Listener struct {
	*emitter.Emitter

	reac    *reactor.Reactor
	tlsConf *tls.Config
	log     *slog.Logger

	state int32 // ListenerState, atomic

	ln net.Listener
}

// NewListener constructs an unbound Listener. If tlsConf is non-nil,
// accepted connections are wrapped in TLS before the "connection" event
// fires, and the handshake must complete (see handleAccepted's gating)
// before any data is read.
func NewListener(reac *reactor.Reactor, tlsConf *tls.Config) *Listener {
	return &Listener{
		Emitter: emitter.New(0),
		reac:    reac,
		tlsConf: tlsConf,
		log:     logx.Component("listener"),
		state:   int32(StateUnbound),
	}
}

// State returns the acceptor's current lifecycle state.
func (l *Listener) State() ListenerState {
	return ListenerState(atomic.LoadInt32(&l.state))
}

// Listen binds and starts accepting on addr, honoring ipVersion
// (ipv4, ipv6, or ipv4_v6 — dual-stack); backlog is accepted but not
// applied (see the note below networkFor). Connections are
// delivered asynchronously via the "connection" event; this call
// returns as soon as the listening socket is bound. TLS handshakes (if
// configured) gate the "connection" event: it fires only once the
// handshake completes, per the original's behavior of only exposing a
// readable stream after encryption is established.
func (l *Listener) Listen(addr string, ipVersion config.IPVersion, backlog int) error {
	if !atomic.CompareAndSwapInt32(&l.state, int32(StateUnbound), int32(StateBound)) {
		return fmt.Errorf("netstream: Listen called in state %s", l.State())
	}

	network := networkFor(ipVersion)
	lc := net.ListenConfig{}
	raw, err := lc.Listen(context.Background(), network, addr)
	if err != nil {
		atomic.StoreInt32(&l.state, int32(StateUnbound))
		return xerr.Wrap("netstream: listen", err).Add("address", addr)
	}
	l.ln = raw
	atomic.StoreInt32(&l.state, int32(StateListening))

	l.Emit("listening", EndPoint{Network: network, Address: l.ln.Addr().String()})
	// acceptLoop blocks indefinitely in Accept; it runs on its own
	// goroutine rather than through the reactor pool for the same reason
	// ReadAsync's loop does (see netstream.Stream.ReadAsync) — an
	// acceptor that never returns would permanently occupy a reactor
	// worker and, in Single mode, starve every TLS handshake dispatched
	// after it for the process's lifetime.
	go l.acceptLoop()
	return nil
}

func networkFor(v config.IPVersion) string {
	switch v {
	case config.IPv6:
		return "tcp6"
	case config.IPDual:
		return "tcp"
	default:
		return "tcp4"
	}
}

// Go's net.ListenConfig does not expose a backlog knob directly — the OS
// backlog is applied at listen(2) time using the platform's default
// (typically net.core.somaxconn on Linux), and the backlog parameter
// here exists so callers can express the original's explicit
// max_backlog argument even though Go has nowhere to plumb it through.
// A net.ListenConfig.Control hook could set SO_REUSEADDR/custom queue
// depth per platform; this toolkit does not need that granularity today.

func (l *Listener) acceptLoop() {
	for {
		if l.State() == StateClosed {
			return
		}
		conn, err := l.ln.Accept()
		if err != nil {
			if l.State() == StateClosed {
				return
			}
			l.Emit("error", xerr.Wrap("netstream: accept", err))
			continue
		}
		l.handleAccepted(conn)
	}
}

func (l *Listener) handleAccepted(conn net.Conn) {
	if l.tlsConf != nil {
		tconn := tls.Server(conn, l.tlsConf)
		stream := New(tconn, l.reac)
		_ = stream.AsyncHandshake(HandshakeServer)
		stream.AddListener("secure_connection", func(args ...any) {
			l.Emit("connection", stream)
		})
		stream.AddListener("error", func(args ...any) {
			l.Emit("error", args...)
		})
		return
	}
	l.Emit("connection", New(conn, l.reac))
}

// Close stops accepting new connections. Already-accepted streams are
// unaffected.
func (l *Listener) Close() error {
	if !atomic.CompareAndSwapInt32(&l.state, int32(StateListening), int32(StateClosed)) {
		if l.State() != StateClosed {
			atomic.StoreInt32(&l.state, int32(StateClosed))
		} else {
			return nil
		}
	}
	if l.ln == nil {
		return nil
	}
	err := l.ln.Close()
	l.Emit("closed")
	return err
}

// Addr returns the bound local address, or nil before Listen succeeds.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}
