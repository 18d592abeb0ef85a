package httpd

import (
	"container/list"
	"crypto/tls"
	"log/slog"
	"net"
	"sync"

	"github.com/skyformat99/lib-nodepp/config"
	"github.com/skyformat99/lib-nodepp/emitter"
	"github.com/skyformat99/lib-nodepp/logx"
	"github.com/skyformat99/lib-nodepp/netstream"
	"github.com/skyformat99/lib-nodepp/reactor"
)

// Server owns a netstream.Listener and tracks every live Connection in a
// container/list.List for O(1) removal on "closed", generalizing
// HttpServerImpl::handle_connection (original/src/lib_http_server.cpp):
// "m_connections.emplace(...)" keeping an iterator for removal becomes
// list.List.PushBack's *list.Element here.
type Server struct {
	*emitter.Emitter

	listener *netstream.Listener
	log      *slog.Logger

	mu          sync.Mutex
	connections *list.List
}

// NewServer constructs a Server bound to reac for dispatch; tlsConf may
// be nil for plaintext HTTP.
func NewServer(reac *reactor.Reactor, tlsConf *tls.Config) *Server {
	s := &Server{
		Emitter:     emitter.New(0),
		listener:    netstream.NewListener(reac, tlsConf),
		log:         logx.Component("httpd.server"),
		connections: list.New(),
	}
	s.listener.AddListener("connection", func(args ...any) {
		stream, ok := args[0].(*netstream.Stream)
		if !ok {
			return
		}
		s.handleConnection(stream)
	})
	s.listener.AddListener("error", func(args ...any) { s.Emit("error", args...) })
	s.listener.AddListener("listening", func(args ...any) { s.Emit("listening", args...) })
	s.listener.AddListener("closed", func(args ...any) { s.Emit("closed") })
	return s
}

// Listen binds the server's listener and starts accepting connections.
func (s *Server) Listen(addr string, ipVersion config.IPVersion, backlog int) error {
	return s.listener.Listen(addr, ipVersion, backlog)
}

func (s *Server) handleConnection(stream *netstream.Stream) {
	conn := NewConnection(stream)

	s.mu.Lock()
	elem := s.connections.PushBack(conn)
	s.mu.Unlock()

	conn.AddListener("closed", func(args ...any) {
		s.mu.Lock()
		s.connections.Remove(elem)
		s.mu.Unlock()
	})
	conn.AddListener("error", func(args ...any) { s.Emit("error", args...) })
	conn.AddListener("request_made", func(args ...any) { s.Emit("request_made", args...) })
	conn.AddListener("client_error", func(args ...any) { s.Emit("client_error", args...) })

	conn.Start()
	s.log.Debug("client connected")
	s.Emit("client_connected", conn)
}

// ConnectionCount reports the number of currently tracked live
// connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections.Len()
}

// Close stops accepting new connections and closes every tracked
// connection's stream.
func (s *Server) Close() error {
	err := s.listener.Close()

	s.mu.Lock()
	var streams []*netstream.Stream
	for e := s.connections.Front(); e != nil; e = e.Next() {
		streams = append(streams, e.Value.(*Connection).Stream())
	}
	s.mu.Unlock()

	for _, st := range streams {
		st.Close(true)
	}
	return err
}

// Addr returns the bound local address, or nil before Listen succeeds.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
