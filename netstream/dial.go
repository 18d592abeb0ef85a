package netstream

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/skyformat99/lib-nodepp/reactor"
)

// Connect dials host:port and returns a Stream wrapping the connection,
// matching the original's client-side connect(). If tlsConf is non-nil
// the connection is upgraded to TLS and the handshake completes before
// Connect returns, mirroring Dial's synchronous-connect-then-async-I/O
// shape used throughout the rest of this package.
func Connect(ctx context.Context, host string, port int, tlsConf *tls.Config, reac *reactor.Reactor) (*Stream, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tlsConf != nil {
		tconn := tls.Client(conn, tlsConf)
		if err := tconn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tconn
	}
	return New(conn, reac), nil
}
