package netstream

import (
	"crypto/tls"
	"fmt"
	"os"

	"github.com/skyformat99/lib-nodepp/xerr"
)

// TLSConfig mirrors the external TLS configuration record from the
// toolkit's wire-protocol contract: all fields are optional filesystem
// paths. No example repo in the retrieved corpus ships TLS handling, so
// this leans directly on the standard library's crypto/tls rather than a
// third-party TLS library — there is no ecosystem alternative to ground
// this on.
type TLSConfig struct {
	CAVerifyFile         string
	CertificateChainFile string
	PrivateKeyFile       string
}

// Resolve validates that every configured path exists and loads the
// certificate/key pair, failing at construction time rather than at the
// first handshake — one of the toolkit's supplemented behaviors (the
// original only discovers a missing file when OpenSSL first touches it).
func (c *TLSConfig) Resolve() (*tls.Config, error) {
	if c == nil {
		return nil, nil
	}
	for _, path := range []string{c.CAVerifyFile, c.CertificateChainFile, c.PrivateKeyFile} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("netstream: tls path %s: %w", path, err)
		}
	}
	if c.CertificateChainFile == "" || c.PrivateKeyFile == "" {
		return &tls.Config{}, nil
	}
	cert, err := tls.LoadX509KeyPair(c.CertificateChainFile, c.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("netstream: load key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// EncryptionOn reports whether s wraps a *tls.Conn, matching the
// original's encryption_on() query.
func (s *Stream) EncryptionOn() bool {
	_, ok := s.conn.(*tls.Conn)
	return ok
}

// HandshakeRole selects which side of the TLS handshake AsyncHandshake
// performs.
type HandshakeRole int

const (
	HandshakeServer HandshakeRole = iota
	HandshakeClient
)

// AsyncHandshake drives the TLS handshake on the reactor, emitting
// "secure_connection" on success or "error" on failure. conn must
// already be a *tls.Conn (constructed by the listener or Connect with a
// non-nil TLSConfig).
func (s *Stream) AsyncHandshake(role HandshakeRole) error {
	tconn, ok := s.conn.(*tls.Conn)
	if !ok {
		return fmt.Errorf("netstream: AsyncHandshake requires a TLS-wrapped stream")
	}
	return s.reac.Go(func() {
		if err := tconn.Handshake(); err != nil {
			s.Emit("error", xerr.Wrap("netstream: tls handshake", err))
			return
		}
		s.Emit("secure_connection", role)
	})
}
