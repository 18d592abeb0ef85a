package httpd

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/skyformat99/lib-nodepp/config"
	"github.com/skyformat99/lib-nodepp/reactor"
)

func newTestServer(t *testing.T) (*Server, *reactor.Reactor) {
	t.Helper()
	reac := reactor.New(reactor.OnePerCore)
	if err := reac.Start(); err != nil {
		t.Fatalf("reactor Start: %v", err)
	}
	t.Cleanup(func() { reac.Stop() })

	srv := NewServer(reac, nil)
	listening := make(chan struct{})
	srv.AddListener("listening", func(args ...any) { close(listening) })
	if err := srv.Listen("127.0.0.1:0", config.IPv4, 128); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	select {
	case <-listening:
	case <-time.After(time.Second):
		t.Fatal("listening event never fired")
	}
	t.Cleanup(func() { srv.Close() })
	return srv, reac
}

func TestServerRespondsToSimpleRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.AddListener("request_made", func(args ...any) {
		req := args[0].(*http.Request)
		resp := args[1].(*Response)
		if req.URL.Path != "/hello" {
			resp.SetStatus(http.StatusNotFound, "")
			resp.End(nil)
			return
		}
		resp.SetHeader("Content-Type", "text/plain")
		resp.End([]byte("hi there"))
	})

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	fmt.Fprintf(conn, "GET /hello HTTP/1.1\r\nHost: test\r\n\r\n")

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/plain" {
		t.Fatalf("Content-Type = %q", got)
	}
	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	if string(buf[:n]) != "hi there" {
		t.Fatalf("body = %q, want %q", buf[:n], "hi there")
	}
}

func TestServerSendsDefault404ForUnknownPath(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.AddListener("request_made", func(args ...any) {
		resp := args[1].(*Response)
		resp.SetStatus(http.StatusNotFound, "")
		resp.End(nil)
	})

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	fmt.Fprintf(conn, "GET /nope HTTP/1.1\r\nHost: test\r\n\r\n")

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMalformedRequestYields400AndClientError(t *testing.T) {
	srv, _ := newTestServer(t)
	clientErr := make(chan struct{}, 1)
	srv.AddListener("client_error", func(args ...any) { clientErr <- struct{}{} })

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	fmt.Fprintf(conn, "NOT A REQUEST\r\n\r\n")

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	select {
	case <-clientErr:
	case <-time.After(time.Second):
		t.Fatal("client_error event never fired")
	}
}

func TestServerTracksConnectionCount(t *testing.T) {
	srv, _ := newTestServer(t)
	done := make(chan struct{})
	srv.AddListener("request_made", func(args ...any) {
		resp := args[1].(*Response)
		resp.End([]byte("ok"))
		close(done)
	})

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	fmt.Fprintf(conn, "GET / HTTP/1.1\r\nHost: test\r\n\r\n")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("request_made never fired")
	}

	deadline := time.Now().Add(time.Second)
	for srv.ConnectionCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := srv.ConnectionCount(); n != 0 {
		t.Fatalf("ConnectionCount = %d after close, want 0", n)
	}
}
