package httpd

import (
	"bufio"
	"bytes"
	"net/http"

	"github.com/skyformat99/lib-nodepp/emitter"
	"github.com/skyformat99/lib-nodepp/logx"
	"github.com/skyformat99/lib-nodepp/netstream"
)

// Connection owns one accepted *netstream.Stream and parses exactly one
// HTTP request from it, generalizing HttpServerConnectionImpl::start()
// (original/src/lib_http_connection.cpp): wire a one-shot parse attempt,
// emit "request_made" on success or "client_error" + a default error
// response on failure, and forward the stream's "closed" event.
//
// Connection reuse across requests is an explicit non-goal (SPEC_FULL.md
// §9), so there is no keep-alive loop here — one Connection, one
// request/response cycle.
type Connection struct {
	*emitter.Emitter

	stream *netstream.Stream
}

// NewConnection wraps an accepted stream. Start must be called to begin
// parsing.
func NewConnection(stream *netstream.Stream) *Connection {
	c := &Connection{
		Emitter: emitter.New(0),
		stream:  stream,
	}
	stream.AddListener("error", func(args ...any) { c.Emit("error", args...) })
	stream.AddListener("closed", func(args ...any) { c.Emit("closed") })
	return c
}

// Stream returns the underlying socket stream.
func (c *Connection) Stream() *netstream.Stream { return c.stream }

// Start subscribes once to the stream's "data_received" event, puts the
// stream into double-newline read mode, and starts the read loop — the
// request/header block is parsed inside the first "data_received"
// delivery, not by blocking directly on the stream's reader.
func (c *Connection) Start() {
	c.stream.Once("data_received", func(args ...any) {
		buf, _ := args[0].([]byte)
		c.handleRequestBlock(buf)
	})
	c.stream.SetReadMode(netstream.ModeDoubleNewline)
	c.stream.ReadAsync()
}

func (c *Connection) handleRequestBlock(buf []byte) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(buf)))
	if err != nil {
		resp := NewResponse(c.stream)
		if cerr := CreateHTTPServerErrorResponse(resp, http.StatusBadRequest); cerr != nil {
			logx.Component("httpd").Warn("failed to send error response", "error", cerr)
		}
		c.Emit("client_error", err)
		return
	}
	resp := NewResponse(c.stream)
	c.Emit("request_made", req, resp)
	// One request per connection (no keep-alive, see package doc): once
	// every "request_made" listener has returned, close the connection
	// — but not before its async writes actually land on the wire.
	c.closeAfterPendingWrites()
}

// closeAfterPendingWrites closes the stream once its write-coalescing
// semaphore reaches zero. If it is already at zero, it closes
// immediately; Stream.Close is idempotent, so a handler that already
// closed explicitly (e.g. CreateHTTPServerErrorResponse) is harmless.
func (c *Connection) closeAfterPendingWrites() {
	var id emitter.ListenerID
	done := func() {
		c.stream.RemoveListener("all_writes_completed", id)
		c.stream.Close(true)
	}
	id = c.stream.AddListener("all_writes_completed", func(args ...any) { done() })
	if c.stream.PendingWrites() == 0 {
		done()
	}
}
