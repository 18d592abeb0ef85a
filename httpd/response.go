// Package httpd implements the toolkit's HTTP/1.x server layer: a
// connection that parses exactly one request per socket (no keep-alive —
// "connection reuse across requests" is an explicit non-goal) and a
// response with strict status-then-headers-then-body send ordering,
// generalizing the original C++ HttpServerResponseImpl
// (lib_http_server_response.cpp) and HttpServerConnectionImpl
// (lib_http_connection.cpp) onto netstream.Stream.
//
// Request-line and header grammar is parsed with net/http.ReadRequest —
// spec.md explicitly defers "HTTP parser grammar internals" to an
// external collaborator, and net/http is that collaborator in Go; no
// third-party HTTP parser appears anywhere in the retrieved corpus.
package httpd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/skyformat99/lib-nodepp/netstream"
)

// header is one ordered, possibly-duplicated response header pair —
// net/http.Header is a map and would dedupe/reorder, so Response keeps
// its own ordered list, the same strategy xerr.Error uses for context
// pairs.
type header struct {
	Name  string
	Value string
}

// Response buffers a single HTTP/1.x response and sends it in the
// mandatory status -> headers -> body order, matching the one-way
// statusSent/headersSent/bodySent flags from the original.
type Response struct {
	stream *netstream.Stream

	ProtoMajor int
	ProtoMinor int

	statusCode int
	statusMsg  string
	headers    []header
	body       []byte

	statusSent  bool
	headersSent bool
	bodySent    bool
	rawBody     bool // set by PrepareRawWrite: body bytes stream directly, bypassing the buffered body field
}

// NewResponse constructs a Response with the default HTTP/1.1 status
// line (200 OK) pending.
func NewResponse(stream *netstream.Stream) *Response {
	return &Response{
		stream:     stream,
		ProtoMajor: 1,
		ProtoMinor: 1,
		statusCode: http.StatusOK,
		statusMsg:  http.StatusText(http.StatusOK),
	}
}

// SetStatus sets the response's status line. An empty msg falls back to
// the standard reason phrase for code.
func (r *Response) SetStatus(code int, msg string) {
	r.statusCode = code
	if msg == "" {
		msg = http.StatusText(code)
	}
	r.statusMsg = msg
}

// SetHeader appends a header pair; duplicates are permitted and
// preserved in insertion order.
func (r *Response) SetHeader(name, value string) {
	r.headers = append(r.headers, header{Name: name, Value: value})
}

// Write appends data to the buffered response body. It does not send
// anything on the wire until Send or End is called.
func (r *Response) Write(data []byte) (int, error) {
	if r.bodySent {
		return 0, fmt.Errorf("httpd: response body already sent")
	}
	r.body = append(r.body, data...)
	return len(data), nil
}

// WriteFile loads path's contents into the body buffer via the
// stream's memory-mapped file read, matching the original's
// write_file — unlike WriteFromFile on the stream itself, this buffers
// into body rather than writing immediately, so headers computed from
// the final body length (Content-Length) stay correct.
func (r *Response) WriteFile(path string) error {
	data, cleanup, err := netstream.ReadFileForResponse(path)
	if err != nil {
		return err
	}
	defer cleanup()
	_, err = r.Write(data)
	return err
}

func gmtTimestamp() string {
	return time.Now().UTC().Format(http.TimeFormat)
}

// sendStatus writes the status line if not already sent.
func (r *Response) sendStatus() error {
	if r.statusSent {
		return nil
	}
	r.statusSent = true
	line := fmt.Sprintf("HTTP/%d.%d %d %s\r\n", r.ProtoMajor, r.ProtoMinor, r.statusCode, r.statusMsg)
	return r.stream.AsyncWrite([]byte(line))
}

// sendHeaders writes the header block (auto-inserting Date if absent)
// if not already sent. sendStatus must have run first.
func (r *Response) sendHeaders() error {
	if r.headersSent {
		return nil
	}
	if err := r.sendStatus(); err != nil {
		return err
	}
	r.headersSent = true

	if _, ok := r.getHeader("Date"); !ok {
		r.headers = append([]header{{Name: "Date", Value: gmtTimestamp()}}, r.headers...)
	}
	var buf []byte
	for _, h := range r.headers {
		buf = append(buf, []byte(h.Name+": "+h.Value+"\r\n")...)
	}
	return r.stream.AsyncWrite(buf)
}

func (r *Response) getHeader(name string) (string, bool) {
	for _, h := range r.headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

// sendBody writes the Content-Length header, the blank-line separator,
// then the buffered body, if not already sent.
func (r *Response) sendBody() error {
	if r.bodySent {
		return nil
	}
	if _, ok := r.getHeader("Content-Length"); !r.rawBody && !ok {
		r.SetHeader("Content-Length", fmt.Sprintf("%d", len(r.body)))
	}
	if err := r.sendHeaders(); err != nil {
		return err
	}
	r.bodySent = true
	if r.rawBody {
		return nil
	}
	return r.stream.AsyncWrite(append([]byte("\r\n"), r.body...))
}

// PrepareRawWrite forces the status line and headers to be sent
// immediately (with a Content-Length of contentLength), after which the
// caller streams the body directly via WriteRaw —
// matching the original's prepare_raw_write, used when the body is
// produced incrementally rather than buffered up front.
func (r *Response) PrepareRawWrite(contentLength int) error {
	r.rawBody = true
	r.SetHeader("Content-Length", fmt.Sprintf("%d", contentLength))
	if err := r.sendHeaders(); err != nil {
		return err
	}
	r.bodySent = true
	return r.stream.AsyncWrite([]byte("\r\n"))
}

// WriteRaw writes body bytes directly to the wire; valid only after
// PrepareRawWrite.
func (r *Response) WriteRaw(data []byte) error {
	if !r.rawBody {
		return fmt.Errorf("httpd: WriteRaw requires PrepareRawWrite first")
	}
	return r.stream.AsyncWrite(data)
}

// Send sends whichever of status/headers/body has not yet been sent, in
// order, returning true if it sent anything.
func (r *Response) Send() bool {
	sentAnything := !r.statusSent || !r.headersSent || (!r.bodySent && !r.rawBody)
	r.sendBody()
	return sentAnything
}

// End writes a final chunk (if non-nil), sends any unsent phase, then
// calls Stream.End, after which the stream accepts no further writes;
// the connection itself is not shut down for writing. This follows the
// original's end([data]) sequence: write(data); send(); socket->end().
func (r *Response) End(data []byte) error {
	if data != nil {
		if _, err := r.Write(data); err != nil {
			return err
		}
	}
	r.Send()
	return r.stream.End(nil)
}

// Close sends the response (unless sendResponse is false) and closes the
// underlying stream.
func (r *Response) Close(sendResponse bool) error {
	if sendResponse {
		r.Send()
	}
	return r.stream.Close(true)
}

// Reset clears all sent-flags, headers and body, letting the same
// Response be reused for a different status/body — matching the
// original's reset().
func (r *Response) Reset() {
	r.statusCode = http.StatusOK
	r.statusMsg = http.StatusText(http.StatusOK)
	r.headers = nil
	r.body = nil
	r.statusSent = false
	r.headersSent = false
	r.bodySent = false
	r.rawBody = false
}

// CreateHTTPServerErrorResponse sends a minimal default response for
// code (status line, Content-Type: text/plain, Connection: close, body
// "{code} {message}\r\n") and closes the connection once those writes
// have completed, matching the original's create_http_server_error_response.
func CreateHTTPServerErrorResponse(r *Response, code int) error {
	r.SetStatus(code, "")
	r.SetHeader("Content-Type", "text/plain")
	r.SetHeader("Connection", "close")
	body := fmt.Sprintf("%d %s\r\n", code, http.StatusText(code))
	r.body = []byte(body)
	r.SetHeader("Content-Length", fmt.Sprintf("%d", len(body)))
	r.Send()
	r.stream.Once("all_writes_completed", func(args ...any) { r.stream.Close(true) })
	if r.stream.PendingWrites() == 0 {
		return r.stream.Close(true)
	}
	return nil
}
