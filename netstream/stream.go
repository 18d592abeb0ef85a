// Package netstream implements the toolkit's socket-stream abstraction:
// a duplex, event-driven wrapper over net.Conn offering delimiter- and
// predicate-based reads, a write-completion semaphore, and TLS
// composition, generalizing the teacher's atomic-state connection
// wrapper (protocol/connection.go's WSConnection: atomic closed flag,
// recv/send loops, byte/frame counters) from a WebSocket frame pipe into
// the line/regex/predicate stream contract the toolkit's original
// C++ NetSocketStreamImpl exposes (lib_net_socket_stream.cpp).
//
// The TLS handshake (AsyncHandshake) is dispatched through a
// *reactor.Reactor; the read loop and the per-stream send loop each run
// on their own goroutine (see ReadAsync and ensureSendLoop).
package netstream

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/skyformat99/lib-nodepp/emitter"
	"github.com/skyformat99/lib-nodepp/logx"
	"github.com/skyformat99/lib-nodepp/reactor"
	"github.com/skyformat99/lib-nodepp/xerr"
)

// ReadMode selects how Stream frames incoming bytes before emitting
// "data_received", matching the original NetSocketStreamReadMode enum.
type ReadMode int

const (
	ModeNewline ReadMode = iota
	ModeDoubleNewline
	ModeBufferFull
	ModeValues
	ModeRegex
	ModePredicate
	ModeNextByte
)

var doubleNewlineRE = regexp.MustCompile(`(?:\r\n|\n){2}`)

// Predicate inspects the bytes read so far and returns the number of
// bytes that form a complete frame, or 0 if more data is needed.
type Predicate func(buffered []byte) (frameLen int)

// ErrNotImplemented is returned by operations the original design left
// unimplemented; ModeNextByte is one (see set_read_mode in the original
// header: "Read Until mode not implemented").
var ErrNotImplemented = errors.New("netstream: not implemented")

// ErrClosed is returned by Write/AsyncWrite operations attempted on a stream
// that has already been ended or closed.
var ErrClosed = errors.New("netstream: use of closed stream")

// readOptions bundles the read-mode configuration set via SetReadMode /
// SetReadPredicate / SetReadUntilValues.
type readOptions struct {
	mode        ReadMode
	maxReadSize int
	predicate   Predicate
	regex       *regexp.Regexp
	values      []string
}

// Stream is a duplex, event-emitting wrapper over a net.Conn.
type Stream struct {
	*emitter.Emitter

	conn net.Conn
	r    *bufio.Reader
	reac *reactor.Reactor
	log  *slog.Logger

	mu   sync.Mutex
	opts readOptions

	closed int32
	ended  int32

	bytesRead    int64
	bytesWritten int64

	writePending int64 // outstanding async writes (write-coalescing semaphore)

	outbox   chan writeJob
	sendOnce sync.Once
	closedCh chan struct{}

	// pending holds data buffered before any "data_received" listener
	// subscribes, drained exactly once when the first listener arrives.
	pendingMu  sync.Mutex
	pendingBuf []byte
	pendingEOF bool
	drained    bool

	readOnce sync.Once
}

// New wraps conn for event-driven reads/writes, dispatching async
// operations through reac.
func New(conn net.Conn, reac *reactor.Reactor) *Stream {
	s := &Stream{
		Emitter:  emitter.New(0),
		conn:     conn,
		r:        bufio.NewReader(conn),
		reac:     reac,
		log:      logx.Component("netstream"),
		opts:     readOptions{mode: ModeNewline, maxReadSize: 65536},
		closedCh: make(chan struct{}),
	}
	// The "listener_added" meta-event fires on every AddListener; use it
	// to drain any bytes that arrived before the first subscriber, per
	// the original handle_read's "drain response_buffers before new
	// data" contract.
	s.AddListener("listener_added", func(args ...any) {
		if len(args) == 0 {
			return
		}
		if ev, ok := args[0].(string); ok && ev == "data_received" {
			s.drainPending()
		}
	})
	return s
}

// Conn returns the underlying net.Conn, e.g. to adjust deadlines.
func (s *Stream) Conn() net.Conn { return s.conn }

// Reader exposes the stream's internal buffered reader for a caller that
// needs direct access outside the read-mode/event machinery above (e.g.
// diagnostics); ordinary framed consumption should go through
// SetReadMode/ReadAsync and "data_received" instead.
func (s *Stream) Reader() *bufio.Reader { return s.r }

// SetReadMode selects the framing strategy used by ReadAsync.
func (s *Stream) SetReadMode(mode ReadMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.mode = mode
}

// SetMaxReadSize bounds a single ModeBufferFull read.
func (s *Stream) SetMaxReadSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.maxReadSize = n
}

// SetReadPredicate installs a predicate used when mode is ModePredicate.
func (s *Stream) SetReadPredicate(p Predicate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.predicate = p
	s.opts.mode = ModePredicate
}

// SetReadRegex installs a terminator regex used when mode is ModeRegex.
func (s *Stream) SetReadRegex(re *regexp.Regexp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.regex = re
	s.opts.mode = ModeRegex
}

// SetReadUntilValues installs a set of literal terminator strings used
// when mode is ModeValues; the terminator whose match ends earliest in
// the buffered data wins (on a tie, the one listed first), as in the
// original's boost::asio::async_read_until(values) overload.
func (s *Stream) SetReadUntilValues(values []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.values = values
	s.opts.mode = ModeValues
}

// BytesRead returns the cumulative byte count delivered to data_received.
func (s *Stream) BytesRead() int64 { return atomic.LoadInt64(&s.bytesRead) }

// BytesWritten returns the cumulative byte count submitted to Write,
// counted eagerly at submission time, not at completion — matching the
// original's async_write, which increments m_bytes_written before the
// asio completion handler ever runs.
func (s *Stream) BytesWritten() int64 { return atomic.LoadInt64(&s.bytesWritten) }

// IsClosed reports whether Close has completed.
func (s *Stream) IsClosed() bool { return atomic.LoadInt32(&s.closed) == 1 }

// IsEnded reports whether End has been called.
func (s *Stream) IsEnded() bool { return atomic.LoadInt32(&s.ended) == 1 }

// ReadAsync starts (or continues) the read loop. It emits
// "data_received(buffer, eof)" once per framed chunk — eof is true iff
// the chunk ends in end-of-file — and "error" on failure. Calling
// ReadAsync more than once on the same Stream is a no-op beyond the
// first call — the loop re-arms itself after each successful frame.
//
// The loop runs on a dedicated goroutine rather than through the
// reactor's bounded dispatch pool: a blocking Read has no fixed
// completion time, and Go's runtime netpoller already multiplexes
// however many such goroutines are parked waiting for data across a
// small number of OS threads — that multiplexing is what the original's
// epoll-based reactor provided by hand. Routing an indefinite loop
// through reactor.Go's fixed-size pool instead would permanently pin a
// worker per connection and starve every other dispatch once the pool
// is exhausted (in Single mode, the very first blocked reader would
// stall every other stream's write completions). The reactor remains
// the dispatch point for the operation that actually completes —
// AsyncHandshake — where its Single/OnePerCore distinction meaningfully
// bounds concurrency instead of deadlocking it; AsyncWrite goes through
// the stream's own send loop (see ensureSendLoop).
func (s *Stream) ReadAsync() {
	s.readOnce.Do(func() {
		go s.readLoop()
	})
}

// readLoop re-arms itself after every frame until a non-EOF error
// occurs or the peer reaches end-of-file. On EOF it still delivers
// whatever partial frame was buffered (handle_read,
// lib_net_socket_stream.cpp:158-168, emits on bytes_transferred>0
// regardless of the error code) before stopping — it does not close the
// stream or emit any closed-style event on its own: the original never
// auto-closes on EOF either (lib_net_socket_stream.cpp:172-177), it
// simply stops re-reading. Closing remains the caller's decision.
func (s *Stream) readLoop() {
	for {
		if s.IsClosed() {
			return
		}
		s.mu.Lock()
		opts := s.opts
		s.mu.Unlock()

		frame, err := s.readFrame(opts)
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			s.Emit("error", xerr.Wrap("netstream: read", err))
			return
		}
		if len(frame) > 0 {
			atomic.AddInt64(&s.bytesRead, int64(len(frame)))
			s.deliver(frame, eof)
		}
		if eof {
			return
		}
	}
}

// deliver implements the pre-subscription buffering contract: with no
// "data_received" listener yet, bytes accumulate in pendingBuf; once a
// listener exists, bytes go straight to Emit.
func (s *Stream) deliver(frame []byte, eof bool) {
	if s.ListenerCount("data_received") == 0 {
		s.pendingMu.Lock()
		s.pendingBuf = append(s.pendingBuf, frame...)
		s.pendingEOF = eof
		s.pendingMu.Unlock()
		return
	}
	s.Emit("data_received", frame, eof)
}

// drainPending flushes any bytes buffered before the first
// "data_received" subscriber, as its own emission, ahead of whatever
// arrives next — matching handle_read's "drain buffered data before the
// new read" ordering.
func (s *Stream) drainPending() {
	s.pendingMu.Lock()
	if s.drained || len(s.pendingBuf) == 0 {
		s.pendingMu.Unlock()
		return
	}
	buf := s.pendingBuf
	eof := s.pendingEOF
	s.pendingBuf = nil
	s.drained = true
	s.pendingMu.Unlock()

	s.Emit("data_received", buf, eof)
}

func (s *Stream) readFrame(opts readOptions) ([]byte, error) {
	switch opts.mode {
	case ModeNewline:
		line, err := s.r.ReadBytes('\n')
		if len(line) == 0 {
			return nil, err
		}
		return line, err

	case ModeDoubleNewline:
		return s.readUntilRegex(doubleNewlineRE, opts.maxReadSize)

	case ModeBufferFull:
		max := opts.maxReadSize
		if max <= 0 {
			max = 65536
		}
		buf := make([]byte, max)
		n, err := s.r.Read(buf)
		if n == 0 {
			return nil, err
		}
		return buf[:n], err

	case ModeValues:
		if len(opts.values) == 0 {
			return nil, errors.New("netstream: ModeValues requires SetReadUntilValues")
		}
		return s.readUntilValues(opts.values, opts.maxReadSize)

	case ModeRegex:
		if opts.regex == nil {
			return nil, errors.New("netstream: ModeRegex requires SetReadRegex")
		}
		return s.readUntilRegex(opts.regex, opts.maxReadSize)

	case ModePredicate:
		if opts.predicate == nil {
			return nil, errors.New("netstream: ModePredicate requires SetReadPredicate")
		}
		return s.readUntilPredicate(opts.predicate, opts.maxReadSize)

	case ModeNextByte:
		return nil, ErrNotImplemented

	default:
		return nil, errors.New("netstream: unknown read mode")
	}
}

// readUntilRegex grows a buffer from the bufio.Reader until re matches,
// then returns the bytes through the match's end, pushing any remainder
// back via r.UnreadByte-style peeking (bufio.Reader's Peek lets us grow
// without consuming past the match).
func (s *Stream) readUntilRegex(re *regexp.Regexp, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = 65536
	}
	for n := 1; ; {
		peek, err := s.r.Peek(n)
		if loc := re.FindIndex(peek); loc != nil {
			s.r.Discard(loc[1])
			return peek[:loc[1]], nil
		}
		if err != nil {
			if len(peek) == 0 {
				return nil, err
			}
			if errors.Is(err, io.EOF) || errors.Is(err, bufio.ErrBufferFull) {
				s.r.Discard(len(peek))
				return peek, io.EOF
			}
			return nil, err
		}
		if n >= maxSize {
			break
		}
		// Widen to everything already buffered, or by one byte when nothing
		// more has arrived, so Peek never waits for bytes not yet sent.
		n = min(max(s.r.Buffered(), n+1), maxSize)
	}
	return nil, errors.New("netstream: frame exceeds max read size")
}

func (s *Stream) readUntilValues(values []string, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = 65536
	}
	for n := 1; ; {
		peek, err := s.r.Peek(n)
		best := -1
		for _, v := range values {
			if idx := bytes.Index(peek, []byte(v)); idx >= 0 {
				end := idx + len(v)
				if best == -1 || end < best {
					best = end
				}
			}
		}
		if best >= 0 {
			s.r.Discard(best)
			return peek[:best], nil
		}
		if err != nil {
			if len(peek) == 0 {
				return nil, err
			}
			return peek, io.EOF
		}
		if n >= maxSize {
			break
		}
		n = min(max(s.r.Buffered(), n+1), maxSize)
	}
	return nil, errors.New("netstream: frame exceeds max read size")
}

func (s *Stream) readUntilPredicate(p Predicate, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = 65536
	}
	for n := 1; ; {
		peek, err := s.r.Peek(n)
		if frameLen := p(peek); frameLen > 0 {
			s.r.Discard(frameLen)
			return peek[:frameLen], nil
		}
		if err != nil {
			if len(peek) == 0 {
				return nil, err
			}
			return peek, io.EOF
		}
		if n >= maxSize {
			break
		}
		n = min(max(s.r.Buffered(), n+1), maxSize)
	}
	return nil, errors.New("netstream: frame exceeds max read size")
}

// Write submits data synchronously on the calling goroutine, returning
// once the write syscall completes. bytes_written is credited before
// the write call, matching AsyncWrite's eager accounting.
func (s *Stream) Write(data []byte) (int, error) {
	if s.IsClosed() || s.IsEnded() {
		return 0, ErrClosed
	}
	atomic.AddInt64(&s.bytesWritten, int64(len(data)))
	n, err := s.conn.Write(data)
	if err != nil {
		s.Emit("error", xerr.Wrap("netstream: write", err))
	}
	return n, err
}

// writeJob is one queued chunk for the stream's dedicated send loop.
type writeJob struct {
	data    []byte
	cleanup func()
}

// ensureSendLoop lazily starts the stream's single writer goroutine,
// grounded on the teacher's WSConnection outbox/sendLoop pattern
// (protocol/connection.go). A dedicated goroutine — rather than routing
// writes through the shared reactor pool — is what keeps concurrent
// AsyncWrite calls from interleaving bytes on the wire: the reactor's
// OnePerCore mode runs dispatched callbacks on different goroutines in
// parallel, and two goroutines racing to conn.Write on the same
// connection would corrupt the byte stream (exactly the ordering HTTP's
// status-then-headers-then-body framing depends on). A single consumer
// draining a FIFO channel preserves submission order regardless of the
// reactor's threading mode.
func (s *Stream) ensureSendLoop() {
	s.sendOnce.Do(func() {
		s.outbox = make(chan writeJob, 64)
		go s.sendLoop()
	})
}

func (s *Stream) sendLoop() {
	for {
		select {
		case job := <-s.outbox:
			_, err := s.conn.Write(job.data)
			if job.cleanup != nil {
				job.cleanup()
			}
			remaining := atomic.AddInt64(&s.writePending, -1)
			if err != nil {
				s.Emit("error", xerr.Wrap("netstream: async write", err))
				continue
			}
			s.Emit("write_completion", len(job.data))
			if remaining == 0 {
				s.Emit("all_writes_completed")
			}
		case <-s.closedCh:
			return
		}
	}
}

// AsyncWrite submits data to the stream's send loop, firing
// "write_completion" when it lands and contributing to the
// all_writes_completed semaphore. bytes_written is credited immediately
// at submission, before the write actually runs, per the original
// design's "writes mutate bytes_written eagerly" invariant.
func (s *Stream) AsyncWrite(data []byte) error {
	return s.asyncWrite(writeJob{data: data})
}

func (s *Stream) asyncWrite(job writeJob) error {
	if s.IsClosed() || s.IsEnded() {
		return ErrClosed
	}
	s.ensureSendLoop()
	atomic.AddInt64(&s.bytesWritten, int64(len(job.data)))
	atomic.AddInt64(&s.writePending, 1)
	select {
	case s.outbox <- job:
		return nil
	case <-s.closedCh:
		atomic.AddInt64(&s.writePending, -1)
		return ErrClosed
	}
}

// PendingWrites reports the number of async writes submitted but not yet
// completed — the write-coalescing semaphore's current count.
func (s *Stream) PendingWrites() int64 { return atomic.LoadInt64(&s.writePending) }

// CloseWhenWritesCompleted arranges for Close to run automatically the
// next time the write semaphore reaches zero, mirroring the original's
// close_when_writes_completed convenience (base_stream.h).
func (s *Stream) CloseWhenWritesCompleted() {
	var id emitter.ListenerID
	id = s.AddListener("all_writes_completed", func(args ...any) {
		s.RemoveListener("all_writes_completed", id)
		s.Close(false)
	})
}

// End writes a final chunk (if non-nil) synchronously, then marks the
// stream ended: further Write/AsyncWrite calls fail with ErrClosed. Async
// writes already queued are still sent, and the underlying connection is
// not shut down for writing.
func (s *Stream) End(chunk []byte) error {
	if chunk != nil {
		if _, err := s.Write(chunk); err != nil {
			return err
		}
	}
	atomic.StoreInt32(&s.ended, 1)
	return nil
}

// Close tears down the stream. If emit is true, a "closed" event fires
// exactly once.
func (s *Stream) Close(emit bool) error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	close(s.closedCh)
	err := s.conn.Close()
	if emit {
		s.Emit("closed")
	}
	return err
}

// Cancel aborts the stream without flushing pending writes or emitting
// write-completion events, used when a peer misbehaves and further I/O
// would be wasted.
func (s *Stream) Cancel() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	close(s.closedCh)
	return s.conn.Close()
}
