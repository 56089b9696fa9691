package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/supby/smacrelay/internal/logger"
)

type State int

const (
	Idle State = iota
	Selecting
	Opening
	Open
	Reopening
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Selecting:
		return "selecting"
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Reopening:
		return "reopening"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const (
	readBufferSize      = 1024
	defaultWriteTimeout = 2 * time.Second
)

type Settings struct {
	MaxLineLength int
	SendQueueSize int
	// PresencePollInterval is how often the endpoint list is checked for
	// the open link; zero disables the check.
	PresencePollInterval time.Duration
	// MaxConsecutiveFaults bounds pipeline rebuilds without any data in
	// between before the link is given up; zero means no bound.
	MaxConsecutiveFaults int
	// WriteTimeout bounds how long Send waits for a write and how long a
	// pipeline rebuild waits for the old writer to stop.
	WriteTimeout time.Duration
}

// writeRequest is one queued line. result is nil for posted lines.
type writeRequest struct {
	line   string
	result chan error
}

// pipeline is the rebuildable part of an open link: the line framer on
// the read side and the writer goroutine on the write side.
type pipeline struct {
	framer    *Framer
	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// close stops the writer and waits at most wait for it. It reports
// false when the writer is still inside a port write; that writer exits
// as soon as the write returns.
func (p *pipeline) close(wait time.Duration) bool {
	p.closeOnce.Do(func() { close(p.stop) })

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-p.stopped:
		return true
	case <-timer.C:
		return false
	}
}

// Transport owns one physical link and exposes it as a stream of lines.
type Transport struct {
	opener   Opener
	settings Settings
	logger   logger.Logger

	mu         sync.Mutex
	state      State
	handle     LinkHandle
	port       Port
	pipe       *pipeline
	outbox     chan writeRequest
	done       chan struct{}
	lost       bool
	lostOnce   *sync.Once
	onLinkLost func(err error)
	onFault    func(err error)
}

func New(opener Opener, settings Settings, log logger.Logger) *Transport {
	if settings.SendQueueSize <= 0 {
		settings.SendQueueSize = 64
	}
	if settings.WriteTimeout <= 0 {
		settings.WriteTimeout = defaultWriteTimeout
	}

	return &Transport{
		opener:   opener,
		settings: settings,
		logger:   log,
		state:    Idle,
	}
}

// SubscribeOnLinkLost registers the callback run once per session when
// the link disappears. It runs after the transport has been closed.
func (t *Transport) SubscribeOnLinkLost(cb func(err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onLinkLost = cb
}

// SubscribeOnFault registers a callback for recovered stream faults.
func (t *Transport) SubscribeOnFault(cb func(err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onFault = cb
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

func (t *Transport) IsOpen() bool {
	s := t.State()
	return s == Open || s == Reopening
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = s
}

// SelectLink runs the interactive endpoint choice. Declining is reported
// as ErrNoLinkChosen and leaves the transport idle.
func (t *Transport) SelectLink(selector Selector) (LinkHandle, error) {
	if t.IsOpen() {
		return "", ErrAlreadyOpen
	}

	t.setState(Selecting)
	handle, err := SelectLink(t.opener, selector)
	t.setState(Idle)

	return handle, err
}

// Open opens handle with the fixed line settings.
func (t *Transport) Open(handle LinkHandle) error {
	t.mu.Lock()
	if t.state == Open || t.state == Reopening {
		t.mu.Unlock()
		return ErrAlreadyOpen
	}
	t.state = Opening
	t.mu.Unlock()

	port, err := t.opener.Open(handle)
	if err != nil {
		t.setState(Idle)
		return fmt.Errorf("%w: %s: %w", ErrLinkUnavailable, handle, err)
	}

	watch := t.settings.PresencePollInterval > 0 && t.listed(handle)

	t.mu.Lock()
	t.handle = handle
	t.port = port
	t.outbox = make(chan writeRequest, t.settings.SendQueueSize)
	t.done = make(chan struct{})
	t.lost = false
	t.lostOnce = &sync.Once{}
	t.pipe = t.startPipeline(port, t.outbox, t.done)
	t.state = Open
	done := t.done
	t.mu.Unlock()

	if watch {
		go t.watchPresence(handle, done)
	}

	t.logger.Info("Link %s open (%d-8-N-1)", handle, BaudRate)

	return nil
}

func (t *Transport) listed(handle LinkHandle) bool {
	ports, err := t.opener.List()
	if err != nil {
		return false
	}
	for _, p := range ports {
		if p == string(handle) {
			return true
		}
	}
	return false
}

func (t *Transport) startPipeline(port Port, outbox chan writeRequest, done chan struct{}) *pipeline {
	p := &pipeline{
		framer:  NewFramer(t.settings.MaxLineLength),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go t.writeLoop(p, port, outbox, done)

	return p
}

func (t *Transport) writeLoop(p *pipeline, port Port, outbox chan writeRequest, done chan struct{}) {
	defer close(p.stopped)

	for {
		// a writer replaced while blocked in Write must not take more work
		select {
		case <-p.stop:
			return
		case <-done:
			return
		default:
		}

		select {
		case <-p.stop:
			return
		case <-done:
			return
		case req := <-outbox:
			_, err := port.Write([]byte(req.line))
			if err != nil {
				err = fmt.Errorf("transport: write: %w", err)
				t.logger.Warn("Send failed: %v", err)
			}
			if req.result != nil {
				req.result <- err
			}
		}
	}
}

// rebuildPipeline replaces the framer and writer after a stream fault.
// ok is false when the transport was closed meanwhile.
func (t *Transport) rebuildPipeline() (framer *Framer, ok bool) {
	t.mu.Lock()
	if t.state != Open {
		t.mu.Unlock()
		return nil, false
	}
	t.state = Reopening
	old, port := t.pipe, t.port
	t.mu.Unlock()

	if !old.close(t.settings.WriteTimeout) {
		t.logger.Warn("Writer still blocked in write, replacing it")
	}

	if f, ok := port.(inputFlusher); ok {
		if err := f.ResetInputBuffer(); err != nil {
			t.logger.Debug("Reset input buffer: %v", err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Reopening {
		return nil, false
	}
	t.pipe = t.startPipeline(port, t.outbox, t.done)
	t.state = Open

	return t.pipe.framer, true
}

// ReadLoop delivers each complete line to onLine, in arrival order and on
// the calling goroutine, until the link closes. It returns nil after
// Close or ctx cancellation and ErrLinkLost after a disconnect.
func (t *Transport) ReadLoop(ctx context.Context, onLine func(line string)) error {
	t.mu.Lock()
	if t.state != Open {
		t.mu.Unlock()
		return ErrNotOpen
	}
	port, done, framer := t.port, t.done, t.pipe.framer
	t.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			t.Close()
		case <-done:
		}
	}()

	buf := make([]byte, readBufferSize)
	faults := 0

	for {
		n, err := port.Read(buf)
		if n > 0 {
			faults = 0
			lines, ferr := framer.Push(buf[:n])
			if ferr != nil {
				t.fault(ferr)
			}
			for _, line := range lines {
				onLine(line)
			}
			if err == nil {
				continue
			}
		}
		if err == nil {
			// zero-length read without error: the stream ended
			err = fmt.Errorf("transport: end of stream")
			return t.streamEnded(framer, onLine, err)
		}

		if t.closedByUser() {
			return nil
		}
		if t.wasLost() {
			return ErrLinkLost
		}

		if isDisconnect(err) {
			return t.streamEnded(framer, onLine, err)
		}

		faults++
		if t.settings.MaxConsecutiveFaults > 0 && faults > t.settings.MaxConsecutiveFaults {
			t.linkLost(fmt.Errorf("transport: %d consecutive faults: %w", faults, err))
			return ErrLinkLost
		}

		t.logger.Warn("Stream fault, rebuilding pipeline: %v", err)
		t.fault(err)

		var ok bool
		framer, ok = t.rebuildPipeline()
		if !ok {
			if t.wasLost() {
				return ErrLinkLost
			}
			return nil
		}
	}
}

func (t *Transport) streamEnded(framer *Framer, onLine func(string), err error) error {
	if t.closedByUser() {
		return nil
	}
	if line, ok := framer.Flush(); ok {
		onLine(line)
	}
	t.linkLost(err)
	return ErrLinkLost
}

func (t *Transport) closedByUser() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state == Closed && !t.lost
}

func (t *Transport) wasLost() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.lost
}

func (t *Transport) fault(err error) {
	t.mu.Lock()
	cb := t.onFault
	t.mu.Unlock()

	if cb != nil {
		cb(err)
	}
}

// linkLost closes the transport and notifies the subscriber, once per
// session however many paths detect the loss.
func (t *Transport) linkLost(err error) {
	t.mu.Lock()
	once := t.lostOnce
	if once == nil || t.state == Closed {
		t.mu.Unlock()
		return
	}
	t.lost = true
	cb := t.onLinkLost
	t.mu.Unlock()

	once.Do(func() {
		t.logger.Warn("Link lost: %v", err)
		t.Close()
		if cb != nil {
			cb(err)
		}
	})
}

func (t *Transport) watchPresence(handle LinkHandle, done chan struct{}) {
	ticker := time.NewTicker(t.settings.PresencePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ports, err := t.opener.List()
			if err != nil {
				continue
			}
			present := false
			for _, p := range ports {
				if p == string(handle) {
					present = true
					break
				}
			}
			if !present {
				t.linkLost(fmt.Errorf("%w: %s removed", ErrLinkLost, handle))
				return
			}
		}
	}
}

// Send writes line as is; the caller supplies any terminator. It waits
// for the write until ctx ends, the link closes or WriteTimeout passes.
func (t *Transport) Send(ctx context.Context, line string) error {
	req := writeRequest{line: line, result: make(chan error, 1)}

	done, err := t.enqueue(req)
	if err != nil {
		return err
	}

	timer := time.NewTimer(t.settings.WriteTimeout)
	defer timer.Stop()

	select {
	case err := <-req.result:
		return err
	case <-done:
		return ErrNotOpen
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrWriteTimeout
	}
}

// Post queues line and returns without waiting for the write. Write
// failures are only logged.
func (t *Transport) Post(line string) error {
	_, err := t.enqueue(writeRequest{line: line})
	return err
}

func (t *Transport) enqueue(req writeRequest) (chan struct{}, error) {
	t.mu.Lock()
	if t.state != Open && t.state != Reopening {
		t.mu.Unlock()
		return nil, ErrNotOpen
	}
	outbox, done := t.outbox, t.done
	t.mu.Unlock()

	select {
	case outbox <- req:
		return done, nil
	default:
		return nil, ErrSendQueueFull
	}
}

// Close releases the writer, the reader and the port. It is idempotent
// and never fails; errors of individual steps are only logged.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.state != Open && t.state != Reopening {
		t.mu.Unlock()
		return nil
	}
	t.state = Closed
	port, pipe, done, handle := t.port, t.pipe, t.done, t.handle
	t.port = nil
	t.mu.Unlock()

	close(done)

	if err := port.Close(); err != nil {
		t.logger.Debug("Close port %s: %v", handle, err)
	}

	if pipe != nil && !pipe.close(t.settings.WriteTimeout) {
		t.logger.Debug("Writer of %s still blocked in write", handle)
	}

	t.logger.Info("Link %s closed", handle)

	return nil
}
