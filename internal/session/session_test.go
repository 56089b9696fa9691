package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supby/smacrelay/internal/logger"
	"github.com/supby/smacrelay/internal/protocol"
	"github.com/supby/smacrelay/internal/registry"
	"github.com/supby/smacrelay/internal/transport"
)

type pipePort struct {
	reads  chan []byte
	writes chan string
	closed chan struct{}
	once   sync.Once
}

func newPipePort() *pipePort {
	return &pipePort{
		reads:  make(chan []byte, 16),
		writes: make(chan string, 64),
		closed: make(chan struct{}),
	}
}

func (p *pipePort) Read(b []byte) (int, error) {
	select {
	case data, ok := <-p.reads:
		if !ok {
			return 0, io.EOF
		}
		return copy(b, data), nil
	case <-p.closed:
		return 0, os.ErrClosed
	}
}

func (p *pipePort) Write(b []byte) (int, error) {
	select {
	case p.writes <- string(b):
		return len(b), nil
	case <-p.closed:
		return 0, os.ErrClosed
	}
}

func (p *pipePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipePort) feed(line string) {
	p.reads <- []byte(line + "\r\n")
}

type queueOpener struct {
	ports chan *pipePort
}

func newQueueOpener(ports ...*pipePort) *queueOpener {
	o := &queueOpener{ports: make(chan *pipePort, len(ports))}
	for _, p := range ports {
		o.ports <- p
	}
	return o
}

func (o *queueOpener) List() ([]string, error) {
	return []string{"/dev/ttyACM0"}, nil
}

func (o *queueOpener) Open(handle transport.LinkHandle) (transport.Port, error) {
	select {
	case p := <-o.ports:
		return p, nil
	default:
		return nil, errors.New("no such device")
	}
}

type declineSelector struct{}

func (declineSelector) Select([]string) (transport.LinkHandle, error) {
	return "", transport.ErrNoLinkChosen
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) add(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statuses = append(r.statuses, s)
}

func (r *statusRecorder) get() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Status(nil), r.statuses...)
}

func testSettings() Settings {
	return Settings{
		PortName:                  "/dev/ttyACM0",
		ResetRegistryOnDisconnect: true,
		ReconnectDelay:            time.Millisecond,
		StartupDelay:              time.Hour,
	}
}

func newTestSession(opener transport.Opener, settings Settings) *Session {
	logger.SetOutput(io.Discard)

	return newSessionWithLink(opener, settings, transport.Settings{})
}

func newSessionWithLink(opener transport.Opener, settings Settings, linkSettings transport.Settings) *Session {
	link := transport.New(opener, linkSettings, logger.GetLogger("[transport]", logger.LogLevelDebug))
	return New(link, declineSelector{}, registry.New(), settings, logger.LogLevelDebug)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []string
}

func (r *noticeRecorder) add(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.notices = append(r.notices, message)
}

func (r *noticeRecorder) contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range r.notices {
		if strings.Contains(n, substr) {
			return true
		}
	}
	return false
}

func expectWrite(t *testing.T, p *pipePort, want string) {
	t.Helper()

	select {
	case got := <-p.writes:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("no write, want %q", want)
	}
}

func TestConnectDeclined(t *testing.T) {
	settings := testSettings()
	settings.PortName = ""
	s := newTestSession(newQueueOpener(), settings)

	err := s.Connect(context.Background())
	assert.ErrorIs(t, err, transport.ErrNoLinkChosen)
	assert.Equal(t, StatusOnline, s.Status())
}

func TestConnectUnavailable(t *testing.T) {
	s := newTestSession(newQueueOpener(), testSettings())

	err := s.Connect(context.Background())
	assert.ErrorIs(t, err, transport.ErrLinkUnavailable)
	assert.Equal(t, StatusOnline, s.Status())
}

func TestConnectRequestsSystemInfo(t *testing.T) {
	port := newPipePort()
	settings := testSettings()
	settings.StartupDelay = time.Millisecond
	s := newTestSession(newQueueOpener(port), settings)

	var sent []string
	var mu sync.Mutex
	s.SubscribeOnCommandSent(func(nodeID int, text string) {
		mu.Lock()
		sent = append(sent, text)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Connect(ctx))
	defer s.Close()

	assert.Equal(t, StatusConnected, s.Status())
	expectWrite(t, port, "00|00|SYSI\n")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"<-- 00|00|SYSI"}, sent)
}

func TestRunDispatchesAndAnswersAttach(t *testing.T) {
	port := newPipePort()
	s := newTestSession(newQueueOpener(port), testSettings())

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()

	port.feed("NODE|03")
	expectWrite(t, port, "03|00|GNOI\n")
	expectWrite(t, port, "03|00|GDEI\n")

	port.feed("03|00|1|NOINFO=Garage|1.0|AA|1")
	require.Eventually(t, func() bool {
		_, ok := s.Registry().Node(3)
		return ok
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestRunReconnectsAfterDisconnect(t *testing.T) {
	first, second := newPipePort(), newPipePort()
	s := newTestSession(newQueueOpener(first, second), testSettings())

	var rec statusRecorder
	s.SubscribeOnStatus(rec.add)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()

	first.feed("05|00|1|NOINFO=N|1|AA|2")
	require.Eventually(t, func() bool {
		return len(s.Registry().Snapshot()) == 1
	}, time.Second, time.Millisecond)

	close(first.reads)

	require.Eventually(t, func() bool {
		return len(rec.get()) == 3
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, []Status{StatusConnected, StatusDisconnected, StatusConnected}, rec.get())
	assert.Empty(t, s.Registry().Snapshot())

	second.feed("NODE|01")
	expectWrite(t, second, "01|00|GNOI\n")

	cancel()
	assert.NoError(t, <-result)
}

func TestRunKeepsRegistryWhenConfigured(t *testing.T) {
	first, second := newPipePort(), newPipePort()
	settings := testSettings()
	settings.ResetRegistryOnDisconnect = false
	s := newTestSession(newQueueOpener(first, second), settings)

	var rec statusRecorder
	s.SubscribeOnStatus(rec.add)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()

	first.feed("05|00|1|NOINFO=N|1|AA|2")
	require.Eventually(t, func() bool {
		return len(s.Registry().Snapshot()) == 1
	}, time.Second, time.Millisecond)

	close(first.reads)

	require.Eventually(t, func() bool {
		return len(rec.get()) == 3
	}, 2*time.Second, time.Millisecond)
	assert.Len(t, s.Registry().Snapshot(), 1)

	cancel()
	assert.NoError(t, <-result)
}

func TestLivenessPingsSilentNodes(t *testing.T) {
	port := newPipePort()
	settings := testSettings()
	settings.LivenessInterval = 5 * time.Millisecond
	settings.LivenessTimeout = time.Minute
	s := newTestSession(newQueueOpener(port), settings)
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()

	port.feed("07|00|1|NOINFO=N|1|AA|0")
	expectWrite(t, port, "07|00|PING\n")

	cancel()
	assert.NoError(t, <-result)
}

func TestSendCommandErrors(t *testing.T) {
	s := newTestSession(newQueueOpener(), testSettings())

	err := s.SendCommand(context.Background(), protocol.Command{NodeID: 20, Opcode: protocol.OpPing})
	assert.ErrorIs(t, err, protocol.ErrNodeOutOfRange)

	err = s.SendCommand(context.Background(), protocol.Ping(1))
	assert.ErrorIs(t, err, transport.ErrNotOpen)
}

func TestRunKeepsReadingWhenWritesStall(t *testing.T) {
	port := newPipePort()
	port.writes = make(chan string)
	s := newTestSession(newQueueOpener(port), testSettings())

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()

	port.feed("NODE|03")
	port.feed("04|00|1|NOINFO=Garage|1.0|AA|1")

	require.Eventually(t, func() bool {
		_, ok := s.Registry().Node(4)
		return ok
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestOverlongLineIsReported(t *testing.T) {
	logs := &lockedBuffer{}
	logger.SetOutput(logs)
	t.Cleanup(func() { logger.SetOutput(io.Discard) })

	port := newPipePort()
	s := newSessionWithLink(newQueueOpener(port), testSettings(), transport.Settings{MaxLineLength: 40})

	var notices noticeRecorder
	s.Dispatcher().SubscribeOnNotice(notices.add)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()

	port.feed(strings.Repeat("x", 100))
	port.feed("04|00|1|NOINFO=Garage|1.0|AA|1")

	require.Eventually(t, func() bool {
		_, ok := s.Registry().Node(4)
		return ok
	}, time.Second, time.Millisecond)
	assert.True(t, notices.contains(transport.ErrLineTooLong.Error()))
	assert.Contains(t, logs.String(), transport.ErrLineTooLong.Error())

	cancel()
	assert.NoError(t, <-result)
}

func TestLinkLossRaisesNotice(t *testing.T) {
	port := newPipePort()
	s := newTestSession(newQueueOpener(port), testSettings())

	var notices noticeRecorder
	s.Dispatcher().SubscribeOnNotice(notices.add)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Status() == StatusConnected }, time.Second, time.Millisecond)
	close(port.reads)

	require.Eventually(t, func() bool { return notices.contains("Link lost") }, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-result)
}
