// Package session drives one operator connection to the Relayer: it
// selects and opens the link, feeds every received line to the
// dispatcher, and handles the Disconnected state and reconnects.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/supby/smacrelay/internal/dispatcher"
	"github.com/supby/smacrelay/internal/logger"
	"github.com/supby/smacrelay/internal/protocol"
	"github.com/supby/smacrelay/internal/registry"
	"github.com/supby/smacrelay/internal/transport"
)

type Status string

const (
	StatusOnline       Status = "Online"
	StatusConnected    Status = "Connected"
	StatusDisconnected Status = "Disconnected"
)

// Link is the part of transport.Transport the session needs.
type Link interface {
	SelectLink(selector transport.Selector) (transport.LinkHandle, error)
	Open(handle transport.LinkHandle) error
	ReadLoop(ctx context.Context, onLine func(line string)) error
	Send(ctx context.Context, line string) error
	Post(line string) error
	IsOpen() bool
	Close() error
	SubscribeOnFault(cb func(err error))
	SubscribeOnLinkLost(cb func(err error))
}

type Settings struct {
	// PortName skips the interactive selection when set.
	PortName                  string
	ResetRegistryOnDisconnect bool
	ReconnectDelay            time.Duration
	StartupDelay              time.Duration
	LivenessInterval          time.Duration
	LivenessTimeout           time.Duration
}

type Session struct {
	link       Link
	selector   transport.Selector
	settings   Settings
	dispatcher dispatcher.Dispatcher
	logger     logger.Logger
	now        func() time.Time

	mu            sync.Mutex
	handle        transport.LinkHandle
	status        Status
	onStatus      func(status Status)
	onCommandSent func(nodeID int, text string)
}

func New(link Link, selector transport.Selector, reg *registry.Registry, settings Settings, logLevel int) *Session {
	s := &Session{
		link:     link,
		selector: selector,
		settings: settings,
		logger:   logger.GetLogger("[session]", logLevel),
		now:      time.Now,
		status:   StatusOnline,
	}
	s.dispatcher = dispatcher.New(reg, postingSender{s}, logLevel)

	link.SubscribeOnFault(s.linkFault)
	link.SubscribeOnLinkLost(s.linkLost)

	return s
}

// postingSender queues dispatcher commands on the link without waiting
// for the write, so a line handler never waits on the port.
type postingSender struct {
	s *Session
}

func (p postingSender) SendCommand(ctx context.Context, cmd protocol.Command) error {
	return p.s.send(cmd, p.s.link.Post)
}

func (s *Session) Dispatcher() dispatcher.Dispatcher {
	return s.dispatcher
}

// Registry is the read-only view of the node table.
func (s *Session) Registry() registry.Reader {
	return s.dispatcher.Registry()
}

// Handle is the link last opened, empty before the first Connect.
func (s *Session) Handle() transport.LinkHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.handle
}

func (s *Session) linkFault(err error) {
	if !errors.Is(err, transport.ErrLineTooLong) {
		s.logger.Debug("Link fault: %v", err)
		return
	}

	s.logger.Warn("Dropped received line: %v", err)
	s.dispatcher.Notice(fmt.Sprintf("Dropped received line: %v", err))
}

func (s *Session) linkLost(err error) {
	s.dispatcher.Notice(fmt.Sprintf("Link lost: %v", err))
}

func (s *Session) SubscribeOnStatus(callback func(status Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onStatus = callback
}

// SubscribeOnCommandSent receives every written command, for the per-node
// log, as "<-- line".
func (s *Session) SubscribeOnCommandSent(callback func(nodeID int, text string)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onCommandSent = callback
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	cb := s.onStatus
	s.mu.Unlock()

	s.logger.Info("Status: %s", status)
	if cb != nil {
		cb(status)
	}
}

// Connect picks a link and opens it. A declined selection returns
// transport.ErrNoLinkChosen and is not logged as an error.
func (s *Session) Connect(ctx context.Context) error {
	selector := s.selector
	if s.settings.PortName != "" {
		selector = transport.FixedSelector(s.settings.PortName)
	}
	if selector == nil {
		return transport.ErrNoLinkChosen
	}

	handle, err := s.link.SelectLink(selector)
	if errors.Is(err, transport.ErrNoLinkChosen) {
		s.logger.Info("No link chosen")
		return err
	}
	if err != nil {
		return err
	}

	return s.open(ctx, handle)
}

func (s *Session) open(ctx context.Context, handle transport.LinkHandle) error {
	if err := s.link.Open(handle); err != nil {
		return err
	}

	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()

	s.setStatus(StatusConnected)

	go s.requestSystemInfo(ctx)

	return nil
}

func (s *Session) requestSystemInfo(ctx context.Context) {
	t := time.NewTimer(s.settings.StartupDelay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}

	if !s.link.IsOpen() {
		return
	}

	if err := s.SendCommand(ctx, protocol.SystemInfo()); err != nil {
		s.logger.Warn("System info request failed: %v", err)
	}
}

// Run reads the link until ctx ends or the link is closed, dispatching
// each line before reading the next. After a disconnect it enters the
// Disconnected state and keeps reopening the same link.
func (s *Session) Run(ctx context.Context) error {
	if !s.link.IsOpen() {
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}

	for {
		liveCtx, cancel := context.WithCancel(ctx)
		go s.livenessLoop(liveCtx)

		err := s.link.ReadLoop(ctx, func(line string) {
			_ = s.dispatcher.HandleLine(ctx, line)
		})
		cancel()

		if ctx.Err() != nil || err == nil {
			return nil
		}
		if !errors.Is(err, transport.ErrLinkLost) {
			return err
		}

		s.disconnected()

		if err := s.reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Session) disconnected() {
	s.setStatus(StatusDisconnected)

	if s.settings.ResetRegistryOnDisconnect {
		s.dispatcher.Reset()
	}
}

func (s *Session) reconnect(ctx context.Context) error {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()

	for {
		t := time.NewTimer(s.settings.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}

		err := s.open(ctx, handle)
		if err == nil {
			return nil
		}
		if !errors.Is(err, transport.ErrLinkUnavailable) {
			return err
		}

		s.logger.Debug("Reopen of %s failed: %v", handle, err)
	}
}

// livenessLoop pings nodes that have been silent for LivenessTimeout.
// It never evicts anything.
func (s *Session) livenessLoop(ctx context.Context) {
	if s.settings.LivenessInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.settings.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pingSilentNodes(ctx)
		}
	}
}

func (s *Session) pingSilentNodes(ctx context.Context) {
	cutoff := s.now().Add(-s.settings.LivenessTimeout)

	for _, nodeID := range s.dispatcher.Registry().Silent(cutoff) {
		if err := s.SendCommand(ctx, protocol.Ping(nodeID)); err != nil {
			s.logger.Warn("Ping of node %02d failed: %v", nodeID, err)
			return
		}
	}
}

// SendCommand encodes cmd and writes it. Write failures are returned, not
// retried.
func (s *Session) SendCommand(ctx context.Context, cmd protocol.Command) error {
	return s.send(cmd, func(line string) error {
		return s.link.Send(ctx, line)
	})
}

func (s *Session) send(cmd protocol.Command, write func(line string) error) error {
	line, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}

	if err := write(line); err != nil {
		return fmt.Errorf("session: send %s: %w", cmd, err)
	}

	text := strings.TrimSuffix(line, "\n")
	s.logger.Debug("<-- %s", text)

	s.mu.Lock()
	cb := s.onCommandSent
	s.mu.Unlock()

	if cb != nil {
		cb(cmd.NodeID, "<-- "+text)
	}

	return nil
}

func (s *Session) Close() error {
	return s.link.Close()
}
