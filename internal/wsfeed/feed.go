// Package wsfeed pushes registry, sample and log notifications to browser
// widgets over a websocket and accepts command intents from them.
package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/supby/smacrelay/internal/logger"
	"github.com/supby/smacrelay/internal/protocol"
	"github.com/supby/smacrelay/internal/registry"
	"github.com/supby/smacrelay/internal/types"
)

const (
	TypeSample = "sample"
	TypeNodes  = "nodes"
	TypeLog    = "log"
	TypeError  = "error"
	TypeNotice = "notice"
	TypeStatus = "status"
)

const writeWait = 5 * time.Second

type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// CommandIntent is what a widget sends to have a command written.
type CommandIntent struct {
	NodeID   int    `json:"nodeId"`
	DeviceID int    `json:"deviceId"`
	Opcode   string `json:"opcode"`
	Params   string `json:"params,omitempty"`
}

type clientConnection struct {
	conn  *websocket.Conn
	mutex sync.Mutex
}

type Feed struct {
	server   *http.Server
	upgrader websocket.Upgrader
	logger   logger.Logger

	clientsMutex sync.RWMutex
	clients      map[string]*clientConnection
	// latest nodes and status envelopes, replayed to new clients
	retained map[string][]byte

	onCommandRequest func(req types.CommandRequest) error
}

func New(addr string, logLevel int) *Feed {
	f := &Feed{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:   logger.GetLogger("[wsfeed]", logLevel),
		clients:  make(map[string]*clientConnection),
		retained: make(map[string][]byte),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", f.handleWebSocket)

	f.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return f
}

func (f *Feed) Handler() http.Handler {
	return f.server.Handler
}

// SubscribeOnCommandRequest registers the handler for widget intents. A
// returned error is reported back to the sending widget only.
func (f *Feed) SubscribeOnCommandRequest(callback func(req types.CommandRequest) error) {
	f.onCommandRequest = callback
}

// ListenAndServe serves until ctx is done.
func (f *Feed) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", f.server.Addr)
	if err != nil {
		return fmt.Errorf("wsfeed: listen %s: %w", f.server.Addr, err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := f.server.Shutdown(shutdownCtx); err != nil {
			f.logger.Warn("Shutdown: %v", err)
		}
		f.closeClients()
	}()

	f.logger.Info("Listening on %s", f.server.Addr)

	err = f.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (f *Feed) PublishSample(sample protocol.DeviceSample) {
	f.Publish(TypeSample, types.NewDeviceSampleMessage(sample))
}

func (f *Feed) PublishNodes(nodes []registry.Node) {
	f.Publish(TypeNodes, types.NewNodesMessage(nodes))
}

func (f *Feed) PublishNodeLog(nodeID int, text string) {
	f.Publish(TypeLog, types.NodeLogMessage{NodeID: nodeID, Text: text})
}

// Publish sends one envelope to every connected client.
func (f *Feed) Publish(kind string, data interface{}) {
	message, err := json.Marshal(Envelope{Type: kind, Data: data})
	if err != nil {
		f.logger.Error("Error Marshal %s envelope: %v", kind, err)
		return
	}

	f.clientsMutex.Lock()
	if kind == TypeNodes || kind == TypeStatus {
		f.retained[kind] = message
	}
	clients := make(map[string]*clientConnection, len(f.clients))
	for id, c := range f.clients {
		clients[id] = c
	}
	f.clientsMutex.Unlock()

	for id, c := range clients {
		if err := c.write(message); err != nil {
			f.logger.Debug("Dropping client %s: %v", id, err)
			f.removeClient(id)
		}
	}
}

func (f *Feed) ClientCount() int {
	f.clientsMutex.RLock()
	defer f.clientsMutex.RUnlock()

	return len(f.clients)
}

func (c *clientConnection) write(message []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

func (f *Feed) removeClient(connID string) {
	f.clientsMutex.Lock()
	c, ok := f.clients[connID]
	delete(f.clients, connID)
	f.clientsMutex.Unlock()

	if ok {
		_ = c.conn.Close()
	}
}

func (f *Feed) closeClients() {
	f.clientsMutex.Lock()
	clients := f.clients
	f.clients = make(map[string]*clientConnection)
	f.clientsMutex.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
}

func (f *Feed) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("Error upgrading to WebSocket from %s: %v", r.RemoteAddr, err)
		return
	}

	connID := uuid.NewString()
	client := &clientConnection{conn: conn}

	f.clientsMutex.Lock()
	replay := make([][]byte, 0, len(f.retained))
	for _, kind := range []string{TypeStatus, TypeNodes} {
		if m, ok := f.retained[kind]; ok {
			replay = append(replay, m)
		}
	}
	f.clients[connID] = client
	f.clientsMutex.Unlock()

	defer f.removeClient(connID)

	f.logger.Debug("Client %s connected from %s", connID, r.RemoteAddr)

	for _, m := range replay {
		if err := client.write(m); err != nil {
			return
		}
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				f.logger.Warn("Unexpected close of client %s: %v", connID, err)
			}
			return
		}

		if err := f.handleIntent(message); err != nil {
			f.logger.Warn("Command from client %s rejected: %v", connID, err)
			reply, _ := json.Marshal(Envelope{Type: TypeError, Data: err.Error()})
			if err := client.write(reply); err != nil {
				return
			}
		}
	}
}

func (f *Feed) handleIntent(message []byte) error {
	var intent CommandIntent
	if err := json.Unmarshal(message, &intent); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	if intent.Opcode == "" {
		return fmt.Errorf("invalid command: %w", protocol.ErrInvalidOpcode)
	}

	if f.onCommandRequest == nil {
		return nil
	}

	return f.onCommandRequest(types.CommandRequest{
		NodeID:   intent.NodeID,
		DeviceID: intent.DeviceID,
		Opcode:   intent.Opcode,
		Params:   intent.Params,
	})
}
