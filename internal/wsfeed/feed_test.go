package wsfeed

import (
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supby/smacrelay/internal/logger"
	"github.com/supby/smacrelay/internal/protocol"
	"github.com/supby/smacrelay/internal/registry"
	"github.com/supby/smacrelay/internal/types"
)

type rawEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startFeed(t *testing.T) (*Feed, *httptest.Server) {
	t.Helper()
	logger.SetOutput(io.Discard)

	f := New("127.0.0.1:0", logger.LogLevelDebug)
	srv := httptest.NewServer(f.Handler())
	t.Cleanup(srv.Close)

	return f, srv
}

func dial(t *testing.T, f *Feed, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	before := f.ClientCount()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return f.ClientCount() == before+1 }, time.Second, time.Millisecond)

	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) rawEnvelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env rawEnvelope
	require.NoError(t, conn.ReadJSON(&env))

	return env
}

func TestBroadcastSample(t *testing.T) {
	f, srv := startFeed(t)
	a := dial(t, f, srv)
	b := dial(t, f, srv)

	f.PublishSample(protocol.DeviceSample{
		Header: protocol.Header{NodeID: 3, DeviceID: 2, Timestamp: big.NewInt(123456)},
		Value:  "21.5",
	})

	for _, conn := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, conn)
		assert.Equal(t, TypeSample, env.Type)
		assert.JSONEq(t, `{"NodeID":3,"DeviceID":2,"Timestamp":123456,"Value":"21.5"}`, string(env.Data))
	}
}

func TestNewClientGetsRetainedState(t *testing.T) {
	f, srv := startFeed(t)

	f.Publish(TypeStatus, "Connected")
	f.PublishNodes([]registry.Node{{ID: 1, Name: "A", DeviceCount: 1}})
	f.PublishNodeLog(1, "PONG")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	status := readEnvelope(t, conn)
	assert.Equal(t, TypeStatus, status.Type)
	assert.JSONEq(t, `"Connected"`, string(status.Data))

	nodes := readEnvelope(t, conn)
	assert.Equal(t, TypeNodes, nodes.Type)
	var msg types.NodesMessage
	require.NoError(t, json.Unmarshal(nodes.Data, &msg))
	assert.Equal(t, 1, msg.TotalDevices)
}

func TestCommandIntent(t *testing.T) {
	f, srv := startFeed(t)

	var mu sync.Mutex
	var got []types.CommandRequest
	f.SubscribeOnCommandRequest(func(req types.CommandRequest) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, req)
		return nil
	})

	conn := dial(t, f, srv)
	require.NoError(t, conn.WriteJSON(CommandIntent{NodeID: 3, DeviceID: 2, Opcode: "SRAT", Params: "3600"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, types.CommandRequest{NodeID: 3, DeviceID: 2, Opcode: "SRAT", Params: "3600"}, got[0])
	mu.Unlock()
}

func TestRejectedIntentIsReportedToSender(t *testing.T) {
	f, srv := startFeed(t)
	f.SubscribeOnCommandRequest(func(types.CommandRequest) error {
		return errors.New("transport: link not open")
	})

	conn := dial(t, f, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	env := readEnvelope(t, conn)
	assert.Equal(t, TypeError, env.Type)
	assert.Contains(t, string(env.Data), "invalid command")

	require.NoError(t, conn.WriteJSON(CommandIntent{NodeID: 1}))
	env = readEnvelope(t, conn)
	assert.Equal(t, TypeError, env.Type)

	require.NoError(t, conn.WriteJSON(CommandIntent{NodeID: 1, Opcode: "PING"}))
	env = readEnvelope(t, conn)
	assert.Equal(t, TypeError, env.Type)
	assert.Contains(t, string(env.Data), "link not open")
}

func TestClosedClientIsRemoved(t *testing.T) {
	f, srv := startFeed(t)
	conn := dial(t, f, srv)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return f.ClientCount() == 0 }, time.Second, time.Millisecond)
}
