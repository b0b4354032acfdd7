package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"farmworld/sim"
)

type rawServerMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type testWorld struct {
	engine  *sim.Engine
	gateway *Gateway
	server  *httptest.Server
	wsURL   string
	logs    *observer.ObservedLogs
}

func newTestWorld(t *testing.T) *testWorld {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core).Sugar()

	cfg := sim.DefaultConfig()
	cfg.TickRate = 200
	commands := sim.NewCommandQueue(cfg.InboundCapacity)
	events := sim.NewEventQueue(cfg.OutboundCapacity)
	engine := sim.NewEngine(cfg, commands, events, log.Named("sim"))
	gateway := NewGateway(commands, events, log.Named("gateway"))

	ctx, cancel := context.WithCancel(context.Background())
	engineDone := make(chan struct{})
	routerDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		_ = engine.Run(ctx)
	}()
	go func() {
		defer close(routerDone)
		_ = gateway.Run(ctx)
	}()

	srv := httptest.NewServer(NewMux(engine, gateway))
	// 与 main 的退出顺序一致，并等待全部后台协程结束
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-engineDone
		<-routerDone
		commands.Close()
		if err := gateway.Close(); err != nil {
			t.Errorf("gateway close: %v", err)
		}
		if n := gateway.ClientCount(); n != 0 {
			t.Errorf("expected all clients unregistered after close, got %d", n)
		}
	})
	return &testWorld{
		engine:  engine,
		gateway: gateway,
		server:  srv,
		wsURL:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		logs:    logs,
	}
}

func (w *testWorld) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(w.wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitFor 读取消息直到 match 返回 true；返回期间读到的全部消息
func waitFor(t *testing.T, conn *websocket.Conn, match func(rawServerMessage) bool) []rawServerMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var seen []rawServerMessage
	for {
		_ = conn.SetReadDeadline(deadline)
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed while waiting (seen %d messages): %v", len(seen), err)
		}
		var msg rawServerMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("invalid server message %s: %v", payload, err)
		}
		seen = append(seen, msg)
		if match(msg) {
			return seen
		}
	}
}

func joinedID(t *testing.T, msg rawServerMessage) string {
	t.Helper()
	var d PlayerJoinedData
	if err := json.Unmarshal(msg.Data, &d); err != nil {
		t.Fatalf("decode joined: %v", err)
	}
	return d.PlayerID
}

func TestGatewayJoinMoveLeave(t *testing.T) {
	w := newTestWorld(t)

	connA := w.dial(t)
	var idA string
	waitFor(t, connA, func(m rawServerMessage) bool {
		if m.Event != EventPlayerJoined {
			return false
		}
		idA = joinedID(t, m)
		return true
	})

	connB := w.dial(t)
	var idB string
	seen := waitFor(t, connB, func(m rawServerMessage) bool {
		if m.Event != EventPlayerJoined {
			return false
		}
		id := joinedID(t, m)
		if idB == "" {
			idB = id
			return false
		}
		return id == idA
	})
	if idB == "" || idB == idA {
		t.Fatalf("expected B's own join before catch-up for A, got %+v", seen)
	}

	waitFor(t, connA, func(m rawServerMessage) bool {
		return m.Event == EventPlayerJoined && joinedID(t, m) == idB
	})

	if err := connB.WriteMessage(websocket.TextMessage, []byte(`{"action":"Move","data":{"dx":1,"dy":0}}`)); err != nil {
		t.Fatalf("write move: %v", err)
	}
	waitFor(t, connA, func(m rawServerMessage) bool {
		if m.Event != EventPlayerState {
			return false
		}
		var d PlayerStateData
		if err := json.Unmarshal(m.Data, &d); err != nil {
			t.Fatalf("decode state: %v", err)
		}
		for _, p := range d.Players {
			if p.PlayerID == idB && p.X > 0 {
				return true
			}
		}
		return false
	})

	_ = connB.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	waitFor(t, connA, func(m rawServerMessage) bool {
		if m.Event != EventPlayerLeft {
			return false
		}
		var d PlayerLeftData
		if err := json.Unmarshal(m.Data, &d); err != nil {
			t.Fatalf("decode left: %v", err)
		}
		return d.PlayerID == idB
	})
}

func TestGatewayIgnoresMalformedMessages(t *testing.T) {
	w := newTestWorld(t)
	conn := w.dial(t)
	waitFor(t, conn, func(m rawServerMessage) bool { return m.Event == EventPlayerJoined })

	for _, bad := range []string{`{"action":"Move","data":{"dx":1}}`, `not json`, `{"action":"Fly"}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(bad)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	// 连接仍然存活，快照照常到达
	waitFor(t, conn, func(m rawServerMessage) bool { return m.Event == EventPlayerState })
	if got := w.gateway.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client, got %d", got)
	}

	deadline := time.Now().Add(3 * time.Second)
	for w.logs.FilterMessage("rejected client message").Len() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 rejected messages to be logged, got %d", w.logs.FilterMessage("rejected client message").Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGatewayCloseWaitsForConnections(t *testing.T) {
	w := newTestWorld(t)
	for i := 0; i < 3; i++ {
		conn := w.dial(t)
		waitFor(t, conn, func(m rawServerMessage) bool { return m.Event == EventPlayerJoined })
	}
	if got := w.gateway.ClientCount(); got != 3 {
		t.Fatalf("expected 3 clients, got %d", got)
	}

	if err := w.gateway.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Close 返回时读写协程均已退出，连接已注销
	if got := w.gateway.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients after close, got %d", got)
	}
	if got := w.logs.FilterMessage("player disconnected").Len(); got != 3 {
		t.Fatalf("expected 3 disconnects logged, got %d", got)
	}

	conn, _, err := websocket.DefaultDialer.Dial(w.wsURL, nil)
	if err == nil {
		defer conn.Close()
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		if _, _, err := conn.ReadMessage(); err == nil {
			t.Fatalf("closed gateway must not serve new connections")
		}
	}
}

func TestGatewayCountsFanoutDrops(t *testing.T) {
	core, _ := observer.New(zapcore.DebugLevel)
	g := NewGateway(sim.NewCommandQueue(1), sim.NewEventQueue(1), zap.New(core).Sugar())
	c := newClientConn(uuid.New(), nil)
	if !g.register(c) {
		t.Fatalf("register failed")
	}
	for i := 0; i < sendBufferSize; i++ {
		g.route(sim.Broadcast{Payload: sim.PlayerLeft{PlayerID: c.id}})
	}
	if g.FanoutDropped() != 0 {
		t.Fatalf("buffer not yet full, dropped %d", g.FanoutDropped())
	}

	g.route(sim.Broadcast{Payload: sim.PlayerLeft{PlayerID: c.id}})
	g.route(sim.SendToOne{PlayerID: c.id, Payload: sim.PlayerLeft{PlayerID: c.id}})
	if g.FanoutDropped() != 2 || c.dropped.Load() != 2 {
		t.Fatalf("expected 2 drops, got gateway=%d conn=%d", g.FanoutDropped(), c.dropped.Load())
	}
}
