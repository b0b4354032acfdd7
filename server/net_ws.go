package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"farmworld/sim"
)

const (
	writeWait        = 5 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
	maxMessageSize   = 1 << 20 // 1MB
	sendBufferSize   = 64
	lifecycleTimeout = 5 * time.Second
)

// ClientConn 单个玩家连接：读协程解析意图，写协程从 send 队列写出
type ClientConn struct {
	id      sim.PlayerID
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{} // 写协程退出时关闭
	dropped atomic.Int64
}

func newClientConn(id sim.PlayerID, ws *websocket.Conn) *ClientConn {
	return &ClientConn{
		id:   id,
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃，防止阻塞路由协程），返回是否入队
// 调用方必须持有 Gateway 的读锁
func (c *ClientConn) Enqueue(b []byte) bool {
	select {
	case c.send <- b:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送 ping
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.done)
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// send 已被 Gateway 关闭：礼貌地结束连接
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取客户端消息，转换为命令投递到入站队列
func (c *ClientConn) readPump(g *Gateway) {
	// 读泵退出时，通知 Tick 线程移除该玩家
	defer g.disconnect(c)
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { return c.ws.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.Warnw("websocket read error", "player", c.id, "err", err)
			}
			return
		}
		msg, err := DecodeClientMessage(payload)
		if err != nil {
			g.log.Warnw("rejected client message", "player", c.id, "err", err)
			continue
		}
		switch msg.Action {
		case ActionJoin:
			// 加入已在建立连接时完成
			g.log.Debugw("player confirmed join", "player", c.id)
		case ActionMove:
			cmd := sim.UpdateVelocity{PlayerID: c.id, DX: msg.Data.DX, DY: msg.Data.DY}
			if !g.commands.TrySend(cmd) {
				g.log.Debugw("command queue full, move dropped", "player", c.id)
			}
		}
	}
}

// Gateway 网络层：维护在线连接，把连接事件与意图转换为命令，并把出站事件路由到连接
type Gateway struct {
	commands *sim.CommandQueue
	events   *sim.EventQueue
	upgrader websocket.Upgrader
	log      *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[sim.PlayerID]*ClientConn
	closed  bool
	pumps   sync.WaitGroup // 每个已注册连接计 1，读写协程都退出后释放

	fanoutDropped atomic.Int64
}

// NewGateway 创建网络层；log 为空时使用全局 Log
func NewGateway(commands *sim.CommandQueue, events *sim.EventQueue, log *zap.SugaredLogger) *Gateway {
	if log == nil {
		log = Log
	}
	return &Gateway{
		commands: commands,
		events:   events,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// 演示环境：允许所有来源（生产环境需严格限制）
				return true
			},
		},
		clients: make(map[sim.PlayerID]*ClientConn),
	}
}

// HandleWS WebSocket 接入：分配玩家 ID，注册连接后请求生成玩家
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warnw("upgrade error", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := newClientConn(uuid.New(), ws)
	// 先注册再生成，保证新玩家能收到自己的加入广播
	if !g.register(c) {
		_ = ws.Close()
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), lifecycleTimeout)
	defer cancel()
	if err := g.commands.Send(ctx, sim.SpawnPlayer{PlayerID: c.id}); err != nil {
		g.log.Warnw("spawn rejected", "player", c.id, "err", err)
		g.unregister(c)
		_ = ws.Close()
		g.pumps.Done()
		return
	}
	g.log.Infow("player connected", "player", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	go func() {
		defer g.pumps.Done()
		c.readPump(g)
		<-c.done
	}()
}

// Run 路由协程：消费出站队列并扇出到各连接，直到 ctx 结束
func (g *Gateway) Run(ctx context.Context) error {
	defer g.events.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-g.events.Events():
			g.route(ev)
		}
	}
}

func (g *Gateway) route(ev sim.OutboundEvent) {
	switch e := ev.(type) {
	case sim.SendToOne:
		b, err := EncodePayload(e.Payload)
		if err != nil {
			g.log.Errorw("encode event", "player", e.PlayerID, "err", err)
			return
		}
		g.mu.RLock()
		if c, ok := g.clients[e.PlayerID]; ok {
			g.enqueue(c, b)
		}
		g.mu.RUnlock()
	case sim.Broadcast:
		b, err := EncodePayload(e.Payload)
		if err != nil {
			g.log.Errorw("encode broadcast", "err", err)
			return
		}
		g.mu.RLock()
		for _, c := range g.clients {
			g.enqueue(c, b)
		}
		g.mu.RUnlock()
	case sim.PlayerDisconnected:
		// 连接清理已由读协程完成
		g.log.Debugw("player disconnected from sim", "player", e.PlayerID)
	}
}

func (g *Gateway) enqueue(c *ClientConn, b []byte) {
	if !c.Enqueue(b) {
		g.fanoutDropped.Add(1)
	}
}

// FanoutDropped 因连接发送缓冲已满而丢弃的出站消息数
func (g *Gateway) FanoutDropped() int64 { return g.fanoutDropped.Load() }

// ClientCount 当前在线连接数
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// Close 拒绝新连接并关闭所有连接，等待各连接的读写协程退出
// 读协程退出时会请求移除玩家；调用前关闭入站队列可避免等待投递超时
func (g *Gateway) Close() error {
	g.mu.Lock()
	g.closed = true
	conns := make([]*ClientConn, 0, len(g.clients))
	for _, c := range g.clients {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	var err error
	for _, c := range conns {
		if cerr := c.ws.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	g.pumps.Wait()
	return err
}

// register 登记连接并为其读写协程计数；Close 之后返回 false
func (g *Gateway) register(c *ClientConn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.pumps.Add(1)
	g.clients[c.id] = c
	return true
}

// unregister 移除连接并关闭其发送队列；重复调用返回 false
func (g *Gateway) unregister(c *ClientConn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.clients[c.id]; !ok || cur != c {
		return false
	}
	delete(g.clients, c.id)
	close(c.send)
	return true
}

func (g *Gateway) disconnect(c *ClientConn) {
	if !g.unregister(c) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer cancel()
	if err := g.commands.Send(ctx, sim.DespawnPlayer{PlayerID: c.id}); err != nil {
		if errors.Is(err, sim.ErrQueueClosed) {
			g.log.Debugw("despawn skipped, engine stopping", "player", c.id)
			return
		}
		g.log.Warnw("despawn not delivered", "player", c.id, "err", err)
		return
	}
	g.log.Infow("player disconnected", "player", c.id, "dropped_messages", c.dropped.Load())
}
