package server

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/invopop/jsonschema"

	"farmworld/sim"
)

// Admin 管理与监控接口
type Admin struct {
	engine  *sim.Engine
	gateway *Gateway

	schemaOnce sync.Once
	schema     map[string]*jsonschema.Schema
}

// NewAdmin 创建管理接口
func NewAdmin(engine *sim.Engine, gateway *Gateway) *Admin {
	return &Admin{engine: engine, gateway: gateway}
}

// NewMux 注册全部 HTTP 路由
func NewMux(engine *sim.Engine, gateway *Gateway) *http.ServeMux {
	admin := NewAdmin(engine, gateway)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.HandleWS)
	mux.HandleFunc("/admin/config", admin.HandleConfig)
	mux.HandleFunc("/metrics", admin.HandleMetrics)
	mux.HandleFunc("/schema", admin.HandleSchema)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

type tuningBody struct {
	Speed               *float64 `json:"speed,omitempty"`
	BroadcastIntervalMs *int64   `json:"broadcastIntervalMs,omitempty"`
}

// HandleConfig 提供规则参数的读取与热更新
// GET /admin/config   返回当前配置
// POST /admin/config  以 JSON 载荷更新部分字段，下一个 Tick 生效
func (a *Admin) HandleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cur := a.engine.Tuning()
		ms := cur.BroadcastInterval.Milliseconds()
		writeJSON(w, http.StatusOK, tuningBody{Speed: &cur.Speed, BroadcastIntervalMs: &ms})
	case http.MethodPost:
		var body tuningBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		next := a.engine.Tuning()
		if body.Speed != nil {
			if v := *body.Speed; math.IsNaN(v) || v < 0 || v > sim.MaxSpeed {
				http.Error(w, fmt.Sprintf("speed must be within [0, %g]", sim.MaxSpeed), http.StatusBadRequest)
				return
			}
			next.Speed = *body.Speed
		}
		if body.BroadcastIntervalMs != nil {
			if *body.BroadcastIntervalMs < 0 {
				http.Error(w, "broadcastIntervalMs must be >= 0", http.StatusBadRequest)
				return
			}
			next.BroadcastInterval = time.Duration(*body.BroadcastIntervalMs) * time.Millisecond
		}
		a.engine.Tune(next)
		Log.Infow("config updated", "speed", next.Speed, "broadcast_interval", next.BroadcastInterval)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMetrics 输出引擎与网络层运行指标
func (a *Admin) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"metrics":        a.engine.Metrics().Snapshot(),
		"clients":        a.gateway.ClientCount(),
		"fanout_dropped": a.gateway.FanoutDropped(),
	}
	writeJSON(w, http.StatusOK, payload)
}

// HandleSchema 输出客户端与服务端消息的 JSON Schema
func (a *Admin) HandleSchema(w http.ResponseWriter, r *http.Request) {
	a.schemaOnce.Do(func() { a.schema = buildSchema() })
	writeJSON(w, http.StatusOK, a.schema)
}

func buildSchema() map[string]*jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	return map[string]*jsonschema.Schema{
		"client":          reflector.ReflectFromType(reflect.TypeOf(ClientMessage{})),
		EventPlayerJoined: reflector.ReflectFromType(reflect.TypeOf(PlayerJoinedData{})),
		EventPlayerLeft:   reflector.ReflectFromType(reflect.TypeOf(PlayerLeftData{})),
		EventPlayerState:  reflector.ReflectFromType(reflect.TypeOf(PlayerStateData{})),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
