package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"farmworld/sim"
)

// 客户端 action 与服务端 event 名称
const (
	ActionJoin = "Join"
	ActionMove = "Move"

	EventPlayerJoined = "PlayerJoined"
	EventPlayerLeft   = "PlayerLeft"
	EventPlayerState  = "PlayerState"
)

// MaxIntent 移动意图每个分量的绝对值上限
const MaxIntent = 10.0

var (
	ErrMalformedMessage = errors.New("malformed client message")
	ErrUnknownAction    = errors.New("unknown client action")
)

// ClientMessage 入站消息（WebSocket 文本帧）
// 示例：{"action":"Join"}、{"action":"Move","data":{"dx":1.5,"dy":-2.0}}
type ClientMessage struct {
	Action string      `json:"action" jsonschema:"required,enum=Join,enum=Move"`
	Data   *MoveIntent `json:"data,omitempty"`
}

// MoveIntent 移动意图：速度方向，每个分量位于 [-MaxIntent, MaxIntent]
type MoveIntent struct {
	DX float64 `json:"dx" jsonschema:"required,minimum=-10,maximum=10"`
	DY float64 `json:"dy" jsonschema:"required,minimum=-10,maximum=10"`
}

// ServerMessage 出站消息信封
type ServerMessage struct {
	Event string `json:"event" jsonschema:"required,enum=PlayerJoined,enum=PlayerLeft,enum=PlayerState"`
	Data  any    `json:"data"`
}

type PlayerJoinedData struct {
	PlayerID string  `json:"player_id" jsonschema:"required"`
	X        float64 `json:"x" jsonschema:"required"`
	Y        float64 `json:"y" jsonschema:"required"`
}

type PlayerLeftData struct {
	PlayerID string `json:"player_id" jsonschema:"required"`
}

type PlayerStateData struct {
	Players []PlayerStateEntry `json:"players" jsonschema:"required"`
}

type PlayerStateEntry struct {
	PlayerID string  `json:"player_id" jsonschema:"required"`
	X        float64 `json:"x" jsonschema:"required"`
	Y        float64 `json:"y" jsonschema:"required"`
}

// DecodeClientMessage 解析并校验客户端消息；Move 必须同时携带 dx 与 dy
func DecodeClientMessage(b []byte) (ClientMessage, error) {
	var raw struct {
		Action string          `json:"action"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	switch raw.Action {
	case ActionJoin:
		return ClientMessage{Action: ActionJoin}, nil
	case ActionMove:
		var d struct {
			DX *float64 `json:"dx"`
			DY *float64 `json:"dy"`
		}
		if len(raw.Data) == 0 {
			return ClientMessage{}, fmt.Errorf("%w: move without data", ErrMalformedMessage)
		}
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return ClientMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if d.DX == nil || d.DY == nil {
			return ClientMessage{}, fmt.Errorf("%w: move requires dx and dy", ErrMalformedMessage)
		}
		if !validIntent(*d.DX) || !validIntent(*d.DY) {
			return ClientMessage{}, fmt.Errorf("%w: move intent out of range [-%g, %g]", ErrMalformedMessage, MaxIntent, MaxIntent)
		}
		return ClientMessage{Action: ActionMove, Data: &MoveIntent{DX: *d.DX, DY: *d.DY}}, nil
	default:
		return ClientMessage{}, fmt.Errorf("%w: %q", ErrUnknownAction, raw.Action)
	}
}

func validIntent(v float64) bool {
	return !math.IsNaN(v) && math.Abs(v) <= MaxIntent
}

// EncodePayload 将出站消息体序列化为 JSON 文本
func EncodePayload(p sim.Payload) ([]byte, error) {
	var msg ServerMessage
	switch v := p.(type) {
	case sim.PlayerJoined:
		msg = ServerMessage{Event: EventPlayerJoined, Data: PlayerJoinedData{PlayerID: v.PlayerID.String(), X: v.X, Y: v.Y}}
	case sim.PlayerLeft:
		msg = ServerMessage{Event: EventPlayerLeft, Data: PlayerLeftData{PlayerID: v.PlayerID.String()}}
	case sim.PlayerStateSnapshot:
		players := make([]PlayerStateEntry, 0, len(v.Players))
		for _, ps := range v.Players {
			players = append(players, PlayerStateEntry{PlayerID: ps.PlayerID.String(), X: ps.X, Y: ps.Y})
		}
		msg = ServerMessage{Event: EventPlayerState, Data: PlayerStateData{Players: players}}
	default:
		return nil, fmt.Errorf("encode payload: unsupported type %T", p)
	}
	return json.Marshal(msg)
}
