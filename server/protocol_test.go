package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"farmworld/sim"
)

func TestDecodeClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    ClientMessage
		wantErr error
	}{
		{name: "join", in: `{"action":"Join"}`, want: ClientMessage{Action: ActionJoin}},
		{name: "move", in: `{"action":"Move","data":{"dx":1.5,"dy":-2.0}}`, want: ClientMessage{Action: ActionMove, Data: &MoveIntent{DX: 1.5, DY: -2}}},
		{name: "truncated json", in: `{"action":"Move","data":{"dx":1.5,"dy":}}`, wantErr: ErrMalformedMessage},
		{name: "missing dy", in: `{"action":"Move","data":{"dx":1.0}}`, wantErr: ErrMalformedMessage},
		{name: "move without data", in: `{"action":"Move"}`, wantErr: ErrMalformedMessage},
		{name: "move at limit", in: `{"action":"Move","data":{"dx":10,"dy":-10}}`, want: ClientMessage{Action: ActionMove, Data: &MoveIntent{DX: 10, DY: -10}}},
		{name: "huge dx", in: `{"action":"Move","data":{"dx":1e308,"dy":0}}`, wantErr: ErrMalformedMessage},
		{name: "dy just past limit", in: `{"action":"Move","data":{"dx":0,"dy":-10.5}}`, wantErr: ErrMalformedMessage},
		{name: "overflowing number", in: `{"action":"Move","data":{"dx":1e400,"dy":0}}`, wantErr: ErrMalformedMessage},
		{name: "unknown action", in: `{"action":"Unknown","data":{}}`, wantErr: ErrUnknownAction},
		{name: "invalid json", in: `{"invalid": json`, wantErr: ErrMalformedMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeClientMessage([]byte(tt.in))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Action != tt.want.Action {
				t.Fatalf("action: got %q want %q", got.Action, tt.want.Action)
			}
			if (got.Data == nil) != (tt.want.Data == nil) || (got.Data != nil && *got.Data != *tt.want.Data) {
				t.Fatalf("data: got %+v want %+v", got.Data, tt.want.Data)
			}
		})
	}
}

func TestEncodePayload(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	raw, err := EncodePayload(sim.PlayerJoined{PlayerID: a, X: 10, Y: 20})
	if err != nil {
		t.Fatalf("encode joined: %v", err)
	}
	var joined struct {
		Event string           `json:"event"`
		Data  PlayerJoinedData `json:"data"`
	}
	if err := json.Unmarshal(raw, &joined); err != nil {
		t.Fatalf("decode joined: %v", err)
	}
	if joined.Event != EventPlayerJoined || joined.Data != (PlayerJoinedData{PlayerID: a.String(), X: 10, Y: 20}) {
		t.Fatalf("unexpected joined message %s", raw)
	}

	raw, err = EncodePayload(sim.PlayerStateSnapshot{Players: []sim.PlayerState{
		{PlayerID: a, X: 1, Y: 2},
		{PlayerID: b, X: 3, Y: 4},
	}})
	if err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
	var state struct {
		Event string          `json:"event"`
		Data  PlayerStateData `json:"data"`
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if state.Event != EventPlayerState || len(state.Data.Players) != 2 || state.Data.Players[1].PlayerID != b.String() {
		t.Fatalf("unexpected snapshot message %s", raw)
	}

	raw, err = EncodePayload(sim.PlayerStateSnapshot{})
	if err != nil {
		t.Fatalf("encode empty snapshot: %v", err)
	}
	if want := `{"event":"PlayerState","data":{"players":[]}}`; string(raw) != want {
		t.Fatalf("got %s want %s", raw, want)
	}

	raw, err = EncodePayload(sim.PlayerLeft{PlayerID: a})
	if err != nil {
		t.Fatalf("encode left: %v", err)
	}
	if want := `{"event":"PlayerLeft","data":{"player_id":"` + a.String() + `"}}`; string(raw) != want {
		t.Fatalf("got %s want %s", raw, want)
	}

	if _, err := EncodePayload(nil); err == nil {
		t.Fatalf("expected error for nil payload")
	}
}

// 即使有生产者绕过协议校验投递极端速度，快照也必须始终可编码
func TestSnapshotsEncodeAfterExtremeVelocity(t *testing.T) {
	cfg := sim.DefaultConfig()
	commands := sim.NewCommandQueue(cfg.InboundCapacity)
	events := sim.NewEventQueue(cfg.OutboundCapacity)
	engine := sim.NewEngine(cfg, commands, events, nil)

	fast, slow := uuid.New(), uuid.New()
	for _, cmd := range []sim.Command{
		sim.SpawnPlayer{PlayerID: fast},
		sim.SpawnPlayer{PlayerID: slow},
		sim.UpdateVelocity{PlayerID: fast, DX: math.MaxFloat64, DY: -math.MaxFloat64},
		sim.UpdateVelocity{PlayerID: slow, DX: math.NaN(), DY: 1},
	} {
		if err := commands.Send(context.Background(), cmd); err != nil {
			t.Fatalf("send %T: %v", cmd, err)
		}
	}

	snapshots := 0
	for i := 0; i < 6; i++ {
		engine.Step(time.Second)
		for {
			var ev sim.OutboundEvent
			select {
			case ev = <-events.Events():
			default:
			}
			if ev == nil {
				break
			}
			b, ok := ev.(sim.Broadcast)
			if !ok {
				continue
			}
			if _, ok := b.Payload.(sim.PlayerStateSnapshot); ok {
				snapshots++
			}
			if _, err := EncodePayload(b.Payload); err != nil {
				t.Fatalf("tick %d: encode %T: %v", i, b.Payload, err)
			}
		}
	}
	if snapshots != 6 {
		t.Fatalf("expected 6 snapshots, got %d", snapshots)
	}
}
