package sim

import "go.uber.org/zap"

// CommandProcessor 在 Tick 线程中解释命令并修改实体表
type CommandProcessor struct {
	store   *Store
	out     *EventQueue
	metrics *Metrics
	log     *zap.SugaredLogger
}

// Apply 执行单条命令；引用未知玩家的命令静默忽略
func (p *CommandProcessor) Apply(cmd Command) {
	switch c := cmd.(type) {
	case SpawnPlayer:
		p.spawn(c.PlayerID)
	case DespawnPlayer:
		p.despawn(c.PlayerID)
	case UpdateVelocity:
		if p.store.SetVelocity(c.PlayerID, Vec2{X: c.DX, Y: c.DY}) {
			p.metrics.incApplied()
		} else {
			p.metrics.incIgnored()
		}
	default:
		p.metrics.incIgnored()
	}
}

// spawn 先广播新玩家加入，再把已有玩家逐个补发给新玩家
func (p *CommandProcessor) spawn(id PlayerID) {
	if p.store.Insert(id) {
		p.log.Debugw("player respawned at origin", "player", id)
	} else {
		p.log.Debugw("player spawned", "player", id)
	}
	p.metrics.incApplied()

	p.publish(Broadcast{Payload: PlayerJoined{PlayerID: id}})
	p.store.Each(func(other Player) {
		if other.ID == id {
			return
		}
		p.publish(SendToOne{
			PlayerID: id,
			Payload:  PlayerJoined{PlayerID: other.ID, X: other.Position.X, Y: other.Position.Y},
		})
	})
}

// despawn 无论实体是否存在都广播离开
func (p *CommandProcessor) despawn(id PlayerID) {
	removed := p.store.Remove(id)
	if removed {
		p.metrics.incApplied()
		p.log.Debugw("player despawned", "player", id)
	} else {
		p.metrics.incIgnored()
	}
	p.publish(Broadcast{Payload: PlayerLeft{PlayerID: id}})
	if removed {
		p.publish(PlayerDisconnected{PlayerID: id})
	}
}

func (p *CommandProcessor) publish(ev OutboundEvent) {
	if err := p.out.Publish(ev); err != nil {
		p.metrics.incDropped()
	}
}
