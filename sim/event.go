package sim

// OutboundEvent 出站事件，由 Tick 产生，网络层负责序列化与路由
type OutboundEvent interface {
	isOutboundEvent()
}

// SendToOne 仅发送给指定玩家
type SendToOne struct {
	PlayerID PlayerID
	Payload  Payload
}

// Broadcast 发送给所有在线玩家
type Broadcast struct {
	Payload Payload
}

// PlayerDisconnected 仅作通知：连接的实际清理由网络层负责
type PlayerDisconnected struct {
	PlayerID PlayerID
}

func (SendToOne) isOutboundEvent()          {}
func (Broadcast) isOutboundEvent()          {}
func (PlayerDisconnected) isOutboundEvent() {}

// Payload 出站事件携带的消息体
type Payload interface {
	isPayload()
}

// PlayerJoined 玩家加入（及其当前位置）
type PlayerJoined struct {
	PlayerID PlayerID
	X        float64
	Y        float64
}

// PlayerLeft 玩家离开
type PlayerLeft struct {
	PlayerID PlayerID
}

// PlayerState 快照中单个玩家的位置
type PlayerState struct {
	PlayerID PlayerID
	X        float64
	Y        float64
}

// PlayerStateSnapshot 全量世界快照，顺序与实体存储迭代顺序一致
type PlayerStateSnapshot struct {
	Players []PlayerState
}

func (PlayerJoined) isPayload()        {}
func (PlayerLeft) isPayload()          {}
func (PlayerStateSnapshot) isPayload() {}
