package sim

import "github.com/google/uuid"

// PlayerID 玩家唯一标识，由网络层在建立连接时分配
type PlayerID = uuid.UUID

// Vec2 二维向量（世界坐标或速度）
type Vec2 struct {
	X float64
	Y float64
}

// Player 实体的只读快照（服务端权威状态）
type Player struct {
	ID       PlayerID
	Position Vec2
	Velocity Vec2
}
