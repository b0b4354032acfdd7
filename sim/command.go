package sim

// Command 入站意图命令，由网络层投递，在 Tick 中按 FIFO 顺序消费一次
type Command interface {
	isCommand()
}

// SpawnPlayer 新连接建立：在世界原点创建玩家
type SpawnPlayer struct {
	PlayerID PlayerID
}

// DespawnPlayer 连接关闭或出错：移除玩家
type DespawnPlayer struct {
	PlayerID PlayerID
}

// UpdateVelocity 客户端移动意图：设置玩家速度
type UpdateVelocity struct {
	PlayerID PlayerID
	DX       float64
	DY       float64
}

func (SpawnPlayer) isCommand()    {}
func (DespawnPlayer) isCommand()  {}
func (UpdateVelocity) isCommand() {}
