package sim

import (
	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/filter"
)

type playerData struct {
	ID PlayerID
}

var (
	playerComponent   = donburi.NewComponentType[playerData]()
	positionComponent = donburi.NewComponentType[Vec2]()
	velocityComponent = donburi.NewComponentType[Vec2]()
)

// Store 权威实体表：基于 donburi ECS 世界，每个玩家一个实体
// 只允许 Tick 所在的单一执行上下文访问，因此不加锁
type Store struct {
	world   donburi.World
	players *donburi.Query
	index   map[PlayerID]donburi.Entity
}

// NewStore 创建空的实体表
func NewStore() *Store {
	return &Store{
		world:   donburi.NewWorld(),
		players: donburi.NewQuery(filter.Contains(playerComponent, positionComponent, velocityComponent)),
		index:   make(map[PlayerID]donburi.Entity),
	}
}

// Insert 在原点创建速度为零的玩家
// 若 id 已存在则将其重置到原点并返回 reset=true，不视为错误
func (s *Store) Insert(id PlayerID) (reset bool) {
	if entry, ok := s.entry(id); ok {
		positionComponent.SetValue(entry, Vec2{})
		velocityComponent.SetValue(entry, Vec2{})
		return true
	}
	e := s.world.Create(playerComponent, positionComponent, velocityComponent)
	playerComponent.SetValue(s.world.Entry(e), playerData{ID: id})
	s.index[id] = e
	return false
}

// Remove 删除玩家；不存在时为 no-op
func (s *Store) Remove(id PlayerID) bool {
	e, ok := s.index[id]
	if !ok {
		return false
	}
	delete(s.index, id)
	if !s.world.Valid(e) {
		return false
	}
	s.world.Remove(e)
	return true
}

// SetVelocity 更新玩家速度；不存在时为 no-op
func (s *Store) SetVelocity(id PlayerID, v Vec2) bool {
	entry, ok := s.entry(id)
	if !ok {
		return false
	}
	velocityComponent.SetValue(entry, v)
	return true
}

// Get 返回玩家快照
func (s *Store) Get(id PlayerID) (Player, bool) {
	entry, ok := s.entry(id)
	if !ok {
		return Player{}, false
	}
	return playerOf(entry), true
}

// Len 当前玩家数量
func (s *Store) Len() int {
	return len(s.index)
}

// Each 按存储顺序遍历所有玩家快照；仅在当前 Tick 内有效
func (s *Store) Each(fn func(Player)) {
	s.players.Each(s.world, func(entry *donburi.Entry) {
		fn(playerOf(entry))
	})
}

// Snapshot 将 Each 的结果物化为切片
func (s *Store) Snapshot() []Player {
	out := make([]Player, 0, s.Len())
	s.Each(func(p Player) {
		out = append(out, p)
	})
	return out
}

// move 供积分器原地修改位置
func (s *Store) move(fn func(pos *Vec2, vel Vec2)) {
	s.players.Each(s.world, func(entry *donburi.Entry) {
		fn(positionComponent.Get(entry), *velocityComponent.Get(entry))
	})
}

func (s *Store) entry(id PlayerID) (*donburi.Entry, bool) {
	e, ok := s.index[id]
	if !ok || !s.world.Valid(e) {
		return nil, false
	}
	return s.world.Entry(e), true
}

func playerOf(entry *donburi.Entry) Player {
	return Player{
		ID:       playerComponent.Get(entry).ID,
		Position: *positionComponent.Get(entry),
		Velocity: *velocityComponent.Get(entry),
	}
}
