// Package peers 维护用于渲染的远端玩家：网络样本设定目标，
// Update 每帧把渲染姿态推向目标
package peers

import (
	"math"
	"sort"
	"sync"
	"time"

	"skillrelay/internal/protocol"
)

// DefaultSharpness 平滑系数 1-exp(-k*dt) 中的 k（每秒）
const DefaultSharpness = 12.0

// Pose 本帧应绘制的姿态
type Pose struct {
	X, Z, Yaw   float64
	Moving      bool
	Gathering   bool
	Attacking   bool
	Tool        string
	CombatStyle string
}

// World 为对端创建化身。Avatar 方法在持有注册表锁时调用，不得回调 Registry
type World interface {
	Spawn(id string) Avatar
}

type Avatar interface {
	SetPose(Pose)
	SetProfile(name, color string)
	Dispose()
}

// Entry 一个远端玩家
type Entry struct {
	ID    string
	Name  string
	Color string

	TargetX, TargetZ, TargetYaw float64
	Pose
	Initialized bool
}

type entry struct {
	Entry
	avatar Avatar
}

// Registry 对端 id → 插值状态，并发安全
type Registry struct {
	mu        sync.Mutex
	world     World
	sharpness float64
	self      string
	entries   map[string]*entry
}

// New 创建空注册表；world 可为 nil
func New(world World) *Registry {
	return &Registry{
		world:     world,
		sharpness: DefaultSharpness,
		entries:   make(map[string]*entry),
	}
}

// SetSharpness 覆盖平滑速率；非正值忽略
func (r *Registry) SetSharpness(k float64) {
	if k <= 0 {
		return
	}
	r.mu.Lock()
	r.sharpness = k
	r.mu.Unlock()
}

// SetLocalID 记录本端 id：删除已有条目，之后拒绝该 id 的更新
func (r *Registry) SetLocalID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.self = id
	if id != "" {
		r.removeLocked(id)
	}
}

// Upsert 创建或更新名字与颜色；空字段保持原值。本端 id 返回 false
func (r *Registry) Upsert(p protocol.Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.getOrCreateLocked(p.ID)
	if e == nil {
		return false
	}
	if p.Name != "" {
		e.Name = p.Name
	}
	if p.Color != "" {
		e.Color = p.Color
	}
	if e.avatar != nil {
		e.avatar.SetProfile(e.Name, e.Color)
	}
	return true
}

// ApplyState 用网络样本设定目标；首个样本直接落在目标位置
func (r *Registry) ApplyState(id string, st protocol.PlayerState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.getOrCreateLocked(id)
	if e == nil {
		return false
	}
	e.TargetX, e.TargetZ, e.TargetYaw = st.X, st.Z, wrapAngle(st.Yaw)
	e.Moving = st.Moving
	e.Gathering = st.Gathering
	e.Attacking = st.Attacking
	e.Tool = st.Tool
	e.CombatStyle = st.CombatStyle
	if !e.Initialized {
		e.X, e.Z, e.Yaw = e.TargetX, e.TargetZ, e.TargetYaw
		e.Initialized = true
	}
	if e.avatar != nil {
		e.avatar.SetPose(e.Pose)
	}
	return true
}

// SetSnapshot 与完整成员列表对账：不在列表中的删除，其余 upsert 并应用状态
func (r *Registry) SetSnapshot(list []protocol.Peer) {
	keep := make(map[string]struct{}, len(list))
	for _, p := range list {
		keep[p.ID] = struct{}{}
	}
	r.mu.Lock()
	for id := range r.entries {
		if _, ok := keep[id]; !ok {
			r.removeLocked(id)
		}
	}
	r.mu.Unlock()

	for _, p := range list {
		if !r.Upsert(p) {
			continue
		}
		if p.State != nil {
			r.ApplyState(p.ID, *p.State)
		}
	}
}

// Remove 删除对端并释放其化身
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.entries {
		r.removeLocked(id)
	}
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Get 返回条目副本
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.Entry, true
}

// IDs 排序后的 id 列表
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Update 按 dt 将已初始化的条目推向目标；朝向走最短弧
func (r *Registry) Update(dt time.Duration) {
	if dt <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	alpha := 1 - math.Exp(-r.sharpness*dt.Seconds())
	for _, e := range r.entries {
		if !e.Initialized {
			continue
		}
		e.X += (e.TargetX - e.X) * alpha
		e.Z += (e.TargetZ - e.Z) * alpha
		e.Yaw = wrapAngle(e.Yaw + wrapAngle(e.TargetYaw-e.Yaw)*alpha)
		if e.avatar != nil {
			e.avatar.SetPose(e.Pose)
		}
	}
}

func (r *Registry) getOrCreateLocked(id string) *entry {
	if id == "" || id == r.self {
		return nil
	}
	if e, ok := r.entries[id]; ok {
		return e
	}
	e := &entry{Entry: Entry{ID: id, Name: protocol.DefaultName, Color: protocol.DefaultColor}}
	if r.world != nil {
		e.avatar = r.world.Spawn(id)
	}
	r.entries[id] = e
	return e
}

func (r *Registry) removeLocked(id string) bool {
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	delete(r.entries, id)
	if e.avatar != nil {
		e.avatar.Dispose()
	}
	return true
}

// wrapAngle 映射到 [-π, π)
func wrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
