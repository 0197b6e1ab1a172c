package relay

import "sort"

// Room 共享同一房间名的连接集合
type Room struct {
	ID      string
	members map[string]*Connection
}

func newRoom(id string) *Room {
	return &Room{ID: id, members: make(map[string]*Connection)}
}

func (r *Room) Len() int { return len(r.members) }

// snapshot 按加入顺序返回成员副本；广播只遍历副本，不遍历原 map
func (r *Room) snapshot() []*Connection {
	out := make([]*Connection, 0, len(r.members))
	for _, c := range r.members {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].joinSeq < out[j].joinSeq })
	return out
}

// RoomManager 管理房间生命周期：首个成员加入时创建，最后一个离开时销毁。
// 仅由 hub 协程访问
type RoomManager struct {
	rooms   map[string]*Room
	joinSeq uint64
}

func NewRoomManager() *RoomManager {
	return &RoomManager{rooms: make(map[string]*Room)}
}

// Join 将 c 加入房间（必要时创建），返回是否新建
func (m *RoomManager) Join(id string, c *Connection) (*Room, bool) {
	r, ok := m.rooms[id]
	if !ok {
		r = newRoom(id)
		m.rooms[id] = r
	}
	m.joinSeq++
	c.joinSeq = m.joinSeq
	r.members[c.ID] = c
	return r, !ok
}

// Leave 将 c 移出房间，返回房间是否被销毁
func (m *RoomManager) Leave(id string, c *Connection) (*Room, bool) {
	r, ok := m.rooms[id]
	if !ok {
		return nil, false
	}
	delete(r.members, c.ID)
	if r.Len() == 0 {
		delete(m.rooms, id)
		return r, true
	}
	return r, false
}

func (m *RoomManager) Get(id string) (*Room, bool) {
	r, ok := m.rooms[id]
	return r, ok
}

func (m *RoomManager) Len() int { return len(m.rooms) }

// IDs 返回排序后的房间名
func (m *RoomManager) IDs() []string {
	out := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
