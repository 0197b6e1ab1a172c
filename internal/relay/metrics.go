package relay

import "sync/atomic"

// Metrics 中继运行指标（任意协程可读）
type Metrics struct {
	ConnectionsOpened int64 // 接入的连接数
	ConnectionsClosed int64 // 断开的连接数
	FramesIn          int64 // 读到的文本帧
	FramesMalformed   int64 // 无法解码而丢弃的帧
	FramesIgnored     int64 // hello 之前收到的合法帧
	SendsDropped      int64 // 因发送队列满丢弃的帧
	MessagesOut       int64 // 入队的出站帧
	Joins             int64 // 处理的 hello 数
	Announcements     int64 // 运维公告次数
	Rooms             int64 // 当前房间数
}

func (m *Metrics) IncOpened()    { atomic.AddInt64(&m.ConnectionsOpened, 1) }
func (m *Metrics) IncClosed()    { atomic.AddInt64(&m.ConnectionsClosed, 1) }
func (m *Metrics) IncFrameIn()   { atomic.AddInt64(&m.FramesIn, 1) }
func (m *Metrics) IncMalformed() { atomic.AddInt64(&m.FramesMalformed, 1) }
func (m *Metrics) IncIgnored()   { atomic.AddInt64(&m.FramesIgnored, 1) }
func (m *Metrics) IncDropped()   { atomic.AddInt64(&m.SendsDropped, 1) }
func (m *Metrics) IncOut()       { atomic.AddInt64(&m.MessagesOut, 1) }
func (m *Metrics) IncJoin()      { atomic.AddInt64(&m.Joins, 1) }
func (m *Metrics) IncAnnounce()  { atomic.AddInt64(&m.Announcements, 1) }
func (m *Metrics) SetRooms(n int) {
	atomic.StoreInt64(&m.Rooms, int64(n))
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	opened := atomic.LoadInt64(&m.ConnectionsOpened)
	closed := atomic.LoadInt64(&m.ConnectionsClosed)
	return map[string]any{
		"connections_open":  opened - closed,
		"connections_total": opened,
		"frames_in":         atomic.LoadInt64(&m.FramesIn),
		"frames_malformed":  atomic.LoadInt64(&m.FramesMalformed),
		"frames_ignored":    atomic.LoadInt64(&m.FramesIgnored),
		"sends_dropped":     atomic.LoadInt64(&m.SendsDropped),
		"messages_out":      atomic.LoadInt64(&m.MessagesOut),
		"joins":             atomic.LoadInt64(&m.Joins),
		"announcements":     atomic.LoadInt64(&m.Announcements),
		"rooms":             atomic.LoadInt64(&m.Rooms),
	}
}
