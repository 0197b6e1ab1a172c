// Package localbus 同设备发布/订阅端口，实时客户端在中继不可达时使用
package localbus

import "sync"

// Bus 将消息投递给频道的所有订阅者，包括发布者自己的订阅
type Bus interface {
	Publish(channel string, payload []byte)
	Subscribe(channel string, fn func(payload []byte)) (cancel func())
}

// Memory 进程内 Bus。每个订阅者一个协程：投递异步、单订阅者内有序，
// 回调中再发布不会死锁
type Memory struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	fn func([]byte)

	mu     sync.Mutex
	queue  [][]byte
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[*subscriber]struct{})}
}

func (b *Memory) Publish(channel string, payload []byte) {
	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs[channel]))
	for s := range b.subs[channel] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.push(payload)
	}
}

func (b *Memory) Subscribe(channel string, fn func([]byte)) func() {
	s := &subscriber{
		fn:     fn,
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*subscriber]struct{})
	}
	b.subs[channel][s] = struct{}{}
	b.mu.Unlock()

	go s.run()

	return func() {
		b.mu.Lock()
		if set, ok := b.subs[channel]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(b.subs, channel)
			}
		}
		b.mu.Unlock()
		s.once.Do(func() { close(s.closed) })
	}
}

// Subscribers 返回频道的订阅数
func (b *Memory) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

func (s *subscriber) push(payload []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, payload)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.closed:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.closed:
				return
			default:
			}
			s.fn(next)
		}
	}
}

// Shared 进程级共享总线，相当于浏览器的同一个 origin
var Shared = NewMemory()
