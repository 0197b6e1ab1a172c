// Package store 客户端身份（房间、显示名、中继地址）的键值持久化端口
package store

import (
	"errors"
	"sync"
)

// ErrUnavailable 存储不可读写时返回
var ErrUnavailable = errors.New("store: unavailable")

// KV 按键存取字符串
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
}

// Memory 进程内 KV
type Memory struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemory() *Memory {
	return &Memory{m: make(map[string]string)}
}

func (s *Memory) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *Memory) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func (s *Memory) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

// Unavailable 所有调用都失败（类似浏览器隐私模式下的存储）
type Unavailable struct{}

func (Unavailable) Get(string) (string, bool, error) { return "", false, ErrUnavailable }
func (Unavailable) Set(string, string) error         { return ErrUnavailable }
func (Unavailable) Remove(string) error              { return ErrUnavailable }
