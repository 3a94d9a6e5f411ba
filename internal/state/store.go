package state

import "sync"

// Store 可观察状态容器
// 所有变更通过 Update 以"旧值派生新值"的整体替换完成，
// 订阅者永远看到完整一致的值，不会观察到中间状态
type Store[T any] struct {
	mu     sync.RWMutex
	value  T
	subs   map[int]func(T)
	nextID int
}

// NewStore 创建状态容器
func NewStore[T any](initial T) *Store[T] {
	return &Store[T]{
		value: initial,
		subs:  make(map[int]func(T)),
	}
}

// Read 读取当前值
func (s *Store[T]) Read() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Update 以当前值派生新值并整体替换，随后通知订阅者
func (s *Store[T]) Update(fn func(T) T) {
	s.mu.Lock()
	s.value = fn(s.value)
	next := s.value

	listeners := make([]func(T), 0, len(s.subs))
	for _, sub := range s.subs {
		listeners = append(listeners, sub)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(next)
	}
}

// Subscribe 注册监听器，返回取消函数
func (s *Store[T]) Subscribe(fn func(T)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}
