package rcu

import (
	"sync/atomic"
)

// Snapshot 是一个基于 RCU（Read-Copy-Update）的无锁快照容器
// 读操作无锁；写操作复制后通过原子指针整体替换，读者总是看到完整的一版数据。
// 用于频繁读取、偶尔更新的共享数据（如频道白名单）。
type Snapshot[T any] struct {
	ptr atomic.Pointer[T]
}

// NewSnapshot 创建快照容器并写入初始值
func NewSnapshot[T any](init *T) *Snapshot[T] {
	s := &Snapshot[T]{}
	s.ptr.Store(init)
	return s
}

// Load 返回当前快照，调用方不得修改返回的数据
func (s *Snapshot[T]) Load() *T {
	return s.ptr.Load()
}

// Replace 用新快照替换当前快照
// 调用方需保证 next 是新分配的副本
func (s *Snapshot[T]) Replace(next *T) {
	s.ptr.Store(next)
}

// Update applies fn to a private copy of the current value and publishes
// the result. fn may run more than once under contention, so it must not
// have side effects; it must return a new value rather than mutate old.
func (s *Snapshot[T]) Update(fn func(old *T) *T) *T {
	for {
		old := s.ptr.Load()
		next := fn(old)
		if s.ptr.CompareAndSwap(old, next) {
			return next
		}
	}
}
