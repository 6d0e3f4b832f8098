package lock

import (
	"context"
	"sync"
)

// LocalAccountLocker 单实例部署时的进程内按 key 互斥锁
// 每个 key 对应一个容量为 1 的 channel，可以响应 ctx 取消；无人持有时回收
type LocalAccountLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalAccountLocker() *LocalAccountLocker {
	return &LocalAccountLocker{slots: make(map[string]*slot)}
}

func (l *LocalAccountLocker) LockAccount(ctx context.Context, name string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[name]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[name] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(name, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(name, s)
		})
	}, nil
}

func (l *LocalAccountLocker) release(name string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, name)
	}
}

func (l *LocalAccountLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
