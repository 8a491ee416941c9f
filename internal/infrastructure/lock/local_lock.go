package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLocker 单进程互斥锁工厂
// 单实例部署或测试环境下替代 Redis，按 key 维护一张互斥量表
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*sync.Mutex)}
}

func (f *LocalLocker) New(key string) Lock {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.locks[key]
	if !ok {
		m = &sync.Mutex{}
		f.locks[key] = m
	}
	return &localLock{m: m}
}

type localLock struct {
	m *sync.Mutex
}

func (l *localLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	l.m.Lock()
	return nil
}

func (l *localLock) Unlock(ctx context.Context) error {
	l.m.Unlock()
	return nil
}
