package repo

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// lockManager 按键的排他锁，等待超过 wait 返回 ErrLockConflict，语义对应数据库的行锁等待超时
type lockManager struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
	wait  time.Duration
}

func newLockManager(wait time.Duration) *lockManager {
	return &lockManager{
		locks: make(map[string]chan struct{}),
		wait:  wait,
	}
}

// acquire 获取 key 的锁，持有者释放时唤醒所有等待者重新竞争
func (m *lockManager) acquire(ctx context.Context, key string) error {
	timer := time.NewTimer(m.wait)
	defer timer.Stop()

	for {
		m.mu.Lock()
		released, held := m.locks[key]
		if !held {
			m.locks[key] = make(chan struct{})
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()

		select {
		case <-released:
		case <-timer.C:
			return fmt.Errorf("%w: lock wait timeout exceeded on %s", ErrLockConflict, key)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *lockManager) release(key string) {
	m.mu.Lock()
	released, held := m.locks[key]
	if held {
		delete(m.locks, key)
	}
	m.mu.Unlock()
	if held {
		close(released)
	}
}
