package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 同一个 key 拿到的是同一把锁，临界区互斥
func TestLocalLockerMutualExclusion(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := locker.New(ApproveKey("INV-1"))
			require.NoError(t, l.Lock(ctx, time.Millisecond, 3))
			defer l.Unlock(ctx)
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

// 不同 key 互不阻塞
func TestLocalLockerIndependentKeys(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	a := locker.New(ApproveKey("INV-a"))
	require.NoError(t, a.Lock(ctx, time.Millisecond, 3))
	defer a.Unlock(ctx)

	done := make(chan struct{})
	go func() {
		b := locker.New(ClaimKey(7))
		require.NoError(t, b.Lock(ctx, time.Millisecond, 3))
		b.Unlock(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("不同 key 的锁不应相互阻塞")
	}
}
