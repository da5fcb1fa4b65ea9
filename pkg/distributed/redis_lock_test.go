package distributed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLockManager(t *testing.T) (*miniredis.Miniredis, *LockManager) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(func() { mr.Close() })

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, NewLockManager(client)
}

func TestPairLock_AcquireAndRelease(t *testing.T) {
	_, manager := setupLockManager(t)
	ctx := context.Background()

	lock, err := manager.Acquire(ctx, "test:lock", "instance1", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lock)

	// 다른 인스턴스의 획득 시도는 실패해야 함
	lock2, err := manager.Acquire(ctx, "test:lock", "instance2", 5*time.Second)
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.Nil(t, lock2)

	require.NoError(t, lock.Release(ctx))

	// 해제 후 다시 획득 가능
	lock3, err := manager.Acquire(ctx, "test:lock", "instance3", 5*time.Second)
	assert.NoError(t, err)
	assert.NotNil(t, lock3)
}

func TestPairLock_AutoExpire(t *testing.T) {
	mr, manager := setupLockManager(t)
	ctx := context.Background()

	lock, err := manager.Acquire(ctx, "test:expire", "instance1", time.Second)
	require.NoError(t, err)

	held, err := lock.IsHeld(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	mr.FastForward(2 * time.Second)

	held, err = lock.IsHeld(ctx)
	require.NoError(t, err)
	assert.False(t, held)

	// 만료 후 다른 인스턴스가 획득 가능
	_, err = manager.Acquire(ctx, "test:expire", "instance2", 5*time.Second)
	assert.NoError(t, err)
}

func TestPairLock_SafeRelease(t *testing.T) {
	mr, manager := setupLockManager(t)
	ctx := context.Background()

	lock1, err := manager.Acquire(ctx, "test:safe", "instance1", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	lock2, err := manager.Acquire(ctx, "test:safe", "instance2", 5*time.Second)
	require.NoError(t, err)

	// 만료된 소유자의 해제는 다른 인스턴스의 락을 건드리지 못한다
	err = lock1.Release(ctx)
	assert.ErrorIs(t, err, ErrLockNotHeld)

	held, err := lock2.IsHeld(ctx)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestPairLock_Extend(t *testing.T) {
	mr, manager := setupLockManager(t)
	ctx := context.Background()

	lock, err := manager.Acquire(ctx, "test:extend", "instance1", time.Second)
	require.NoError(t, err)

	require.NoError(t, lock.Extend(ctx, 5*time.Second))

	// 원래 TTL을 지나도 연장 덕분에 유지된다
	mr.FastForward(2 * time.Second)
	held, err := lock.IsHeld(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	// 소유하지 않은 락은 연장할 수 없다
	mr.FastForward(10 * time.Second)
	_, err = manager.Acquire(ctx, "test:extend", "instance2", 5*time.Second)
	require.NoError(t, err)
	assert.ErrorIs(t, lock.Extend(ctx, time.Second), ErrLockNotHeld)
}

func TestPairLock_ConcurrentAcquire(t *testing.T) {
	_, manager := setupLockManager(t)

	const numGoroutines = 10
	var wg sync.WaitGroup
	successChan := make(chan string, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			ctx := context.Background()
			instanceID := fmt.Sprintf("instance%d", id)

			if _, err := manager.Acquire(ctx, "test:concurrent", instanceID, 5*time.Second); err == nil {
				successChan <- instanceID
			}
		}(i)
	}

	wg.Wait()
	close(successChan)

	winners := []string{}
	for winner := range successChan {
		winners = append(winners, winner)
	}

	assert.Len(t, winners, 1, "only one instance should acquire the lock")
}
