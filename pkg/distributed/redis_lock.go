package distributed

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

// PairLock 매치 생성 구간을 보호하는 Redis 분산 락.
// 두 탐색이 동시에 같은 쌍을 발견해도 한쪽만 방을 만들도록 한다.
type PairLock struct {
	client *redis.Client
	key    string
	value  string
}

// LockManager 분산 락 관리자
type LockManager struct {
	client *redis.Client
}

// NewLockManager LockManager 생성
func NewLockManager(client *redis.Client) *LockManager {
	return &LockManager{client: client}
}

// Acquire SET NX로 원자적 락 획득. 이미 잡혀 있으면 ErrLockNotAcquired.
func (m *LockManager) Acquire(ctx context.Context, key, value string, ttl time.Duration) (*PairLock, error) {
	ok, err := m.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	return &PairLock{
		client: m.client,
		key:    key,
		value:  value,
	}, nil
}

// Release 자신이 획득한 락만 해제 (Lua로 소유 검사와 삭제를 원자화)
func (l *PairLock) Release(ctx context.Context) error {
	script := redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`)

	result, err := script.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend 자신이 획득한 락만 TTL 연장
func (l *PairLock) Extend(ctx context.Context, extension time.Duration) error {
	script := redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)

	result, err := script.Run(ctx, l.client, []string{l.key}, l.value, extension.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// IsHeld 락이 아직 자신의 소유인지 확인
func (l *PairLock) IsHeld(ctx context.Context) (bool, error) {
	value, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return value == l.value, nil
}
