package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucket_Allow(t *testing.T) {
	tb := NewTokenBucket(3, 1)

	// 버스트 용량까지 허용
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())

	// 소진 후 거부
	assert.False(t, tb.Allow())
}

func TestTokenBucket_Refill(t *testing.T) {
	tb := NewTokenBucket(2, 2)

	assert.True(t, tb.AllowN(2))
	assert.False(t, tb.Allow())

	// 1초 경과 후 refillRate만큼 다시 채워진다
	tb.lastRefill = time.Now().Add(-time.Second)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestTokenBucket_RefillCapped(t *testing.T) {
	tb := NewTokenBucket(2, 10)

	// 오래 쉬어도 용량을 넘지 않는다
	tb.lastRefill = time.Now().Add(-time.Minute)
	assert.True(t, tb.AllowN(2))
	assert.False(t, tb.Allow())
}

func TestLimiter_PerKeyIsolation(t *testing.T) {
	l := NewLimiter(1, 1)
	defer l.Close()

	assert.True(t, l.Allow("conn-a"))
	assert.False(t, l.Allow("conn-a"))

	// 다른 연결은 영향받지 않는다
	assert.True(t, l.Allow("conn-b"))
}

func TestLimiter_Forget(t *testing.T) {
	l := NewLimiter(1, 1)
	defer l.Close()

	assert.True(t, l.Allow("conn-a"))
	assert.False(t, l.Allow("conn-a"))

	// 연결 종료 후 버킷이 비워져 새 연결은 새 버킷을 받는다
	l.Forget("conn-a")
	assert.True(t, l.Allow("conn-a"))
}

func TestLimiter_Statistics(t *testing.T) {
	l := NewLimiter(5, 2)
	defer l.Close()

	l.Allow("conn-a")
	l.Allow("conn-b")

	stats := l.Statistics()
	assert.Equal(t, 2, stats.ActiveBuckets)
	assert.Equal(t, int64(5), stats.Capacity)
	assert.Equal(t, int64(2), stats.RefillRate)
}
