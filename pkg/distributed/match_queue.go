package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrTicketExpired = errors.New("queue ticket expired")

// NumBuckets 전체 레이팅 범위를 나누는 고정 밴드 수
const NumBuckets = 6

const bucketWidth = 400

// Ticket 대기 중인 플레이어의 메타데이터. TTL과 함께 저장되어
// 크래시한 프로세스의 잔존 엔트리를 자가 회복한다.
type Ticket struct {
	TicketID   string    `json:"ticketId"`
	PlayerID   string    `json:"playerId"`
	Rating     int       `json:"rating"`
	Difficulty string    `json:"difficulty"`
	TimeLimit  int       `json:"timeLimit"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// MatchQueue Redis Sorted Set 기반 분산 매칭 대기열.
// (난이도, 제한시간, 레이팅 버킷)별 ZSET에 member=playerID, score=rating으로 저장한다.
type MatchQueue struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMatchQueue MatchQueue 생성. ttl은 대기 메타데이터 유효 기간.
func NewMatchQueue(client *redis.Client, ttl time.Duration) *MatchQueue {
	return &MatchQueue{
		client: client,
		ttl:    ttl,
	}
}

// BucketFor 레이팅이 속하는 버킷 인덱스 (0 ~ NumBuckets-1)
func BucketFor(rating int) int {
	if rating < 0 {
		return 0
	}
	b := rating / bucketWidth
	if b >= NumBuckets {
		return NumBuckets - 1
	}
	return b
}

// AdjacentBuckets 자기 버킷과 양옆 버킷
func AdjacentBuckets(bucket int) []int {
	buckets := []int{bucket}
	if bucket > 0 {
		buckets = append(buckets, bucket-1)
	}
	if bucket < NumBuckets-1 {
		buckets = append(buckets, bucket+1)
	}
	return buckets
}

// AllBuckets 전체 버킷 목록
func AllBuckets() []int {
	buckets := make([]int, NumBuckets)
	for i := range buckets {
		buckets[i] = i
	}
	return buckets
}

func (q *MatchQueue) queueKey(difficulty string, timeLimit, bucket int) string {
	return fmt.Sprintf("mm:queue:%s:%d:%d", difficulty, timeLimit, bucket)
}

func (q *MatchQueue) ticketKey(playerID string) string {
	return "mm:ticket:" + playerID
}

// Add 대기열에 추가. ZSET 엔트리와 TTL 메타데이터를 함께 기록한다.
func (q *MatchQueue) Add(ctx context.Context, t *Ticket) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}

	key := q.queueKey(t.Difficulty, t.TimeLimit, BucketFor(t.Rating))

	pipe := q.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(t.Rating), Member: t.PlayerID})
	pipe.Set(ctx, q.ticketKey(t.PlayerID), data, q.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}

	return nil
}

// Remove 대기열에서 제거. 모든 버킷과 메타데이터를 지우며 멱등하다.
func (q *MatchQueue) Remove(ctx context.Context, playerID, difficulty string, timeLimit int) error {
	pipe := q.client.Pipeline()
	for _, b := range AllBuckets() {
		pipe.ZRem(ctx, q.queueKey(difficulty, timeLimit, b), playerID)
	}
	pipe.Del(ctx, q.ticketKey(playerID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove from queue: %w", err)
	}
	return nil
}

// Ticket 메타데이터 조회. 만료되었으면 (nil, nil).
func (q *MatchQueue) Ticket(ctx context.Context, playerID string) (*Ticket, error) {
	raw, err := q.client.Get(ctx, q.ticketKey(playerID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}

	var t Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket: %w", err)
	}
	return &t, nil
}

// Candidates 지정 버킷들에서 아직 유효한 대기자 티켓 조회.
// 메타데이터가 만료된 엔트리는 건너뛴다 (청소는 SweepExpired 담당).
func (q *MatchQueue) Candidates(ctx context.Context, difficulty string, timeLimit int, buckets []int, excludeID string) ([]Ticket, error) {
	var out []Ticket

	for _, b := range buckets {
		members, err := q.client.ZRangeWithScores(ctx, q.queueKey(difficulty, timeLimit, b), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan bucket %d: %w", b, err)
		}

		for _, m := range members {
			playerID, ok := m.Member.(string)
			if !ok || playerID == excludeID {
				continue
			}

			t, err := q.Ticket(ctx, playerID)
			if err != nil {
				return nil, err
			}
			if t == nil {
				continue
			}
			// 난이도/제한시간 재검증
			if t.Difficulty != difficulty || t.TimeLimit != timeLimit {
				continue
			}
			out = append(out, *t)
		}
	}

	return out, nil
}

// SweepExpired 메타데이터가 만료된 ZSET 엔트리 제거.
// 크래시한 프로세스나 누락된 취소를 복구한다.
func (q *MatchQueue) SweepExpired(ctx context.Context, difficulties []string, timeLimits []int) (int, error) {
	removed := 0

	for _, d := range difficulties {
		for _, tl := range timeLimits {
			for _, b := range AllBuckets() {
				key := q.queueKey(d, tl, b)
				members, err := q.client.ZRange(ctx, key, 0, -1).Result()
				if err != nil {
					return removed, fmt.Errorf("failed to scan %s: %w", key, err)
				}

				for _, playerID := range members {
					exists, err := q.client.Exists(ctx, q.ticketKey(playerID)).Result()
					if err != nil {
						return removed, err
					}
					if exists == 0 {
						if err := q.client.ZRem(ctx, key, playerID).Err(); err != nil {
							return removed, err
						}
						removed++
					}
				}
			}
		}
	}

	return removed, nil
}

// Size 지정 조합의 전체 대기 인원
func (q *MatchQueue) Size(ctx context.Context, difficulty string, timeLimit int) (int64, error) {
	var total int64
	for _, b := range AllBuckets() {
		n, err := q.client.ZCard(ctx, q.queueKey(difficulty, timeLimit, b)).Result()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
