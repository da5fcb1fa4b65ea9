package question

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/mathduel/mathduel-backend/internal/models"
	"go.uber.org/zap"
)

var ErrNoQuestionsAvailable = errors.New("no questions available")

// qmRange 문제 미터 값 구간과 대응 레벨
type qmRange struct {
	level int
	start int
	end   int
}

var qmRanges = []qmRange{
	{1, 0, 5},
	{2, 6, 9},
	{3, 10, 13},
	{4, 14, 17},
	{5, 18, 21},
	{6, 22, 25},
	{7, 26, 29},
	{8, 30, 33},
	{9, 34, 37},
	{10, 38, 45},
}

// meterTier 미터 증감 판정용 레이팅 티어
type meterTier struct {
	maxRating int
	threshold int
}

var meterTiers = []meterTier{
	{400, 1},
	{800, 2},
	{1200, 2},
	{1600, 3},
	{2000, 4},
}

// Selector 시작 시 적재된 문제 풀에서 (난이도, 레벨) 기준으로 문제를 추출한다.
type Selector struct {
	mu        sync.RWMutex
	pools     map[string][]models.Question // difficulty_level -> questions
	tagPools  map[string][]models.Question // difficulty_level_tags -> 필터 캐시
	total     int
	rng       *rand.Rand
	rngMu     sync.Mutex
	logger    *zap.Logger
}

// NewSelector 빈 Selector 생성
func NewSelector(logger *zap.Logger) *Selector {
	return &Selector{
		pools:    make(map[string][]models.Question),
		tagPools: make(map[string][]models.Question),
		rng:      rand.New(rand.NewSource(rand.Int63())),
		logger:   logger,
	}
}

// LoadFile JSON 문제 파일을 풀에 적재
func (s *Selector) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read question file: %w", err)
	}

	var questions []models.Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return fmt.Errorf("failed to parse question file: %w", err)
	}

	s.Load(questions)
	return nil
}

// Load 문제 목록을 (난이도, 레벨) 복합 키로 색인
func (s *Selector) Load(questions []models.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pools = make(map[string][]models.Question)
	s.tagPools = make(map[string][]models.Question)
	s.total = len(questions)

	for _, q := range questions {
		key := poolKey(q.Difficulty, q.Level)
		s.pools[key] = append(s.pools[key], q)
	}

	s.logger.Info("Question pool loaded",
		zap.Int("total", s.total),
		zap.Int("pools", len(s.pools)))
}

// ResolveLevel 미터 또는 정적 휴리스틱으로 목표 레벨 결정.
// meter가 0 이상이면 미터가 우선한다.
func (s *Selector) ResolveLevel(rating int, difficulty models.Difficulty, meter int) int {
	if meter >= 0 {
		return levelFromMeter(meter)
	}
	return staticLevel(rating, difficulty)
}

// levelFromMeter 미터 값을 고정 구간표로 레벨 1-10에 사상
func levelFromMeter(meter int) int {
	for _, r := range qmRanges {
		if meter >= r.start && meter <= r.end {
			return r.level
		}
	}
	return 10
}

// staticLevel 미터가 없을 때의 레이팅 휴리스틱 (첫 문제 등)
func staticLevel(rating int, difficulty models.Difficulty) int {
	switch {
	case rating < 800:
		return 1
	case rating < 1200:
		return 2
	case rating < 1600:
		if difficulty == models.DifficultyEasy {
			return 2
		}
		return 3
	case rating < 2000:
		if difficulty == models.DifficultyHard {
			return 4
		}
		return 3
	default:
		switch difficulty {
		case models.DifficultyMedium:
			return 4
		case models.DifficultyHard:
			return 5
		default:
			return 3
		}
	}
}

// InitialMeter 두 참가자 중 낮은 레이팅 기준 초기 미터
func InitialMeter(rating1, rating2 int) int {
	lower := rating1
	if rating2 < lower {
		lower = rating2
	}

	switch {
	case lower < 800:
		return 2
	case lower < 1200:
		return 5
	case lower < 1600:
		return 8
	case lower < 2000:
		return 12
	default:
		return 15
	}
}

// MeterDelta 첫 응답자의 정오답에 따른 미터 증감.
// 문제 레벨이 레이팅 티어 임계값 이하면 +2, 초과면 +1, 오답은 항상 -1.
func MeterDelta(correct bool, rating, questionLevel int) int {
	if !correct {
		return -1
	}

	for _, tier := range meterTiers {
		if rating <= tier.maxRating {
			if questionLevel <= tier.threshold {
				return 2
			}
			return 1
		}
	}

	if questionLevel <= 5 {
		return 2
	}
	return 1
}

// ScoreIncrement 연속 정답 길이에 따른 가산점
func ScoreIncrement(streak int) int {
	switch {
	case streak <= 2:
		return 1
	case streak == 3:
		return 3
	case streak == 5:
		return 5
	case streak == 10:
		return 10
	case streak%10 == 0:
		return 10
	default:
		return 1
	}
}

// CheckAnswer 정규화된 문자열 일치 비교
func CheckAnswer(q models.Question, given string) bool {
	return strings.TrimSpace(given) == strings.TrimSpace(q.Answer)
}

// Draw (난이도, 레벨) 풀에서 무작위 한 문제 추출.
// tags가 주어지면 심볼이 하나라도 겹치는 문제로 제한하고,
// 필터 결과가 비면 무필터 풀로 폴백한다.
func (s *Selector) Draw(difficulty models.Difficulty, level int, tags []string) (models.Question, error) {
	key := poolKey(difficulty, level)

	if len(tags) > 0 {
		if q, ok := s.drawTagged(key, difficulty, level, tags); ok {
			return q, nil
		}
	}

	s.mu.RLock()
	pool := s.pools[key]
	s.mu.RUnlock()

	if len(pool) == 0 {
		return models.Question{}, fmt.Errorf("%w: difficulty=%s level=%d", ErrNoQuestionsAvailable, difficulty, level)
	}

	return pool[s.intn(len(pool))], nil
}

// drawTagged 태그 필터 캐시를 활용한 추출
func (s *Selector) drawTagged(key string, difficulty models.Difficulty, level int, tags []string) (models.Question, bool) {
	tagKey := key + "_" + tagCacheKey(tags)

	s.mu.RLock()
	pool, cached := s.tagPools[tagKey]
	s.mu.RUnlock()

	if !cached {
		s.mu.Lock()
		// 쓰기 락 획득 후 재확인
		pool, cached = s.tagPools[tagKey]
		if !cached {
			pool = filterByTags(s.pools[key], tags)
			if len(pool) > 0 {
				s.tagPools[tagKey] = pool
			}
		}
		s.mu.Unlock()
	}

	if len(pool) == 0 {
		return models.Question{}, false
	}

	return pool[s.intn(len(pool))], true
}

func filterByTags(pool []models.Question, tags []string) []models.Question {
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[strings.ToLower(strings.TrimSpace(t))] = true
	}

	var out []models.Question
	for _, q := range pool {
		if q.Symbol == "" {
			continue
		}
		for _, sym := range strings.Split(q.Symbol, ",") {
			if want[strings.ToLower(strings.TrimSpace(sym))] {
				out = append(out, q)
				break
			}
		}
	}
	return out
}

func (s *Selector) intn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}

func poolKey(difficulty models.Difficulty, level int) string {
	return fmt.Sprintf("%s_%d", difficulty, level)
}

func tagCacheKey(tags []string) string {
	norm := make([]string, 0, len(tags))
	for _, t := range tags {
		norm = append(norm, strings.ToLower(strings.TrimSpace(t)))
	}
	sort.Strings(norm)
	return strings.Join(norm, ",")
}

// PoolStats 풀 통계
type PoolStats struct {
	Total        int            `json:"total"`
	Pools        int            `json:"pools"`
	TagPools     int            `json:"tagPools"`
	ByDifficulty map[string]int `json:"byDifficulty"`
}

// Stats 적재된 풀 통계 조회
func (s *Selector) Stats() PoolStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := PoolStats{
		Total:        s.total,
		Pools:        len(s.pools),
		TagPools:     len(s.tagPools),
		ByDifficulty: make(map[string]int),
	}

	for key, pool := range s.pools {
		diff, _, found := strings.Cut(key, "_")
		if found {
			stats.ByDifficulty[diff] += len(pool)
		}
	}

	return stats
}
