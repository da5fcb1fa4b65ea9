package player

import (
	"testing"
	"time"

	"github.com/mathduel/mathduel-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry(grace time.Duration) *Registry {
	return NewRegistry(grace, 10*time.Minute, zap.NewNop())
}

func TestRegistry_RegisterDefaults(t *testing.T) {
	r := newTestRegistry(time.Second)

	p := r.Register("conn-1", models.OnlinePlayer{ID: "alice", Username: "alice"})

	// 미지정 필드는 기본값으로 채워진다
	assert.Equal(t, 1200, p.Rating)
	assert.Equal(t, models.DifficultyMedium, p.Difficulty)
	assert.Equal(t, 60, p.TimeLimit)
	assert.Equal(t, "conn-1", p.ConnID)
}

func TestRegistry_Lookup(t *testing.T) {
	r := newTestRegistry(time.Second)
	r.Register("conn-1", models.OnlinePlayer{ID: "alice"})

	byConn, err := r.ByConn("conn-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", byConn.ID)

	byID, err := r.ByID("alice")
	require.NoError(t, err)
	assert.Equal(t, "conn-1", byID.ConnID)

	_, err = r.ByConn("missing")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
	_, err = r.ByID("missing")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestRegistry_ReconnectReplacesConn(t *testing.T) {
	r := newTestRegistry(time.Second)
	r.Register("conn-1", models.OnlinePlayer{ID: "alice", Rating: 1500})

	p := r.Register("conn-2", models.OnlinePlayer{ID: "alice"})

	// 연결 핸들은 교체되고 기존 레이팅은 유지된다
	assert.Equal(t, "conn-2", p.ConnID)
	assert.Equal(t, 1500, p.Rating)

	_, err := r.ByConn("conn-1")
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	got, err := r.ByConn("conn-2")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.ID)
}

func TestRegistry_ReconnectLeavesPriorRecordIntact(t *testing.T) {
	r := newTestRegistry(time.Second)

	first := r.Register("conn-1", models.OnlinePlayer{ID: "alice", Rating: 1000})
	second := r.Register("conn-2", models.OnlinePlayer{ID: "alice", Rating: 1100})

	// 진행 중인 게임이 들고 있는 이전 포인터는 제자리 수정되지 않는다
	assert.Equal(t, "conn-1", first.ConnID)
	assert.Equal(t, 1000, first.Rating)

	assert.Equal(t, "conn-2", second.ConnID)
	assert.Equal(t, 1100, second.Rating)

	connID, err := r.ConnIDFor("alice")
	require.NoError(t, err)
	assert.Equal(t, "conn-2", connID)
}

func TestRegistry_ConnIDFor(t *testing.T) {
	r := newTestRegistry(time.Second)
	r.Register("conn-1", models.OnlinePlayer{ID: "alice"})

	connID, err := r.ConnIDFor("alice")
	require.NoError(t, err)
	assert.Equal(t, "conn-1", connID)

	_, err = r.ConnIDFor("missing")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestRegistry_IsInGame(t *testing.T) {
	r := newTestRegistry(time.Second)
	r.Register("conn-1", models.OnlinePlayer{ID: "alice"})

	inGame, err := r.IsInGame("alice")
	require.NoError(t, err)
	assert.False(t, inGame)

	r.SetInGame("alice", true)
	inGame, err = r.IsInGame("alice")
	require.NoError(t, err)
	assert.True(t, inGame)

	_, err = r.IsInGame("missing")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestRegistry_RemoveAfterGrace(t *testing.T) {
	r := newTestRegistry(30 * time.Millisecond)
	r.Register("conn-1", models.OnlinePlayer{ID: "alice"})

	r.Remove("conn-1")

	// 연결 매핑은 즉시 사라진다
	_, err := r.ByConn("conn-1")
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	// 유예 내에는 ID 조회가 가능하다 (재접속 복구용)
	_, err = r.ByID("alice")
	assert.NoError(t, err)

	// 유예가 지나면 완전히 제거된다
	assert.Eventually(t, func() bool {
		_, err := r.ByID("alice")
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

func TestRegistry_ReconnectWithinGraceSurvives(t *testing.T) {
	r := newTestRegistry(50 * time.Millisecond)
	r.Register("conn-1", models.OnlinePlayer{ID: "alice"})

	r.Remove("conn-1")
	r.Register("conn-2", models.OnlinePlayer{ID: "alice"})

	// 유예가 지나도 새 연결로 살아있어야 한다
	time.Sleep(100 * time.Millisecond)

	p, err := r.ByID("alice")
	require.NoError(t, err)
	assert.Equal(t, "conn-2", p.ConnID)
}

func TestRegistry_SetInGame(t *testing.T) {
	r := newTestRegistry(time.Second)
	r.Register("conn-1", models.OnlinePlayer{ID: "alice"})

	r.SetInGame("alice", true)
	p, err := r.ByID("alice")
	require.NoError(t, err)
	assert.True(t, p.InGame)

	r.SetInGame("alice", false)
	assert.False(t, p.InGame)
}

func TestRegistry_InactiveSweep(t *testing.T) {
	r := NewRegistry(time.Second, 30*time.Millisecond, zap.NewNop())
	r.Register("conn-1", models.OnlinePlayer{ID: "alice"})
	r.Register("conn-2", models.OnlinePlayer{ID: "bob"})
	r.SetInGame("bob", true)

	r.StartSweep(10 * time.Millisecond)
	defer r.Stop()

	// 방치된 alice는 제거되고 게임 중인 bob은 남는다
	assert.Eventually(t, func() bool {
		_, err := r.ByID("alice")
		return err != nil
	}, time.Second, 10*time.Millisecond)

	_, err := r.ByID("bob")
	assert.NoError(t, err)
}

func TestRegistry_Statistics(t *testing.T) {
	r := newTestRegistry(time.Second)
	r.Register("conn-1", models.OnlinePlayer{ID: "alice", Difficulty: models.DifficultyEasy, TimeLimit: 30})
	r.Register("conn-2", models.OnlinePlayer{ID: "bob", Difficulty: models.DifficultyHard})
	r.SetInGame("bob", true)

	stats := r.Statistics()
	assert.Equal(t, 2, stats.Online)
	assert.Equal(t, 1, stats.InGame)
	assert.Equal(t, 1, stats.Searching)
	assert.Equal(t, 1, stats.ByDifficulty["easy"])
	assert.Equal(t, 1, stats.ByDifficulty["hard"])
	assert.Equal(t, 1, stats.ByTimeLimit[30])
	assert.Equal(t, 1, stats.ByTimeLimit[60])
}
