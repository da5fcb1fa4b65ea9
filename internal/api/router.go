package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mathduel/mathduel-backend/internal/api/handlers"
	"github.com/mathduel/mathduel-backend/internal/api/middleware"
	"github.com/mathduel/mathduel-backend/internal/config"
	"github.com/mathduel/mathduel-backend/internal/game"
	"github.com/mathduel/mathduel-backend/internal/matchmaking"
	"github.com/mathduel/mathduel-backend/internal/notify"
	"github.com/mathduel/mathduel-backend/internal/player"
	"github.com/mathduel/mathduel-backend/internal/question"
	"github.com/mathduel/mathduel-backend/internal/repository"
	"github.com/mathduel/mathduel-backend/internal/websocket"
	"github.com/mathduel/mathduel-backend/pkg/database"
	"github.com/mathduel/mathduel-backend/pkg/distributed"
	jwtutil "github.com/mathduel/mathduel-backend/pkg/jwt"
	"github.com/mathduel/mathduel-backend/pkg/logger"
	"github.com/mathduel/mathduel-backend/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
)

// SetupRouter API 라우터 설정. 반환된 cleanup은 종료 시 백그라운드 루프를 멈춘다.
func SetupRouter(cfg *config.Config, db *database.DB, redisClient *redis.Client) (*gin.Engine, func()) {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 전역 미들웨어
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// 문제 풀 로드
	selector := question.NewSelector(logger.Named("question"))
	if err := selector.LoadFile(cfg.QuestionFile); err != nil {
		panic("Failed to load question pool: " + err.Error())
	}

	// Repository 초기화
	matchRepo := repository.NewMatchRepository(db)
	playerRepo := repository.NewPlayerRepository(db)
	recorder := repository.NewRecorder(matchRepo, playerRepo)

	// 플레이어 레지스트리 초기화 및 청소 루프 시작
	registry := player.NewRegistry(cfg.ReconnectGrace, cfg.InactivityLimit, logger.Named("player"))
	registry.StartSweep(time.Minute)

	// 게임 방 매니저 초기화 및 시작
	rooms := game.NewManager(cfg.RoomMaxAge, logger.Named("game"))
	rooms.StartSweep(cfg.RoomSweepInterval)

	// 매치메이킹 코디네이터 초기화 및 시작
	mmCfg := matchmaking.DefaultConfig()
	mmCfg.QueueEntryTTL = cfg.QueueEntryTTL
	mmCfg.FirstRetryDelay = cfg.FirstRetryDelay
	mmCfg.SecondRetryDelay = cfg.SecondRetryDelay
	mmCfg.SweepInterval = cfg.QueueSweepInterval
	mmCfg.QuestionsPerGame = cfg.QuestionsPerGame

	coordinator := matchmaking.NewCoordinator(
		distributed.NewMatchQueue(redisClient, cfg.QueueEntryTTL),
		distributed.NewLockManager(redisClient),
		registry,
		rooms,
		selector,
		recorder,
		mmCfg,
		logger.Named("matchmaking"),
	)
	coordinator.Start()

	// 푸시 알림 클라이언트
	notifier := notify.NewNotifier(cfg.PushServiceURL, logger.Named("notify"))

	// WebSocket 이벤트 처리기 + Hub 초기화 및 시작
	gameHandler := handlers.NewGameHandler(
		registry,
		coordinator,
		rooms,
		notifier,
		cfg.GameStartDelay,
		cfg.ReconnectGrace,
		logger.Named("events"),
	)
	wsHub := websocket.NewHub(gameHandler, logger.Named("websocket"))
	gameHandler.SetHub(wsHub)
	go wsHub.Run()

	rooms.SetStaleCallback(gameHandler.HandleRoomClosed)

	// 연결별 인바운드 이벤트 제한 (버스트 20, 초당 10)
	eventLimiter := ratelimit.NewLimiter(20, 10)

	// Handler 초기화
	jwtManager := jwtutil.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	authHandler := handlers.NewAuthHandler(jwtManager)
	wsHandler := handlers.NewWebSocketHandler(wsHub, eventLimiter, logger.Named("websocket"))
	statsHandler := handlers.NewStatsHandler(registry, coordinator, rooms, selector)
	matchHandler := handlers.NewMatchHandler(matchRepo, playerRepo)

	// Health check
	router.GET("/health", handlers.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		// WebSocket endpoint
		v1.GET("/ws", middleware.ConnectionRateLimit(), middleware.Auth(cfg), wsHandler.HandleWebSocket)

		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/guest", middleware.ConnectionRateLimit(), authHandler.GuestSession)
		}

		// Stats routes
		stats := v1.Group("/stats")
		stats.Use(middleware.GeneralAPIRateLimit())
		{
			stats.GET("", statsHandler.GetStats)
			stats.GET("/queue", statsHandler.GetQueueStatus)
			stats.GET("/questions", statsHandler.GetQuestionPools)
		}

		// Match routes
		matches := v1.Group("/matches")
		matches.Use(middleware.GeneralAPIRateLimit())
		{
			matches.GET("/:id", matchHandler.GetMatch)
			matches.GET("/player/:playerId", matchHandler.ListMatchesByPlayer)
		}

		// Leaderboard
		v1.GET("/leaderboard", middleware.GeneralAPIRateLimit(), matchHandler.GetLeaderboard)
	}

	cleanup := func() {
		coordinator.Stop()
		rooms.Stop()
		registry.Stop()
		eventLimiter.Close()
	}

	return router, cleanup
}
