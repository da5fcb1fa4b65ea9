package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret     string
	JWTExpiration time.Duration

	// Questions
	QuestionFile string

	// Matchmaking
	QueueEntryTTL      time.Duration // 대기 메타데이터 TTL
	FirstRetryDelay    time.Duration // 인접 버킷 확장 지연
	SecondRetryDelay   time.Duration // 전체 버킷 확장 지연
	QueueSweepInterval time.Duration

	// Game
	GameStartDelay   time.Duration // match-found 후 시작 지연
	QuestionsPerGame int

	// Player
	ReconnectGrace   time.Duration
	InactivityLimit  time.Duration

	// Rooms
	RoomMaxAge        time.Duration // 강제 종료 상한
	RoomSweepInterval time.Duration

	// Notification Service
	PushServiceURL string

	// CORS
	CORSAllowedOrigins []string
}

func Load() (*Config, error) {
	// .env 파일 로드 (있는 경우)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:          getEnv("JWT_SECRET", "your-secret-key"),
		JWTExpiration:      parseDuration(getEnv("JWT_EXPIRATION", "24h"), 24*time.Hour),
		QuestionFile:       getEnv("QUESTION_FILE", "questions.json"),
		QueueEntryTTL:      parseDuration(getEnv("QUEUE_ENTRY_TTL", "3m"), 3*time.Minute),
		FirstRetryDelay:    parseDuration(getEnv("QUEUE_FIRST_RETRY", "5s"), 5*time.Second),
		SecondRetryDelay:   parseDuration(getEnv("QUEUE_SECOND_RETRY", "20s"), 20*time.Second),
		QueueSweepInterval: parseDuration(getEnv("QUEUE_SWEEP_INTERVAL", "30s"), 30*time.Second),
		GameStartDelay:     parseDuration(getEnv("GAME_START_DELAY", "3s"), 3*time.Second),
		QuestionsPerGame:   parseInt(getEnv("QUESTIONS_PER_GAME", "10"), 10),
		ReconnectGrace:     parseDuration(getEnv("RECONNECT_GRACE", "5s"), 5*time.Second),
		InactivityLimit:    parseDuration(getEnv("INACTIVITY_LIMIT", "10m"), 10*time.Minute),
		RoomMaxAge:         parseDuration(getEnv("ROOM_MAX_AGE", "15m"), 15*time.Minute),
		RoomSweepInterval:  parseDuration(getEnv("ROOM_SWEEP_INTERVAL", "1m"), time.Minute),
		PushServiceURL:     getEnv("PUSH_SERVICE_URL", ""),
		CORSAllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
