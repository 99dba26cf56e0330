package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	SnapshotPath          string
	SnapshotMaxBytes      int
	ClassifierURL         string
	TimeZone              string
	DashboardTTLSeconds   int
	AuthSecret            string
	AccessTokenTTLMinutes int
	OwnerPIN              string
}

func Load() Config {
	// Optional .env for local development; the real environment wins.
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	dashTTL, err := strconv.Atoi(getEnv("DASHBOARD_TTL_SECONDS", "30"))
	if err != nil || dashTTL < 1 {
		dashTTL = 30
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	maxBytes, err := strconv.Atoi(getEnv("SNAPSHOT_MAX_BYTES", "0"))
	if err != nil || maxBytes < 0 {
		maxBytes = 0
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		SnapshotPath:          os.Getenv("SNAPSHOT_PATH"),
		SnapshotMaxBytes:      maxBytes,
		ClassifierURL:         strings.TrimSpace(os.Getenv("CLASSIFIER_URL")),
		TimeZone:              getEnv("TIME_ZONE", "Local"),
		DashboardTTLSeconds:   dashTTL,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		OwnerPIN:              strings.TrimSpace(os.Getenv("OWNER_PIN")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
