package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig PostgreSQL 连接配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 构建数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// TelnyxConfig 电话服务商配置
// A missing APIKey is a hard precondition failure for the scan job;
// missing ConnectionID / FromNumber only suppresses call placement.
type TelnyxConfig struct {
	APIBase      string
	APIKey       string
	ConnectionID string
	FromNumber   string
}

// Config 漏打卡升级服务配置
type Config struct {
	HTTP struct {
		Addr string
	}

	Database DatabaseConfig

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	Telnyx TelnyxConfig

	FCM struct {
		Endpoint  string
		ServerKey string
	}

	Scan struct {
		IntervalMin   int // scheduler cadence (minutes)
		PageSize      int // max users per pass
		TokenCacheTTL int // device token cache TTL (seconds)
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置（带默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "lifesignal")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "10"), 10)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.Telnyx.APIBase = getEnv("TELNYX_API_BASE", "https://api.telnyx.com/v2")
	cfg.Telnyx.APIKey = getEnv("TELNYX_API_KEY", "")
	cfg.Telnyx.ConnectionID = getEnv("TELNYX_APPLICATION_ID", "")
	cfg.Telnyx.FromNumber = getEnv("TELNYX_FROM_NUMBER", "")

	cfg.FCM.Endpoint = getEnv("FCM_ENDPOINT", "https://fcm.googleapis.com/fcm/send")
	cfg.FCM.ServerKey = getEnv("FCM_SERVER_KEY", "")

	cfg.Scan.IntervalMin = parseInt(getEnv("SCAN_INTERVAL_MIN", "5"), 5)
	cfg.Scan.PageSize = parseInt(getEnv("SCAN_PAGE_SIZE", "200"), 200)
	cfg.Scan.TokenCacheTTL = parseInt(getEnv("TOKEN_CACHE_TTL_SEC", "300"), 300)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
