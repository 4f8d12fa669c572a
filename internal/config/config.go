package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

type Config struct {
	Port          string
	BindAddr      string
	AllowedOrigin string

	DBDriver     string
	DatabasePath string
	DatabaseURL  string

	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ReportCacheTTLSeconds int

	SettingsPath   string
	BackupDir      string
	BackupSchedule string
	BackupRetain   int
	ManagerPIN     string

	AllowNegativeStock bool
	CommitMaxTries     int
	WorkerPoolSize     int

	LowStockThreshold int
	ExpiryWindowDays  int

	LogLevel  string
	LogFormat string
	LogFile   string
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Load reads the process environment. A .env file in the working directory
// fills in keys that are not already set.
func Load() Config {
	_ = godotenv.Load()

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	driver := strings.ToLower(strings.TrimSpace(os.Getenv("DB_DRIVER")))
	switch driver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		driver = DriverSQLite
		if databaseURL != "" {
			driver = DriverPostgres
		}
	}

	cfg := Config{
		Port:          getEnv("PORT", "8080"),
		BindAddr:      getEnv("BIND_ADDR", "127.0.0.1"),
		AllowedOrigin: os.Getenv("ALLOWED_ORIGIN"),

		DBDriver:     driver,
		DatabasePath: getEnv("DATABASE_PATH", "bodega.db"),
		DatabaseURL:  databaseURL,

		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getInt("REDIS_DB", 0, 0),
		ReportCacheTTLSeconds: getInt("REPORT_CACHE_TTL_SECONDS", 300, 1),

		SettingsPath:   getEnv("SETTINGS_PATH", "bodega_settings.db"),
		BackupDir:      getEnv("BACKUP_DIR", "backups"),
		BackupSchedule: strings.TrimSpace(os.Getenv("BACKUP_SCHEDULE")),
		BackupRetain:   getInt("BACKUP_RETAIN", 7, 0),
		ManagerPIN:     strings.TrimSpace(os.Getenv("MANAGER_PIN")),

		AllowNegativeStock: getBool("ALLOW_NEGATIVE_STOCK", false),
		CommitMaxTries:     getInt("COMMIT_MAX_TRIES", 3, 1),
		WorkerPoolSize:     getInt("WORKER_POOL_SIZE", 8, 1),

		LowStockThreshold: getInt("LOW_STOCK_THRESHOLD", 5, 0),
		ExpiryWindowDays:  getInt("EXPIRY_WINDOW_DAYS", 30, 1),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		LogFile:   strings.TrimSpace(os.Getenv("LOG_FILE")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%s", c.BindAddr, c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getInt falls back when the value is missing, malformed or below floor.
func getInt(key string, fallback int, floor int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	val, err := cast.ToIntE(raw)
	if err != nil || val < floor {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	val, err := cast.ToBoolE(raw)
	if err != nil {
		return fallback
	}
	return val
}
