package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Scheduler SchedulerConfig
	Jobs      JobsConfig
	Database  DatabaseConfig
	Status    StatusConfig
	Logging   LoggingConfig
}

type SchedulerConfig struct {
	// Timezone is the IANA zone cron expressions are evaluated in
	Timezone         string
	InvalidJobPolicy string
	OverlapPolicy    string
	LockBackend      string
	// JobTimeout bounds a single invocation; zero disables it
	JobTimeout time.Duration
}

type JobsConfig struct {
	Source     string
	Prefix     string
	ScriptsDir string
	File       string
	Table      string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type StatusConfig struct {
	// Addr is the status server listen address; empty disables the server
	Addr string
}

type LoggingConfig struct {
	Level       string
	Pretty      bool
	Environment string
	Version     string
}

// Load reads the configuration from the environment. Variables from the
// dotenv file named by ENV_FILE (default .env) are applied first without
// overriding anything already set; a missing file is not an error.
func Load() (*Config, error) {
	if err := loadEnvFile(getEnv("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	return &Config{
		Scheduler: SchedulerConfig{
			Timezone:         getEnv("TZ", "Europe/Berlin"),
			InvalidJobPolicy: getEnv("INVALID_JOB_POLICY", "abort"),
			OverlapPolicy:    getEnv("OVERLAP_POLICY", "allow"),
			LockBackend:      getEnv("LOCK_BACKEND", "memory"),
			JobTimeout:       getEnvAsDuration("JOB_TIMEOUT", 0),
		},
		Jobs: JobsConfig{
			Source:     getEnv("JOB_SOURCE", "env"),
			Prefix:     getEnv("JOB_PREFIX", "RS_"),
			ScriptsDir: getEnv("SCRIPTS_DIR", "/code/scripts"),
			File:       getEnv("JOBS_FILE", "jobs.yaml"),
			Table:      getEnv("JOBS_TABLE", "scheduled_jobs"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "cronrunner"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "cronrunner"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Status: StatusConfig{
			Addr: getEnv("STATUS_ADDR", ""),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Pretty:      getEnvAsBool("LOG_PRETTY", false),
			Environment: getEnv("ENVIRONMENT", "development"),
			Version:     getEnv("SERVICE_VERSION", "unknown"),
		},
	}, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s", "5m") or a plain number of
// seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs := getEnvAsInt(key, -1); secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func (c *Config) DatabaseURL() string {
	// If DATABASE_URL is set, use it directly
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		return databaseURL
	}

	// Otherwise, construct from individual components
	return "postgres://" + c.Database.User + ":" + c.Database.Password +
		"@" + c.Database.Host + ":" + c.Database.Port +
		"/" + c.Database.DBName + "?sslmode=" + c.Database.SSLMode
}
