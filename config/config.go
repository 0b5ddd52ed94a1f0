package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Host            string        `yaml:"host" env:"HTTP_HOST" env-default:""`
	Port            string        `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"CORS_ORIGINS" env-separator:"," env-default:"*"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"5s"`
}

type DatabaseConfig struct {
	URL         string `yaml:"url" env:"DATABASE_URL"`
	Host        string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port        string `yaml:"port" env:"DB_PORT" env-default:"5432"`
	User        string `yaml:"user" env:"DB_USER" env-default:"polls"`
	Password    string `yaml:"password" env:"DB_PASSWORD" env-default:"polls"`
	Name        string `yaml:"name" env:"DB_NAME" env-default:"polls"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"AUTO_MIGRATE" env-default:"false"`
}

type RedisConfig struct {
	Addr            string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password        string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB              int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	ResultsCacheTTL time.Duration `yaml:"results_cache_ttl" env:"RESULTS_CACHE_TTL" env-default:"1m"`
}

type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret" env:"JWT_SECRET" env-default:"change-me-in-production"`
	TokenTTL      time.Duration `yaml:"token_ttl" env:"JWT_TTL" env-default:"12h"`
	AdminUsername string        `yaml:"admin_username" env:"ADMIN_USERNAME"`
	AdminPassword string        `yaml:"admin_password" env:"ADMIN_PASSWORD"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"debug"`
	File  string `yaml:"file" env:"LOG_FILE"`
}

// Load reads configuration from the YAML file named by CONFIG_PATH, or from
// the environment when it is unset. A .env file in the working directory is
// loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("cannot read config %s: %w", path, err)
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("cannot read config from env: %w", err)
	}
	return &cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c HTTPConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// DSN prefers DATABASE_URL and falls back to the discrete DB_* settings.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.Host, c.User, c.Password, c.Name, c.Port)
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	logLevel := gormlogger.Warn
	if cfg.Env == EnvProd {
		logLevel = gormlogger.Error
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sql db handle: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// InitRedis returns nil when no address is configured; callers treat a nil
// client as "caching disabled".
func InitRedis(cfg *Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}
