package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Config struct {
	Port           string        `env:"PORT" envDefault:"8080"`
	BindAddress    string        `env:"BIND_ADDRESS" envDefault:"localhost"`
	DBHost         string        `env:"DB_HOST" envDefault:"localhost"`
	DBPort         string        `env:"DB_PORT" envDefault:"5432"`
	DBUser         string        `env:"DB_USER" envDefault:"livesurvey"`
	DBPassword     string        `env:"DB_PASSWORD" envDefault:"livesurvey"`
	DBName         string        `env:"DB_NAME" envDefault:"livesurvey"`
	RedisHost      string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort      string        `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" envDefault:"0"`
	JWTSecret      string        `env:"JWT_SECRET,required"`
	ParticipantTTL time.Duration `env:"PARTICIPANT_TTL" envDefault:"12h"`
	CursorTTL      time.Duration `env:"CURSOR_TTL" envDefault:"12h"`
}

// Load reads an optional .env file from the working directory and then parses the
// process environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			slog.Debug("env file not loaded", "file", f, "error", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Addr() string {
	return c.BindAddress + ":" + c.Port
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func InitRedis(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}
