package config

import (
	"fmt"
	"time"

	"owngame/models"

	"github.com/caarlos0/env/v11"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	BindAddress string `env:"BIND_ADDRESS" envDefault:"localhost"`

	DBDriver   string `env:"DB_DRIVER" envDefault:"postgres"`
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"owngame"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"owngame123"`
	DBName     string `env:"DB_NAME" envDefault:"owngame"`
	DBPath     string `env:"DB_PATH" envDefault:"owngame.db"`

	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     string `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	JWTSecret     string `env:"JWT_SECRET" envDefault:"your-secret-key-change-in-production"`
	APIKeyHash    string `env:"BOT_API_KEY_HASH"`
	OTelEndpoint  string `env:"OTEL_ENDPOINT"`
	QuestionsFile string `env:"QUESTIONS_FILE"`

	Rules    Rules
	Timeouts Timeouts
}

// Rules are the player limits of a game.
type Rules struct {
	MinPlayers         int `env:"MIN_PLAYERS" envDefault:"1"`
	MaxPlayersTelegram int `env:"MAX_PLAYERS_TELEGRAM" envDefault:"7"`
	MaxPlayersVK       int `env:"MAX_PLAYERS_VK" envDefault:"7"`
}

func (r Rules) MaxPlayers(origin models.Origin) int {
	switch origin {
	case models.OriginTelegram:
		return r.MaxPlayersTelegram
	case models.OriginVK:
		return r.MaxPlayersVK
	default:
		return 0
	}
}

type Timeouts struct {
	Leading           time.Duration `env:"TIMEOUT_LEADING" envDefault:"15s"`
	RegistrationStart time.Duration `env:"DELAY_REGISTRATION_START" envDefault:"1s"`
	Registration      time.Duration `env:"TIMEOUT_REGISTRATION" envDefault:"30s"`
	Selection         time.Duration `env:"TIMEOUT_SELECTION" envDefault:"20s"`
	Press             time.Duration `env:"TIMEOUT_PRESS" envDefault:"15s"`
	Answer            time.Duration `env:"TIMEOUT_ANSWER" envDefault:"20s"`
	Checking          time.Duration `env:"TIMEOUT_CHECKING" envDefault:"15s"`
	CatCatcher        time.Duration `env:"TIMEOUT_CAT_CATCHER" envDefault:"15s"`
	QuestionFinished  time.Duration `env:"DELAY_QUESTION_FINISHED" envDefault:"3s"`
	Handler           time.Duration `env:"TIMEOUT_HANDLER" envDefault:"30s"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.Rules.MinPlayers < 1 {
		return fmt.Errorf("MIN_PLAYERS must be at least 1, got %d", c.Rules.MinPlayers)
	}
	for _, origin := range []models.Origin{models.OriginTelegram, models.OriginVK} {
		if limit := c.Rules.MaxPlayers(origin); limit < c.Rules.MinPlayers {
			return fmt.Errorf("max players for %s (%d) is below MIN_PLAYERS (%d)", origin, limit, c.Rules.MinPlayers)
		}
	}
	return nil
}

func (c *Config) Addr() string {
	return c.BindAddress + ":" + c.Port
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DBPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	default:
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.DBDriver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
		}
		// SQLite has a single writer; games are serialized through one connection.
		sqlDB.SetMaxOpenConns(1)
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
