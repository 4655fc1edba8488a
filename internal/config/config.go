package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	DBDriver   string
	MySQLDSN   string
	SQLitePath string
	Seed       bool

	// RedisAddr empty keeps locks and request ids in process.
	RedisAddr string
	// RabbitURL empty logs events instead of publishing them.
	RabbitURL      string
	RabbitExchange string

	LoanDays       int
	MaxOpenLoans   int
	HoldDays       int
	PickupDays     int
	FineRatePerDay decimal.Decimal
	LostBookFee    decimal.Decimal

	SweepInterval  time.Duration
	LockAttempts   int
	LockBaseDelay  time.Duration
	LockMaxDelay   time.Duration
	LockTTL        time.Duration
	WorkerCount    int
	QueueSize      int
	ShutdownGrace  time.Duration
	LogLevel       string
	ConsoleLogging bool
}

// Load reads the environment, after merging a .env file from the working directory if
// one exists. Variables already set win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	p := &parser{}
	cfg := Config{
		HTTPAddr: getEnvOrDefault("LENDING_HTTP_ADDR", ":8080"),
		GRPCAddr: getEnvOrDefault("LENDING_GRPC_ADDR", ":50051"),

		DBDriver:   getEnvOrDefault("LENDING_DB_DRIVER", DriverSQLite),
		MySQLDSN:   getEnvOrDefault("MYSQL_DSN", "root:root@tcp(localhost:3306)/lending?parseTime=true&clientFoundRows=true"),
		SQLitePath: getEnvOrDefault("LENDING_DB_PATH", "lending.db"),
		Seed:       p.boolVar("LENDING_SEED", true),

		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RabbitURL:      os.Getenv("RABBITMQ_URL"),
		RabbitExchange: getEnvOrDefault("RABBITMQ_EXCHANGE", "lending.events"),

		LoanDays:       p.intVar("LENDING_LOAN_DAYS", 14),
		MaxOpenLoans:   p.intVar("LENDING_MAX_OPEN_LOANS", 5),
		HoldDays:       p.intVar("LENDING_HOLD_DAYS", 7),
		PickupDays:     p.intVar("LENDING_PICKUP_DAYS", 3),
		FineRatePerDay: p.decimalVar("LENDING_FINE_PER_DAY", "1.00"),
		LostBookFee:    p.decimalVar("LENDING_LOST_BOOK_FEE", "0"),

		SweepInterval:  p.durationVar("LENDING_SWEEP_INTERVAL", 5*time.Minute),
		LockAttempts:   p.intVar("LENDING_LOCK_ATTEMPTS", 8),
		LockBaseDelay:  p.durationVar("LENDING_LOCK_BASE_DELAY", 5*time.Millisecond),
		LockMaxDelay:   p.durationVar("LENDING_LOCK_MAX_DELAY", 200*time.Millisecond),
		LockTTL:        p.durationVar("LENDING_LOCK_TTL", 10*time.Second),
		WorkerCount:    p.intVar("LENDING_EVENT_WORKERS", 10),
		QueueSize:      p.intVar("LENDING_EVENT_QUEUE", 10000),
		ShutdownGrace:  p.durationVar("LENDING_SHUTDOWN_GRACE", 10*time.Second),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		ConsoleLogging: p.boolVar("LOG_CONSOLE", true),
	}
	if p.err != nil {
		return Config{}, p.err
	}

	if cfg.DBDriver != DriverSQLite && cfg.DBDriver != DriverMySQL {
		return Config{}, fmt.Errorf("LENDING_DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverMySQL, cfg.DBDriver)
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) fail(key, raw string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
}

func (p *parser) intVar(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) boolVar(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) durationVar(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) decimalVar(key, def string) decimal.Decimal {
	raw := getEnvOrDefault(key, def)
	v, err := decimal.NewFromString(raw)
	if err != nil {
		p.fail(key, raw, err)
		return decimal.Zero
	}
	return v
}
