package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 儲存掃描器、對帳排程與外部相依的執行設定。
type Config struct {
	Market     MarketConfig     `yaml:"market"`
	Scanner    ScannerConfig    `yaml:"scanner"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Lease      LeaseConfig      `yaml:"lease"`
	HTTP       HTTPConfig       `yaml:"http"`
	DB         DBConfig         `yaml:"db"`
	Auth       AuthConfig       `yaml:"auth"`
	Notifier   NotifierConfig   `yaml:"notifier"`
	Binance    BinanceConfig    `yaml:"binance"`
	Log        LogConfig        `yaml:"log"`
}

type MarketConfig struct {
	Symbols       []string      `yaml:"symbols" default:"[\"BTCUSDT\",\"ETHUSDT\"]" validate:"min=1,dive,required"`
	Timeframe     string        `yaml:"timeframe" default:"1m" validate:"required"`
	HistoryLength int           `yaml:"history_length" default:"250" validate:"gte=1,lte=1000"`
	PollInterval  time.Duration `yaml:"poll_interval" default:"60s" validate:"gt=0"`
}

type ScannerConfig struct {
	Enabled               bool          `yaml:"enabled" default:"true"`
	Interval              time.Duration `yaml:"interval" default:"15s" validate:"gt=0"`
	Concurrency           int           `yaml:"concurrency" default:"3" validate:"gte=1"`
	Cooldown              time.Duration `yaml:"cooldown" default:"5m" validate:"gte=0"`
	Jitter                time.Duration `yaml:"jitter" default:"250ms" validate:"gte=0"`
	Retries               int           `yaml:"retries" default:"1" validate:"gte=0"`
	HeartbeatEvery        int           `yaml:"heartbeat_every" default:"20" validate:"gte=0"`
	RequireATRFeasibility bool          `yaml:"require_atr_feasibility" default:"true"`
	RiskRewardTarget      float64       `yaml:"risk_reward_target" default:"3" validate:"gt=0"`
}

type ReconcilerConfig struct {
	Enabled    bool   `yaml:"enabled" default:"true"`
	Cron       string `yaml:"cron" default:"*/5 * * * *" validate:"required"`
	MinCandles int    `yaml:"min_candles" default:"50" validate:"gte=1"`
}

type LeaseConfig struct {
	Backend   string        `yaml:"backend" default:"file" validate:"oneof=memory file redis"`
	Path      string        `yaml:"path" default:"./reconciler.lock"`
	TTL       time.Duration `yaml:"ttl" default:"10m" validate:"gt=0"`
	RedisAddr string        `yaml:"redis_addr" validate:"required_if=Backend redis"`
	Key       string        `yaml:"key" default:"alert-scanner:reconciler:lease"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Addr    string `yaml:"addr" default:":8080"`
}

type DBConfig struct {
	Driver       string        `yaml:"driver" default:"auto" validate:"oneof=auto postgres sqlite memory"`
	DSN          string        `yaml:"dsn" validate:"required_if=Driver postgres"`
	Path         string        `yaml:"path" default:"./alerts.db"`
	MaxOpenConns int           `yaml:"max_open_conns" default:"5"`
	MaxIdleConns int           `yaml:"max_idle_conns" default:"2"`
	MaxIdleTime  time.Duration `yaml:"max_idle_time" default:"15m"`
}

// ResolvedDriver 在 auto 模式下依 DSN/Path 決定實際的儲存後端。
func (c DBConfig) ResolvedDriver() string {
	if c.Driver != "" && c.Driver != "auto" {
		return c.Driver
	}
	switch {
	case c.DSN != "":
		return "postgres"
	case c.Path != "":
		return "sqlite"
	default:
		return "memory"
	}
}

type AuthConfig struct {
	TokenTTL time.Duration `yaml:"token_ttl" default:"30m"`
	Secret   string        `yaml:"secret" default:"dev-secret-change-me" validate:"min=8"`
}

type NotifierConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token" validate:"required_if=Enabled true"`
	ChatID  int64  `yaml:"chat_id" validate:"required_if=Enabled true"`
	Prefix  string `yaml:"prefix"`
}

type BinanceConfig struct {
	BaseURL string `yaml:"base_url" default:"https://api.binance.com" validate:"required,url"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
}

// LoadFromFile 從 YAML 組態檔載入設定；檔案不存在時只使用預設值與環境變數。
func LoadFromFile(path string) (Config, error) {
	// 嘗試載入 .env 檔案（如果存在）
	_ = godotenv.Load()

	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return Config{}, fmt.Errorf("apply config defaults: %w", err)
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg = applyEnv(cfg)
	cfg.Market.Symbols = normalizeSymbols(cfg.Market.Symbols)
	return cfg, nil
}

// Validate 在啟動前檢查必要設定，任何錯誤都應阻止掃描開始。
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func applyEnv(cfg Config) Config {
	if val := os.Getenv("SYMBOLS"); val != "" {
		cfg.Market.Symbols = strings.Split(val, ",")
	}
	if val := os.Getenv("TIMEFRAME"); val != "" {
		cfg.Market.Timeframe = val
	}
	if val := os.Getenv("HISTORY_LENGTH"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Market.HistoryLength = n
		}
	}
	envDuration("POLL_INTERVAL", &cfg.Market.PollInterval)

	envDuration("SCAN_INTERVAL", &cfg.Scanner.Interval)
	if val := os.Getenv("SCAN_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Scanner.Concurrency = n
		}
	}
	envDuration("COOLDOWN", &cfg.Scanner.Cooldown)
	envDuration("JITTER", &cfg.Scanner.Jitter)
	if val := os.Getenv("RETRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Scanner.Retries = n
		}
	}
	if val := os.Getenv("HEARTBEAT_EVERY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Scanner.HeartbeatEvery = n
		}
	}
	if val := os.Getenv("REQUIRE_ATR_FEASIBILITY"); val != "" {
		cfg.Scanner.RequireATRFeasibility = (val == "true")
	}
	if val := os.Getenv("RISK_REWARD_TARGET"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Scanner.RiskRewardTarget = f
		}
	}

	if val := os.Getenv("RECONCILE_CRON"); val != "" {
		cfg.Reconciler.Cron = val
	}
	if val := os.Getenv("LEASE_BACKEND"); val != "" {
		cfg.Lease.Backend = val
	}
	if val := os.Getenv("LEASE_PATH"); val != "" {
		cfg.Lease.Path = val
	}
	envDuration("LEASE_TTL", &cfg.Lease.TTL)
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Lease.RedisAddr = val
	}

	if val := os.Getenv("HTTP_ADDR"); val != "" {
		cfg.HTTP.Addr = val
	}
	if val := os.Getenv("PORT"); val != "" {
		cfg.HTTP.Addr = ":" + val
	}
	if val := os.Getenv("DB_DRIVER"); val != "" {
		cfg.DB.Driver = val
	}
	if val := os.Getenv("DB_DSN"); val != "" {
		cfg.DB.DSN = val
	}
	if val := os.Getenv("DB_PATH"); val != "" {
		cfg.DB.Path = val
	}
	if val := os.Getenv("AUTH_SECRET"); val != "" {
		cfg.Auth.Secret = val
	}
	if val := os.Getenv("TELEGRAM_TOKEN"); val != "" {
		cfg.Notifier.Telegram.Token = val
	}
	if val := os.Getenv("TELEGRAM_CHAT_ID"); val != "" {
		if id, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Notifier.Telegram.ChatID = id
		}
	}
	if val := os.Getenv("TELEGRAM_ENABLED"); val != "" {
		cfg.Notifier.Telegram.Enabled = (val == "true")
	}
	if val := os.Getenv("BINANCE_BASE_URL"); val != "" {
		cfg.Binance.BaseURL = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	return cfg
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
