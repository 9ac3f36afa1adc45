package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	TransportWhatsApp = "whatsapp"
	TransportWebhook  = "webhook"
)

type Config struct {
	Server    ServerConfig
	Sheets    SheetsConfig
	Scheduler SchedulerConfig
	History   HistoryConfig
	Redis     RedisConfig
	AI        AIConfig
	Transport TransportConfig
}

type ServerConfig struct {
	Address string
}

type SheetsConfig struct {
	SpreadsheetID   string
	CredentialsJSON string
	CacheTTL        time.Duration
}

type SchedulerConfig struct {
	Interval  time.Duration
	DueWindow time.Duration
}

type HistoryConfig struct {
	// Dir is the per-contact JSON file directory. Ignored when PostgresURL
	// is set, in which case history lives in the chat_messages table.
	Dir             string
	PostgresURL     string
	MaxMessages     int
	RetentionDays   int
	ContextMessages int
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type AIConfig struct {
	Enabled bool
	APIKey  string
	Model   string
}

type TransportConfig struct {
	Kind          string // "whatsapp" or "webhook"
	WebhookURL    string
	SessionDBPath string
	RatePerSec    int
}

func LoadAll() (*Config, error) {
	var errs []error

	sheetID, err := requireEnv("SHEET_ID")
	if err != nil {
		errs = append(errs, err)
	}
	creds, err := requireEnv("GOOGLE_APPLICATION_CREDENTIALS_JSON")
	if err != nil {
		errs = append(errs, err)
	}

	cacheTTL, err := getEnvInt("SHEETS_CACHE_TTL_SECONDS", 300)
	if err != nil {
		errs = append(errs, err)
	}
	interval, err := getEnvInt("SCHED_INTERVAL_SECONDS", 60)
	if err != nil {
		errs = append(errs, err)
	}
	window, err := getEnvInt("SCHED_DUE_WINDOW_MINUTES", 2)
	if err != nil {
		errs = append(errs, err)
	}
	histMax, err := getEnvInt("HISTORY_MAX_MESSAGES", 100)
	if err != nil {
		errs = append(errs, err)
	}
	histDays, err := getEnvInt("HISTORY_RETENTION_DAYS", 30)
	if err != nil {
		errs = append(errs, err)
	}
	histCtx, err := getEnvInt("HISTORY_CONTEXT_MESSAGES", 10)
	if err != nil {
		errs = append(errs, err)
	}
	ratePerSec, err := getEnvInt("SEND_RATE_PER_SEC", 1)
	if err != nil {
		errs = append(errs, err)
	}

	redisCfg, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Sheets: SheetsConfig{
			SpreadsheetID:   sheetID,
			CredentialsJSON: creds,
			CacheTTL:        time.Duration(cacheTTL) * time.Second,
		},
		Scheduler: SchedulerConfig{
			Interval:  time.Duration(interval) * time.Second,
			DueWindow: time.Duration(window) * time.Minute,
		},
		History: HistoryConfig{
			Dir:             getEnv("HISTORY_DIR", "chat_history"),
			PostgresURL:     os.Getenv("POSTGRES_URL"),
			MaxMessages:     histMax,
			RetentionDays:   histDays,
			ContextMessages: histCtx,
		},
		Redis: redisCfg,
		AI: AIConfig{
			Enabled: os.Getenv("GEMINI_API_KEY") != "",
			APIKey:  os.Getenv("GEMINI_API_KEY"),
			Model:   getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		},
		Transport: TransportConfig{
			Kind:          getEnv("TRANSPORT", TransportWhatsApp),
			WebhookURL:    os.Getenv("WEBHOOK_URL"),
			SessionDBPath: getEnv("WHATSAPP_DB_PATH", "whatsapp.db"),
			RatePerSec:    ratePerSec,
		},
	}

	errs = append(errs, validate(cfg)...)

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	// Sent markers must survive same-day restarts but not grow forever.
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 172800)
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, nil
}

func validate(cfg *Config) []error {
	var errs []error

	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Scheduler.DueWindow <= 0 {
		errs = append(errs, errors.New("SCHED_DUE_WINDOW_MINUTES must be > 0"))
	}
	// A window narrower than the tick interval can skip rows that fall
	// between two ticks.
	if cfg.Scheduler.DueWindow > 0 && cfg.Scheduler.DueWindow < cfg.Scheduler.Interval {
		errs = append(errs, errors.New("SCHED_DUE_WINDOW_MINUTES must cover at least SCHED_INTERVAL_SECONDS"))
	}
	if cfg.Sheets.CacheTTL <= 0 {
		errs = append(errs, errors.New("SHEETS_CACHE_TTL_SECONDS must be > 0"))
	}
	if cfg.History.MaxMessages <= 0 {
		errs = append(errs, errors.New("HISTORY_MAX_MESSAGES must be > 0"))
	}
	if cfg.History.RetentionDays <= 0 {
		errs = append(errs, errors.New("HISTORY_RETENTION_DAYS must be > 0"))
	}
	if cfg.History.ContextMessages <= 0 {
		errs = append(errs, errors.New("HISTORY_CONTEXT_MESSAGES must be > 0"))
	}
	if cfg.Transport.RatePerSec <= 0 {
		errs = append(errs, errors.New("SEND_RATE_PER_SEC must be > 0"))
	}

	switch cfg.Transport.Kind {
	case TransportWhatsApp:
	case TransportWebhook:
		if cfg.Transport.WebhookURL == "" {
			errs = append(errs, errors.New("WEBHOOK_URL is required when TRANSPORT=webhook"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TRANSPORT: %q", cfg.Transport.Kind))
	}

	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	return errors.Join(nonNil...)
}
