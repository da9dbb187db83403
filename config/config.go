// Package config loads the service configuration from the environment, with
// an optional .env file for development (real environment variables win).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration. Every knob has a default; the
// empty environment yields a working service.
type Config struct {
	Host string
	Port int

	LogLevel string
	LogJSON  bool

	MaxUploadBytes int64
	Workers        int

	OCREnabled        bool
	OCRLanguages      string
	OCRThresholdChars int
	OCRDPI            int
	OCRTimeout        time.Duration

	RenderBin     string
	RenderTimeout time.Duration

	TessdataPrefix string

	WetScanEnabled bool
	WetMaxPages    int

	CachePath string
	CacheTTL  time.Duration

	JobQueue int
	JobTTL   time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
	AuthSecret     string
	MaxConns       int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	AuditDSN      string
	AuditTable    string
	AuditInterval time.Duration
	AuditBatch    int
	AuditQueue    int
}

// Load reads the environment (and .env, when present) into a Config.
func Load() (Config, error) {
	// missing .env is the normal case
	_ = godotenv.Load()

	cfg := Config{
		Host:              envStr("HOST", "0.0.0.0"),
		LogLevel:          envStr("LOG_LEVEL", "info"),
		OCRLanguages:      envStr("OCR_LANGUAGES", "eng"),
		RenderBin:         envStr("RENDER_BIN", "pdftoppm"),
		TessdataPrefix:    envStr("TESSDATA_PREFIX", ""),
		CachePath:         envStr("CACHE_PATH", ""),
		AuthSecret:        envStr("AUTH_SECRET", ""),
		AuditDSN:          envStr("AUDIT_DSN", ""),
		AuditTable:        envStr("AUDIT_TABLE", "analysis_events"),
	}

	var err error
	if cfg.Port, err = envInt("PORT", 8000); err != nil {
		return Config{}, err
	}
	if cfg.LogJSON, err = envBool("LOG_JSON", true); err != nil {
		return Config{}, err
	}
	if cfg.MaxUploadBytes, err = envInt64("MAX_UPLOAD_BYTES", 50<<20); err != nil {
		return Config{}, err
	}
	if cfg.Workers, err = envInt("WORKERS", 4); err != nil {
		return Config{}, err
	}
	if cfg.OCREnabled, err = envBool("OCR_ENABLED", true); err != nil {
		return Config{}, err
	}
	if cfg.OCRThresholdChars, err = envInt("OCR_THRESHOLD_CHARS", 800); err != nil {
		return Config{}, err
	}
	if cfg.OCRDPI, err = envInt("OCR_DPI", 144); err != nil {
		return Config{}, err
	}
	if cfg.OCRTimeout, err = envDuration("OCR_TIMEOUT", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RenderTimeout, err = envDuration("RENDER_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.WetScanEnabled, err = envBool("WET_SCAN_ENABLED", true); err != nil {
		return Config{}, err
	}
	if cfg.WetMaxPages, err = envInt("WET_MAX_PAGES", 5); err != nil {
		return Config{}, err
	}
	if cfg.CacheTTL, err = envDuration("CACHE_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.JobQueue, err = envInt("JOB_QUEUE", 64); err != nil {
		return Config{}, err
	}
	if cfg.JobTTL, err = envDuration("JOB_TTL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitRPS, err = envFloat("RATE_LIMIT_RPS", 10); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitBurst, err = envInt("RATE_LIMIT_BURST", 20); err != nil {
		return Config{}, err
	}
	if cfg.MaxConns, err = envInt("MAX_CONNS", 256); err != nil {
		return Config{}, err
	}
	if cfg.ReadTimeout, err = envDuration("READ_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.WriteTimeout, err = envDuration("WRITE_TIMEOUT", 2*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.IdleTimeout, err = envDuration("IDLE_TIMEOUT", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = envDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.AuditInterval, err = envDuration("AUDIT_INTERVAL", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.AuditBatch, err = envInt("AUDIT_BATCH", 100); err != nil {
		return Config{}, err
	}
	if cfg.AuditQueue, err = envInt("AUDIT_QUEUE", 1000); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OCRLanguageList splits OCR_LANGUAGES ("eng+deu", "eng,deu") into hints.
func (c Config) OCRLanguageList() []string {
	return strings.FieldsFunc(c.OCRLanguages, func(r rune) bool {
		return r == '+' || r == ',' || r == ' '
	})
}

func (c Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: WORKERS must be positive, got %d", c.Workers)
	}
	if c.OCRThresholdChars < 0 {
		return fmt.Errorf("config: OCR_THRESHOLD_CHARS must not be negative, got %d", c.OCRThresholdChars)
	}
	if c.OCRDPI < 36 || c.OCRDPI > 1200 {
		return fmt.Errorf("config: OCR_DPI %d out of range", c.OCRDPI)
	}
	if c.MaxUploadBytes < 1 {
		return fmt.Errorf("config: MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	return nil
}

func envStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer", key, v)
	}
	return n, nil
}

func envInt64(key string, def int64) (int64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer", key, v)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not a number", key, v)
	}
	return f, nil
}

func envBool(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s=%q is not a boolean", key, v)
	}
	return b, nil
}

// envDuration accepts Go duration strings ("30s") and bare integers taken
// as seconds.
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not a duration", key, v)
	}
	return d, nil
}
