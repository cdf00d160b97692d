package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Режимы детектора
const (
	DetectorStub   = "stub"
	DetectorRemote = "remote"
)

type Config struct {
	HTTPAddr      string
	PublicURL     string // префикс ссылок на превью
	TelegramToken string

	Detector        string
	InferenceURL    string
	StubDelay       time.Duration
	AnalysisTimeout time.Duration
	QualityGate     bool

	MaxImageBytes int64
	StrictFormats bool

	LogLevel  string
	LogFormat string

	SentryDSN string
	SentryEnv string
}

// Load читает .env и переменные окружения. v может быть nil;
// флаги командной строки привязываются к v заранее.
func Load(v *viper.Viper) (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	if v == nil {
		v = NewViper()
	}
	return FromViper(v)
}

// NewViper создаёт viper со значениями по умолчанию и чтением окружения
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("public_url", "")
	v.SetDefault("telegram_token", "")
	v.SetDefault("detector", DetectorStub)
	v.SetDefault("inference_url", "http://localhost:5000")
	v.SetDefault("stub_delay", "2s")
	v.SetDefault("analysis_timeout", "0s")
	v.SetDefault("quality_gate", false)
	v.SetDefault("max_image_bytes", 10<<20)
	v.SetDefault("strict_formats", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("sentry_dsn", "")
	v.SetDefault("sentry_env", "production")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// FromViper собирает и проверяет конфигурацию
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		HTTPAddr:        v.GetString("http_addr"),
		PublicURL:       v.GetString("public_url"),
		TelegramToken:   v.GetString("telegram_token"),
		Detector:        strings.ToLower(v.GetString("detector")),
		InferenceURL:    v.GetString("inference_url"),
		StubDelay:       v.GetDuration("stub_delay"),
		AnalysisTimeout: v.GetDuration("analysis_timeout"),
		QualityGate:     v.GetBool("quality_gate"),
		MaxImageBytes:   v.GetInt64("max_image_bytes"),
		StrictFormats:   v.GetBool("strict_formats"),
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),
		SentryDSN:       v.GetString("sentry_dsn"),
		SentryEnv:       v.GetString("sentry_env"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет сочетания параметров
func (c *Config) Validate() error {
	switch c.Detector {
	case DetectorStub:
	case DetectorRemote:
		if c.InferenceURL == "" {
			return fmt.Errorf("INFERENCE_URL is required for remote detector")
		}
	default:
		return fmt.Errorf("unknown detector %q", c.Detector)
	}
	if c.StubDelay < 0 || c.AnalysisTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.MaxImageBytes < 0 {
		return fmt.Errorf("MAX_IMAGE_BYTES must not be negative")
	}
	return nil
}
