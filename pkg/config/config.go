// Package config загружает конфигурацию агента: TOML-файл, переопределения
// из окружения (префикс SIPUA) и проверка validator.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"github.com/arzzra/sipua/pkg/logging"
	"github.com/arzzra/sipua/pkg/ua"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "SIPUA"

// ErrInvalidConfig конфигурация не прошла проверку
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("log_level", func(fl validator.FieldLevel) bool {
		_, ok := logging.ParseLevel(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("presence_status", func(fl validator.FieldLevel) bool {
		return ua.ValidPresenceStatus(fl.Field().String())
	})
	return v
}

// Transport слушающий транспорт
type Transport struct {
	Network string `toml:"network" validate:"required,oneof=udp tcp tls"`
	Host    string `toml:"host" validate:"omitempty,ip|hostname_rfc1123"`
	// Port -1 означает порт предыдущего транспорта
	Port      int    `toml:"port" validate:"gte=-1,lte=65535"`
	RcvBufLen int    `toml:"rcv_buf_len" validate:"gte=0"`
	TLSCert   string `toml:"tls_cert"`
	TLSKey    string `toml:"tls_key" validate:"required_with=TLSCert"`
}

// Profile профиль разговора
type Profile struct {
	AOR              string `toml:"aor" validate:"required"`
	DisplayName      string `toml:"display_name"`
	RegistrationTime uint32 `toml:"registration_time" validate:"lte=604800"`
	RetryTime        uint32 `toml:"retry_time" validate:"lte=86400"`
	Username         string `toml:"username" validate:"required_with=Password"`
	Password         string `toml:"password"`
	Realm            string `toml:"realm"`
	OutboundProxy    string `toml:"outbound_proxy"`
	DefaultOutgoing  bool   `toml:"default_outgoing"`
	SDPFile          string `toml:"sdp_file"`
}

// Subscription подписка, создаваемая при старте
type Subscription struct {
	Event   string `toml:"event" validate:"required"`
	Target  string `toml:"target" validate:"required"`
	Expires uint32 `toml:"expires" validate:"gt=0"`
	Mime    string `toml:"mime"`
}

// Publication публикация, создаваемая при старте
type Publication struct {
	Event   string `toml:"event" validate:"required"`
	Target  string `toml:"target" validate:"required"`
	Status  string `toml:"status" validate:"required,presence_status"`
	Expires uint32 `toml:"expires" validate:"gt=0"`
	Mime    string `toml:"mime"`
}

// Config конфигурация агента
type Config struct {
	UserAgent       string        `validate:"required"`
	LogLevel        string        `validate:"log_level"`
	LogFormat       string        `validate:"oneof=console json"`
	MetricsAddr     string        `validate:"omitempty,hostname_port"`
	ShutdownTimeout time.Duration `validate:"gte=0"`
	// Contact адрес для заголовка Contact; пусто означает первый транспорт
	Contact string

	Transports    []Transport    `validate:"required,dive"`
	Profiles      []Profile      `validate:"dive"`
	Subscriptions []Subscription `validate:"dive"`
	Publications  []Publication  `validate:"dive"`
}

// Default конфигурация без файла: один UDP-транспорт на 5060
func Default() Config {
	return Config{
		UserAgent:       "sipua",
		LogLevel:        "info",
		LogFormat:       "console",
		ShutdownTimeout: 10 * time.Second,
		Transports: []Transport{
			{Network: "udp", Host: "0.0.0.0", Port: 5060},
		},
	}
}

type fileConfig struct {
	UserAgent       string         `toml:"user_agent"`
	LogLevel        string         `toml:"log_level"`
	LogFormat       string         `toml:"log_format"`
	MetricsAddr     string         `toml:"metrics_addr"`
	ShutdownTimeout string         `toml:"shutdown_timeout"`
	Contact         string         `toml:"contact"`
	Transports      []Transport    `toml:"transports"`
	Profiles        []Profile      `toml:"profiles"`
	Subscriptions   []Subscription `toml:"subscriptions"`
	Publications    []Publication  `toml:"publications"`
}

type envOverrides struct {
	UserAgent       string        `envconfig:"USER_AGENT"`
	LogLevel        string        `envconfig:"LOG_LEVEL"`
	LogFormat       string        `envconfig:"LOG_FORMAT"`
	MetricsAddr     string        `envconfig:"METRICS_ADDR"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT"`
	Contact         string        `envconfig:"CONTACT"`
}

// Load читает path (пустой путь означает значения по умолчанию),
// применяет окружение и проверяет результат
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
	}

	if meta.IsDefined("user_agent") {
		cfg.UserAgent = strings.TrimSpace(raw.UserAgent)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(raw.LogFormat))
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("shutdown_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ShutdownTimeout))
		if err != nil {
			return fmt.Errorf("parse shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}
	if meta.IsDefined("contact") {
		cfg.Contact = strings.TrimSpace(raw.Contact)
	}
	if meta.IsDefined("transports") {
		cfg.Transports = raw.Transports
	}
	if meta.IsDefined("profiles") {
		cfg.Profiles = raw.Profiles
	}
	if meta.IsDefined("subscriptions") {
		cfg.Subscriptions = raw.Subscriptions
	}
	if meta.IsDefined("publications") {
		cfg.Publications = raw.Publications
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("load environment: %w", err)
	}
	if env.UserAgent != "" {
		cfg.UserAgent = env.UserAgent
	}
	if env.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(env.LogLevel)
	}
	if env.LogFormat != "" {
		cfg.LogFormat = strings.ToLower(env.LogFormat)
	}
	if env.MetricsAddr != "" {
		cfg.MetricsAddr = env.MetricsAddr
	}
	if env.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = env.ShutdownTimeout
	}
	if env.Contact != "" {
		cfg.Contact = env.Contact
	}
	return nil
}

// Validate проверяет конфигурацию целиком
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	defaults := 0
	for _, p := range c.Profiles {
		if p.DefaultOutgoing {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("%w: %d profiles marked default_outgoing", ErrInvalidConfig, defaults)
	}
	return nil
}
