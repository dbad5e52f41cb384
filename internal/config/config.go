package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath         = "config.toml"
	DefaultHTTPAddr           = ":8080"
	DefaultPGHost             = "127.0.0.1"
	DefaultPGPort             = 5432
	DefaultPGUser             = "postgres"
	DefaultPGDatabase         = "wagate"
	DefaultPGSSLMode          = "disable"
	DefaultStoreDriver        = "postgres"
	DefaultGraphBaseURL       = "https://graph.facebook.com"
	DefaultGraphAPIVersion    = "v21.0"
	DefaultMediaRoot          = "data/media"
	DefaultMaxOriginalBytes   = 25 * 1024 * 1024
	DefaultThumbnailMaxWidth  = 480
	DefaultThumbnailMaxHeight = 480
	DefaultThumbnailQuality   = 78
	DefaultDownloadAttempts   = 3
	DefaultSignedURLTTL       = 15 * time.Minute
	DefaultSweepSchedule      = "@every 5m"
	DefaultSweepStaleAfter    = 30 * time.Minute
)

type Config struct {
	Log        LogConfig       `toml:"log"`
	Server     ServerConfig    `toml:"server"`
	Store      StoreConfig     `toml:"store"`
	Postgres   PostgresConfig  `toml:"postgres"`
	WhatsApp   WhatsAppConfig  `toml:"whatsapp"`
	Media      MediaConfig     `toml:"media"`
	SignedURLs SignedURLConfig `toml:"signed_urls"`
	Sweep      SweepConfig     `toml:"sweep"`
}

type LogConfig struct {
	Level  string `toml:"level"  env:"WAGATE_LOG_LEVEL"  validate:"omitempty,oneof=debug info warn error"`
	Format string `toml:"format" env:"WAGATE_LOG_FORMAT" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr" env:"WAGATE_SERVER_ADDR" validate:"required"`
}

type StoreConfig struct {
	// Driver selects the message store backend. "memory" keeps everything
	// in-process and is meant for local development only.
	Driver string `toml:"driver" env:"WAGATE_STORE_DRIVER" validate:"required,oneof=postgres memory"`
}

type PostgresConfig struct {
	Host     string `toml:"host"     env:"WAGATE_POSTGRES_HOST"`
	Port     int    `toml:"port"     env:"WAGATE_POSTGRES_PORT"`
	User     string `toml:"user"     env:"WAGATE_POSTGRES_USER"`
	Password string `toml:"password" env:"WAGATE_POSTGRES_PASSWORD"`
	Database string `toml:"database" env:"WAGATE_POSTGRES_DATABASE"`
	SSLMode  string `toml:"sslmode"  env:"WAGATE_POSTGRES_SSLMODE"`
}

type WhatsAppConfig struct {
	// AppSecret signs webhook deliveries (X-Hub-Signature-256). Empty disables
	// signature verification.
	AppSecret    string        `toml:"app_secret"     env:"WAGATE_WHATSAPP_APP_SECRET"`
	VerifyToken  string        `toml:"verify_token"   env:"WAGATE_WHATSAPP_VERIFY_TOKEN"`
	AccessToken  string        `toml:"access_token"   env:"WAGATE_WHATSAPP_ACCESS_TOKEN"`
	GraphBaseURL string        `toml:"graph_base_url" env:"WAGATE_WHATSAPP_GRAPH_BASE_URL" validate:"required,url"`
	APIVersion   string        `toml:"api_version"    env:"WAGATE_WHATSAPP_API_VERSION"    validate:"required"`
	HTTPTimeout  time.Duration `toml:"http_timeout"   env:"WAGATE_WHATSAPP_HTTP_TIMEOUT"   validate:"gte=0"`
}

type MediaConfig struct {
	Root                string        `toml:"root"                  env:"WAGATE_MEDIA_ROOT"                  validate:"required"`
	MaxOriginalBytes    int64         `toml:"max_original_bytes"    env:"WAGATE_MEDIA_MAX_ORIGINAL_BYTES"    validate:"gt=0"`
	ThumbnailMaxWidth   int           `toml:"thumbnail_max_width"   env:"WAGATE_MEDIA_THUMBNAIL_MAX_WIDTH"   validate:"gt=0"`
	ThumbnailMaxHeight  int           `toml:"thumbnail_max_height"  env:"WAGATE_MEDIA_THUMBNAIL_MAX_HEIGHT"  validate:"gt=0"`
	ThumbnailQuality    int           `toml:"thumbnail_quality"     env:"WAGATE_MEDIA_THUMBNAIL_QUALITY"     validate:"gte=1,lte=100"`
	DownloadMaxAttempts int           `toml:"download_max_attempts" env:"WAGATE_MEDIA_DOWNLOAD_MAX_ATTEMPTS" validate:"gte=1"`
	DownloadRetryDelay  time.Duration `toml:"download_retry_delay"  env:"WAGATE_MEDIA_DOWNLOAD_RETRY_DELAY"  validate:"gte=0"`
	IngestTimeout       time.Duration `toml:"ingest_timeout"        env:"WAGATE_MEDIA_INGEST_TIMEOUT"        validate:"gt=0"`
	CacheMaxAge         time.Duration `toml:"cache_max_age"         env:"WAGATE_MEDIA_CACHE_MAX_AGE"         validate:"gte=0"`
}

type SignedURLConfig struct {
	Required bool          `toml:"required" env:"WAGATE_SIGNED_URLS_REQUIRED"`
	Secret   string        `toml:"secret"   env:"WAGATE_SIGNED_URLS_SECRET" validate:"required_if=Required true"`
	TTL      time.Duration `toml:"ttl"      env:"WAGATE_SIGNED_URLS_TTL"    validate:"gt=0"`
}

type SweepConfig struct {
	Enabled    bool          `toml:"enabled"     env:"WAGATE_SWEEP_ENABLED"`
	Schedule   string        `toml:"schedule"    env:"WAGATE_SWEEP_SCHEDULE"    validate:"required_if=Enabled true"`
	StaleAfter time.Duration `toml:"stale_after" env:"WAGATE_SWEEP_STALE_AFTER" validate:"gt=0"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Store: StoreConfig{
			Driver: DefaultStoreDriver,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		WhatsApp: WhatsAppConfig{
			GraphBaseURL: DefaultGraphBaseURL,
			APIVersion:   DefaultGraphAPIVersion,
			HTTPTimeout:  30 * time.Second,
		},
		Media: MediaConfig{
			Root:                DefaultMediaRoot,
			MaxOriginalBytes:    DefaultMaxOriginalBytes,
			ThumbnailMaxWidth:   DefaultThumbnailMaxWidth,
			ThumbnailMaxHeight:  DefaultThumbnailMaxHeight,
			ThumbnailQuality:    DefaultThumbnailQuality,
			DownloadMaxAttempts: DefaultDownloadAttempts,
			DownloadRetryDelay:  time.Second,
			IngestTimeout:       5 * time.Minute,
			CacheMaxAge:         5 * time.Minute,
		},
		SignedURLs: SignedURLConfig{
			Required: true,
			TTL:      DefaultSignedURLTTL,
		},
		Sweep: SweepConfig{
			Enabled:    true,
			Schedule:   DefaultSweepSchedule,
			StaleAfter: DefaultSweepStaleAfter,
		},
	}
}

// Load reads the TOML file at path on top of the defaults, applies WAGATE_*
// environment overrides and validates the result. A missing file is not an
// error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that would only fail later at first use,
// such as signed media URLs without a signing secret.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateSweepWindow, Config{})
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// validateSweepWindow keeps the sweeper away from ingestions that are still
// within their timeout.
func validateSweepWindow(sl validator.StructLevel) {
	c := sl.Current().Interface().(Config)
	if c.Sweep.Enabled && c.Sweep.StaleAfter <= c.Media.IngestTimeout {
		sl.ReportError(c.Sweep.StaleAfter, "Sweep.StaleAfter", "StaleAfter", "gtfield", "Media.IngestTimeout")
	}
}

// DSN renders the pgx connection string.
func (c PostgresConfig) DSN() string {
	return c.URL("postgres")
}

// URL renders the connection string with the given scheme. golang-migrate
// selects its driver from the scheme ("pgx5").
func (c PostgresConfig) URL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}
