package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	minSecretLength = 32
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type SQLiteConfig struct {
	Path        string
	BusyTimeout time.Duration
}

// StorageConfig picks the single adapter that backs users, roles and tokens.
type StorageConfig struct {
	Driver   string
	Postgres PostgresConfig
	SQLite   SQLiteConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled is false when no address is configured. The API then logs mail
// instead of queueing it and purges without a lease; the worker refuses to
// start.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type MailConfig struct {
	Stream        string
	Group         string
	Consumer      string
	BaseURL       string
	ClaimInterval time.Duration
}

type PasswordHashConfig struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

type SecurityConfig struct {
	JWTAccessSecret      string
	JWTRefreshSecret     string
	Issuer               string
	JWTAccessTTL         time.Duration
	JWTRefreshTTL        time.Duration
	PasswordResetTTL     time.Duration
	EmailVerificationTTL time.Duration
	LockoutThreshold     int
	LockoutDuration      time.Duration
	PasswordHash         PasswordHashConfig
}

type JobsConfig struct {
	PurgeSchedule string
	PurgeLease    time.Duration
}

type LoggingConfig struct {
	Level string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Storage          StorageConfig
	Redis            RedisConfig
	Mail             MailConfig
	Security         SecurityConfig
	Jobs             JobsConfig
	Logging          LoggingConfig
	AllowCORSOrigins []string
}

// Load reads config.yaml (optional) and WARDEN_* environment variables.
func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("WARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.postgres.maxopen", 30)
	v.SetDefault("storage.postgres.maxidle", 10)
	v.SetDefault("storage.postgres.connmaxlifetime", "30m")
	v.SetDefault("storage.sqlite.path", "warden.db")
	v.SetDefault("storage.sqlite.busytimeout", "5s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("mail.stream", "mail:outbound")
	v.SetDefault("mail.group", "mailers")
	v.SetDefault("mail.consumer", "mailer-1")
	v.SetDefault("mail.baseurl", "http://localhost:8080")
	v.SetDefault("mail.claiminterval", "30s")

	// Empty defaults register the keys so AutomaticEnv can fill them on Unmarshal.
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("security.jwtaccesssecret", "")
	v.SetDefault("security.jwtrefreshsecret", "")

	v.SetDefault("security.issuer", "warden")
	v.SetDefault("security.jwtaccessttl", "15m")
	v.SetDefault("security.jwtrefreshttl", "168h") // 7 days
	v.SetDefault("security.passwordresetttl", "1h")
	v.SetDefault("security.emailverificationttl", "24h")
	v.SetDefault("security.lockoutthreshold", 5)
	v.SetDefault("security.lockoutduration", "2h")
	v.SetDefault("security.passwordhash.time", 3)
	v.SetDefault("security.passwordhash.memory", 64*1024)
	v.SetDefault("security.passwordhash.threads", 2)

	v.SetDefault("jobs.purgeschedule", "0 */15 * * * *")
	v.SetDefault("jobs.purgelease", "5m")

	v.SetDefault("logging.level", "info")
}

// Validate rejects settings that would only surface as per-request failures.
func (c *AppConfig) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, errors.New("storage.postgres.dsn is required"))
		}
	case DriverSQLite:
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, errors.New("storage.sqlite.path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (s SecurityConfig) Validate() error {
	var errs []error

	if len(s.JWTAccessSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("security.jwtaccesssecret must be at least %d bytes", minSecretLength))
	}
	if len(s.JWTRefreshSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("security.jwtrefreshsecret must be at least %d bytes", minSecretLength))
	}
	if s.JWTAccessSecret != "" && s.JWTAccessSecret == s.JWTRefreshSecret {
		errs = append(errs, errors.New("access and refresh secrets must differ"))
	}

	ttls := map[string]time.Duration{
		"security.jwtaccessttl":         s.JWTAccessTTL,
		"security.jwtrefreshttl":        s.JWTRefreshTTL,
		"security.passwordresetttl":     s.PasswordResetTTL,
		"security.emailverificationttl": s.EmailVerificationTTL,
		"security.lockoutduration":      s.LockoutDuration,
	}
	for key, ttl := range ttls {
		if ttl <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}

	if s.LockoutThreshold < 1 {
		errs = append(errs, errors.New("security.lockoutthreshold must be at least 1"))
	}
	if s.PasswordHash.Time < 1 || s.PasswordHash.Memory < 8*uint32(s.PasswordHash.Threads) || s.PasswordHash.Threads < 1 {
		errs = append(errs, errors.New("security.passwordhash parameters are out of range"))
	}

	return errors.Join(errs...)
}
