package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"eavkit/internal/api"
	"eavkit/internal/eav"
	"eavkit/internal/pg"
)

// EnvPrefix — переменные окружения вида EAV_DB_URL, EAV_PORT.
const EnvPrefix = "EAV"

type Config struct {
	Port        string `mapstructure:"port"`
	DBURL       string `mapstructure:"db_url"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
	SchemaDir   string `mapstructure:"schema_dir"`
	EnumsDir    string `mapstructure:"enums_dir"`

	DefaultLimit int           `mapstructure:"default_limit"`
	MaxLimit     int           `mapstructure:"max_limit"`
	OpTimeout    time.Duration `mapstructure:"op_timeout"`
	CacheSize    int           `mapstructure:"cache_size"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	RateLimit   float64 `mapstructure:"rate_limit"`
	RateBurst   int     `mapstructure:"rate_burst"`
	WatchSchema bool    `mapstructure:"watch_schema"`

	LogLevel string `mapstructure:"log_level"`
}

// SetDefaults — значения по умолчанию для всех ключей (без них AutomaticEnv
// не увидит ключ при Unmarshal).
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db_url", "")
	v.SetDefault("auto_migrate", false)
	v.SetDefault("schema_dir", "schema")
	v.SetDefault("enums_dir", "reference/enums")

	v.SetDefault("default_limit", 50)
	v.SetDefault("max_limit", 1000)
	v.SetDefault("op_timeout", 10*time.Second)
	v.SetDefault("cache_size", 256)

	pool := pg.DefaultPoolOptions()
	v.SetDefault("max_open_conns", pool.MaxOpenConns)
	v.SetDefault("max_idle_conns", pool.MaxIdleConns)
	v.SetDefault("conn_max_lifetime", pool.ConnMaxLifetime)

	v.SetDefault("rate_limit", 0.0)
	v.SetDefault("rate_burst", 0)
	v.SetDefault("watch_schema", false)

	v.SetDefault("log_level", "info")
}

// NewViper — defaults + ENV. Файл и флаги подключаются отдельно.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// RegisterFlags объявляет флаги; имя флага — ключ с дефисами вместо подчёркиваний.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to config file (JSON or YAML)")
	fs.String("port", "", "HTTP port")
	fs.String("db-url", "", "Postgres URL")
	fs.Bool("auto-migrate", false, "Apply migrations on start")
	fs.String("schema-dir", "", "Directory with entity type YAML files")
	fs.String("enums-dir", "", "Directory with option catalogs")
	fs.Int("default-limit", 0, "Default page size")
	fs.Int("max-limit", 0, "Maximum page size")
	fs.Duration("op-timeout", 0, "Timeout for a single engine operation")
	fs.Int("cache-size", 0, "Schema cache capacity")
	fs.Float64("rate-limit", 0, "HTTP requests per second, 0 disables the limit")
	fs.Int("rate-burst", 0, "HTTP burst size (default: ceil(rate-limit))")
	fs.Bool("watch-schema", false, "Re-seed when files in schema-dir change (serve only)")
	fs.String("log-level", "", "debug|info|warn|error")
}

// BindFlags связывает объявленные флаги с ключами. Значение флага побеждает,
// только если флаг задан явно.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || err != nil {
			return
		}
		err = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	return err
}

// Load: defaults -> файл (если есть) -> ENV -> флаги.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		st, err := os.Stat(path)
		switch {
		case err != nil:
			return nil, errors.Wrapf(err, "config %s", path)
		case st.IsDir():
			return nil, errors.Newf("config %s is a directory", path)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	c.trim()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadWithPath — Load с окружением процесса и без флагов.
func LoadWithPath(path string) (*Config, error) {
	return Load(NewViper(), path)
}

func (c *Config) trim() {
	c.Port = strings.TrimSpace(c.Port)
	c.DBURL = strings.TrimSpace(c.DBURL)
	c.SchemaDir = strings.TrimSpace(c.SchemaDir)
	c.EnumsDir = strings.TrimSpace(c.EnumsDir)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port must not be empty")
	}
	if c.DefaultLimit <= 0 || c.MaxLimit <= 0 {
		return errors.Newf("default_limit and max_limit must be positive, got %d and %d", c.DefaultLimit, c.MaxLimit)
	}
	if c.DefaultLimit > c.MaxLimit {
		return errors.Newf("default_limit %d exceeds max_limit %d", c.DefaultLimit, c.MaxLimit)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return errors.Newf("rate_limit and rate_burst must not be negative")
	}
	if c.OpTimeout < 0 {
		return errors.Newf("op_timeout must not be negative, got %s", c.OpTimeout)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Newf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// RequireDB — для команд, которым нужна база.
func (c *Config) RequireDB() error {
	if c.DBURL == "" {
		return errors.WithHint(errors.New("db_url is not set"), "pass --db-url or set "+EnvPrefix+"_DB_URL")
	}
	return nil
}

func (c *Config) EngineOptions() eav.Options {
	cache := c.CacheSize
	if cache == 0 {
		cache = -1
	}
	return eav.Options{
		DefaultLimit: c.DefaultLimit,
		MaxLimit:     c.MaxLimit,
		OpTimeout:    c.OpTimeout,
		CacheSize:    cache,
	}
}

func (c *Config) PoolOptions() pg.PoolOptions {
	opts := pg.DefaultPoolOptions()
	if c.MaxOpenConns > 0 {
		opts.MaxOpenConns = c.MaxOpenConns
	}
	if c.MaxIdleConns > 0 {
		opts.MaxIdleConns = c.MaxIdleConns
	}
	if c.ConnMaxLifetime > 0 {
		opts.ConnMaxLifetime = c.ConnMaxLifetime
	}
	return opts
}

func (c *Config) RouterOptions() api.RouterOptions {
	return api.RouterOptions{RateLimit: c.RateLimit, RateBurst: c.RateBurst}
}
