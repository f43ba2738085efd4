// Package config loads service configuration from defaults, an optional
// YAML file, STUDIODESK_ environment variables and command-line flags, in
// that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"studiodesk.app/internal/auth"
)

// EnvPrefix is the prefix of environment variables read by Load. A double
// underscore separates nesting levels: STUDIODESK_AUTH__ACCESS_SECRET.
const EnvPrefix = "STUDIODESK_"

const redacted = "[REDACTED]"

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config is the full service configuration.
type Config struct {
	Env         string         `koanf:"env"`
	ServiceName string         `koanf:"service_name"`
	HTTP        HTTPConfig     `koanf:"http"`
	GRPC        GRPCConfig     `koanf:"grpc"`
	Database    DatabaseConfig `koanf:"database"`
	Redis       RedisConfig    `koanf:"redis"`
	Auth        AuthConfig     `koanf:"auth"`
	Mail        MailConfig     `koanf:"mail"`
	Log         LogConfig      `koanf:"log"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	TrustedProxies  []string      `koanf:"trusted_proxies"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type GRPCConfig struct {
	Addr string `koanf:"addr"`
}

type DatabaseConfig struct {
	URL         string        `koanf:"url"`
	MaxConns    int32         `koanf:"max_conns"`
	ConnectWait time.Duration `koanf:"connect_wait"`
}

// RedisConfig selects the shared rate limiter backend. An empty URL keeps
// limiter state in process memory.
type RedisConfig struct {
	URL string `koanf:"url"`
}

type AuthConfig struct {
	AccessSecret    string        `koanf:"access_secret"`
	RefreshSecret   string        `koanf:"refresh_secret"`
	ResetSecret     string        `koanf:"reset_secret"`
	Issuer          string        `koanf:"issuer"`
	AccessCookie    bool          `koanf:"access_cookie"`
	RevokeOnReuse   bool          `koanf:"revoke_on_reuse"`
	LoginRateLimit  int           `koanf:"login_rate_limit"`
	LoginRateWindow time.Duration `koanf:"login_rate_window"`
}

// Secrets returns the signing secrets in the form the token codec takes.
func (a AuthConfig) Secrets() auth.Secrets {
	return auth.Secrets{Access: a.AccessSecret, Refresh: a.RefreshSecret, Reset: a.ResetSecret}
}

// MailConfig configures reset mail delivery. An empty Host logs a notice
// instead of sending mail.
type MailConfig struct {
	Host        string `koanf:"host"`
	Port        int    `koanf:"port"`
	Username    string `koanf:"username"`
	Password    string `koanf:"password"`
	From        string `koanf:"from"`
	FrontendURL string `koanf:"frontend_url"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the built-in defaults. Secrets have none.
func Default() Config {
	return Config{
		Env:         EnvDevelopment,
		ServiceName: "studiodesk-api",
		HTTP: HTTPConfig{
			Addr:            ":3000",
			AllowedOrigins:  []string{"http://localhost:3000"},
			MaxBodyBytes:    1 << 20,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		GRPC:     GRPCConfig{Addr: ":9090"},
		Database: DatabaseConfig{MaxConns: 10, ConnectWait: 30 * time.Second},
		Auth: AuthConfig{
			Issuer:          "studiodesk",
			LoginRateLimit:  5,
			LoginRateWindow: time.Minute,
		},
		Mail: MailConfig{Port: 587, From: "no-reply@studiodesk.app", FrontendURL: "http://localhost:3000"},
		Log:  LogConfig{Level: "info", Format: "json"},
	}
}

// Load layers defaults, the YAML file at path (when non-empty), environment
// variables and the changed flags of fs (when non-nil). Flag names use
// dashes inside a level: --http.addr, --auth.access-cookie.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(auth.CodeConfiguration).With("path", path).
				Wrap(errors.Join(auth.ErrConfiguration, err))
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, oops.Code(auth.CodeConfiguration).Wrap(errors.Join(auth.ErrConfiguration, err))
	}

	if fs != nil {
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, flagValue(fs)), nil); err != nil {
			return nil, oops.Code(auth.CodeConfiguration).Wrap(errors.Join(auth.ErrConfiguration, err))
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(auth.CodeConfiguration).Wrap(errors.Join(auth.ErrConfiguration, err))
	}
	cfg.normalize()
	return &cfg, nil
}

func envValue(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if key == "http.allowed_origins" || key == "http.trusted_proxies" {
		return key, splitList(value)
	}
	return key, value
}

func flagValue(fs *pflag.FlagSet) func(f *pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		if !strings.Contains(f.Name, ".") {
			return "", nil
		}
		return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(fs, f)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Mail.FrontendURL = strings.TrimRight(strings.TrimSpace(c.Mail.FrontendURL), "/")
}

// TrustedProxyPrefixes parses http.trusted_proxies. Entries are CIDR ranges
// or single addresses.
func (h HTTPConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(h.TrustedProxies))
	for _, entry := range h.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, invalid("http.trusted_proxies", fmt.Sprintf("invalid proxy range %q", entry))
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, invalid("http.trusted_proxies", fmt.Sprintf("invalid proxy address %q", entry))
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Validate reports the first configuration problem as a CONFIG_INVALID error.
func (c *Config) Validate() error {
	if !slices.Contains([]string{EnvDevelopment, EnvProduction, EnvTest}, c.Env) {
		return invalid("env", fmt.Sprintf("unknown environment %q", c.Env))
	}
	if err := c.Auth.Secrets().Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return invalid("database.url", "database url is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", fmt.Sprintf("log format must be json or text, got %q", c.Log.Format))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http address is required")
	}
	if _, err := c.HTTP.TrustedProxyPrefixes(); err != nil {
		return err
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return invalid("http.max_body_bytes", "max body size must be positive")
	}
	if c.Auth.LoginRateLimit <= 0 || c.Auth.LoginRateWindow <= 0 {
		return invalid("auth.login_rate_limit", "login rate limit and window must be positive")
	}
	if c.Mail.Host != "" && c.Mail.From == "" {
		return invalid("mail.from", "sender address is required when mail.host is set")
	}
	if _, err := url.Parse(c.Mail.FrontendURL); err != nil {
		return invalid("mail.frontend_url", "frontend url is not a valid URL")
	}
	return nil
}

// ParseLevel maps a configured level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, invalid("log.level", fmt.Sprintf("unknown log level %q", level))
	}
	return l, nil
}

func invalid(key, msg string) error {
	return oops.Code(auth.CodeConfiguration).With("key", key).
		Wrap(fmt.Errorf("%w: %s", auth.ErrConfiguration, msg))
}

// String renders the configuration with secrets and credentials masked.
func (c Config) String() string {
	c.Auth.AccessSecret = mask(c.Auth.AccessSecret)
	c.Auth.RefreshSecret = mask(c.Auth.RefreshSecret)
	c.Auth.ResetSecret = mask(c.Auth.ResetSecret)
	c.Mail.Password = mask(c.Mail.Password)
	c.Database.URL = redactURL(c.Database.URL)
	c.Redis.URL = redactURL(c.Redis.URL)
	type plain Config
	return fmt.Sprintf("%+v", plain(c))
}

// LogValue implements slog.LogValuer so a Config can be logged directly.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("env", c.Env),
		slog.String("service_name", c.ServiceName),
		slog.String("http_addr", c.HTTP.Addr),
		slog.String("grpc_addr", c.GRPC.Addr),
		slog.String("database_url", redactURL(c.Database.URL)),
		slog.String("redis_url", redactURL(c.Redis.URL)),
		slog.Bool("access_cookie", c.Auth.AccessCookie),
		slog.Bool("revoke_on_reuse", c.Auth.RevokeOnReuse),
		slog.String("mail_host", c.Mail.Host),
		slog.String("log_level", c.Log.Level),
	)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	return u.Redacted()
}
