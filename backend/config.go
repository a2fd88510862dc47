package backend

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var Config = DefaultConfig()

type CSV []string

func (k *CSV) String() string { return strings.Join(*k, ",") }

func (k *CSV) Set(flags string) error {
	*k = nil
	for _, v := range strings.Split(flags, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*k = append(*k, v)
		}
	}
	return nil
}

type ServerConfig struct {
	HTTP      HTTPConfig      `yaml:"http"`
	DB        DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	KDF       KDFConfig       `yaml:"kdf"`
	Relay     RelayConfig     `yaml:"relay"`
	RateLimit RateLimitConfig `yaml:"rate-limit"`
	Admin     AdminConfig     `yaml:"admin"`
}

type HTTPConfig struct {
	Listen         string `yaml:"listen"`
	AllowedOrigins CSV    `yaml:"allowed-origins,flow"`
	TrustProxy     bool   `yaml:"trust-proxy"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type AuthConfig struct {
	CredentialSecret string        `yaml:"credential-secret"`
	CredentialTTL    time.Duration `yaml:"credential-ttl"`
	AdminToken       string        `yaml:"admin-token"`
}

type KDFConfig struct {
	MaxConcurrent int64         `yaml:"max-concurrent"`
	QueueTimeout  time.Duration `yaml:"queue-timeout"`
}

const (
	LocalBus    = "local"
	PostgresBus = "postgres"
	NATSBus     = "nats"
)

type RelayConfig struct {
	Bus     string `yaml:"bus"`
	NATSURL string `yaml:"nats-url"`
	NodeID  int64  `yaml:"node-id"`
}

type RateLimitConfig struct {
	AuthRequests int           `yaml:"auth-requests"`
	AuthWindow   time.Duration `yaml:"auth-window"`
}

type AdminConfig struct {
	// PublicKey, when set, is written to storage at startup.
	PublicKey string `yaml:"public-key"`
}

func DefaultConfig() ServerConfig {
	return ServerConfig{
		HTTP: HTTPConfig{Listen: ":4000"},
		Auth: AuthConfig{CredentialTTL: 24 * time.Hour},
		KDF:  KDFConfig{QueueTimeout: 5 * time.Second},
		Relay: RelayConfig{
			Bus: LocalBus,
		},
		RateLimit: RateLimitConfig{AuthRequests: 20, AuthWindow: 15 * time.Minute},
	}
}

func (c *ServerConfig) AddFlags(flags *flag.FlagSet) {
	flags.StringVar(&c.HTTP.Listen, "http", c.HTTP.Listen, "address to serve http on")
	flags.Var(&c.HTTP.AllowedOrigins, "allowed-origins", "comma-separated origins allowed for CORS and websockets")
	flags.BoolVar(&c.HTTP.TrustProxy, "trust-proxy", c.HTTP.TrustProxy, "use X-Forwarded-For for client addresses")
	flags.StringVar(&c.DB.DSN, "psql", c.DB.DSN, "postgres dsn (in-memory storage if empty)")
	flags.DurationVar(&c.Auth.CredentialTTL, "credential-ttl", c.Auth.CredentialTTL, "lifetime of issued credentials")
	flags.Int64Var(&c.KDF.MaxConcurrent, "kdf-max-concurrent", c.KDF.MaxConcurrent, "concurrent password derivations (0 = number of CPUs)")
	flags.DurationVar(&c.KDF.QueueTimeout, "kdf-queue-timeout", c.KDF.QueueTimeout, "how long a request waits for a derivation slot")
	flags.StringVar(&c.Relay.Bus, "relay-bus", c.Relay.Bus, "relay bus: local, postgres or nats")
	flags.StringVar(&c.Relay.NATSURL, "nats", c.Relay.NATSURL, "nats server url for the nats relay bus")
	flags.Int64Var(&c.Relay.NodeID, "node-id", c.Relay.NodeID, "snowflake node id of this server (0-1023)")
}

func (c *ServerConfig) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// LoadFromEnv applies the deployment environment variables over the
// current values.
func (c *ServerConfig) LoadFromEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.HTTP.Listen = ":" + v
	}
	if v := getenv("CORS_ORIGIN"); v != "" {
		c.HTTP.AllowedOrigins.Set(v)
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.DB.DSN = v
	}
	if v := getenv("JWT_SECRET"); v != "" {
		c.Auth.CredentialSecret = v
	}
	if v := getenv("JWT_EXPIRES_IN"); v != "" {
		ttl, err := ParseLifetime(v)
		if err != nil {
			return fmt.Errorf("JWT_EXPIRES_IN: %w", err)
		}
		c.Auth.CredentialTTL = ttl
	}
	if v := getenv("ADMIN_API_TOKEN"); v != "" {
		c.Auth.AdminToken = v
	}
	if v := getenv("ADMIN_PUBLIC_KEY"); v != "" {
		c.Admin.PublicKey = v
	}
	if v := getenv("NATS_URL"); v != "" {
		c.Relay.NATSURL = v
	}
	return nil
}

var lifetimeUnits = []struct {
	suffix string
	unit   time.Duration
}{
	{"d", 24 * time.Hour},
	{"w", 7 * 24 * time.Hour},
	{"y", 8766 * time.Hour},
}

// ParseLifetime reads a credential lifetime. Besides Go durations it takes
// bare integers as seconds and d, w and y suffixes, as JWT_EXPIRES_IN
// deployments do ("7d", "86400").
func ParseLifetime(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("lifetime must be positive: %q", v)
		}
		return time.Duration(secs) * time.Second, nil
	}
	for _, u := range lifetimeUnits {
		if !strings.HasSuffix(v, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSuffix(v, u.suffix), 64)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid lifetime %q", v)
		}
		return time.Duration(n * float64(u.unit)), nil
	}
	return time.ParseDuration(v)
}

func (c *ServerConfig) Validate() error {
	if c.Auth.CredentialSecret == "" {
		return fmt.Errorf("config: auth.credential-secret (JWT_SECRET) must be set")
	}
	if c.Auth.AdminToken == "" {
		return fmt.Errorf("config: auth.admin-token (ADMIN_API_TOKEN) must be set")
	}
	if c.Auth.CredentialTTL <= 0 {
		return fmt.Errorf("config: auth.credential-ttl must be positive")
	}
	switch c.Relay.Bus {
	case LocalBus:
	case PostgresBus:
		if c.DB.DSN == "" {
			return fmt.Errorf("config: the postgres relay bus requires database.dsn")
		}
	case NATSBus:
		if c.Relay.NATSURL == "" {
			return fmt.Errorf("config: the nats relay bus requires relay.nats-url")
		}
	default:
		return fmt.Errorf("config: unknown relay bus %q", c.Relay.Bus)
	}
	if c.RateLimit.AuthRequests <= 0 || c.RateLimit.AuthWindow <= 0 {
		return fmt.Errorf("config: rate-limit values must be positive")
	}
	return nil
}
