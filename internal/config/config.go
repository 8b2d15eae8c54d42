// Package config loads hub settings from defaults, a YAML file, a .env file
// and the process environment, in increasing precedence, and remembers where
// each value came from.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"goyais.org/hub/internal/apierr"
	"goyais.org/hub/internal/gateway"
	"goyais.org/hub/internal/vault"
)

const (
	DefaultConfigPath = "/etc/hub/hub.yml"
	DefaultEnvFile    = ".env"

	envPrefix = "HUB_"

	StoreMemory   = "memory"
	StorePostgres = "postgres"

	SourceDefault = "default"
	SourceFile    = "file"
	SourceDotenv  = "dotenv"
	SourceEnv     = "env"
)

// Config holds all hub settings.
type Config struct {
	HTTPAddr            string
	GRPCAddr            string
	Store               string
	PGDSN               string
	SecretKey           string
	RuntimeSharedSecret string
	BootstrapToken      string
	AllowPublicSignup   bool
	TrustProxyHeaders   bool
	TokenTTLSeconds     int
	ProbeTimeoutMS      int
	ForwardTimeoutMS    int
	StreamTimeoutMS     int
	LoginRatePerSec     float64
	LoginRateBurst      int
	MaxBodyBytes        int64
	LogLevel            string
	LogFormat           string
	AllowedOrigins      []string

	sources  map[string]string
	filePath string
}

// Attribute is one setting with its printable value and source.
type Attribute struct {
	Name   string `json:"name"`
	Env    string `json:"env"`
	Value  string `json:"value"`
	Source string `json:"source"`
}

type attribute struct {
	name   string
	secret bool
	set    func(c *Config, raw string) error
	get    func(c *Config) string
}

func strAttr(name string, secret bool, field func(c *Config) *string) attribute {
	return attribute{
		name:   name,
		secret: secret,
		set:    func(c *Config, raw string) error { *field(c) = strings.TrimSpace(raw); return nil },
		get:    func(c *Config) string { return *field(c) },
	}
}

func intAttr(name string, field func(c *Config) *int) attribute {
	return attribute{
		name: name,
		set: func(c *Config, raw string) error {
			v, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil || v <= 0 {
				return fmt.Errorf("%s must be a positive integer", name)
			}
			*field(c) = v
			return nil
		},
		get: func(c *Config) string { return strconv.Itoa(*field(c)) },
	}
}

func boolAttr(name string, field func(c *Config) *bool) attribute {
	return attribute{
		name: name,
		set: func(c *Config, raw string) error {
			v, err := strconv.ParseBool(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("%s must be a boolean", name)
			}
			*field(c) = v
			return nil
		},
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
	}
}

var attributes = []attribute{
	strAttr("http_addr", false, func(c *Config) *string { return &c.HTTPAddr }),
	strAttr("grpc_addr", false, func(c *Config) *string { return &c.GRPCAddr }),
	strAttr("store", false, func(c *Config) *string { return &c.Store }),
	strAttr("pg_dsn", true, func(c *Config) *string { return &c.PGDSN }),
	strAttr("secret_key", true, func(c *Config) *string { return &c.SecretKey }),
	strAttr("runtime_shared_secret", true, func(c *Config) *string { return &c.RuntimeSharedSecret }),
	strAttr("bootstrap_token", true, func(c *Config) *string { return &c.BootstrapToken }),
	boolAttr("allow_public_signup", func(c *Config) *bool { return &c.AllowPublicSignup }),
	boolAttr("trust_proxy_headers", func(c *Config) *bool { return &c.TrustProxyHeaders }),
	intAttr("token_ttl_seconds", func(c *Config) *int { return &c.TokenTTLSeconds }),
	intAttr("probe_timeout_ms", func(c *Config) *int { return &c.ProbeTimeoutMS }),
	intAttr("forward_timeout_ms", func(c *Config) *int { return &c.ForwardTimeoutMS }),
	intAttr("stream_timeout_ms", func(c *Config) *int { return &c.StreamTimeoutMS }),
	{
		name: "login_rate_per_sec",
		set: func(c *Config, raw string) error {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil || v <= 0 {
				return errors.New("login_rate_per_sec must be a positive number")
			}
			c.LoginRatePerSec = v
			return nil
		},
		get: func(c *Config) string { return strconv.FormatFloat(c.LoginRatePerSec, 'f', -1, 64) },
	},
	intAttr("login_rate_burst", func(c *Config) *int { return &c.LoginRateBurst }),
	{
		name: "max_body_bytes",
		set: func(c *Config, raw string) error {
			v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
			if err != nil || v <= 0 {
				return errors.New("max_body_bytes must be a positive integer")
			}
			c.MaxBodyBytes = v
			return nil
		},
		get: func(c *Config) string { return strconv.FormatInt(c.MaxBodyBytes, 10) },
	},
	strAttr("log_level", false, func(c *Config) *string { return &c.LogLevel }),
	strAttr("log_format", false, func(c *Config) *string { return &c.LogFormat }),
	{
		name: "allowed_origins",
		set: func(c *Config, raw string) error {
			c.AllowedOrigins = splitList(raw)
			return nil
		},
		get: func(c *Config) string { return strings.Join(c.AllowedOrigins, ",") },
	},
}

// EnvKey returns the environment variable of an attribute.
func EnvKey(name string) string { return envPrefix + strings.ToUpper(name) }

// Default returns the built-in settings.
func Default() *Config {
	c := &Config{
		HTTPAddr:          ":8787",
		Store:             StorePostgres,
		AllowPublicSignup: false,
		TokenTTLSeconds:   int((7 * 24 * time.Hour).Seconds()),
		ProbeTimeoutMS:    2500,
		ForwardTimeoutMS:  30000,
		StreamTimeoutMS:   300000,
		LoginRatePerSec:   5,
		LoginRateBurst:    10,
		MaxBodyBytes:      1 << 20,
		LogLevel:          "info",
		LogFormat:         "json",
		AllowedOrigins:    []string{},
		sources:           make(map[string]string, len(attributes)),
	}
	for _, a := range attributes {
		c.sources[a.name] = SourceDefault
	}
	return c
}

// LoadOptions controls where Load looks. Empty fields use HUB_CONFIG_PATH,
// HUB_ENV_FILE and os.LookupEnv.
type LoadOptions struct {
	FilePath  string
	EnvFile   string
	LookupEnv func(string) (string, bool)
}

// Load builds the configuration. Missing files are skipped; malformed files
// and values are errors.
func Load(opts LoadOptions) (*Config, error) {
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	filePath := opts.FilePath
	if filePath == "" {
		if v, ok := lookup("HUB_CONFIG_PATH"); ok && strings.TrimSpace(v) != "" {
			filePath = strings.TrimSpace(v)
		} else {
			filePath = DefaultConfigPath
		}
	}
	envFile := opts.EnvFile
	if envFile == "" {
		if v, ok := lookup("HUB_ENV_FILE"); ok && strings.TrimSpace(v) != "" {
			envFile = strings.TrimSpace(v)
		} else {
			envFile = DefaultEnvFile
		}
	}

	c := Default()
	c.filePath = filePath

	if data, err := os.ReadFile(filePath); err == nil {
		if err := c.applyFile(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", filePath, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read config file %s: %w", filePath, err)
	}

	dotenv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read env file %s: %w", envFile, err)
	}
	for _, a := range attributes {
		key := EnvKey(a.name)
		if v, ok := dotenv[key]; ok {
			if err := a.set(c, v); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			c.sources[a.name] = SourceDotenv
		}
		if v, ok := lookup(key); ok {
			if err := a.set(c, v); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			c.sources[a.name] = SourceEnv
		}
	}
	return c, nil
}

func (c *Config) applyFile(data []byte) error {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := make(map[string]attribute, len(attributes))
	for _, a := range attributes {
		known[a.name] = a
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		a, ok := known[k]
		if !ok {
			return fmt.Errorf("unknown key %q", k)
		}
		if err := a.set(c, yamlScalar(raw[k])); err != nil {
			return err
		}
		c.sources[k] = SourceFile
	}
	return nil
}

func yamlScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}

func splitList(raw string) []string {
	out := []string{}
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks settings the server cannot start without.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(c.PGDSN) == "" {
			return apierr.Config("Postgres DSN is not configured.", EnvKey("pg_dsn"), nil)
		}
	default:
		return apierr.Config("Unknown store backend.", EnvKey("store"), map[string]any{
			"expected": []string{StorePostgres, StoreMemory},
			"actual":   c.Store,
		})
	}
	if _, err := vault.ParseMasterKey(c.SecretKey); err != nil {
		return err
	}
	if strings.TrimSpace(c.RuntimeSharedSecret) == "" {
		return apierr.Config("Runtime gateway shared secret is not configured.", gateway.SharedSecretConfigKey, nil)
	}
	return nil
}

func (c *Config) TokenTTL() time.Duration { return time.Duration(c.TokenTTLSeconds) * time.Second }

func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMS) * time.Millisecond
}

func (c *Config) ForwardTimeout() time.Duration {
	return time.Duration(c.ForwardTimeoutMS) * time.Millisecond
}

func (c *Config) StreamTimeout() time.Duration {
	return time.Duration(c.StreamTimeoutMS) * time.Millisecond
}

// FilePath is the YAML file consulted by Load.
func (c *Config) FilePath() string { return c.filePath }

// Source reports where name was set.
func (c *Config) Source(name string) string {
	if s, ok := c.sources[name]; ok {
		return s
	}
	return SourceDefault
}

// Attributes lists every setting with secrets masked.
func (c *Config) Attributes() []Attribute {
	out := make([]Attribute, 0, len(attributes))
	for _, a := range attributes {
		v := a.get(c)
		if a.secret && v != "" {
			v = "********"
		}
		out = append(out, Attribute{Name: a.name, Env: EnvKey(a.name), Value: v, Source: c.Source(a.name)})
	}
	return out
}

// FormatText renders Attributes as aligned text.
func (c *Config) FormatText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "config file: %s\n", c.filePath)
	for _, a := range c.Attributes() {
		fmt.Fprintf(&b, "%-24s %-40s (%s)\n", a.Name, a.Value, a.Source)
	}
	return b.String()
}

// FormatJSON renders Attributes as indented JSON.
func (c *Config) FormatJSON() (string, error) {
	data, err := json.MarshalIndent(c.Attributes(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
