package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"chainfetch/internal/provider"
)

var validate = validator.New()

// Provider kinds.
const (
	KindAlchemy = "alchemy"
	KindMoralis = "moralis"
	KindRPCNode = "rpcnode"
)

type Server struct {
	Port              string `json:"port" validate:"required,numeric"`
	RequestTimeoutSec int    `json:"request_timeout_sec" validate:"gte=0"`
	MaxBodyBytes      int64  `json:"max_body_bytes" validate:"gte=0"`
}

type Log struct {
	Backend string `json:"backend" validate:"oneof=zap logrus"`
	Level   string `json:"level" validate:"oneof=debug info warn error"`
}

type Metrics struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"omitempty,startswith=/"`
}

type Ristretto struct {
	NumCounters  int64 `json:"num_counters" validate:"gte=0"`
	MaxCostBytes int64 `json:"max_cost_bytes" validate:"gte=0"`
	BufferItems  int64 `json:"buffer_items" validate:"gte=0"`
}

type BigCache struct {
	Shards         int `json:"shards" validate:"gte=0"`
	LifeWindowSec  int `json:"life_window_sec" validate:"gte=0"`
	HardMaxCacheMB int `json:"hard_max_cache_mb" validate:"gte=0"`
}

type Redis struct {
	Addr     string `json:"addr" validate:"omitempty,hostname_port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db" validate:"gte=0"`
	Prefix   string `json:"prefix"`
}

type Cache struct {
	Backend   string    `json:"backend" validate:"oneof=memory ristretto bigcache redis"`
	Codec     string    `json:"codec" validate:"oneof=msgpack cbor json"`
	Ristretto Ristretto `json:"ristretto"`
	BigCache  BigCache  `json:"bigcache"`
	Redis     Redis     `json:"redis"`
}

// Provider configures one upstream. The map key in Config.Providers is the
// provider name chains refer to.
type Provider struct {
	Kind    string `json:"kind" validate:"oneof=alchemy moralis rpcnode"`
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"api_key"`
	// Endpoint overrides the provider's base URL.
	Endpoint string `json:"endpoint" validate:"omitempty,url"`
	// Endpoints are JSON-RPC node URLs, tried in order (rpcnode only).
	Endpoints []string `json:"endpoints" validate:"dive,url"`
	// Chain is the canonical chain an rpcnode serves.
	Chain string `json:"chain"`
	// Tokens are the ERC-20 contracts an rpcnode reports balances for.
	Tokens        []string `json:"tokens" validate:"dive,eth_addr"`
	MinIntervalMs int      `json:"min_interval_ms" validate:"gte=0"`
	MaxRetries    int      `json:"max_retries" validate:"gte=1,lte=10"`
	BaseBackoffMs int      `json:"base_backoff_ms" validate:"gte=0"`
	MaxBackoffMs  int      `json:"max_backoff_ms" validate:"gte=0"`
	// CacheTTLSec overrides the chain ttl for payloads this provider serves.
	CacheTTLSec int `json:"cache_ttl_sec" validate:"gte=0"`
	TimeoutSec  int `json:"timeout_sec" validate:"gte=0"`
}

// Descriptor converts the provider section into the runtime descriptor.
func (p Provider) Descriptor(name string) provider.Descriptor {
	return provider.Descriptor{
		Name:        name,
		MinInterval: time.Duration(p.MinIntervalMs) * time.Millisecond,
		MaxRetries:  p.MaxRetries,
		BaseBackoff: time.Duration(p.BaseBackoffMs) * time.Millisecond,
		MaxBackoff:  time.Duration(p.MaxBackoffMs) * time.Millisecond,
		TTL:         time.Duration(p.CacheTTLSec) * time.Second,
	}
}

// Chain configures the fallback chain serving one scope.
type Chain struct {
	TTLSec    int      `json:"ttl_sec" validate:"gte=0"`
	Providers []string `json:"providers"`
	TimeoutMs int      `json:"timeout_ms" validate:"gte=0"`
}

func (c Chain) TTL() time.Duration     { return time.Duration(c.TTLSec) * time.Second }
func (c Chain) Timeout() time.Duration { return time.Duration(c.TimeoutMs) * time.Millisecond }

type Config struct {
	Server    Server              `json:"server"`
	Log       Log                 `json:"log"`
	Metrics   Metrics             `json:"metrics"`
	Cache     Cache               `json:"cache"`
	Providers map[string]Provider `json:"providers" validate:"dive"`
	Chains    map[string]Chain    `json:"chains" validate:"dive"`
}

func Default() Config {
	return Config{
		Server:  Server{Port: "8080", RequestTimeoutSec: 10, MaxBodyBytes: 1 << 20},
		Log:     Log{Backend: "zap", Level: "info"},
		Metrics: Metrics{Enabled: true, Path: "/metrics"},
		Cache: Cache{
			Backend:   "memory",
			Codec:     "msgpack",
			Ristretto: Ristretto{NumCounters: 1e6, MaxCostBytes: 64 << 20, BufferItems: 64},
			BigCache:  BigCache{Shards: 256, LifeWindowSec: 600, HardMaxCacheMB: 128},
			Redis:     Redis{Prefix: "chainfetch:"},
		},
		Providers: map[string]Provider{
			"alchemy": {
				Kind:          KindAlchemy,
				MinIntervalMs: 100,
				MaxRetries:    3,
				BaseBackoffMs: 250,
				MaxBackoffMs:  4000,
				TimeoutSec:    10,
			},
			"moralis": {
				Kind:          KindMoralis,
				MinIntervalMs: 500,
				MaxRetries:    3,
				BaseBackoffMs: 500,
				MaxBackoffMs:  8000,
				TimeoutSec:    10,
			},
			"rpcnode": {
				Kind:          KindRPCNode,
				Chain:         "eth-mainnet",
				MinIntervalMs: 50,
				MaxRetries:    2,
				BaseBackoffMs: 200,
				TimeoutSec:    10,
			},
		},
		Chains: map[string]Chain{
			provider.ScopeNFT:       {TTLSec: 600, Providers: []string{"alchemy", "moralis", "rpcnode"}, TimeoutMs: 8000},
			provider.ScopeBalances:  {TTLSec: 60, Providers: []string{"alchemy", "moralis", "rpcnode"}, TimeoutMs: 8000},
			provider.ScopeContracts: {TTLSec: 300, Providers: []string{"alchemy", "moralis", "rpcnode"}, TimeoutMs: 8000},
		},
	}
}

// Load reads JSON config from path. If path is empty or file does not exist,
// it returns defaults. Environment variables override select fields for secrecy.
// The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := merge(&cfg, b); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// rawBlocks holds the provider and chain sections undecoded so each block can
// be laid over its default rather than replace it.
type rawBlocks struct {
	Providers map[string]json.RawMessage `json:"providers"`
	Chains    map[string]json.RawMessage `json:"chains"`
}

// merge decodes a config file over cfg. Fields a provider or chain block
// omits keep their defaults. A provider name without a default starts from
// the default of its kind.
func merge(cfg *Config, b []byte) error {
	providers, chains := cfg.Providers, cfg.Chains
	cfg.Providers, cfg.Chains = nil, nil
	if err := json.Unmarshal(b, cfg); err != nil {
		return err
	}
	cfg.Providers, cfg.Chains = providers, chains

	var raw rawBlocks
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	defaults := Default().Providers
	for name, block := range raw.Providers {
		p, ok := defaults[name]
		if !ok {
			var head struct {
				Kind string `json:"kind"`
			}
			if err := json.Unmarshal(block, &head); err != nil {
				return fmt.Errorf("provider %s: %w", name, err)
			}
			if p, ok = defaults[head.Kind]; !ok {
				p = Provider{MaxRetries: 1}
			}
		}
		if err := json.Unmarshal(block, &p); err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
		cfg.Providers[name] = p
	}
	for name, block := range raw.Chains {
		c := cfg.Chains[name]
		if err := json.Unmarshal(block, &c); err != nil {
			return fmt.Errorf("chain %s: %w", name, err)
		}
		cfg.Chains[name] = c
	}
	return nil
}

// Validate checks field constraints and that every chain only names
// configured providers.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		return errors.New("invalid config: cache.redis.addr required for the redis backend")
	}
	for name, p := range c.Providers {
		if !p.Enabled {
			continue
		}
		switch p.Kind {
		case KindAlchemy, KindMoralis:
			if p.APIKey == "" {
				return fmt.Errorf("invalid config: provider %s: api_key required when enabled", name)
			}
		case KindRPCNode:
			if len(p.Endpoints) == 0 && p.Endpoint == "" {
				return fmt.Errorf("invalid config: provider %s: endpoints required when enabled", name)
			}
		}
	}
	for name, ch := range c.Chains {
		for _, p := range ch.Providers {
			if _, ok := c.Providers[p]; !ok {
				return fmt.Errorf("invalid config: chain %s: unknown provider %q", name, p)
			}
		}
	}
	return nil
}

// ProviderNames returns the configured provider names, sorted.
func (c Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if x, ok := envInt("REQUEST_TIMEOUT_SEC"); ok && x > 0 {
		cfg.Server.RequestTimeoutSec = x
	}
	if v := os.Getenv("LOG_BACKEND"); v != "" {
		cfg.Log.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if b, ok := envBool("METRICS_ENABLED"); ok {
		cfg.Metrics.Enabled = b
	}
	if v := os.Getenv("CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("CACHE_CODEC"); v != "" {
		cfg.Cache.Codec = strings.ToLower(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_USERNAME"); v != "" {
		cfg.Cache.Redis.Username = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = v
	}
	if x, ok := envInt("REDIS_DB"); ok && x >= 0 {
		cfg.Cache.Redis.DB = x
	}
	if v := os.Getenv("REDIS_PREFIX"); v != "" {
		cfg.Cache.Redis.Prefix = v
	}

	// Per provider: ALCHEMY_API_KEY, MORALIS_MIN_INTERVAL_MS, ...
	// Setting an API key or endpoints enables the provider unless
	// <NAME>_ENABLED says otherwise.
	for name, p := range cfg.Providers {
		prefix := envName(name) + "_"
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			p.APIKey = v
			p.Enabled = true
		}
		if v := os.Getenv(prefix + "ENDPOINT"); v != "" {
			p.Endpoint = v
		}
		if v := os.Getenv(prefix + "ENDPOINTS"); v != "" {
			p.Endpoints = splitCSV(v)
			p.Enabled = true
		}
		if v := os.Getenv(prefix + "TOKENS"); v != "" {
			p.Tokens = splitCSV(v)
		}
		if b, ok := envBool(prefix + "ENABLED"); ok {
			p.Enabled = b
		}
		if x, ok := envInt(prefix + "MIN_INTERVAL_MS"); ok && x >= 0 {
			p.MinIntervalMs = x
		}
		if x, ok := envInt(prefix + "MAX_RETRIES"); ok && x > 0 {
			p.MaxRetries = x
		}
		if x, ok := envInt(prefix + "BASE_BACKOFF_MS"); ok && x >= 0 {
			p.BaseBackoffMs = x
		}
		if x, ok := envInt(prefix + "MAX_BACKOFF_MS"); ok && x >= 0 {
			p.MaxBackoffMs = x
		}
		if x, ok := envInt(prefix + "CACHE_TTL_SEC"); ok && x >= 0 {
			p.CacheTTLSec = x
		}
		cfg.Providers[name] = p
	}

	// Per chain: CHAIN_NFT_PROVIDERS, CHAIN_BALANCES_TTL_SEC, ...
	for name, ch := range cfg.Chains {
		prefix := "CHAIN_" + envName(name) + "_"
		if v, ok := os.LookupEnv(prefix + "PROVIDERS"); ok {
			ch.Providers = splitCSV(v)
		}
		if x, ok := envInt(prefix + "TTL_SEC"); ok && x >= 0 {
			ch.TTLSec = x
		}
		if x, ok := envInt(prefix + "TIMEOUT_MS"); ok && x >= 0 {
			ch.TimeoutMs = x
		}
		cfg.Chains[name] = ch
	}
}

func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	x, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return x, true
}

func envBool(key string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y":
		return true, true
	case "0", "false", "no", "n":
		return false, true
	}
	return false, false
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
