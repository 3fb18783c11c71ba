package config

import (
	"fmt"
	"os"
	"strings"
)

import (
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"

	FailOpen   = "fail-open"
	FailClosed = "fail-closed"

	DefaultBaseURL = "https://api-inference.huggingface.co/models"
)

// ServerCfg：HTTP 服务端口/地址配置
type ServerCfg struct {
	HTTPAddr            string `yaml:"httpAddr"`            // e.g. ":8080"; empty disables the HTTP API
	ReadHeaderTimeoutMs int    `yaml:"readHeaderTimeoutMs"` // default 5000
}

// RedisCfg：Redis 连接与命名空间配置
type RedisCfg struct {
	Addr           string   `yaml:"addr"`           // Redis address, e.g. "127.0.0.1:6379"
	Addrs          []string `yaml:"addrs"`          // Optional cluster addresses
	Password       string   `yaml:"password"`       // Redis password
	DB             int      `yaml:"db"`             // Redis DB index (single node only)
	Prefix         string   `yaml:"prefix"`         // Key prefix
	PoolSize       int      `yaml:"poolSize"`       // Connection pool size
	MinIdleConns   int      `yaml:"minIdleConns"`   // Minimum idle connections
	MaxRetries     int      `yaml:"maxRetries"`     // Command retry count
	ReadTimeoutMs  int      `yaml:"readTimeoutMs"`  // Read timeout (ms)
	WriteTimeoutMs int      `yaml:"writeTimeoutMs"` // Write timeout (ms)
	DialTimeoutMs  int      `yaml:"dialTimeoutMs"`  // Dial timeout (ms)
	OpTimeoutMs    int      `yaml:"opTimeoutMs"`    // Per-command deadline (ms), scripts get twice this; default 200
}

func (r RedisCfg) Enabled() bool {
	return strings.TrimSpace(r.Addr) != "" || len(r.Addrs) > 0
}

// BackoffCfg controls the retry schedule applied to HTTP 429 responses.
type BackoffCfg struct {
	InitialMs   int64   `yaml:"initialMs"`   // first sleep, default 2000
	Multiplier  float64 `yaml:"multiplier"`  // growth factor, default 2
	MaxAttempts int     `yaml:"maxAttempts"` // total sends, default 3
	MaxMs       int64   `yaml:"maxMs"`       // cap for a single sleep, default 60000
}

// BreakerCfg：熔断器配置（推理端点）
type BreakerCfg struct {
	Enabled        bool `yaml:"enabled"`
	ErrorThreshold int  `yaml:"errorThreshold"` // errors within the stat window that open the breaker
	StatIntervalMs int  `yaml:"statIntervalMs"` // stat window
	RetryTimeoutMs int  `yaml:"retryTimeoutMs"` // how long the breaker stays open
	MinRequests    int  `yaml:"minRequests"`    // minimum requests before the breaker may open
}

// InferenceCfg describes the remote text-generation endpoint.
type InferenceCfg struct {
	BaseURL        string     `yaml:"baseUrl"`
	ModelID        string     `yaml:"modelId"`
	Token          string     `yaml:"token"`
	TimeoutMs      int        `yaml:"timeoutMs"`      // per attempt, default 30000
	UseCache       bool       `yaml:"useCache"`       // false sends x-use-cache: false
	RetryOnLoading bool       `yaml:"retryOnLoading"` // re-dispatch once with wait-for-model after a 503
	Backoff        BackoffCfg `yaml:"backoff"`
	Breaker        BreakerCfg `yaml:"breaker"`
}

// Endpoint joins the base URL and the model identifier.
func (c InferenceCfg) Endpoint() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(c.ModelID, "/")
}

// CooldownCfg：每用户冷却配置
type CooldownCfg struct {
	Seconds    int    `yaml:"seconds"`    // default 3
	Backend    string `yaml:"backend"`    // memory | redis
	FailPolicy string `yaml:"failPolicy"` // fail-open | fail-closed
}

// AllowListCfg configures where the channel allow-list lives.
type AllowListCfg struct {
	Backend           string   `yaml:"backend"`           // memory | redis | sqlite
	SQLitePath        string   `yaml:"sqlitePath"`        // required for sqlite
	Channels          []string `yaml:"channels"`          // seeded into the store on startup
	IgnoreMentions    bool     `yaml:"ignoreMentions"`    // when false, mentioning the bot works in any channel
	RefreshIntervalMs int      `yaml:"refreshIntervalMs"` // default 60000
}

// GatewayCfg describes the websocket chat gateway the bot attaches to.
type GatewayCfg struct {
	URL            string `yaml:"url"` // empty disables the gateway transport
	Token          string `yaml:"token"`
	BotUserID      string `yaml:"botUserId"`
	MaxInFlight    int    `yaml:"maxInFlight"`    // concurrent event handlers, default 32
	ReconnectMinMs int    `yaml:"reconnectMinMs"` // default 1000
	ReconnectMaxMs int    `yaml:"reconnectMaxMs"` // default 60000
	CallTimeoutMs  int    `yaml:"callTimeoutMs"`  // default 10000
}

// ReplyCfg：回复格式
type ReplyCfg struct {
	SingleCharPrefix string `yaml:"singleCharPrefix"` // prepended to one-character replies; empty sends the character as-is
	MaxLength        int    `yaml:"maxLength"`        // default 2000
	EmptyRetries     int    `yaml:"emptyRetries"`     // extra dispatches after a degenerate reply, default 2, negative disables
	ModelName        string `yaml:"modelName"`        // shown in loading notices, defaults to modelId
}

// WarmupCfg keeps a cold-starting model loaded by pinging it periodically.
type WarmupCfg struct {
	Enabled    bool     `yaml:"enabled"`
	IntervalMs int      `yaml:"intervalMs"` // default 600000
	Inputs     []string `yaml:"inputs"`
}

type LoggingCfg struct {
	Level     string `yaml:"level"`  // debug | info | warn | error
	Format    string `yaml:"format"` // text | json
	AddSource bool   `yaml:"addSource"`
}

// Config：全量配置
type Config struct {
	Server    ServerCfg    `yaml:"server"`
	Redis     RedisCfg     `yaml:"redis"`
	Inference InferenceCfg `yaml:"inference"`
	Cooldown  CooldownCfg  `yaml:"cooldown"`
	AllowList AllowListCfg `yaml:"allowList"`
	Gateway   GatewayCfg   `yaml:"gateway"`
	Reply     ReplyCfg     `yaml:"reply"`
	Warmup    WarmupCfg    `yaml:"warmup"`
	Logging   LoggingCfg   `yaml:"logging"`
}

// Load：从 YAML 文件加载配置
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(b))
	var c Config
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyDefaults fills every zero value that has a documented default.
func (c *Config) ApplyDefaults() {
	if c.Server.ReadHeaderTimeoutMs <= 0 {
		c.Server.ReadHeaderTimeoutMs = 5000
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "pixiu:relay"
	}

	inf := &c.Inference
	if strings.TrimSpace(inf.BaseURL) == "" {
		inf.BaseURL = DefaultBaseURL
	}
	if inf.TimeoutMs <= 0 {
		inf.TimeoutMs = 30000
	}
	if inf.Backoff.InitialMs <= 0 {
		inf.Backoff.InitialMs = 2000
	}
	if inf.Backoff.Multiplier <= 0 {
		inf.Backoff.Multiplier = 2
	}
	if inf.Backoff.MaxAttempts <= 0 {
		inf.Backoff.MaxAttempts = 3
	}
	if inf.Backoff.MaxMs <= 0 {
		inf.Backoff.MaxMs = 60000
	}
	if inf.Breaker.ErrorThreshold <= 0 {
		inf.Breaker.ErrorThreshold = 5
	}
	if inf.Breaker.StatIntervalMs <= 0 {
		inf.Breaker.StatIntervalMs = 10000
	}
	if inf.Breaker.RetryTimeoutMs <= 0 {
		inf.Breaker.RetryTimeoutMs = 30000
	}
	if inf.Breaker.MinRequests <= 0 {
		inf.Breaker.MinRequests = 5
	}

	if c.Cooldown.Seconds <= 0 {
		c.Cooldown.Seconds = 3
	}
	c.Cooldown.Backend = normalizeBackend(c.Cooldown.Backend)
	c.Cooldown.FailPolicy = NormalizeFailPolicy(c.Cooldown.FailPolicy)

	c.AllowList.Backend = normalizeBackend(c.AllowList.Backend)
	if c.AllowList.RefreshIntervalMs <= 0 {
		c.AllowList.RefreshIntervalMs = 60000
	}

	if c.Gateway.MaxInFlight <= 0 {
		c.Gateway.MaxInFlight = 32
	}
	if c.Gateway.ReconnectMinMs <= 0 {
		c.Gateway.ReconnectMinMs = 1000
	}
	if c.Gateway.ReconnectMaxMs <= 0 {
		c.Gateway.ReconnectMaxMs = 60000
	}
	if c.Gateway.CallTimeoutMs <= 0 {
		c.Gateway.CallTimeoutMs = 10000
	}

	if c.Reply.MaxLength <= 0 {
		c.Reply.MaxLength = 2000
	}
	switch {
	case c.Reply.EmptyRetries == 0:
		c.Reply.EmptyRetries = 2
	case c.Reply.EmptyRetries < 0:
		c.Reply.EmptyRetries = 0
	}
	if c.Reply.ModelName == "" {
		c.Reply.ModelName = inf.ModelID
	}

	if c.Warmup.IntervalMs <= 0 {
		c.Warmup.IntervalMs = 10 * 60 * 1000
	}
	if len(c.Warmup.Inputs) == 0 {
		c.Warmup.Inputs = []string{"Hello!", "cheesecake macaroni", "potatoes", "lalala", "jajaja", "brr", "mbmb", "abcd", "xyz"}
	}
}

// Validate reports the first configuration error it finds.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Inference.ModelID) == "" {
		return fmt.Errorf("config: inference.modelId is required")
	}
	if c.Inference.Backoff.Multiplier < 1 {
		return fmt.Errorf("config: inference.backoff.multiplier must be >= 1, got %v", c.Inference.Backoff.Multiplier)
	}
	switch c.Cooldown.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("config: unsupported cooldown.backend %q", c.Cooldown.Backend)
	}
	switch c.AllowList.Backend {
	case BackendMemory, BackendRedis:
	case BackendSQLite:
		if strings.TrimSpace(c.AllowList.SQLitePath) == "" {
			return fmt.Errorf("config: allowList.sqlitePath is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("config: unsupported allowList.backend %q", c.AllowList.Backend)
	}
	if c.NeedsRedis() && !c.Redis.Enabled() {
		return fmt.Errorf("config: redis.addr is required when a redis backend is selected")
	}
	return nil
}

// NeedsRedis reports whether any backend is configured to use Redis.
func (c *Config) NeedsRedis() bool {
	return c.Cooldown.Backend == BackendRedis || c.AllowList.Backend == BackendRedis
}

func normalizeBackend(b string) string {
	b = strings.ToLower(strings.TrimSpace(b))
	if b == "" {
		return BackendMemory
	}
	return b
}

// NormalizeFailPolicy maps unknown values to fail-open.
func NormalizeFailPolicy(policy string) string {
	policy = strings.ToLower(strings.TrimSpace(policy))
	if policy != FailOpen && policy != FailClosed {
		return FailOpen
	}
	return policy
}
