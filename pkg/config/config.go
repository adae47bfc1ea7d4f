package config

import (
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

type RateLimitBucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

type Config struct {
	Port          int    `yaml:"port"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	Timezone      string `yaml:"timezone"`
	LogLevel      string `yaml:"logLevel"`
	LogFormat     string `yaml:"logFormat"`
	Env           string `yaml:"env"`

	CapturesDir       string `yaml:"capturesDir"`
	OnlyGlobalLookups bool   `yaml:"onlyGlobalLookups"`
	DefaultPublic     bool   `yaml:"defaultPublic"`
	TorProxy          string `yaml:"torProxy"`
	UserAgentsDir     string `yaml:"userAgentsDir"`
	DefaultUserAgent  string `yaml:"defaultUserAgent"`
	// MaxDepth is carried for producers; the consumer does not enforce it.
	MaxDepth int `yaml:"maxDepth"`

	ConsumerPollIntervalSeconds int             `yaml:"consumerPollIntervalSeconds"`
	ReconcileIntervalSeconds    int             `yaml:"reconcileIntervalSeconds"`
	ReconcileProbeRetries       int             `yaml:"reconcileProbeRetries"`
	ReconcileProbeDelaySeconds  int             `yaml:"reconcileProbeDelaySeconds"`
	ReconcileBackoffPolicy      string          `yaml:"reconcileBackoffPolicy"`
	ReconcileRateLimit          RateLimitBucket `yaml:"reconcileRateLimit"`

	BackendURL               string  `yaml:"backendUrl"`
	BackendAuthSecret        string  `yaml:"backendAuthSecret"`
	BackendRequestsPerSecond float64 `yaml:"backendRequestsPerSecond"`
	CaptureTimeoutSeconds    int     `yaml:"captureTimeoutSeconds"`
	ChromePath               string  `yaml:"chromePath"`

	// AdminAuthSecret signs the HS256 tokens accepted on /admin routes.
	AdminAuthSecret string          `yaml:"adminAuthSecret"`
	OpsRateLimit    RateLimitBucket `yaml:"opsRateLimit"`

	Tracing TracingConfig `yaml:"tracing"`
}

// LoadConfigOptional behaves like LoadConfig but treats an empty path or a
// missing file as an empty document, so env and defaults alone are enough.
func LoadConfigOptional(filePath string) (*Config, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return load(nil)
	}
	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return load(nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", filePath)
	}
	return load(data)
}

func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", filePath)
	}
	return load(data)
}

func load(data []byte) (*Config, error) {
	// booleans that default to true must be set before decoding
	c := Config{OnlyGlobalLookups: true, DefaultPublic: true}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	envInt("PORT", &c.Port)
	envString("REDIS_ADDR", &c.RedisAddr)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	envString("TIMEZONE", &c.Timezone)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)
	envString("ENV", &c.Env)
	envString("CAPTURES_DIR", &c.CapturesDir)
	envBool("ONLY_GLOBAL_LOOKUPS", &c.OnlyGlobalLookups)
	envBool("DEFAULT_PUBLIC", &c.DefaultPublic)
	envString("TOR_PROXY", &c.TorProxy)
	envString("USER_AGENTS_DIR", &c.UserAgentsDir)
	envString("DEFAULT_USER_AGENT", &c.DefaultUserAgent)
	envInt("CONSUMER_POLL_INTERVAL_SECONDS", &c.ConsumerPollIntervalSeconds)
	envInt("RECONCILE_INTERVAL_SECONDS", &c.ReconcileIntervalSeconds)
	envInt("RECONCILE_PROBE_RETRIES", &c.ReconcileProbeRetries)
	envInt("RECONCILE_PROBE_DELAY_SECONDS", &c.ReconcileProbeDelaySeconds)
	envString("RECONCILE_BACKOFF_POLICY", &c.ReconcileBackoffPolicy)
	envString("BACKEND_URL", &c.BackendURL)
	envString("BACKEND_AUTH_SECRET", &c.BackendAuthSecret)
	if v := os.Getenv("BACKEND_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.BackendRequestsPerSecond = f
		}
	}
	envInt("CAPTURE_TIMEOUT_SECONDS", &c.CaptureTimeoutSeconds)
	envString("CHROME_PATH", &c.ChromePath)
	envString("ADMIN_AUTH_SECRET", &c.AdminAuthSecret)
	envBool("TRACING_ENABLED", &c.Tracing.Enabled)

	if c.Port == 0 {
		c.Port = 8080
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.CapturesDir == "" {
		c.CapturesDir = "./captures"
	}
	if c.TorProxy == "" {
		c.TorProxy = "socks5://127.0.0.1:9050"
	}
	if c.DefaultUserAgent == "" {
		c.DefaultUserAgent = defaultUserAgent
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 1
	}
	if c.ConsumerPollIntervalSeconds <= 0 {
		c.ConsumerPollIntervalSeconds = 1
	}
	if c.ReconcileIntervalSeconds <= 0 {
		c.ReconcileIntervalSeconds = 30
	}
	if c.ReconcileProbeRetries <= 0 {
		c.ReconcileProbeRetries = 3
	}
	if c.ReconcileProbeDelaySeconds <= 0 {
		c.ReconcileProbeDelaySeconds = 3
	}
	if c.ReconcileBackoffPolicy == "" {
		c.ReconcileBackoffPolicy = "fixed"
	}
	if c.ReconcileRateLimit.RequestsPerMinute <= 0 && c.ReconcileRateLimit.BurstSize <= 0 {
		c.ReconcileRateLimit = RateLimitBucket{RequestsPerMinute: 60, BurstSize: 10}
	}
	if c.OpsRateLimit.RequestsPerMinute <= 0 && c.OpsRateLimit.BurstSize <= 0 {
		c.OpsRateLimit = RateLimitBucket{RequestsPerMinute: 600, BurstSize: 60}
	}
	if c.BackendRequestsPerSecond <= 0 {
		c.BackendRequestsPerSecond = 5
	}
	if c.CaptureTimeoutSeconds <= 0 {
		c.CaptureTimeoutSeconds = 90
	}
	if c.Tracing.SampleRatio <= 0 {
		c.Tracing.SampleRatio = 1
	}

	log.Printf("captureq config: {Port:%d Redis:%s TZ:%s Captures:%s OnlyGlobal:%t Backend:%s}\n",
		c.Port, c.RedisAddr, c.Timezone, c.CapturesDir, c.OnlyGlobalLookups, c.BackendURL)
	return &c, nil
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) Validate() error {
	var errs []string
	env := strings.ToLower(strings.TrimSpace(c.Env))
	dev := env == "dev"

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	if strings.TrimSpace(c.RedisAddr) == "" {
		errs = append(errs, "redisAddr is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, "timezone is not a known location")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logLevel must be one of debug, info, warn, error")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, "logFormat must be json or text")
	}
	if strings.TrimSpace(c.CapturesDir) == "" {
		errs = append(errs, "capturesDir is required")
	}
	if u, err := url.Parse(c.TorProxy); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "torProxy must be a proxy URL such as socks5://host:port")
	}
	switch c.ReconcileBackoffPolicy {
	case "fixed", "linear", "exponential", "exp_equal_jitter", "exp_full_jitter":
	default:
		errs = append(errs, "reconcileBackoffPolicy is not a known policy")
	}
	if c.BackendURL != "" {
		u, err := url.Parse(c.BackendURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "backendUrl must be a valid http(s) URL")
		}
		if strings.TrimSpace(c.BackendAuthSecret) == "" && !dev {
			errs = append(errs, "backendAuthSecret is required in non-dev when backendUrl is set")
		}
	}
	if strings.TrimSpace(c.AdminAuthSecret) == "" && !dev {
		errs = append(errs, "adminAuthSecret is required in non-dev")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, "tracing.sampleRatio must be within [0,1]")
	}

	if len(errs) > 0 {
		return errors.Newf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
