// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// EnvPrefix prefixes every environment override, e.g. MEV_DETECTOR_API_KEY.
const EnvPrefix = "MEV_DETECTOR"

// FeedAll selects every feed that has an endpoint configured.
const FeedAll = "all"

type Config struct {
	RPCList      []string `mapstructure:"rpc_list"`
	APIKey       string   `mapstructure:"api_key"`
	WebSocketURL string   `mapstructure:"websocket_url"`
	BundleURL    string   `mapstructure:"bundle_url"`
	Feed         string   `mapstructure:"feed"`
	Programs     []string `mapstructure:"programs"`

	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
	ReconnectJitter   float64       `mapstructure:"reconnect_jitter"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PollLimit         int           `mapstructure:"poll_limit"`

	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	FetchWorkers    int           `mapstructure:"fetch_workers"`
	HistoryCapacity int           `mapstructure:"history_capacity"`
	BundleCapacity  int           `mapstructure:"bundle_capacity"`
	RecentLimit     int           `mapstructure:"recent_limit"`
	SandwichWindow  time.Duration `mapstructure:"sandwich_window"`
	StatsInterval   time.Duration `mapstructure:"stats_interval"`

	ExportDir string `mapstructure:"export_dir"`

	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Sinks   SinksConfig   `mapstructure:"sinks"`
	Alerts  AlertsConfig  `mapstructure:"alerts"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxAge      int    `mapstructure:"max_age"`
	MaxBackups  int    `mapstructure:"max_backups"`
	Compress    bool   `mapstructure:"compress"`
	Development bool   `mapstructure:"development"`
	Pretty      bool   `mapstructure:"pretty"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// AlertsConfig sets detection alert thresholds. Zero disables a threshold.
type AlertsConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	VictimLoss       float64       `mapstructure:"victim_loss"`
	AttackerProfit   float64       `mapstructure:"attacker_profit"`
	ArbitragePercent float64       `mapstructure:"arbitrage_percent"`
	RepeatAttacker   int           `mapstructure:"repeat_attacker"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

type SinksConfig struct {
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Journal    JournalConfig    `mapstructure:"journal"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
	ListKey  string `mapstructure:"list_key"`
	ListSize int    `mapstructure:"list_size"`
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Stream  string `mapstructure:"stream"`
	Subject string `mapstructure:"subject"`
}

type ClickHouseConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Addr          string        `mapstructure:"addr"`
	Database      string        `mapstructure:"database"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

const (
	DefaultReconnectDelay    = 5 * time.Second
	DefaultMaxReconnectDelay = 60 * time.Second
	DefaultReconnectJitter   = 0.2
	DefaultPollInterval      = 2 * time.Second
	DefaultPollLimit         = 25
	DefaultFetchTimeout      = 10 * time.Second
	DefaultFetchWorkers      = 8
	DefaultHistoryCapacity   = 1000
	DefaultBundleCapacity    = 100
	DefaultRecentLimit       = 25
	DefaultSandwichWindow    = 500 * time.Millisecond
	DefaultStatsInterval     = 5 * time.Second

	DefaultClickHouseBatchSize     = 100
	DefaultClickHouseFlushInterval = 5 * time.Second
)

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"rpc_list":            []string{"https://api.mainnet-beta.solana.com"},
		"api_key":             "",
		"websocket_url":       "wss://api.mainnet-beta.solana.com",
		"bundle_url":          "",
		"feed":                string(types.FeedLogs),
		"programs":            []string{},
		"reconnect_delay":     DefaultReconnectDelay,
		"max_reconnect_delay": DefaultMaxReconnectDelay,
		"reconnect_jitter":    DefaultReconnectJitter,
		"poll_interval":       DefaultPollInterval,
		"poll_limit":          DefaultPollLimit,
		"fetch_timeout":       DefaultFetchTimeout,
		"fetch_workers":       DefaultFetchWorkers,
		"history_capacity":    DefaultHistoryCapacity,
		"bundle_capacity":     DefaultBundleCapacity,
		"recent_limit":        DefaultRecentLimit,
		"sandwich_window":     DefaultSandwichWindow,
		"stats_interval":      DefaultStatsInterval,
		"export_dir":          "",

		"log.level":       "info",
		"log.file":        "logs/mevdetector.log",
		"log.max_size":    100,
		"log.max_age":     7,
		"log.max_backups": 3,
		"log.compress":    true,
		"log.development": false,
		"log.pretty":      false,

		"metrics.enabled": false,
		"metrics.addr":    ":9090",

		"sinks.redis.enabled":   false,
		"sinks.redis.addr":      "localhost:6379",
		"sinks.redis.password":  "",
		"sinks.redis.db":        0,
		"sinks.redis.channel":   "mev:detections",
		"sinks.redis.list_key":  "mev:recent",
		"sinks.redis.list_size": 500,

		"sinks.nats.enabled": false,
		"sinks.nats.url":     "nats://localhost:4222",
		"sinks.nats.stream":  "MEV",
		"sinks.nats.subject": "mev.detections",

		"sinks.clickhouse.enabled":        false,
		"sinks.clickhouse.addr":           "localhost:9000",
		"sinks.clickhouse.database":       "mev",
		"sinks.clickhouse.username":       "default",
		"sinks.clickhouse.password":       "",
		"sinks.clickhouse.batch_size":     DefaultClickHouseBatchSize,
		"sinks.clickhouse.flush_interval": DefaultClickHouseFlushInterval,

		"sinks.journal.enabled": false,
		"sinks.journal.path":    "logs/detections.csv",

		"alerts.enabled":           false,
		"alerts.victim_loss":       1000.0,
		"alerts.attacker_profit":   1000.0,
		"alerts.arbitrage_percent": 5.0,
		"alerts.repeat_attacker":   10,
		"alerts.cooldown":          time.Minute,
	}
}

// LoadConfig reads path (optional), a .env file next to it or in the
// working directory, then MEV_DETECTOR_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	loadDotEnv(path)

	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.RPCList = cleanList(cfg.RPCList)
	cfg.Programs = cleanList(cfg.Programs)

	return &cfg, validateConfig(&cfg)
}

func loadDotEnv(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	for _, f := range candidates {
		if _, err := os.Stat(f); err == nil {
			// existing environment variables win
			_ = godotenv.Load(f)
			return
		}
	}
}

// cleanList splits comma separated entries and drops blanks.
func cleanList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if clean := strings.TrimSpace(part); clean != "" {
				out = append(out, clean)
			}
		}
	}
	return out
}

// Feeds returns the feed kinds selected by Feed.
func (c *Config) Feeds() ([]types.FeedKind, error) {
	switch strings.ToLower(c.Feed) {
	case string(types.FeedBundle):
		return []types.FeedKind{types.FeedBundle}, nil
	case string(types.FeedLogs):
		return []types.FeedKind{types.FeedLogs}, nil
	case string(types.FeedPoll):
		return []types.FeedKind{types.FeedPoll}, nil
	case FeedAll:
		feeds := []types.FeedKind{types.FeedLogs}
		if c.BundleURL != "" {
			feeds = append(feeds, types.FeedBundle)
		}
		return feeds, nil
	}
	return nil, fmt.Errorf("unknown feed %q: expected bundle, logs, poll or all", c.Feed)
}

// Validate checks the configuration after it has been changed in code, for
// example by command line overrides.
func (c *Config) Validate() error {
	return validateConfig(c)
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return fmt.Errorf("invalid RPC URL: %w", err)
		}
	}

	feeds, err := cfg.Feeds()
	if err != nil {
		return err
	}
	for _, feed := range feeds {
		switch feed {
		case types.FeedBundle:
			if cfg.BundleURL == "" {
				return errors.New("bundle feed requires bundle_url")
			}
			if err := validateURLWithCache(cfg.BundleURL, "ws"); err != nil {
				return fmt.Errorf("invalid bundle URL: %w", err)
			}
		case types.FeedLogs:
			if cfg.WebSocketURL == "" {
				return errors.New("logs feed requires websocket_url")
			}
			if err := validateURLWithCache(cfg.WebSocketURL, "ws"); err != nil {
				return fmt.Errorf("invalid WebSocket URL: %w", err)
			}
		}
	}

	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.ReconnectDelay <= 0 {
		return errors.New("invalid reconnect_delay")
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		return errors.New("max_reconnect_delay must not be below reconnect_delay")
	}
	if cfg.ReconnectJitter < 0 || cfg.ReconnectJitter >= 1 {
		return errors.New("reconnect_jitter must be in [0, 1)")
	}
	if cfg.FetchTimeout <= 0 {
		return errors.New("invalid fetch_timeout")
	}
	if cfg.FetchWorkers <= 0 {
		return errors.New("invalid fetch_workers")
	}
	if cfg.HistoryCapacity <= 0 {
		return errors.New("invalid history_capacity")
	}
	if cfg.BundleCapacity <= 0 {
		return errors.New("invalid bundle_capacity")
	}
	if cfg.RecentLimit <= 0 {
		return errors.New("invalid recent_limit")
	}
	if cfg.SandwichWindow <= 0 {
		return errors.New("invalid sandwich_window")
	}
	if cfg.PollInterval <= 0 || cfg.PollLimit <= 0 {
		return errors.New("invalid poll settings")
	}
	if cfg.Alerts.VictimLoss < 0 || cfg.Alerts.AttackerProfit < 0 || cfg.Alerts.ArbitragePercent < 0 || cfg.Alerts.RepeatAttacker < 0 {
		return errors.New("alert thresholds must not be negative")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	key := protocol + "|" + rawURL
	if _, ok := urlCache.Load(key); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) || parsed.Host == "" {
		return fmt.Errorf("invalid URL protocol %q, expected %s", parsed.Scheme, protocol)
	}
	urlCache.Store(key, parsed)
	return nil
}
