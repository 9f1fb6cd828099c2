package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joeshaw/envdecode"
)

// Config is the full process configuration, decoded from the environment.
type Config struct {
	LogLevel string `env:"PERMWATCH_LOG_LEVEL,default=info"`

	Server  Server
	Redis   RedisConfig
	Chain   ChainConfig
	Poller  PollerConfig
	Renewal RenewalConfig
	Notify  NotifyConfig
	Bus     BusConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr string `env:"PERMWATCH_ADDR,default=:8080"`
}

// RedisConfig configures the key-value store connection.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL,default=redis://localhost:6379/0"`
	PoolSize     int           `env:"REDIS_POOL_SIZE,default=20"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS,default=2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT,default=5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT,default=3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT,default=3s"`
}

// ChainConfig points the ledger adapter at the watched contract.
type ChainConfig struct {
	RPCURL          string        `env:"CHAIN_RPC_URL"`
	ContractAddress string        `env:"CHAIN_CONTRACT_ADDRESS"`
	ChainID         uint64        `env:"CHAIN_ID,default=1"`
	StartBlock      uint64        `env:"CHAIN_START_BLOCK,default=0"`
	SignerKey       string        `env:"CHAIN_SIGNER_KEY"`
	GasLimit        uint64        `env:"CHAIN_GAS_LIMIT,default=300000"`
	CallTimeout     time.Duration `env:"CHAIN_CALL_TIMEOUT,default=15s"`
}

// PollerConfig drives the event poller and the stats refresher.
type PollerConfig struct {
	Interval      time.Duration `env:"POLLER_INTERVAL,default=5s"`
	StatsInterval time.Duration `env:"POLLER_STATS_INTERVAL,default=60s"`
}

// RenewalConfig drives the renewal scheduler.
type RenewalConfig struct {
	Interval       time.Duration `env:"RENEWAL_INTERVAL,default=60s"`
	GraceRetention time.Duration `env:"RENEWAL_GRACE_RETENTION,default=720h"`
	AutoRenewLead  time.Duration `env:"RENEWAL_AUTO_RENEW_LEAD,default=24h"`
}

// NotifyConfig holds provider credentials and inbox limits.
type NotifyConfig struct {
	EmailRelayURL    string        `env:"NOTIFY_EMAIL_RELAY_URL"`
	EmailAPIKey      string        `env:"NOTIFY_EMAIL_API_KEY"`
	EmailFrom        string        `env:"NOTIFY_EMAIL_FROM,default=alerts@permwatch.local"`
	TelegramBotToken string        `env:"NOTIFY_TELEGRAM_BOT_TOKEN"`
	TelegramAPIBase  string        `env:"NOTIFY_TELEGRAM_API_BASE,default=https://api.telegram.org"`
	NeynarAPIKey     string        `env:"NOTIFY_NEYNAR_API_KEY"`
	NeynarSignerUUID string        `env:"NOTIFY_NEYNAR_SIGNER_UUID"`
	NeynarAPIBase    string        `env:"NOTIFY_NEYNAR_API_BASE,default=https://api.neynar.com"`
	Timeout          time.Duration `env:"NOTIFY_TIMEOUT,default=10s"`
	DedupWindow      time.Duration `env:"NOTIFY_DEDUP_WINDOW,default=1h"`
	InboxLimit       int64         `env:"NOTIFY_INBOX_LIMIT,default=100"`
	InboxTTL         time.Duration `env:"NOTIFY_INBOX_TTL,default=720h"`
}

// BusConfig enables optional event fan-out. Empty values disable a sink.
type BusConfig struct {
	NATSURL      string `env:"BUS_NATS_URL"`
	NATSSubject  string `env:"BUS_NATS_SUBJECT,default=permwatch.events"`
	KafkaBrokers string `env:"BUS_KAFKA_BROKERS"`
	KafkaTopic   string `env:"BUS_KAFKA_TOPIC,default=permwatch.events"`
}

// Load builds a Config from environment variables so main stays lean.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the services cannot start with.
func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return errors.New("REDIS_URL is required")
	}
	if c.Chain.RPCURL == "" {
		return errors.New("CHAIN_RPC_URL is required")
	}
	if !common.IsHexAddress(c.Chain.ContractAddress) {
		return fmt.Errorf("CHAIN_CONTRACT_ADDRESS %q is not a hex address", c.Chain.ContractAddress)
	}
	if c.Poller.Interval <= 0 || c.Renewal.Interval <= 0 {
		return errors.New("poller and renewal intervals must be positive")
	}
	return nil
}

// KafkaBrokerList splits the comma separated broker list.
func (b BusConfig) KafkaBrokerList() []string {
	if b.KafkaBrokers == "" {
		return nil
	}
	var out []string
	for _, broker := range strings.Split(b.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			out = append(out, broker)
		}
	}
	return out
}
