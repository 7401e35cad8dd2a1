package config

import (
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every load and validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// SupplyCollateralTopic is keccak256("SupplyCollateral(address,address,address,uint256)"),
// bare hex as the event API expects it.
const SupplyCollateralTopic = "fa56f7b24f17183d81894d3ac2ee654e3c26388d17a28dbd9549b8114304e1f4"

const (
	SourceHTTP = "http"
	SourceRPC  = "rpc"

	AbsorbViaComet      = "comet"
	AbsorbViaLiquidator = "liquidator"
)

// Config holds the YAML configuration.
type Config struct {
	Version   int             `yaml:"version"`
	Global    GlobalConfig    `yaml:"global"`
	Chain     ChainConfig     `yaml:"chain"`
	Contracts ContractsConfig `yaml:"contracts"`
	Events    EventsConfig    `yaml:"events"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify"`
}

type GlobalConfig struct {
	// DBPath is the attempt journal; empty disables it.
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`
}

type ChainConfig struct {
	RPCURL     string `yaml:"rpc_url"`
	ChainID    uint64 `yaml:"chain_id"`
	PrivateKey string `yaml:"private_key"`
	// Account is credited by absorb; defaults to the key's address.
	Account  string `yaml:"account"`
	GasLimit uint64 `yaml:"gas_limit"`
	// GasPrice in wei as a decimal string; empty asks the node.
	GasPrice      string        `yaml:"gas_price"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
}

type ContractsConfig struct {
	Multicall  string `yaml:"multicall"`
	Comet      string `yaml:"comet"`
	Liquidator string `yaml:"liquidator"`
	AbsorbVia  string `yaml:"absorb_via"`
	ABIDir     string `yaml:"abi_dir"`
}

type EventsConfig struct {
	Source         string        `yaml:"source"`
	URL            string        `yaml:"url"`
	LogAddress     string        `yaml:"log_address"`
	Topic          string        `yaml:"topic"`
	Limit          int           `yaml:"limit"`
	FromBlock      uint64        `yaml:"from_block"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     uint64        `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	RateLimit      float64       `yaml:"rate_limit"`
}

type SchedulerConfig struct {
	Period           time.Duration `yaml:"period"`
	RefreshInterval  uint64        `yaml:"refresh_interval"`
	ChunkSize        int           `yaml:"chunk_size"`
	ChunkConcurrency int           `yaml:"chunk_concurrency"`
}

// NotifyConfig lists webhooks told about settled attempts.
type NotifyConfig struct {
	OnlyFailures bool   `yaml:"only_failures"`
	Sinks        []Sink `yaml:"sinks"`
}

type Sink struct {
	ID         string `yaml:"id"`
	Type       string `yaml:"type"`
	WebhookURL string `yaml:"webhook_url"`
	Template   string `yaml:"template"`
	URL        string `yaml:"url"`
	Method     string `yaml:"method"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: config path is required", ErrInvalidConfig)
	}

	if err := loadDotEnv(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config: %w", ErrInvalidConfig, err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %w", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

// Validate applies defaults and performs direct schema checks.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = "info"
	}
	if err := c.Contracts.validate(); err != nil {
		return fmt.Errorf("contracts: %w", err)
	}
	if err := c.Chain.validate(); err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	if err := c.Events.validate(c.Contracts.Comet); err != nil {
		return fmt.Errorf("events: %w", err)
	}
	if err := c.Scheduler.validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	sinkIDs := map[string]struct{}{}
	for i := range c.Notify.Sinks {
		s := &c.Notify.Sinks[i]
		if _, exists := sinkIDs[s.ID]; exists {
			return fmt.Errorf("duplicate sink id: %s", s.ID)
		}
		sinkIDs[s.ID] = struct{}{}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("notify sink %s: %w", s.ID, err)
		}
	}
	return nil
}

func (c *ChainConfig) validate() error {
	if c.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if strings.TrimSpace(c.PrivateKey) == "" {
		return errors.New("private_key is required")
	}
	if c.Account != "" && !common.IsHexAddress(c.Account) {
		return fmt.Errorf("account %q is not an address", c.Account)
	}
	if c.GasLimit == 0 {
		c.GasLimit = 2_000_000
	}
	if _, err := c.GasPriceWei(); err != nil {
		return err
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 30 * time.Second
	}
	return nil
}

// GasPriceWei parses gas_price; nil means ask the node.
func (c *ChainConfig) GasPriceWei() (*big.Int, error) {
	if strings.TrimSpace(c.GasPrice) == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(c.GasPrice), 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("gas_price %q must be a positive integer in wei", c.GasPrice)
	}
	return v, nil
}

func (c *ContractsConfig) validate() error {
	for _, f := range []struct{ name, v string }{
		{"multicall", c.Multicall},
		{"comet", c.Comet},
		{"liquidator", c.Liquidator},
	} {
		name, v := f.name, f.v
		if v == "" {
			return fmt.Errorf("%s is required", name)
		}
		if !common.IsHexAddress(v) {
			return fmt.Errorf("%s %q is not an address", name, v)
		}
	}
	switch strings.ToLower(c.AbsorbVia) {
	case "":
		c.AbsorbVia = AbsorbViaComet
	case AbsorbViaComet, AbsorbViaLiquidator:
		c.AbsorbVia = strings.ToLower(c.AbsorbVia)
	default:
		return fmt.Errorf("unsupported absorb_via: %s", c.AbsorbVia)
	}
	return nil
}

func (e *EventsConfig) validate(comet string) error {
	switch strings.ToLower(e.Source) {
	case "":
		e.Source = SourceHTTP
	case SourceHTTP, SourceRPC:
		e.Source = strings.ToLower(e.Source)
	default:
		return fmt.Errorf("unsupported source: %s", e.Source)
	}
	if e.Source == SourceHTTP {
		if e.URL == "" {
			return errors.New("url is required for http source")
		}
		if u, err := url.Parse(e.URL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("url %q is not absolute", e.URL)
		}
	}
	// The event API may key contracts in its own address form (e.g. base58),
	// so only the rpc source needs a hex address.
	e.LogAddress = strings.TrimSpace(e.LogAddress)
	if e.LogAddress == "" {
		e.LogAddress = comet
	}
	if e.Source == SourceRPC && !common.IsHexAddress(e.LogAddress) {
		return fmt.Errorf("log_address %q is not an address", e.LogAddress)
	}
	if e.Topic == "" {
		e.Topic = SupplyCollateralTopic
	}
	topic := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(e.Topic)), "0x")
	if len(topic) != 64 || !isHex(topic) {
		return fmt.Errorf("topic %q must be a 32-byte hex word", e.Topic)
	}
	e.Topic = topic
	if e.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	if e.Limit == 0 {
		e.Limit = 2000
	}
	if e.Timeout <= 0 {
		e.Timeout = 10 * time.Second
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = 5
	}
	if e.InitialBackoff <= 0 {
		e.InitialBackoff = time.Second
	}
	if e.MaxBackoff <= 0 {
		e.MaxBackoff = 30 * time.Second
	}
	if e.MaxBackoff < e.InitialBackoff {
		return errors.New("max_backoff must not be below initial_backoff")
	}
	if e.RateLimit < 0 {
		return errors.New("rate_limit must not be negative")
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	if s.Period < 0 || s.ChunkSize < 0 || s.ChunkConcurrency < 0 {
		return errors.New("period, chunk_size and chunk_concurrency must not be negative")
	}
	if s.Period == 0 {
		s.Period = 60 * time.Second
	}
	if s.RefreshInterval == 0 {
		s.RefreshInterval = 5
	}
	if s.ChunkSize == 0 {
		s.ChunkSize = 100
	}
	if s.ChunkConcurrency == 0 {
		s.ChunkConcurrency = 1
	}
	return nil
}

func (s *Sink) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	switch strings.ToLower(s.Type) {
	case "slack", "teams":
		if s.WebhookURL == "" {
			return errors.New("webhook_url is required for slack/teams sinks")
		}
	case "webhook":
		if s.URL == "" {
			return errors.New("url is required for webhook sink")
		}
		if s.Method == "" {
			s.Method = "POST"
		}
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unsupported sink type: %s", s.Type)
	}
	return nil
}

func isHex(s string) bool {
	for _, c := range s {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
