// Package params loads the sequencer's on-disk configuration
// (sequencer_config.json / feeds_config.json), generalized from the
// teacher's env-first LoadFromEnv pattern: defaults, then a JSON file, then
// environment variable overrides for paths and log level.
package params

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// BlockConfig governs the internal chain's block cadence (§4.E, §6).
type BlockConfig struct {
	MaxFeedUpdatesToBatch  int    `json:"max_feed_updates_to_batch"`
	BlockGenerationPeriodMS int   `json:"block_generation_period_ms"`
	GenesisBlockTimestamp  *int64 `json:"genesis_block_timestamp,omitempty"`
}

// Provider is one external network's publishing configuration (§4.G, §6).
type Provider struct {
	URL                      string   `json:"url"`
	PrivateKeyPath           string   `json:"private_key_path"`
	ContractAddress          string   `json:"contract_address,omitempty"`
	SafeAddress              string   `json:"safe_address,omitempty"`
	SafeSignatureThreshold   int      `json:"safe_signature_threshold,omitempty"`
	TransactionTimeoutSecs   int      `json:"transaction_timeout_secs"`
	TransactionGasLimit      uint64   `json:"transaction_gas_limit"`
	IsEnabled                bool     `json:"is_enabled"`
	AllowFeeds               []uint32 `json:"allow_feeds,omitempty"`
	ImpersonatedAnvilAccount string   `json:"impersonated_anvil_account,omitempty"`
}

// ReporterEntry is one configured reporter's identity (§6).
type ReporterEntry struct {
	ID     uint64 `json:"id"`
	PubKey string `json:"pub_key"`
}

// KafkaReportEndpoint names the message bus the sequencer publishes blocks
// and second-round batches to, if configured.
type KafkaReportEndpoint struct {
	URL string `json:"url,omitempty"`
}

// SequencerConfig is the parsed sequencer_config.json (§6).
type SequencerConfig struct {
	MainPort       int                       `json:"main_port"`
	AdminPort      int                       `json:"admin_port"`
	PrometheusPort int                       `json:"prometheus_port"`
	BlockConfig    BlockConfig               `json:"block_config"`
	Providers      map[string]Provider       `json:"providers"`
	Reporters      []ReporterEntry           `json:"reporters"`
	Kafka          KafkaReportEndpoint       `json:"kafka_report_endpoint"`
	// DeployBytecode maps an admin-configured feed_kind to the contract
	// bytecode the /deploy/{network}/{feed_kind} route sends; no source
	// names an actual contract, so this stays empty unless an operator
	// configures it (§4.I).
	DeployBytecode map[string]string `json:"deploy_bytecode,omitempty"`
}

// Validate enforces §6's validation rules.
func (c SequencerConfig) Validate() error {
	ports := map[int]string{c.MainPort: "main_port", c.AdminPort: "admin_port", c.PrometheusPort: "prometheus_port"}
	if len(ports) != 3 {
		return fmt.Errorf("config: main_port, admin_port, and prometheus_port must be distinct")
	}
	for name, p := range c.Providers {
		if p.TransactionTimeoutSecs <= 0 {
			return fmt.Errorf("config: provider %q: transaction_timeout_secs must be > 0", name)
		}
		if p.TransactionGasLimit == 0 {
			return fmt.Errorf("config: provider %q: transaction_gas_limit must be > 0", name)
		}
	}
	for _, r := range c.Reporters {
		if _, err := decodeHexPubKey(r.PubKey); err != nil {
			return fmt.Errorf("config: reporter %d: invalid pub_key: %w", r.ID, err)
		}
	}
	return nil
}

func decodeHexPubKey(s string) ([]byte, error) {
	s = trimHexPrefix(s)
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func hexNibble(b byte) (byte, error) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', nil
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, nil
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", b)
	}
}

// Default returns a single-network devnet-shaped configuration.
func Default() SequencerConfig {
	return SequencerConfig{
		MainPort:       8080,
		AdminPort:      8081,
		PrometheusPort: 9090,
		BlockConfig: BlockConfig{
			MaxFeedUpdatesToBatch:   100,
			BlockGenerationPeriodMS: 500,
		},
		Providers: map[string]Provider{},
		Reporters: []ReporterEntry{},
	}
}

// LoadFromEnv loads sequencer_config.json from SEQUENCER_CONFIG_DIR (or the
// current directory) and feeds_config.json from FEEDS_CONFIG_DIR, applying
// an optional .env file first — the teacher's LoadFromEnv priority order
// (ENV > .env file > defaults), generalized to a JSON-file base layer.
func LoadFromEnv(envPath string) (SequencerConfig, []FeedsConfigEntry, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	seqDir := getEnv("SEQUENCER_CONFIG_DIR", ".")
	feedsDir := getEnv("FEEDS_CONFIG_DIR", ".")

	seq := Default()
	seqPath := filepath.Join(seqDir, "sequencer_config.json")
	if data, err := os.ReadFile(seqPath); err == nil {
		if err := json.Unmarshal(data, &seq); err != nil {
			return SequencerConfig{}, nil, fmt.Errorf("config: parse %s: %w", seqPath, err)
		}
	}
	if err := seq.Validate(); err != nil {
		return SequencerConfig{}, nil, err
	}

	var feeds []FeedsConfigEntry
	feedsPath := filepath.Join(feedsDir, "feeds_config.json")
	if data, err := os.ReadFile(feedsPath); err == nil {
		if err := json.Unmarshal(data, &feeds); err != nil {
			return SequencerConfig{}, nil, fmt.Errorf("config: parse %s: %w", feedsPath, err)
		}
	}

	return seq, feeds, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// LogLevel reads SEQUENCER_LOG_LEVEL, defaulting to "info".
func LogLevel() string { return getEnv("SEQUENCER_LOG_LEVEL", "info") }

// BlocksenseRoot reads BLOCKSENSE_ROOT, the base directory private key files
// (and the sequencer's LEDGER_DB_PATH) are resolved relative to when not given
// an absolute path. The log file path is used as given.
func BlocksenseRoot() string { return getEnv("BLOCKSENSE_ROOT", ".") }
