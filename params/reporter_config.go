package params

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// ReporterComponentEntry is one configured oracle-script component (§4.J
// steps 1-2): the feeds it is responsible for and the opaque capability
// strings (API keys, base URLs) it needs to fetch fresh values.
type ReporterComponentEntry struct {
	Name         string            `json:"name"`
	IntervalMS   uint64            `json:"interval_ms"`
	FeedIDs      []uint32          `json:"feed_ids"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
}

// ReporterConfig is the parsed reporter_config.json.
type ReporterConfig struct {
	ReporterID       uint64                    `json:"reporter_id"`
	PrivateKeyPath   string                    `json:"private_key_path"`
	SequencerBaseURL string                    `json:"sequencer_base_url"`
	KafkaURL         string                    `json:"kafka_report_endpoint,omitempty"`
	Components       []ReporterComponentEntry  `json:"components"`
	Tolerances       map[uint32]float64        `json:"tolerances,omitempty"`
}

func (c ReporterConfig) Validate() error {
	if c.SequencerBaseURL == "" {
		return fmt.Errorf("reporter config: sequencer_base_url is required")
	}
	for _, comp := range c.Components {
		if comp.IntervalMS == 0 {
			return fmt.Errorf("reporter config: component %q: interval_ms must be > 0", comp.Name)
		}
	}
	return nil
}

func (c ReporterComponentEntry) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// LoadReporterConfig loads reporter_config.json from REPORTER_CONFIG_DIR (or
// the current directory), applying the same .env-overlay precedence as
// LoadFromEnv.
func LoadReporterConfig(envPath string) (ReporterConfig, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	dir := getEnv("REPORTER_CONFIG_DIR", ".")
	path := filepath.Join(dir, "reporter_config.json")

	var cfg ReporterConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return ReporterConfig{}, fmt.Errorf("reporter config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ReporterConfig{}, fmt.Errorf("reporter config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return ReporterConfig{}, err
	}
	return cfg, nil
}
