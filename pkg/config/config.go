// Package config loads a validator node's tuning parameters from node.yaml
// and its fixed port set from accepted_ports.json, layering environment
// variable overrides on top the way the teacher's config layer does.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tuning value a validator node needs beyond its
// identity and the accepted-ports file.
type Config struct {
	// TLive is how long a peer is considered live after its last heartbeat.
	TLive time.Duration `yaml:"t_live"`
	// TVote bounds how long the consensus coordinator waits for peer votes.
	TVote time.Duration `yaml:"t_vote"`
	// TDiscover is how long a booting node waits, accumulating peers, before
	// it sends StateRequest messages (each bounded by TVote) and adopts the
	// majority digest among the replies.
	TDiscover time.Duration `yaml:"t_discover"`
	// HeartbeatPeriod is how often this node emits a Heartbeat to peers.
	HeartbeatPeriod time.Duration `yaml:"heartbeat_period"`
	// MaxInFlight bounds the number of requests awaiting a consensus
	// decision at once.
	MaxInFlight int `yaml:"max_in_flight"`
	// FaucetAmount is the balance credited by a faucet request.
	FaucetAmount uint64 `yaml:"faucet_amount"`
	// ValidatorReward is the balance credited to each accepting voter's
	// operator account per committed request.
	ValidatorReward uint64 `yaml:"validator_reward"`
	// PostgresDSN, if set, enables the archival sink. Empty disables it.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// UnmarshalYAML decodes duration fields from their Go-syntax string form
// ("6s", "250ms") rather than yaml.v3's default integer-nanoseconds
// encoding of time.Duration, and leaves any field absent from the document
// at whatever value c already holds (its caller seeds c with Default()
// first, so a partial node.yaml only overrides the fields it names).
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		TLive           *string `yaml:"t_live"`
		TVote           *string `yaml:"t_vote"`
		TDiscover       *string `yaml:"t_discover"`
		HeartbeatPeriod *string `yaml:"heartbeat_period"`
		MaxInFlight     *int    `yaml:"max_in_flight"`
		FaucetAmount    *uint64 `yaml:"faucet_amount"`
		ValidatorReward *uint64 `yaml:"validator_reward"`
		PostgresDSN     *string `yaml:"postgres_dsn"`
	}
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("config: decode: %w", err)
	}

	durations := []struct {
		name string
		src  *string
		dst  *time.Duration
	}{
		{"t_live", raw.TLive, &c.TLive},
		{"t_vote", raw.TVote, &c.TVote},
		{"t_discover", raw.TDiscover, &c.TDiscover},
		{"heartbeat_period", raw.HeartbeatPeriod, &c.HeartbeatPeriod},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("config: parse %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if raw.MaxInFlight != nil {
		c.MaxInFlight = *raw.MaxInFlight
	}
	if raw.FaucetAmount != nil {
		c.FaucetAmount = *raw.FaucetAmount
	}
	if raw.ValidatorReward != nil {
		c.ValidatorReward = *raw.ValidatorReward
	}
	if raw.PostgresDSN != nil {
		c.PostgresDSN = *raw.PostgresDSN
	}
	return nil
}

// Default returns the tuning values used when node.yaml is absent: a 2s
// heartbeat period with T_live at 3x that, matching spec.md's liveness
// rule, a 3s vote timeout, and a 5s discovery window.
func Default() Config {
	return Config{
		TLive:           6 * time.Second,
		TVote:           3 * time.Second,
		TDiscover:       5 * time.Second,
		HeartbeatPeriod: 2 * time.Second,
		MaxInFlight:     256,
		FaucetAmount:    100,
		ValidatorReward: 1,
	}
}

// Load reads node.yaml at path, falling back to Default for a missing
// file, and then applies DATABASE_URL as an environment override for
// PostgresDSN — the one value spec.md calls out as environment-driven.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return applyEnv(cfg), nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return applyEnv(cfg), nil
}

func applyEnv(cfg Config) Config {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.PostgresDSN = dsn
	}
	return cfg
}

// AcceptedPorts is the fixed port set every node in the network binds
// from, the sole source of network membership per spec.md §6.
type AcceptedPorts struct {
	Host  string `json:"host"`
	Ports []int  `json:"ports"`
}

// LoadAcceptedPorts reads the accepted-ports file at path.
func LoadAcceptedPorts(path string) (AcceptedPorts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AcceptedPorts{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var ap AcceptedPorts
	if err := json.Unmarshal(data, &ap); err != nil {
		return AcceptedPorts{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(ap.Ports) == 0 {
		return AcceptedPorts{}, fmt.Errorf("config: %s lists no ports", path)
	}
	return ap, nil
}

// Endpoints returns the host:port form of every accepted port.
func (ap AcceptedPorts) Endpoints() []string {
	out := make([]string, len(ap.Ports))
	for i, p := range ap.Ports {
		out[i] = fmt.Sprintf("%s:%d", ap.Host, p)
	}
	return out
}
