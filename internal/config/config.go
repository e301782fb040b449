// Package config loads the typed configuration for every component from
// environment variables with an optional YAML overlay, the way the
// teacher's core/config.go layers environment variables over a config file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration bundle. Each component takes only the
// sub-config it owns; nothing reaches for a global.
type Config struct {
	RedisURL string `yaml:"redis_url"`
	Port     int    `yaml:"port"`
	DevMode  bool   `yaml:"dev_mode"`

	MCTS         MCTSConfig         `yaml:"mcts"`
	Quantum      QuantumConfig      `yaml:"quantum"`
	Entanglement EntanglementConfig `yaml:"entanglement"`
	Committee    CommitteeConfig    `yaml:"committee"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Edge         EdgeConfig         `yaml:"edge"`
	TLS          TLSConfig          `yaml:"tls"`
	Token        TokenConfig        `yaml:"token"`
	Breaker      BreakerConfig      `yaml:"breaker"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Supervisor   SupervisorConfig   `yaml:"supervisor"`
}

type MCTSConfig struct {
	MaxIterations  int           `yaml:"max_iterations"`
	ExplorationC   float64       `yaml:"exploration_constant"`
	MaxDepth       int           `yaml:"max_depth"`
	ActionCacheCap int           `yaml:"action_cache_capacity"`
	Timeout        time.Duration `yaml:"timeout"`
}

type QuantumConfig struct {
	EvolutionRate           float64 `yaml:"evolution_rate"`
	MeasurementPrecision    float64 `yaml:"measurement_precision"`
	DecoherenceThreshold    float64 `yaml:"decoherence_threshold"`
	MaxEntanglementsPerNode int     `yaml:"max_entanglements_per_node"`
	PruningThreshold        float64 `yaml:"pruning_threshold"`
	MaxRedistributions      int     `yaml:"max_redistributions"`
}

type EntanglementConfig struct {
	MaxDegree        int     `yaml:"max_degree"`
	DenseThreshold   float64 `yaml:"dense_threshold"`
	SparseThreshold  float64 `yaml:"sparse_threshold"`
	MaintenanceEvery time.Duration `yaml:"maintenance_every"`
}

type CommitteeConfig struct {
	MaxConcurrentAgents int           `yaml:"max_concurrent_agents"`
	MinQuorum           int           `yaml:"min_quorum"`
	AgentTimeout        time.Duration `yaml:"agent_timeout"`
	MaxRetries          int           `yaml:"max_retries"`
}

type OrchestratorConfig struct {
	MaxRecursiveDepth     int           `yaml:"max_recursive_depth"`
	ImprovementThreshold  float64       `yaml:"improvement_threshold"`
	CoherenceTimeMS       int           `yaml:"coherence_time_ms"`
	NoImprovementScaleAt  int           `yaml:"no_improvement_scale_at"`
	OutputDir             string        `yaml:"output_dir"`
	RoundTimeout          time.Duration `yaml:"round_timeout"`
}

type EdgeConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	JWTSigningKey   string        `yaml:"jwt_signing_key"`
}

type TLSConfig struct {
	CertDir      string        `yaml:"cert_dir"`
	CertTTL      time.Duration `yaml:"cert_ttl"`
	OCSPCacheTTL time.Duration `yaml:"ocsp_cache_ttl"`
	CRLCacheTTL  time.Duration `yaml:"crl_cache_ttl"`
}

type TokenConfig struct {
	RotationInterval time.Duration `yaml:"rotation_interval"`
	OverlapWindow    time.Duration `yaml:"overlap_window"`
}

type BreakerConfig struct {
	ErrorThreshold   float64       `yaml:"error_threshold"`
	VolumeThreshold  int           `yaml:"volume_threshold"`
	SleepWindow      time.Duration `yaml:"sleep_window"`
	HalfOpenRequests int           `yaml:"half_open_requests"`
	SuccessThreshold float64       `yaml:"success_threshold"`
	WindowSize       time.Duration `yaml:"window_size"`
	BucketCount      int           `yaml:"bucket_count"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type SupervisorConfig struct {
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

// Default returns a configuration with production-sane defaults, mirroring
// the way the teacher's resilience.DefaultConfig seeds every tunable.
func Default() *Config {
	return &Config{
		RedisURL: "redis://localhost:6379",
		Port:     8443,
		MCTS: MCTSConfig{
			MaxIterations:  1000,
			ExplorationC:   1.41421356,
			MaxDepth:       64,
			ActionCacheCap: 512,
			Timeout:        30 * time.Second,
		},
		Quantum: QuantumConfig{
			EvolutionRate:           0.1,
			MeasurementPrecision:    0.01,
			DecoherenceThreshold:    0.9,
			MaxEntanglementsPerNode: 8,
			PruningThreshold:        0.05,
			MaxRedistributions:      3,
		},
		Entanglement: EntanglementConfig{
			MaxDegree:        8,
			DenseThreshold:   3.0,
			SparseThreshold:  0.5,
			MaintenanceEvery: 5 * time.Minute,
		},
		Committee: CommitteeConfig{
			MaxConcurrentAgents: 5,
			MinQuorum:           3,
			AgentTimeout:        10 * time.Second,
			MaxRetries:          2,
		},
		Orchestrator: OrchestratorConfig{
			MaxRecursiveDepth:    10,
			ImprovementThreshold: 0.02,
			CoherenceTimeMS:      5000,
			NoImprovementScaleAt: 5,
			OutputDir:            "./output",
			RoundTimeout:         60 * time.Second,
		},
		Edge: EdgeConfig{
			ListenAddr:      ":8443",
			ShutdownTimeout: 30 * time.Second,
		},
		TLS: TLSConfig{
			CertDir:      "./certs",
			CertTTL:      90 * 24 * time.Hour,
			OCSPCacheTTL: 1 * time.Hour,
			CRLCacheTTL:  6 * time.Hour,
		},
		Token: TokenConfig{
			RotationInterval: 24 * time.Hour,
			OverlapWindow:    48 * time.Hour,
		},
		Breaker: BreakerConfig{
			ErrorThreshold:   0.5,
			VolumeThreshold:  10,
			SleepWindow:      30 * time.Second,
			HalfOpenRequests: 5,
			SuccessThreshold: 0.6,
			WindowSize:       60 * time.Second,
			BucketCount:      10,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Supervisor: SupervisorConfig{
			BaseDelay:  1 * time.Second,
			MaxDelay:   2 * time.Minute,
			Multiplier: 2.0,
			Jitter:     0.2,
		},
	}
}

// Load starts from Default, applies a YAML file if path is non-empty, then
// applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if v := os.Getenv("COC_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("COC_DEV_MODE"); v == "true" || v == "1" {
		cfg.DevMode = true
	}

	return cfg, nil
}
