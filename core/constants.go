package core

import "time"

// Environment variable names. internal/config.Load reads COC_REDIS_URL and
// COC_DEV_MODE; no code in this repository reads COC_PORT or COC_CONFIG_FILE.
const (
	EnvRedisURL  = "COC_REDIS_URL"  // Redis connection URL for shared state
	EnvPort      = "COC_PORT"       // Edge HTTP listener port
	EnvDevMode   = "COC_DEV_MODE"   // Sets config.Config.DevMode when "true" or "1"
	EnvConfigFile = "COC_CONFIG_FILE" // Optional YAML config path
)

// Default TTLs and cache sizes shared across packages.
const (
	DefaultCacheTTL        = 24 * time.Hour
	DefaultAssociationCap  = 16
	DefaultMaxIterations   = 100
	DefaultTimeout         = 300 * time.Second
)
