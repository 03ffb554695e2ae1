// Package cfg loads the engine's tunables: buffer pool sizing, the B+ tree's
// fanout, and the deadlock detector's poll interval. Grounded on
// darleet-GraphDB's src/cfg/server.go viper setup, generalized from a
// server's host/port pair to the engine's own knobs.
package cfg

import (
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// EngineConfig holds every tunable the buffer pool, B+ tree, and lock
// manager need at construction time.
type EngineConfig struct {
	Environment Environment `mapstructure:"ENVIRONMENT"`

	DataDir string `mapstructure:"DATA_DIR"`

	// PoolSize is the buffer pool's fixed frame count.
	PoolSize int `mapstructure:"POOL_SIZE"`
	// K is the LRU-K replacer's lookback distance.
	K int `mapstructure:"LRU_K"`

	// LeafMax and InternalMax bound a B+ tree node's entry/child count
	// before it must split.
	LeafMax     int `mapstructure:"LEAF_MAX"`
	InternalMax int `mapstructure:"INTERNAL_MAX"`

	// DeadlockDetectionIntervalMS is the background detector's poll
	// period.
	DeadlockDetectionIntervalMS int `mapstructure:"DEADLOCK_DETECTION_INTERVAL_MS"`
}

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"

	DefaultEnv = EnvDev
)

type Environment string

func (e Environment) Validate() error {
	if e != EnvDev && e != EnvProd {
		return errors.New("environment must be either dev or prod")
	}
	return nil
}

// Load reads .env (if present) from path, then the process environment
// under the COREDB_ prefix, into an EngineConfig. Missing config files are
// not an error — env vars and the defaults below still apply.
func Load(path string) (EngineConfig, error) {
	viper.AddConfigPath(path)
	viper.SetConfigType("env")
	viper.SetConfigName(".env")
	viper.SetEnvPrefix("COREDB")
	viper.AutomaticEnv()

	viper.SetOptions(viper.ExperimentalBindStruct())

	viper.SetDefault("ENVIRONMENT", DefaultEnv)
	viper.SetDefault("DATA_DIR", "./data")
	viper.SetDefault("POOL_SIZE", 128)
	viper.SetDefault("LRU_K", 2)
	viper.SetDefault("LEAF_MAX", 64)
	viper.SetDefault("INTERNAL_MAX", 64)
	viper.SetDefault("DEADLOCK_DETECTION_INTERVAL_MS", 50)

	if err := viper.ReadInConfig(); err != nil {
		fmt.Println("config file not found, using env vars and defaults")
	}

	var c EngineConfig
	if err := viper.Unmarshal(&c); err != nil {
		return EngineConfig{}, fmt.Errorf("viper unmarshaling config: %w", err)
	}

	if err := c.Environment.Validate(); err != nil {
		return EngineConfig{}, fmt.Errorf("environment validation: %w", err)
	}
	if c.PoolSize <= 0 {
		return EngineConfig{}, errors.New("POOL_SIZE must be positive")
	}
	if c.K <= 0 {
		return EngineConfig{}, errors.New("LRU_K must be positive")
	}
	if c.LeafMax < 3 || c.InternalMax < 3 {
		return EngineConfig{}, errors.New("LEAF_MAX and INTERNAL_MAX must be at least 3")
	}

	return c, nil
}

// RuntimeFlags are process-level toggles loaded directly from the
// environment rather than through viper, matching the teacher's
// NewBPlusTreeIndex constructor parameters enableDebugAsserts and seed.
type RuntimeFlags struct {
	EnableDebugAsserts bool   `envconfig:"ENABLE_DEBUG_ASSERTS" default:"true"`
	Seed               uint64 `envconfig:"SEED" default:"0"`
}

// LoadRuntimeFlags loads a .env file into the process environment (if one
// exists in the current working directory) and then reads RuntimeFlags from env vars
// under the COREDB_ prefix.
func LoadRuntimeFlags() (RuntimeFlags, error) {
	_ = godotenv.Load()

	var f RuntimeFlags
	if err := envconfig.Process("COREDB", &f); err != nil {
		return RuntimeFlags{}, fmt.Errorf("envconfig processing runtime flags: %w", err)
	}
	return f, nil
}
