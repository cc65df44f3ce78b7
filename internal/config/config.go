package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "CORTEXMIND"

// Qubit bounds for the amplitude register.
const (
	MinQubits = 1
	MaxQubits = 10
)

// Config holds all configuration for the cognitive engine and its CLI.
type Config struct {
	Spiking      SpikingConfig      `mapstructure:"spiking" yaml:"spiking"`
	Memory       MemoryConfig       `mapstructure:"memory" yaml:"memory"`
	Amplitude    AmplitudeConfig    `mapstructure:"amplitude" yaml:"amplitude"`
	Learner      LearnerConfig      `mapstructure:"learner" yaml:"learner"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	RNG          RNGConfig          `mapstructure:"rng" yaml:"rng"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
}

// SpikingConfig configures the spiking network.
type SpikingConfig struct {
	// NeuronCount is the number of neurons, split evenly across four regions
	NeuronCount int `mapstructure:"neuron_count" yaml:"neuron_count"`
	// LearningRate is the Hebbian step applied to out-edge weights
	LearningRate float64 `mapstructure:"learning_rate" yaml:"learning_rate"`
	// Ticks is the number of propagation ticks per call
	Ticks int `mapstructure:"ticks" yaml:"ticks"`
}

// MemoryConfig configures the tiered memory store.
type MemoryConfig struct {
	LongTermCapacity int `mapstructure:"long_term_capacity" yaml:"long_term_capacity"`
}

// AmplitudeConfig configures the amplitude sampler.
type AmplitudeConfig struct {
	// Qubits sets the register dimension to 2^Qubits; clamped to [1,10]
	Qubits int `mapstructure:"qubits" yaml:"qubits"`
}

// LearnerConfig configures the feed-forward learner.
type LearnerConfig struct {
	Architecture     []int   `mapstructure:"architecture" yaml:"architecture"`
	HiddenActivation string  `mapstructure:"hidden_activation" yaml:"hidden_activation"`
	LearningRate     float64 `mapstructure:"learning_rate" yaml:"learning_rate"`
	BatchSize        int     `mapstructure:"batch_size" yaml:"batch_size"`
	// LearnEpochs is the number of epochs run per engine Learn call
	LearnEpochs int `mapstructure:"learn_epochs" yaml:"learn_epochs"`
	// Patience is the early-stopping patience used when validation data is supplied
	Patience int `mapstructure:"patience" yaml:"patience"`
}

// OrchestratorConfig configures dispatch and history.
type OrchestratorConfig struct {
	// ModuleDeadlineMS bounds each module invocation; 0 means no limit
	ModuleDeadlineMS int `mapstructure:"module_deadline_ms" yaml:"module_deadline_ms"`
	// HistorySize is the capacity of the history ring
	HistorySize int `mapstructure:"history_size" yaml:"history_size"`
	// DisabledModules are registered but never reported ready
	DisabledModules []string `mapstructure:"disabled_modules" yaml:"disabled_modules"`
}

// RNGConfig configures randomness.
type RNGConfig struct {
	// Seed, when set, makes every derived random stream deterministic
	Seed *int64 `mapstructure:"seed" yaml:"seed,omitempty"`
}

// LoggingConfig configures logging for the CLI.
type LoggingConfig struct {
	// Level is the log file level ("debug", "info", "warn", "error"). The
	// console shows warnings only, or everything with --verbose.
	Level string `mapstructure:"level" yaml:"level"`
	// File is an optional log file path; empty logs to stderr
	File string `mapstructure:"file" yaml:"file"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Spiking: SpikingConfig{
			NeuronCount:  1000,
			LearningRate: 0.01,
			Ticks:        10,
		},
		Memory: MemoryConfig{
			LongTermCapacity: 10000,
		},
		Amplitude: AmplitudeConfig{
			Qubits: 8,
		},
		Learner: LearnerConfig{
			Architecture:     []int{10, 64, 32, 10},
			HiddenActivation: "relu",
			LearningRate:     0.01,
			BatchSize:        32,
			LearnEpochs:      10,
			Patience:         5,
		},
		Orchestrator: OrchestratorConfig{
			ModuleDeadlineMS: 0,
			HistorySize:      1000,
			DisabledModules:  []string{},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// WithSeed returns a copy of c with rng.seed set.
func (c Config) WithSeed(seed int64) Config {
	c.RNG.Seed = &seed
	return c
}

// ModuleDeadline returns the per-module deadline, or 0 when unbounded.
func (c *Config) ModuleDeadline() time.Duration {
	if c.Orchestrator.ModuleDeadlineMS <= 0 {
		return 0
	}
	return time.Duration(c.Orchestrator.ModuleDeadlineMS) * time.Millisecond
}

// Normalize clamps values that have a documented legal range.
func (c *Config) Normalize() {
	if c.Amplitude.Qubits < MinQubits {
		c.Amplitude.Qubits = MinQubits
	}
	if c.Amplitude.Qubits > MaxQubits {
		c.Amplitude.Qubits = MaxQubits
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Learner.Architecture = append([]int(nil), c.Learner.Architecture...)
	out.Orchestrator.DisabledModules = append([]string(nil), c.Orchestrator.DisabledModules...)
	if c.RNG.Seed != nil {
		seed := *c.RNG.Seed
		out.RNG.Seed = &seed
	}
	return &out
}

// DefaultPath returns ~/.cortexmind/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".cortexmind", "config.yaml"), nil
}

// Load reads configuration from the default path.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example: CORTEXMIND_AMPLITUDE_QUBITS=4
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// rng.seed is omitted from files by default, so viper would not know the key
	_ = v.BindEnv("rng.seed")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.applyDefaults()
	cfg.Normalize()

	return &cfg, nil
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Spiking.NeuronCount == 0 {
		c.Spiking.NeuronCount = d.Spiking.NeuronCount
	}
	if c.Spiking.LearningRate == 0 {
		c.Spiking.LearningRate = d.Spiking.LearningRate
	}
	if c.Spiking.Ticks == 0 {
		c.Spiking.Ticks = d.Spiking.Ticks
	}
	if c.Memory.LongTermCapacity == 0 {
		c.Memory.LongTermCapacity = d.Memory.LongTermCapacity
	}
	if c.Amplitude.Qubits == 0 {
		c.Amplitude.Qubits = d.Amplitude.Qubits
	}
	if len(c.Learner.Architecture) == 0 {
		c.Learner.Architecture = d.Learner.Architecture
	}
	if c.Learner.HiddenActivation == "" {
		c.Learner.HiddenActivation = d.Learner.HiddenActivation
	}
	if c.Learner.LearningRate == 0 {
		c.Learner.LearningRate = d.Learner.LearningRate
	}
	if c.Learner.BatchSize == 0 {
		c.Learner.BatchSize = d.Learner.BatchSize
	}
	if c.Learner.LearnEpochs == 0 {
		c.Learner.LearnEpochs = d.Learner.LearnEpochs
	}
	if c.Learner.Patience == 0 {
		c.Learner.Patience = d.Learner.Patience
	}
	if c.Orchestrator.HistorySize == 0 {
		c.Orchestrator.HistorySize = d.Orchestrator.HistorySize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}

// SaveToPath writes the configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return writeConfigFile(path, c)
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Unmarshal parses a YAML configuration produced by Marshal. Missing keys keep
// their defaults.
func Unmarshal(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

var validActivations = map[string]bool{
	"relu": true, "sigmoid": true, "tanh": true,
	"leaky_relu": true, "softmax": true, "linear": true,
}

var validModules = map[string]bool{
	"spiking": true, "amplitude": true, "learner": true, "agent": true,
}

// Validate checks the configuration for errors and inconsistencies.
func (c *Config) Validate() error {
	if c.Spiking.NeuronCount < 4 {
		return fmt.Errorf("spiking.neuron_count must be at least 4, got %d", c.Spiking.NeuronCount)
	}
	if c.Spiking.LearningRate < 0 {
		return fmt.Errorf("spiking.learning_rate cannot be negative")
	}
	if c.Spiking.Ticks < 1 {
		return fmt.Errorf("spiking.ticks must be positive")
	}

	if c.Memory.LongTermCapacity < 1 {
		return fmt.Errorf("memory.long_term_capacity must be positive")
	}

	if c.Amplitude.Qubits < MinQubits || c.Amplitude.Qubits > MaxQubits {
		return fmt.Errorf("amplitude.qubits must be between %d and %d", MinQubits, MaxQubits)
	}

	if len(c.Learner.Architecture) < 2 {
		return fmt.Errorf("learner.architecture needs at least an input and an output size")
	}
	for i, n := range c.Learner.Architecture {
		if n < 1 {
			return fmt.Errorf("learner.architecture[%d] must be positive, got %d", i, n)
		}
	}
	if !validActivations[c.Learner.HiddenActivation] {
		return fmt.Errorf("invalid learner.hidden_activation '%s'", c.Learner.HiddenActivation)
	}
	if c.Learner.LearningRate <= 0 {
		return fmt.Errorf("learner.learning_rate must be positive")
	}
	if c.Learner.BatchSize < 1 {
		return fmt.Errorf("learner.batch_size must be positive")
	}
	if c.Learner.LearnEpochs < 1 {
		return fmt.Errorf("learner.learn_epochs must be positive")
	}

	if c.Orchestrator.ModuleDeadlineMS < 0 {
		return fmt.Errorf("orchestrator.module_deadline_ms cannot be negative")
	}
	if c.Orchestrator.HistorySize < 1 {
		return fmt.Errorf("orchestrator.history_size must be positive")
	}
	for _, m := range c.Orchestrator.DisabledModules {
		if !validModules[m] {
			return fmt.Errorf("unknown module '%s' in orchestrator.disabled_modules", m)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
func writeConfigFile(path string, cfg *Config) error {
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
