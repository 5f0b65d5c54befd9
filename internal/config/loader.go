package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load builds the effective configuration: defaults, overlaid with the YAML
// file at path (skipped when path is empty), overlaid with environment
// variables, then validated. A .env file in the working directory is loaded
// into the environment first if present.
func Load(path string) (*Config, error) {
	// Best effort; a missing .env is the normal case.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		if err := decodeYAML(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	ApplyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults and
// validates the result. Environment variables are not consulted; useful in
// tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides individual fields of cfg from the environment variables
// named by the deployment contract. Unset variables leave cfg untouched;
// unparsable values are ignored in favour of the current value.
func ApplyEnv(cfg *Config) {
	envString("AMQP_URL", &cfg.Bus.URL)
	envString("INPUT_QUEUE", &cfg.Bus.InputQueue)
	envString("OUTPUT_QUEUE", &cfg.Bus.OutputQueue)

	envFloat("MIN_SPEAK_INTERVAL", &cfg.Brain.MinSpeakInterval)
	envFloat("MAX_SPEAK_INTERVAL", &cfg.Brain.MaxSpeakInterval)
	envFloat("DEFAULT_COOLDOWN", &cfg.Brain.DefaultCooldown)
	envInt("HIGH_PRIORITY_THRESHOLD", &cfg.Brain.HighPriorityThreshold)
	envInt("AUTO_SPEAK_PRIORITY", &cfg.Brain.AutoSpeakPriority)
	envInt("MAX_QUEUE_SIZE", &cfg.Brain.MaxQueueSize)
	envFloat("QUEUE_TIMEOUT", &cfg.Brain.QueueTimeout)

	envBool("ENABLE_STATE_MACHINE", &cfg.State.Enabled)
	envBool("AUTO_STATE_TRANSITION", &cfg.State.AutoTransition)

	envFloat("METRICS_EXPORT_INTERVAL", &cfg.Metrics.ExportInterval)
	envString("METRICS_EXPORT_PATH", &cfg.Metrics.ExportPath)
	envString("LOG_DIR", &cfg.Metrics.LogDir)

	envString("VIEWER_FEED_URL", &cfg.Viewer.FeedURL)
	envFloat("VIEWER_UPDATE_INTERVAL", &cfg.Viewer.UpdateInterval)

	envString("POSTGRES_DSN", &cfg.Archive.PostgresDSN)
	envString("ADMIN_ADDR", &cfg.Server.AdminAddr)
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.Server.LogLevel = LogLevel(v)
	}
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found; a non-nil result is a
// fatal startup error.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Bus.InputQueue == "" {
		errs = append(errs, errors.New("bus.input_queue is required"))
	}
	if cfg.Bus.OutputQueue == "" {
		errs = append(errs, errors.New("bus.output_queue is required"))
	}
	if cfg.Bus.InputQueue != "" && cfg.Bus.InputQueue == cfg.Bus.OutputQueue {
		errs = append(errs, fmt.Errorf("bus.input_queue and bus.output_queue are both %q; the orchestrator would consume its own output", cfg.Bus.InputQueue))
	}

	b := cfg.Brain
	if b.MinSpeakInterval <= 0 {
		errs = append(errs, fmt.Errorf("brain.min_speak_interval %.2f must be positive", b.MinSpeakInterval))
	}
	if b.MaxSpeakInterval <= b.MinSpeakInterval {
		errs = append(errs, fmt.Errorf("brain.max_speak_interval %.2f must exceed min_speak_interval %.2f", b.MaxSpeakInterval, b.MinSpeakInterval))
	}
	if b.DefaultCooldown <= 0 {
		errs = append(errs, fmt.Errorf("brain.default_cooldown %.2f must be positive", b.DefaultCooldown))
	}
	if b.AutoSpeakPriority < 1 || b.AutoSpeakPriority > 10 {
		errs = append(errs, fmt.Errorf("brain.auto_speak_priority %d is out of range [1,10]", b.AutoSpeakPriority))
	}
	if b.HighPriorityThreshold < 1 || b.HighPriorityThreshold > 10 {
		errs = append(errs, fmt.Errorf("brain.high_priority_threshold %d is out of range [1,10]", b.HighPriorityThreshold))
	}
	if b.HighPriorityThreshold > b.AutoSpeakPriority {
		errs = append(errs, fmt.Errorf("brain.high_priority_threshold %d must not exceed auto_speak_priority %d", b.HighPriorityThreshold, b.AutoSpeakPriority))
	}
	if b.MaxQueueSize < 0 {
		errs = append(errs, fmt.Errorf("brain.max_queue_size %d must not be negative", b.MaxQueueSize))
	}
	if b.DuplicateWindow <= 0 {
		errs = append(errs, fmt.Errorf("brain.duplicate_window %d must be positive", b.DuplicateWindow))
	}
	if b.DuplicateSimilarity <= 0 || b.DuplicateSimilarity > 1 {
		errs = append(errs, fmt.Errorf("brain.duplicate_similarity %.2f is out of range (0,1]", b.DuplicateSimilarity))
	}
	if b.QueueTimeout <= 0 {
		errs = append(errs, fmt.Errorf("brain.queue_timeout %.2f must be positive", b.QueueTimeout))
	}

	if cfg.Metrics.ExportInterval <= 0 {
		errs = append(errs, fmt.Errorf("metrics.export_interval %.2f must be positive", cfg.Metrics.ExportInterval))
	}
	if cfg.Viewer.UpdateInterval <= 0 {
		errs = append(errs, fmt.Errorf("viewer.update_interval %.2f must be positive", cfg.Viewer.UpdateInterval))
	}

	return errors.Join(errs...)
}
