// Package config assembles the service configuration from environment
// variables and the YAML provider manifest.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"aquascene/scribe/internal/content"
	"aquascene/scribe/internal/providers"
	"aquascene/scribe/internal/registry"
	"aquascene/scribe/internal/routing"
	"aquascene/scribe/internal/validation"
	pkgconfig "aquascene/scribe/pkg/config"
)

// Config is the full service configuration.
type Config struct {
	Port            string
	ManifestPath    string
	ValidationPath  string
	RoutingPolicy   routing.Policy
	MaxAttempts     int
	GenerateTimeout time.Duration
	HeavyTimeout    time.Duration

	// Zero means use the rule file's value.
	ValidationThreshold float64
	ValidationAxisFloor float64

	BatchMaxConcurrent int
	AdaptiveLowWater   float64
	AdaptiveHighWater  float64

	FailureWindow    time.Duration
	ProviderCooldown time.Duration

	KafkaBrokers []string
	RedisAddrs   []string
	RedisPass    string
	JobTTL       time.Duration
}

// Load reads the service configuration from the environment.
func Load() *Config {
	return &Config{
		Port:            pkgconfig.GetEnv("SCRIBE_PORT", "18090"),
		ManifestPath:    pkgconfig.GetEnv("PROVIDERS_MANIFEST", "providers.yaml"),
		ValidationPath:  pkgconfig.GetEnv("VALIDATION_RULES", ""),
		RoutingPolicy:   routing.Policy(pkgconfig.GetEnv("ROUTING_POLICY", string(routing.PolicyBalanced))),
		MaxAttempts:     pkgconfig.GetEnvInt("MAX_ATTEMPTS", routing.DefaultMaxValidationAttempts),
		GenerateTimeout: pkgconfig.GetEnvDuration("GENERATE_TIMEOUT", routing.DefaultTimeout),
		HeavyTimeout:    pkgconfig.GetEnvDuration("HEAVY_GENERATE_TIMEOUT", routing.DefaultHeavyTimeout),

		ValidationThreshold: pkgconfig.GetEnvFloat("VALIDATION_THRESHOLD", 0),
		ValidationAxisFloor: pkgconfig.GetEnvFloat("VALIDATION_AXIS_FLOOR", 0),

		BatchMaxConcurrent: pkgconfig.GetEnvInt("BATCH_MAX_CONCURRENT", 4),
		AdaptiveLowWater:   pkgconfig.GetEnvFloat("ADAPTIVE_LOW_WATER", 0.1),
		AdaptiveHighWater:  pkgconfig.GetEnvFloat("ADAPTIVE_HIGH_WATER", 0.5),

		FailureWindow:    pkgconfig.GetEnvDuration("FAILURE_WINDOW", registry.DefaultFailureWindow),
		ProviderCooldown: pkgconfig.GetEnvDuration("PROVIDER_COOLDOWN", registry.DefaultCooldown),

		KafkaBrokers: pkgconfig.GetEnvSlice("KAFKA_BROKERS", nil),
		RedisAddrs:   pkgconfig.GetEnvSlice("REDIS_ADDRESSES", nil),
		RedisPass:    pkgconfig.GetEnv("REDIS_PASSWORD", ""),
		JobTTL:       pkgconfig.GetEnvDuration("BATCH_JOB_TTL", 24*time.Hour),
	}
}

// ManifestEntry is one provider in the YAML manifest. API keys are never
// stored in the manifest itself; each entry names the env var that holds its
// key.
type ManifestEntry struct {
	ID             string   `yaml:"id" validate:"required"`
	Kind           string   `yaml:"kind" validate:"required,oneof=openai anthropic ollama"`
	Model          string   `yaml:"model" validate:"required"`
	APIKeyEnv      string   `yaml:"api_key_env"`
	APIURL         string   `yaml:"api_url"`
	MaxTokens      int      `yaml:"max_tokens" validate:"gte=0"`
	Capabilities   []string `yaml:"capabilities" validate:"dive,oneof=article social_caption guide review digest interview community_post"`
	CostPerUnit    float64  `yaml:"cost_per_unit" validate:"gte=0"`
	AvgLatencyMS   int      `yaml:"avg_latency_ms" validate:"gte=0"`
	PriorityWeight float64  `yaml:"priority_weight" validate:"gte=0,lte=1"`
}

// Manifest is the parsed providers.yaml.
type Manifest struct {
	Providers []ManifestEntry `yaml:"providers" validate:"required,min=1,dive"`
}

// LoadManifest parses and validates the provider manifest, splitting each
// entry into its adapter config and its routing metadata.
func LoadManifest(path string) ([]providers.Config, []registry.ProviderConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read provider manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, nil, fmt.Errorf("parse provider manifest: %w", err)
	}
	if err := validator.New().Struct(manifest); err != nil {
		return nil, nil, fmt.Errorf("invalid provider manifest: %w", err)
	}

	adapterConfigs := make([]providers.Config, 0, len(manifest.Providers))
	routingConfigs := make([]registry.ProviderConfig, 0, len(manifest.Providers))
	for _, entry := range manifest.Providers {
		apiKey := ""
		if entry.APIKeyEnv != "" {
			apiKey = os.Getenv(entry.APIKeyEnv)
			if apiKey == "" {
				return nil, nil, fmt.Errorf("provider %s: env var %s is empty", entry.ID, entry.APIKeyEnv)
			}
		}

		capabilities := make([]content.ContentType, 0, len(entry.Capabilities))
		for _, c := range entry.Capabilities {
			capabilities = append(capabilities, content.ContentType(c))
		}
		if len(capabilities) == 0 {
			// No capability list means the provider handles everything.
			capabilities = append(capabilities, content.KnownTypes...)
		}

		adapterConfigs = append(adapterConfigs, providers.Config{
			ID:        entry.ID,
			Kind:      entry.Kind,
			Model:     entry.Model,
			APIKey:    apiKey,
			APIURL:    entry.APIURL,
			MaxTokens: entry.MaxTokens,
		})
		routingConfigs = append(routingConfigs, registry.ProviderConfig{
			ID:             entry.ID,
			CapabilityTags: capabilities,
			CostPerUnit:    entry.CostPerUnit,
			AvgLatency:     time.Duration(entry.AvgLatencyMS) * time.Millisecond,
			PriorityWeight: entry.PriorityWeight,
		})
	}
	return adapterConfigs, routingConfigs, nil
}

// LoadValidationRules parses a validation rule YAML file, or returns the
// built-in defaults when no path is configured.
func LoadValidationRules(path string) (validation.RuleSet, error) {
	if path == "" {
		return *validation.DefaultRules(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return validation.RuleSet{}, fmt.Errorf("read validation rules: %w", err)
	}
	var rules validation.RuleSet
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return validation.RuleSet{}, fmt.Errorf("parse validation rules: %w", err)
	}
	return rules, nil
}

// CostMap builds the per-provider cost lookup the telemetry tracker uses.
func CostMap(routingConfigs []registry.ProviderConfig) map[string]float64 {
	costs := make(map[string]float64, len(routingConfigs))
	for _, cfg := range routingConfigs {
		costs[cfg.ID] = cfg.CostPerUnit
	}
	return costs
}
