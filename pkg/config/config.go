// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads cascade settings from defaults, YAML files, the
// environment and command line overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates path segments: CASCADE_CASCADE__BREAKER__THRESHOLD.
const EnvPrefix = "CASCADE_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Cascade   CascadeConfig   `koanf:"cascade"`
	LLM       LLMConfig       `koanf:"llm"`
	Agent     AgentConfig     `koanf:"agent"`
	MCP       MCPConfig       `koanf:"mcp"`
	Approval  ApprovalConfig  `koanf:"approval"`
	Server    ServerConfig    `koanf:"server"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // text, json, console
	File   string `koanf:"file"`
}

type TelemetryConfig struct {
	Exporter           string            `koanf:"exporter"` // stdout, otlp, none
	OTLPEndpoint       string            `koanf:"otlp_endpoint"`
	OTLPInsecure       bool              `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int               `koanf:"otlp_timeout_seconds"`
	OTLPHeaders        map[string]string `koanf:"otlp_headers"`
	ServiceName        string            `koanf:"service_name"`
	// Environment defaults to the active profile.
	Environment    string  `koanf:"environment"`
	SampleRatio    float64 `koanf:"sample_ratio"`
	MetricInterval string  `koanf:"metric_interval"`
}

// CascadeConfig holds orchestrator settings. Durations are kept as text and
// parsed by Resolve so that day units ("2d") are accepted everywhere.
type CascadeConfig struct {
	TierOrder     []string          `koanf:"tier_order"`
	Timeouts      map[string]string `koanf:"timeouts"`
	Breaker       BreakerConfig     `koanf:"breaker"`
	Retry         RetryConfig       `koanf:"retry"`
	FunctionsPath string            `koanf:"functions_path"`
}

type BreakerConfig struct {
	Threshold    int    `koanf:"threshold"`
	ResetTimeout string `koanf:"reset_timeout"`
	Scope        string `koanf:"scope"` // tier, target
}

type RetryConfig struct {
	MaxAttempts  int     `koanf:"max_attempts"`
	InitialDelay string  `koanf:"initial_delay"`
	MaxDelay     string  `koanf:"max_delay"`
	Jitter       float64 `koanf:"jitter"`
}

type LLMConfig struct {
	Provider  string `koanf:"provider"` // anthropic, ollama, mock
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    string `koanf:"api_key"`
	MaxTokens int    `koanf:"max_tokens"`
	// MockResponses are replayed in order by the mock provider.
	MockResponses []string `koanf:"mock_responses"`
}

type AgentConfig struct {
	Role      string `koanf:"role"`
	MaxSteps  int    `koanf:"max_steps"`
	MaxTokens int    `koanf:"max_tokens"`
}

type MCPConfig struct {
	Transport string   `koanf:"transport"` // stdio, http
	Command   string   `koanf:"command"`
	Args      []string `koanf:"args"`
	URL       string   `koanf:"url"`
}

// Enabled reports whether a code tier tool server is configured.
func (m MCPConfig) Enabled() bool {
	return m.Command != "" || m.URL != ""
}

type ApprovalConfig struct {
	Store         string `koanf:"store"` // memory, sqlite
	DSN           string `koanf:"dsn"`
	PollInterval  string `koanf:"poll_interval"`
	SweepInterval string `koanf:"sweep_interval"`
	SweepTimeout  string `koanf:"sweep_timeout"`
}

type ServerConfig struct {
	HTTPAddr       string `koanf:"http_addr"`
	GRPCAddr       string `koanf:"grpc_addr"`
	HealthInterval string `koanf:"health_interval"`
	WatchConfig    bool   `koanf:"watch_config"`
}

func defaults() map[string]any {
	return map[string]any{
		"log.level":  "info",
		"log.format": "text",

		"telemetry.exporter":             "none",
		"telemetry.otlp_insecure":        true,
		"telemetry.otlp_timeout_seconds": 10,
		"telemetry.service_name":         "cascade",
		"telemetry.sample_ratio":         1.0,
		"telemetry.metric_interval":      "1m",

		"cascade.tier_order":            []string{"code", "generative", "agentic", "human"},
		"cascade.breaker.threshold":     5,
		"cascade.breaker.reset_timeout": "60s",
		"cascade.breaker.scope":         "tier",
		"cascade.retry.max_attempts":    1,
		"cascade.retry.initial_delay":   "100ms",
		"cascade.retry.max_delay":       "10s",
		"cascade.retry.jitter":          0.1,

		"llm.provider":   "ollama",
		"llm.model":      "qwen2.5-coder:7b-instruct-q5_K_M",
		"llm.base_url":   "http://localhost:11434",
		"llm.max_tokens": 1024,

		"agent.role":      "You complete tasks that need several steps of reasoning.",
		"agent.max_steps": 8,

		"mcp.transport": "stdio",

		"approval.store":          "memory",
		"approval.dsn":            "file:cascade.db?_pragma=busy_timeout(5000)",
		"approval.poll_interval":  "1s",
		"approval.sweep_interval": "1m",
		"approval.sweep_timeout":  "10s",

		"server.http_addr":       ":8080",
		"server.grpc_addr":       ":9090",
		"server.health_interval": "10s",
	}
}

// Load reads defaults, the optional file at path and CASCADE_ environment
// variables, in that order of precedence.
func Load(path string) (*Config, error) {
	return load(path, "", nil)
}

// LoadWithProfile loads the base file and overlays <name>.<profile><ext>
// when it exists next to it.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

// LoadWithCLI accepts --config, --profile (or --env) and repeated
// --set key=value arguments. Values given with --set win over every other
// source and are decoded as YAML, so JSON objects and numbers keep their type.
func LoadWithCLI(args []string) (*Config, error) {
	opts, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(opts.path, opts.profile, overrides)
}

func load(path, profile string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("config default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if overlay := profileConfigPath(path, profile); overlay != "" {
			if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load profile %s: %w", overlay, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("config override %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// envKey maps CASCADE_APPROVAL__POLL_INTERVAL to approval.poll_interval.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// profileConfigPath returns the profile overlay for base, or "" when the
// profile is empty or its file does not exist.
func profileConfigPath(base, profile string) string {
	profile = strings.TrimSpace(profile)
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	candidate := strings.TrimSuffix(base, ext) + "." + profile + ext
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

type cliOptions struct {
	path    string
	profile string
}

func parseCLIOverrides(args []string) (cliOptions, map[string]any, error) {
	var opts cliOptions
	overrides := map[string]any{}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, inline := strings.Cut(arg, "=")
		switch name {
		case "--config", "--profile", "--env", "--set":
		default:
			continue
		}
		if !inline {
			if i+1 >= len(args) {
				return opts, nil, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}

		switch name {
		case "--config":
			opts.path = value
		case "--profile", "--env":
			opts.profile = value
		case "--set":
			key, raw, ok := strings.Cut(value, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				return opts, nil, fmt.Errorf("invalid --set %q: expected key=value", value)
			}
			overrides[key] = decodeValue(raw)
		}
	}
	return opts, overrides, nil
}

func decodeValue(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return raw
	}
	var v any
	if err := yamlv3.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	return v
}
