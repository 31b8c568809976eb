package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jllopis/kairos-cascade/pkg/resilience"
)

func TestInit(t *testing.T) {
	shutdown, err := Init("test-service", "v0.0.1")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if shutdown == nil {
		t.Fatal("Shutdown function should not be nil")
	}

	// Ensure shutdown works
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInitWithConfigRejectsUnknownExporter(t *testing.T) {
	if _, err := InitWithConfig("svc", "v0", Config{Exporter: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
	if _, err := InitWithConfig("svc", "v0", Config{Exporter: "otlp"}); err == nil {
		t.Fatal("expected error for otlp without endpoint")
	}
}

func TestInitNone(t *testing.T) {
	shutdown, err := InitWithConfig("svc", "v0", Config{Exporter: "none"})
	if err != nil {
		t.Fatalf("InitWithConfig failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"otlp with endpoint", Config{Exporter: "otlp", OTLPEndpoint: "localhost:4317"}, false},
		{"otlp without endpoint", Config{Exporter: "otlp"}, true},
		{"unknown exporter", Config{Exporter: "zipkin"}, true},
		{"ratio above one", Config{SampleRatio: 1.5}, true},
		{"negative ratio", Config{SampleRatio: -0.1}, true},
		{"negative interval", Config{MetricInterval: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigSampler(t *testing.T) {
	for ratio, want := range map[float64]string{
		0:    "AlwaysOnSampler",
		1:    "AlwaysOnSampler",
		0.25: "TraceIDRatioBased",
	} {
		desc := Config{SampleRatio: ratio}.sampler().Description()
		if !strings.Contains(desc, want) || !strings.HasPrefix(desc, "ParentBased") {
			t.Errorf("ratio %v: unexpected sampler %s", ratio, desc)
		}
	}
	if got := (Config{}).metricInterval(); got != defaultMetricInterval {
		t.Errorf("expected default metric interval, got %s", got)
	}
}

func TestResourceCarriesEnvironment(t *testing.T) {
	res, err := newResource(context.Background(), "cascade", "v1", "staging")
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	if v, ok := res.Set().Value(AttrEnvironment); !ok || v.AsString() != "staging" {
		t.Errorf("expected deployment.environment=staging, got %v", v)
	}

	res, err = newResource(context.Background(), "cascade", "v1", "")
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	if _, ok := res.Set().Value(AttrEnvironment); ok {
		t.Errorf("environment must be omitted when empty")
	}
}

func TestConfigureSlogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "warn", "json")
	logger.Info("cascade.run.start")
	logger.Warn("cascade.attempt.failure", "tier", "code")

	out := buf.String()
	if strings.Contains(out, "cascade.run.start") {
		t.Errorf("info record should be filtered at warn level: %s", out)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &record); err != nil {
		t.Fatalf("expected a json record, got %q: %v", out, err)
	}
	if record["msg"] != "cascade.attempt.failure" || record["tier"] != "code" {
		t.Errorf("unexpected record %v", record)
	}
}

func TestConfigureSlogConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "debug", "console")
	logger.Debug("cascade.tier.start", "tier", "agentic")
	if !strings.Contains(buf.String(), "cascade.tier.start") {
		t.Errorf("expected console output to contain the message, got %q", buf.String())
	}
}

func TestConfigureSlogWithFile(t *testing.T) {
	var console, file bytes.Buffer
	logger := ConfigureSlogWithFile(&console, &file, "info", "text")
	logger.Info("cascade.run.success", "function", "summarize")

	if !strings.Contains(console.String(), "cascade.run.success") {
		t.Errorf("console output missing record: %q", console.String())
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(file.Bytes()), &record); err != nil {
		t.Fatalf("file output should be json, got %q: %v", file.String(), err)
	}
	if record["function"] != "summarize" {
		t.Errorf("unexpected file record %v", record)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		"WARNING": "WARN",
		"error":   "ERROR",
		"":        "INFO",
		"verbose": "INFO",
	}
	for in, want := range tests {
		if got := parseLogLevel(in).String(); got != want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

type staticSource []resilience.CircuitBreakerStats

func (s staticSource) Snapshot() []resilience.CircuitBreakerStats { return s }

func TestBreakerCollector(t *testing.T) {
	now := time.Now()
	source := staticSource{
		{Name: "code", State: resilience.StateOpen, Failures: 5, TimesOpened: 1, LastFailureAt: &now},
		{Name: "generative", State: resilience.StateClosed, Successes: 7},
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(NewBreakerCollector(source))

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	values := map[string]float64{}
	for _, family := range families {
		for _, m := range family.GetMetric() {
			label := m.GetLabel()[0].GetValue()
			key := family.GetName() + "/" + label
			if g := m.GetGauge(); g != nil {
				values[key] = g.GetValue()
			}
			if c := m.GetCounter(); c != nil {
				values[key] = c.GetValue()
			}
		}
	}

	checks := map[string]float64{
		"cascade_circuitbreaker_state/code":                 0,
		"cascade_circuitbreaker_state/generative":           2,
		"cascade_circuitbreaker_consecutive_failures/code":  5,
		"cascade_circuitbreaker_opened_total/code":          1,
		"cascade_circuitbreaker_successes_total/generative": 7,
	}
	for key, want := range checks {
		got, ok := values[key]
		if !ok {
			t.Errorf("missing metric %s", key)
			continue
		}
		if got != want {
			t.Errorf("%s = %v, want %v", key, got, want)
		}
	}
}
