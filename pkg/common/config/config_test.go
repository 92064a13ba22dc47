package config

import (
	"math"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ServerPort != "8090" {
		t.Fatalf("expected default port 8090, got %s", cfg.ServerPort)
	}
	if cfg.ContextWindow != 50 {
		t.Fatalf("expected context window 50, got %d", cfg.ContextWindow)
	}
	if cfg.SaturationCeiling != 0.98 {
		t.Fatalf("expected saturation ceiling 0.98, got %f", cfg.SaturationCeiling)
	}
	if len(cfg.CodingSystems) == 0 || cfg.CodingSystems[0] != "ICD10CM" {
		t.Fatalf("expected ICD10CM first, got %v", cfg.CodingSystems)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("KEEP_NEGATED", "true")
	t.Setenv("RERANK_BUDGET", "750ms")
	t.Setenv("MAX_RESULTS", "5")

	cfg := Load()
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("expected two brokers, got %v", cfg.KafkaBrokers)
	}
	if !cfg.KeepNegated {
		t.Fatal("expected keep negated")
	}
	if cfg.RerankBudget != 750*time.Millisecond {
		t.Fatalf("unexpected rerank budget %s", cfg.RerankBudget)
	}
	if cfg.MaxResults != 5 {
		t.Fatalf("expected max results 5, got %d", cfg.MaxResults)
	}
}

func TestMalformedThresholdIsNaN(t *testing.T) {
	t.Setenv("SIMILARITY_THRESHOLD", "high")
	cfg := Load()
	if !math.IsNaN(cfg.SimilarityThreshold) {
		t.Fatalf("expected NaN for malformed threshold, got %f", cfg.SimilarityThreshold)
	}
}
