package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("FAST_ENGINE_URL", "http://localhost:9001")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Surprise.Alpha != 0.6 {
		t.Errorf("expected default alpha 0.6, got %v", cfg.Surprise.Alpha)
	}
	if cfg.Surprise.Threshold != 0.7 {
		t.Errorf("expected default threshold 0.7, got %v", cfg.Surprise.Threshold)
	}
	if cfg.MaxAgentSteps != 10 || cfg.AgentHardCap != 50 {
		t.Errorf("unexpected agent step defaults: %d/%d", cfg.MaxAgentSteps, cfg.AgentHardCap)
	}
	if cfg.HasDeepEngine() {
		t.Errorf("expected no deep engine configured by default")
	}
}

func TestLoad_MissingFastEngine(t *testing.T) {
	t.Setenv("FAST_ENGINE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when FAST_ENGINE_URL is unset")
	}
}

func TestLoad_InvalidStepBudget(t *testing.T) {
	t.Setenv("FAST_ENGINE_URL", "http://localhost:9001")
	t.Setenv("MAX_AGENT_STEPS", "100")
	t.Setenv("AGENT_HARD_CAP", "50")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when MAX_AGENT_STEPS exceeds AGENT_HARD_CAP")
	}
}

func TestLoad_DeepEngineOverride(t *testing.T) {
	t.Setenv("FAST_ENGINE_URL", "http://localhost:9001")
	t.Setenv("DEEP_ENGINE_URL", "http://localhost:9002")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !cfg.HasDeepEngine() {
		t.Errorf("expected deep engine to be configured")
	}
}
