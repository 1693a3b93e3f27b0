package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Expected default addr :8080, got %q", cfg.Server.Addr)
	}
	if cfg.LeafGate.TopK != 3 {
		t.Errorf("Expected top-k 3, got %d", cfg.LeafGate.TopK)
	}
	if !cfg.LeafGate.RejectWhenDetected {
		t.Error("Expected rejectWhenDetected to default to true")
	}
	if cfg.Server.MaxImagePixels != 89_478_485 {
		t.Errorf("Expected default pixel budget 89478485, got %d", cfg.Server.MaxImagePixels)
	}
	if cfg.Disease.Classes != 38 {
		t.Errorf("Expected 38 disease classes, got %d", cfg.Disease.Classes)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `server:
  addr: ":9090"
  includeConfidence: false
  shutdownTimeout: 3s
leafGate:
  path: gate.onnx
  topK: 5
  rejectWhenDetected: false
disease:
  path: disease.onnx
  layout: nchw
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("Expected addr :9090, got %q", cfg.Server.Addr)
	}
	if cfg.Server.IncludeConfidence {
		t.Error("Expected includeConfidence to be false")
	}
	if cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Errorf("Expected shutdown timeout 3s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.LeafGate.Path != "gate.onnx" || cfg.LeafGate.TopK != 5 || cfg.LeafGate.RejectWhenDetected {
		t.Errorf("Unexpected leaf gate config: %+v", cfg.LeafGate)
	}
	if cfg.LeafGate.ImageSize != 224 {
		t.Errorf("Expected untouched image size to keep its default, got %d", cfg.LeafGate.ImageSize)
	}
	if cfg.Disease.Layout != "nchw" {
		t.Errorf("Expected disease layout nchw, got %q", cfg.Disease.Layout)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected parse error, got nil")
	}
	if cfg != nil {
		t.Error("Expected config to be nil on parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":               "7000",
		"REDIS_ADDR":         "cache:6379",
		"INCLUDE_CONFIDENCE": "false",
		"INFERENCE_RUNTIME":  "grpc",
		"MODEL_SERVER_ADDR":  "models:50051",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := Default()
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatalf("applyEnv failed: %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("Expected addr :7000, got %q", cfg.Server.Addr)
	}
	if cfg.Redis.Addr != "cache:6379" {
		t.Errorf("Expected redis addr override, got %q", cfg.Redis.Addr)
	}
	if cfg.Server.IncludeConfidence {
		t.Error("Expected includeConfidence false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected grpc config with server addr to validate, got %v", err)
	}
}

func TestApplyEnv_InvalidBool(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(key string) (string, bool) {
		if key == "DEBUG" {
			return "maybe", true
		}
		return "", false
	})
	if err == nil {
		t.Fatal("Expected error for invalid bool")
	}
}

func TestValidate_GRPCRequiresServerAddr(t *testing.T) {
	cfg := Default()
	cfg.Inference.Runtime = RuntimeGRPC
	if err := cfg.Validate(); err == nil {
		t.Fatal("Expected validation error when grpc runtime has no server address")
	}
}

func TestValidate_RejectsUnknownLayout(t *testing.T) {
	cfg := Default()
	cfg.Disease.Layout = "hwc"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Expected validation error for unknown layout")
	}
}

func TestValidate_RejectsZeroPixelBudget(t *testing.T) {
	cfg := Default()
	cfg.Server.MaxImagePixels = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("Expected validation error for zero pixel budget")
	}
}
