package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"tractparc/pkg/parcellation"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}

	s, err := cfg.Scheme()
	if err != nil {
		t.Fatalf("Scheme failed: %v", err)
	}
	def := parcellation.DefaultScheme()
	if !reflect.DeepEqual(s.CorticalRanges, def.CorticalRanges) || !reflect.DeepEqual(s.FillableCodes, def.FillableCodes) {
		t.Errorf("Default config does not carry the default scheme: %+v", s)
	}
	if s.Neighborhood != parcellation.FullNeighborhood {
		t.Errorf("Expected full neighborhood by default, got %v", s.Neighborhood)
	}
	if s.Workers < 1 {
		t.Errorf("Expected at least one worker, got %d", s.Workers)
	}
}

func TestLoadMissingConfig(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("Expected defaults for a missing file")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tractparc.yaml")
	content := `
labels:
  corticalRanges:
    - {min: 11100, max: 11175}
    - {min: 12100, max: 12175}
  fillableCodes: [2, 41]
propagation:
  neighborhood: legacy
  workers: 3
output:
  keepInputLabels: true
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	s, err := cfg.Scheme()
	if err != nil {
		t.Fatalf("Scheme failed: %v", err)
	}
	want := []parcellation.LabelRange{{Min: 11100, Max: 11175}, {Min: 12100, Max: 12175}}
	if !reflect.DeepEqual(s.CorticalRanges, want) {
		t.Errorf("Expected ranges %v, got %v", want, s.CorticalRanges)
	}
	if !reflect.DeepEqual(s.FillableCodes, []int{2, 41}) {
		t.Errorf("Unexpected fillable codes %v", s.FillableCodes)
	}
	if s.Neighborhood != parcellation.LegacyNeighborhood || s.Workers != 3 {
		t.Errorf("Unexpected propagation settings %+v", s)
	}
	if !cfg.Output.KeepInputLabels || cfg.Logging.Level != "debug" {
		t.Errorf("Unexpected output/logging settings %+v", cfg)
	}
	// untouched values keep their defaults
	if cfg.Logging.MaxSize != 100 {
		t.Errorf("Expected default maxSize 100, got %d", cfg.Logging.MaxSize)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bad yaml":         "labels: [",
		"bad neighborhood": "propagation:\n  neighborhood: diagonal\n",
		"empty range":      "labels:\n  corticalRanges:\n    - {min: 5, max: 1}\n",
	}
	for name, content := range cases {
		path := filepath.Join(dir, name+".yaml")
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write config: %v", err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tractparc.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("Reloaded config differs from defaults")
	}
}
