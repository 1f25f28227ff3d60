package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTuningDefaults(t *testing.T) {
	tuning := LoadTuning("")
	if tuning.LineBonuses["山手"] != 30 {
		t.Errorf("default 山手 bonus = %f, want 30", tuning.LineBonuses["山手"])
	}
	if !tuning.IsLandmark("東京") {
		t.Error("東京 should be a default landmark")
	}
}

func TestLoadTuningMissingFileFallsBack(t *testing.T) {
	tuning := LoadTuning("/nonexistent/tuning.yaml")
	if tuning.LandmarkBonus != 25 {
		t.Errorf("missing file should fall back to defaults, got %+v", tuning)
	}
}

func TestLoadTuningBrokenFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("{not yaml: ["), 0o644); err != nil {
		t.Fatal(err)
	}

	tuning := LoadTuning(path)
	if tuning.RushHourBonus != 20 {
		t.Errorf("broken file should fall back to defaults, got %+v", tuning)
	}
}

func TestLoadTuningFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	data := `
line_bonuses:
  東海道: 40
default_line_bonus: 2
landmark_stations:
  - 横浜
landmark_bonus: 50
rush_hour_bonus: 10
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	tuning := LoadTuning(path)
	if tuning.LineBonuses["東海道"] != 40 {
		t.Errorf("東海道 bonus = %f, want 40", tuning.LineBonuses["東海道"])
	}
	if tuning.DefaultLineBonus != 2 {
		t.Errorf("default line bonus = %f, want 2", tuning.DefaultLineBonus)
	}
	if !tuning.IsLandmark("横浜") || tuning.IsLandmark("東京") {
		t.Error("landmark set should be replaced by the file")
	}
}

func TestLineBonusSubstringMatch(t *testing.T) {
	tuning := DefaultTuning()

	tests := []struct {
		line string
		want float64
	}{
		{"JR山手線", 30},
		{"JR中央線快速", 25},
		{"JR京浜東北線", 20},
		{"東京メトロ銀座線", 5}, // no match, default
		{"", 5},
	}

	for _, tt := range tests {
		if got := tuning.LineBonus(tt.line); got != tt.want {
			t.Errorf("LineBonus(%q) = %f, want %f", tt.line, got, tt.want)
		}
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := Load()
	if cfg.MaxRegions != 20 {
		t.Errorf("default MaxRegions = %d, want 20", cfg.MaxRegions)
	}
	if cfg.SyncBatchSize != 50 {
		t.Errorf("default SyncBatchSize = %d, want 50", cfg.SyncBatchSize)
	}
	if cfg.DisplacementTriggerM != 1000 {
		t.Errorf("default DisplacementTriggerM = %f, want 1000", cfg.DisplacementTriggerM)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("MAX_REGIONS", "100")
	t.Setenv("POLLING_INTERVAL", "10s")

	cfg := Load()
	if cfg.MaxRegions != 100 {
		t.Errorf("MAX_REGIONS override not applied: %d", cfg.MaxRegions)
	}
	if cfg.PollingInterval.Seconds() != 10 {
		t.Errorf("POLLING_INTERVAL override not applied: %s", cfg.PollingInterval)
	}
}
