package config

import (
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Tuning holds the catalog-specific scoring knobs for the region selector.
// The defaults cover the JR Tokyo-area catalog; deployments on other networks
// supply their own table via TUNING_PATH.
type Tuning struct {
	// LineBonuses maps a substring of the line tag to a score bonus.
	LineBonuses map[string]float64 `yaml:"line_bonuses"`
	// DefaultLineBonus applies when no line substring matches.
	DefaultLineBonus float64 `yaml:"default_line_bonus"`
	// LandmarkStations get a fixed bonus and count as major for rush hour.
	LandmarkStations []string `yaml:"landmark_stations"`
	LandmarkBonus    float64  `yaml:"landmark_bonus"`
	RushHourBonus    float64  `yaml:"rush_hour_bonus"`
}

// DefaultTuning returns the built-in scoring table.
func DefaultTuning() *Tuning {
	return &Tuning{
		LineBonuses: map[string]float64{
			"山手":  30, // Yamanote, the trunk loop
			"中央":  25,
			"京浜東北": 20,
			"埼京":  15,
		},
		DefaultLineBonus: 5,
		LandmarkStations: []string{"東京", "新宿", "渋谷", "池袋", "品川", "上野"},
		LandmarkBonus:    25,
		RushHourBonus:    20,
	}
}

// LoadTuning reads a tuning table from a YAML file, falling back to the
// defaults when the path is empty or the file is unreadable. A broken tuning
// file must not take detection down with it.
func LoadTuning(path string) *Tuning {
	if path == "" {
		return DefaultTuning()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultTuning()
	}

	t := DefaultTuning()
	if err := yaml.Unmarshal(data, t); err != nil {
		return DefaultTuning()
	}
	if t.LineBonuses == nil {
		t.LineBonuses = DefaultTuning().LineBonuses
	}
	return t
}

// LineBonus resolves the bonus for a station's line tag by substring match.
func (t *Tuning) LineBonus(line string) float64 {
	if line == "" {
		return t.DefaultLineBonus
	}
	best := t.DefaultLineBonus
	for sub, bonus := range t.LineBonuses {
		if sub != "" && bonus > best && strings.Contains(line, sub) {
			best = bonus
		}
	}
	return best
}

// IsLandmark reports whether the station name is in the landmark set.
func (t *Tuning) IsLandmark(name string) bool {
	for _, s := range t.LandmarkStations {
		if s == name {
			return true
		}
	}
	return false
}
