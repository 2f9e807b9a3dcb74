package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/dailyfortune/internal/fortune"
)

// Profile holds the presentation settings that are awkward as flat keys:
// the banding table, prompt templates, personas and fallback texts. It is
// read from the YAML file named by fortune.profile_path.
type Profile struct {
	// Bands takes precedence over the comma-separated lists below.
	Bands   []fortune.Band `yaml:"bands"`
	Ranges  string         `yaml:"ranges"`
	Labels  string         `yaml:"labels"`
	Symbols string         `yaml:"symbols"`

	Prompts struct {
		Process string `yaml:"process"`
		Advice  string `yaml:"advice"`
	} `yaml:"prompts"`

	ResultTemplate string `yaml:"result_template"`

	Defaults struct {
		Process string `yaml:"process"`
		Advice  string `yaml:"advice"`
	} `yaml:"defaults"`

	Personas map[string]string `yaml:"personas"`
}

// LoadProfile reads the profile at path. An empty path yields an empty
// profile, which means built-in defaults everywhere.
func LoadProfile(path string) (Profile, error) {
	var p Profile
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("reading profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	return p, nil
}

// BandingTable returns the profile's banding table, or the default table
// when the profile defines none.
func (p Profile) BandingTable() (*fortune.BandingTable, error) {
	switch {
	case len(p.Bands) > 0:
		return fortune.NewBandingTable(p.Bands), nil
	case strings.TrimSpace(p.Ranges) != "":
		return fortune.ParseBands(p.Ranges, p.Labels, p.Symbols)
	default:
		return fortune.DefaultBandingTable(), nil
	}
}

// Persona returns the preamble registered as name.
func (p Profile) Persona(name string) (string, bool) {
	text, ok := p.Personas[name]
	return text, ok
}
