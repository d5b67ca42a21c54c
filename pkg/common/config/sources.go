package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type SourcesConfig struct {
	Sources  []SourceConfig            `yaml:"sources" json:"sources"`
	Profiles map[string][]ProfileEntry `yaml:"profiles" json:"profiles"`
}

type SourceConfig struct {
	Name        string             `yaml:"name" json:"name"`
	Family      string             `yaml:"family" json:"family"`
	Directory   string             `yaml:"directory" json:"directory,omitempty"`
	Enabled     *bool              `yaml:"enabled" json:"enabled,omitempty"`
	Schedule    ScheduleConfig     `yaml:"schedule" json:"schedule"`
	Acquisition *AcquisitionConfig `yaml:"acquisition" json:"acquisition,omitempty"`
}

// IsEnabled treats a missing flag as enabled.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ArtifactDir resolves the directory the acquisition collaborator writes to.
func (s SourceConfig) ArtifactDir(root string) string {
	if s.Directory == "" {
		return filepath.Join(root, s.Name)
	}
	if filepath.IsAbs(s.Directory) {
		return s.Directory
	}
	return filepath.Join(root, s.Directory)
}

type ScheduleConfig struct {
	Kind    string   `yaml:"kind" json:"kind"` // interval, windows, weekly, manual
	Every   string   `yaml:"every" json:"every,omitempty"`
	Days    []string `yaml:"days" json:"days,omitempty"`
	Windows []string `yaml:"windows" json:"windows,omitempty"`
	Day     string   `yaml:"day" json:"day,omitempty"`
	At      string   `yaml:"at" json:"at,omitempty"`
	Mode    string   `yaml:"mode" json:"mode,omitempty"`
}

type AcquisitionConfig struct {
	Kind     string   `yaml:"kind" json:"kind"` // command, http
	Command  []string `yaml:"command" json:"command,omitempty"`
	URL      string   `yaml:"url" json:"url,omitempty"`
	Timeout  string   `yaml:"timeout" json:"timeout,omitempty"`
	Attempts int      `yaml:"attempts" json:"attempts,omitempty"`
}

type ProfileEntry struct {
	Source string `yaml:"source" json:"source"`
	Mode   string `yaml:"mode" json:"mode"`
}

func LoadSources(path string) (SourcesConfig, error) {
	if path == "" {
		return DefaultSources(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return SourcesConfig{}, fmt.Errorf("reading sources file: %w", err)
	}

	var cfg SourcesConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return SourcesConfig{}, fmt.Errorf("parsing sources file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return SourcesConfig{}, err
	}
	return cfg, nil
}

func (c SourcesConfig) Validate() error {
	if len(c.Sources) == 0 {
		return errors.New("no sources configured")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		name := strings.TrimSpace(src.Name)
		if name == "" {
			return fmt.Errorf("source #%d has no name", i+1)
		}
		if name != strings.ToUpper(name) {
			return fmt.Errorf("source %q: names are upper-case tags", name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("source %q declared twice", name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(src.Family) == "" {
			return fmt.Errorf("source %q has no family", name)
		}
	}
	for profile, entries := range c.Profiles {
		if len(entries) == 0 {
			return fmt.Errorf("profile %q is empty", profile)
		}
		for _, e := range entries {
			if _, ok := seen[e.Source]; !ok {
				return fmt.Errorf("profile %q references unknown source %q", profile, e.Source)
			}
		}
	}
	return nil
}

// Source looks a source up by tag.
func (c SourcesConfig) Source(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}

func DefaultSources() SourcesConfig {
	return SourcesConfig{
		Sources: []SourceConfig{
			{
				Name:     "COMPRASMX",
				Family:   "json",
				Schedule: ScheduleConfig{Kind: "interval", Every: "6h", Mode: "incremental"},
			},
			{
				Name:     "TIANGUIS",
				Family:   "jsonl",
				Schedule: ScheduleConfig{Kind: "interval", Every: "6h", Mode: "incremental"},
			},
			{
				Name:   "DOF",
				Family: "text",
				Schedule: ScheduleConfig{
					Kind:    "windows",
					Days:    []string{"mon", "tue", "wed", "thu", "fri"},
					Windows: []string{"08:00-10:00", "19:00-21:00"},
					Mode:    "incremental",
				},
			},
			{
				Name:     "DATOS_ABIERTOS",
				Family:   "csv",
				Schedule: ScheduleConfig{Kind: "weekly", Day: "sun", At: "03:00", Mode: "batch"},
			},
		},
		Profiles: map[string][]ProfileEntry{
			"every-6h": {
				{Source: "COMPRASMX", Mode: "incremental"},
				{Source: "TIANGUIS", Mode: "incremental"},
			},
			"daily": {
				{Source: "DOF", Mode: "incremental"},
			},
			"weekly": {
				{Source: "DATOS_ABIERTOS", Mode: "batch"},
			},
		},
	}
}
