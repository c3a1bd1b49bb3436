package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// WriteTimeline writes a timeline to a YAML file
func WriteTimeline(tc TimelineConfig, path string) error {
	data, err := yaml.Marshal(tc)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// LoadTimeline reads a timeline from a YAML file. Fields missing from the
// file keep the editor defaults.
func LoadTimeline(path string) (TimelineConfig, error) {
	tc := DefaultTimeline()

	data, err := os.ReadFile(path)
	if err != nil {
		return tc, err
	}
	if err := yaml.Unmarshal(data, &tc); err != nil {
		return tc, fmt.Errorf("parse timeline %s: %w", path, err)
	}
	return tc.Normalize()
}
