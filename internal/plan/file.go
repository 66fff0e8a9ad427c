package plan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk form of a plan.
type File struct {
	Chips []ChipPosition `yaml:"chips"`
}

// LoadFile reads a YAML plan.
func LoadFile(path string) (*ChipPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse plan file: %w", err)
	}

	return FromRecords(f.Chips)
}

// SaveFile writes the plan records as YAML so an interactive entry can
// be replayed with LoadFile.
func SaveFile(path string, p *ChipPlan) error {
	data, err := yaml.Marshal(File{Chips: p.Records()})
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	return nil
}
