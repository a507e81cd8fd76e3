package gvapsim

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// MatrixFile is the format of matrix override files.
//
//	params:
//	  networks: ["10101"]
//	scenarios:
//	  - label: "network 10101: mining"
//	    style: flags
//	    flags: {networkid: "10101", mine: null}
//
// Params override the defaults passed to LoadMatrix. Scenarios replace generated
// entries with the same label and are appended otherwise. With replace set, the
// generated matrix is discarded.
type MatrixFile struct {
	Params    NetworkParams    `yaml:"params"`
	Replace   bool             `yaml:"replace"`
	Scenarios []ScenarioConfig `yaml:"scenarios"`
}

// LoadMatrix builds the scenario matrix described by the file at path.
func LoadMatrix(path string, base NetworkParams, constrained bool) (*Matrix, NetworkParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, base, err
	}
	var file MatrixFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, base, fmt.Errorf("invalid matrix file %s: %v", path, err)
	}
	params := base.merge(file.Params)

	m := NewMatrix()
	if !file.Replace {
		m = BuildMatrix(params, constrained)
	}
	for i, cfg := range file.Scenarios {
		if cfg.Label == "" {
			return nil, params, fmt.Errorf("invalid matrix file %s: scenario %d has no label", path, i)
		}
		switch cfg.Style {
		case "":
			cfg.Style = StyleOptions
			if cfg.Flags != nil {
				cfg.Style = StyleFlags
			}
		case StyleOptions, StyleFlags:
		default:
			return nil, params, fmt.Errorf("invalid matrix file %s: scenario %q has unknown style %q", path, cfg.Label, cfg.Style)
		}
		m.Set(cfg)
	}
	return m, params, nil
}
