package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/brickrunner/internal/brick"
	"github.com/GriffinCanCode/brickrunner/internal/output"
)

// ErrUnsupportedFormat is returned for brick files that are neither YAML nor TOML.
var ErrUnsupportedFormat = errors.New("unsupported brick file format")

// BrickFile is the per-runner brick configuration.
type BrickFile struct {
	Brick             brick.Description          `yaml:"brick" toml:"brick"`
	OutputConnections map[string][]output.Target `yaml:"output_connections" toml:"output_connections"`
}

// LoadBrickFile reads and validates a brick file. The format follows the
// extension: .yaml/.yml or .toml.
func LoadBrickFile(path string) (*BrickFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read brick file: %w", err)
	}
	bf, err := ParseBrickFile(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bf, nil
}

// ParseBrickFile decodes a brick file given its extension.
func ParseBrickFile(data []byte, ext string) (*BrickFile, error) {
	var bf BrickFile
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &bf); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &bf); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	bf.Brick = bf.Brick.WithDefaults()
	if err := bf.Validate(); err != nil {
		return nil, err
	}
	return &bf, nil
}

// Validate checks the description and every output target.
func (bf *BrickFile) Validate() error {
	errs := []error{bf.Brick.Validate()}
	for port, targets := range bf.OutputConnections {
		for i, t := range targets {
			if t.Brick == "" {
				errs = append(errs, fmt.Errorf("output_connections.%s[%d]: brick is required", port, i))
			}
		}
	}
	return errors.Join(errs...)
}
