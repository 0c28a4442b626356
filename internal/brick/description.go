package brick

import (
	"errors"
	"fmt"
	"time"
)

// DefaultPortName is used when a description does not name a default port.
const DefaultPortName = "default"

// Description is the static configuration of a brick, loaded once at startup.
type Description struct {
	UID                  string         `yaml:"uid" toml:"uid" json:"uid"`
	Name                 string         `yaml:"name" toml:"name" json:"name"`
	BrickType            string         `yaml:"brick_type" toml:"brick_type" json:"brick_type"`
	BrickFamily          string         `yaml:"brick_family" toml:"brick_family" json:"brick_family"`
	IsInlet              bool           `yaml:"is_inlet" toml:"is_inlet" json:"is_inlet"`
	ExitAfterIdleSeconds float64        `yaml:"exit_after_idle_seconds" toml:"exit_after_idle_seconds" json:"exit_after_idle_seconds"`
	DefaultPort          string         `yaml:"default_port" toml:"default_port" json:"default_port"`
	Parameters           map[string]any `yaml:"parameters" toml:"parameters" json:"parameters"`
	Module               string         `yaml:"module" toml:"module" json:"module"`
}

// WithDefaults fills optional fields.
func (d Description) WithDefaults() Description {
	if d.DefaultPort == "" {
		d.DefaultPort = DefaultPortName
	}
	if d.Name == "" {
		d.Name = d.UID
	}
	if d.Parameters == nil {
		d.Parameters = map[string]any{}
	}
	return d
}

// Validate checks the fields the runner cannot do without.
func (d Description) Validate() error {
	var errs []error
	if d.UID == "" {
		errs = append(errs, errors.New("brick uid is required"))
	}
	if d.Module == "" {
		errs = append(errs, errors.New("brick module is required"))
	}
	if d.ExitAfterIdleSeconds < 0 {
		errs = append(errs, fmt.Errorf("exit_after_idle_seconds must not be negative, got %v", d.ExitAfterIdleSeconds))
	}
	return errors.Join(errs...)
}

// ExitAfterIdle converts the idle threshold. Zero disables idle exit.
func (d Description) ExitAfterIdle() time.Duration {
	return time.Duration(d.ExitAfterIdleSeconds * float64(time.Second))
}
