package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/training_workflow/internal/app/domain/readiness"
)

// LoadPolicy returns the default readiness policy overlaid with the YAML file
// at path. An empty path returns the defaults.
func LoadPolicy(path string) (readiness.Policy, error) {
	policy := readiness.DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return readiness.Policy{}, fmt.Errorf("failed to read readiness policy: %w", err)
	}

	var override readiness.Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&override); err != nil {
		return readiness.Policy{}, fmt.Errorf("failed to parse readiness policy: %w", err)
	}

	policy = policy.Merge(override)
	if err := policy.Validate(); err != nil {
		return readiness.Policy{}, err
	}
	return policy, nil
}
