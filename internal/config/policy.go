package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ChamsBouzaiene/kea/internal/engine"
)

// PolicyFile is the on-disk shape of the approval policy. Deny wins over
// allow when a tool appears in both.
type PolicyFile struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

// Lists converts the file into the gate's policy lists.
func (p PolicyFile) Lists() engine.PolicyLists {
	return engine.PolicyLists{Allow: p.Allow, Deny: p.Deny}
}

// LoadPolicy reads the policy file. A missing file yields an empty policy,
// meaning every non-hinted tool asks.
func LoadPolicy(path string) (PolicyFile, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return PolicyFile{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return PolicyFile{}, fmt.Errorf("failed to read policy file: %w", err)
	}

	var policy PolicyFile
	if err := json.Unmarshal(data, &policy); err != nil {
		return PolicyFile{}, fmt.Errorf("failed to parse policy json: %w", err)
	}
	return policy, nil
}

// SavePolicy writes the policy file, creating the directory if needed.
func SavePolicy(path string, policy PolicyFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create policy dir: %w", err)
	}

	data, err := json.MarshalIndent(policy, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write policy file: %w", err)
	}
	return nil
}
