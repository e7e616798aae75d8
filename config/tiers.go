package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// TiersFile is the optional YAML document that overrides backend models and tier chains
type TiersFile struct {
	// Backends maps backend identifiers to model ids; listed entries are added or replaced
	Backends map[string]string `yaml:"backends"`
	// Tiers maps tier names to an ordered list of backend identifiers
	Tiers map[string][]string `yaml:"tiers"`
}

// LoadTiersFile reads and decodes a tiers file. Unknown top-level keys are rejected.
func LoadTiersFile(path string) (*TiersFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tiers file: %w", err)
	}
	return ParseTiers(data)
}

// ParseTiers decodes a tiers document
func ParseTiers(data []byte) (*TiersFile, error) {
	var tf TiersFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&tf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse tiers file: %w", err)
	}
	return &tf, nil
}

// Apply merges the file into a gateway configuration
func (tf *TiersFile) Apply(g *GatewayConfig) {
	if g.Backends == nil {
		g.Backends = make(map[string]string, len(tf.Backends))
	}
	for id, model := range tf.Backends {
		g.Backends[id] = model
	}

	if g.Tiers == nil {
		g.Tiers = make(map[string][]string, len(tf.Tiers))
	}
	for name, chain := range tf.Tiers {
		g.Tiers[name] = append([]string(nil), chain...)
	}
}
