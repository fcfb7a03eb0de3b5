package knowledge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadPatternFile reads patterns for import. YAML files (.yaml, .yml) may hold
// a single pattern or a list; anything else is parsed as JSON in the
// knowledge-base format. Records without an "enabled" key are enabled.
func LoadPatternFile(path string) ([]KnownPattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return decodeYAMLPatterns(data)
	default:
		return decodeJSONPatterns(data)
	}
}

// enabledFlag distinguishes an absent "enabled" key from false.
type enabledFlag struct {
	Enabled *bool `yaml:"enabled"`
}

func decodeYAMLPattern(n *yaml.Node) (KnownPattern, error) {
	var p KnownPattern
	if err := n.Decode(&p); err != nil {
		return KnownPattern{}, fmt.Errorf("decode pattern: %w", err)
	}
	var flag enabledFlag
	if err := n.Decode(&flag); err != nil {
		return KnownPattern{}, fmt.Errorf("decode pattern: %w", err)
	}
	p.Enabled = flag.Enabled == nil || *flag.Enabled
	return p, nil
}

func decodeYAMLPatterns(data []byte) ([]KnownPattern, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse pattern yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]

	items := []*yaml.Node{root}
	if root.Kind == yaml.SequenceNode {
		items = root.Content
	}
	out := make([]KnownPattern, 0, len(items))
	for _, n := range items {
		p, err := decodeYAMLPattern(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func decodeJSONPatterns(data []byte) ([]KnownPattern, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] != '[' {
		data = append(append([]byte{'['}, data...), ']')
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse pattern json: %w", err)
	}
	out := make([]KnownPattern, 0, len(raw))
	for _, r := range raw {
		p := KnownPattern{Enabled: true}
		if err := json.Unmarshal(r, &p); err != nil {
			return nil, fmt.Errorf("decode pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}
