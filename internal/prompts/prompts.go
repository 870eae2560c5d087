// Package prompts holds the model names and instructions sent to the
// reasoning service. Defaults are embedded; a YAML file can override any
// entry.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Prompt is one model + instruction pair.
type Prompt struct {
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	System    string `yaml:"system"`
}

// Set is the full prompt catalogue.
type Set struct {
	Transcribe Prompt `yaml:"transcribe"`
	Sanitize   Prompt `yaml:"sanitize"`
	Spelling   Prompt `yaml:"spelling"`
	Compliance Prompt `yaml:"compliance"`
	Conflict   Prompt `yaml:"conflict"`
}

// Default returns the embedded prompt set.
func Default() Set {
	set, err := parse(Set{}, defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("prompts: embedded defaults invalid: %v", err))
	}
	return set
}

// Load returns the defaults overlaid with the file at path. An empty path
// yields the defaults.
func Load(path string) (Set, error) {
	base := Default()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("prompts: read %s: %w", path, err)
	}
	set, err := parse(base, data)
	if err != nil {
		return Set{}, fmt.Errorf("prompts: %s: %w", path, err)
	}
	return set, nil
}

// Parse overlays data on the defaults.
func Parse(data []byte) (Set, error) {
	return parse(Default(), data)
}

func parse(base Set, data []byte) (Set, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Set{}, fmt.Errorf("prompt payload is empty")
	}
	if err := yaml.Unmarshal(data, &base); err != nil {
		return Set{}, fmt.Errorf("decode prompts: %w", err)
	}
	if err := base.validate(); err != nil {
		return Set{}, err
	}
	return base, nil
}

func (s Set) validate() error {
	for name, p := range map[string]Prompt{
		"transcribe": s.Transcribe,
		"sanitize":   s.Sanitize,
		"spelling":   s.Spelling,
		"compliance": s.Compliance,
		"conflict":   s.Conflict,
	} {
		if strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("%s: model is required", name)
		}
		if strings.TrimSpace(p.System) == "" {
			return fmt.Errorf("%s: system prompt is required", name)
		}
	}
	return nil
}
