package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const generatedHeader = `# agentgate configuration
# Generated by "agentgate init". Every field is optional; absent fields
# keep their built-in defaults.
`

// GenerateDefault writes the default configuration as a starter YAML file.
func GenerateDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}
	out := append([]byte(generatedHeader+"\n"), data...)
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
