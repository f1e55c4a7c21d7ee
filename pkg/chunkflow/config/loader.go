package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromFile loads a pipeline settings file. The extension picks the
// decoder (.yaml, .yml or .json). ${VAR} references are expanded from the
// environment first, so checkpoint_path can point at per-job scratch
// space. An empty file yields an empty Config and therefore the defaults.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read settings %s: %w", path, err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		cfg, err = FromYAML(data)
	case ".json":
		cfg, err = FromJSON(data)
	default:
		return Config{}, fmt.Errorf("settings %s: unsupported extension %q", path, ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("settings %s: %w", path, err)
	}
	return cfg, nil
}

// FromYAML decodes a YAML mapping of pipeline settings.
func FromYAML(data []byte) (Config, error) {
	return decode(data, "yaml", yaml.Unmarshal)
}

// FromJSON decodes a JSON object of pipeline settings.
func FromJSON(data []byte) (Config, error) {
	return decode(data, "json", json.Unmarshal)
}

func decode(data []byte, format string, unmarshal func([]byte, any) error) (Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return New(nil), nil
	}
	var m map[string]any
	if err := unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", format, err)
	}
	return New(m), nil
}
