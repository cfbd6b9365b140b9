package config

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlParser implements koanf.Parser for YAML configuration files.
type yamlParser struct{}

func (yamlParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (yamlParser) Marshal(m map[string]interface{}) ([]byte, error) {
	return yaml.Marshal(m)
}

// yamlFile implements koanf.Provider by reading a file from disk.
type yamlFile string

func (f yamlFile) ReadBytes() ([]byte, error) {
	return os.ReadFile(string(f)) // #nosec G304 operator supplied config path
}

func (yamlFile) Read() (map[string]interface{}, error) {
	return nil, errors.New("yaml file provider requires a parser")
}

// overrides implements koanf.Provider over an in-memory map.
type overrides map[string]any

func (o overrides) ReadBytes() ([]byte, error) {
	return nil, errors.New("overrides provider does not support ReadBytes")
}

func (o overrides) Read() (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out, nil
}
