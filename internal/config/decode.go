package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

var errTrailingData = errors.New("invalid config: trailing data")

// Parse decodes a JSON or YAML config strictly: unknown keys and trailing
// data (a second JSON value or YAML document) are errors. The extension of
// path selects the format; anything other than .yaml/.yml is JSON.
func Parse(path string, data []byte) (*Config, error) {
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := decodeYAML(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode yaml config: %w", err)
		}
	default:
		if err := decodeJSON(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode json config: %w", err)
		}
	}
	return &cfg, nil
}

func decodeJSON(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errTrailingData
		}
		return err
	}
	return nil
}

// decodeYAML maps the document straight onto Config through its yaml tags.
// An empty document yields the zero Config and is left to Validate.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return errTrailingData
		}
		return err
	}
	return nil
}
