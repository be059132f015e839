// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hal

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DecodeYAML reads a configuration from r, on top of the "default" preset: fields missing in the YAML
// document keep their default values. Unknown fields are an error.
//
// The resulting configuration is validated.
func DecodeYAML(r io.Reader) (Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "failed to decode hal config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadYAML reads a configuration file: see DecodeYAML. A leading "~" in path is expanded.
func LoadYAML(path string) (Config, error) {
	path, err := replaceTildeInDir(path)
	if err != nil {
		return Config{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to open hal config %q", path)
	}
	defer func() { _ = f.Close() }()
	cfg, err := DecodeYAML(f)
	if err != nil {
		return Config{}, errors.WithMessagef(err, "in file %q", path)
	}
	return cfg, nil
}

// WriteYAML writes the configuration as YAML, in the format read by DecodeYAML.
func (c Config) WriteYAML(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(c); err != nil {
		return errors.Wrap(err, "failed to encode hal config")
	}
	return errors.Wrap(encoder.Close(), "failed to flush hal config")
}
