// Copyright 2025 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"sigs.k8s.io/yaml"
)

const (
	// VersionDefaults marks a configuration built without a file.
	VersionDefaults = "no-config"
	// VersionFile marks a configuration read from a file.
	VersionFile = "static-file"
)

// Load reads, validates, and applies default values to missing fields in the
// server configuration. If the filename is empty it returns the configuration
// object with default values applied.
func Load(filename string) (*ConfigSpec, error) {
	if filename == "" {
		var spec ConfigSpec
		spec.ApplyDefaults()
		spec.Version = VersionDefaults
		return &spec, nil
	}
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	spec, err := parse(b)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration in config file '%s': %w", filename, err)
	}
	spec.Version = VersionFile
	return spec, nil
}

// parse unmarshals, validates and applies default values to
// missing fields in the configuration.
func parse(b []byte) (*ConfigSpec, error) {
	var conf Config
	if err := yaml.Unmarshal(b, &conf); err != nil {
		return nil, err
	}
	if err := checkUnknownFields(b, &conf); err != nil {
		return nil, fmt.Errorf("unknown fields: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	conf.Spec.ApplyDefaults()
	return &conf.Spec, nil
}

// checkUnknownFields reports the fields of the raw YAML that do not
// survive a round trip through the Config schema.
func checkUnknownFields(b []byte, conf *Config) error {
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return err
	}

	typed, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}
	var known map[string]any
	if err := yaml.Unmarshal(typed, &known); err != nil {
		return err
	}

	var unknown []string
	collectUnknown("", raw, known, &unknown)
	if len(unknown) == 0 {
		return nil
	}

	// Shallow paths first, then alphabetical.
	depth := func(p string) int { return strings.Count(p, ".") + strings.Count(p, "[") }
	slices.SortFunc(unknown, func(a, b string) int {
		if da, db := depth(a), depth(b); da != db {
			return da - db
		}
		return strings.Compare(a, b)
	})
	return errors.New(strings.Join(unknown, ", "))
}

func collectUnknown(path string, raw, known any, out *[]string) {
	switch r := raw.(type) {
	case map[string]any:
		k, _ := known.(map[string]any)
		for key, v := range r {
			p := path + "." + key
			kv, found := k[key]
			if !found {
				*out = append(*out, p)
				continue
			}
			collectUnknown(p, v, kv, out)
		}
	case []any:
		k, _ := known.([]any)
		for i := range r {
			if i >= len(k) {
				break
			}
			collectUnknown(fmt.Sprintf("%s[%d]", path, i), r[i], k[i], out)
		}
	}
}
