// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hal

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/user"
	"path"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// settingsFields returns pointers to the fields of cfg that can be set, indexed by setting name.
func settingsFields(cfg *Config) map[string]any {
	return map[string]any{
		"name":                      &cfg.Name,
		"cache_line_bytes":          &cfg.CacheLineBytes,
		"max_bytes_source_fast_dim": &cfg.Transpose.MaxBytesSourceFastDim,
		"max_bytes_dest_fast_dim":   &cfg.Transpose.MaxBytesDestFastDim,
		"line_count_divisor":        &cfg.Transpose.LineCountDivisor,
		"max_h":                     &cfg.Transpose.MaxH,
		"broadcast_engine":          &cfg.BroadcastEngine,
		"dma_engines":               &cfg.DMAEngines,
		"tpc_engines":               &cfg.TPCEngines,
		"pipeline_depth":            &cfg.PipelineDepth,
		"max_descriptor_bytes":      &cfg.MaxDescriptorBytes,
		"utilization_threshold":     &cfg.Tuning.UtilizationThreshold,
		"split_powers_of_two_only":  &cfg.Tuning.SplitPowersOfTwoOnly,
		"min_split_units":           &cfg.Tuning.MinSplitUnits,
	}
}

// SettingNames returns the names accepted by ParseSettings, sorted.
func SettingNames() []string {
	var cfg Config
	names := make([]string, 0, 16)
	for name := range settingsFields(&cfg) {
		names = append(names, name)
	}
	slices.Sort(names)
	return append(names, "preset")
}

// ParseSettings updates cfg from settings, a list separated by ";": e.g.: "dma_engines=8;max_h=32".
//
// The special setting "preset=<name>" resets cfg to the named preset, and "file:<path>" reads more
// settings from a file, one or more per line, where lines starting with "#" are comments.
// A "~" prefix in the path is replaced by the user's home directory.
//
// For integers "_" is removed, so one can write 1_048_576.
//
// It returns the names of the settings set, in order, and an error if a setting is unknown or
// can't be parsed. It doesn't validate the resulting configuration: see Config.Validate.
func ParseSettings(cfg *Config, settings string) (settingsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		settingsSet, err = parseSetting(cfg, strings.TrimSpace(setting), settingsSet)
		if err != nil {
			return
		}
	}
	return
}

func parseSetting(cfg *Config, setting string, settingsSet []string) (newSettingsSet []string, err error) {
	newSettingsSet = settingsSet
	if setting == "" {
		return
	}
	if strings.HasPrefix(setting, "file:") {
		filePath := strings.TrimPrefix(setting, "file:")
		filePath, err = replaceTildeInDir(filePath)
		if err != nil {
			return
		}
		var contents []byte
		contents, err = os.ReadFile(filePath)
		if err != nil {
			err = errors.Wrapf(err, "failed to read hal settings from file %q", filePath)
			return
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			var lineSettings []string
			lineSettings, err = ParseSettings(cfg, line)
			newSettingsSet = append(newSettingsSet, lineSettings...)
			if err != nil {
				return
			}
		}
		return
	}

	parts := strings.Split(setting, "=")
	if len(parts) != 2 {
		err = errors.Errorf("can't parse hal setting %q: each setting requires the format \"<name>=<value>\"", setting)
		return
	}
	name, valueStr := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if name == "preset" {
		var preset Config
		preset, err = Preset(valueStr)
		if err != nil {
			return
		}
		*cfg = preset
		newSettingsSet = append(newSettingsSet, name)
		return
	}
	field, found := settingsFields(cfg)[name]
	if !found {
		err = errors.Errorf("unknown hal setting %q, valid settings are %v", name, SettingNames())
		return
	}

	switch v := field.(type) {
	case *int:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), v)
	case *float64:
		err = json.Unmarshal([]byte(valueStr), v)
	case *bool:
		err = json.Unmarshal([]byte(valueStr), v)
	case *string:
		*v = valueStr
	case *EngineKind:
		*v, err = EngineKindFromName(valueStr)
	default:
		err = fmt.Errorf("don't know how to parse type %T for hal setting %q", field, name)
	}
	if err != nil {
		err = errors.Wrapf(err, "failed to parse value %q for hal setting %q", valueStr, name)
		return
	}
	newSettingsSet = append(newSettingsSet, name)
	return
}

// CreateSettingsFlag creates a string flag with the given flagName (if empty it will be named "set")
// with a description of the settings accepted by ParseSettings and their values in cfg.
//
// The flag should be created before the call to flag.Parse().
func CreateSettingsFlag(cfg Config, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	parts := []string{
		`Set hardware constants, as a list of elements "name=value" separated by ";". ` +
			`It can also be given an entry like "file:settings_file.txt", in which case the file is read with ` +
			`new-lines working as ";" and lines starting with "#" as comments. ` +
			`"preset=<name>" resets to one of the presets ` + strings.Join(PresetNames(), ", ") + `. Settings:`,
		SprintSettings(cfg),
	}
	var settings string
	flag.StringVar(&settings, flagName, "", strings.Join(parts, "\n"))
	return &settings
}

// SprintSettings pretty-prints the settable values of cfg, one per line, sorted by name.
func SprintSettings(cfg Config) string {
	fields := settingsFields(&cfg)
	var parts []string
	for _, name := range SettingNames() {
		field, found := fields[name]
		if !found {
			continue
		}
		var value any
		switch v := field.(type) {
		case *int:
			value = *v
		case *float64:
			value = *v
		case *bool:
			value = *v
		case *string:
			value = *v
		case *EngineKind:
			value = *v
		}
		parts = append(parts, fmt.Sprintf("\t%q: %v", name, value))
	}
	return strings.Join(parts, "\n")
}

// replaceTildeInDir replaces a leading "~" or "~user" by the corresponding home directory.
func replaceTildeInDir(dir string) (string, error) {
	if !strings.HasPrefix(dir, "~") {
		return dir, nil
	}
	userName, rest, _ := strings.Cut(dir[1:], "/")
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", dir)
	}
	return path.Join(usr.HomeDir, rest), nil
}
