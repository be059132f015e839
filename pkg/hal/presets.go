// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hal

import (
	"maps"
	"slices"

	"github.com/pkg/errors"
)

var presets = map[string]Config{
	"default": {
		Name:            "default",
		CacheLineBytes:  128,
		Transpose:       TransposeEngineParams{MaxBytesSourceFastDim: 256, MaxBytesDestFastDim: 256, LineCountDivisor: 4, MaxH: 16},
		BroadcastEngine: EngineTPC,
		DMAEngines:      4,
		TPCEngines:      8,
		PipelineDepth:   4,
		// 16 MiB.
		MaxDescriptorBytes: 16 << 20,
		Tuning:             Tuning{UtilizationThreshold: 0.8, SplitPowersOfTwoOnly: true, MinSplitUnits: 2},
	},
	"wide": {
		Name:               "wide",
		CacheLineBytes:     256,
		Transpose:          TransposeEngineParams{MaxBytesSourceFastDim: 512, MaxBytesDestFastDim: 512, LineCountDivisor: 8, MaxH: 32},
		BroadcastEngine:    EngineDMA,
		DMAEngines:         8,
		TPCEngines:         24,
		PipelineDepth:      8,
		MaxDescriptorBytes: 64 << 20,
		Tuning:             Tuning{UtilizationThreshold: 0.75, SplitPowersOfTwoOnly: false, MinSplitUnits: 4},
	},
	"tiny": {
		Name:               "tiny",
		CacheLineBytes:     64,
		Transpose:          TransposeEngineParams{MaxBytesSourceFastDim: 64, MaxBytesDestFastDim: 64, LineCountDivisor: 2, MaxH: 4},
		BroadcastEngine:    EngineTPC,
		DMAEngines:         2,
		TPCEngines:         2,
		PipelineDepth:      2,
		MaxDescriptorBytes: 64 << 10,
		Tuning:             Tuning{UtilizationThreshold: 0.8, SplitPowersOfTwoOnly: true, MinSplitUnits: 2},
	},
}

// PresetNames returns the names of the available presets, sorted.
func PresetNames() []string {
	return slices.Sorted(maps.Keys(presets))
}

// Preset returns a copy of the named configuration.
func Preset(name string) (Config, error) {
	cfg, found := presets[name]
	if !found {
		return Config{}, errors.Errorf("unknown hal preset %q, valid presets are %v", name, PresetNames())
	}
	return cfg, nil
}

// MustPreset is like Preset, but panics on error.
func MustPreset(name string) Config {
	cfg, err := Preset(name)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Default returns the "default" preset.
func Default() Config {
	return MustPreset("default")
}
