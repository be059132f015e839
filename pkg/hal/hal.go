// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hal is the hardware abstraction layer of the planner: the constants of the target device
// (cache-line size, transpose-engine limits, engine counts) and the tunable lowering heuristics.
//
// A Config can be created from a named Preset, loaded from a YAML file (LoadYAML) and adjusted with
// a settings string (ParseSettings), e.g.:
//
//	cfg := hal.MustPreset("default")
//	_, err := hal.ParseSettings(&cfg, "cache_line_bytes=256;dma_engines=8;file:~/my_device.txt")
package hal

import (
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/roiplan/pkg/support/xslices"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EngineKind is the class of physical engine executing an operation.
type EngineKind int

const (
	// EngineTPC is a vector (SIMD) engine: it computes one element and replicates it.
	EngineTPC EngineKind = iota

	// EngineDMA is a bulk-copy engine.
	EngineDMA
)

var engineKindNames = []string{EngineTPC: "tpc", EngineDMA: "dma"}

// String implements fmt.Stringer.
func (k EngineKind) String() string {
	if k < 0 || int(k) >= len(engineKindNames) {
		return "EngineKind(" + strconv.Itoa(int(k)) + ")"
	}
	return engineKindNames[k]
}

// EngineKindFromName is the case-insensitive inverse of EngineKind.String.
func EngineKindFromName(name string) (EngineKind, error) {
	idx := slices.Index(engineKindNames, strings.ToLower(name))
	if idx < 0 {
		return 0, errors.Errorf("unknown engine kind %q, valid values are %v", name, engineKindNames)
	}
	return EngineKind(idx), nil
}

// MarshalYAML implements yaml.Marshaler.
func (k EngineKind) MarshalYAML() (any, error) {
	return k.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (k *EngineKind) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	kind, err := EngineKindFromName(name)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*k = kind
	return nil
}

// TransposeEngineParams are the limits of the DMA transpose engine.
type TransposeEngineParams struct {
	// MaxBytesSourceFastDim is the number of bytes the engine reads along the source fast dimension
	// in one invocation.
	MaxBytesSourceFastDim int `yaml:"max_bytes_source_fast_dim"`

	// MaxBytesDestFastDim is the number of bytes the engine writes along the destination fast dimension.
	MaxBytesDestFastDim int `yaml:"max_bytes_dest_fast_dim"`

	// LineCountDivisor: the number of lines (product of the non-fast dimensions) of every transpose
	// must be a multiple of it. A power of two.
	LineCountDivisor int `yaml:"line_count_divisor"`

	// MaxH is the maximum repetition count of the source sub-tile in one descriptor.
	MaxH int `yaml:"max_h"`
}

// Tuning holds the performance heuristics of the lowering passes. They never change correctness.
type Tuning struct {
	// UtilizationThreshold: a transfer has "good utilization" if the fraction of the cache lines it
	// touches that carries payload is strictly above it. In (0, 1).
	UtilizationThreshold float64 `yaml:"utilization_threshold"`

	// SplitPowersOfTwoOnly restricts the broadcast split strategy to power-of-two factors that divide
	// the broadcast size.
	SplitPowersOfTwoOnly bool `yaml:"split_powers_of_two_only"`

	// MinSplitUnits is the minimal number of split units (chunks of the axis' split granularity) an
	// axis must have to be used for pipeline splitting of DMA transposes.
	MinSplitUnits int `yaml:"min_split_units"`
}

// Config holds every hardware constant used by the planner.
type Config struct {
	Name            string                `yaml:"name"`
	CacheLineBytes  int                   `yaml:"cache_line_bytes"`
	Transpose       TransposeEngineParams `yaml:"transpose"`
	BroadcastEngine EngineKind            `yaml:"broadcast_engine"`
	DMAEngines      int                   `yaml:"dma_engines"`
	TPCEngines      int                   `yaml:"tpc_engines"`

	// PipelineDepth is the number of logical ROIs (pipeline stages) each node is split into.
	PipelineDepth int `yaml:"pipeline_depth"`

	// MaxDescriptorBytes is the largest copy a single DMA descriptor can express.
	MaxDescriptorBytes int `yaml:"max_descriptor_bytes"`

	Tuning Tuning `yaml:"tuning"`
}

// Reader is the read-only view of the hardware constants consumed by the lowering passes.
type Reader interface {
	CacheLineSize() int
	TransposeEngine() TransposeEngineParams
	BroadcastEngineKind() EngineKind
	NumEngines(kind EngineKind) int
	LogicalEngineCount() int
	DescriptorLimit() int
	Heuristics() Tuning
}

var _ Reader = Config{}

// CacheLineSize implements Reader.
func (c Config) CacheLineSize() int { return c.CacheLineBytes }

// TransposeEngine implements Reader.
func (c Config) TransposeEngine() TransposeEngineParams { return c.Transpose }

// BroadcastEngineKind implements Reader.
func (c Config) BroadcastEngineKind() EngineKind { return c.BroadcastEngine }

// NumEngines implements Reader.
func (c Config) NumEngines(kind EngineKind) int {
	if kind == EngineDMA {
		return c.DMAEngines
	}
	return c.TPCEngines
}

// LogicalEngineCount implements Reader.
func (c Config) LogicalEngineCount() int { return c.PipelineDepth }

// DescriptorLimit implements Reader.
func (c Config) DescriptorLimit() int { return c.MaxDescriptorBytes }

// Heuristics implements Reader.
func (c Config) Heuristics() Tuning { return c.Tuning }

// Validate returns an error describing the first invalid constant, if any.
func (c Config) Validate() error {
	positives := []struct {
		name  string
		value int
	}{
		{"cache_line_bytes", c.CacheLineBytes},
		{"max_bytes_source_fast_dim", c.Transpose.MaxBytesSourceFastDim},
		{"max_bytes_dest_fast_dim", c.Transpose.MaxBytesDestFastDim},
		{"line_count_divisor", c.Transpose.LineCountDivisor},
		{"max_h", c.Transpose.MaxH},
		{"dma_engines", c.DMAEngines},
		{"tpc_engines", c.TPCEngines},
		{"pipeline_depth", c.PipelineDepth},
		{"max_descriptor_bytes", c.MaxDescriptorBytes},
		{"min_split_units", c.Tuning.MinSplitUnits},
	}
	for _, p := range positives {
		if p.value <= 0 {
			return errors.Errorf("hal config %q: %s must be positive, got %d", c.Name, p.name, p.value)
		}
	}
	if !xslices.IsPowerOfTwo(c.Transpose.LineCountDivisor) {
		return errors.Errorf("hal config %q: line_count_divisor must be a power of two, got %d",
			c.Name, c.Transpose.LineCountDivisor)
	}
	if c.Tuning.UtilizationThreshold <= 0 || c.Tuning.UtilizationThreshold >= 1 {
		return errors.Errorf("hal config %q: utilization_threshold must be in (0, 1), got %g",
			c.Name, c.Tuning.UtilizationThreshold)
	}
	if c.BroadcastEngine != EngineTPC && c.BroadcastEngine != EngineDMA {
		return errors.Errorf("hal config %q: invalid broadcast_engine %s", c.Name, c.BroadcastEngine)
	}
	return nil
}
