// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// roiplan lowers a graph of tensor-movement nodes and prints, for each node executed by an engine,
// how its index space is split into pipeline stages and per-engine regions of interest.
//
// Usage:
//
//	roiplan -hal=wide -set="dma_engines=4" -workers=8 graph.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/roiplan/pkg/core/graph"
	"github.com/gomlx/roiplan/pkg/hal"
	"github.com/gomlx/roiplan/pkg/planner"
	"github.com/gomlx/roiplan/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagPreset = flag.String("hal", "default", fmt.Sprintf("Hardware preset, one of %v.", hal.PresetNames()))
	flagConfig = flag.String("config", "", "YAML hardware configuration file. If set, it takes the place of -hal.")
	flagSet    = hal.CreateSettingsFlag(hal.Default(), "set")

	flagWorkers = flag.Int("workers", -1, "Nodes planned in parallel: 0 plans sequentially, "+
		"-1 uses one worker per CPU.")
	flagVerify   = flag.Bool("verify", false, "Checks with the reference evaluator that every broadcast lowering computes the broadcast.")
	flagProgress = flag.Bool("progress", false, "Displays a progress bar while planning.")
	flagROIs     = flag.Bool("rois", false, "Lists the physical ROIs of each node.")
	flagPrintHAL = flag.Bool("print_hal", false, "Prints the hardware configuration used, in YAML.")
	flagNoColor  = flag.Bool("no_color", false, "Disables colors in the report.")
	flagKinds    = xslices.Flag("kinds", nil, "Comma-separated node kinds to report, e.g. \"transpose,slice\". Empty reports all.",
		graph.KindFromName)
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected exactly one graph description file. See 'roiplan -help'.")
		os.Exit(1)
	}

	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	cfg := loadHAL()
	if *flagPrintHAL {
		fmt.Println(titleStyle.Render("Hardware"))
		must.M(cfg.WriteYAML(os.Stdout))
	}

	g := must.M1(loadGraph(args[0]))
	p := planner.New(cfg).WithVerify(*flagVerify)
	if *flagWorkers >= 0 {
		p.WithParallelism(*flagWorkers)
	}
	var bar *progressbar.ProgressBar
	if *flagProgress {
		var progress func(done, total int)
		bar, progress = newProgressBar(os.Stderr, len(g.Nodes()))
		p.WithProgress(progress)
	}
	result, err := p.Plan(context.Background(), g)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		klog.Errorf("Failed to plan %q: %+v", args[0], err)
		os.Exit(1)
	}
	report(result, cfg)
}

// newProgressBar returns a progress bar and the planner callback advancing it. The callback is called
// from the planner workers, so the "done" counts may arrive out of order: it adds one per call instead.
func newProgressBar(w io.Writer, numNodes int) (*progressbar.ProgressBar, func(done, total int)) {
	bar := progressbar.NewOptions(numNodes,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("planning"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish())
	return bar, func(_, total int) {
		bar.ChangeMax(total)
		_ = bar.Add(1)
	}
}

// loadHAL returns the hardware configuration selected by -hal or -config, with the -set overrides applied.
func loadHAL() hal.Config {
	var cfg hal.Config
	if *flagConfig != "" {
		cfg = must.M1(hal.LoadYAML(*flagConfig))
	} else {
		cfg = must.M1(hal.Preset(*flagPreset))
	}
	if *flagSet != "" {
		settingsSet := must.M1(hal.ParseSettings(&cfg, *flagSet))
		klog.V(1).Infof("hardware settings changed: %v", settingsSet)
	}
	must.M(cfg.Validate())
	return cfg
}
