// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/roiplan/pkg/hal"
	"github.com/gomlx/roiplan/pkg/planner"
	"github.com/gomlx/roiplan/pkg/roi"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newTable(headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers(headers...).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row == lgtable.HeaderRow:
				return headerRowStyle
			case row%2 == 0:
				s = evenRowStyle
			default:
				s = oddRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Left)
			} else {
				s = s.Align(lipgloss.Right)
			}
			return
		})
}

// report prints the summary of the planning and a table with one row per planned node.
func report(result *planner.Result, cfg hal.Config) {
	plans := result.Ordered()
	var totalBytes, totalROIs int
	for _, plan := range plans {
		totalBytes += plan.Bytes()
		totalROIs += len(plan.Physical)
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Graph %q", result.Graph.Name)))
	summary := newTable("", "")
	summary.Row("nodes", humanize.Comma(int64(len(result.Graph.Nodes()))))
	summary.Row("planned nodes", humanize.Comma(int64(len(plans))))
	summary.Row("broadcasts lowered", humanize.Comma(int64(result.NumBroadcasts)))
	summary.Row("physical ROIs", humanize.Comma(int64(totalROIs)))
	summary.Row("bytes written", humanize.Bytes(uint64(totalBytes)))
	summary.Row("engines", fmt.Sprintf("%d DMA, %d TPC", cfg.NumEngines(hal.EngineDMA), cfg.NumEngines(hal.EngineTPC)))
	fmt.Println(summary.Render())

	fmt.Println(titleStyle.Render("Nodes"))
	table := newTable("node", "kind", "engine", "splitter", "output", "bytes", "levels", "ROIs")
	plans = slices.DeleteFunc(plans, func(plan *planner.NodePlan) bool {
		return len(*flagKinds) > 0 && !slices.Contains(*flagKinds, plan.Node.Kind)
	})
	for _, plan := range plans {
		table.Row(plan.Node.Name, plan.Node.Kind.String(), plan.Engine.String(), plan.Splitter,
			plan.Node.Output(0).Shape.String(), humanize.Bytes(uint64(plan.Bytes())),
			strconv.Itoa(plan.NumLevels()), humanize.Comma(int64(len(plan.Physical))))
	}
	fmt.Println(table.Render())

	if *flagROIs {
		for _, plan := range plans {
			fmt.Println(titleStyle.Render(plan.String()))
			fmt.Println(roiTable(plan.Physical).Render())
		}
	}
}

// roiTable lists physical ROIs: engine, pipeline level, region, byte offsets and signals.
func roiTable(rois []roi.NodeROI) *lgtable.Table {
	table := newTable("engine", "level", "region", "elements", "input offsets", "output offsets", "signals", "layout")
	for _, r := range rois {
		layout := ""
		if r.Layout != nil {
			layout = r.Layout.String()
		}
		table.Row(strconv.Itoa(r.EngineIndex), strconv.Itoa(r.PipelineLevel), r.String(),
			humanize.Comma(int64(r.NumElements())), byteOffsets(r.Inputs), byteOffsets(r.Outputs),
			strconv.Itoa(r.NumSignals), layout)
	}
	return table
}

func byteOffsets(tensors []roi.TensorROI) string {
	parts := make([]string, len(tensors))
	for ii, t := range tensors {
		parts[ii] = humanize.Comma(int64(t.ByteOffset))
	}
	return strings.Join(parts, ", ")
}
