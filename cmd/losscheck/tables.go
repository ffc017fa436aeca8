/*
 *	Copyright 2025 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/contrastive/ml/train/losses"
	"github.com/gomlx/gomlx/ml/context"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	failedRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
)

// reportTable is a lipgloss table where some rows can be highlighted as failures.
type reportTable struct {
	*lgtable.Table
	count  int
	failed map[int]bool
}

// newReportTable creates a table with the given headers. The first column is right aligned, the others left aligned.
func newReportTable(headers ...string) *reportTable {
	t := &reportTable{failed: make(map[int]bool)}
	t.Table = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row < 0:
				return headerRowStyle
			case t.failed[row]:
				s = failedRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
	if len(headers) > 0 {
		t.Headers(headers...)
	}
	return t
}

// AddRow appends a row, highlighted if failed is true.
func (t *reportTable) AddRow(failed bool, row ...string) {
	if failed {
		t.failed[t.count] = true
	}
	t.Row(row...)
	t.count++
}

func paramsTable(ctx *context.Context) *reportTable {
	table := newReportTable("Name", "Type", "Value")
	var rows [][]string
	ctx.EnumerateParams(func(scope, key string, value any) {
		if scope != context.RootScope || key == losses.ParamNanLogger {
			return
		}
		rows = append(rows, []string{key, fmt.Sprintf("%T", value), fmt.Sprintf("%v", value)})
	})
	slices.SortFunc(rows, func(a, b []string) int { return strings.Compare(a[0], b[0]) })
	for _, row := range rows {
		table.AddRow(false, row...)
	}
	return table
}

func dataTable(data *syntheticData) *reportTable {
	table := newReportTable()
	table.AddRow(false, "# samples", humanize.Comma(int64(data.numSamples)))
	table.AddRow(false, "# classes", humanize.Comma(int64(data.numClasses)))
	table.AddRow(false, "# views", humanize.Comma(int64(data.numViews)))
	table.AddRow(false, "embedding dim", humanize.Comma(int64(data.embeddingDim)))
	table.AddRow(false, "queue size", humanize.Comma(int64(data.queueSize)))
	table.AddRow(false, "candidates / sample", humanize.FormatFloat("#.##", data.candidateSet.AverageCandidates()))
	memory := data.views.Shape().Memory() + data.outputs.Shape().Memory() + data.candidates.Shape().Memory()
	table.AddRow(false, "memory", humanize.Bytes(uint64(memory)))
	return table
}

func humanBytes(n int64) string {
	return humanize.Bytes(uint64(n))
}
