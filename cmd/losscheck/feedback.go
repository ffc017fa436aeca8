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
	"math"

	"github.com/gomlx/contrastive/ml/train/confidence"
	"github.com/gomlx/contrastive/ml/train/losses"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// feedback runs the pseudo-labeling loop of ConLoss: each step computes the loss of a batch with the current
// confidence store, and writes the refined targets back. The classifier outputs are simulated by the synthetic
// logits, sharpened at every epoch as if the classifier was learning.
//
// It returns a table with the per-epoch mean loss, the largest confidence change and the accuracy of the
// pseudo-labels (the most confident class in the store) against the true labels.
func feedback(backend backends.Backend, ctx *context.Context, data *syntheticData, store *confidence.Store) *reportTable {
	batchSize := *flagBatchSize
	numBatches := data.numSamples / batchSize
	stepExec := context.NewExec(backend, ctx, func(ctx *context.Context, inputs []*Node) []*Node {
		index, sharpness := inputs[0], inputs[1]
		outputs := Mul(gatherRows(inputs[2], index), ConvertDType(sharpness, inputs[2].DType()))
		views := gatherRows(inputs[3], index)
		candidates := gatherRows(inputs[4], index)
		loss, newTarget := losses.ConLossFromContext(ctx, store.ValueGraph(index.Graph()), index, outputs, views, candidates)
		maxChange := store.UpdateGraph(ctx, index, newTarget)
		return []*Node{ConvertDType(loss, dtypes.Float64), ConvertDType(maxChange, dtypes.Float64)}
	})
	accuracyExec := NewExec(backend, func(values, labels *Node) *Node {
		pseudoLabels := ArgMax(values, -1, labels.DType())
		hits := ConvertDType(Equal(pseudoLabels, labels), dtypes.Float64)
		return ReduceAllMean(hits)
	})
	accuracy := func() float64 {
		return tensors.ToScalar[float64](accuracyExec.Call(store.Values(), data.labels)[0])
	}

	table := newReportTable("Epoch", "Mean loss", "Max change", "Pseudo-label accuracy")
	table.AddRow(false, "0", "", "", fmt.Sprintf("%.2f%%", 100*accuracy()))
	bar := progressbar.NewOptions(*flagEpochs*numBatches,
		progressbar.OptionSetDescription("ConLoss feedback: "),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		progressbar.OptionClearOnFinish(),
	)
	for epoch := range *flagEpochs {
		sharpness := tensors.FromAnyValue(float32(1 + epoch))
		var sumLoss, maxChange float64
		for batchNum := range numBatches {
			results := stepExec.Call(batchIndex(batchNum, batchSize), sharpness, data.outputs, data.views, data.candidates)
			sumLoss += tensors.ToScalar[float64](results[0])
			maxChange = max(maxChange, tensors.ToScalar[float64](results[1]))
			_ = bar.Add(1)
		}
		meanLoss := sumLoss / float64(numBatches)
		klog.V(1).Infof("epoch %d: mean loss %g, max change %g", epoch+1, meanLoss, maxChange)
		table.AddRow(math.IsNaN(meanLoss), fmt.Sprintf("%d", epoch+1), fmt.Sprintf("%.6f", meanLoss),
			fmt.Sprintf("%.4f", maxChange), fmt.Sprintf("%.2f%%", 100*accuracy()))
	}
	_ = bar.Finish()
	return table
}
