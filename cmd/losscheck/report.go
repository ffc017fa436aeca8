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
	"time"

	"github.com/gomlx/contrastive/ml/train/losses"
	"github.com/gomlx/contrastive/ml/train/losses/lossexec"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/nanlogger"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// batchInputs holds the inputs of every loss for the first batch of the synthetic data.
type batchInputs struct {
	index                        *tensors.Tensor
	zi, zj                       *tensors.Tensor // [batch_size, embedding_dim], first and last views.
	labels                       *tensors.Tensor // [batch_size]
	candidatesOverlap            *tensors.Tensor // [batch_size, batch_size]: samples sharing a candidate.
	supConFeatures, supConMask   *tensors.Tensor // [2*batch_size, embedding_dim], [batch_size, 2*batch_size]
	queueFeatures                *tensors.Tensor // [2*batch_size+queue_size, embedding_dim]
	outputs, protLogits, mixPerm *tensors.Tensor
	views, candidates            *tensors.Tensor
}

func newBatchInputs(backend backends.Backend, data *syntheticData) *batchInputs {
	batchSize := *flagBatchSize
	b := &batchInputs{index: batchIndex(0, batchSize)}
	exec := NewExec(backend, func(inputs []*Node) []*Node {
		index, labels, candidates, outputs, views, queue := inputs[0], inputs[1], inputs[2], inputs[3], inputs[4], inputs[5]
		g := index.Graph()
		labels = gatherRows(labels, index)
		candidates = gatherRows(candidates, index)
		outputs = gatherRows(outputs, index)
		views = gatherRows(views, index)

		numViews, embeddingDim := views.Shape().Dim(1), views.Shape().Dim(2)
		zi := L2Normalize(Reshape(Slice(views, AxisRange(), AxisElem(0)), batchSize, embeddingDim), -1)
		zj := L2Normalize(Reshape(Slice(views, AxisRange(), AxisElem(numViews-1)), batchSize, embeddingDim), -1)

		overlap := MatMul(candidates, Transpose(candidates, 0, 1))
		overlap = ConvertDType(GreaterThan(overlap, ZerosLike(overlap)), dtypes.Float32)

		sameLabel := Equal(
			BroadcastToDims(InsertAxes(labels, 1), batchSize, batchSize),
			BroadcastToDims(InsertAxes(labels, 0), batchSize, batchSize))
		sameLabel = ConvertDType(sameLabel, dtypes.Float32)
		supConMask := Concatenate([]*Node{sameLabel, sameLabel}, 1)
		supConFeatures := Concatenate([]*Node{zi, zj}, 0)

		queueFeatures := supConFeatures
		if *flagQueueSize > 0 {
			queueFeatures = Concatenate([]*Node{zi, zj, L2Normalize(queue, -1)}, 0)
		}

		// Prototype logits: a sharper version of the classifier, and the mixup permutation reverses the batch.
		protLogits := MulScalar(outputs, 1.5)
		mixPerm := Sub(Scalar(g, dtypes.Int32, float64(batchSize-1)), Iota(g, index.Shape(), 0))
		return []*Node{zi, zj, labels, overlap, supConFeatures, supConMask, queueFeatures,
			outputs, protLogits, mixPerm, views, candidates}
	})
	results := exec.Call(b.index, data.labels, data.candidates, data.outputs, data.views, data.queue)
	b.zi, b.zj, b.labels, b.candidatesOverlap = results[0], results[1], results[2], results[3]
	b.supConFeatures, b.supConMask, b.queueFeatures = results[4], results[5], results[6]
	b.outputs, b.protLogits, b.mixPerm, b.views, b.candidates = results[7], results[8], results[9], results[10], results[11]
	return b
}

// lossesTable evaluates every loss, and every mode of each loss, on the first batch.
// Losses that fail are reported in the table, and only unexpected failures are returned as errors.
// If nanLogger is not nil, it is attached to every executor of the losses.
func lossesTable(backend backends.Backend, ctx *context.Context, data *syntheticData, nanLogger *nanlogger.NanLogger) (*reportTable, error) {
	var b *batchInputs
	if err := exceptions.TryCatch[error](func() { b = newBatchInputs(backend, data) }); err != nil {
		return nil, errors.WithMessage(err, "failed to build batch inputs")
	}
	evaluator := lossexec.New(backend, ctx)
	if nanLogger != nil {
		evaluator.OnExecCreation(func(exec *context.Exec) { nanLogger.AttachToExec(exec) })
	}
	initialConfidence := data.candidateSet.UniformConfidence()
	table := newReportTable("Loss", "Mode", "Value", "Time")

	type entry struct {
		loss, mode string
		fn         func() (string, error)
	}
	scalar := func(fn func() (float64, error)) func() (string, error) {
		return func() (string, error) {
			value, err := fn()
			return fmt.Sprintf("%.6f", value), err
		}
	}
	entries := []entry{
		{"InfoNCE", "views", scalar(func() (float64, error) { return evaluator.InfoNCE(b.zi, b.zj) })},
		{"InfoNCE2", losses.PositivesModeDefaultSelfSupervised.String(),
			scalar(func() (float64, error) { return evaluator.InfoNCE2(b.zi, nil, nil) })},
		{"InfoNCE2", losses.PositivesModeLabelDriven.String(),
			scalar(func() (float64, error) { return evaluator.InfoNCE2(b.zi, b.labels, nil) })},
		{"InfoNCE2", losses.PositivesModeMaskDriven.String(),
			scalar(func() (float64, error) { return evaluator.InfoNCE2(b.zi, nil, b.candidatesOverlap) })},
		{"SupCon", losses.SupConModeSupervised.String(), scalar(func() (float64, error) {
			return evaluator.SupCon(losses.SupConModeSupervised, b.supConFeatures, b.supConMask, nil, *flagBatchSize)
		})},
		{"SupCon", losses.SupConModeQueue.String(), scalar(func() (float64, error) {
			return evaluator.SupCon(losses.SupConModeQueue, b.queueFeatures, nil, nil, *flagBatchSize)
		})},
		{"ConLoss", "uniform confidence", scalar(func() (float64, error) {
			loss, _, err := evaluator.ConLoss(initialConfidence, b.index, b.outputs, b.views, b.candidates)
			return loss, err
		})},
		{"PaPi", "cls / sim", func() (string, error) {
			cls, sim, err := evaluator.PaPi(b.outputs, b.protLogits, b.outputs, initialConfidence, b.index, b.mixPerm, 0.7)
			return fmt.Sprintf("%.6f / %.6f", cls, sim), err
		}},
	}
	for _, e := range entries {
		start := time.Now()
		value, err := e.fn()
		elapsed := time.Since(start)
		if err != nil {
			klog.Warningf("%s (%s) failed: %+v", e.loss, e.mode, err)
			if !errors.Is(err, lossexec.ErrNonFinite) && !errors.Is(err, lossexec.ErrContract) {
				return nil, err
			}
			table.AddRow(true, e.loss, e.mode, err.Error(), elapsed.String())
			continue
		}
		table.AddRow(false, e.loss, e.mode, value, elapsed.String())
	}
	return table, nil
}
