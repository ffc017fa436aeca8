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
	"github.com/gomlx/contrastive/ml/data/partiallabels"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

// syntheticData is a partial-label dataset of samples drawn around one random center per class.
type syntheticData struct {
	numSamples, numClasses, numViews, embeddingDim, queueSize int

	candidateSet *partiallabels.Set

	labels     *tensors.Tensor // [num_samples] int32, the true labels.
	candidates *tensors.Tensor // [num_samples, num_classes] float32, the true label plus random wrong ones.
	outputs    *tensors.Tensor // [num_samples, num_classes] classifier logits, biased towards the true label.
	views      *tensors.Tensor // [num_samples, num_views, embedding_dim]
	queue      *tensors.Tensor // [max(queue_size, 1), embedding_dim]
}

func newSyntheticData(backend backends.Backend, ctx *context.Context) *syntheticData {
	data := &syntheticData{
		numSamples:   *flagNumSamples,
		numClasses:   *flagNumClasses,
		numViews:     *flagNumViews,
		embeddingDim: *flagEmbedding,
		queueSize:    *flagQueueSize,
	}
	dtype := dtypes.Float32
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		n, c, v, d := data.numSamples, data.numClasses, data.numViews, data.embeddingDim
		labels := ArgMax(ctx.RandomUniform(g, shapes.Make(dtype, n, c)), -1, dtypes.Int32)
		oneHot := OneHot(labels, c, dtype)
		wrong := ConvertDType(LessThan(ctx.RandomUniform(g, shapes.Make(dtype, n, c)), Scalar(g, dtype, *flagPartial)), dtype)
		candidates := Max(oneHot, wrong)

		centers := L2Normalize(ctx.RandomNormal(g, shapes.Make(dtype, c, d)), -1)
		sampleCenters := InsertAxes(Gather(centers, InsertAxes(labels, -1)), 1)
		noise := MulScalar(ctx.RandomNormal(g, shapes.Make(dtype, n, v, d)), 0.3)
		views := Add(BroadcastToDims(sampleCenters, n, v, d), noise)

		outputs := Add(MulScalar(oneHot, 2), ctx.RandomNormal(g, shapes.Make(dtype, n, c)))
		queue := ctx.RandomNormal(g, shapes.Make(dtype, max(data.queueSize, 1), d))
		return []*Node{labels, candidates, outputs, views, queue}
	})
	results := exec.Call()
	data.labels, data.candidates, data.outputs, data.views, data.queue =
		results[0], results[1], results[2], results[3], results[4]
	data.candidateSet = must.M1(partiallabels.FromDense(data.candidates))
	must.M(data.candidateSet.Validate())
	klog.V(1).Infof("synthetic data: %d samples, %.2f candidates per sample",
		data.candidateSet.Len(), data.candidateSet.AverageCandidates())
	return data
}

// batchIndex returns the indices of the samples of batch number batchNum.
func batchIndex(batchNum, batchSize int) *tensors.Tensor {
	index := make([]int32, batchSize)
	for ii := range index {
		index[ii] = int32(batchNum*batchSize + ii)
	}
	return tensors.FromValue(index)
}

// gatherRows returns the rows of x selected by index, an int tensor shaped `[batch_size]`.
func gatherRows(x, index *Node) *Node {
	return Gather(x, InsertAxes(index, -1))
}
