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

package losses

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
)

// SupCon returns the SupCon loss in the given mode: it calls SupConSupervised for SupConModeSupervised,
// or SupConQueue for SupConModeQueue. In queue mode mask and weights must be nil, and baseTemperature is ignored.
func SupCon(mode SupConMode, features, mask, weights *Node, batchSize int, temperature, baseTemperature float64) *Node {
	switch mode {
	case SupConModeSupervised:
		return SupConSupervised(features, mask, weights, batchSize, temperature, baseTemperature)
	case SupConModeQueue:
		if mask != nil || weights != nil {
			Panicf("SupCon: mode %s takes no mask or weights", mode)
		}
		return SupConQueue(features, batchSize, temperature)
	default:
		Panicf("SupCon: unknown mode %s", mode)
	}
	return nil
}

// SupConSupervised returns the supervised contrastive loss (as used by PiCO) for the first batchSize rows of
// features (the anchors), contrasted against all the rows of features, shaped `[num_contrast, embedding_dim]`.
//
// The mask, shaped `[batchSize, num_contrast]`, marks the positives of each anchor; the self pair of each anchor is
// always removed. Each anchor loss is the mean log-probability of its positives among all its non-self candidates,
// multiplied by -temperature/baseTemperature. Anchors with no positives have a loss of 0.
//
// The optional weights (can be nil), shaped `[batchSize]`, multiply the loss of each anchor before the mean.
// Mask and weights are taken as constants: no gradient flows through them.
func SupConSupervised(features, mask, weights *Node, batchSize int, temperature, baseTemperature float64) *Node {
	if features.Rank() != 2 {
		Panicf("SupCon: features must be shaped [num_contrast, embedding_dim], got %s", features.Shape())
	}
	numContrast := features.Shape().Dim(0)
	if batchSize <= 0 || batchSize > numContrast {
		Panicf("SupCon: batchSize=%d must be in the range [1, %d] for features shaped %s",
			batchSize, numContrast, features.Shape())
	}
	if mask == nil {
		Panicf("SupCon: mode %s requires a mask", SupConModeSupervised)
	}
	if err := mask.Shape().CheckDims(batchSize, numContrast); err != nil {
		Panicf("SupCon: mask must be shaped [batch_size=%d, num_contrast=%d], got %s", batchSize, numContrast, mask.Shape())
	}
	if weights != nil && weights.Shape().Size() != batchSize {
		Panicf("SupCon: weights must have batch_size=%d elements, got shape %s", batchSize, weights.Shape())
	}
	g := features.Graph()
	dtype := features.DType()

	anchors := Slice(features, AxisRange(0, batchSize))
	logits := stableLogits(MatMul(anchors, Transpose(features, 0, 1)), temperature)

	logitsMask := notSelfMask(g, dtype, batchSize, numContrast)
	mask = Mul(StopGradient(ConvertDType(mask, dtype)), logitsMask)
	expLogits := Mul(Exp(logits), logitsMask)
	logProbs := Sub(logits, Log(AddScalar(ReduceAndKeep(expLogits, ReduceSum, -1), logEpsilon)))

	meanLogProbPositives := Div(ReduceSum(Mul(mask, logProbs), -1), nonZeroOrOne(ReduceSum(mask, -1)))
	losses := MulScalar(meanLogProbPositives, -temperature/baseTemperature)
	if weights != nil {
		weights = StopGradient(ConvertDType(Reshape(weights, batchSize), dtype))
		losses = Mul(losses, weights)
	}
	return ReduceAllMean(losses)
}

// SupConQueue returns the MoCo contrastive loss. The rows of features are split in 3 blocks:
// the queries (rows [0, batchSize)), their keys (rows [batchSize, 2*batchSize)) and the queue of
// negatives (the remaining rows).
//
// The logits of each query are its dot-product with its own key (the positive, class 0), followed by its
// dot-products with every queue entry, all divided by temperature. The loss is the mean cross-entropy of class 0.
// With an empty queue the loss is 0.
func SupConQueue(features *Node, batchSize int, temperature float64) *Node {
	if features.Rank() != 2 {
		Panicf("SupCon: features must be shaped [2*batch_size+queue_size, embedding_dim], got %s", features.Shape())
	}
	numRows := features.Shape().Dim(0)
	if batchSize <= 0 || 2*batchSize > numRows {
		Panicf("SupCon: mode %s requires features with at least 2*batchSize=%d rows, got shape %s",
			SupConModeQueue, 2*batchSize, features.Shape())
	}
	queries := Slice(features, AxisRange(0, batchSize))
	keys := Slice(features, AxisRange(batchSize, 2*batchSize))
	logits := ReduceAndKeep(Mul(queries, keys), ReduceSum, -1)
	if numRows > 2*batchSize {
		queue := Slice(features, AxisRange(2*batchSize))
		negatives := MatMul(queries, Transpose(queue, 0, 1))
		logits = Concatenate([]*Node{logits, negatives}, 1)
	}
	logits = DivScalar(logits, temperature)
	positiveLogProbs := Slice(LogSoftmax(logits, -1), AxisRange(), AxisRange(0, 1))
	return Neg(ReduceAllMean(positiveLogProbs))
}

// SupConFromContext calls SupCon with the temperatures set by ParamSupConTemperature and
// ParamSupConBaseTemperature.
func SupConFromContext(ctx *context.Context, mode SupConMode, features, mask, weights *Node, batchSize int) *Node {
	return SupCon(mode, features, mask, weights, batchSize,
		context.GetParamOr(ctx, ParamSupConTemperature, 0.07),
		context.GetParamOr(ctx, ParamSupConBaseTemperature, 0.07))
}
