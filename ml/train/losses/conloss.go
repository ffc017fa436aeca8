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
	"github.com/gomlx/gopjrt/dtypes"
)

// ConLoss returns the confidence-weighted contrastive loss used for partial-label learning (as in ABLE), and
// the refined confidence target to be written back to the confidence store for the next iteration.
//
// Parameters:
//   - confidence: the confidence store values, shaped `[num_samples, num_classes]`.
//   - index: the row of the confidence store of each sample of the batch, integer shaped `[batch_size]`.
//   - outputs: the classifier logits, shaped `[>= batch_size, num_classes]`: only the first batch_size rows are used.
//   - features: the embeddings of each view of each sample, shaped `[batch_size, num_views, embedding_dim]`.
//   - candidates: binary matrix (Y) of the candidate labels of each sample, shaped `[batch_size, num_classes]`.
//
// Every view is both anchor and contrast candidate. The positive weights of each anchor are given by
// PseudoPositiveMask, repeated for every pair of views, with the self comparison removed. The loss is the mean over
// all anchors of the positive-weighted log-probabilities, multiplied by -temperature/baseTemperature.
//
// The newTarget, shaped `[batch_size, num_classes]`, is given by RefineConfidence. It is a constant for the gradient.
func ConLoss(confidence, index, outputs, features, candidates *Node, temperature, baseTemperature float64) (loss, newTarget *Node) {
	if features.Rank() != 3 {
		Panicf("ConLoss: features must be shaped [batch_size, num_views, embedding_dim], got %s", features.Shape())
	}
	batchSize, numViews, embeddingDim := features.Shape().Dim(0), features.Shape().Dim(1), features.Shape().Dim(2)
	if candidates.Rank() != 2 || candidates.Shape().Dim(0) != batchSize {
		Panicf("ConLoss: candidates must be shaped [batch_size=%d, num_classes], got %s", batchSize, candidates.Shape())
	}
	numClasses := candidates.Shape().Dim(1)
	if outputs.Rank() != 2 || outputs.Shape().Dim(0) < batchSize || outputs.Shape().Dim(1) != numClasses {
		Panicf("ConLoss: outputs must be shaped [>=batch_size=%d, num_classes=%d], got %s",
			batchSize, numClasses, outputs.Shape())
	}
	if confidence.Rank() != 2 || confidence.Shape().Dim(1) != numClasses {
		Panicf("ConLoss: confidence must be shaped [num_samples, num_classes=%d], got %s", numClasses, confidence.Shape())
	}
	if !index.DType().IsInt() || index.Shape().Size() != batchSize {
		Panicf("ConLoss: index must be an integer tensor with batch_size=%d elements, got %s", batchSize, index.Shape())
	}
	g := features.Graph()
	dtype := features.DType()

	// Views are stacked view-major: anchor a is sample a % batch_size.
	numAnchors := numViews * batchSize
	contrast := Reshape(Transpose(features, 0, 1), numAnchors, embeddingDim)
	logits := stableLogits(MatMul(contrast, Transpose(contrast, 0, 1)), temperature)

	candidates = StopGradient(ConvertDType(candidates, dtype))
	probabilities := StopGradient(Softmax(ConvertDType(Slice(outputs, AxisRange(0, batchSize)), dtype), -1))
	batchConfidence := Gather(confidence, Reshape(index, batchSize, 1))
	batchConfidence = StopGradient(ConvertDType(batchConfidence, dtype))

	logitsMask := notSelfMask(g, dtype, numAnchors, numAnchors)
	mask := Mul(tile(PseudoPositiveMask(batchConfidence, probabilities, candidates), numViews, numViews), logitsMask)
	expLogits := Mul(Exp(logits), logitsMask)
	logProbs := Sub(logits, Log(AddScalar(ReduceAndKeep(expLogits, ReduceSum, -1), logEpsilon)))
	weightedLogProbs := ReduceSum(Mul(mask, logProbs), -1)
	loss = ReduceAllMean(MulScalar(weightedLogProbs, -temperature/baseTemperature))

	newTarget = RefineConfidence(candidates, probabilities)
	return
}

// PseudoPositiveMask returns the `[batch_size, batch_size]` weights of the pseudo-positive pairs:
//
//	mask[i, j] = Σ_c candidates[i, c] * confidence[i, c] * [predicted[j] == c] / |{k: predicted[k] == c}|
//
// where predicted[j] is the candidate class of sample j with the highest probability. So, for every candidate
// class c of sample i, the samples predicted as c share the confidence of i in c. Classes no sample was predicted
// as contribute 0.
//
// All inputs are shaped `[batch_size, num_classes]`; candidates is binary (only entries equal to 1 are considered).
func PseudoPositiveMask(confidence, probabilities, candidates *Node) *Node {
	dtype := probabilities.DType()
	numClasses := candidates.Shape().Dim(-1)
	candidates = ConvertDType(candidates, dtype)
	predicted := ArgMax(Mul(probabilities, candidates), -1, dtypes.Int32)
	members := OneHot(predicted, numClasses, dtype)
	classSizes := ReduceAndKeep(members, ReduceSum, 0)
	memberWeights := Div(members, nonZeroOrOne(classSizes))
	candidateConfidence := Where(Equal(candidates, OnesLike(candidates)),
		ConvertDType(confidence, dtype), ZerosLike(candidates))
	return MatMul(candidateConfidence, Transpose(memberWeights, 0, 1))
}

// RefineConfidence returns the new confidence target: the candidates (Y) masked probabilities, renormalized to sum 1
// in each row. Both inputs are shaped `[batch_size, num_classes]`.
//
// If all the probabilities of the candidates of a row are 0, the row falls back to the uniform distribution over the
// candidates, or over all classes if the row has no candidates at all.
//
// The result is a constant for the gradient.
func RefineConfidence(candidates, probabilities *Node) *Node {
	g := probabilities.Graph()
	dtype := probabilities.DType()
	dims := probabilities.Shape().Dimensions
	candidates = ConvertDType(candidates, dtype)
	hasMass := func(x *Node) *Node {
		sum := ReduceAndKeep(x, ReduceSum, -1)
		return BroadcastToDims(GreaterThan(sum, ZerosLike(sum)), dims...)
	}
	revised := Mul(candidates, StopGradient(probabilities))
	fallback := Where(hasMass(candidates), candidates, OnesLike(candidates))
	revised = Where(hasMass(revised), revised, fallback)
	total := ReduceAndKeep(revised, ReduceSum, -1)
	revised = Div(revised, Max(total, epsilonForDType(g, dtype)))
	return StopGradient(revised)
}

// ConLossFromContext calls ConLoss with the temperatures set by ParamConLossTemperature and
// ParamConLossBaseTemperature.
func ConLossFromContext(ctx *context.Context, confidence, index, outputs, features, candidates *Node) (loss, newTarget *Node) {
	return ConLoss(confidence, index, outputs, features, candidates,
		context.GetParamOr(ctx, ParamConLossTemperature, 0.1),
		context.GetParamOr(ctx, ParamConLossBaseTemperature, 0.07))
}
