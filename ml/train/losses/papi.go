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

// PaPiLoss returns the two terms of the PaPi partial-label loss:
//
//   - clsLoss: the cross-entropy of the classifier logits against the confidence of each sample.
//   - simLoss: for each of the two prototype logits, the criterion between the prototype log-probabilities
//     (logits divided by protTemperature) and the confidence, mixed with weight lambda against the
//     confidence of the sample at idxRP (the mixup partner) with weight 1-lambda.
//
// Parameters:
//   - clsLogits, protLogits1, protLogits2: shaped `[batch_size, num_classes]`.
//   - confidence: the confidence store values, shaped `[num_samples, num_classes]`.
//   - index: the row of the confidence store of each sample, integer shaped `[batch_size]`.
//   - idxRP: the random permutation of the batch used for mixup, integer shaped `[batch_size]`.
//   - lambda: the mixup coefficient, a scalar.
//
// The confidence targets are constants for the gradient. The caller usually combines the terms as
// `clsLoss + alpha*simLoss`.
func PaPiLoss(clsLogits, protLogits1, protLogits2, confidence, index, idxRP, lambda *Node,
	protTemperature float64, criterion SimilarityCriterion) (clsLoss, simLoss *Node) {
	if clsLogits.Rank() != 2 {
		Panicf("PaPiLoss: clsLogits must be shaped [batch_size, num_classes], got %s", clsLogits.Shape())
	}
	batchSize := clsLogits.Shape().Dim(0)
	for _, logits := range []*Node{protLogits1, protLogits2} {
		if !logits.Shape().EqualDimensions(clsLogits.Shape()) {
			Panicf("PaPiLoss: prototype logits (%s) must have the same dimensions as clsLogits (%s)",
				logits.Shape(), clsLogits.Shape())
		}
	}
	if confidence.Rank() != 2 || confidence.Shape().Dim(1) != clsLogits.Shape().Dim(1) {
		Panicf("PaPiLoss: confidence must be shaped [num_samples, num_classes=%d], got %s",
			clsLogits.Shape().Dim(1), confidence.Shape())
	}
	for _, indices := range []*Node{index, idxRP} {
		if !indices.DType().IsInt() || indices.Shape().Size() != batchSize {
			Panicf("PaPiLoss: index and idxRP must be integer tensors with batch_size=%d elements, got %s",
				batchSize, indices.Shape())
		}
	}
	if !lambda.IsScalar() {
		Panicf("PaPiLoss: lambda must be a scalar, got %s", lambda.Shape())
	}
	if criterion == nil {
		criterion = KLDivergence
	}
	dtype := clsLogits.DType()
	target := StopGradient(ConvertDType(Gather(confidence, Reshape(index, batchSize, 1)), dtype))
	mixTarget := Gather(target, Reshape(idxRP, batchSize, 1))
	lambda = ConvertDType(lambda, dtype)

	clsLoss = Neg(ReduceAllMean(ReduceSum(Mul(target, LogSoftmax(clsLogits, -1)), -1)))

	mixedCriterion := func(protLogits *Node) *Node {
		logProbs := LogSoftmax(DivScalar(protLogits, protTemperature), -1)
		return Add(
			Mul(lambda, criterion(logProbs, target)),
			Mul(OneMinus(lambda), criterion(logProbs, mixTarget)))
	}
	simLoss = Add(mixedCriterion(protLogits1), mixedCriterion(protLogits2))
	return
}

// PaPiLossFromContext calls PaPiLoss with the prototype temperature set by ParamPaPiPrototypeTemperature and
// the criterion selected by ParamPaPiCriterion.
func PaPiLossFromContext(ctx *context.Context, clsLogits, protLogits1, protLogits2, confidence, index, idxRP, lambda *Node) (clsLoss, simLoss *Node) {
	return PaPiLoss(clsLogits, protLogits1, protLogits2, confidence, index, idxRP, lambda,
		context.GetParamOr(ctx, ParamPaPiPrototypeTemperature, 0.3),
		CriterionByName(context.GetParamOr(ctx, ParamPaPiCriterion, "kl")))
}
