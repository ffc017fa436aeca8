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

// Positives defines the positive pairs for InfoNCE2. Create it with SelfPositives, LabelPositives, MaskPositives
// or NewPositives.
type Positives struct {
	Mode PositivesMode

	// Labels holds the class id of each sample, shaped `[batch_size]` or `[batch_size, 1]`.
	// Only used with PositivesModeLabelDriven.
	Labels *Node

	// Mask holds the positive indicator of each pair, shaped `[batch_size, batch_size]`.
	// Only used with PositivesModeMaskDriven.
	Mask *Node
}

// SelfPositives makes each sample its own sole positive.
func SelfPositives() Positives {
	return Positives{Mode: PositivesModeDefaultSelfSupervised}
}

// LabelPositives makes the samples with the same label positive pairs.
func LabelPositives(labels *Node) Positives {
	return Positives{Mode: PositivesModeLabelDriven, Labels: labels}
}

// MaskPositives takes the positive pairs from mask, shaped `[batch_size, batch_size]`. Non-zero values mark a
// positive pair, and the values are used as weights.
func MaskPositives(mask *Node) Positives {
	return Positives{Mode: PositivesModeMaskDriven, Mask: mask}
}

// NewPositives selects the mode from which of labels or mask is given (not nil). Giving both panics, and
// giving none selects PositivesModeDefaultSelfSupervised.
func NewPositives(labels, mask *Node) Positives {
	if labels != nil && mask != nil {
		Panicf("InfoNCE2: cannot define both labels and mask")
	}
	if labels != nil {
		return LabelPositives(labels)
	}
	if mask != nil {
		return MaskPositives(mask)
	}
	return SelfPositives()
}

// validate panics if the positives are inconsistent with their mode or with the batch size.
func (p Positives) validate(batchSize int) {
	if p.Labels != nil && p.Mask != nil {
		Panicf("InfoNCE2: cannot define both labels and mask")
	}
	switch p.Mode {
	case PositivesModeDefaultSelfSupervised:
		if p.Labels != nil || p.Mask != nil {
			Panicf("InfoNCE2: positives mode %s takes neither labels nor mask", p.Mode)
		}
	case PositivesModeLabelDriven:
		if p.Labels == nil {
			Panicf("InfoNCE2: positives mode %s requires labels", p.Mode)
		}
		if p.Labels.Rank() > 2 || (p.Labels.Rank() == 2 && p.Labels.Shape().Dim(1) != 1) {
			Panicf("InfoNCE2: labels must be shaped [batch_size] or [batch_size, 1], got %s", p.Labels.Shape())
		}
		if p.Labels.Shape().Size() != batchSize {
			Panicf("InfoNCE2: number of labels (%d) does not match number of features (%d)",
				p.Labels.Shape().Size(), batchSize)
		}
	case PositivesModeMaskDriven:
		if p.Mask == nil {
			Panicf("InfoNCE2: positives mode %s requires a mask", p.Mode)
		}
		if err := p.Mask.Shape().CheckDims(batchSize, batchSize); err != nil {
			Panicf("InfoNCE2: mask must be shaped [batch_size=%d, batch_size=%d], got %s",
				batchSize, batchSize, p.Mask.Shape())
		}
	default:
		Panicf("InfoNCE2: unknown positives mode %s", p.Mode)
	}
}

// mask returns the `[batch_size, batch_size]` positives indicator, including the self pairs.
func (p Positives) mask(g *Graph, dtype dtypes.DType, batchSize int) *Node {
	var mask *Node
	switch p.Mode {
	case PositivesModeLabelDriven:
		labels := Reshape(p.Labels, batchSize)
		rowLabels := BroadcastToDims(InsertAxes(labels, 1), batchSize, batchSize)
		colLabels := BroadcastToDims(InsertAxes(labels, 0), batchSize, batchSize)
		mask = ConvertDType(Equal(rowLabels, colLabels), dtype)
	case PositivesModeMaskDriven:
		mask = ConvertDType(p.Mask, dtype)
	default:
		mask = ConvertDType(Diagonal(g, batchSize), dtype)
	}
	return StopGradient(mask)
}

// InfoNCE2 returns the mean negative log-likelihood contrastive loss of features, shaped
// `[batch_size, embedding_dim]`, with the positive pairs defined by positives.
//
// Similarities are the dot products divided by temperature, stabilized by subtracting the row maximum.
//   - With labels or a mask, the self pairs are removed from the positives. The denominator of each row sums
//     over its negative pairs (mask == 0) and its positive pairs: the self pair is left out of it only when
//     the mask marks it as positive.
//   - With PositivesModeDefaultSelfSupervised each sample is its own sole positive: the self similarity is
//     neutralized to 0 and the denominator runs over the whole row.
//
// The loss of each row is the negative mean log-probability over its positives, optionally multiplied by the
// temperature if scaleByTemperature is set. Rows without any positive are excluded from the final mean, and if
// no row has a positive the loss is 0.
//
// It also returns numNonFinite, the number of non-finite (NaN or Inf) log-probabilities, as a scalar of the
// features dtype. A non-zero value means the loss is not usable, and the step must be aborted or skipped:
// lossexec.Evaluator returns it as an error, and InfoNCE2FromContext can also report it with a NaN logger.
//
// It panics, before adding any operation to the graph, if positives are inconsistent: see Positives.
func InfoNCE2(features *Node, positives Positives, temperature float64, scaleByTemperature bool) (loss, numNonFinite *Node) {
	loss, numNonFinite, _ = infoNCE2Impl(features, positives, temperature, scaleByTemperature)
	return
}

func infoNCE2Impl(features *Node, positives Positives, temperature float64, scaleByTemperature bool) (loss, numNonFinite, logProbs *Node) {
	if features.Rank() != 2 {
		Panicf("InfoNCE2: features must be shaped [batch_size, embedding_dim], got %s", features.Shape())
	}
	batchSize := features.Shape().Dim(0)
	positives.validate(batchSize)

	g := features.Graph()
	dtype := features.DType()
	mask := positives.mask(g, dtype, batchSize)
	notSelf := notSelfMask(g, dtype, batchSize, batchSize)

	similarities := MatMul(features, Transpose(features, 0, 1))
	var positivesMask, denominatorMask *Node
	if positives.Mode == PositivesModeDefaultSelfSupervised {
		similarities = Mul(similarities, notSelf)
		positivesMask = mask
		denominatorMask = OnesLike(mask)
	} else {
		// Negatives (1-mask) plus positives: with labels the self pair is always positive, and so it drops out.
		positivesMask = Mul(mask, notSelf)
		denominatorMask = Add(OneMinus(mask), positivesMask)
	}

	logits := stableLogits(similarities, temperature)
	denominator := ReduceAndKeep(Mul(Exp(logits), denominatorMask), ReduceSum, -1)
	logProbs = Sub(logits, Log(AddScalar(denominator, logEpsilon)))
	numNonFinite = ReduceAllSum(ConvertDType(LogicalNot(IsFinite(logProbs)), dtype))

	numPositives := ReduceSum(positivesMask, -1)
	meanLogProbs := Div(ReduceSum(Mul(logProbs, positivesMask), -1), nonZeroOrOne(numPositives))
	rowLosses := Neg(meanLogProbs)
	if scaleByTemperature {
		rowLosses = MulScalar(rowLosses, temperature)
	}

	// Mean only over the rows with positives.
	validRows := ConvertDType(GreaterThan(numPositives, ZerosLike(numPositives)), dtype)
	loss = Div(ReduceAllSum(Mul(rowLosses, validRows)), nonZeroOrOne(ReduceAllSum(validRows)))
	return
}

// InfoNCE2FromContext calls InfoNCE2 with the temperature and scaling set by ParamInfoNCE2Temperature and
// ParamInfoNCE2ScaleByTemperature.
//
// If a Tracer (typically a *nanlogger.NanLogger) is set in ParamNanLogger, the log-probabilities are traced,
// and a NaN or Inf is reported by it when the graph is executed.
func InfoNCE2FromContext(ctx *context.Context, features *Node, positives Positives) (loss, numNonFinite *Node) {
	var logProbs *Node
	loss, numNonFinite, logProbs = infoNCE2Impl(features, positives,
		context.GetParamOr(ctx, ParamInfoNCE2Temperature, 1.0),
		context.GetParamOr(ctx, ParamInfoNCE2ScaleByTemperature, false))
	traceNonFinite(ctx, logProbs, "InfoNCE2", "log-probabilities")
	return
}
