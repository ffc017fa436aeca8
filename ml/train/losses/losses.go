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

// Package losses implements contrastive and partial-label learning losses as GoMLX graph functions:
//
//   - InfoNCE: symmetric NT-Xent loss over two augmented views of the same samples.
//   - InfoNCE2: contrastive loss with positives given by labels, by an explicit mask, or by the sample itself.
//   - SupCon: supervised contrastive loss (PiCO style) or MoCo style queue loss.
//   - ConLoss: confidence-weighted contrastive loss with pseudo-label refinement (ABLE style).
//   - PaPiLoss: confidence-weighted cross-entropy plus prototype-similarity distillation (PaPi style).
//
// All losses are built in the graph of their inputs, so they run on whatever backend the graph was created with.
// Invalid arguments (shape mismatches, contradictory options) panic during graph building, with an error
// that can be recovered with `exceptions.TryCatch[error]` -- see package lossexec for a Go-side evaluator that
// returns errors instead.
//
// Hyperparameters can be given explicitly, or read from a `*context.Context` with the `...FromContext` variants,
// using the `Param*` keys defined here.
package losses

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	gomlxlosses "github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gopjrt/dtypes"
)

const (
	// logEpsilon is added to the denominators of the contrastive losses before taking the log.
	logEpsilon = 1e-12

	// cosineEpsilon is the minimum norm used when normalizing embeddings for the cosine similarity.
	cosineEpsilon = 1e-8
)

var (
	// ParamInfoNCETemperature is the temperature used by InfoNCEFromContext. Default is 1.0.
	ParamInfoNCETemperature = "infonce_temperature"

	// ParamInfoNCE2Temperature is the temperature used by InfoNCE2FromContext. Default is 1.0.
	ParamInfoNCE2Temperature = "infonce2_temperature"

	// ParamInfoNCE2ScaleByTemperature makes InfoNCE2FromContext multiply the loss by the temperature.
	// Default is false.
	ParamInfoNCE2ScaleByTemperature = "infonce2_scale_by_temperature"

	// ParamSupConTemperature is the temperature used by SupConFromContext. Default is 0.07.
	ParamSupConTemperature = "supcon_temperature"

	// ParamSupConBaseTemperature is the base temperature used by SupConFromContext. Default is 0.07.
	ParamSupConBaseTemperature = "supcon_base_temperature"

	// ParamConLossTemperature is the temperature used by ConLossFromContext. Default is 0.1.
	ParamConLossTemperature = "conloss_temperature"

	// ParamConLossBaseTemperature is the base temperature used by ConLossFromContext. Default is 0.07.
	ParamConLossBaseTemperature = "conloss_base_temperature"

	// ParamPaPiPrototypeTemperature divides the prototype logits in PaPiLossFromContext. Default is 0.3.
	ParamPaPiPrototypeTemperature = "papi_prototype_temperature"

	// ParamPaPiCriterion selects the SimilarityCriterion used by PaPiLossFromContext, see CriterionByName.
	// Default is "kl".
	ParamPaPiCriterion = "papi_criterion"

	// ParamNanLogger holds a Tracer (which a *nanlogger.NanLogger is) used by the losses that can detect
	// non-finite intermediate values, see InfoNCE2FromContext. It is the same key used by the optimizers.
	//
	// Typical use:
	//
	//	nanLogger := nanlogger.New()
	//	ctx.SetParam(losses.ParamNanLogger, nanLogger)
	//	…
	//	nanLogger.AttachToExec(exec)
	ParamNanLogger = "nanlogger"
)

// Tracer can trace a node with a scope. Used to represent a nanlogger.NanLogger.
type Tracer interface {
	Trace(node *Node, scope ...string)
}

// traceNonFinite traces node with the Tracer configured in ParamNanLogger, if any.
func traceNonFinite(ctx *context.Context, node *Node, scope ...string) {
	tracerAny, found := ctx.GetParam(ParamNanLogger)
	if !found {
		return
	}
	tracer, ok := tracerAny.(Tracer)
	if !ok || tracer == nil {
		return
	}
	tracer.Trace(node, scope...)
}

// DefaultParams returns the default values of all the hyperparameters used by the losses.
// It can be used to populate a context, so the values can later be overwritten from the command line.
func DefaultParams() map[string]any {
	return map[string]any{
		ParamInfoNCETemperature:         1.0,
		ParamInfoNCE2Temperature:        1.0,
		ParamInfoNCE2ScaleByTemperature: false,
		ParamSupConTemperature:          0.07,
		ParamSupConBaseTemperature:      0.07,
		ParamConLossTemperature:         0.1,
		ParamConLossBaseTemperature:     0.07,
		ParamPaPiPrototypeTemperature:   0.3,
		ParamPaPiCriterion:              "kl",
	}
}

// SetDefaultParams sets in ctx all hyperparameters returned by DefaultParams.
func SetDefaultParams(ctx *context.Context) {
	for key, value := range DefaultParams() {
		ctx.SetParam(key, value)
	}
}

// epsilonForDType returns the epsilon used by GoMLX losses for dtype, as a scalar.
func epsilonForDType(g *Graph, dtype dtypes.DType) *Node {
	var epsilon float64
	switch dtype {
	case dtypes.Float64:
		epsilon = gomlxlosses.Epsilon64
	case dtypes.Float32:
		epsilon = gomlxlosses.Epsilon32
	case dtypes.Float16:
		epsilon = gomlxlosses.Epsilon16
	default:
		Panicf("Unknown epsilon value for dtype %s", dtype)
	}
	return Scalar(g, dtype, epsilon)
}

// SimilarityCriterion measures how far a predicted distribution, given as log-probabilities, is from a
// target distribution. Both are shaped `[batch_size, num_classes]`, and it returns a scalar.
//
// It is used by PaPiLoss to distill the confidence into the prototype predictions.
type SimilarityCriterion func(logProbs, target *Node) *Node

// CriterionByName returns the SimilarityCriterion for the given name: "kl" for KLDivergence or
// "cross_entropy" for SoftCrossEntropy.
func CriterionByName(name string) SimilarityCriterion {
	switch name {
	case "kl", "kl_divergence":
		return KLDivergence
	case "cross_entropy", "ce":
		return SoftCrossEntropy
	}
	Panicf("unknown similarity criterion %q, valid values are \"kl\" and \"cross_entropy\"", name)
	return nil
}

// KLDivergence returns the Kullback-Leibler divergence KL(target || exp(logProbs)), summed over the classes and
// averaged over the batch (the first axis). Entries where target is 0 contribute 0.
func KLDivergence(logProbs, target *Node) *Node {
	checkSameShape("KLDivergence", logProbs, target)
	target = ConvertDType(target, logProbs.DType())
	positive := GreaterThan(target, ZerosLike(target))
	safeTarget := Where(positive, target, OnesLike(target))
	pointwise := Where(positive, Mul(target, Sub(Log(safeTarget), logProbs)), ZerosLike(target))
	return DivScalar(ReduceAllSum(pointwise), float64(logProbs.Shape().Dim(0)))
}

// SoftCrossEntropy returns the cross-entropy of the predicted log-probabilities against a soft target
// distribution, summed over the classes and averaged over the batch.
func SoftCrossEntropy(logProbs, target *Node) *Node {
	checkSameShape("SoftCrossEntropy", logProbs, target)
	target = ConvertDType(target, logProbs.DType())
	return Neg(ReduceAllMean(ReduceSum(Mul(target, logProbs), -1)))
}

func checkSameShape(name string, logProbs, target *Node) {
	if logProbs.Rank() != 2 {
		Panicf("%s: logProbs must be shaped [batch_size, num_classes], got %s", name, logProbs.Shape())
	}
	if !logProbs.Shape().EqualDimensions(target.Shape()) {
		Panicf("%s: logProbs (%s) and target (%s) must have the same dimensions", name, logProbs.Shape(), target.Shape())
	}
}
