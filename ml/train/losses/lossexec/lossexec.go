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

// Package lossexec evaluates the losses of package losses on concrete tensors, returning errors instead of panicking.
//
// The backend is given explicitly to New, and the hyperparameters are read from the given context
// (see the losses.Param* keys). Graphs are compiled on first use and cached per loss, mode and input shapes.
// Hyperparameters are read when a graph is compiled, so changing them after the first call of a loss has no effect
// on that Evaluator.
//
// An Evaluator is not safe for concurrent use.
package lossexec

import (
	"fmt"

	"github.com/gomlx/contrastive/ml/train/losses"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrNonFinite is returned when a loss produced NaN or Inf values. The training step should be aborted.
	ErrNonFinite = errors.New("non-finite values in loss")

	// ErrContract is returned when the inputs violate the contract of a loss: contradictory options or
	// mismatching shapes. Failures while executing an already built graph are not wrapped with it.
	ErrContract = errors.New("invalid loss inputs")
)

// Evaluator compiles and executes the losses on a backend.
type Evaluator struct {
	backend backends.Backend
	ctx     *context.Context
	execs   map[string]*context.Exec

	onExecCreation []func(exec *context.Exec)

	// buildErr is set if the graph building of the current call panicked.
	buildErr error
}

// New creates an Evaluator that runs on backend, reading the hyperparameters from ctx.
// If ctx is nil, a new context with the default hyperparameters (losses.DefaultParams) is used.
func New(backend backends.Backend, ctx *context.Context) *Evaluator {
	if ctx == nil {
		ctx = context.New()
		losses.SetDefaultParams(ctx)
	}
	return &Evaluator{
		backend: backend,
		ctx:     ctx,
		execs:   make(map[string]*context.Exec),
	}
}

// Context returns the context holding the hyperparameters used by the Evaluator.
func (e *Evaluator) Context() *context.Context { return e.ctx }

// OnExecCreation registers fn to be called with every executor the Evaluator creates, before it is first used.
// E.g.: to attach a nanlogger.NanLogger also set in the context with losses.ParamNanLogger.
func (e *Evaluator) OnExecCreation(fn func(exec *context.Exec)) {
	e.onExecCreation = append(e.onExecCreation, fn)
}

// exec returns the cached executor for key, or creates one with graphFn.
func (e *Evaluator) exec(key string, graphFn func(ctx *context.Context, inputs []*Node) []*Node) *context.Exec {
	if exec, found := e.execs[key]; found {
		return exec
	}
	klog.V(1).Infof("lossexec: creating executor for %q", key)
	exec := context.NewExec(e.backend, e.ctx, func(ctx *context.Context, inputs []*Node) (outputs []*Node) {
		err := exceptions.TryCatch[error](func() { outputs = graphFn(ctx, inputs) })
		if err != nil {
			e.buildErr = err
			panic(err)
		}
		return
	})
	for _, fn := range e.onExecCreation {
		fn(exec)
	}
	e.execs[key] = exec
	return exec
}

// call executes the loss identified by key, converting panics during graph building or execution to errors.
func (e *Evaluator) call(key string, graphFn func(ctx *context.Context, inputs []*Node) []*Node,
	inputs ...*tensors.Tensor) (outputs []*tensors.Tensor, err error) {
	args := make([]any, len(inputs))
	for ii, input := range inputs {
		args[ii] = input
	}
	e.buildErr = nil
	err = exceptions.TryCatch[error](func() {
		outputs = e.exec(key, graphFn).Call(args...)
	})
	if err != nil {
		return nil, callError(key, e.buildErr, err)
	}
	return outputs, nil
}

// callError classifies the error of a call: buildErr, if set, is a contract violation found while building the
// graph, anything else failed during execution.
func callError(key string, buildErr, err error) error {
	if buildErr != nil {
		return errors.Wrapf(ErrContract, "%s: %v", key, buildErr)
	}
	return errors.WithMessagef(err, "%s: failed to execute", key)
}

// scalar converts a loss to float64: all the losses are computed in the dtype of their inputs.
func scalar(x *Node) *Node {
	return ConvertDType(x, dtypes.Float64)
}

// InfoNCE evaluates losses.InfoNCEFromContext on the two views zi and zj, both shaped `[batch_size, embedding_dim]`.
func (e *Evaluator) InfoNCE(zi, zj *tensors.Tensor) (float64, error) {
	if zi == nil || zj == nil {
		return 0, errors.Wrap(ErrContract, "InfoNCE: zi and zj must be given")
	}
	if !zi.Shape().Equal(zj.Shape()) {
		return 0, errors.Wrapf(ErrContract, "InfoNCE: zi (%s) and zj (%s) must have the same shape", zi.Shape(), zj.Shape())
	}
	outputs, err := e.call("InfoNCE", func(ctx *context.Context, inputs []*Node) []*Node {
		return []*Node{scalar(losses.InfoNCEFromContext(ctx, inputs[0], inputs[1]))}
	}, zi, zj)
	if err != nil {
		return 0, err
	}
	return tensors.ToScalar[float64](outputs[0]), nil
}

// InfoNCE2 evaluates losses.InfoNCE2FromContext on features, shaped `[batch_size, embedding_dim]`.
//
// The positives are given by labels (`[batch_size]`), or by mask (`[batch_size, batch_size]`), or by each
// sample itself if both are nil. Giving both returns ErrContract, without compiling anything.
// If any log-probability is NaN or Inf it returns ErrNonFinite.
func (e *Evaluator) InfoNCE2(features, labels, mask *tensors.Tensor) (float64, error) {
	if features == nil {
		return 0, errors.Wrap(ErrContract, "InfoNCE2: features must be given")
	}
	if labels != nil && mask != nil {
		return 0, errors.Wrap(ErrContract, "InfoNCE2: cannot define both labels and mask")
	}
	if features.Shape().Rank() != 2 {
		return 0, errors.Wrapf(ErrContract, "InfoNCE2: features must be shaped [batch_size, embedding_dim], got %s",
			features.Shape())
	}
	batchSize := features.Shape().Dim(0)
	mode := losses.PositivesModeDefaultSelfSupervised
	inputs := []*tensors.Tensor{features}
	switch {
	case labels != nil:
		if labels.Shape().Size() != batchSize {
			return 0, errors.Wrapf(ErrContract, "InfoNCE2: number of labels (%d) does not match number of features (%d)",
				labels.Shape().Size(), batchSize)
		}
		mode = losses.PositivesModeLabelDriven
		inputs = append(inputs, labels)
	case mask != nil:
		mode = losses.PositivesModeMaskDriven
		inputs = append(inputs, mask)
	}
	klog.V(1).Infof("lossexec: InfoNCE2(features=%s, mode=%s)", features.Shape(), mode)

	outputs, err := e.call("InfoNCE2/"+mode.String(), func(ctx *context.Context, nodes []*Node) []*Node {
		var positives losses.Positives
		switch mode {
		case losses.PositivesModeLabelDriven:
			positives = losses.LabelPositives(nodes[1])
		case losses.PositivesModeMaskDriven:
			positives = losses.MaskPositives(nodes[1])
		default:
			positives = losses.SelfPositives()
		}
		loss, numNonFinite := losses.InfoNCE2FromContext(ctx, nodes[0], positives)
		return []*Node{scalar(loss), scalar(numNonFinite)}
	}, inputs...)
	if err != nil {
		return 0, err
	}
	if numNonFinite := tensors.ToScalar[float64](outputs[1]); numNonFinite > 0 {
		return 0, errors.Wrapf(ErrNonFinite, "InfoNCE2: %d non-finite log-probabilities", int(numNonFinite))
	}
	return tensors.ToScalar[float64](outputs[0]), nil
}

// SupCon evaluates losses.SupConFromContext. In losses.SupConModeQueue mode mask and weights must be nil.
// In losses.SupConModeSupervised mode weights can be nil.
func (e *Evaluator) SupCon(mode losses.SupConMode, features, mask, weights *tensors.Tensor, batchSize int) (float64, error) {
	if features == nil {
		return 0, errors.Wrap(ErrContract, "SupCon: features must be given")
	}
	inputs := []*tensors.Tensor{features}
	switch mode {
	case losses.SupConModeSupervised:
		if mask == nil {
			return 0, errors.Wrapf(ErrContract, "SupCon: mode %s requires a mask", mode)
		}
		inputs = append(inputs, mask)
		if weights != nil {
			inputs = append(inputs, weights)
		}
	case losses.SupConModeQueue:
		if mask != nil || weights != nil {
			return 0, errors.Wrapf(ErrContract, "SupCon: mode %s takes no mask or weights", mode)
		}
	default:
		return 0, errors.Wrapf(ErrContract, "SupCon: unknown mode %s", mode)
	}
	key := fmt.Sprintf("SupCon/%s/batch_size=%d/weighted=%v", mode, batchSize, weights != nil)
	outputs, err := e.call(key, func(ctx *context.Context, nodes []*Node) []*Node {
		var maskNode, weightsNode *Node
		if len(nodes) > 1 {
			maskNode = nodes[1]
		}
		if len(nodes) > 2 {
			weightsNode = nodes[2]
		}
		return []*Node{scalar(losses.SupConFromContext(ctx, mode, nodes[0], maskNode, weightsNode, batchSize))}
	}, inputs...)
	if err != nil {
		return 0, err
	}
	return tensors.ToScalar[float64](outputs[0]), nil
}

// ConLoss evaluates losses.ConLossFromContext, and returns the loss and the refined confidence target
// (shaped `[batch_size, num_classes]`) to be written back to the confidence store.
func (e *Evaluator) ConLoss(confidence, index, outputs, features, candidates *tensors.Tensor) (float64, *tensors.Tensor, error) {
	for _, t := range []*tensors.Tensor{confidence, index, outputs, features, candidates} {
		if t == nil {
			return 0, nil, errors.Wrap(ErrContract, "ConLoss: all inputs must be given")
		}
	}
	results, err := e.call("ConLoss", func(ctx *context.Context, nodes []*Node) []*Node {
		loss, newTarget := losses.ConLossFromContext(ctx, nodes[0], nodes[1], nodes[2], nodes[3], nodes[4])
		numNonFinite := ReduceAllSum(ConvertDType(LogicalNot(IsFinite(loss)), dtypes.Float64))
		return []*Node{scalar(loss), newTarget, numNonFinite}
	}, confidence, index, outputs, features, candidates)
	if err != nil {
		return 0, nil, err
	}
	if tensors.ToScalar[float64](results[2]) > 0 {
		return 0, nil, errors.Wrap(ErrNonFinite, "ConLoss")
	}
	return tensors.ToScalar[float64](results[0]), results[1], nil
}

// PaPi evaluates losses.PaPiLossFromContext with the mixup coefficient lambda, and returns its two terms.
func (e *Evaluator) PaPi(clsLogits, protLogits1, protLogits2, confidence, index, idxRP *tensors.Tensor, lambda float64) (clsLoss, simLoss float64, err error) {
	for _, t := range []*tensors.Tensor{clsLogits, protLogits1, protLogits2, confidence, index, idxRP} {
		if t == nil {
			return 0, 0, errors.Wrap(ErrContract, "PaPi: all inputs must be given")
		}
	}
	var results []*tensors.Tensor
	results, err = e.call("PaPi", func(ctx *context.Context, nodes []*Node) []*Node {
		cls, sim := losses.PaPiLossFromContext(ctx, nodes[0], nodes[1], nodes[2], nodes[3], nodes[4], nodes[5], nodes[6])
		return []*Node{scalar(cls), scalar(sim)}
	}, clsLogits, protLogits1, protLogits2, confidence, index, idxRP, tensors.FromAnyValue(lambda))
	if err != nil {
		return
	}
	return tensors.ToScalar[float64](results[0]), tensors.ToScalar[float64](results[1]), nil
}
