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

// Package confidence implements the confidence store used by partial-label learning losses: a per-sample
// distribution over the classes, shaped `[num_samples, num_classes]`, refined during training.
//
// The values are kept in a non-trainable variable of a context, so they can be read (Store.Gather) and
// written back (Store.UpdateGraph) inside the same graph that computes the loss, or updated from Go with
// Store.Update.
package confidence

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// Scope is the context scope where the store variable is created.
	Scope = "confidence"

	// VariableName is the name of the variable holding the confidence values.
	VariableName = "values"
)

// ParamMomentum is the weight of the previous confidence when updating the store:
// `new = momentum*old + (1-momentum)*target`. Default is 0, that is, the target overwrites the old value.
var ParamMomentum = "confidence_momentum"

// ErrShapeMismatch is returned when values given to the store don't match its shape.
var ErrShapeMismatch = errors.New("confidence store shape mismatch")

// Store holds the confidence of each sample in a context variable.
// It is not safe for concurrent updates.
type Store struct {
	ctx                    *context.Context
	variable               *context.Variable
	numSamples, numClasses int

	updateBackend backends.Backend
	updateExec    *context.Exec
}

// New creates a Store in the Scope of ctx, initialized with initial, shaped `[num_samples, num_classes]`.
// See partiallabels.Set.UniformConfidence to create the usual initial values.
func New(ctx *context.Context, initial *tensors.Tensor) (*Store, error) {
	if initial == nil || initial.Shape().Rank() != 2 {
		return nil, errors.Wrap(ErrShapeMismatch, "initial confidence must be shaped [num_samples, num_classes]")
	}
	if !initial.DType().IsFloat() {
		return nil, errors.Wrapf(ErrShapeMismatch, "initial confidence must be a float, got %s", initial.DType())
	}
	s := &Store{
		ctx:        ctx.In(Scope),
		numSamples: initial.Shape().Dim(0),
		numClasses: initial.Shape().Dim(1),
	}
	err := exceptions.TryCatch[error](func() {
		s.variable = s.ctx.VariableWithValue(VariableName, initial).SetTrainable(false)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create confidence variable")
	}
	klog.V(1).Infof("confidence: created store %s", initial.Shape())
	return s, nil
}

// NumSamples is the number of rows of the store.
func (s *Store) NumSamples() int { return s.numSamples }

// NumClasses is the number of columns of the store.
func (s *Store) NumClasses() int { return s.numClasses }

// Variable returns the context variable holding the confidence.
func (s *Store) Variable() *context.Variable { return s.variable }

// ValueGraph returns the whole store as a node in g.
func (s *Store) ValueGraph(g *Graph) *Node {
	return s.variable.ValueGraph(g)
}

// Gather returns the confidence of the samples in index, shaped `[batch_size, num_classes]`.
// index is an integer tensor shaped `[batch_size]`.
func (s *Store) Gather(index *Node) *Node {
	batchSize := index.Shape().Size()
	return Gather(s.ValueGraph(index.Graph()), Reshape(index, batchSize, 1))
}

// UpdateGraph writes target, shaped `[batch_size, num_classes]`, into the rows of the store given by index,
// mixing with the previous values according to ParamMomentum (read from ctx).
// index must not have repeated values. The new values are only visible after the graph is executed.
//
// It returns the largest absolute change of any confidence value, a scalar.
func (s *Store) UpdateGraph(ctx *context.Context, index, target *Node) (maxChange *Node) {
	batchSize := index.Shape().Size()
	if target.Rank() != 2 || target.Shape().Dim(0) != batchSize || target.Shape().Dim(1) != s.numClasses {
		exceptions.Panicf("confidence: target must be shaped [batch_size=%d, num_classes=%d], got %s",
			batchSize, s.numClasses, target.Shape())
	}
	momentum := context.GetParamOr(ctx, ParamMomentum, 0.0)
	if momentum < 0 || momentum >= 1 {
		exceptions.Panicf("confidence: %s=%g must be in the range [0, 1)", ParamMomentum, momentum)
	}
	g := index.Graph()
	values := s.ValueGraph(g)
	indices := Reshape(index, batchSize, 1)
	previous := Gather(values, indices)
	target = StopGradient(ConvertDType(target, values.DType()))
	delta := MulScalar(Sub(target, previous), 1-momentum)
	s.variable.SetValueGraph(ScatterSum(values, indices, delta, false, true))
	return ReduceAllMax(Abs(delta))
}

// Update writes targets (`[batch_size, num_classes]`) into the rows given by indices (`[batch_size]`), executing
// UpdateGraph on backend. It returns the largest absolute change of any confidence value.
//
// The update graph is compiled on the first call (and again if the backend changes), so the momentum is the
// one set at that time.
func (s *Store) Update(backend backends.Backend, indices, targets *tensors.Tensor) (maxChange float64, err error) {
	if indices == nil || targets == nil {
		return 0, errors.Wrap(ErrShapeMismatch, "indices and targets must be given")
	}
	batchSize := indices.Shape().Size()
	if err = targets.Shape().CheckDims(batchSize, s.numClasses); err != nil {
		return 0, errors.Wrapf(ErrShapeMismatch, "targets must be shaped [batch_size=%d, num_classes=%d], got %s",
			batchSize, s.numClasses, targets.Shape())
	}
	err = exceptions.TryCatch[error](func() {
		if s.updateExec == nil || s.updateBackend != backend {
			s.updateBackend = backend
			s.updateExec = context.NewExec(backend, s.ctx, func(ctx *context.Context, index, target *Node) *Node {
				return ConvertDType(s.UpdateGraph(ctx, index, target), dtypes.Float64)
			})
		}
		maxChange = tensors.ToScalar[float64](s.updateExec.Call(indices, targets)[0])
	})
	if err != nil {
		return 0, errors.WithMessagef(err, "failed to update confidence of %d samples", batchSize)
	}
	klog.V(1).Infof("confidence: updated %d rows, max change %g", batchSize, maxChange)
	return maxChange, nil
}

// Values returns the current confidence, shaped `[num_samples, num_classes]`.
func (s *Store) Values() *tensors.Tensor {
	return s.variable.Value()
}

// SetValues replaces the whole confidence.
func (s *Store) SetValues(values *tensors.Tensor) error {
	if values == nil {
		return errors.Wrap(ErrShapeMismatch, "values must be given")
	}
	if !values.Shape().Equal(s.variable.Shape()) {
		return errors.Wrapf(ErrShapeMismatch, "values shaped %s, store shaped %s", values.Shape(), s.variable.Shape())
	}
	s.variable.SetValue(values)
	return nil
}
