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

package lossexec

import (
	"math"
	"testing"

	"github.com/gomlx/contrastive/ml/train/losses"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func newEvaluator(t *testing.T, params map[string]any) *Evaluator {
	ctx := context.New()
	losses.SetDefaultParams(ctx)
	for key, value := range params {
		ctx.SetParam(key, value)
	}
	e := New(graphtest.BuildTestBackend(), ctx)
	require.NotNil(t, e)
	return e
}

func TestInfoNCE(t *testing.T) {
	e := newEvaluator(t, map[string]any{losses.ParamInfoNCETemperature: 0.5})
	zi := tensors.FromValue([][]float32{{1, 0}, {0, 1}, {1, 1}})
	zj := tensors.FromValue([][]float32{{1, 0.5}, {0.2, 1}, {1, -1}})
	loss, err := e.InfoNCE(zi, zj)
	require.NoError(t, err)
	require.InDelta(t, 1.4962334, loss, 1e-3)

	// Second call reuses the compiled graph.
	loss, err = e.InfoNCE(zi, zj)
	require.NoError(t, err)
	require.InDelta(t, 1.4962334, loss, 1e-3)

	_, err = e.InfoNCE(zi, tensors.FromValue([][]float32{{1, 0}}))
	require.ErrorIs(t, err, ErrContract)
}

func TestInfoNCE2(t *testing.T) {
	e := newEvaluator(t, map[string]any{losses.ParamInfoNCE2Temperature: 0.5})
	features := tensors.FromValue([][]float32{{1, 0}, {0.8, 0.6}, {0, 1}, {-1, 0}})
	labels := tensors.FromValue([]int32{0, 0, 1, 1})
	mask := tensors.FromValue([][]float32{{1, 1, 0, 0}, {1, 1, 0, 0}, {0, 0, 1, 1}, {0, 0, 1, 1}})

	loss, err := e.InfoNCE2(features, labels, nil)
	require.NoError(t, err)
	require.InDelta(t, 0.67640076, loss, 1e-3)

	loss, err = e.InfoNCE2(features, nil, mask)
	require.NoError(t, err)
	require.InDelta(t, 0.67640076, loss, 1e-3)

	_, err = e.InfoNCE2(features, labels, mask)
	require.ErrorIs(t, err, ErrContract)

	_, err = e.InfoNCE2(features, tensors.FromValue([]int32{0, 0, 1}), nil)
	require.ErrorIs(t, err, ErrContract)

	// Wrong mask shape is only detected while building the graph.
	_, err = e.InfoNCE2(features, nil, tensors.FromValue([][]float32{{1, 0}, {0, 1}}))
	require.ErrorIs(t, err, ErrContract)

	// Pairs mask without self pairs: self is a negative, and it is part of the denominator.
	pairs := tensors.FromValue([][]float32{{0, 1, 0, 0}, {1, 0, 0, 0}, {0, 0, 0, 1}, {0, 0, 1, 0}})
	loss, err = e.InfoNCE2(features, nil, pairs)
	require.NoError(t, err)
	require.InDelta(t, 1.7184347, loss, 1e-3)

	nan := float32(math.NaN())
	_, err = e.InfoNCE2(tensors.FromValue([][]float32{{nan, 0}, {0, 1}}), nil, nil)
	require.ErrorIs(t, err, ErrNonFinite)
	require.False(t, errors.Is(err, ErrContract))
}

// countingTracer implements losses.Tracer, counting the traced nodes per scope.
type countingTracer struct {
	scopes map[string]int
}

func (c *countingTracer) Trace(_ *Node, scope ...string) {
	if len(scope) > 0 {
		c.scopes[scope[0]]++
	}
}

func TestOnExecCreationAndTracer(t *testing.T) {
	tracer := &countingTracer{scopes: make(map[string]int)}
	e := newEvaluator(t, map[string]any{losses.ParamNanLogger: tracer})
	var numExecs int
	e.OnExecCreation(func(exec *context.Exec) {
		require.NotNil(t, exec)
		numExecs++
	})
	features := tensors.FromValue([][]float32{{1, 0}, {0, 1}})
	for range 2 {
		_, err := e.InfoNCE2(features, nil, nil)
		require.NoError(t, err)
	}
	_, err := e.InfoNCE2(features, tensors.FromValue([]int32{0, 0}), nil)
	require.NoError(t, err)
	require.Equal(t, 2, numExecs, "one executor per positives mode")
	require.Equal(t, 2, tracer.scopes["InfoNCE2"], "log-probabilities traced once per compiled graph")
}

func TestCallError(t *testing.T) {
	runtimeErr := errors.New("device out of memory")
	err := callError("SupCon", nil, runtimeErr)
	require.ErrorIs(t, err, runtimeErr)
	require.False(t, errors.Is(err, ErrContract))
	require.Contains(t, err.Error(), "SupCon: failed to execute")

	buildErr := errors.New("mask must be shaped [2, 4]")
	err = callError("SupCon", buildErr, errors.WithMessage(buildErr, "building graph"))
	require.ErrorIs(t, err, ErrContract)
	require.Contains(t, err.Error(), "mask must be shaped")
}

func TestInfoNCE2SelfSupervised(t *testing.T) {
	e := newEvaluator(t, nil)
	loss, err := e.InfoNCE2(tensors.FromValue([][]float64{{1, 0}, {0, 1}}), nil, nil)
	require.NoError(t, err)
	require.InDelta(t, math.Log(2), loss, 1e-6)
}

func TestSupCon(t *testing.T) {
	e := newEvaluator(t, map[string]any{losses.ParamSupConTemperature: 0.5})
	features := tensors.FromValue([][]float32{{1, 0}, {0.6, 0.8}, {0, 1}, {-0.6, 0.8}})
	mask := tensors.FromValue([][]float32{{1, 0, 1, 0}, {0, 1, 0, 1}})
	loss, err := e.SupCon(losses.SupConModeSupervised, features, mask, nil, 2)
	require.NoError(t, err)
	require.InDelta(t, 11.698725, loss, 1e-2)

	loss, err = e.SupCon(losses.SupConModeSupervised, features, mask, tensors.FromValue([]float32{2, 0}), 2)
	require.NoError(t, err)
	require.InDelta(t, 10.933418, loss, 1e-2)

	_, err = e.SupCon(losses.SupConModeQueue, features, mask, nil, 2)
	require.ErrorIs(t, err, ErrContract)

	queue := tensors.FromValue([][]float32{{1, 0}, {0, 1}, {0.6, 0.8}, {0.8, 0.6}, {-1, 0}, {0, -1}, {0.6, -0.8}})
	loss, err = e.SupCon(losses.SupConModeQueue, queue, nil, nil, 2)
	require.NoError(t, err)
	require.InDelta(t, 0.5947165, loss, 1e-3)
}

func TestConLoss(t *testing.T) {
	e := newEvaluator(t, nil)
	confidence := tensors.FromValue([][]float32{{0.5, 0.5, 0}, {0, 0.5, 0.5}, {1.0 / 3, 1.0 / 3, 1.0 / 3}})
	index := tensors.FromValue([]int32{0, 1, 2})
	outputs := tensors.FromValue([][]float32{{2, 1, 0}, {0, 0.5, 1.5}, {0.1, 3, 0.2}})
	features := tensors.FromValue([][][]float32{
		{{1, 0}, {0.8, 0.6}},
		{{0, 1}, {0.6, 0.8}},
		{{0.6, 0.8}, {0, 1}},
	})
	candidates := tensors.FromValue([][]float32{{1, 1, 0}, {0, 1, 1}, {1, 1, 1}})
	loss, newTarget, err := e.ConLoss(confidence, index, outputs, features, candidates)
	require.NoError(t, err)
	require.InDelta(t, 5.932076, loss, 1e-3)
	require.Equal(t, []int{3, 3}, newTarget.Shape().Dimensions)
	target := tensors.CopyFlatData[float32](newTarget)
	require.InDeltaSlice(t, []float32{0.7310586, 0.26894143, 0}, target[:3], 1e-3)

	_, _, err = e.ConLoss(confidence, nil, outputs, features, candidates)
	require.ErrorIs(t, err, ErrContract)
}

func TestPaPi(t *testing.T) {
	e := newEvaluator(t, nil)
	clsLoss, simLoss, err := e.PaPi(
		tensors.FromValue([][]float32{{1, 0}, {0.2, 0.4}}),
		tensors.FromValue([][]float32{{0.5, -0.5}, {0.1, 0.3}}),
		tensors.FromValue([][]float32{{0, 0.3}, {1, 1}}),
		tensors.FromValue([][]float32{{0.9, 0.1}, {0.2, 0.8}, {0.5, 0.5}}),
		tensors.FromValue([]int32{2, 0}),
		tensors.FromValue([]int32{1, 0}),
		0.3)
	require.NoError(t, err)
	require.InDelta(t, 0.7957003, clsLoss, 1e-3)
	require.InDelta(t, 0.67301886, simLoss, 1e-3)
}
