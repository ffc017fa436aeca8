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
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/stretchr/testify/require"
)

var supConFeatures = [][]float32{{1, 0}, {0.6, 0.8}, {0, 1}, {-0.6, 0.8}}

// Mask and weights are constants for the gradient, only the features are trained.
func TestSupConGradient(t *testing.T) {
	graphtest.RunTestGraphFn(t, "SupCon gradient", func(g *Graph) (inputs, outputs []*Node) {
		features := Const(g, supConFeatures)
		mask := Const(g, [][]float32{{1, 0, 1, 0}, {0, 1, 0, 1}})
		weights := Const(g, []float32{2, 0.5})
		loss := SupConSupervised(features, mask, weights, 2, 0.5, 0.07)
		grads := Gradient(loss, mask, weights)
		inputs = []*Node{features, mask, weights}
		outputs = grads
		return
	}, []any{
		[][]float32{{0, 0, 0, 0}, {0, 0, 0, 0}},
		[]float32{0, 0},
	}, deltaForTests)
}

func TestSupConSupervised(t *testing.T) {
	// With every pair positive the loss is the mean log-probability over all the non-self candidates.
	graphtest.RunTestGraphFn(t, "SupCon all positives", func(g *Graph) (inputs, outputs []*Node) {
		features := Const(g, supConFeatures)
		mask := OnesLike(Const(g, [][]float32{{0, 0, 0, 0}, {0, 0, 0, 0}}))
		inputs = []*Node{features}
		outputs = []*Node{SupCon(SupConModeSupervised, features, mask, nil, 2, 0.5, 0.07)}
		return
	}, []any{float32(9.6987247)}, deltaForTests)

	graphtest.RunTestGraphFn(t, "SupCon partial mask", func(g *Graph) (inputs, outputs []*Node) {
		features := Const(g, supConFeatures)
		mask := Const(g, [][]float32{{1, 0, 1, 0}, {0, 1, 0, 1}})
		ones := Const(g, []float32{1, 1})
		weights := Const(g, []float32{2, 0})
		inputs = []*Node{features, mask}
		outputs = []*Node{
			SupConSupervised(features, mask, nil, 2, 0.5, 0.07),
			SupConSupervised(features, mask, ones, 2, 0.5, 0.07),
			SupConSupervised(features, mask, weights, 2, 0.5, 0.07),
		}
		return
	}, []any{float32(11.698725), float32(11.698725), float32(10.933418)}, 1e-2)

	// The second anchor has no positives and contributes 0 to the mean.
	graphtest.RunTestGraphFn(t, "SupCon anchor without positives", func(g *Graph) (inputs, outputs []*Node) {
		features := Const(g, supConFeatures)
		mask := Const(g, [][]float32{{1, 0, 1, 0}, {0, 0, 0, 0}})
		weights := Const(g, []float32{2, 0})
		inputs = []*Node{features, mask}
		outputs = []*Node{
			MulScalar(SupConSupervised(features, mask, nil, 2, 0.5, 0.07), 2),
			SupConSupervised(features, mask, weights, 2, 0.5, 0.07),
		}
		return
	}, []any{float32(10.933418), float32(10.933418)}, 1e-2)

	graphtest.RunTestGraphFn(t, "SupConFromContext", func(g *Graph) (inputs, outputs []*Node) {
		ctx := context.New()
		ctx.SetParam(ParamSupConTemperature, 0.5)
		features := Const(g, supConFeatures)
		mask := Const(g, [][]float32{{1, 0, 1, 0}, {0, 1, 0, 1}})
		inputs = []*Node{features, mask}
		outputs = []*Node{SupConFromContext(ctx, SupConModeSupervised, features, mask, nil, 2)}
		return
	}, []any{float32(11.698725)}, 1e-2)
}

func TestSupConQueue(t *testing.T) {
	graphtest.RunTestGraphFn(t, "SupCon queue", func(g *Graph) (inputs, outputs []*Node) {
		features := Const(g, [][]float32{{1, 0}, {0, 1}, {0.6, 0.8}, {0.8, 0.6}, {-1, 0}, {0, -1}, {0.6, -0.8}})
		inputs = []*Node{features}
		outputs = []*Node{SupCon(SupConModeQueue, features, nil, nil, 2, 0.5, 0.07)}
		return
	}, []any{float32(0.5947165)}, deltaForTests)

	// Queries equal to their keys and a queue far in the opposite direction.
	graphtest.RunTestGraphFn(t, "SupCon queue easy negatives", func(g *Graph) (inputs, outputs []*Node) {
		features := Const(g, [][]float32{{1, 0}, {0, 1}, {1, 0}, {0, 1}, {-10, -10}, {-10, -10}})
		inputs = []*Node{features}
		outputs = []*Node{SupConQueue(features, 2, 0.1)}
		return
	}, []any{float32(0)}, deltaForTests)

	graphtest.RunTestGraphFn(t, "SupCon empty queue", func(g *Graph) (inputs, outputs []*Node) {
		features := Const(g, [][]float32{{1, 0}, {0, 1}, {0.6, 0.8}, {0.8, 0.6}})
		inputs = []*Node{features}
		outputs = []*Node{SupConQueue(features, 2, 0.5)}
		return
	}, []any{float32(0)}, deltaForTests)
}

func TestSupConRejections(t *testing.T) {
	g := NewGraph(graphtest.BuildTestBackend(), t.Name())
	features := Const(g, supConFeatures)
	mask := Const(g, [][]float32{{1, 0, 1, 0}, {0, 1, 0, 1}})
	require.Panics(t, func() { _ = SupCon(SupConModeSupervised, features, nil, nil, 2, 0.5, 0.07) }, "missing mask")
	require.Panics(t, func() { _ = SupCon(SupConModeQueue, features, mask, nil, 2, 0.5, 0.07) }, "queue with mask")
	require.Panics(t, func() { _ = SupConSupervised(features, mask, nil, 3, 0.5, 0.07) }, "wrong mask shape")
	require.Panics(t, func() { _ = SupConQueue(features, 3, 0.5) }, "not enough rows for keys")
	require.Panics(t, func() { _ = SupCon(SupConMode(7), features, mask, nil, 2, 0.5, 0.07) }, "unknown mode")
}
