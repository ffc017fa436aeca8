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

package confidence

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/gomlx/contrastive/ml/train/losses"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func newTestStore(t *testing.T, ctx *context.Context) *Store {
	initial := tensors.FromValue([][]float32{
		{0.5, 0.5, 0},
		{0, 0.5, 0.5},
		{1.0 / 3, 1.0 / 3, 1.0 / 3},
		{1, 0, 0},
	})
	store, err := New(ctx, initial)
	require.NoError(t, err)
	require.Equal(t, 4, store.NumSamples())
	require.Equal(t, 3, store.NumClasses())
	return store
}

func TestNew(t *testing.T) {
	_, err := New(context.New(), tensors.FromValue([]float32{1, 2}))
	require.ErrorIs(t, err, ErrShapeMismatch)
	_, err = New(context.New(), tensors.FromValue([][]int32{{1, 2}}))
	require.ErrorIs(t, err, ErrShapeMismatch)

	store := newTestStore(t, context.New())
	require.False(t, store.Variable().Trainable)
}

func TestUpdate(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	store := newTestStore(t, context.New())
	maxChange, err := store.Update(backend,
		tensors.FromValue([]int32{2, 0}),
		tensors.FromValue([][]float32{{0, 1, 0}, {0.25, 0.75, 0}}))
	require.NoError(t, err)
	require.InDelta(t, 2.0/3, maxChange, 1e-4)
	require.InDeltaSlice(t, []float32{
		0.25, 0.75, 0,
		0, 0.5, 0.5,
		0, 1, 0,
		1, 0, 0,
	}, tensors.CopyFlatData[float32](store.Values()), 1e-5)

	_, err = store.Update(backend, tensors.FromValue([]int32{0}), tensors.FromValue([][]float32{{1, 0}}))
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestUpdateWithMomentum(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.SetParam(ParamMomentum, 0.75)
	store := newTestStore(t, ctx)
	_, err := store.Update(backend, tensors.FromValue([]int32{3}), tensors.FromValue([][]float32{{0, 0, 1}}))
	require.NoError(t, err)
	values := tensors.CopyFlatData[float32](store.Values())
	require.InDeltaSlice(t, []float32{0.75, 0, 0.25}, values[9:], 1e-5)
}

// TestConLossFeedback closes the pseudo-labeling loop: the targets of ConLoss are written back to the store in
// the same graph, and a second pass with the same outputs leaves the store unchanged.
func TestConLossFeedback(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	losses.SetDefaultParams(ctx)
	store := newTestStore(t, ctx)
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, inputs []*Node) []*Node {
		index, outputs, features, candidates := inputs[0], inputs[1], inputs[2], inputs[3]
		loss, newTarget := losses.ConLossFromContext(ctx, store.ValueGraph(index.Graph()), index,
			outputs, features, candidates)
		maxChange := store.UpdateGraph(ctx, index, newTarget)
		return []*Node{loss, maxChange, store.Gather(index)}
	})
	index := tensors.FromValue([]int32{0, 1, 2})
	outputs := tensors.FromValue([][]float32{{2, 1, 0}, {0, 0.5, 1.5}, {0.1, 3, 0.2}})
	features := tensors.FromValue([][][]float32{
		{{1, 0}, {0.8, 0.6}},
		{{0, 1}, {0.6, 0.8}},
		{{0.6, 0.8}, {0, 1}},
	})
	candidates := tensors.FromValue([][]float32{{1, 1, 0}, {0, 1, 1}, {1, 1, 1}})

	results := exec.Call(index, outputs, features, candidates)
	require.InDelta(t, float32(5.932076), tensors.ToScalar[float32](results[0]), 1e-3)
	require.Greater(t, tensors.ToScalar[float32](results[1]), float32(0.1))

	results = exec.Call(index, outputs, features, candidates)
	require.InDelta(t, float32(0), tensors.ToScalar[float32](results[1]), 1e-5)
	require.InDeltaSlice(t, []float32{0.7310586, 0.26894143, 0},
		tensors.CopyFlatData[float32](results[2])[:3], 1e-4)

	// The sample out of the batch is untouched.
	values := tensors.CopyFlatData[float32](store.Values())
	require.InDeltaSlice(t, []float32{1, 0, 0}, values[9:], 1e-6)
}

func TestSnapshot(t *testing.T) {
	store := newTestStore(t, context.New())
	var buf bytes.Buffer
	require.NoError(t, store.Save(&buf))

	other, err := New(context.New(), tensors.FromValue([][]float32{{0, 0, 0}, {0, 0, 0}, {0, 0, 0}, {0, 0, 0}}))
	require.NoError(t, err)
	require.NoError(t, other.Load(bytes.NewReader(buf.Bytes())))
	require.Equal(t, tensors.CopyFlatData[float32](store.Values()), tensors.CopyFlatData[float32](other.Values()))

	filePath := filepath.Join(t.TempDir(), "confidence.zst")
	require.NoError(t, store.SaveFile(filePath))
	require.NoError(t, other.LoadFile(filePath))

	small, err := New(context.New(), tensors.FromValue([][]float32{{1, 0}}))
	require.NoError(t, err)
	require.ErrorIs(t, small.Load(bytes.NewReader(buf.Bytes())), ErrShapeMismatch)
	require.Error(t, small.Load(bytes.NewReader([]byte("not a snapshot"))))
}
