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

// InfoNCE returns the symmetric normalized temperature-scaled cross-entropy (NT-Xent) between two views
// zi and zj of the same batch of samples, both shaped `[batch_size, embedding_dim]`.
//
// The 2*batch_size embeddings are compared with cosine similarity. For each of them the positive is the other
// view of the same sample, and the denominator sums over all the other 2*batch_size-1 embeddings. The
// returned scalar is the mean over the 2*batch_size rows.
//
// The temperature divides the similarities before the exponentiation: smaller values sharpen the distribution.
// A temperature of 0 produces Inf/NaN values, there is no guard for it.
func InfoNCE(zi, zj *Node, temperature float64) *Node {
	if zi.Rank() != 2 {
		Panicf("InfoNCE: zi must be shaped [batch_size, embedding_dim], got %s", zi.Shape())
	}
	if !zi.Shape().Equal(zj.Shape()) {
		Panicf("InfoNCE: zi (%s) and zj (%s) must have the same shape", zi.Shape(), zj.Shape())
	}
	g := zi.Graph()
	dtype := zi.DType()
	batchSize := zi.Shape().Dim(0)

	normalizedI := L2NormalizeWithEpsilon(zi, cosineEpsilon, 1)
	normalizedJ := L2NormalizeWithEpsilon(zj, cosineEpsilon, 1)
	z := Concatenate([]*Node{normalizedI, normalizedJ}, 0)
	similarity := MatMul(z, Transpose(z, 0, 1))

	// Row i is paired with row i+batch_size and vice-versa: both get the same cosine similarity.
	pairSimilarity := ReduceSum(Mul(normalizedI, normalizedJ), -1)
	positives := Concatenate([]*Node{pairSimilarity, pairSimilarity}, 0)

	numerator := Exp(DivScalar(positives, temperature))
	mask := notSelfMask(g, dtype, 2*batchSize, 2*batchSize)
	denominator := ReduceSum(Mul(mask, Exp(DivScalar(similarity, temperature))), -1)
	losses := Neg(Log(Div(numerator, denominator)))
	return ReduceAllMean(losses)
}

// InfoNCEFromContext calls InfoNCE with the temperature set by ParamInfoNCETemperature.
func InfoNCEFromContext(ctx *context.Context, zi, zj *Node) *Node {
	return InfoNCE(zi, zj, context.GetParamOr(ctx, ParamInfoNCETemperature, 1.0))
}
