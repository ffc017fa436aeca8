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
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

//go:generate go tool enumer -type=PositivesMode -trimprefix=PositivesMode -transform=snake -values -text -json -yaml modes.go
//go:generate go tool enumer -type=SupConMode -trimprefix=SupConMode -transform=snake -values -text -json -yaml modes.go

// PositivesMode selects how InfoNCE2 defines the positive pairs of each anchor.
type PositivesMode int

const (
	// PositivesModeDefaultSelfSupervised makes each sample its own sole positive.
	PositivesModeDefaultSelfSupervised PositivesMode = iota

	// PositivesModeLabelDriven makes positives the other samples with the same label.
	PositivesModeLabelDriven

	// PositivesModeMaskDriven takes the positives from an explicit `[batch_size, batch_size]` mask.
	PositivesModeMaskDriven
)

// SupConMode selects the variant of the SupCon loss.
type SupConMode int

const (
	// SupConModeSupervised is the supervised contrastive loss with a caller provided positive mask.
	SupConModeSupervised SupConMode = iota

	// SupConModeQueue is the MoCo loss: queries, keys and a queue of negatives.
	SupConModeQueue
)

// stableLogits divides the similarities by the temperature and subtracts the row maximum.
// The maximum is a constant for the gradient: it doesn't change the softmax.
func stableLogits(similarities *Node, temperature float64) *Node {
	logits := DivScalar(similarities, temperature)
	return Sub(logits, StopGradient(ReduceAndKeep(logits, ReduceMax, -1)))
}

// notSelfMask returns a `[rows, cols]` mask of the given dtype, with 0 at the positions (i, i) and 1 elsewhere.
// It works for non-square matrices, where only the first `rows` columns have a "self" entry.
func notSelfMask(g *Graph, dtype dtypes.DType, rows, cols int) *Node {
	shape := shapes.Make(dtypes.Int32, rows, cols)
	isSelf := Equal(Iota(g, shape, 0), Iota(g, shape, 1))
	return ConvertDType(LogicalNot(isSelf), dtype)
}

// nonZeroOrOne replaces zeros in counts by one, so they can be used as denominators.
func nonZeroOrOne(counts *Node) *Node {
	return Where(GreaterThan(counts, ZerosLike(counts)), counts, OnesLike(counts))
}

// tile repeats the matrix x `[rows, cols]` numRows times vertically and numCols times horizontally.
func tile(x *Node, numRows, numCols int) *Node {
	if numCols > 1 {
		parts := make([]*Node, numCols)
		for ii := range parts {
			parts[ii] = x
		}
		x = Concatenate(parts, 1)
	}
	if numRows > 1 {
		parts := make([]*Node, numRows)
		for ii := range parts {
			parts[ii] = x
		}
		x = Concatenate(parts, 0)
	}
	return x
}
