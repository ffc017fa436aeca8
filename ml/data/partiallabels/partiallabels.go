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

// Package partiallabels holds the candidate label sets of a partial-label dataset: for each sample, the set of
// classes that may be its true label.
//
// It produces the dense binary candidates matrix (Y) used by losses.ConLoss, and the uniform initial confidence
// used to create a confidence.Store.
package partiallabels

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrEmptyCandidates is returned by Validate when a sample has no candidate labels.
var ErrEmptyCandidates = errors.New("sample has no candidate labels")

// Set holds the candidate labels of each sample, one bitmap per sample.
type Set struct {
	numClasses int
	rows       []*roaring.Bitmap
}

// New creates an empty Set for numClasses classes.
func New(numClasses int) *Set {
	return &Set{numClasses: numClasses}
}

// FromRows creates a Set with one sample per row, each row listing its candidate classes.
func FromRows(numClasses int, rows [][]int) (*Set, error) {
	s := New(numClasses)
	for ii, row := range rows {
		if err := s.Add(row...); err != nil {
			return nil, errors.WithMessagef(err, "row #%d", ii)
		}
	}
	return s, nil
}

// FromDense creates a Set from a binary matrix shaped `[num_samples, num_classes]`: non-zero entries are candidates.
func FromDense(y *tensors.Tensor) (*Set, error) {
	if y == nil || y.Shape().Rank() != 2 {
		return nil, errors.New("candidates matrix must be shaped [num_samples, num_classes]")
	}
	numSamples, numClasses := y.Shape().Dim(0), y.Shape().Dim(1)
	s := New(numClasses)
	var flat []float64
	switch y.DType() {
	case dtypes.Float32:
		for _, value := range tensors.CopyFlatData[float32](y) {
			flat = append(flat, float64(value))
		}
	case dtypes.Float64:
		flat = tensors.CopyFlatData[float64](y)
	default:
		return nil, errors.Errorf("candidates matrix must be Float32 or Float64, got %s", y.DType())
	}
	for sample := range numSamples {
		var row []int
		for class := range numClasses {
			if flat[sample*numClasses+class] != 0 {
				row = append(row, class)
			}
		}
		if err := s.Add(row...); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends a sample with the given candidate classes. A sample with no candidates is accepted, but
// Validate will report it.
func (s *Set) Add(candidates ...int) error {
	bitmap := roaring.New()
	for _, class := range candidates {
		if class < 0 || class >= s.numClasses {
			return errors.Errorf("candidate class %d out of range [0, %d)", class, s.numClasses)
		}
		bitmap.Add(uint32(class))
	}
	s.rows = append(s.rows, bitmap)
	return nil
}

// Len returns the number of samples.
func (s *Set) Len() int { return len(s.rows) }

// NumClasses returns the number of classes.
func (s *Set) NumClasses() int { return s.numClasses }

// Candidates returns the candidate classes of sample, in increasing order.
func (s *Set) Candidates(sample int) []int {
	values := s.rows[sample].ToArray()
	candidates := make([]int, len(values))
	for ii, value := range values {
		candidates[ii] = int(value)
	}
	return candidates
}

// Contains returns whether class is a candidate of sample.
func (s *Set) Contains(sample, class int) bool {
	return s.rows[sample].Contains(uint32(class))
}

// NumCandidates returns the number of candidates of sample.
func (s *Set) NumCandidates(sample int) int {
	return int(s.rows[sample].GetCardinality())
}

// AverageCandidates returns the mean number of candidates per sample, or 0 if the set is empty.
func (s *Set) AverageCandidates() float64 {
	if len(s.rows) == 0 {
		return 0
	}
	var total uint64
	for _, row := range s.rows {
		total += row.GetCardinality()
	}
	return float64(total) / float64(len(s.rows))
}

// Validate returns ErrEmptyCandidates if any sample has no candidates.
func (s *Set) Validate() error {
	for ii, row := range s.rows {
		if row.IsEmpty() {
			return errors.Wrapf(ErrEmptyCandidates, "sample #%d", ii)
		}
	}
	return nil
}

// Dense returns the binary candidates matrix (Y) of the given samples, shaped `[len(samples), num_classes]`,
// as float32. If no samples are given, it returns the matrix of all samples.
func (s *Set) Dense(samples ...int) (*tensors.Tensor, error) {
	if len(samples) == 0 {
		samples = make([]int, len(s.rows))
		for ii := range samples {
			samples[ii] = ii
		}
	}
	flat := make([]float32, len(samples)*s.numClasses)
	for ii, sample := range samples {
		if sample < 0 || sample >= len(s.rows) {
			return nil, errors.Errorf("sample %d out of range [0, %d)", sample, len(s.rows))
		}
		row := flat[ii*s.numClasses : (ii+1)*s.numClasses]
		s.rows[sample].Iterate(func(class uint32) bool {
			row[class] = 1
			return true
		})
	}
	return tensors.FromFlatDataAndDimensions(flat, len(samples), s.numClasses), nil
}

// UniformConfidence returns the initial confidence of all samples, shaped `[num_samples, num_classes]` as float32:
// uniform over the candidates of each sample. Samples without candidates get the uniform distribution over
// all classes.
func (s *Set) UniformConfidence() *tensors.Tensor {
	flat := make([]float32, len(s.rows)*s.numClasses)
	for ii, bitmap := range s.rows {
		row := flat[ii*s.numClasses : (ii+1)*s.numClasses]
		count := bitmap.GetCardinality()
		if count == 0 {
			klog.Warningf("partiallabels: sample #%d has no candidates, using uniform confidence over all classes", ii)
			for class := range row {
				row[class] = 1 / float32(s.numClasses)
			}
			continue
		}
		bitmap.Iterate(func(class uint32) bool {
			row[class] = 1 / float32(count)
			return true
		})
	}
	return tensors.FromFlatDataAndDimensions(flat, len(s.rows), s.numClasses)
}
