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
	"encoding/gob"
	"io"
	"os"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// snapshotMagic identifies the confidence snapshot format.
const snapshotMagic = "gomlx-confidence/v1"

// Save writes a zstd compressed snapshot of the confidence values to w.
func (s *Store) Save(w io.Writer) error {
	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return errors.Wrap(err, "failed to create zstd writer")
	}
	gobEncoder := gob.NewEncoder(encoder)
	if err = gobEncoder.Encode(snapshotMagic); err != nil {
		_ = encoder.Close()
		return errors.Wrap(err, "failed to write confidence snapshot header")
	}
	if err = s.Values().GobSerialize(gobEncoder); err != nil {
		_ = encoder.Close()
		return errors.WithMessage(err, "failed to write confidence values")
	}
	return errors.Wrap(encoder.Close(), "failed to flush zstd writer")
}

// Load reads a snapshot written by Save, and replaces the confidence values with it.
// It returns ErrShapeMismatch if the snapshot has a different shape than the store.
func (s *Store) Load(r io.Reader) error {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "failed to create zstd reader")
	}
	defer decoder.Close()
	gobDecoder := gob.NewDecoder(decoder)
	var magic string
	if err = gobDecoder.Decode(&magic); err != nil {
		return errors.Wrap(err, "failed to read confidence snapshot header")
	}
	if magic != snapshotMagic {
		return errors.Errorf("not a confidence snapshot: header %q", magic)
	}
	values, err := tensors.GobDeserialize(gobDecoder)
	if err != nil {
		return errors.WithMessage(err, "failed to read confidence values")
	}
	return s.SetValues(values)
}

// SaveFile writes a snapshot to filePath. See Save.
func (s *Store) SaveFile(filePath string) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create confidence snapshot %q", filePath)
	}
	if err = s.Save(f); err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "saving %q", filePath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %q", filePath)
	}
	klog.V(1).Infof("confidence: saved snapshot to %q", filePath)
	return nil
}

// LoadFile reads a snapshot from filePath. See Load.
func (s *Store) LoadFile(filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to open confidence snapshot %q", filePath)
	}
	defer func() { _ = f.Close() }()
	return errors.WithMessagef(s.Load(f), "loading %q", filePath)
}
