/*
 *	Copyright 2026 The symtrace Authors
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

package tensors

import (
	"slices"

	"github.com/gomlx/exceptions"

	"github.com/symtrace/symtrace/types/shapes"
)

// View returns a reshaped view of the tensor sharing its storage: same dtype,
// same total size, contiguous row-major layout over the same offset. The result
// records the root base of the view chain, so views of views still report the
// original tensor as base.
//
// If the tensor requires grad and grad mode is enabled, the view has autograd
// history (it is a non-leaf). If grad mode is disabled the view stays a leaf
// but remembers it was created under no-grad.
func (t *Tensor) View(dimensions ...int) *Tensor {
	t.AssertValid()
	if t.IsSparse() {
		exceptions.Panicf("View of sparse tensor %s is not supported", t)
	}
	newShape := shapes.Make(t.shape.DType, dimensions...)
	if newShape.Size() != t.shape.Size() {
		exceptions.Panicf("View: shape %s is incompatible with tensor of %d elements", newShape, t.shape.Size())
	}
	if !t.isContiguous() {
		exceptions.Panicf("View: tensor %s is not contiguous", t)
	}
	v := t.deriveView(newShape, shapes.RowMajorStrides(dimensions...), t.storageOffset)
	return v
}

// AsStrided returns a view with arbitrary shape, strides and storage offset over
// the tensor's storage. The requested layout must fit within the storage when
// the storage carries real bytes; shadow (Meta) storages accept any layout.
func (t *Tensor) AsStrided(dimensions, strides []int, storageOffset int) *Tensor {
	t.AssertValid()
	if t.IsSparse() {
		exceptions.Panicf("AsStrided of sparse tensor %s is not supported", t)
	}
	if len(strides) != len(dimensions) {
		exceptions.Panicf("AsStrided: got %d strides for %d dimensions", len(strides), len(dimensions))
	}
	if storageOffset < 0 {
		exceptions.Panicf("AsStrided: negative storage offset %d", storageOffset)
	}
	newShape := shapes.Make(t.shape.DType, dimensions...)
	if t.storage.data != nil {
		if span := storageSpanBytes(newShape, strides, storageOffset); span > t.storage.numBytes {
			exceptions.Panicf("AsStrided: layout spans %d bytes but storage #%d has only %d", span, t.storage.id, t.storage.numBytes)
		}
	}
	return t.deriveView(newShape, slices.Clone(strides), storageOffset)
}

// deriveView builds the view record: shares storage, records the root base and
// propagates autograd metadata according to the current grad mode.
func (t *Tensor) deriveView(shape shapes.Shape, strides []int, storageOffset int) *Tensor {
	v := newTensor(shape, t.device)
	v.strides = strides
	v.storageOffset = storageOffset
	v.storage = t.storage.acquire()
	v.base = t.viewRoot()
	v.conj, v.neg = t.conj, t.neg
	v.nested, v.quantized, v.functional = t.nested, t.quantized, t.functional
	if t.requiresGrad {
		v.requiresGrad = true
		if GradEnabled() {
			v.isLeaf = false
			v.hasGradFn = true
		} else {
			v.creationMeta = CreationMetaNoGradMode
		}
	}
	return v
}

// Clone returns a layout-preserving copy of the tensor with fresh storage:
// same shape, strides and storage offset, never a view. If the tensor requires
// grad and grad mode is enabled, the clone has autograd history.
func (t *Tensor) Clone() *Tensor {
	t.AssertValid()
	if t.IsSparse() {
		c := SparseCOO(t.shape.Clone(), t.sparse.sparseDim, t.sparse.denseDim, t.device)
		c.sparse.coalesced = t.sparse.coalesced
		c.copyAutogradFrom(t)
		return c
	}
	c := EmptyStrided(t.shape.Clone(), t.strides, t.storageOffset, t.device)
	if t.storage.data != nil {
		copy(c.storage.data, t.storage.data)
	}
	c.conj, c.neg = t.conj, t.neg
	c.copyAutogradFrom(t)
	return c
}

func (t *Tensor) copyAutogradFrom(src *Tensor) {
	if src.requiresGrad {
		t.requiresGrad = true
		if GradEnabled() {
			t.isLeaf = false
			t.hasGradFn = true
		}
	}
}

// SetStorage rebinds the tensor to the given storage, adopting the given
// layout. This forces storage aliasing without making the tensor a view in the
// autograd sense: base stays nil and autograd metadata is preserved.
func (t *Tensor) SetStorage(storage *Storage, dimensions, strides []int, storageOffset int) {
	t.AssertValid()
	if t.IsSparse() {
		exceptions.Panicf("SetStorage on sparse tensor %s is not supported", t)
	}
	if storage.IsFinalized() {
		exceptions.Panicf("SetStorage: %s is already finalized", storage)
	}
	newShape := shapes.Make(t.shape.DType, dimensions...)
	newStorage := storage.acquire()
	t.storage.release()
	t.storage = newStorage
	t.shape = newShape
	t.strides = slices.Clone(strides)
	t.storageOffset = storageOffset
}

// isContiguous reports whether the tensor's layout is dense row-major.
func (t *Tensor) isContiguous() bool {
	if t.IsSparse() {
		return false
	}
	expected := shapes.RowMajorStrides(t.shape.Dimensions...)
	for axis, stride := range expected {
		if t.shape.Dimensions[axis] > 1 && t.strides[axis] != stride {
			return false
		}
	}
	return true
}
