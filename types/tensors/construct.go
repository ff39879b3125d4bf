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
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/symtrace/symtrace/types/shapes"
)

// FromShape returns a dense, contiguous, zero-initialized tensor of the given
// shape on the CPU device.
func FromShape(shape shapes.Shape) *Tensor {
	return Empty(shape, CPU)
}

// Empty returns a dense, contiguous tensor of the given shape on the given
// device. On Meta no bytes are allocated, only the metadata.
func Empty(shape shapes.Shape, device Device) *Tensor {
	t := newTensor(shape, device)
	t.strides = shapes.RowMajorStrides(shape.Dimensions...)
	t.storage = NewStorage(device, int64(shape.Memory()))
	return t
}

// EmptyStrided returns a dense tensor of the given shape with explicitly chosen
// strides and storage offset. The backing storage is sized to span exactly the
// addressable region, so overlapping or gappy layouts are representable.
func EmptyStrided(shape shapes.Shape, strides []int, storageOffset int, device Device) *Tensor {
	if len(strides) != shape.Rank() {
		exceptions.Panicf("EmptyStrided: got %d strides for shape %s (rank %d)", len(strides), shape, shape.Rank())
	}
	if storageOffset < 0 {
		exceptions.Panicf("EmptyStrided: negative storage offset %d", storageOffset)
	}
	t := newTensor(shape, device)
	t.strides = append([]int(nil), strides...)
	t.storageOffset = storageOffset
	t.storage = NewStorage(device, storageSpanBytes(shape, strides, storageOffset))
	return t
}

// FromFlatDataAndDimensions builds a CPU tensor with the given dimensions,
// initialized from a flat slice in row-major order. The data is copied.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions: data has %d elements, but shape %s requires %d", len(data), shape, shape.Size())
	}
	t := Empty(shape, CPU)
	if len(data) > 0 {
		raw := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(data))), len(data)*int(dtype.Size()))
		copy(t.storage.data, raw)
	}
	return t
}

// FromScalar builds a CPU scalar (rank-0) tensor holding the given value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return FromFlatDataAndDimensions([]T{value})
}

// SparseCOO builds a sparse COO tensor: the first sparseDim axes are sparse,
// the remaining denseDim axes dense. Sparse tensors carry no flat storage and
// no strides, only shape and sparsity metadata.
func SparseCOO(shape shapes.Shape, sparseDim, denseDim int, device Device) *Tensor {
	if sparseDim < 0 || denseDim < 0 || sparseDim+denseDim != shape.Rank() {
		exceptions.Panicf("SparseCOO: sparseDim=%d + denseDim=%d must equal rank of %s", sparseDim, denseDim, shape)
	}
	t := newTensor(shape, device)
	t.sparse = &sparseInfo{sparseDim: sparseDim, denseDim: denseDim}
	return t
}
