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

// Package tensors implements the tensor metadata model used by the compilation
// substrate: a Tensor is a shape, strides, a storage offset and autograd metadata
// indexing into a Storage (one flat allocation).
//
// Tensors here carry just enough to faithfully simulate shape, aliasing, view and
// autograd-leaf semantics during compilation: views share their base's Storage and
// record the root base they were derived from; finalization is explicit (see
// Tensor.Finalize) and runs registered release hooks, which is how deduplication
// caches (see the meta package) evict entries without a garbage collector
// extending lifetimes.
//
// There are two families of tensors:
//
//   - Real tensors (CPU/CUDA devices), with actual bytes allocated, built with
//     FromShape, FromFlatDataAndDimensions and friends. They are the inputs of
//     conversion.
//   - Shadow tensors (Meta device), with metadata only, allocated by the meta
//     package during conversion. They stand in for real data during compilation.
//
// The package is designed for single-threaded, synchronous use within one
// compilation pass; there is no internal locking. Callers embedding it in a
// multi-threaded host must serialize access externally.
package tensors

import (
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/symtrace/symtrace/types/shapes"
)

// TensorID is the identity of a tensor object, unique in the process.
// It is the key deduplication caches memoize converted tensors by.
type TensorID int64

var tensorIDCounter atomic.Int64

// CreationMeta records the circumstances a view was created under. It decides
// whether later in-place mutation of the view is legal, so it must survive
// conversion to shadow tensors.
type CreationMeta int8

const (
	// CreationMetaDefault marks ordinary views.
	CreationMetaDefault CreationMeta = iota

	// CreationMetaNoGradMode marks views of gradient-requiring tensors created
	// inside a NoGrad scope.
	CreationMetaNoGradMode

	// CreationMetaMultiOutput marks views produced by multi-output operations.
	CreationMetaMultiOutput

	// CreationMetaInference marks views created in inference mode.
	CreationMetaInference
)

// sparseInfo holds the extra metadata of sparse (COO) tensors. Sparse tensors
// have no single flat Storage.
type sparseInfo struct {
	sparseDim, denseDim int
	coalesced           bool
}

// Tensor is a shape, strides, storage offset and autograd metadata over a
// Storage. See the package documentation for the model.
//
// The zero value is not usable; build tensors with the package constructors.
type Tensor struct {
	id    TensorID
	shape shapes.Shape

	// strides are in elements (not bytes), one per axis. nil for sparse tensors.
	strides       []int
	storageOffset int

	device  Device
	storage *Storage // nil for sparse tensors.

	requiresGrad bool
	isLeaf       bool
	hasGradFn    bool
	conj, neg    bool
	creationMeta CreationMeta

	sparse     *sparseInfo
	nested     bool
	quantized  bool
	functional bool

	// base is the root of the view chain this tensor was derived from, nil if
	// this tensor is not a view. Bases are never views themselves: deriving a
	// view from a view records the root base.
	base *Tensor

	grad *Tensor

	finalized  bool
	onFinalize []func()
}

// newTensor allocates the bare Tensor record. Callers fill in the layout/storage.
func newTensor(shape shapes.Shape, device Device) *Tensor {
	assertAllocAllowed()
	if !shape.Ok() {
		panic(errors.New("invalid shape for new tensor"))
	}
	return &Tensor{
		id:     TensorID(tensorIDCounter.Add(1)),
		shape:  shape,
		device: device,
		isLeaf: true,
	}
}

// ID returns the identity of this tensor object. IDs are never reused in a process.
func (t *Tensor) ID() TensorID { return t.id }

// Shape of the tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
func (t *Tensor) DType() dtypes.DType {
	if t == nil {
		return dtypes.InvalidDType
	}
	return t.shape.DType
}

// Rank returns the rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the tensor represents a scalar value.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes needed for a dense copy of the tensor.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Dims returns the dimensions of the tensor. The returned slice is owned by the
// tensor and must not be changed.
func (t *Tensor) Dims() []int { return t.shape.Dimensions }

// Strides returns the strides of the tensor, in elements, one per axis.
// The returned slice is owned by the tensor and must not be changed.
// It is nil for sparse tensors.
func (t *Tensor) Strides() []int { return t.strides }

// StorageOffset returns the offset (in elements) of the first element of this
// tensor within its storage.
func (t *Tensor) StorageOffset() int { return t.storageOffset }

// Device where the tensor lives.
func (t *Tensor) Device() Device { return t.device }

// Storage returns the underlying allocation. It is nil for sparse tensors.
func (t *Tensor) Storage() *Storage { return t.storage }

// RequiresGrad returns whether the tensor participates in gradient tracking.
func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

// IsLeaf returns whether the tensor is an autograd leaf (it has no synthesized
// gradient history).
func (t *Tensor) IsLeaf() bool { return t.isLeaf }

// HasGradFn returns whether the tensor has (synthesized) autograd history.
// Always the negation of IsLeaf for gradient-requiring tensors.
func (t *Tensor) HasGradFn() bool { return t.hasGradFn }

// SetRequiresGrad changes gradient tracking for the tensor.
// Only legal on leaf tensors; it panics on tensors with autograd history.
func (t *Tensor) SetRequiresGrad(requiresGrad bool) {
	t.AssertValid()
	if t.hasGradFn {
		exceptions.Panicf("SetRequiresGrad on non-leaf %s: only leaf tensors can have requires-grad changed", t)
	}
	t.requiresGrad = requiresGrad
}

// IsConj returns the conjugate bit.
func (t *Tensor) IsConj() bool { return t.conj }

// SetConj sets the conjugate bit.
func (t *Tensor) SetConj(conj bool) { t.conj = conj }

// IsNeg returns the negative bit.
func (t *Tensor) IsNeg() bool { return t.neg }

// SetNeg sets the negative bit.
func (t *Tensor) SetNeg(neg bool) { t.neg = neg }

// IsSparse returns whether this is a sparse (COO) tensor.
func (t *Tensor) IsSparse() bool { return t.sparse != nil }

// SparseDim returns the number of sparse dimensions. Panics on dense tensors.
func (t *Tensor) SparseDim() int {
	t.assertSparse("SparseDim")
	return t.sparse.sparseDim
}

// DenseDim returns the number of dense dimensions. Panics on dense tensors.
func (t *Tensor) DenseDim() int {
	t.assertSparse("DenseDim")
	return t.sparse.denseDim
}

// IsCoalesced returns whether the sparse tensor is coalesced. Panics on dense tensors.
func (t *Tensor) IsCoalesced() bool {
	t.assertSparse("IsCoalesced")
	return t.sparse.coalesced
}

// SetCoalesced sets the coalesced flag of a sparse tensor. Panics on dense tensors.
func (t *Tensor) SetCoalesced(coalesced bool) {
	t.assertSparse("SetCoalesced")
	t.sparse.coalesced = coalesced
}

func (t *Tensor) assertSparse(op string) {
	if !t.IsSparse() {
		exceptions.Panicf("%s called on dense tensor %s", op, t)
	}
}

// IsNested returns whether the tensor is nested (ragged).
func (t *Tensor) IsNested() bool { return t.nested }

// IsQuantized returns whether the tensor is quantized.
func (t *Tensor) IsQuantized() bool { return t.quantized }

// IsFunctional returns whether the tensor is a functionalization wrapper
// mid-transform.
func (t *Tensor) IsFunctional() bool { return t.functional }

// MarkNested flags the tensor as nested (ragged). Used by hosts that wrap
// tensors; such tensors are not convertible by the meta package.
func (t *Tensor) MarkNested() *Tensor { t.nested = true; return t }

// MarkQuantized flags the tensor as quantized.
func (t *Tensor) MarkQuantized() *Tensor { t.quantized = true; return t }

// MarkFunctional flags the tensor as a functionalization wrapper.
func (t *Tensor) MarkFunctional() *Tensor { t.functional = true; return t }

// IsView returns whether the tensor is a view over another tensor's storage.
func (t *Tensor) IsView() bool { return t.base != nil }

// Base returns the root tensor this view was derived from, or nil if the tensor
// is not a view. Bases are never views themselves.
func (t *Tensor) Base() *Tensor { return t.base }

// viewRoot returns the tensor views derived from t must record as base.
func (t *Tensor) viewRoot() *Tensor {
	if t.base != nil {
		return t.base
	}
	return t
}

// Grad returns the gradient tensor, or nil.
func (t *Tensor) Grad() *Tensor { return t.grad }

// SetGrad attaches a gradient tensor.
func (t *Tensor) SetGrad(grad *Tensor) { t.grad = grad }

// CreationMeta returns the view-creation circumstances of the tensor.
func (t *Tensor) CreationMeta() CreationMeta { return t.creationMeta }

// SetCreationMeta overrides the view-creation circumstances. The meta package
// uses this to propagate in-place-mutation-safety semantics onto reconstructed
// shadow views.
func (t *Tensor) SetCreationMeta(meta CreationMeta) { t.creationMeta = meta }

// OnFinalize registers fn to run when the tensor is finalized. Hooks run in
// registration order, on the same thread of control that calls Finalize
// (cooperative, not concurrent, finalization).
func (t *Tensor) OnFinalize(fn func()) {
	t.AssertValid()
	t.onFinalize = append(t.onFinalize, fn)
}

// IsFinalized returns whether the tensor has been finalized.
func (t *Tensor) IsFinalized() bool { return t == nil || t.finalized }

// Finalize ends the tensor's lifetime: release hooks run, the storage reference
// is dropped (freeing the storage if this was the last reference), and the
// tensor becomes invalid. Idempotent.
//
// The gradient tensor, if any, is an independent tensor and is not finalized.
func (t *Tensor) Finalize() {
	if t.IsFinalized() {
		return
	}
	t.finalized = true
	hooks := t.onFinalize
	t.onFinalize = nil
	for _, hook := range hooks {
		hook()
	}
	if t.storage != nil {
		t.storage.release()
		t.storage = nil
	}
}

// CheckValid returns an error if the tensor is nil, finalized, or has an
// invalid shape.
func (t *Tensor) CheckValid() error {
	if t == nil {
		return errors.New("Tensor is nil")
	}
	if t.finalized {
		return errors.Errorf("Tensor #%d has been finalized already", t.id)
	}
	if !t.shape.Ok() {
		return errors.New("Tensor shape is invalid")
	}
	return nil
}

// AssertValid panics if the tensor is nil, finalized, or has an invalid shape.
func (t *Tensor) AssertValid() {
	if err := t.CheckValid(); err != nil {
		panic(err)
	}
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}
	if t.finalized {
		return fmt.Sprintf("Tensor(#%d, finalized)", t.id)
	}
	kind := ""
	switch {
	case t.IsSparse():
		kind = ", sparse"
	case t.IsView():
		kind = ", view"
	}
	return fmt.Sprintf("Tensor(#%d, %s, %s%s, %s)",
		t.id, t.shape, t.device, kind, humanize.Bytes(uint64(t.Memory())))
}

// storageSpanBytes returns the number of bytes a storage must have to cover the
// given layout: offset plus the largest reachable element index, inclusive.
// Zero-sized tensors need no bytes at all.
func storageSpanBytes(shape shapes.Shape, strides []int, offset int) int64 {
	if shape.Size() == 0 {
		return 0
	}
	last := offset
	for axis, dim := range shape.Dimensions {
		if dim > 1 && strides[axis] > 0 {
			last += (dim - 1) * strides[axis]
		}
	}
	return int64(last+1) * int64(shape.DType.Memory())
}
