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

// Package meta implements the deduplicating tensor-to-shadow converter used
// during compilation: Converter.Convert takes a real tensor and produces a
// shape/stride/dtype-identical shadow tensor on the Meta device, preserving
// storage aliasing, view relationships, autograd leafness and the
// conjugate/negative bits, so that compilation passes can derive shape and
// alias guards without touching real data.
//
// A Converter is built once per compilation unit and memoizes by tensor and by
// storage identity: converting the same tensor twice returns the identical
// shadow, and tensors aliasing one storage convert to shadows aliasing one
// shadow storage. Entries are evicted when the source tensor is finalized;
// shadow storages are reclaimed by a deferred batched sweep because storage
// lifetime can lag tensor lifetime.
//
// Like the tensors package, a Converter is single-threaded: one mutator drives
// conversion and finalization, and multi-threaded hosts must serialize access
// externally.
package meta

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/symtrace/symtrace/types/shapes"
	"github.com/symtrace/symtrace/types/tensors"
)

// ErrNotHandled is the categorical fall-back sentinel: Convert returns it
// (wrapped with the reason) for tensor kinds it does not support. Callers must
// branch on it with errors.Is and fall back to eager execution for that value;
// it is never a fatal condition.
var ErrNotHandled = errors.New("tensor not handled by converter")

// Guard against base chains that violate the no-nested-views invariant.
const maxViewDepth = 1_000

// Converter is the per-compilation-unit deduplicating conversion cache. Build
// it with NewConverter; the zero value is not usable.
type Converter struct {
	tensorMemo  map[tensors.TensorID]*tensors.Tensor
	storageMemo map[tensors.StorageID]*tensors.Storage

	// maybeExpired holds weak handles to source storages whose owning tensor
	// was finalized but whose storage may still be referenced elsewhere.
	// SweepExpired drains the expired ones.
	maybeExpired []*tensors.StorageRef

	checkExpiredFrequency int
	checkExpiredCount     int

	hits, misses, failures int

	tag string
}

// NewConverter returns an empty conversion cache.
func NewConverter() *Converter {
	return &Converter{
		tensorMemo:            make(map[tensors.TensorID]*tensors.Tensor),
		storageMemo:           make(map[tensors.StorageID]*tensors.Storage),
		checkExpiredFrequency: 128,
		tag:                   uuid.NewString(),
	}
}

// Hits returns how many Convert calls were served from the memo.
func (c *Converter) Hits() int { return c.hits }

// Misses returns how many Convert calls were not served from the memo,
// including the ones that returned ErrNotHandled.
func (c *Converter) Misses() int { return c.misses }

// Successful returns whether the converter produced at least one shadow and
// never had to fall back with ErrNotHandled.
func (c *Converter) Successful() bool {
	return c.failures == 0 && c.hits+c.misses > 0
}

// String implements fmt.Stringer.
func (c *Converter) String() string {
	return fmt.Sprintf("<Converter id=%s, tensors=%d, storages=%d, hits=%d, misses=%d>",
		c.tag, len(c.tensorMemo), len(c.storageMemo), c.hits, c.misses)
}

// Convert produces the shadow tensor for t: a Meta-device tensor with the same
// metadata, aliasing structure and autograd leafness. Conversion is memoized
// by tensor identity, so converting the same tensor twice returns the
// identical shadow (the first call is a miss, later ones are hits).
//
// env, when non-nil, rewrites the layout symbolically under the given policy;
// a nil env converts with the source's concrete layout, and policy is then
// ignored.
//
// Categorically unsupported tensors (quantized, functionalization wrappers,
// nested, lazy-device, views of sparse bases) return ErrNotHandled. Calling
// Convert inside a ForbidAllocations scope is a contract violation and panics.
func (c *Converter) Convert(t *tensors.Tensor, env ShapeEnv, policy Policy) (*tensors.Tensor, error) {
	if tensors.AllocationsForbidden() {
		exceptions.Panicf("Converter.Convert called while allocations are forbidden")
	}
	t.AssertValid()

	c.checkExpiredCount++
	if c.checkExpiredCount%c.checkExpiredFrequency == 0 {
		c.SweepExpired()
	}

	if shadow, ok := c.tensorMemo[t.ID()]; ok {
		c.hits++
		return shadow, nil
	}
	c.misses++
	shadow, err := c.convertTensor(t, env, policy)
	if err != nil {
		c.failures++
		return nil, err
	}
	return shadow, nil
}

// convertTensor is the memoizing conversion step, shared by Convert and by the
// internal recursions on view bases and gradients (which bypass the hit/miss
// counters).
func (c *Converter) convertTensor(t *tensors.Tensor, env ShapeEnv, policy Policy) (*tensors.Tensor, error) {
	if shadow, ok := c.tensorMemo[t.ID()]; ok {
		return shadow, nil
	}
	if reason := notHandledReason(t); reason != "" {
		return nil, errors.Wrapf(ErrNotHandled, "%s (%s)", reason, t)
	}

	var shadow *tensors.Tensor
	var err error
	switch {
	case t.IsSparse():
		shadow = c.convertSparse(t)
	case t.IsView():
		shadow, err = c.convertView(t, env, policy)
	default:
		shadow = c.convertDense(t, env, policy)
	}
	if err != nil {
		return nil, err
	}
	shadow.SetConj(t.IsConj())
	shadow.SetNeg(t.IsNeg())

	if grad := t.Grad(); grad != nil {
		shadowGrad, err := c.convertTensor(grad, env, policy)
		if err != nil {
			return nil, errors.WithMessagef(err, "converting gradient of %s", t)
		}
		shadow.SetGrad(shadowGrad)
	}

	c.register(t, shadow)
	tensors.AssertMetadataEqual(t, shadow, env != nil)
	return shadow, nil
}

// notHandledReason returns the empty string for convertible tensors, or the
// categorical reason a tensor cannot be converted.
func notHandledReason(t *tensors.Tensor) string {
	switch {
	case t.Device() == tensors.Lazy:
		return "lazy-device tensors are owned by a deferred-execution backend"
	case t.IsQuantized():
		return "quantized tensors are not supported"
	case t.IsFunctional():
		return "functionalization wrappers mid-transform are not supported"
	case t.IsNested():
		return "nested tensors are not supported"
	case t.IsView() && t.Base().IsSparse():
		return "views of sparse bases are not supported"
	}
	return ""
}

// convertSparse builds the shadow of a sparse COO tensor: sparse/dense
// dimension counts and the coalesced flag carry over; non-leaf autograd
// history is synthesized with an identity clone under grad mode.
func (c *Converter) convertSparse(t *tensors.Tensor) *tensors.Tensor {
	shadow := tensors.SparseCOO(t.Shape().Clone(), t.SparseDim(), t.DenseDim(), tensors.Meta)
	shadow.SetCoalesced(t.IsCoalesced())
	if t.RequiresGrad() {
		shadow.SetRequiresGrad(true)
		if t.HasGradFn() {
			tensors.EnableGrad(func() { shadow = shadow.Clone() })
		}
	}
	return shadow
}

// convertView rebuilds a view: the base converts first (always under a static
// policy), then the view's layout is replayed onto the shadow base. When base
// and view disagree on requires-grad, the replay goes through an intermediate
// leaf view whose requires-grad matches the view, so leafness round-trips.
func (c *Converter) convertView(t *tensors.Tensor, env ShapeEnv, policy Policy) (*tensors.Tensor, error) {
	// Bases recorded on views are roots, never views themselves, but a
	// corrupted chain must not loop forever.
	base := t.Base()
	for depth := 0; base.IsView(); depth++ {
		if depth >= maxViewDepth {
			exceptions.Panicf("view base chain of %s exceeds %d links; cyclic bases?", t, maxViewDepth)
		}
		base = base.Base()
	}
	shadowBase, err := c.convertTensor(base, env, StaticPolicy(base.Rank()))
	if err != nil {
		return nil, errors.WithMessagef(err, "converting base of view %s", t)
	}

	sizes, strides, offset := c.layout(t, env, policy, true)

	var shadow *tensors.Tensor
	replay := func(src *tensors.Tensor) {
		if t.HasGradFn() {
			tensors.EnableGrad(func() { shadow = src.AsStrided(sizes, strides, offset) })
		} else {
			tensors.NoGrad(func() { shadow = src.AsStrided(sizes, strides, offset) })
		}
	}
	if shadowBase.RequiresGrad() == t.RequiresGrad() {
		replay(shadowBase)
	} else {
		var mid *tensors.Tensor
		tensors.NoGrad(func() { mid = shadowBase.View(shadowBase.Dims()...) })
		mid.SetRequiresGrad(t.RequiresGrad())
		replay(mid)
	}
	shadow.SetCreationMeta(t.CreationMeta())
	return shadow, nil
}

// convertDense builds the shadow of an ordinary (non-view, non-sparse)
// tensor and registers its storage for deduplication. If the source storage
// was already memoized (the tensor aliases one converted earlier), the shadow
// is force-aliased onto the shared shadow storage instead of keeping its own.
func (c *Converter) convertDense(t *tensors.Tensor, env ShapeEnv, policy Policy) *tensors.Tensor {
	sizes, strides, offset := c.layout(t, env, policy, false)
	shadow := tensors.EmptyStrided(shapes.Make(t.DType(), sizes...), strides, offset, tensors.Meta)
	if t.RequiresGrad() {
		shadow.SetRequiresGrad(true)
		if t.HasGradFn() {
			tensors.EnableGrad(func() { shadow = shadow.Clone() })
		}
	}
	sourceID := t.Storage().ID()
	if shared, ok := c.storageMemo[sourceID]; ok {
		shadow.SetStorage(shared, sizes, strides, offset)
	} else {
		c.storageMemo[sourceID] = shadow.Storage()
	}
	return shadow
}

// layout returns the sizes/strides/offset the shadow must carry: the source's
// concrete layout when env is nil, the symbolic rewrite otherwise. View replay
// suppresses guard installation.
func (c *Converter) layout(t *tensors.Tensor, env ShapeEnv, policy Policy, suppressGuards bool) (sizes, strides []int, offset int) {
	if env == nil {
		return slices.Clone(t.Dims()), slices.Clone(t.Strides()), t.StorageOffset()
	}
	if suppressGuards {
		env.SuppressGuards(func() {
			sizes, strides, offset = env.SymbolicSizesStridesOffset(t, policy)
		})
		return
	}
	return env.SymbolicSizesStridesOffset(t, policy)
}

// register memoizes the shadow and arranges eviction: finalizing the source
// tensor drops the memo entry immediately and hands the source storage to the
// deferred sweep (the storage may outlive the tensor through aliases).
func (c *Converter) register(t *tensors.Tensor, shadow *tensors.Tensor) {
	id := t.ID()
	c.tensorMemo[id] = shadow

	var ref *tensors.StorageRef
	if storage := t.Storage(); storage != nil && !t.IsView() {
		ref = storage.Ref()
	}
	t.OnFinalize(func() {
		delete(c.tensorMemo, id)
		if ref == nil {
			return
		}
		if ref.Expired() {
			delete(c.storageMemo, ref.StorageID())
		} else {
			c.maybeExpired = append(c.maybeExpired, ref)
		}
	})
}

// SweepExpired walks the deferred list of source storages and drops the memo
// entries of the expired ones. It runs automatically every
// checkExpiredFrequency Convert calls; the frequency grows with the backlog of
// storages that refuse to expire, bounding the work spent re-checking them.
func (c *Converter) SweepExpired() {
	if len(c.maybeExpired) == 0 {
		return
	}
	kept := c.maybeExpired[:0]
	swept := 0
	for _, ref := range c.maybeExpired {
		if ref.Expired() {
			delete(c.storageMemo, ref.StorageID())
			swept++
		} else {
			kept = append(kept, ref)
		}
	}
	c.maybeExpired = kept
	c.checkExpiredFrequency = max(c.checkExpiredFrequency, len(c.maybeExpired))
	klog.V(2).Infof("%s: swept %d expired shadow storages, %d still deferred", c, swept, len(c.maybeExpired))
}
