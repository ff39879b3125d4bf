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
)

// AssertMetadataEqual panics with a description of the first mismatch if the
// two tensors disagree on metadata: shape, dtype, layout, autograd flags,
// sparsity and tensor-kind bits, recursively including bases and gradients.
//
// When skipLayout is true, extents, strides and storage offsets are not
// compared (only dtype and rank); shadow tensors for which only symbolic
// layout is known use this.
func AssertMetadataEqual(expected, actual *Tensor, skipLayout bool) {
	assertMetadataEqual(expected, actual, skipLayout, "tensor")
}

func assertMetadataEqual(expected, actual *Tensor, skipLayout bool, path string) {
	if expected == nil && actual == nil {
		return
	}
	if expected == nil || actual == nil {
		exceptions.Panicf("metadata mismatch at %s: one tensor is nil (expected=%s, actual=%s)", path, expected, actual)
	}
	check := func(name string, ok bool) {
		if !ok {
			exceptions.Panicf("metadata mismatch at %s.%s: expected %s, got %s", path, name, expected, actual)
		}
	}
	if skipLayout {
		// Symbolic-shape mode: extents may be rewritten; dtype and rank still hold.
		check("dtype", expected.shape.DType == actual.shape.DType)
		check("rank", expected.shape.Rank() == actual.shape.Rank())
	} else {
		check("shape", expected.shape.Equal(actual.shape))
	}
	check("requiresGrad", expected.requiresGrad == actual.requiresGrad)
	check("isLeaf", expected.isLeaf == actual.isLeaf)
	check("hasGradFn", expected.hasGradFn == actual.hasGradFn)
	check("conj", expected.conj == actual.conj)
	check("neg", expected.neg == actual.neg)
	check("creationMeta", expected.creationMeta == actual.creationMeta)
	check("sparse", expected.IsSparse() == actual.IsSparse())
	check("nested", expected.nested == actual.nested)
	check("quantized", expected.quantized == actual.quantized)
	check("functional", expected.functional == actual.functional)
	if expected.IsSparse() {
		check("sparseDim", expected.sparse.sparseDim == actual.sparse.sparseDim)
		check("denseDim", expected.sparse.denseDim == actual.sparse.denseDim)
		check("coalesced", expected.sparse.coalesced == actual.sparse.coalesced)
	} else if !skipLayout {
		check("strides", slices.Equal(expected.strides, actual.strides))
		check("storageOffset", expected.storageOffset == actual.storageOffset)
	}
	check("isView", expected.IsView() == actual.IsView())
	if expected.IsView() {
		assertMetadataEqual(expected.base, actual.base, skipLayout, path+".base")
	}
	if expected.grad != nil || actual.grad != nil {
		assertMetadataEqual(expected.grad, actual.grad, skipLayout, path+".grad")
	}
}
