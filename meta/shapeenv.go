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

package meta

import (
	"fmt"

	"github.com/symtrace/symtrace/types/tensors"
)

// Dynamism classifies how the shape environment may treat one dimension of a
// tensor being converted.
type Dynamism int8

const (
	// Static pins the dimension to its concrete extent: the shadow gets the
	// exact number and guards may be installed on it.
	Static Dynamism = iota

	// Dynamic lets the shape environment allocate a fresh symbol for the
	// dimension.
	Dynamic

	// Duck lets the shape environment reuse a symbol already allocated for
	// another dimension of the same extent ("duck sizing").
	Duck
)

// String implements fmt.Stringer.
func (d Dynamism) String() string {
	switch d {
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	case Duck:
		return "duck"
	}
	return fmt.Sprintf("Dynamism(%d)", int(d))
}

// Policy says, per dimension, how dynamically the shape environment may treat
// the tensor being converted. It is produced by the symbolic-shape allocator
// collaborator and threaded through Convert unchanged.
//
// A zero Policy (nil Dims) treats every dimension as Static.
type Policy struct {
	Dims []Dynamism
}

// StaticPolicy returns a Policy pinning all rank dimensions to their concrete
// extents. View bases are always converted under a static policy.
func StaticPolicy(rank int) Policy {
	return Policy{Dims: make([]Dynamism, rank)}
}

// Dim returns the dynamism of the given dimension, Static when unspecified.
func (p Policy) Dim(axis int) Dynamism {
	if axis < 0 || axis >= len(p.Dims) {
		return Static
	}
	return p.Dims[axis]
}

// ShapeEnv is the symbolic-shape allocator collaborator: it rewrites a
// tensor's concrete layout into (possibly symbolic) sizes, strides and storage
// offset according to a Policy. The returned ints stand for resolved symbolic
// expressions; the constraint solver behind them is outside this package.
//
// A nil ShapeEnv means fully concrete conversion: the shadow copies the
// source's layout verbatim.
type ShapeEnv interface {
	// SymbolicSizesStridesOffset returns the layout the shadow tensor must
	// carry for t under the given policy.
	SymbolicSizesStridesOffset(t *tensors.Tensor, policy Policy) (sizes, strides []int, offset int)

	// SuppressGuards runs fn with guard installation disabled. View replay
	// computes layouts that must not install guards on the base.
	SuppressGuards(fn func())
}
