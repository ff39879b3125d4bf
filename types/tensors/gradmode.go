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

import "github.com/gomlx/exceptions"

// This file holds the thread-of-control scopes that influence tensor creation:
// gradient tracking and the allocation-forbidden guard.
//
// They are plain package state, not synchronized: the package is designed for
// single-threaded, synchronous use within one compilation pass (callers embedding
// it in a multi-threaded host must serialize externally).

var (
	gradModeEnabled = true
	allocForbidden  = false
)

// GradEnabled reports whether operations currently track gradients.
// It starts enabled, and is changed only within NoGrad/EnableGrad scopes.
func GradEnabled() bool { return gradModeEnabled }

// NoGrad runs fn with gradient tracking disabled: views and clones created
// inside are detached leaves. The previous mode is restored on exit, also
// when fn panics.
func NoGrad(fn func()) {
	previous := gradModeEnabled
	gradModeEnabled = false
	defer func() { gradModeEnabled = previous }()
	fn()
}

// EnableGrad runs fn with gradient tracking enabled: views and clones of
// gradient-requiring tensors created inside synthesize autograd history
// (they become non-leaf). The previous mode is restored on exit, also when
// fn panics.
func EnableGrad(fn func()) {
	previous := gradModeEnabled
	gradModeEnabled = true
	defer func() { gradModeEnabled = previous }()
	fn()
}

// AllocationsForbidden reports whether the caller is inside a ForbidAllocations
// scope.
func AllocationsForbidden() bool { return allocForbidden }

// ForbidAllocations runs fn in a scope where creating any new tensor or storage
// panics. It models contexts where tensor dispatch is in an inconsistent state
// and further allocations would be a programming-contract violation.
// The previous state is restored on exit, also when fn panics.
func ForbidAllocations(fn func()) {
	previous := allocForbidden
	allocForbidden = true
	defer func() { allocForbidden = previous }()
	fn()
}

// assertAllocAllowed panics if called within a ForbidAllocations scope.
func assertAllocAllowed() {
	if allocForbidden {
		exceptions.Panicf("tensor allocation requested inside a ForbidAllocations scope: " +
			"this is a caller bug, not a recoverable condition")
	}
}
