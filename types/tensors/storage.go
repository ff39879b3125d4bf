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
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
)

// Device enumerates where a tensor's storage lives.
//
// Meta storage never materializes bytes: it only records identity and size,
// and is what shadow tensors are backed by.
type Device int8

const (
	// CPU is host memory, with actual bytes allocated.
	CPU Device = iota

	// CUDA is accelerator memory. For the purposes of this package it behaves
	// like CPU storage with actual bytes -- the package does not talk to devices.
	CUDA

	// Meta is the non-materializing placeholder device used by shadow tensors.
	Meta

	// Lazy marks tensors owned by a deferred-execution backend. They are
	// categorically not convertible (see the meta package).
	Lazy
)

// String implements fmt.Stringer.
func (d Device) String() string {
	switch d {
	case CPU:
		return "cpu"
	case CUDA:
		return "cuda"
	case Meta:
		return "meta"
	case Lazy:
		return "lazy"
	}
	return fmt.Sprintf("Device(%d)", int(d))
}

// StorageID is the identity of one underlying allocation, unique in the process.
// Multiple tensors may reference the same StorageID (aliasing).
type StorageID int64

var storageIDCounter atomic.Int64

// Storage is the flat allocation a tensor's metadata indexes into. It is distinct
// from the Tensor object itself: several tensors (views, or tensors re-pointed with
// Tensor.SetStorage) may share one Storage.
//
// Lifetime is explicit: each tensor referencing the Storage holds one reference,
// released when the tensor is finalized. When the last reference is dropped the
// Storage is finalized and its bytes (if any) freed. There is no garbage-collector
// involvement; see StorageRef for the weak-handle side of this contract.
type Storage struct {
	id       StorageID
	device   Device
	numBytes int64

	// data holds the actual bytes. Always nil on Meta device storage.
	data []byte

	refs      int
	finalized bool
}

// NewStorage creates a new allocation of the given size in bytes.
//
// On the Meta device no bytes are materialized, only the identity and size are
// recorded. It panics if called within a ForbidAllocations scope.
func NewStorage(device Device, numBytes int64) *Storage {
	assertAllocAllowed()
	if numBytes < 0 {
		exceptions.Panicf("NewStorage(%s, %d bytes): negative size", device, numBytes)
	}
	s := &Storage{
		id:       StorageID(storageIDCounter.Add(1)),
		device:   device,
		numBytes: numBytes,
		refs:     1, // the creating tensor's reference
	}
	if device != Meta {
		s.data = make([]byte, numBytes)
	}
	return s
}

// ID returns the identity of this allocation. IDs are never reused in a process.
func (s *Storage) ID() StorageID { return s.id }

// Device where the storage lives.
func (s *Storage) Device() Device { return s.device }

// SizeBytes returns the size of the allocation. For Meta storage this is the
// logical size; no bytes are actually held.
func (s *Storage) SizeBytes() int64 { return s.numBytes }

// IsFinalized returns whether the last tensor referencing this storage has been
// finalized and the allocation released.
func (s *Storage) IsFinalized() bool { return s == nil || s.finalized }

// Ref returns a weak handle to this storage: it does not count as a reference
// and can be used to observe, after the fact, whether the storage expired.
func (s *Storage) Ref() *StorageRef {
	return &StorageRef{target: s, id: s.id}
}

// String implements fmt.Stringer.
func (s *Storage) String() string {
	if s.IsFinalized() {
		return "Storage(finalized)"
	}
	return fmt.Sprintf("Storage(#%d, %s, %s)", s.id, s.device, humanize.Bytes(uint64(s.numBytes)))
}

// acquire adds one strong (tensor) reference and returns s for chaining.
func (s *Storage) acquire() *Storage {
	if s.finalized {
		exceptions.Panicf("acquiring already finalized %s", s)
	}
	s.refs++
	return s
}

// release drops one strong reference, finalizing the storage when it reaches zero.
func (s *Storage) release() {
	if s.finalized {
		return
	}
	s.refs--
	if s.refs <= 0 {
		s.finalized = true
		s.data = nil
	}
}

// StorageRef is a weak handle to a Storage: holding one does not keep the
// storage alive. It is the key currency of deduplication caches that must not
// extend the lifetime of what they memoize.
type StorageRef struct {
	target *Storage
	id     StorageID
}

// StorageID of the referenced allocation. Valid even after expiration.
func (r *StorageRef) StorageID() StorageID { return r.id }

// Expired returns whether the referenced storage has been finalized.
func (r *StorageRef) Expired() bool {
	return r == nil || r.target.IsFinalized()
}
