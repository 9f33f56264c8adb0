// Copyright 2026 The kmem Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pagetables

import (
	"sync/atomic"

	"github.com/xalyes/kmem/pkg/addr"
)

// Bits in page table entries, as defined by the hardware.
const (
	present      = 1 << 0
	writable     = 1 << 1
	user         = 1 << 2
	writeThrough = 1 << 3
	cacheDisable = 1 << 4
	accessed     = 1 << 5
	dirty        = 1 << 6
	huge         = 1 << 7
	global       = 1 << 8

	// Bits 9-11 are ignored by the hardware and free for kernel use.
	softwareShift = 9
	softwareMask  = 0x7

	executeDisable = 1 << 63

	// addressMask covers bits 12-51, where the hardware stores the frame
	// address of a present entry.
	addressMask uint64 = 0x000ffffffffff000
)

// Flags is the decoded flag set of a single page table entry. Encoding and
// decoding of the hardware bit positions happens only in the PTE codec
// below; everything above it deals in named booleans.
type Flags struct {
	// Present marks the entry as installed. All other fields are
	// meaningful only while Present is set.
	Present bool

	// Writable permits writes through this entry. On an intermediate
	// entry it gates the whole subtree.
	Writable bool

	// UserAccessible permits ring-3 accesses.
	UserAccessible bool

	// WriteThrough selects write-through instead of write-back caching.
	WriteThrough bool

	// CacheDisabled disables caching for the mapped range.
	CacheDisabled bool

	// Accessed is set by the CPU when the mapping is used.
	Accessed bool

	// Dirty is set by the CPU on a write through the mapping.
	Dirty bool

	// Huge marks a large leaf at L2 or L3. Represented for completeness;
	// the mapper only installs 4 KiB leaves.
	Huge bool

	// Global keeps the translation cached across address-space switches.
	Global bool

	// NoExecute forbids instruction fetches through this entry.
	NoExecute bool

	// Software carries the three hardware-ignored bits (9-11).
	Software uint8
}

// bits encodes f into its hardware representation.
func (f Flags) bits() uint64 {
	var v uint64
	if f.Present {
		v |= present
	}
	if f.Writable {
		v |= writable
	}
	if f.UserAccessible {
		v |= user
	}
	if f.WriteThrough {
		v |= writeThrough
	}
	if f.CacheDisabled {
		v |= cacheDisable
	}
	if f.Accessed {
		v |= accessed
	}
	if f.Dirty {
		v |= dirty
	}
	if f.Huge {
		v |= huge
	}
	if f.Global {
		v |= global
	}
	if f.NoExecute {
		v |= executeDisable
	}
	v |= uint64(f.Software&softwareMask) << softwareShift
	return v
}

// flagsFromBits decodes the hardware representation.
func flagsFromBits(v uint64) Flags {
	return Flags{
		Present:        v&present != 0,
		Writable:       v&writable != 0,
		UserAccessible: v&user != 0,
		WriteThrough:   v&writeThrough != 0,
		CacheDisabled:  v&cacheDisable != 0,
		Accessed:       v&accessed != 0,
		Dirty:          v&dirty != 0,
		Huge:           v&huge != 0,
		Global:         v&global != 0,
		NoExecute:      v&executeDisable != 0,
		Software:       uint8(v>>softwareShift) & softwareMask,
	}
}

// PTE is a single page table entry: one 64-bit hardware word holding a frame
// address and a flag set, or nothing at all while the present bit is clear.
//
// Entries are accessed atomically so that a hardware walk racing with a
// well-ordered software update never observes a torn word. This does not
// make multi-entry operations atomic; see the package comment.
type PTE uint64

// Clear resets this entry to the absent state.
//
//go:nosplit
func (p *PTE) Clear() {
	atomic.StoreUint64((*uint64)(p), 0)
}

// Present returns true iff this entry is installed.
//
//go:nosplit
func (p *PTE) Present() bool {
	return atomic.LoadUint64((*uint64)(p))&present != 0
}

// Set replaces the whole entry with the given frame address and flags. There
// is no partial update: previous contents are overwritten.
//
// The frame address must be page-aligned; the mapper validates its inputs
// before reaching the codec, so a violation here is a programming error.
//
//go:nosplit
func (p *PTE) Set(frame addr.Phys, flags Flags) {
	if !frame.IsPageAligned() {
		panic("pagetables: frame address is not page-aligned")
	}
	atomic.StoreUint64((*uint64)(p), uint64(frame)&addressMask|flags.bits())
}

// Address returns the frame address stored in this entry. The value is
// meaningless unless Present returns true.
//
//go:nosplit
func (p *PTE) Address() addr.Phys {
	return addr.Phys(atomic.LoadUint64((*uint64)(p)) & addressMask)
}

// Flags returns the decoded flag set, masking away the address bits.
//
//go:nosplit
func (p *PTE) Flags() Flags {
	return flagsFromBits(atomic.LoadUint64((*uint64)(p)) &^ addressMask)
}
