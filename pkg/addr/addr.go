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

// Package addr defines the virtual and physical address types used by the
// memory-management core, along with page-granular decomposition and
// alignment helpers.
//
// A virtual address decomposes into four 9-bit table indices (bits 39-47,
// 30-38, 21-29 and 12-20) selecting one slot at each level of the four-level
// translation tree, plus a 12-bit in-page offset.
package addr

// Page geometry. The mapping core only ever operates on 4 KiB pages.
const (
	// PageShift is the number of offset bits within a page.
	PageShift = 12

	// PageSize is the size of a page and of a page-table frame.
	PageSize = 1 << PageShift

	indexBits = 9
	indexMask = (1 << indexBits) - 1

	l1Shift = PageShift
	l2Shift = l1Shift + indexBits
	l3Shift = l2Shift + indexBits
	l4Shift = l3Shift + indexBits
)

// Virt is a virtual address: an address as issued by executing code,
// translated by the hardware before any access reaches physical memory.
type Virt uint64

// Phys is a physical address, naming a location in installed memory.
type Phys uint64

// L4Index returns the root-level table index (bits 39-47).
//
//go:nosplit
func (v Virt) L4Index() uint16 {
	return uint16((v >> l4Shift) & indexMask)
}

// L3Index returns the third-level table index (bits 30-38).
//
//go:nosplit
func (v Virt) L3Index() uint16 {
	return uint16((v >> l3Shift) & indexMask)
}

// L2Index returns the second-level table index (bits 21-29).
//
//go:nosplit
func (v Virt) L2Index() uint16 {
	return uint16((v >> l2Shift) & indexMask)
}

// L1Index returns the leaf-level table index (bits 12-20).
//
//go:nosplit
func (v Virt) L1Index() uint16 {
	return uint16((v >> l1Shift) & indexMask)
}

// PageOffset returns the offset of v within its page (bits 0-11).
//
//go:nosplit
func (v Virt) PageOffset() uint64 {
	return uint64(v) & (PageSize - 1)
}

// IsPageAligned returns true iff v is a multiple of the page size.
//
//go:nosplit
func (v Virt) IsPageAligned() bool {
	return v&(PageSize-1) == 0
}

// RoundDown returns the base address of the page containing v.
//
//go:nosplit
func (v Virt) RoundDown() Virt {
	return v &^ (PageSize - 1)
}

// IsPageAligned returns true iff p is a multiple of the page size.
//
//go:nosplit
func (p Phys) IsPageAligned() bool {
	return p&(PageSize-1) == 0
}

// RoundDown returns the base address of the frame containing p.
//
//go:nosplit
func (p Phys) RoundDown() Phys {
	return p &^ (PageSize - 1)
}

// RoundDown is the raw-integer form of Virt.RoundDown and Phys.RoundDown.
//
//go:nosplit
func RoundDown(addr uint64) uint64 {
	return addr &^ (PageSize - 1)
}

// Compose rebuilds a virtual address from its four table indices and the
// in-page offset. Bit 47 is sign-extended so the result is canonical; for
// any canonical address, Compose inverts the index decomposition.
func Compose(l4, l3, l2, l1 uint16, off uint64) Virt {
	v := uint64(l4&indexMask)<<l4Shift |
		uint64(l3&indexMask)<<l3Shift |
		uint64(l2&indexMask)<<l2Shift |
		uint64(l1&indexMask)<<l1Shift |
		off&(PageSize-1)
	if v&(1<<(l4Shift+indexBits-1)) != 0 {
		ones := ^uint64(0)
		v |= ones << (l4Shift + indexBits)
	}
	return Virt(v)
}
