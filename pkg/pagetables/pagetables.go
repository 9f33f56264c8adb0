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

// Package pagetables implements the four-level x86-64 page-table structure
// of the kernel: a PTE codec, the 512-slot table container, and the mapper
// and translator primitives that install, change and resolve 4 KiB mappings.
//
// The package performs no locking. Operations are multi-word reads and
// writes across several tables; callers must hold exclusive access to the
// tree (the root table plus everything reachable from it) for the duration
// of a call. Tables are created lazily and never torn down: a subtree, once
// linked in, persists for the lifetime of its root.
package pagetables

import (
	"errors"
	"fmt"

	"github.com/xalyes/kmem/pkg/addr"
)

// EntryCount is the number of slots in a single page table.
const EntryCount = 512

// PageTable is one level of the translation tree. The hardware addresses
// tables by physical frame, so a table must start at a page-aligned physical
// address: obtain tables through an Allocator, never through plain Go
// allocation.
//
// A zero PageTable has every slot absent.
type PageTable [EntryCount]PTE

// Clear resets every slot to the absent state so the table can be reused.
// The mapper never removes tables; this exists for eventual teardown
// support and for recycling by allocators.
func (pt *PageTable) Clear() {
	for i := range pt {
		pt[i].Clear()
	}
}

var (
	// ErrMisalignedAddress is returned when a virtual or physical address
	// handed to the mapper is not a multiple of the page size. It is
	// reported before any table is touched.
	ErrMisalignedAddress = errors.New("address is not page-aligned")

	// ErrAlreadyMapped is returned by the strict mapping operations when
	// the target virtual page already maps to a different frame. The
	// existing mapping is left untouched.
	ErrAlreadyMapped = errors.New("virtual page is already mapped to a different frame")
)

// FlushPage invalidates any cached translation for the page containing the
// given virtual address. It defaults to the hardware INVLPG stub, which may
// only execute in ring 0; hosted environments (tests, inspection tools)
// replace it with a no-op.
var FlushPage = flushPage

type mappingMode int

const (
	// mapStrict refuses to replace a present leaf that names a different
	// frame.
	mapStrict mappingMode = iota

	// mapRemap overwrites such a leaf and invalidates the stale
	// translation.
	mapRemap
)

// Map installs a mapping from virt to phys in the tree rooted at root,
// materializing missing intermediate tables through alloc. Both addresses
// must be page-aligned. Re-installing an identical mapping is a no-op;
// installing over a different frame fails with ErrAlreadyMapped.
//
// The tree is addressed through the identity view (offset 0): every table
// must be reachable at its physical address.
func Map(root *PageTable, virt addr.Virt, phys addr.Phys, alloc Allocator) error {
	return mapPage(root, virt, phys, alloc, mapStrict, 0)
}

// MapWithOffset is Map through a relocated view of the table tree: each
// table's physical address is reachable at physical+offset, as during early
// boot when physical memory is visible at a fixed virtual offset. The offset
// is always passed explicitly; the package keeps no ambient view state.
func MapWithOffset(root *PageTable, virt addr.Virt, phys addr.Phys, alloc Allocator, offset uint64) error {
	return mapPage(root, virt, phys, alloc, mapStrict, offset)
}

// Remap is Map with overwrite allowed: a leaf already naming a different
// frame is replaced and the stale cached translation for the virtual page is
// invalidated before the call returns.
func Remap(root *PageTable, virt addr.Virt, phys addr.Phys, alloc Allocator) error {
	return mapPage(root, virt, phys, alloc, mapRemap, 0)
}

// mapPage is the single descent all mapping operations share.
func mapPage(root *PageTable, virt addr.Virt, phys addr.Phys, alloc Allocator, mode mappingMode, offset uint64) error {
	if !virt.IsPageAligned() {
		return fmt.Errorf("map virtual address %#x: %w", uint64(virt), ErrMisalignedAddress)
	}
	if !phys.IsPageAligned() {
		return fmt.Errorf("map physical address %#x: %w", uint64(phys), ErrMisalignedAddress)
	}

	// Descend L4 -> L3 -> L2, extending the tree as needed. An allocation
	// failure aborts the descent; tables linked in above the failing
	// level stay linked and will be reused by a later attempt.
	l3, err := nextTable(&root[virt.L4Index()], alloc, offset)
	if err != nil {
		return err
	}
	l2, err := nextTable(&l3[virt.L3Index()], alloc, offset)
	if err != nil {
		return err
	}
	l1, err := nextTable(&l2[virt.L2Index()], alloc, offset)
	if err != nil {
		return err
	}

	pte := &l1[virt.L1Index()]
	if pte.Present() {
		if pte.Address() == phys {
			// Identical mapping already installed.
			return nil
		}
		if mode == mapStrict {
			return fmt.Errorf("map %#x -> %#x: %w", uint64(virt), uint64(phys), ErrAlreadyMapped)
		}
		pte.Set(phys, Flags{Present: true, Writable: true})
		// The replaced translation may still be cached.
		FlushPage(uintptr(virt))
		return nil
	}

	// Fresh leaf: nothing stale can be cached, no invalidation needed.
	pte.Set(phys, Flags{Present: true, Writable: true})
	return nil
}

// nextTable returns the table the given entry points at, materializing a
// zeroed one through alloc if the entry is absent. A new table is linked in
// with present+writable before it is returned; on allocation failure nothing
// is written at this level.
func nextTable(pte *PTE, alloc Allocator, offset uint64) (*PageTable, error) {
	if pte.Present() {
		return tableForPhys(pte.Address(), offset), nil
	}
	t, err := alloc.AllocateTable()
	if err != nil {
		return nil, fmt.Errorf("allocate intermediate table: %w", err)
	}
	pte.Set(physForTable(t, offset), Flags{Present: true, Writable: true})
	return t, nil
}

// Translate resolves virt in the tree rooted at root through the identity
// view. It never allocates: the first absent entry at any level yields
// false, as does an address that is not page-aligned (an unaligned address
// names no page).
func Translate(root *PageTable, virt addr.Virt) (addr.Phys, bool) {
	return TranslateWithOffset(root, virt, 0)
}

// TranslateWithOffset is Translate through a relocated view of the table
// tree; see MapWithOffset.
func TranslateWithOffset(root *PageTable, virt addr.Virt, offset uint64) (addr.Phys, bool) {
	if !virt.IsPageAligned() {
		return 0, false
	}
	table := root
	for _, index := range [3]uint16{virt.L4Index(), virt.L3Index(), virt.L2Index()} {
		pte := &table[index]
		if !pte.Present() {
			return 0, false
		}
		table = tableForPhys(pte.Address(), offset)
	}
	pte := &table[virt.L1Index()]
	if !pte.Present() {
		return 0, false
	}
	return pte.Address(), true
}
