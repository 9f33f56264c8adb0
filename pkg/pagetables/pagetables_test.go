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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xalyes/kmem/pkg/addr"
)

// stubFlush replaces the INVLPG stub for the duration of the test (it may
// only execute in ring 0) and records the flushed addresses.
func stubFlush(t *testing.T) *[]uintptr {
	t.Helper()
	flushed := new([]uintptr)
	orig := FlushPage
	FlushPage = func(a uintptr) { *flushed = append(*flushed, a) }
	t.Cleanup(func() { FlushPage = orig })
	return flushed
}

func newTree(t *testing.T) (*PageTable, *RuntimeAllocator) {
	t.Helper()
	alloc := NewRuntimeAllocator()
	root, err := alloc.AllocateTable()
	if err != nil {
		t.Fatalf("AllocateTable: %v", err)
	}
	return root, alloc
}

type mapping struct {
	Virt addr.Virt
	Phys addr.Phys
}

// checkMappings verifies that the tree contains exactly the given leaf
// mappings, in ascending virtual order.
func checkMappings(t *testing.T, root *PageTable, offset uint64, want []mapping) {
	t.Helper()
	var found []mapping
	WalkLeaves(root, offset, func(virt addr.Virt, pte *PTE) {
		found = append(found, mapping{virt, pte.Address()})
	})
	if diff := cmp.Diff(want, found); diff != "" {
		t.Errorf("mappings mismatch (-want +got):\n%s", diff)
	}
}

func TestMapTranslate(t *testing.T) {
	root, alloc := newTree(t)

	if err := Map(root, 0x1000, 0x2000, alloc); err != nil {
		t.Fatalf("Map: %v", err)
	}
	phys, ok := Translate(root, 0x1000)
	if !ok || phys != 0x2000 {
		t.Fatalf("Translate(0x1000) = %#x, %v; want 0x2000, true", uint64(phys), ok)
	}
}

func TestMapIdempotent(t *testing.T) {
	root, alloc := newTree(t)

	if err := Map(root, 0x1000, 0x2000, alloc); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := Map(root, 0x1000, 0x2000, alloc); err != nil {
		t.Fatalf("identical re-Map: %v", err)
	}
	checkMappings(t, root, 0, []mapping{{0x1000, 0x2000}})
}

func TestMapConflict(t *testing.T) {
	root, alloc := newTree(t)

	if err := Map(root, 0x1000, 0x2000, alloc); err != nil {
		t.Fatalf("Map: %v", err)
	}
	err := Map(root, 0x1000, 0x3000, alloc)
	if !errors.Is(err, ErrAlreadyMapped) {
		t.Fatalf("conflicting Map = %v, want ErrAlreadyMapped", err)
	}
	// The original mapping is untouched.
	if phys, ok := Translate(root, 0x1000); !ok || phys != 0x2000 {
		t.Fatalf("Translate(0x1000) = %#x, %v; want 0x2000, true", uint64(phys), ok)
	}
}

func TestRemap(t *testing.T) {
	root, alloc := newTree(t)
	flushed := stubFlush(t)

	if err := Map(root, 0x1000, 0x2000, alloc); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(*flushed) != 0 {
		t.Fatalf("fresh install flushed %v, want nothing", *flushed)
	}

	if err := Remap(root, 0x1000, 0x3000, alloc); err != nil {
		t.Fatalf("Remap: %v", err)
	}
	if phys, ok := Translate(root, 0x1000); !ok || phys != 0x3000 {
		t.Fatalf("Translate(0x1000) = %#x, %v; want 0x3000, true", uint64(phys), ok)
	}
	// The stale translation for the virtual page must have been discarded.
	if len(*flushed) != 1 || (*flushed)[0] != 0x1000 {
		t.Fatalf("flushed %v, want [0x1000]", *flushed)
	}

	// Remapping to the identical frame is a no-op and flushes nothing.
	if err := Remap(root, 0x1000, 0x3000, alloc); err != nil {
		t.Fatalf("identical Remap: %v", err)
	}
	if len(*flushed) != 1 {
		t.Fatalf("identical Remap flushed %v, want one entry", *flushed)
	}
}

func TestMisalignedVirt(t *testing.T) {
	root, alloc := newTree(t)

	err := Map(root, 0x1001, 0x2000, alloc)
	if !errors.Is(err, ErrMisalignedAddress) {
		t.Fatalf("Map(0x1001) = %v, want ErrMisalignedAddress", err)
	}
	// Rejected before any table was touched: the root is fully absent.
	for i := range root {
		if root[i].Present() {
			t.Fatalf("root[%d] present after rejected Map", i)
		}
	}
}

func TestMisalignedPhys(t *testing.T) {
	root, alloc := newTree(t)
	flushed := stubFlush(t)

	for _, op := range []struct {
		name string
		call func() error
	}{
		{"Map", func() error { return Map(root, 0x1000, 0x2abc, alloc) }},
		{"Remap", func() error { return Remap(root, 0x1000, 0x2abc, alloc) }},
		{"MapWithOffset", func() error { return MapWithOffset(root, 0x1000, 0x2abc, alloc, 0) }},
	} {
		if err := op.call(); !errors.Is(err, ErrMisalignedAddress) {
			t.Errorf("%s = %v, want ErrMisalignedAddress", op.name, err)
		}
	}
	checkMappings(t, root, 0, nil)
	if len(*flushed) != 0 {
		t.Fatalf("rejected operations flushed %v", *flushed)
	}
}

func TestTranslateUnmapped(t *testing.T) {
	root, alloc := newTree(t)

	if _, ok := Translate(root, 0x1000); ok {
		t.Fatal("Translate on an empty tree reported a mapping")
	}

	if err := Map(root, 0x1000, 0x2000, alloc); err != nil {
		t.Fatalf("Map: %v", err)
	}
	// Absent sibling in the same leaf table.
	if _, ok := Translate(root, 0x2000); ok {
		t.Fatal("Translate(0x2000) reported a mapping")
	}
	// Absent at intermediate levels.
	for _, v := range []addr.Virt{0x40000000, 0x8000000000, 0xffff800000000000} {
		if _, ok := Translate(root, v); ok {
			t.Errorf("Translate(%#x) reported a mapping", uint64(v))
		}
	}
	// An unaligned address names no page.
	if _, ok := Translate(root, 0x1001); ok {
		t.Fatal("Translate(0x1001) reported a mapping")
	}
}

// limitAllocator fails with ErrOutOfMemory after a fixed number of tables.
type limitAllocator struct {
	inner Allocator
	left  int
	made  int
}

func (a *limitAllocator) AllocateTable() (*PageTable, error) {
	if a.left == 0 {
		return nil, ErrOutOfMemory
	}
	a.left--
	a.made++
	return a.inner.AllocateTable()
}

func TestAllocationFailure(t *testing.T) {
	root, alloc := newTree(t)

	// Mapping into an empty tree needs three intermediate tables; allow
	// one so the descent fails at L3.
	limited := &limitAllocator{inner: alloc, left: 1}
	err := Map(root, 0x1000, 0x2000, limited)
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("Map = %v, want ErrOutOfMemory", err)
	}

	// No leaf was written.
	if _, ok := Translate(root, 0x1000); ok {
		t.Fatal("Translate reported a mapping after failed Map")
	}

	// The table linked before the failure stays linked and is reused: the
	// retry only needs the two missing levels.
	retry := &limitAllocator{inner: alloc, left: 2}
	if err := Map(root, 0x1000, 0x2000, retry); err != nil {
		t.Fatalf("retry Map: %v", err)
	}
	if retry.made != 2 {
		t.Errorf("retry allocated %d tables, want 2", retry.made)
	}
	if phys, ok := Translate(root, 0x1000); !ok || phys != 0x2000 {
		t.Fatalf("Translate(0x1000) = %#x, %v; want 0x2000, true", uint64(phys), ok)
	}
}

func TestMapWithOffset(t *testing.T) {
	root, alloc := newTree(t)

	// Build and read the tree through a relocated view: table frames are
	// considered visible at physical+offset.
	const offset = 0x40000000

	if err := MapWithOffset(root, 0x1000, 0x2000, alloc, offset); err != nil {
		t.Fatalf("MapWithOffset: %v", err)
	}
	if phys, ok := TranslateWithOffset(root, 0x1000, offset); !ok || phys != 0x2000 {
		t.Fatalf("TranslateWithOffset = %#x, %v; want 0x2000, true", uint64(phys), ok)
	}
	// The identity view must not be used to read a relocated tree.
	checkMappings(t, root, offset, []mapping{{0x1000, 0x2000}})
}

func TestWalkLeaves(t *testing.T) {
	root, alloc := newTree(t)

	// Scatter mappings across every level boundary, including the upper
	// canonical half.
	installed := []mapping{
		{0x1000, 0xa000},
		{0x2000, 0xb000},
		{0x400000, 0xc000},
		{0x40000000, 0xd000},
		{0x8000000000, 0xe000},
		{0xffff800000000000, 0xf000},
	}
	for _, m := range installed {
		if err := Map(root, m.Virt, m.Phys, alloc); err != nil {
			t.Fatalf("Map(%#x): %v", uint64(m.Virt), err)
		}
	}
	checkMappings(t, root, 0, installed)
}

func TestClear(t *testing.T) {
	root, alloc := newTree(t)

	if err := Map(root, 0x1000, 0x2000, alloc); err != nil {
		t.Fatalf("Map: %v", err)
	}
	root.Clear()
	if _, ok := Translate(root, 0x1000); ok {
		t.Fatal("Translate reported a mapping after Clear")
	}
	checkMappings(t, root, 0, nil)
}
