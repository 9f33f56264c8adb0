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

//go:build linux

package pagetables

import (
	"fmt"
	"unsafe"

	"github.com/xalyes/kmem/pkg/addr"
	"github.com/xalyes/kmem/pkg/memutil"
)

// MmapAllocator supplies page tables backed by one anonymous mapping each.
// The kernel hands out page-aligned, zero-filled memory, so no carving is
// needed; unlike RuntimeAllocator it can also give the memory back.
type MmapAllocator struct {
	mappings [][]byte
}

// NewMmapAllocator returns an empty MmapAllocator.
func NewMmapAllocator() *MmapAllocator {
	return &MmapAllocator{}
}

// AllocateTable implements Allocator.AllocateTable.
func (a *MmapAllocator) AllocateTable() (*PageTable, error) {
	b, err := memutil.MapAnonymous(addr.PageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap: %v", ErrOutOfMemory, err)
	}
	a.mappings = append(a.mappings, b)
	return (*PageTable)(unsafe.Pointer(&b[0])), nil
}

// Release unmaps every table this allocator has handed out. No table
// obtained from it may be touched afterwards.
func (a *MmapAllocator) Release() error {
	var first error
	for _, b := range a.mappings {
		if err := memutil.Unmap(b); err != nil && first == nil {
			first = err
		}
	}
	a.mappings = nil
	return first
}
