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
	"unsafe"

	"github.com/xalyes/kmem/pkg/addr"
)

// This file is the only place the package turns raw physical addresses into
// table references and back. All table descent funnels through these two
// conversions; auditing them audits the package's entire unsafe surface.
//
// The correctness contract is the caller's offset: a table stored at
// physical address p must be readable and writable at virtual address
// p+offset for the duration of the operation, and the tree must not be
// mutated concurrently.

// tableForPhys returns a reference to the page table stored at the given
// physical address, viewed through the supplied physical-to-virtual offset.
//
//go:nosplit
func tableForPhys(phys addr.Phys, offset uint64) *PageTable {
	return (*PageTable)(unsafe.Pointer(uintptr(uint64(phys) + offset)))
}

// physForTable is the inverse view: the physical address of a table the
// caller reaches at virtual address table+0, given that physical memory is
// visible at the supplied offset.
//
//go:nosplit
func physForTable(t *PageTable, offset uint64) addr.Phys {
	return addr.Phys(uint64(uintptr(unsafe.Pointer(t))) - offset)
}
