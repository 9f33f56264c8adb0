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

	"github.com/xalyes/kmem/pkg/addr"
)

// ErrOutOfMemory is returned by an Allocator when no physical memory is
// available for a new table. The mapper surfaces it verbatim and never
// retries.
var ErrOutOfMemory = errors.New("out of physical memory")

// Allocator is the frame-supply capability the mapper extends the tree
// with: physical-frame bookkeeping lives behind it, outside this package.
type Allocator interface {
	// AllocateTable returns exclusive access to a fresh, zeroed,
	// page-aligned table, or ErrOutOfMemory when physical memory is
	// exhausted.
	AllocateTable() (*PageTable, error)
}

// RuntimeAllocator supplies page tables carved from the Go heap, for tests
// and host-side tools. The runtime cannot be asked for aligned memory
// directly, so each table is cut out of an oversized buffer at the first
// page boundary.
//
// Tables handed out are valid for the lifetime of the allocator.
type RuntimeAllocator struct {
	// buffers pins the backing allocations so the garbage collector keeps
	// the carved tables alive.
	buffers [][]byte
}

// NewRuntimeAllocator returns an empty RuntimeAllocator.
func NewRuntimeAllocator() *RuntimeAllocator {
	return &RuntimeAllocator{}
}

// AllocateTable implements Allocator.AllocateTable. It never fails: Go heap
// exhaustion is fatal to the process before it is visible here.
func (a *RuntimeAllocator) AllocateTable() (*PageTable, error) {
	buf := make([]byte, 2*addr.PageSize-1)
	a.buffers = append(a.buffers, buf)
	// The runtime zeroes the buffer, so every slot starts absent.
	return alignedTable(buf), nil
}
