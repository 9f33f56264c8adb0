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

// alignedTable returns the table occupying the first page-aligned span of
// buf. buf must hold at least 2*PageSize-1 bytes so such a span exists.
func alignedTable(buf []byte) *PageTable {
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (base + addr.PageSize - 1) &^ (addr.PageSize - 1)
	return (*PageTable)(unsafe.Pointer(aligned))
}
