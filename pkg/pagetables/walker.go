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
	"github.com/xalyes/kmem/pkg/addr"
)

// WalkLeaves visits every present leaf entry reachable from root, in
// ascending virtual-address order, composing the canonical virtual address
// of each mapped page. offset is the physical-to-virtual view offset the
// tree was built through; see MapWithOffset.
//
// The visitor receives a pointer to the live entry and must not retain it
// past the call. The walk itself never allocates and never mutates the tree.
func WalkLeaves(root *PageTable, offset uint64, fn func(virt addr.Virt, pte *PTE)) {
	for i4 := range root {
		e4 := &root[i4]
		if !e4.Present() {
			continue
		}
		l3 := tableForPhys(e4.Address(), offset)
		for i3 := range l3 {
			e3 := &l3[i3]
			if !e3.Present() {
				continue
			}
			l2 := tableForPhys(e3.Address(), offset)
			for i2 := range l2 {
				e2 := &l2[i2]
				if !e2.Present() {
					continue
				}
				l1 := tableForPhys(e2.Address(), offset)
				for i1 := range l1 {
					e1 := &l1[i1]
					if !e1.Present() {
						continue
					}
					fn(addr.Compose(uint16(i4), uint16(i3), uint16(i2), uint16(i1), 0), e1)
				}
			}
		}
	}
}
