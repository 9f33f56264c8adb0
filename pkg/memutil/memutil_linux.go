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

// Package memutil provides anonymous-memory helpers for the host-side
// page-table allocators.
package memutil

import (
	"golang.org/x/sys/unix"
)

// MapAnonymous returns a private, zero-filled, page-aligned mapping of the
// given size.
func MapAnonymous(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}

// Unmap releases a mapping returned by MapAnonymous.
func Unmap(b []byte) error {
	return unix.Munmap(b)
}
