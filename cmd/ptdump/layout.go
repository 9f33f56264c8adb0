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

package main

import (
	"fmt"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/xalyes/kmem/pkg/addr"
)

// hexValue is a uint64 that unmarshals from a TOML string in any base
// strconv accepts, so layouts can use the 0x form addresses are usually
// written in.
type hexValue uint64

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *hexValue) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 0, 64)
	if err != nil {
		return fmt.Errorf("parse address %q: %v", string(text), err)
	}
	*h = hexValue(v)
	return nil
}

// Mapping is one page-to-frame entry of a layout.
type Mapping struct {
	Virt hexValue `toml:"virt"`
	Phys hexValue `toml:"phys"`
}

// Layout describes a page-table tree to build: a set of 4 KiB mappings and
// the physical-to-virtual view offset to build the tree through.
type Layout struct {
	Offset   hexValue  `toml:"offset"`
	Mappings []Mapping `toml:"mapping"`
}

// LoadLayout reads and validates a TOML layout file.
func LoadLayout(path string) (*Layout, error) {
	var layout Layout
	if _, err := toml.DecodeFile(path, &layout); err != nil {
		return nil, fmt.Errorf("load layout %s: %w", path, err)
	}
	if err := layout.validate(); err != nil {
		return nil, fmt.Errorf("layout %s: %w", path, err)
	}
	return &layout, nil
}

func (l *Layout) validate() error {
	if len(l.Mappings) == 0 {
		return fmt.Errorf("no mappings defined")
	}
	if !addr.Phys(l.Offset).IsPageAligned() {
		return fmt.Errorf("offset %#x is not page-aligned", uint64(l.Offset))
	}
	for i, m := range l.Mappings {
		if !addr.Virt(m.Virt).IsPageAligned() {
			return fmt.Errorf("mapping %d: virtual address %#x is not page-aligned", i, uint64(m.Virt))
		}
		if !addr.Phys(m.Phys).IsPageAligned() {
			return fmt.Errorf("mapping %d: physical address %#x is not page-aligned", i, uint64(m.Phys))
		}
	}
	return nil
}
