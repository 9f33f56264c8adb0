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

// Command ptdump builds a page-table tree from a declarative TOML layout
// and prints its leaf mappings, or translates individual addresses through
// it. It exists to inspect and debug memory layouts on a host, with the
// exact mapper the kernel uses.
package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/xalyes/kmem/pkg/addr"
	"github.com/xalyes/kmem/pkg/pagetables"
)

var (
	layoutPath    string
	translateArgs []string
	allowRemap    bool
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "ptdump --layout layout.toml",
	Short: "Build a page-table tree from a layout file and inspect it.",
	Long: `ptdump builds a four-level page-table tree from the mappings listed in a
TOML layout file, then either dumps every installed leaf mapping or
translates the requested virtual addresses through the tree.`,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVar(&layoutPath, "layout", "", "path to the TOML layout file")
	rootCmd.Flags().StringSliceVar(&translateArgs, "translate", nil,
		"virtual addresses to translate instead of dumping the whole tree")
	rootCmd.Flags().BoolVar(&allowRemap, "remap", false,
		"let later layout entries overwrite earlier ones")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "log every installed mapping")
	rootCmd.MarkFlagRequired("layout")
}

func run(cmd *cobra.Command, args []string) error {
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	// INVLPG is privileged; nothing on a host can rely on stale-TLB
	// semantics anyway.
	pagetables.FlushPage = func(uintptr) {}

	layout, err := LoadLayout(layoutPath)
	if err != nil {
		return err
	}
	offset := uint64(layout.Offset)
	if allowRemap && offset != 0 {
		return fmt.Errorf("--remap is only supported for identity layouts (offset 0)")
	}

	root, err := buildTree(layout, allowRemap)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(translateArgs) > 0 {
		return translateAll(out, root, offset, translateArgs)
	}
	dumpTree(out, root, offset)
	return nil
}

// buildTree installs every layout mapping into a fresh tree.
func buildTree(layout *Layout, remap bool) (*pagetables.PageTable, error) {
	alloc := pagetables.NewRuntimeAllocator()
	root, err := alloc.AllocateTable()
	if err != nil {
		return nil, err
	}
	offset := uint64(layout.Offset)
	for _, m := range layout.Mappings {
		virt, phys := addr.Virt(m.Virt), addr.Phys(m.Phys)
		if remap {
			err = pagetables.Remap(root, virt, phys, alloc)
		} else {
			err = pagetables.MapWithOffset(root, virt, phys, alloc, offset)
		}
		if err != nil {
			return nil, fmt.Errorf("install %#x -> %#x: %w", uint64(virt), uint64(phys), err)
		}
		logrus.WithFields(logrus.Fields{
			"virt": fmt.Sprintf("%#x", uint64(virt)),
			"phys": fmt.Sprintf("%#x", uint64(phys)),
		}).Debug("installed mapping")
	}
	return root, nil
}

// translateAll resolves each requested address through the tree. Addresses
// inside a mapped page translate with their in-page offset preserved.
func translateAll(w io.Writer, root *pagetables.PageTable, offset uint64, args []string) error {
	for _, s := range args {
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return fmt.Errorf("parse address %q: %v", s, err)
		}
		page := addr.Virt(v).RoundDown()
		phys, ok := pagetables.TranslateWithOffset(root, page, offset)
		if !ok {
			fmt.Fprintf(w, "%#018x -> <not mapped>\n", v)
			continue
		}
		fmt.Fprintf(w, "%#018x -> %#018x\n", v, uint64(phys)+addr.Virt(v).PageOffset())
	}
	return nil
}

// dumpTree prints every installed leaf mapping in virtual-address order.
func dumpTree(w io.Writer, root *pagetables.PageTable, offset uint64) {
	pagetables.WalkLeaves(root, offset, func(virt addr.Virt, pte *pagetables.PTE) {
		fmt.Fprintf(w, "%#018x -> %#018x\n", uint64(virt), uint64(pte.Address()))
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}
