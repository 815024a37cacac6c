/*
 * zkvm - Per-segment page residency and dirty-tracking state machine.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package pagetable tracks, for the lifetime of a single segment, which
// memory-image pages are resident, dirty, or would become so — and what
// that costs in cycles (component B, spec §3/§4.B).
//
// The Merkle tree over the image's leaf pages is addressed with the
// standard heap numbering: leaf page p lives at node leafCount+p, the
// root is node 1, and a node's parent is node/2. Walking a leaf to the
// root is the leaf's ancestor chain; every node on that chain (leaf and
// ancestors alike) is dense-indexed scratch, mirroring the teacher's
// array-of-structures subchannel and TLB tables rather than a sparse
// map.
package pagetable

import (
	"sort"

	"github.com/rcornwell/zkvm/internal/constants"
)

// Status is a page's residency state for the current segment.
type Status int

const (
	Unloaded Status = iota
	LoadedClean
	LoadedDirty
)

// Dir selects whether a marking is for a load or a store.
type Dir int

const (
	Load Dir = iota
	Store
)

// Faults is the final per-direction record of pages that transitioned
// during a segment: Reads is every page loaded, Writes is every page
// made dirty. Writes is always a subset of Reads (a store implies an
// earlier load).
type Faults struct {
	Reads  []uint32
	Writes []uint32
}

// PageTable is per-segment scratch: it is cleared at the start of every
// segment and rebuilt as instructions and ecalls touch pages.
type PageTable struct {
	leafCount uint32
	status    []Status // index 1..2*leafCount-1; 0 unused

	loadFaults  map[uint32]struct{} // leaf indices loaded this segment
	storeFaults map[uint32]struct{} // leaf indices dirtied this segment
}

// New returns a PageTable over an image with leafCount pages, all
// Unloaded.
func New(leafCount uint32) *PageTable {
	return &PageTable{
		leafCount:   leafCount,
		status:      make([]Status, 2*leafCount),
		loadFaults:  make(map[uint32]struct{}),
		storeFaults: make(map[uint32]struct{}),
	}
}

func (pt *PageTable) leafNode(page uint32) uint32 { return pt.leafCount + page }

// chain returns the node ids from page's leaf up to and including the
// root, in leaf-to-root order.
func (pt *PageTable) chain(page uint32) []uint32 {
	nodes := make([]uint32, 0, 16)
	node := pt.leafNode(page)
	for {
		nodes = append(nodes, node)
		if node == 1 {
			return nodes
		}
		node /= 2
	}
}

// MarkRoot pre-charges the Merkle root being resident for this
// segment. Returns the (read, write) cycles incurred — the root is
// only ever a read cost, never a write cost on its own.
func (pt *PageTable) MarkRoot() (readCycles, writeCycles uint32) {
	if pt.status[1] == Unloaded {
		pt.status[1] = LoadedClean
		return constants.CyclesPerFullPage, 0
	}
	return 0, 0
}

// PagesNeeded returns the set of node ids (leaf and ancestors) that
// would transition if page were marked in direction dir. It does not
// mutate state.
func (pt *PageTable) PagesNeeded(page uint32, dir Dir) []uint32 {
	chain := pt.chain(page)
	out := make([]uint32, 0, len(chain))
	for _, node := range chain {
		switch dir {
		case Load:
			if pt.status[node] == Unloaded {
				out = append(out, node)
			}
		case Store:
			if pt.status[node] != LoadedDirty {
				out = append(out, node)
			}
		}
	}
	return out
}

// CyclesNeeded returns the incremental cycle cost of marking page in
// direction dir: one CyclesPerFullPage charge per node that would
// transition. Zero if marking page would change nothing.
func (pt *PageTable) CyclesNeeded(page uint32, dir Dir) uint32 {
	return uint32(len(pt.PagesNeeded(page, dir))) * constants.CyclesPerFullPage
}

// MarkPage commits the marking of page in direction dir and returns
// the same incremental cycle count CyclesNeeded would have reported
// beforehand.
func (pt *PageTable) MarkPage(page uint32, dir Dir) uint32 {
	nodes := pt.PagesNeeded(page, dir)
	for _, node := range nodes {
		if dir == Load {
			pt.status[node] = LoadedClean
		} else {
			pt.status[node] = LoadedDirty
		}
	}
	if len(nodes) == 0 {
		return 0
	}
	switch dir {
	case Load:
		pt.loadFaults[page] = struct{}{}
	case Store:
		pt.storeFaults[page] = struct{}{}
		pt.loadFaults[page] = struct{}{} // a dirty page is, by definition, resident
	}
	return uint32(len(nodes)) * constants.CyclesPerFullPage
}

func addrPage(addr uint32) uint32 { return addr / constants.PageSize }

// CyclesNeededAddr is CyclesNeeded for the page containing addr.
func (pt *PageTable) CyclesNeededAddr(addr uint32, dir Dir) uint32 {
	return pt.CyclesNeeded(addrPage(addr), dir)
}

// MarkAddr is MarkPage for the page containing addr.
func (pt *PageTable) MarkAddr(addr uint32, dir Dir) uint32 {
	return pt.MarkPage(addrPage(addr), dir)
}

// CalcPageFaults returns the final read/write fault sets for this
// segment, each sorted ascending for deterministic segment output.
func (pt *PageTable) CalcPageFaults() Faults {
	f := Faults{
		Reads:  make([]uint32, 0, len(pt.loadFaults)),
		Writes: make([]uint32, 0, len(pt.storeFaults)),
	}
	for p := range pt.loadFaults {
		f.Reads = append(f.Reads, p)
	}
	for p := range pt.storeFaults {
		f.Writes = append(f.Writes, p)
	}
	sort.Slice(f.Reads, func(i, j int) bool { return f.Reads[i] < f.Reads[j] })
	sort.Slice(f.Writes, func(i, j int) bool { return f.Writes[i] < f.Writes[j] })
	return f
}

// Clear resets every page to Unloaded and drops the fault sets, ready
// for the next segment.
func (pt *PageTable) Clear() {
	for i := range pt.status {
		pt.status[i] = Unloaded
	}
	pt.loadFaults = make(map[uint32]struct{})
	pt.storeFaults = make(map[uint32]struct{})
}
