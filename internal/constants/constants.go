/*
 * zkvm - Cycle and size constants shared by every component.
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

// Package constants holds the bit-exact cycle and size constants the
// driver is specified against (spec §6).
package constants

const (
	// WordSize is the width of a RISC-V word in bytes.
	WordSize uint32 = 4

	// PageSize is the size in bytes of one memory-image page.
	PageSize uint32 = 1024

	// MemSize is the total size in bytes of guest RAM. Chosen as a
	// power-of-two multiple of PageSize so the page array forms a
	// complete, unpadded Merkle tree (4096 leaves = 2^12).
	MemSize uint32 = 4 * 1024 * 1024

	// SystemRegionSize is the span of the SYSTEM region in the final
	// page of RAM used to carry the register file across segment
	// boundaries (32 registers, one word each). The PC is not stored
	// here; it travels as the image's own PC field.
	SystemRegionSize uint32 = 32 * WordSize

	// SystemRegionAddr is the base address of the SYSTEM region: the
	// final page of guest memory.
	SystemRegionAddr uint32 = MemSize - PageSize

	// MinCyclesPo2 is the smallest allowed segment cycle budget log2.
	MinCyclesPo2 uint32 = 13 // 8192 cycles

	// MaxCyclesPo2 is the largest allowed segment cycle budget log2.
	MaxCyclesPo2 uint32 = 24 // 16,777,216 cycles

	// ZKCycles is the fixed reserved tail for proof-system bookkeeping
	// folded into every segment's fini_cycles.
	ZKCycles uint32 = 256

	// SHACycles is the fixed cost of digesting the journal at segment
	// finalization.
	SHACycles uint32 = 72

	// CyclesPerFullPage is charged for each page transition (load or
	// store) a page-table marking incurs, and for whole-page ecall
	// traffic.
	CyclesPerFullPage uint32 = 100

	// DefaultInitCycles is the fixed head cost charged by the loader
	// before any guest instruction executes.
	DefaultInitCycles uint32 = 1200

	// JournalFD is the guest file descriptor the I/O layer redirects
	// into the captured journal buffer.
	JournalFD uint32 = 1

	// SyscallBaseCycles is the fixed dispatch overhead charged for
	// every ecall, independent of whatever page traffic it incurs.
	SyscallBaseCycles uint32 = 50
)

// FiniCycles returns the fixed tail cost for a segment: loader
// finalization plus the journal digest plus the reserved ZK slot.
func FiniCycles(loaderFini uint32) uint32 {
	return loaderFini + SHACycles + ZKCycles
}
