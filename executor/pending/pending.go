/*
 * zkvm - Pending operation and exit code types shared by the stepper,
 * syscall layer, and executor.
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

// Package pending holds the single-slot "effect computed but not yet
// applied" value the Executor threads between step and apply (spec
// §3, "Pending Operation"). It is split out from both the stepper and
// the executor so the syscall layer — which must build a PendingECall
// — can depend on it without creating an import cycle with either.
package pending

// Kind tags which variant of the pending-operation union an Op holds.
type Kind int

const (
	// Load reads a word, writes a register, and advances PC by 4.
	Load Kind = iota
	// Store writes a word and advances PC by 4.
	Store
	// RegSet writes a register (unless Reg is 0), sets PC to NewPC,
	// and consumes Cycles segment cycles.
	RegSet
	// ECall is a marker: the decoder produced an ecall and the
	// Executor must invoke the syscall layer to replace this marker
	// with a PendingECall before it can be estimated or committed.
	ECall
	// PendingECall is the materialized effect of a syscall
	// invocation, ready to be estimated and committed.
	PendingECall
)

// RAMWrite is one word written to guest RAM by a syscall.
type RAMWrite struct {
	Addr uint32
	Val  uint32
}

// RegWrite is one register written by a syscall.
type RegWrite struct {
	Reg uint8
	Val uint32
}

// SyscallRecord is the host-facing log entry describing what a
// syscall returned to the guest, carried verbatim into the owning
// Segment for later replay by the prover.
type SyscallRecord struct {
	Name    string
	Cycle   uint64
	PC      uint32
	A0, A1  uint32 // return register words
	Message string // free-form diagnostic, e.g. decoded arguments
}

// ExitKind enumerates why a segment ended.
type ExitKind int

const (
	// ExitNone means no exit occurred.
	ExitNone ExitKind = iota
	// ExitHalted means the guest requested termination.
	ExitHalted
	// ExitPaused means the guest requested a voluntary yield,
	// resumable from the next segment's pre-image.
	ExitPaused
	// ExitSystemSplit means the driver forced a segment boundary
	// because the current segment is already at its cap.
	ExitSystemSplit
	// ExitSystemLimit means the session cycle budget was exceeded.
	ExitSystemLimit
)

// Exit describes why execution stopped within a segment.
type Exit struct {
	Kind ExitKind
	Code uint32
}

// Op is the tagged pending-operation union (spec §3). At most one Op
// is held by the Executor between steps.
type Op struct {
	Kind Kind

	// Load / Store
	Addr uint32
	Val  uint32

	// Load (Reg) / RegSet (Reg, Val, NewPC, Cycles)
	Reg    uint8
	NewPC  uint32
	Cycles uint32

	// PendingECall
	RAMWrites     []RAMWrite
	RegWrites     []RegWrite
	PageLoads     []uint32
	SyscallRecord *SyscallRecord
	HasExit       bool
	ExitCode      Exit
}
