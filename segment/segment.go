/*
 * zkvm - Segment and Session boundary artifacts.
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

// Package segment holds the pure data artifacts the Executor produces
// at each segment boundary and the Session that aggregates them
// (component F, spec §3/§4.F), plus the two reference sink
// implementations §6 asks for.
package segment

import (
	"github.com/rcornwell/zkvm/executor/pending"
	"github.com/rcornwell/zkvm/image"
	"github.com/rcornwell/zkvm/pagetable"
)

// TraceKind tags which of the three trace event variants an event is.
type TraceKind int

const (
	InstructionStart TraceKind = iota
	RegisterSet
	MemorySet
)

// TraceEvent is one entry in a segment's optional debug trace (§6).
type TraceEvent struct {
	Kind  TraceKind
	Cycle uint64
	PC    uint32
	Reg   uint8
	Addr  uint32
	Value uint32
}

// TraceSink receives trace events as they are committed, synchronously
// and in commit order.
type TraceSink func(TraceEvent)

// Segment is the boundary artifact produced once per segment (§3/§4.F).
type Segment struct {
	Index       uint64
	PreImage    *image.Image
	PostImageID [32]byte
	ExitCode    pending.Exit
	Syscalls    []pending.SyscallRecord
	Faults      pagetable.Faults
	Po2         uint32
	SplitInsn   uint64
	InsnCycles  uint64
	DebugTrace  []TraceEvent // present only when the environment asked for tracing
}

// Handle is an opaque reference to a persisted Segment, produced and
// interpreted by a Sink. The core never inspects it.
type Handle interface{}

// Sink receives a completed Segment and returns the Handle retained in
// the Session.
type Sink func(Segment) (Handle, error)

// Session is the ordered result of one end-to-end run (§3/§4.F).
type Session struct {
	Segments []Handle
	Journal  []byte
	ExitCode pending.Exit

	// InputDigest and Assumptions are carried through from the
	// environment unchanged (§6); the core never inspects them.
	InputDigest [32]byte
	Assumptions [][32]byte
}
