/*
 * zkvm - Executor: owns RAM, registers, and PC; drives the two-phase
 * pending-op protocol; decides resize vs. split; emits segments.
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

// Package executor is the core of the driver (component E, spec
// §4.E): it holds the only mutable guest state (RAM, registers, PC),
// asks the stepper or the syscall layer for pending operations,
// estimates their cost against the page table, and either commits
// them, grows the current segment, or splits. Everything else in this
// module — image, pagetable, stepper, syscall, segment — is a pure or
// narrowly-scoped collaborator this package wires together.
package executor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
	"sort"

	"github.com/rcornwell/zkvm/executor/pending"
	"github.com/rcornwell/zkvm/image"
	"github.com/rcornwell/zkvm/internal/constants"
	"github.com/rcornwell/zkvm/pagetable"
	"github.com/rcornwell/zkvm/segment"
	"github.com/rcornwell/zkvm/stepper"
	"github.com/rcornwell/zkvm/syscall"
)

// Executor is the exclusive owner of guest RAM, registers, and PC
// between segment boundaries (spec §5, "Shared resources").
type Executor struct {
	env *Environment

	ram  []byte
	regs [32]uint32
	pc   uint32

	pending  *pending.Op
	pt       *pagetable.PageTable
	preImage *image.Image

	segmentIndex uint64
	po2          uint32
	segmentLimit uint32

	segmentCycle uint32
	readCycles   uint32
	writeCycles  uint32
	finiCycles   uint32
	initCycles   uint32
	insnCycles   uint64

	prevSegmentCycles uint64

	syscalls   []pending.SyscallRecord
	debugTrace []segment.TraceEvent
}

// New constructs an Executor: it copies initialImage's pages into RAM,
// loads the register file from the SYSTEM region, sets PC to entryPC,
// and starts the first segment.
func New(env *Environment, initialImage *image.Image, entryPC uint32) (*Executor, error) {
	ram := make([]byte, constants.MemSize)
	for p := uint32(0); p < image.PageCount; p++ {
		addr := p * constants.PageSize
		initialImage.LoadRegionInPage(addr, ram[addr:addr+constants.PageSize])
	}

	ex := &Executor{
		env:        env,
		ram:        ram,
		preImage:   initialImage,
		pt:         pagetable.New(image.PageCount),
		initCycles: env.InitCycles,
		pc:         entryPC,
	}
	for i := uint8(0); i < 32; i++ {
		ex.regs[i] = ex.loadWord(constants.SystemRegionAddr + uint32(i)*constants.WordSize)
	}
	if err := ex.startSegment(); err != nil {
		return nil, err
	}
	return ex, nil
}

// PC returns the current program counter.
func (ex *Executor) PC() uint32 { return ex.pc }

// Cycle implements syscall.Context: the cumulative number of committed
// cycles, across this and all prior segments, as of the current
// instruction.
func (ex *Executor) Cycle() uint64 { return ex.prevSegmentCycles + uint64(ex.segmentCycle) }

// LoadRAM implements stepper.View.
func (ex *Executor) LoadRAM(addr uint32) uint32 { return ex.loadWord(addr) }

// LoadReg implements stepper.View.
func (ex *Executor) LoadReg(reg uint8) uint32 { return ex.regs[reg] }

// PeekRegister implements syscall.Context.
func (ex *Executor) PeekRegister(reg uint8) uint32 { return ex.regs[reg] }

// PeekU8 implements syscall.Context.
func (ex *Executor) PeekU8(addr uint32) uint8 { return ex.ram[addr] }

// PeekU32 implements syscall.Context.
func (ex *Executor) PeekU32(addr uint32) uint32 { return ex.loadWord(addr) }

// PeekRegion implements syscall.Context.
func (ex *Executor) PeekRegion(addr, length uint32) []byte {
	out := make([]byte, length)
	copy(out, ex.ram[addr:addr+length])
	return out
}

// PeekPage implements syscall.Context.
func (ex *Executor) PeekPage(idx uint32) []byte {
	out := make([]byte, constants.PageSize)
	base := idx * constants.PageSize
	copy(out, ex.ram[base:base+constants.PageSize])
	return out
}

// Writer implements syscall.Context.
func (ex *Executor) Writer(fd uint32) (io.Writer, bool) { return ex.env.Writer(fd) }

func (ex *Executor) loadWord(addr uint32) uint32 {
	return binary.LittleEndian.Uint32(ex.ram[addr : addr+constants.WordSize])
}

func (ex *Executor) writeWord(addr, val uint32) {
	binary.LittleEndian.PutUint32(ex.ram[addr:addr+constants.WordSize], val)
}

func (ex *Executor) setReg(reg uint8, val uint32) {
	if reg != 0 {
		ex.regs[reg] = val
	}
}

func (ex *Executor) emitTrace(ev segment.TraceEvent) {
	ev.Cycle = ex.Cycle()
	if ex.env.Trace != nil {
		ex.env.Trace(ev)
	}
	if ex.env.CaptureTrace {
		ex.debugTrace = append(ex.debugTrace, ev)
	}
}

// ceilLog2 returns the smallest po2 with 1<<po2 >= v.
func ceilLog2(v uint32) uint32 {
	if v <= 1 {
		return 0
	}
	return uint32(bits.Len32(v - 1))
}

// startSegment begins a new segment: segment_cycle must be zero on
// entry (spec §4.E, step 1).
func (ex *Executor) startSegment() error {
	if ex.segmentCycle != 0 {
		return fmt.Errorf("%w: start_segment with segment_cycle=%d", ErrInvariantViolation, ex.segmentCycle)
	}
	ex.segmentCycle = ex.initCycles
	ex.finiCycles = constants.FiniCycles(ex.env.LoaderFini)

	rc, wc := ex.pt.MarkRoot()
	ex.readCycles = rc
	ex.writeCycles = wc

	total := ex.segmentCycle + ex.readCycles + ex.writeCycles + ex.finiCycles
	po2 := ceilLog2(total)
	if po2 < constants.MinCyclesPo2 {
		po2 = constants.MinCyclesPo2
	}
	if po2 > ex.env.SegmentLimit {
		po2 = ex.env.SegmentLimit
	}
	ex.po2 = po2
	ex.segmentLimit = 1 << po2
	ex.insnCycles = 0
	ex.syscalls = nil
	ex.debugTrace = nil
	return nil
}

// step asks for a pending op if none is held, then applies it.
func (ex *Executor) step() (*pending.Exit, error) {
	if ex.pending == nil {
		op, err := stepper.Step(ex.pc, ex)
		if err != nil {
			return nil, err
		}
		ex.pending = &op
	}
	return ex.apply()
}

// calcEcallPages unions a pending ecall's requested page loads with
// the pages its ram_writes target. Every touched page needs a Load
// transition (a store implies a prior load); only the ram_writes
// pages need a Store transition. Returned slices are sorted so the
// cost estimate and the later commit-time marking iterate in the same
// deterministic order.
func (ex *Executor) calcEcallPages(op pending.Op) (loadPages, storePages []uint32) {
	loadSet := make(map[uint32]struct{}, len(op.PageLoads)+len(op.RAMWrites))
	storeSet := make(map[uint32]struct{}, len(op.RAMWrites))
	for _, p := range op.PageLoads {
		loadSet[p] = struct{}{}
	}
	for _, w := range op.RAMWrites {
		p := w.Addr / constants.PageSize
		loadSet[p] = struct{}{}
		storeSet[p] = struct{}{}
	}
	loadPages = sortedKeys(loadSet)
	storePages = sortedKeys(storeSet)
	return
}

func sortedKeys(set map[uint32]struct{}) []uint32 {
	out := make([]uint32, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// apply is the two-phase protocol's commit side (spec §4.E). It
// estimates the held pending op's cycle cost, grows or splits the
// segment if it doesn't fit, and otherwise commits it.
func (ex *Executor) apply() (*pending.Exit, error) {
	if ex.pending == nil {
		return nil, fmt.Errorf("%w: apply with no pending op", ErrInvariantViolation)
	}
	op := *ex.pending

	if op.Kind == pending.ECall {
		name := ex.env.SyscallName(ex.regs[syscall.RegA7])
		newOp, err := syscall.Invoke(ex.env.Syscalls, name, ex)
		if err != nil {
			return nil, err
		}
		ex.pending = &newOp
		return nil, nil
	}

	var loadPages, storePages []uint32
	var cyclesNeeded uint32

	switch op.Kind {
	case pending.Load:
		cyclesNeeded = ex.pt.CyclesNeededAddr(op.Addr, pagetable.Load) + 1
	case pending.Store:
		cyclesNeeded = ex.pt.CyclesNeededAddr(op.Addr, pagetable.Load) +
			ex.pt.CyclesNeededAddr(op.Addr, pagetable.Store) + 1
	case pending.RegSet:
		cyclesNeeded = op.Cycles
	case pending.PendingECall:
		loadPages, storePages = ex.calcEcallPages(op)
		for _, p := range loadPages {
			cyclesNeeded += ex.pt.CyclesNeeded(p, pagetable.Load)
		}
		for _, p := range storePages {
			cyclesNeeded += ex.pt.CyclesNeeded(p, pagetable.Store)
		}
		cyclesNeeded += op.Cycles
	default:
		return nil, fmt.Errorf("%w: unapplied ecall marker reached commit", ErrInvariantViolation)
	}
	cyclesNeeded += ex.pt.CyclesNeededAddr(ex.pc, pagetable.Load)

	remaining := int64(ex.segmentLimit) - int64(ex.segmentCycle) - int64(ex.readCycles) -
		int64(ex.writeCycles) - int64(ex.finiCycles) - 1
	if int64(cyclesNeeded) >= remaining {
		return ex.handleOutOfCycles()
	}

	ex.readCycles += ex.pt.MarkAddr(ex.pc, pagetable.Load)
	ex.insnCycles++
	ex.emitTrace(segment.TraceEvent{Kind: segment.InstructionStart, PC: ex.pc})

	var exit *pending.Exit
	switch op.Kind {
	case pending.Load:
		ex.segmentCycle++
		ex.readCycles += ex.pt.MarkAddr(op.Addr, pagetable.Load)
		ex.setReg(op.Reg, op.Val)
		ex.pc += constants.WordSize
		ex.emitTrace(segment.TraceEvent{Kind: segment.RegisterSet, Reg: op.Reg, Value: op.Val})

	case pending.Store:
		wc := ex.pt.MarkAddr(op.Addr, pagetable.Store)
		ex.writeCycles += wc
		if wc > 0 {
			ex.readCycles += ex.pt.MarkAddr(op.Addr, pagetable.Load)
		}
		ex.segmentCycle++
		ex.writeWord(op.Addr, op.Val)
		ex.pc += constants.WordSize
		ex.emitTrace(segment.TraceEvent{Kind: segment.MemorySet, Addr: op.Addr, Value: op.Val})

	case pending.RegSet:
		ex.segmentCycle += op.Cycles
		ex.setReg(op.Reg, op.Val)
		ex.pc = op.NewPC
		ex.emitTrace(segment.TraceEvent{Kind: segment.RegisterSet, Reg: op.Reg, Value: op.Val})

	case pending.PendingECall:
		ex.segmentCycle += op.Cycles
		for _, p := range loadPages {
			ex.readCycles += ex.pt.MarkPage(p, pagetable.Load)
		}
		for _, p := range storePages {
			ex.writeCycles += ex.pt.MarkPage(p, pagetable.Store)
		}
		for _, rw := range op.RegWrites {
			ex.setReg(rw.Reg, rw.Val)
			ex.emitTrace(segment.TraceEvent{Kind: segment.RegisterSet, Reg: rw.Reg, Value: rw.Val})
		}
		for _, mw := range op.RAMWrites {
			ex.writeWord(mw.Addr, mw.Val)
			ex.emitTrace(segment.TraceEvent{Kind: segment.MemorySet, Addr: mw.Addr, Value: mw.Val})
		}
		if op.SyscallRecord != nil {
			ex.syscalls = append(ex.syscalls, *op.SyscallRecord)
		}
		ex.pc += constants.WordSize
		if op.HasExit {
			e := op.ExitCode
			exit = &e
		}
	}

	ex.pending = nil
	return exit, nil
}

// handleOutOfCycles either grows the segment's cycle budget (doubling
// po2, retaining the still-held pending op for retry) or reports that
// a split is required.
func (ex *Executor) handleOutOfCycles() (*pending.Exit, error) {
	if ex.po2 < ex.env.SegmentLimit {
		if ex.po2+1 > constants.MaxCyclesPo2 {
			return nil, fmt.Errorf("%w: po2 %d would exceed MaxCyclesPo2", ErrInvariantViolation, ex.po2+1)
		}
		ex.po2++
		ex.segmentLimit = 1 << ex.po2
		return nil, nil
	}
	return &pending.Exit{Kind: pending.ExitSystemSplit}, nil
}

func ramToImage(img *image.Image, ram []byte, pages []uint32) {
	for _, p := range pages {
		addr := p * constants.PageSize
		img.StoreRegionInPage(addr, ram[addr:addr+constants.PageSize])
	}
}

func regsToImage(img *image.Image, regs [32]uint32, pc uint32) {
	buf := make([]byte, constants.SystemRegionSize)
	for i, v := range regs {
		binary.LittleEndian.PutUint32(buf[uint32(i)*constants.WordSize:], v)
	}
	img.StoreRegionInPage(constants.SystemRegionAddr, buf)
	img.SetPC(pc)
}

// split finalizes the current segment under exit code e, folds dirty
// RAM and the register file back into the next segment's pre-image,
// chains the post_image_id, hands the finished Segment to sink, and
// starts the next segment. The returned bool reports whether the run
// should continue (true for SystemSplit, false for a terminal exit).
func (ex *Executor) split(e pending.Exit, sink segment.Sink) (segment.Handle, bool, error) {
	if e.Kind == pending.ExitSystemLimit {
		return nil, false, ErrSessionLimitExceeded
	}

	readCycles, writeCycles := ex.readCycles, ex.writeCycles
	if e.Kind == pending.ExitHalted {
		// A halted segment flushes nothing further: no subsequent
		// segment will ever read the dirty pages.
		writeCycles = 0
	}

	ex.prevSegmentCycles += uint64(ex.segmentCycle) + uint64(readCycles) + uint64(writeCycles) + uint64(ex.finiCycles)

	faults := ex.pt.CalcPageFaults()

	oldPreImage := ex.preImage
	nextPreImage := oldPreImage.Clone()
	ramToImage(nextPreImage, ex.ram, faults.Writes)
	regsToImage(nextPreImage, ex.regs, ex.pc)
	nextPreImage.HashPages()

	finished := segment.Segment{
		Index:       ex.segmentIndex,
		PreImage:    oldPreImage,
		PostImageID: nextPreImage.ComputeID(),
		ExitCode:    e,
		Syscalls:    ex.syscalls,
		Faults:      faults,
		Po2:         ex.po2,
		SplitInsn:   ex.insnCycles,
		InsnCycles:  ex.insnCycles,
		DebugTrace:  ex.debugTrace,
	}

	handle, err := sink(finished)
	if err != nil {
		return nil, false, &IoError{Op: "segment sink", Err: err}
	}

	ex.preImage = nextPreImage
	ex.segmentIndex++
	ex.pt.Clear()
	ex.segmentCycle = 0
	if err := ex.startSegment(); err != nil {
		return nil, false, err
	}

	return handle, e.Kind == pending.ExitSystemSplit, nil
}

// RunWithCallback drives the Executor to completion: it binds the
// journal writer to the guest's standard journal descriptor, loops
// step/split, and checks the session cycle budget after every step
// (spec §4.E, "Session driver"). It returns the accumulated Session on
// a terminal exit, or an error — the Executor must not be reused
// afterward either way.
func (ex *Executor) RunWithCallback(sink segment.Sink) (*segment.Session, error) {
	journal := &bytes.Buffer{}
	ex.env.WithWriteFD(constants.JournalFD, journal)

	var handles []segment.Handle
	for {
		exit, err := ex.step()
		if err != nil {
			return nil, err
		}
		if exit != nil {
			handle, keepGoing, err := ex.split(*exit, sink)
			if err != nil {
				return nil, err
			}
			handles = append(handles, handle)
			if !keepGoing {
				return &segment.Session{
					Segments:    handles,
					Journal:     journal.Bytes(),
					ExitCode:    *exit,
					InputDigest: ex.env.InputDigest,
					Assumptions: ex.env.Assumptions,
				}, nil
			}
		}
		if ex.prevSegmentCycles+uint64(ex.segmentCycle) > ex.env.SessionLimit {
			return nil, ErrSessionLimitExceeded
		}
	}
}
