/*
 * zkvm - Built-in syscalls: halt, pause, and journal write.
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

package syscall

import "github.com/rcornwell/zkvm/internal/constants"

// registerBuiltins installs the three syscalls the driver needs to be
// runnable end to end without an external caller supplying every
// handler: the syscall dispatch table's individual handlers are
// otherwise explicitly out of scope (spec §1).
func registerBuiltins(r *Registry) {
	r.Register("halt", HandlerFunc(sysHalt))
	r.Register("pause", HandlerFunc(sysPause))
	r.Register("write", HandlerFunc(sysWrite))
}

// sysHalt terminates the run. a0 (register a0 at call time) is the
// guest exit code.
func sysHalt(_ string, ctx Context, into *GuestBuffer) (uint32, uint32) {
	code := ctx.PeekRegister(RegA0)
	into.Halt(code)
	return 0, 0
}

// sysPause yields at a segment boundary, resumable from the next
// segment's pre-image.
func sysPause(_ string, ctx Context, into *GuestBuffer) (uint32, uint32) {
	code := ctx.PeekRegister(RegA0)
	into.Pause(code)
	return 0, 0
}

// sysWrite streams a0-addressed, a1-length guest bytes to the file
// descriptor named by a2. Only the journal descriptor is backed by a
// writer in the reference environment; any other descriptor reports
// failure via a negative a0.
func sysWrite(_ string, ctx Context, into *GuestBuffer) (uint32, uint32) {
	addr := ctx.PeekRegister(RegA0)
	length := ctx.PeekRegister(RegA1)
	fd := ctx.PeekRegister(RegA2)

	for p := addr / constants.PageSize; p <= (addr+length)/constants.PageSize; p++ {
		into.RequestPage(p)
	}

	w, ok := ctx.Writer(fd)
	if !ok {
		return ^uint32(0), 0
	}
	data := ctx.PeekRegion(addr, length)
	n, err := w.Write(data)
	if err != nil {
		return ^uint32(0), 0
	}
	return uint32(n), 0
}
