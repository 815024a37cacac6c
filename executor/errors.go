/*
 * zkvm - Executor error kinds.
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

package executor

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionLimitExceeded is returned when cumulative committed
	// cycles exceed the environment's session limit, or a split
	// observes a system cycle-limit exit.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")

	// ErrInvariantViolation marks an internal assertion failure — a
	// programmer error, never a recoverable guest condition. Callers
	// must not resume an Executor after seeing this.
	ErrInvariantViolation = errors.New("invariant violation")
)

// IoError wraps a sink callback or journal write failure so it
// propagates verbatim to the caller of RunWithCallback.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string { return fmt.Sprintf("io error during %s: %v", e.Op, e.Err) }

func (e *IoError) Unwrap() error { return e.Err }
