/*
 * zkvm - Directory-backed segment sink.
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

package segment

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// DirSink serializes each Segment it receives to its own file under a
// directory and hands back a lazy-load Handle, so a long session never
// has to hold every segment in memory at once — the counterpart to
// MemorySink, grounded in the teacher's file-backed device attach
// style (util/tape, util/card) generalized from a fixed device image
// to a per-segment spool.
type DirSink struct {
	dir   string
	count uint64
}

// NewDirSink returns a DirSink that writes into dir, which must already
// exist.
func NewDirSink(dir string) *DirSink {
	return &DirSink{dir: dir}
}

// Sink is the Sink function to hand to the Executor.
func (d *DirSink) Sink(seg Segment) (Handle, error) {
	path := filepath.Join(d.dir, fmt.Sprintf("segment-%08d.gob", seg.Index))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("dir sink: create %s: %w", path, err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(&seg); err != nil {
		return nil, fmt.Errorf("dir sink: encode %s: %w", path, err)
	}
	d.count++
	return &fileHandle{path: path}, nil
}

// fileHandle is the lazy-load Handle DirSink returns: the Segment
// itself is not read back into memory until Load is called.
type fileHandle struct {
	path string
}

// Path returns the backing file's path.
func (h *fileHandle) Path() string { return h.path }

// Load reads and decodes the Segment back from disk.
func (h *fileHandle) Load() (*Segment, error) {
	f, err := os.Open(h.path)
	if err != nil {
		return nil, fmt.Errorf("dir sink: open %s: %w", h.path, err)
	}
	defer f.Close()

	var seg Segment
	if err := gob.NewDecoder(f).Decode(&seg); err != nil {
		return nil, fmt.Errorf("dir sink: decode %s: %w", h.path, err)
	}
	return &seg, nil
}
