/*
 * zkvm - Driver environment configuration file parser.
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

// Package envconfig parses the driver's *.cfg file into a Settings
// value. The file format is a flat line-oriented "key value" scan in
// the style of config/configparser in the teacher project, simplified
// since this driver configures one guest rather than a device tree.
package envconfig

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Settings is the raw, driver-level configuration read from a config
// file. Fields map onto the Environment the executor consumes (§6) plus
// the driver's own I/O knobs.
type Settings struct {
	SegmentLimitPo2 uint32   // upper bound on per-segment po2
	SessionLimit    uint64   // upper bound on total committed cycles
	InputDigest     string   // carried through unchanged to the Session
	Assumptions     []string // carried through unchanged to the Session

	ImagePath   string // path to the initial memory image file
	EntryPC     uint32 // guest entry program counter
	OutDir      string // segment sink directory; empty selects the in-memory sink
	JournalPath string // where to copy the captured journal after the run
	LogPath     string // optional mirrored log file
	Debug       bool   // echo debug-level log records to stderr
}

var errNoValue = errors.New("option requires a value")

// Load reads and parses the config file at path.
func Load(path string) (*Settings, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("envconfig: %w", err)
	}
	defer file.Close()

	s := &Settings{}
	reader := bufio.NewReader(file)
	lineNumber := 0
	for {
		line, err := reader.ReadString('\n')
		lineNumber++
		if len(line) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("envconfig: line %d: %w", lineNumber, err)
		}
		if parseErr := s.parseLine(line); parseErr != nil {
			return nil, fmt.Errorf("envconfig: line %d: %w", lineNumber, parseErr)
		}
		if err != nil && errors.Is(err, io.EOF) {
			break
		}
	}
	return s, nil
}

func (s *Settings) parseLine(raw string) error {
	line := raw
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	key, value, _ := strings.Cut(line, " ")
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)

	switch key {
	case "segment_limit":
		if value == "" {
			return fmt.Errorf("segment_limit: %w", errNoValue)
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("segment_limit: not a number: %s", value)
		}
		s.SegmentLimitPo2 = uint32(n)
	case "session_limit":
		if value == "" {
			return fmt.Errorf("session_limit: %w", errNoValue)
		}
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("session_limit: not a number: %s", value)
		}
		s.SessionLimit = n
	case "input_digest":
		if value == "" {
			return fmt.Errorf("input_digest: %w", errNoValue)
		}
		s.InputDigest = value
	case "assumption":
		if value == "" {
			return fmt.Errorf("assumption: %w", errNoValue)
		}
		s.Assumptions = append(s.Assumptions, value)
	case "image":
		if value == "" {
			return fmt.Errorf("image: %w", errNoValue)
		}
		s.ImagePath = value
	case "entry":
		if value == "" {
			return fmt.Errorf("entry: %w", errNoValue)
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(value, "0x"), 16, 32)
		if err != nil {
			return fmt.Errorf("entry: not a hex address: %s", value)
		}
		s.EntryPC = uint32(n)
	case "out":
		s.OutDir = value
	case "journal":
		s.JournalPath = value
	case "log":
		s.LogPath = value
	case "debug":
		s.Debug = value == "" || value == "1" || strings.EqualFold(value, "true")
	default:
		return fmt.Errorf("unknown option: %s", key)
	}
	return nil
}
