/*
 * zkvm - Driver command-line entry point.
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

package main

import (
	"crypto/sha256"
	"log/slog"
	"os"
	"strconv"
	"strings"

	getopt "github.com/pborman/getopt/v2"

	"github.com/rcornwell/zkvm/executor"
	"github.com/rcornwell/zkvm/image"
	"github.com/rcornwell/zkvm/internal/envconfig"
	"github.com/rcornwell/zkvm/internal/logging"
	"github.com/rcornwell/zkvm/segment"
	"github.com/rcornwell/zkvm/syscall"
)

var Logger *slog.Logger

func main() {
	optConfig := getopt.StringLong("config", 'c', "zkvm.cfg", "Configuration file")
	optImage := getopt.StringLong("image", 'i', "", "Initial memory image (overrides config)")
	optEntry := getopt.StringLong("entry", 'e', "", "Entry PC, hex (overrides config)")
	optOut := getopt.StringLong("out", 'o', "", "Segment output directory (overrides config)")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optDebug := getopt.BoolLong("debug", 'd', "Echo debug records to stderr")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var logFile *os.File
	if *optLogFile != "" {
		var err error
		logFile, err = os.Create(*optLogFile)
		if err != nil {
			slog.Error("zkvm-driver: create log file", "error", err)
			os.Exit(1)
		}
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	Logger = slog.New(logging.NewHandler(logFile, &slog.HandlerOptions{Level: programLevel}, *optDebug))
	slog.SetDefault(Logger)

	Logger.Info("zkvm-driver started")

	settings, err := envconfig.Load(*optConfig)
	if err != nil {
		Logger.Error("zkvm-driver: load config", "error", err)
		os.Exit(1)
	}
	if *optImage != "" {
		settings.ImagePath = *optImage
	}
	if *optOut != "" {
		settings.OutDir = *optOut
	}
	if *optEntry != "" {
		n, err := parseHex(*optEntry)
		if err != nil {
			Logger.Error("zkvm-driver: entry", "error", err)
			os.Exit(1)
		}
		settings.EntryPC = n
	}

	initialImage, err := loadImage(settings.ImagePath)
	if err != nil {
		Logger.Error("zkvm-driver: load image", "error", err)
		os.Exit(1)
	}

	env, err := executor.NewEnvironment(settings.SegmentLimitPo2, settings.SessionLimit, syscall.NewRegistry())
	if err != nil {
		Logger.Error("zkvm-driver: environment", "error", err)
		os.Exit(1)
	}
	if settings.InputDigest != "" {
		env.InputDigest = sha256.Sum256([]byte(settings.InputDigest))
	}
	for _, a := range settings.Assumptions {
		env.Assumptions = append(env.Assumptions, sha256.Sum256([]byte(a)))
	}
	env.Trace = func(ev segment.TraceEvent) {
		Logger.Debug("trace", "kind", ev.Kind, "cycle", ev.Cycle, "pc", ev.PC)
	}

	ex, err := executor.New(env, initialImage, settings.EntryPC)
	if err != nil {
		Logger.Error("zkvm-driver: construct executor", "error", err)
		os.Exit(1)
	}

	var sink segment.Sink
	if settings.OutDir != "" {
		if err := os.MkdirAll(settings.OutDir, 0o755); err != nil {
			Logger.Error("zkvm-driver: create out dir", "error", err)
			os.Exit(1)
		}
		dirSink := segment.NewDirSink(settings.OutDir)
		sink = dirSink.Sink
	} else {
		memSink := segment.NewMemorySink()
		sink = memSink.Sink
	}

	session, err := ex.RunWithCallback(sink)
	if err != nil {
		Logger.Error("zkvm-driver: run", "error", err)
		os.Exit(1)
	}

	Logger.Info("zkvm-driver finished",
		"segments", len(session.Segments),
		"exit_kind", session.ExitCode.Kind,
		"exit_code", session.ExitCode.Code,
		"journal_bytes", len(session.Journal),
	)

	if settings.JournalPath != "" {
		if err := os.WriteFile(settings.JournalPath, session.Journal, 0o644); err != nil {
			Logger.Error("zkvm-driver: write journal", "error", err)
			os.Exit(1)
		}
	}
}

func loadImage(path string) (*image.Image, error) {
	if path == "" {
		return image.New(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return image.LoadRaw(f)
}

func parseHex(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}
