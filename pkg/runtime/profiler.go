// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package runtime // import "github.com/leaf-ai/queue-advisor/pkg/runtime"

// This file contains the implementation of several functions that handle the CPU
// profiling features offered by Go

import (
	"context"
	"os"
	"path/filepath"
	"runtime/pprof"
	"time"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
)

// InitCPUProfiler is used to start a profiler for the CPU.  A non zero
// duration stops the profile after that much time while leaving the process
// running, a zero duration profiles until the context is done.
//
func InitCPUProfiler(ctx context.Context, outputFN string, duration time.Duration) (err kv.Error) {
	if len(outputFN) == 0 {
		return kv.NewError("profiler output not specified").With("stack", stack.Trace().TrimRuntime())
	}
	output, errGo := filepath.Abs(outputFN)
	if errGo != nil {
		return kv.Wrap(errGo).With("output", outputFN).With("stack", stack.Trace().TrimRuntime())
	}
	f, errGo := os.Create(output)
	if errGo != nil {
		return kv.Wrap(errGo).With("output", output).With("stack", stack.Trace().TrimRuntime())
	}
	if errGo = pprof.StartCPUProfile(f); errGo != nil {
		return kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	go cpuProfiler(ctx, duration)

	return nil
}

func cpuProfiler(ctx context.Context, duration time.Duration) {
	defer pprof.StopCPUProfile()

	if duration != 0 {
		timed, cancel := context.WithTimeout(ctx, duration)
		defer cancel()
		ctx = timed
	}
	<-ctx.Done()
}
