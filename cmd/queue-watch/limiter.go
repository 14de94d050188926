// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package main

// This contains the implementation of a watch limiter which will be used
// to terminate the daemon when the environments it watches stay without
// provisioned queues, along with the drain state that pauses sampling
// while leaving the process and its metrics endpoint standing.

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/leaf-ai/queue-advisor/internal/watch"

	"github.com/go-stack/stack"
	uberatomic "go.uber.org/atomic"
)

var (
	drainOpt         = flag.Bool("drain", false, "start with sampling paused, the process keeps serving metrics and resource reports")
	maxIdleOpt       = flag.Duration("limit-idle-duration", time.Duration(0), "maximum period without a provisioned queue in any watched environment after which the watcher will drain and terminate (default 0s, never terminate)")
	limitIntervalOpt = flag.Duration("limit-interval", time.Duration(5*time.Minute), "timer for checking for termination (minimum 5 minutes)")

	drained = uberatomic.NewBool(false)
)

const (
	minimumLimitInterval = time.Duration(5 * time.Minute)
)

type activity struct {
	idle time.Time // Time when a provisioned queue was last observed
}

// applyDrain pushes the process wide drain state into every reporter.
// Transitions are logged where the state is stored, not here, this runs
// on a short cycle.
func applyDrain(reporters []*watch.Reporter) {
	on := drained.Load()
	for _, reporter := range reporters {
		reporter.Pause(on)
	}
}

func limitCheck(acts *activity) (limit bool, msg string) {
	if *maxIdleOpt == time.Duration(0) {
		msg = fmt.Sprint("idle limit not in use", "stack", stack.Trace().TrimRuntime())
		return false, msg
	}

	provisioned, err := GetGaugeAccum(queuesProvisioned)
	if err != nil {
		msg = fmt.Sprint("error", err.Error(), "stack", stack.Trace().TrimRuntime())
		return false, msg
	}

	// Any provisioned queue in any watched environment resets the idle timer
	if !almostEqual(provisioned, 0.0) {
		acts.idle = time.Now().Add(*maxIdleOpt)
		return false, ""
	}

	if acts.idle.Before(time.Now()) {
		msg = fmt.Sprint("stack", stack.Trace().TrimRuntime())
		return true, msg
	}
	return false, ""
}

// serviceLimiter is used to monitor the observed queue population and the idle
// timer and if appropriate respond to any limiting conditions that are met by
// draining the sampling and shutting the daemon down
func serviceLimiter(ctx context.Context, cancel context.CancelFunc) {

	defer func() {
		_ = recover()
		cancel()
	}()

	checkInterval := *limitIntervalOpt
	if checkInterval < minimumLimitInterval {
		checkInterval = minimumLimitInterval
	}

	check := time.NewTicker(checkInterval)
	defer check.Stop()

	acts := &activity{
		idle: time.Now().Add(*maxIdleOpt),
	}

	// Suppress duplicate logs
	lastMsg := ""
	lastRepeatedAfter := time.Duration(15 * time.Minute)
	lastPrinted := time.Unix(0, 0)

	for {
		select {
		case <-check.C:
			limited, msg := limitCheck(acts)
			if len(msg) != 0 && (msg != lastMsg || lastPrinted.Before(time.Now())) {
				lastMsg = msg
				lastPrinted = time.Now().Add(lastRepeatedAfter)
				logger.Warn(msg)
			}
			if limited {
				drained.Store(true)
				logger.Info("idle limit reached, terminating", "stack", stack.Trace().TrimRuntime())
				return
			}

		case <-ctx.Done():
			return
		}
	}
}
