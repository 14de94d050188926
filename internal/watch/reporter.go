// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package watch

// This file contains the implementation of a long lived component that
// watches the job queues provisioned for an environment, sampling their
// depths on a jittered schedule and republishing snapshots whenever the
// observable state of the queues changes

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/leaf-ai/queue-advisor/internal/catalog"
	"github.com/leaf-ai/queue-advisor/pkg/log"

	"github.com/jjeffery/kv" // MIT License
	"github.com/lthibault/jitterbug"
	uberatomic "go.uber.org/atomic"
)

const (
	// minimumSampleRate protects the provisioning servers from watchers
	// configured with pathologically small intervals
	minimumSampleRate = time.Duration(3 * time.Second)
)

// DefaultWindows are the depth averaging windows used when the operator
// does not configure their own
var DefaultWindows = []time.Duration{5 * time.Minute, time.Hour}

// Reporter aggregates the provisioned queues of one environment together
// with their sampled depths and smoothed depth histories
type Reporter struct {
	accessor catalog.Accessor
	queues   *catalog.Queues

	environment string
	windows     []time.Duration

	averages map[string]*DepthEMA
	paused   *uberatomic.Bool

	sync.Mutex
}

// NewReporter initializes a reporter against a provisioning server for the
// queues carrying the environment prefix.  windows selects the depth
// averaging periods and may be left empty to accept the defaults.
func NewReporter(accessor catalog.Accessor, environment string, windows []time.Duration) (reporter *Reporter) {
	if len(windows) == 0 {
		windows = DefaultWindows
	}
	return &Reporter{
		accessor:    accessor,
		queues:      catalog.NewQueues(),
		environment: environment,
		windows:     windows,
		averages:    map[string]*DepthEMA{},
		paused:      uberatomic.NewBool(false),
	}
}

// Pause stops the running loop from sampling while leaving the process and
// its metrics endpoint standing, used when operators drain an environment
func (reporter *Reporter) Pause(on bool) {
	reporter.paused.Store(on)
}

// IsPaused exposes the drain state for logging and for tests
func (reporter *Reporter) IsPaused() (paused bool) {
	return reporter.paused.Load()
}

// Sample performs one full observation of the environment, refreshing the
// queue catalog, sampling the depth of every known queue, and folding the
// ready depths into the moving averages.  The produced snapshot names any
// queues that appeared or vanished since the previous sample.
func (reporter *Reporter) Sample(ctx context.Context) (snap *Snapshot, err kv.Error) {
	known, err := reporter.accessor.Refresh(ctx, reporter.environment)
	if err != nil {
		return nil, err
	}

	added, dropped := reporter.queues.Align(known)
	if len(added) == 0 {
		added = nil
	}
	if len(dropped) == 0 {
		dropped = nil
	}

	descs := reporter.queues.All()
	names := make([]string, 0, len(descs))
	for _, desc := range descs {
		names = append(names, desc.Name)
	}

	depths := map[string]catalog.Depth{}
	if len(names) != 0 {
		if depths, err = reporter.accessor.Depths(ctx, names); err != nil {
			return nil, err
		}
	}

	reporter.Lock()
	defer reporter.Unlock()

	// Queues that left the catalog take their depth histories with them
	for _, name := range dropped {
		delete(reporter.averages, name)
	}

	snap = &Snapshot{
		Environment: reporter.environment,
		Catalog:     reporter.accessor.Identity(),
		Sampled:     time.Now(),
		Added:       added,
		Dropped:     dropped,
		Queues:      make(Queues, len(descs)),
	}

	for _, desc := range descs {
		status := QueueStatus{
			Environment: desc.Environment,
			Class:       desc.Class,
			Tier:        desc.Tier,
			Typed:       desc.Typed,
			Enabled:     desc.Enabled,
			ComputeEnvs: desc.ComputeEnvs,
		}

		// A queue the refresh reported that depth sampling skipped has
		// been deprovisioned mid flight, carry it without counts and let
		// the next refresh retire it
		if depth, isPresent := depths[desc.Name]; isPresent {
			status.Ready = depth.Ready
			status.Active = depth.Active
			status.Succeeded = depth.Succeeded
			status.Failed = depth.Failed

			avgs, isTracked := reporter.averages[desc.Name]
			if !isTracked {
				avgs = NewDepthEMA(reporter.windows, float64(depth.Ready))
				reporter.averages[desc.Name] = avgs
			}
			avgs.Update(depth.Ready)

			status.Averages = make(map[string]float64, len(reporter.windows))
			for _, window := range avgs.Keys() {
				if avg, wasPresent := avgs.Get(window); wasPresent {
					status.Averages[window.String()] = avg
				}
			}
		}

		snap.Queues[desc.Name] = status
	}

	return snap, nil
}

// Run drives the sampling loop until the context is cancelled.  Jitter on
// the sampling timer spreads the load when several watchers share one
// provisioning server and the kick channel lets tests and operator tooling
// force a sample without waiting out the interval.
//
// Snapshots are only published when the observable state of the queues has
// changed since the last published snapshot.  Each published snapshot is an
// independent copy the receiver owns outright.
func (reporter *Reporter) Run(ctx context.Context, interval time.Duration, kickC <-chan struct{}, snapshotC chan<- *Snapshot, logger *log.Logger) {
	if interval < minimumSampleRate {
		logger.Warn("specified sampling interval too small, set to minimum", "interval", interval.String(), "minimum", minimumSampleRate.String())
		interval = minimumSampleRate
	}

	check := NewTrigger(kickC, interval, &jitterbug.Norm{Stdev: interval / 10})
	defer check.Stop()

	lastSig := uint64(0)
	lastCollisions := ""

	for {
		select {
		case <-ctx.Done():
			return
		case <-check.C:
			if reporter.paused.Load() {
				logger.Trace("sampling paused", "environment", reporter.environment)
				continue
			}

			snap, err := reporter.Sample(ctx)
			if err != nil {
				logger.Warn(err.Error())
				continue
			}

			if len(snap.Added) != 0 || len(snap.Dropped) != 0 {
				logger.Info("queue catalog changed", "environment", reporter.environment,
					"added", strings.Join(snap.Added, ", "), "dropped", strings.Join(snap.Dropped, ", "))
			}

			// Provisioning mistakes are reported, never repaired, and only
			// when the offending set changes
			if collisions := reporter.queues.EnabledCollisions(); collisions != nil {
				if msg := collisions.Error(); msg != lastCollisions {
					lastCollisions = msg
					logger.Warn(msg)
				}
			} else {
				lastCollisions = ""
			}

			sig, err := snap.Fingerprint()
			if err != nil {
				logger.Warn(err.Error())
				continue
			}
			if sig == lastSig {
				continue
			}

			cpy, err := snap.Clone()
			if err != nil {
				logger.Warn(err.Error())
				continue
			}

			select {
			case snapshotC <- cpy:
				lastSig = sig
			case <-time.After(time.Second):
				logger.Warn("queue state change dropped, no listener", "environment", reporter.environment)
			case <-ctx.Done():
				return
			}
		}
	}
}
