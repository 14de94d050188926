// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package watch

// The file contains the implementation of the queue state data structures
// that the reporter shares with the metrics emission, the status export,
// and any other observers of the watched environment

import (
	"time"

	"github.com/leaf-ai/queue-advisor/internal/catalog"
	"github.com/leaf-ai/queue-advisor/internal/classify"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
	hasher "github.com/karlmutch/hashstructure"
	"github.com/mitchellh/copystructure"
)

// QueueStatus carries the reported state of a single provisioned job queue
type QueueStatus struct {
	Environment string                 `json:"Environment,omitempty"`
	Class       classify.ResourceClass `json:"Class"`
	Tier        classify.PriorityTier  `json:"Tier"`

	// Typed is false for queues whose names fell outside the naming
	// convention, their Class and Tier carry zero values that should
	// not be read as real classifications
	Typed bool `json:"Typed"`

	Enabled bool  `json:"Enabled"`
	Ready   int64 `json:"Ready"`  // The number of jobs waiting for capacity
	Active  int64 `json:"Active"` // The number of jobs capacity is working on

	// Completion counts appear for provisioning servers that retain a
	// history of finished work
	Succeeded int64 `json:"Succeeded,omitempty"`
	Failed    int64 `json:"Failed,omitempty"`

	ComputeEnvs []catalog.ComputeEnv `json:"ComputeEnvs,omitempty"` // Where this queues work lands

	// Averages holds the smoothed ready depth keyed by the averaging
	// window each value was smoothed over
	Averages map[string]float64 `json:"Averages,omitempty"`
}

// Queues is the reported state of every watched queue keyed by queue name
type Queues map[string]QueueStatus

// Snapshot is a point in time report covering the provisioned queues of a
// single environment
type Snapshot struct {
	Environment string    `json:"Environment"`       // The environment prefix the report covers
	Catalog     string    `json:"Catalog,omitempty"` // The identity of the provisioning server consulted
	Sampled     time.Time `json:"Sampled"`           // The wall clock time at which sampling completed

	// Added and Dropped name the queues that appeared in, or vanished
	// from, the catalog since the previous snapshot
	Added   []string `json:"Added,omitempty"`
	Dropped []string `json:"Dropped,omitempty"`

	Queues Queues `json:"Queues"`
}

// Fingerprint produces a signature across the portions of the snapshot
// that indicate a material change in queue state.  The sampling time and
// the moving averages are left out of the signature, the averages move a
// little on every sample and would hold the change gate open forever.
func (snap *Snapshot) Fingerprint() (sig uint64, err kv.Error) {
	trimmed := make(Queues, len(snap.Queues))
	for name, status := range snap.Queues {
		status.Averages = nil
		trimmed[name] = status
	}

	hashed, errGo := hasher.Hash(trimmed, nil)
	if errGo != nil {
		return 0, kv.Wrap(errGo).With("environment", snap.Environment).With("stack", stack.Trace().TrimRuntime())
	}
	return hashed, nil
}

// Clone produces an independent deep copy of the snapshot that can be
// handed to other goroutines while the reporter continues mutating its
// own working state
func (snap *Snapshot) Clone() (cpy *Snapshot, err kv.Error) {
	copied, errGo := copystructure.Copy(*snap)
	if errGo != nil {
		return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	clone, ok := copied.(Snapshot)
	if !ok {
		return nil, kv.NewError("unable to copy the snapshot").With("stack", stack.Trace().TrimRuntime())
	}
	return &clone, nil
}
