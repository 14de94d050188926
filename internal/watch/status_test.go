// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package watch

// Tests for the snapshot change signature and for the deep copy used to
// hand snapshots across goroutines

import (
	"testing"
	"time"

	"github.com/leaf-ai/queue-advisor/internal/catalog"
	"github.com/leaf-ai/queue-advisor/internal/classify"

	"github.com/go-stack/stack"
	"github.com/go-test/deep"
	"github.com/jjeffery/kv" // MIT License
)

func testSnapshot() (snap *Snapshot) {
	return &Snapshot{
		Environment: "prod",
		Catalog:     "batch://us-east-1",
		Sampled:     time.Now(),
		Queues: Queues{
			"prodJobQueue_general_medium": QueueStatus{
				Environment: "prod",
				Class:       classify.General,
				Tier:        classify.Medium,
				Typed:       true,
				Enabled:     true,
				Ready:       2,
				Active:      1,
				Averages:    map[string]float64{"5m0s": 1.5},
				ComputeEnvs: []catalog.ComputeEnv{
					{Name: "prod-general", Order: 1, Type: "EC2", State: "ENABLED", MaxVCPUs: 256},
				},
			},
			"prodJobQueue_memory_high": QueueStatus{
				Environment: "prod",
				Class:       classify.MemoryOptimized,
				Tier:        classify.High,
				Typed:       true,
				Enabled:     true,
				Ready:       11,
				Averages:    map[string]float64{"5m0s": 10.2},
			},
		},
	}
}

func TestSnapshotFingerprint(t *testing.T) {
	snap := testSnapshot()
	sig, err := snap.Fingerprint()
	if err != nil {
		t.Fatal(err)
	}

	// Sampling times, churn notices, and the moving averages never count
	// as material changes
	same := testSnapshot()
	same.Sampled = snap.Sampled.Add(time.Hour)
	same.Added = []string{"prodJobQueue_cpu_low"}
	status := same.Queues["prodJobQueue_memory_high"]
	status.Averages = map[string]float64{"5m0s": 99.9}
	same.Queues["prodJobQueue_memory_high"] = status

	unchanged, err := same.Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	if unchanged != sig {
		t.Fatal(kv.NewError("signature moved without a material change").With("stack", stack.Trace().TrimRuntime()))
	}

	// Depth movement is material
	moved := testSnapshot()
	status = moved.Queues["prodJobQueue_memory_high"]
	status.Ready++
	moved.Queues["prodJobQueue_memory_high"] = status

	changed, err := moved.Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	if changed == sig {
		t.Fatal(kv.NewError("a depth change left the signature standing").With("stack", stack.Trace().TrimRuntime()))
	}

	// So is a queue being disabled
	disabled := testSnapshot()
	status = disabled.Queues["prodJobQueue_general_medium"]
	status.Enabled = false
	disabled.Queues["prodJobQueue_general_medium"] = status

	changed, err = disabled.Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	if changed == sig {
		t.Fatal(kv.NewError("disabling a queue left the signature standing").With("stack", stack.Trace().TrimRuntime()))
	}
}

func TestSnapshotClone(t *testing.T) {
	snap := testSnapshot()

	cpy, err := snap.Clone()
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(snap, cpy); diff != nil {
		t.Fatal(kv.NewError("clone diverged from the original").With("diff", diff, "stack", stack.Trace().TrimRuntime()))
	}

	// Mutations of the original must never show through the copy
	status := snap.Queues["prodJobQueue_general_medium"]
	status.ComputeEnvs[0].State = "DELETING"
	status.Averages["5m0s"] = 42.0
	snap.Queues["prodJobQueue_general_medium"] = status
	delete(snap.Queues, "prodJobQueue_memory_high")

	kept, isPresent := cpy.Queues["prodJobQueue_memory_high"]
	if !isPresent {
		t.Fatal(kv.NewError("clone lost a queue deleted from the original").With("stack", stack.Trace().TrimRuntime()))
	}
	if kept.Ready != 11 {
		t.Fatal(kv.NewError("clone depth tracked the original").With("stack", stack.Trace().TrimRuntime()))
	}
	if state := cpy.Queues["prodJobQueue_general_medium"].ComputeEnvs[0].State; state != "ENABLED" {
		t.Fatal(kv.NewError("clone compute environment tracked the original").With("state", state, "stack", stack.Trace().TrimRuntime()))
	}
	if avg := cpy.Queues["prodJobQueue_general_medium"].Averages["5m0s"]; avg != 1.5 {
		t.Fatal(kv.NewError("clone averages tracked the original").With("average", avg, "stack", stack.Trace().TrimRuntime()))
	}
}
