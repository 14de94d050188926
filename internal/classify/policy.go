// Copyright 2020-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package classify

// This file contains the implementation of the classification policy, the
// threshold tables consulted by the workload and priority classifiers.
//
// The platform formerly carried these numbers in two divergent code copies.
// They are now configuration, a single document that can be loaded from
// JSON, YAML, or TOML files or from a Kubernetes ConfigMap, with the
// compiled in defaults reproducing the original submission behavior.

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/go-yaml/yaml"

	"encoding/json"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
)

// WorkloadRules holds the thresholds for the resource class table in the
// order the rules are applied.  All comparisons are inclusive.
//
type WorkloadRules struct {
	// HighMemoryGB sends jobs at or above directly to the memory optimized class
	HighMemoryGB float64 `json:"high_memory_gb" yaml:"high_memory_gb" toml:"high_memory_gb"`
	// BalancedCPUs paired with BalancedMemoryCapGB sends compute heavy jobs that
	// stay at or below the memory cap to the cpu optimized class
	BalancedCPUs        uint    `json:"balanced_cpus" yaml:"balanced_cpus" toml:"balanced_cpus"`
	BalancedMemoryCapGB float64 `json:"balanced_memory_cap_gb" yaml:"balanced_memory_cap_gb" toml:"balanced_memory_cap_gb"`
	// ElevatedMemoryGB sends the remaining jobs at or above to the memory optimized class
	ElevatedMemoryGB float64 `json:"elevated_memory_gb" yaml:"elevated_memory_gb" toml:"elevated_memory_gb"`
	// ElevatedCPUs sends the remaining jobs at or above to the cpu optimized class
	ElevatedCPUs uint `json:"elevated_cpus" yaml:"elevated_cpus" toml:"elevated_cpus"`
}

// PriorityRules holds the thresholds for the priority tier table, applied
// in order with the first match winning
//
type PriorityRules struct {
	HighMemoryGB   float64 `json:"high_memory_gb" yaml:"high_memory_gb" toml:"high_memory_gb"`
	HighCPUs       uint    `json:"high_cpus" yaml:"high_cpus" toml:"high_cpus"`
	MediumMemoryGB float64 `json:"medium_memory_gb" yaml:"medium_memory_gb" toml:"medium_memory_gb"`
	MediumCPUs     uint    `json:"medium_cpus" yaml:"medium_cpus" toml:"medium_cpus"`
}

// Policy is the complete threshold document consulted by the classifiers
//
type Policy struct {
	Workload WorkloadRules `json:"workload" yaml:"workload" toml:"workload"`
	Priority PriorityRules `json:"priority" yaml:"priority" toml:"priority"`
}

// DefaultPolicy returns the compiled in thresholds that reproduce the
// submission behavior the environments were provisioned around
//
func DefaultPolicy() (policy *Policy) {
	return &Policy{
		Workload: WorkloadRules{
			HighMemoryGB:        32,
			BalancedCPUs:        4,
			BalancedMemoryCapGB: 16,
			ElevatedMemoryGB:    16,
			ElevatedCPUs:        6,
		},
		Priority: PriorityRules{
			HighMemoryGB:   32,
			HighCPUs:       6,
			MediumMemoryGB: 16,
			MediumCPUs:     4,
		},
	}
}

// Validate checks a loaded policy for values that would make the rule
// tables nonsensical rather than merely different
//
func (policy *Policy) Validate() (err kv.Error) {
	if policy.Workload.HighMemoryGB < policy.Workload.ElevatedMemoryGB {
		return kv.NewError("workload memory thresholds are inverted").
			With("high_memory_gb", policy.Workload.HighMemoryGB, "elevated_memory_gb", policy.Workload.ElevatedMemoryGB).
			With("stack", stack.Trace().TrimRuntime())
	}
	if policy.Workload.BalancedCPUs == 0 || policy.Workload.ElevatedCPUs == 0 {
		return kv.NewError("workload cpu thresholds must be positive").
			With("balanced_cpus", policy.Workload.BalancedCPUs, "elevated_cpus", policy.Workload.ElevatedCPUs).
			With("stack", stack.Trace().TrimRuntime())
	}
	if policy.Priority.HighCPUs == 0 || policy.Priority.MediumCPUs == 0 {
		return kv.NewError("priority cpu thresholds must be positive").
			With("high_cpus", policy.Priority.HighCPUs, "medium_cpus", policy.Priority.MediumCPUs).
			With("stack", stack.Trace().TrimRuntime())
	}
	if policy.Priority.HighMemoryGB < policy.Priority.MediumMemoryGB {
		return kv.NewError("priority memory thresholds are inverted").
			With("high_memory_gb", policy.Priority.HighMemoryGB, "medium_memory_gb", policy.Priority.MediumMemoryGB).
			With("stack", stack.Trace().TrimRuntime())
	}
	return nil
}

// LoadPolicy reads a policy document from a file, choosing the decoder by
// the file extension in the same manner as the platforms templating value
// files
//
func LoadPolicy(fn string) (policy *Policy, err kv.Error) {
	byts, errGo := os.ReadFile(filepath.Clean(fn))
	if errGo != nil {
		return nil, kv.Wrap(errGo).With("file", fn).With("stack", stack.Trace().TrimRuntime())
	}

	if policy, err = decodePolicy(filepath.Ext(fn), byts); err != nil {
		return nil, err.With("file", fn)
	}
	return policy, nil
}

// decodePolicy decodes a policy document given the file extension style
// hint for its format.  Loaded documents start from the default policy so
// partial documents only override the thresholds they mention.
//
func decodePolicy(ext string, data []byte) (policy *Policy, err kv.Error) {
	policy = DefaultPolicy()

	switch ext {
	case ".json":
		if errGo := json.Unmarshal(data, policy); errGo != nil {
			return nil, kv.Wrap(errGo, "unrecognized json").With("stack", stack.Trace().TrimRuntime())
		}
	case ".yaml", ".yml":
		if errGo := yaml.Unmarshal(data, policy); errGo != nil {
			return nil, kv.Wrap(errGo, "unrecognized yaml").With("stack", stack.Trace().TrimRuntime())
		}
	case ".toml":
		if errGo := toml.Unmarshal(data, policy); errGo != nil {
			return nil, kv.Wrap(errGo, "unrecognized toml").With("stack", stack.Trace().TrimRuntime())
		}
	default:
		return nil, kv.NewError("unsupported file type (extension)").With("extension", ext).With("stack", stack.Trace().TrimRuntime())
	}

	if err = policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

// Copy returns an independent duplicate of the policy so that updaters can
// hand values across goroutines without sharing
//
func (policy *Policy) Copy() (cpy *Policy) {
	duplicate := *policy
	return &duplicate
}
