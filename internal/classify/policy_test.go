// Copyright 2020-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package classify

// This file contains the implementations of tests related to the loading of
// classification policy documents

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-stack/stack"
	"github.com/go-test/deep"
	"github.com/jjeffery/kv"
)

// TestPolicyDefaults makes sure the compiled in policy passes its own
// validation, everything else keys off it
//
func TestPolicyDefaults(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatal(err)
	}
}

// TestPolicyLoadFormats loads equivalent documents from every on disk
// format the loader supports
//
func TestPolicyLoadFormats(t *testing.T) {
	dir := t.TempDir()

	docs := map[string]string{
		"policy.toml": `[workload]
high_memory_gb = 48.0
balanced_cpus = 8
balanced_memory_cap_gb = 24.0
elevated_memory_gb = 24.0
elevated_cpus = 12

[priority]
high_memory_gb = 48.0
high_cpus = 12
medium_memory_gb = 24.0
medium_cpus = 8
`,
		"policy.yaml": `workload:
  high_memory_gb: 48
  balanced_cpus: 8
  balanced_memory_cap_gb: 24
  elevated_memory_gb: 24
  elevated_cpus: 12
priority:
  high_memory_gb: 48
  high_cpus: 12
  medium_memory_gb: 24
  medium_cpus: 8
`,
		"policy.json": `{"workload": {"high_memory_gb": 48, "balanced_cpus": 8, "balanced_memory_cap_gb": 24, "elevated_memory_gb": 24, "elevated_cpus": 12},
 "priority": {"high_memory_gb": 48, "high_cpus": 12, "medium_memory_gb": 24, "medium_cpus": 8}}`,
	}

	expected := &Policy{
		Workload: WorkloadRules{
			HighMemoryGB:        48,
			BalancedCPUs:        8,
			BalancedMemoryCapGB: 24,
			ElevatedMemoryGB:    24,
			ElevatedCPUs:        12,
		},
		Priority: PriorityRules{
			HighMemoryGB:   48,
			HighCPUs:       12,
			MediumMemoryGB: 24,
			MediumCPUs:     8,
		},
	}

	for fn, doc := range docs {
		path := filepath.Join(dir, fn)
		if errGo := os.WriteFile(path, []byte(doc), 0600); errGo != nil {
			t.Fatal(kv.Wrap(errGo).With("file", path).With("stack", stack.Trace().TrimRuntime()))
		}
		policy, err := LoadPolicy(path)
		if err != nil {
			t.Fatal(err)
		}
		if diff := deep.Equal(policy, expected); diff != nil {
			t.Fatal(kv.NewError("loaded policy unexpected").With("file", fn, "diff", diff).With("stack", stack.Trace().TrimRuntime()))
		}
	}
}

// TestPolicyPartialLoad checks that documents mentioning only some
// thresholds inherit the rest from the defaults
//
func TestPolicyPartialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	if errGo := os.WriteFile(path, []byte(`{"workload": {"high_memory_gb": 64}}`), 0600); errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("file", path).With("stack", stack.Trace().TrimRuntime()))
	}

	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatal(err)
	}
	if policy.Workload.HighMemoryGB != 64 {
		t.Fatal(kv.NewError("override was not applied").With("actual", policy.Workload.HighMemoryGB).With("stack", stack.Trace().TrimRuntime()))
	}
	if policy.Workload.BalancedCPUs != DefaultPolicy().Workload.BalancedCPUs {
		t.Fatal(kv.NewError("untouched threshold was not defaulted").With("stack", stack.Trace().TrimRuntime()))
	}
}

// TestPolicyLoadRejects covers bad formats and nonsensical threshold sets
//
func TestPolicyLoadRejects(t *testing.T) {
	dir := t.TempDir()

	badExt := filepath.Join(dir, "policy.ini")
	if errGo := os.WriteFile(badExt, []byte("workload="), 0600); errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}
	if _, err := LoadPolicy(badExt); err == nil {
		t.Fatal(kv.NewError("unsupported extension must be rejected").With("stack", stack.Trace().TrimRuntime()))
	}

	badDoc := filepath.Join(dir, "policy.json")
	if errGo := os.WriteFile(badDoc, []byte(`{"workload": {`), 0600); errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}
	if _, err := LoadPolicy(badDoc); err == nil {
		t.Fatal(kv.NewError("undecodable document must be rejected").With("stack", stack.Trace().TrimRuntime()))
	}

	inverted := filepath.Join(dir, "inverted.json")
	if errGo := os.WriteFile(inverted, []byte(`{"workload": {"high_memory_gb": 8}}`), 0600); errGo != nil {
		t.Fatal(kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}
	if _, err := LoadPolicy(inverted); err == nil {
		t.Fatal(kv.NewError("inverted thresholds must be rejected").With("stack", stack.Trace().TrimRuntime()))
	}

	if _, err := LoadPolicy(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal(kv.NewError("missing file must be reported").With("stack", stack.Trace().TrimRuntime()))
	}
}
