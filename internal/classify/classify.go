// Copyright 2020-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package classify

// This file contains the resource class and priority tier definitions for the
// execution queue families provisioned in every environment, along with the
// classification of job resource profiles into them.
//
// Classification is rule table driven, see policy.go for the tables.  The rule
// ordering is load bearing, submission behavior across environments depends on
// the first match winning.

import (
	"encoding/json"
	"strings"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License

	"github.com/leaf-ai/queue-advisor/internal/profile"
)

// ResourceClass identifies which of the execution queue families a job
// profile is matched to
type ResourceClass int

const (
	// General is the catch all class for jobs with modest declared needs
	General ResourceClass = iota
	// CpuOptimized is for compute heavy jobs that stay inside a modest memory ceiling
	CpuOptimized
	// MemoryOptimized is for jobs whose memory declaration dominates
	MemoryOptimized
	// Serverless is for jobs that requested serverless execution, hosted on Fargate
	Serverless
)

// PriorityTier identifies the scheduling priority band within a resource class
type PriorityTier int

const (
	// Low is the band for jobs with small declarations
	Low PriorityTier = iota
	// Medium is the band for mid sized jobs
	Medium
	// High is the band for the largest jobs
	High
)

var (
	classTokens = map[ResourceClass]string{
		General:         "general",
		CpuOptimized:    "cpu",
		MemoryOptimized: "memory",
		Serverless:      "fargate",
	}

	tierTokens = map[PriorityTier]string{
		Low:    "low",
		Medium: "medium",
		High:   "high",
	}
)

// Token returns the lower cased form of the class that appears inside
// provisioned queue names
//
func (class ResourceClass) Token() (token string) {
	return classTokens[class]
}

func (class ResourceClass) String() string {
	return class.Token()
}

// Token returns the lower cased form of the tier that appears inside
// provisioned queue names
//
func (tier PriorityTier) Token() (token string) {
	return tierTokens[tier]
}

func (tier PriorityTier) String() string {
	return tier.Token()
}

// ParseResourceClass accepts either the queue name token for a class or the
// longer names used inside provisioning resource tags
//
func ParseResourceClass(text string) (class ResourceClass, err kv.Error) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, "_", "")

	switch normalized {
	case "general":
		return General, nil
	case "cpu", "cpuoptimized":
		return CpuOptimized, nil
	case "memory", "memoryoptimized":
		return MemoryOptimized, nil
	case "fargate", "serverless":
		return Serverless, nil
	}
	return General, kv.NewError("unknown resource class").With("class", text).With("stack", stack.Trace().TrimRuntime())
}

// ParsePriorityTier accepts the queue name token for a tier, or the tag form
//
func ParsePriorityTier(text string) (tier PriorityTier, err kv.Error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "high":
		return High, nil
	case "medium":
		return Medium, nil
	case "low":
		return Low, nil
	}
	return Low, kv.NewError("unknown priority tier").With("tier", text).With("stack", stack.Trace().TrimRuntime())
}

// MarshalJSON emits the queue name token so that advisory output documents
// match the tokens operators see in queue names
//
func (class ResourceClass) MarshalJSON() ([]byte, error) {
	return json.Marshal(class.Token())
}

// UnmarshalJSON accepts any of the forms ParseResourceClass accepts
//
func (class *ResourceClass) UnmarshalJSON(data []byte) error {
	text := ""
	if errGo := json.Unmarshal(data, &text); errGo != nil {
		return errGo
	}
	parsed, err := ParseResourceClass(text)
	if err != nil {
		return err
	}
	*class = parsed
	return nil
}

// MarshalJSON emits the queue name token for the tier
//
func (tier PriorityTier) MarshalJSON() ([]byte, error) {
	return json.Marshal(tier.Token())
}

// UnmarshalJSON accepts any of the forms ParsePriorityTier accepts
//
func (tier *PriorityTier) UnmarshalJSON(data []byte) error {
	text := ""
	if errGo := json.Unmarshal(data, &text); errGo != nil {
		return errGo
	}
	parsed, err := ParsePriorityTier(text)
	if err != nil {
		return err
	}
	*tier = parsed
	return nil
}

// Classify maps a job profile to its resource class by applying the workload
// rules in their fixed order, the first match winning.  The serverless rule
// is always first so a serverless request is honored no matter what the
// other declarations say.
//
func (policy *Policy) Classify(item *profile.Profile) (class ResourceClass) {
	rules := policy.Workload

	switch {
	case item.Serverless:
		return Serverless
	case item.MemoryGB >= rules.HighMemoryGB:
		return MemoryOptimized
	case item.CPUCount >= rules.BalancedCPUs && item.MemoryGB <= rules.BalancedMemoryCapGB:
		return CpuOptimized
	case item.MemoryGB >= rules.ElevatedMemoryGB:
		return MemoryOptimized
	case item.CPUCount >= rules.ElevatedCPUs:
		return CpuOptimized
	default:
		return General
	}
}

// ClassifyPriority maps a job profile to its priority tier, again first
// match wins.  Priority is independent of the resource class and the two
// never feed each other.
//
func (policy *Policy) ClassifyPriority(item *profile.Profile) (tier PriorityTier) {
	rules := policy.Priority

	switch {
	case item.MemoryGB >= rules.HighMemoryGB || item.CPUCount >= rules.HighCPUs:
		return High
	case item.MemoryGB >= rules.MediumMemoryGB || item.CPUCount >= rules.MediumCPUs:
		return Medium
	default:
		return Low
	}
}
