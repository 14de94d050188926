// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package selector

// This file contains the implementation of queue selection, the pairing
// of a classified job resource profile with an enabled queue from the
// environments catalog.  Selection is a pure function over its inputs, it
// performs no IO and repeated calls with the same inputs produce the same
// answer.
//
// When the queue a job classifies onto is not provisioned, or is
// disabled, selection falls back to the environments general purpose
// medium priority queue and says so.  Selection never picks an arbitrary
// third queue, a missing fallback is an error naming both of the queues
// that were attempted.

import (
	"github.com/leaf-ai/queue-advisor/internal/catalog"
	"github.com/leaf-ai/queue-advisor/internal/classify"
	"github.com/leaf-ai/queue-advisor/internal/profile"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
)

// Options carries the explicit overrides a submitter can apply to skip
// classification of one or both axes
type Options struct {
	Class *classify.ResourceClass
	Tier  *classify.PriorityTier
}

// Selection is the outcome of pairing a job with a queue.  Class and
// Tier record how the job classified which can differ from the typing of
// the queue it landed on when the fallback was taken.
type Selection struct {
	JobID       string                   `json:"job_id,omitempty"`
	Environment string                   `json:"environment"`
	Class       classify.ResourceClass   `json:"class"`
	Tier        classify.PriorityTier    `json:"tier"`
	Queue       *catalog.QueueDescriptor `json:"queue"`

	// FallbackUsed is raised when the queue the job classified onto was
	// not available and the general purpose queue was used instead
	FallbackUsed bool `json:"fallback_used"`
}

// Logable returns key value pairs describing the selection for
// structured logging
func (selection *Selection) Logable() (fields []interface{}) {
	return []interface{}{
		"job_id", selection.JobID,
		"environment", selection.Environment,
		"class", selection.Class.Token(),
		"tier", selection.Tier.Token(),
		"queue", selection.Queue.Name,
		"fallback", selection.FallbackUsed,
	}
}

// Select pairs a job resource profile with an enabled queue drawn from
// the supplied catalog.  The opts parameter may be nil when the caller
// has no overrides.
func Select(environment string, item *profile.Profile, queues *catalog.Queues, policy *classify.Policy, opts *Options) (selection *Selection, err kv.Error) {
	if len(environment) == 0 {
		return nil, kv.NewError("an environment must be specified").With("stack", stack.Trace().TrimRuntime())
	}
	if item == nil {
		return nil, kv.NewError("a job resource profile must be specified").With("environment", environment).With("stack", stack.Trace().TrimRuntime())
	}
	if queues == nil {
		return nil, kv.NewError("a queue catalog must be specified").With("environment", environment).With("stack", stack.Trace().TrimRuntime())
	}
	if policy == nil {
		policy = classify.DefaultPolicy()
	}

	class := policy.Classify(item)
	tier := policy.ClassifyPriority(item)
	if opts != nil {
		if opts.Class != nil {
			class = *opts.Class
		}
		if opts.Tier != nil {
			tier = *opts.Tier
		}
	}

	selection = &Selection{
		JobID:       item.JobID,
		Environment: environment,
		Class:       class,
		Tier:        tier,
	}

	if desc, isPresent := queues.Find(environment, class, tier); isPresent {
		selection.Queue = desc
		return selection, nil
	}

	candidate := catalog.QueueName(environment, class, tier)
	fallback := catalog.FallbackQueueName(environment)

	// The classified queue was the general purpose queue itself so there
	// is nothing left to fall back to
	if candidate == fallback {
		return nil, kv.NewError("no enabled queue is provisioned for the job").
			With("environment", environment, "job_id", item.JobID).
			With("candidate", candidate).
			With("stack", stack.Trace().TrimRuntime())
	}

	if desc, isPresent := queues.Find(environment, classify.General, classify.Medium); isPresent {
		selection.Queue = desc
		selection.FallbackUsed = true
		return selection, nil
	}

	return nil, kv.NewError("no enabled queue is provisioned for the job").
		With("environment", environment, "job_id", item.JobID).
		With("candidate", candidate, "fallback", fallback).
		With("stack", stack.Trace().TrimRuntime())
}
