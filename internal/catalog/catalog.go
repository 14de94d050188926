// Copyright 2020-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package catalog

// This file contains the implementation of the queue catalog, a cached
// collection of the job queues provisioned inside a single environment
// along with tracking to detect new arrivals and the disappearance of
// queues between refreshes.
//
// Queue names follow the platform convention of
// {environment}JobQueue_{class}_{tier}, for example
// prodJobQueue_general_medium.  Names that do not parse are carried in the
// catalog untyped so that operators can still see them in listings.

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/leaf-ai/queue-advisor/internal/classify"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
)

// queueNameRE captures the environment, class token, and tier token from a
// well formed queue name
var queueNameRE = regexp.MustCompile(`^(\w+)JobQueue_([a-z]+)_([a-z]+)$`)

// ComputeEnv describes a compute environment attached to a queue in the
// order the scheduler will drain into them
type ComputeEnv struct {
	Name     string `json:"name"`
	Order    int64  `json:"order"`
	Type     string `json:"type,omitempty"`
	State    string `json:"state,omitempty"`
	MaxVCPUs int64  `json:"max_vcpus,omitempty"`
}

// QueueDescriptor is the catalogs view of a single provisioned job queue
type QueueDescriptor struct {
	Name        string                 `json:"name"`
	Environment string                 `json:"environment,omitempty"`
	Class       classify.ResourceClass `json:"class"`
	Tier        classify.PriorityTier  `json:"tier"`

	// Typed is false when the queue name did not follow the naming
	// convention, in which case Class and Tier carry their zero values
	// and must not be trusted
	Typed bool `json:"typed"`

	Enabled  bool   `json:"enabled"`
	Status   string `json:"status,omitempty"`
	Priority int64  `json:"priority,omitempty"`

	ComputeEnvs []ComputeEnv `json:"compute_environments,omitempty"`
}

// QueueName composes the conventional name for a queue from its
// environment and classification
func QueueName(environment string, class classify.ResourceClass, tier classify.PriorityTier) (name string) {
	return environment + "JobQueue_" + class.Token() + "_" + tier.Token()
}

// FallbackQueueName composes the name of the environments general purpose
// queue that selection falls back to when a classified queue is absent
func FallbackQueueName(environment string) (name string) {
	return QueueName(environment, classify.General, classify.Medium)
}

// ParseQueueName dissects a conventional queue name.  Names that do not
// follow the convention, or that use unknown class or tier tokens, return
// an error and the caller decides whether the queue is still interesting.
func ParseQueueName(name string) (environment string, class classify.ResourceClass, tier classify.PriorityTier, err kv.Error) {
	matches := queueNameRE.FindStringSubmatch(name)
	if matches == nil {
		return "", 0, 0, kv.NewError("queue name does not follow the naming convention").With("name", name).With("stack", stack.Trace().TrimRuntime())
	}
	if class, err = classify.ParseResourceClass(matches[2]); err != nil {
		return "", 0, 0, err.With("name", name)
	}
	if tier, err = classify.ParsePriorityTier(matches[3]); err != nil {
		return "", 0, 0, err.With("name", name)
	}
	return matches[1], class, tier, nil
}

// NewDescriptor builds a descriptor for a named queue, typing it from the
// name when the name parses
func NewDescriptor(name string) (desc *QueueDescriptor) {
	desc = &QueueDescriptor{
		Name: name,
	}
	environment, class, tier, err := ParseQueueName(name)
	if err == nil {
		desc.Environment = environment
		desc.Class = class
		desc.Tier = tier
		desc.Typed = true
	}
	return desc
}

// Clone returns an independent copy of the descriptor
func (desc *QueueDescriptor) Clone() (cpy *QueueDescriptor) {
	cpy = &QueueDescriptor{}
	*cpy = *desc
	if desc.ComputeEnvs != nil {
		cpy.ComputeEnvs = make([]ComputeEnv, len(desc.ComputeEnvs))
		copy(cpy.ComputeEnvs, desc.ComputeEnvs)
	}
	return cpy
}

// Queues is the catalog of all known queues within the environment the
// advisor is handling
type Queues struct {
	queues map[string]*QueueDescriptor
	sync.Mutex
}

// NewQueues initializes an empty catalog
func NewQueues() (queues *Queues) {
	return &Queues{
		queues: map[string]*QueueDescriptor{},
	}
}

// Align brings the catalog up to date with the queues the server reported
// as extant.  Queues appearing for the first time are added and queues no
// longer present are discarded.  The names of additions and discards are
// returned so that the caller can log the churn.
func (queues *Queues) Align(expected map[string]*QueueDescriptor) (added []string, dropped []string) {
	queues.Lock()
	defer queues.Unlock()

	added = []string{}
	dropped = []string{}

	for name, desc := range expected {
		if _, isPresent := queues.queues[name]; !isPresent {
			added = append(added, name)
		}
		queues.queues[name] = desc.Clone()
	}

	for name := range queues.queues {
		if _, isPresent := expected[name]; !isPresent {
			delete(queues.queues, name)
			dropped = append(dropped, name)
		}
	}

	sort.Strings(added)
	sort.Strings(dropped)
	return added, dropped
}

// Lookup returns a copy of the descriptor for a named queue
func (queues *Queues) Lookup(name string) (desc *QueueDescriptor, isPresent bool) {
	queues.Lock()
	defer queues.Unlock()

	item, isPresent := queues.queues[name]
	if !isPresent {
		return nil, false
	}
	return item.Clone(), true
}

// All returns copies of every descriptor in the catalog ordered by name
func (queues *Queues) All() (descs []*QueueDescriptor) {
	queues.Lock()
	defer queues.Unlock()

	descs = make([]*QueueDescriptor, 0, len(queues.queues))
	for _, item := range queues.queues {
		descs = append(descs, item.Clone())
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs
}

// Find returns the enabled queue for a class and tier within an
// environment should one be present in the catalog
func (queues *Queues) Find(environment string, class classify.ResourceClass, tier classify.PriorityTier) (desc *QueueDescriptor, isPresent bool) {
	name := QueueName(environment, class, tier)

	queues.Lock()
	defer queues.Unlock()

	item, isPresent := queues.queues[name]
	if !isPresent || !item.Enabled {
		return nil, false
	}
	return item.Clone(), true
}

// EnabledCollisions checks the catalog for class and tier combinations
// that have more than one enabled queue within the same environment.  A
// well provisioned environment has at most one enabled queue per
// combination and anything else indicates drift that selection cannot
// arbitrate.
func (queues *Queues) EnabledCollisions() (err kv.Error) {
	queues.Lock()
	defer queues.Unlock()

	seen := map[string][]string{}
	for name, item := range queues.queues {
		if !item.Typed || !item.Enabled {
			continue
		}
		key := fmt.Sprintf("%s/%s/%s", item.Environment, item.Class.Token(), item.Tier.Token())
		seen[key] = append(seen[key], name)
	}

	collisions := []string{}
	for key, names := range seen {
		if len(names) > 1 {
			sort.Strings(names)
			collisions = append(collisions, key+" ["+strings.Join(names, ", ")+"]")
		}
	}
	if len(collisions) == 0 {
		return nil
	}
	sort.Strings(collisions)
	return kv.NewError("multiple enabled queues share a class and tier").With("collisions", strings.Join(collisions, "; ")).With("stack", stack.Trace().TrimRuntime())
}
