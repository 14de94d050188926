// Copyright 2020-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package catalog

// This file defines an interface for the provisioning servers the queue
// catalog is read from.  Two servers are supported, AWS Batch which is
// the platform normal, and RabbitMQ which the on premises environments
// use with the same queue naming convention.

import (
	"context"
	"sort"
	"strings"

	"github.com/leaf-ai/queue-advisor/internal/classify"
	"github.com/leaf-ai/queue-advisor/internal/creds"

	"github.com/jjeffery/kv" // MIT License
)

// Depth carries a point in time sampling of the work population for a
// single queue
type Depth struct {
	// Ready counts work that is waiting for capacity, runnable jobs on
	// Batch and ready messages on RabbitMQ
	Ready int64 `json:"ready"`

	// Active counts work that has been handed to capacity, starting and
	// running jobs on Batch and unacknowledged messages on RabbitMQ
	Active int64 `json:"active"`

	// Succeeded and Failed count recently finished work on servers that
	// retain completion histories, Batch keeps them for about a day.
	// Servers without a history always report zeros here.
	Succeeded int64 `json:"succeeded,omitempty"`
	Failed    int64 `json:"failed,omitempty"`
}

// Accessor is the interface definition for a queue catalog read from a
// provisioning server
type Accessor interface {
	// Refresh is used to scan the queues provisioned for an environment
	// and return descriptors for them keyed by queue name
	Refresh(ctx context.Context, environment string) (known map[string]*QueueDescriptor, err kv.Error)

	// Exists checks that the named queue is provisioned on the server
	Exists(ctx context.Context, name string) (exists bool, err kv.Error)

	// Depths samples the message populations for the named queues.
	// Queues that are not present on the server are absent from the
	// result rather than being errors.
	Depths(ctx context.Context, names []string) (depths map[string]Depth, err kv.Error)

	// Identity returns a label for the server that is safe for logging
	// and for keying backoff entries
	Identity() (identity string)
}

// List produces the queues provisioned for an environment as an ordered
// collection, optionally narrowed to a set of resource classes.  Queues
// with names outside the platform convention carry no class and are
// excluded whenever a class filter is present.  The enabled state in the
// listing is the state the server reported when the call was made.
func List(ctx context.Context, accessor Accessor, environment string, classes ...classify.ResourceClass) (descs []*QueueDescriptor, err kv.Error) {
	known, err := accessor.Refresh(ctx, environment)
	if err != nil {
		return nil, err
	}

	descs = make([]*QueueDescriptor, 0, len(known))
	for _, desc := range known {
		if len(classes) != 0 {
			wanted := false
			for _, class := range classes {
				if desc.Typed && desc.Class == class {
					wanted = true
					break
				}
			}
			if !wanted {
				continue
			}
		}
		descs = append(descs, desc)
	}

	sort.Slice(descs, func(i int, j int) bool { return descs[i].Name < descs[j].Name })
	return descs, nil
}

// NewAccessor is used to initiate a catalog reader against any of the
// types of provisioning servers the advisor supports.  An endpoint with
// an amqp scheme selects the RabbitMQ management API and anything else
// selects AWS Batch using the supplied credentials bundle.
func NewAccessor(endpoint string, mgmtCreds string, bundle *creds.Bundle) (accessor Accessor, err kv.Error) {
	switch {
	case strings.HasPrefix(endpoint, "amqp://"), strings.HasPrefix(endpoint, "amqps://"):
		return NewRabbitCatalog(endpoint, mgmtCreds)
	default:
		return NewBatchCatalog(bundle)
	}
}
