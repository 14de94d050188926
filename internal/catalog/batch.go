// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package catalog

// This contains the implementation of an AWS Batch client used to read
// the job queue catalog for an environment and to sample the job
// populations sitting on those queues

import (
	"context"
	"flag"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/batch"

	"github.com/leaf-ai/queue-advisor/internal/classify"
	"github.com/leaf-ai/queue-advisor/internal/creds"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
)

var (
	batchTimeoutOpt = flag.Duration("batch-timeout", time.Duration(15*time.Second), "the period of time discrete batch operations use for timeouts")
)

// Queue tags that can correct the classification of queues whose names
// were provisioned before the naming convention settled
const (
	tagClass = "queue-advisor/class"
	tagTier  = "queue-advisor/tier"
)

// BatchCatalog is a queue catalog reader implemented against the AWS
// Batch control plane
type BatchCatalog struct {
	sess   *session.Session
	region string
}

// NewBatchCatalog initializes a catalog reader using the credentials
// bundle supplied by the caller
func NewBatchCatalog(bundle *creds.Bundle) (accessor *BatchCatalog, err kv.Error) {
	sess, err := bundle.NewSession()
	if err != nil {
		return nil, err
	}
	return &BatchCatalog{
		sess:   sess,
		region: bundle.Region,
	}, nil
}

// Identity returns a logging safe label for the Batch control plane being
// accessed
func (cat *BatchCatalog) Identity() (identity string) {
	return "batch://" + cat.region
}

// opCtx produces the bounded context used for discrete batch operations
func opCtx(ctx context.Context) (opCtx context.Context, cancel context.CancelFunc) {
	return context.WithTimeout(ctx, *batchTimeoutOpt)
}

// Refresh retrieves every job queue provisioned in the region and returns
// descriptors for those belonging to the requested environment.  An empty
// environment returns everything.
func (cat *BatchCatalog) Refresh(ctx context.Context, environment string) (known map[string]*QueueDescriptor, err kv.Error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	svc := batch.New(cat.sess)

	known = map[string]*QueueDescriptor{}
	ceRefs := map[string][]string{}

	errGo := svc.DescribeJobQueuesPagesWithContext(ctx, &batch.DescribeJobQueuesInput{},
		func(page *batch.DescribeJobQueuesOutput, lastPage bool) bool {
			for _, jq := range page.JobQueues {
				name := aws.StringValue(jq.JobQueueName)
				if len(environment) != 0 && !strings.HasPrefix(name, environment+"JobQueue_") {
					continue
				}

				desc := NewDescriptor(name)
				desc.Status = aws.StringValue(jq.Status)
				desc.Priority = aws.Int64Value(jq.Priority)

				// A queue accepts submissions only when it is both enabled
				// and in a valid lifecycle state
				desc.Enabled = aws.StringValue(jq.State) == batch.JQStateEnabled &&
					aws.StringValue(jq.Status) == batch.JQStatusValid

				applyTagOverrides(desc, jq.Tags)

				for _, order := range jq.ComputeEnvironmentOrder {
					ceRef := aws.StringValue(order.ComputeEnvironment)
					desc.ComputeEnvs = append(desc.ComputeEnvs, ComputeEnv{
						Name:  ceName(ceRef),
						Order: aws.Int64Value(order.Order),
					})
					ceRefs[name] = append(ceRefs[name], ceRef)
				}

				known[name] = desc
			}
			return true
		})
	if errGo != nil {
		return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()).With("region", cat.region)
	}

	// Enrichment failures leave the ordering information intact so they
	// degrade the catalog rather than emptying it
	if err = cat.describeComputeEnvs(ctx, svc, known, ceRefs); err != nil {
		return known, err
	}

	return known, nil
}

// applyTagOverrides lets queue tags retype a queue whose name does not
// carry its true classification
func applyTagOverrides(desc *QueueDescriptor, tags map[string]*string) {
	if tags == nil {
		return
	}
	if token, isPresent := tags[tagClass]; isPresent {
		if class, err := classify.ParseResourceClass(aws.StringValue(token)); err == nil {
			desc.Class = class
			desc.Typed = true
		}
	}
	if token, isPresent := tags[tagTier]; isPresent {
		if tier, err := classify.ParsePriorityTier(aws.StringValue(token)); err == nil {
			desc.Tier = tier
			desc.Typed = true
		}
	}
}

// ceName extracts the short name from a compute environment reference
// which may be either an ARN or already a name
func ceName(ref string) (name string) {
	if idx := strings.LastIndex(ref, "/"); idx != -1 {
		return ref[idx+1:]
	}
	return ref
}

// describeComputeEnvs decorates the descriptors with the type, state, and
// capacity of the compute environments their queues drain into
func (cat *BatchCatalog) describeComputeEnvs(ctx context.Context, svc *batch.Batch, known map[string]*QueueDescriptor, ceRefs map[string][]string) (err kv.Error) {
	unique := map[string]struct{}{}
	for _, refs := range ceRefs {
		for _, ref := range refs {
			unique[ref] = struct{}{}
		}
	}
	if len(unique) == 0 {
		return nil
	}

	refs := make([]*string, 0, len(unique))
	for ref := range unique {
		refs = append(refs, aws.String(ref))
	}

	details := map[string]*batch.ComputeEnvironmentDetail{}
	errGo := svc.DescribeComputeEnvironmentsPagesWithContext(ctx,
		&batch.DescribeComputeEnvironmentsInput{
			ComputeEnvironments: refs,
		},
		func(page *batch.DescribeComputeEnvironmentsOutput, lastPage bool) bool {
			for _, ce := range page.ComputeEnvironments {
				details[ceName(aws.StringValue(ce.ComputeEnvironmentName))] = ce
			}
			return true
		})
	if errGo != nil {
		return kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()).With("region", cat.region)
	}

	for name, desc := range known {
		for i := range desc.ComputeEnvs {
			detail, isPresent := details[desc.ComputeEnvs[i].Name]
			if !isPresent {
				continue
			}
			desc.ComputeEnvs[i].State = aws.StringValue(detail.State)
			if detail.ComputeResources != nil {
				desc.ComputeEnvs[i].Type = aws.StringValue(detail.ComputeResources.Type)
				desc.ComputeEnvs[i].MaxVCPUs = aws.Int64Value(detail.ComputeResources.MaxvCpus)
			}
		}
		known[name] = desc
	}

	return nil
}

// Exists checks that the named queue is provisioned, disabled queues are
// still considered to exist
func (cat *BatchCatalog) Exists(ctx context.Context, name string) (exists bool, err kv.Error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	svc := batch.New(cat.sess)

	output, errGo := svc.DescribeJobQueuesWithContext(ctx, &batch.DescribeJobQueuesInput{
		JobQueues: []*string{aws.String(name)},
	})
	if errGo != nil {
		return false, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()).With("queue", name, "region", cat.region)
	}
	return len(output.JobQueues) != 0, nil
}

// Depths samples the job populations for the named queues.  Runnable jobs
// count as ready, starting and running jobs count as active, and the
// terminal statuses the service retains for about a day fill in the
// completion counts.  Queues that have been deprovisioned since the caller
// obtained their names are left out of the result.
func (cat *BatchCatalog) Depths(ctx context.Context, names []string) (depths map[string]Depth, err kv.Error) {
	svc := batch.New(cat.sess)

	depths = make(map[string]Depth, len(names))
	for _, name := range names {
		depth := Depth{}

		ready, absent, err := cat.countJobs(ctx, svc, name, batch.JobStatusRunnable)
		if err != nil {
			return depths, err
		}
		if absent {
			continue
		}
		depth.Ready = ready

		counts := []struct {
			status string
			total  *int64
		}{
			{batch.JobStatusStarting, &depth.Active},
			{batch.JobStatusRunning, &depth.Active},
			{batch.JobStatusSucceeded, &depth.Succeeded},
			{batch.JobStatusFailed, &depth.Failed},
		}
		gone := false
		for _, item := range counts {
			count, absent, err := cat.countJobs(ctx, svc, name, item.status)
			if err != nil {
				return depths, err
			}
			if absent {
				// The queue was deprovisioned part way through sampling
				gone = true
				break
			}
			*item.total += count
		}
		if gone {
			continue
		}

		depths[name] = depth
	}
	return depths, nil
}

// countJobs totals the jobs sitting in a single status on a queue.  The
// batch service reports listings against deleted queues as client
// exceptions which are returned as an absent indication rather than an
// error.
func (cat *BatchCatalog) countJobs(ctx context.Context, svc *batch.Batch, queue string, status string) (count int64, absent bool, err kv.Error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	errGo := svc.ListJobsPagesWithContext(ctx,
		&batch.ListJobsInput{
			JobQueue:  aws.String(queue),
			JobStatus: aws.String(status),
		},
		func(page *batch.ListJobsOutput, lastPage bool) bool {
			count += int64(len(page.JobSummaryList))
			return true
		})
	if errGo != nil {
		if aerr, ok := errGo.(awserr.Error); ok && aerr.Code() == "ClientException" {
			return 0, true, nil
		}
		return 0, false, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()).With("queue", queue, "status", status)
	}
	return count, false, nil
}
