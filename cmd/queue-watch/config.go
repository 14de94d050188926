// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package main

// This file implements a configuration block for the daemon.

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
)

var (
	environmentsOpt = flag.String("environments", "", "comma separated environment prefixes whose queues will be watched, dev, uat, prod etc")

	catalogOpt = flag.String("catalog", "", "endpoint for the queue provisioning server, an amqp(s):// URI selects the RabbitMQ management API, anything else selects AWS Batch")
	mgmtOpt    = flag.String("amqp-mgmt-creds", "", "user:password pair for the RabbitMQ management API")

	refreshOpt = flag.Duration("refresh", time.Duration(15*time.Second), "the interval between queue depth samples")
	windowsOpt = flag.String("windows", "", "comma separated durations the ready depths are smoothed over, for example 5m,1h, defaults apply when empty")

	statusHostOpt   = flag.String("status-host", "", "host:port of an S3 compatible object store that queue state snapshots are written to, the aws key options authenticate the writes, export is disabled when empty")
	statusBucketOpt = flag.String("status-bucket", "queue-status", "the object store bucket that status snapshots are written into")
	statusPrefixOpt = flag.String("status-prefix", "", "a key prefix applied to exported status snapshots")
	statusSecureOpt = flag.Bool("status-secure", true, "use TLS when reaching the status object store")

	awsCredsOpt   = flag.String("aws-credentials", "", "comma separated AWS shared credentials files used for the Batch catalog")
	awsProfileOpt = flag.String("aws-profile", "default", "the named profile used with the shared credentials files")
	accessKeyOpt  = flag.String("aws-access-key-id", "", "credentials for accessing the AWS Batch queue catalog")
	secretKeyOpt  = flag.String("aws-secret-access-key", "", "credentials for accessing the AWS Batch queue catalog")
	regionOpt     = flag.String("aws-region", "", "the region in which this daemon will query for queues")
	vaultOpt      = flag.String("aws-vault", "", "file containing a JSON vault reference that resolves to AWS credentials")
)

type Config struct {
	environments []string // Environment prefixes for the queue names watched

	catalog   string // Provisioning server endpoint
	mgmtCreds string // RabbitMQ management credentials

	refresh time.Duration   // Interval between depth samples
	windows []time.Duration // Depth averaging windows

	statusHost   string // Object store endpoint snapshots are exported to
	statusBucket string // Bucket within the object store
	statusPrefix string // Key prefix for exported snapshots
	statusSecure bool   // TLS is used to reach the object store

	awsCredFiles []string // AWS shared credentials files
	awsProfile   string   // Profile within the shared credentials files
	accessKey    string   // AWS accessKey
	secretKey    string   // AWS secretKey
	region       string   // AWS region
	vaultFn      string   // Vault reference document
}

// splitList turns a comma separated flag value into its non empty elements
func splitList(value string) (items []string) {
	items = []string{}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); len(item) != 0 {
			items = append(items, item)
		}
	}
	return items
}

func GetDefaultCfg() (cfg *Config, err kv.Error) {
	cfg = &Config{
		environments: splitList(os.ExpandEnv(*environmentsOpt)),

		catalog:   os.ExpandEnv(*catalogOpt),
		mgmtCreds: os.ExpandEnv(*mgmtOpt),

		refresh: *refreshOpt,
		windows: []time.Duration{},

		statusHost:   os.ExpandEnv(*statusHostOpt),
		statusBucket: os.ExpandEnv(*statusBucketOpt),
		statusPrefix: os.ExpandEnv(*statusPrefixOpt),
		statusSecure: *statusSecureOpt,

		awsCredFiles: splitList(os.ExpandEnv(*awsCredsOpt)),
		awsProfile:   os.ExpandEnv(*awsProfileOpt),
		accessKey:    os.ExpandEnv(*accessKeyOpt),
		secretKey:    os.ExpandEnv(*secretKeyOpt),
		region:       os.ExpandEnv(*regionOpt),
		vaultFn:      os.ExpandEnv(*vaultOpt),
	}

	if len(cfg.environments) == 0 {
		return nil, kv.NewError("the environments option must be supplied with at least one environment prefix to watch").With("stack", stack.Trace().TrimRuntime())
	}

	for _, item := range splitList(os.ExpandEnv(*windowsOpt)) {
		window, errGo := time.ParseDuration(item)
		if errGo != nil {
			return nil, kv.Wrap(errGo, "a depth averaging window could not be parsed").With("window", item).With("stack", stack.Trace().TrimRuntime())
		}
		cfg.windows = append(cfg.windows, window)
	}

	return cfg, nil
}
