// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package main

// This file implements a configuration block for the command.

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/leaf-ai/queue-advisor/internal/classify"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
)

var (
	environmentOpt = flag.String("environment", "", "the environment prefix whose queues are considered, dev, uat, prod etc")
	jobSpecOpt     = flag.String("job-spec", "", "file containing the JSON job submission document carrying the resource profile, '-' reads stdin")

	cpuOpt        = flag.Uint("cpu-count", 0, "whole cpus the job will use, overrides the job spec value when not 0")
	memOpt        = flag.String("memory", "", "amount of memory the job will use using SI, ICE units, for example 512gb, 16gib, 1024mb etc, overrides the job spec value when set")
	serverlessOpt = flag.Bool("serverless", false, "mark the job as using serverless execution")

	classOpt = flag.String("class", "", "skip workload classification and use the supplied class, general, cpu, memory, or fargate")
	tierOpt  = flag.String("tier", "", "skip priority classification and use the supplied tier, high, medium, or low")

	policyOpt = flag.String("policy", "", "file containing classification thresholds as .toml, .yaml, or .json, built in defaults apply when empty")

	catalogOpt  = flag.String("catalog", "", "endpoint for the queue provisioning server, an amqp(s):// URI selects the RabbitMQ management API, anything else selects AWS Batch")
	mgmtOpt     = flag.String("amqp-mgmt-creds", "", "user:password pair for the RabbitMQ management API")
	cacheTTLOpt = flag.Duration("catalog-cache", 0, "how long catalog listings may be served from cache, 0 reads the server every time")
	listOpt     = flag.Bool("list-queues", false, "print the environments queue catalog as JSON and exit, the class option narrows the listing")

	awsCredsOpt   = flag.String("aws-credentials", "", "comma separated AWS shared credentials files used for the Batch catalog")
	awsProfileOpt = flag.String("aws-profile", "default", "the named profile used with the shared credentials files")
	accessKeyOpt  = flag.String("aws-access-key-id", "", "credentials for accessing the AWS Batch queue catalog")
	secretKeyOpt  = flag.String("aws-secret-access-key", "", "credentials for accessing the AWS Batch queue catalog")
	regionOpt     = flag.String("aws-region", "", "the region in which this command will query for queues")
	vaultOpt      = flag.String("aws-vault", "", "file containing a JSON vault reference that resolves to AWS credentials")

	templateOpt   = flag.String("template", "", "file containing a submission document template that will be rendered with the selection")
	valueFilesOpt = flag.String("template-values", "", "comma separated value files applied to the template, .json, .yaml, .yml, and .toml")
	editsOpt      = flag.String("edits", "", "file of JSON edit directives, one per line, applied to the rendered submission, or to the selection document when no template is given")
	outputDirOpt  = flag.String("output-dir", "", "directory rendered submissions are written into, stdout is used when empty")
)

type Config struct {
	environment string // Environment prefix for the queue names considered
	jobSpec     string // Origin of the job submission document

	cpus       uint   // Explicit cpu count override
	memory     string // Explicit memory override, humanized
	serverless bool   // Explicit serverless marker

	class *classify.ResourceClass // Workload classification override
	tier  *classify.PriorityTier  // Priority classification override

	policyFn string // Classification thresholds document

	catalog   string        // Provisioning server endpoint
	mgmtCreds string        // RabbitMQ management credentials
	cacheTTL  time.Duration // Catalog read through cache lifetime
	list      bool          // Print the catalog instead of selecting

	awsCredFiles []string // AWS shared credentials files
	awsProfile   string   // Profile within the shared credentials files
	accessKey    string   // AWS accessKey
	secretKey    string   // AWS secretKey
	region       string   // AWS region
	vaultFn      string   // Vault reference document

	templateFn string   // Submission document template
	valueFiles []string // Extra template value files
	editsFn    string   // Edit directives for the rendered submission
	outputDir  string   // Destination directory for rendered submissions
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
		environment: os.ExpandEnv(*environmentOpt),
		jobSpec:     os.ExpandEnv(*jobSpecOpt),

		cpus:       *cpuOpt,
		memory:     *memOpt,
		serverless: *serverlessOpt,

		policyFn: os.ExpandEnv(*policyOpt),

		catalog:   os.ExpandEnv(*catalogOpt),
		mgmtCreds: os.ExpandEnv(*mgmtOpt),
		cacheTTL:  *cacheTTLOpt,
		list:      *listOpt,

		awsCredFiles: splitList(os.ExpandEnv(*awsCredsOpt)),
		awsProfile:   os.ExpandEnv(*awsProfileOpt),
		accessKey:    os.ExpandEnv(*accessKeyOpt),
		secretKey:    os.ExpandEnv(*secretKeyOpt),
		region:       os.ExpandEnv(*regionOpt),
		vaultFn:      os.ExpandEnv(*vaultOpt),

		templateFn: os.ExpandEnv(*templateOpt),
		valueFiles: splitList(os.ExpandEnv(*valueFilesOpt)),
		editsFn:    os.ExpandEnv(*editsOpt),
		outputDir:  os.ExpandEnv(*outputDirOpt),
	}

	if len(cfg.environment) == 0 {
		return nil, kv.NewError("the environment option must be supplied with the environment prefix the job is being submitted into").With("stack", stack.Trace().TrimRuntime())
	}

	if len(*classOpt) != 0 {
		class, err := classify.ParseResourceClass(os.ExpandEnv(*classOpt))
		if err != nil {
			return nil, err
		}
		cfg.class = &class
	}
	if len(*tierOpt) != 0 {
		tier, err := classify.ParsePriorityTier(os.ExpandEnv(*tierOpt))
		if err != nil {
			return nil, err
		}
		cfg.tier = &tier
	}

	return cfg, nil
}
