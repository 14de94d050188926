// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package main

// This file contains the selection workflow for the command, the job
// resource profile is assembled from the job spec document and any
// explicit flag values, the queue catalog for the environment is read
// from the provisioning server, and the pairing of the two is printed as
// JSON.  When a submission template has been supplied the selection is
// rendered into it and edit directives are applied before the document
// is written out.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/leaf-ai/queue-advisor/internal/catalog"
	"github.com/leaf-ai/queue-advisor/internal/classify"
	"github.com/leaf-ai/queue-advisor/internal/creds"
	"github.com/leaf-ai/queue-advisor/internal/profile"
	"github.com/leaf-ai/queue-advisor/internal/selector"
	"github.com/leaf-ai/queue-advisor/internal/vault"
	"github.com/leaf-ai/queue-advisor/pkg/stencil"

	"github.com/dgryski/go-farm"
	"github.com/dustin/go-humanize"
	"github.com/karlmutch/go-shortid"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
)

// readProfile assembles the job resource profile, the job spec document
// supplies the baseline and explicit flag values override it
func readProfile(cfg *Config) (item *profile.Profile, err kv.Error) {

	if len(cfg.jobSpec) != 0 {
		data := []byte{}
		if cfg.jobSpec == "-" {
			byts, errGo := ioutil.ReadAll(os.Stdin)
			if errGo != nil {
				return nil, kv.Wrap(errGo, "the job spec could not be read from stdin").With("stack", stack.Trace().TrimRuntime())
			}
			data = byts
		} else {
			byts, errGo := ioutil.ReadFile(cfg.jobSpec)
			if errGo != nil {
				return nil, kv.Wrap(errGo).With("file", cfg.jobSpec).With("stack", stack.Trace().TrimRuntime())
			}
			data = byts
		}
		if item, err = profile.UnmarshalProfile(data); err != nil {
			return nil, err.With("file", cfg.jobSpec)
		}
	} else {
		item = profile.New()
	}

	if cfg.cpus != 0 {
		item.CPUCount = cfg.cpus
	}
	if len(cfg.memory) != 0 {
		mem, errGo := humanize.ParseBytes(cfg.memory)
		if errGo != nil {
			return nil, kv.Wrap(errGo).With("memory", cfg.memory).With("stack", stack.Trace().TrimRuntime())
		}
		item.MemoryGB = float64(mem) / float64(humanize.GByte)
	}
	if cfg.serverless {
		item.Serverless = true
	}

	return item, nil
}

// newBundle produces the AWS credentials used for the Batch catalog.  A
// vault reference wins, then static keys, then shared credentials files,
// and with none of those the ambient environment is used.  RabbitMQ
// catalogs never touch the bundle.
func newBundle(ctx context.Context, cfg *Config) (bundle *creds.Bundle, err kv.Error) {

	if len(cfg.vaultFn) != 0 {
		data, errGo := ioutil.ReadFile(cfg.vaultFn)
		if errGo != nil {
			return nil, kv.Wrap(errGo).With("file", cfg.vaultFn).With("stack", stack.Trace().TrimRuntime())
		}
		ref, err := vault.ParseReference(data)
		if err != nil {
			return nil, err.With("file", cfg.vaultFn)
		}
		return creds.NewVaultBundle(ctx, ref)
	}

	if len(cfg.accessKey) != 0 || len(cfg.secretKey) != 0 {
		return creds.NewStaticBundle(cfg.accessKey, cfg.secretKey, cfg.region)
	}

	if len(cfg.awsCredFiles) != 0 {
		return creds.NewFileBundle(cfg.awsCredFiles, cfg.awsProfile)
	}

	return creds.NewEnvBundle(cfg.region), nil
}

// newAccessor dials the provisioning server named by the configuration,
// wrapping it in the read through cache when one was asked for
func newAccessor(ctx context.Context, cfg *Config) (accessor catalog.Accessor, err kv.Error) {

	bundle, err := newBundle(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if accessor, err = catalog.NewAccessor(cfg.catalog, cfg.mgmtCreds, bundle); err != nil {
		return nil, err
	}
	if cfg.cacheTTL > 0 {
		accessor = catalog.NewCachedAccessor(accessor, cfg.cacheTTL, cfg.cacheTTL)
	}
	return accessor, nil
}

// listQueues prints the environments queue catalog to stdout as JSON,
// narrowed to the class override when one was supplied
func listQueues(ctx context.Context, cfg *Config) (err kv.Error) {

	accessor, err := newAccessor(ctx, cfg)
	if err != nil {
		return err
	}

	classes := []classify.ResourceClass{}
	if cfg.class != nil {
		classes = append(classes, *cfg.class)
	}

	descs, err := catalog.List(ctx, accessor, cfg.environment, classes...)
	if err != nil {
		return err
	}

	doc, errGo := json.MarshalIndent(descs, "", "    ")
	if errGo != nil {
		return kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	fmt.Println((string)(doc))
	return nil
}

// advise reads the environments queue catalog and pairs the job with a
// queue drawn from it
func advise(ctx context.Context, cfg *Config) (selection *selector.Selection, err kv.Error) {

	item, err := readProfile(cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("job profile assembled", item.Logable()...)

	policy := (*classify.Policy)(nil)
	if len(cfg.policyFn) != 0 {
		if policy, err = classify.LoadPolicy(cfg.policyFn); err != nil {
			return nil, err
		}
	}

	accessor, err := newAccessor(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("consulting queue catalog", "catalog", accessor.Identity(), "environment", cfg.environment)

	known, err := accessor.Refresh(ctx, cfg.environment)
	if err != nil {
		return nil, err
	}

	queues := catalog.NewQueues()
	queues.Align(known)

	if collisions := queues.EnabledCollisions(); collisions != nil {
		logger.Warn(collisions.Error())
	}

	opts := &selector.Options{
		Class: cfg.class,
		Tier:  cfg.tier,
	}
	if selection, err = selector.Select(cfg.environment, item, queues, policy, opts); err != nil {
		return nil, err
	}

	if selection.FallbackUsed {
		logger.Warn("fallback queue selected", selection.Logable()...)
	} else {
		logger.Info("queue selected", selection.Logable()...)
	}

	return selection, nil
}

// output prints the selection to stdout and, when a template or edit
// directives were supplied, produces the submission document carrying it
func output(cfg *Config, selection *selector.Selection) (err kv.Error) {

	doc, errGo := json.MarshalIndent(selection, "", "    ")
	if errGo != nil {
		return kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	fmt.Println((string)(doc))

	if len(cfg.templateFn) == 0 && len(cfg.editsFn) == 0 {
		return nil
	}

	submission, err := renderSubmission(cfg, selection)
	if err != nil {
		return err
	}

	if len(cfg.outputDir) == 0 {
		fmt.Println(submission)
		return nil
	}

	fn, err := writeSubmission(cfg.outputDir, selection.JobID, submission)
	if err != nil {
		return err
	}
	logger.Info("submission rendered", "file", fn, "job_id", selection.JobID)
	return nil
}

// renderSubmission produces the submission document, rendering the
// template with the selection injected under the Selection key and then
// applying any edit directives.  With no template the selection document
// itself is what the directives edit.
func renderSubmission(cfg *Config, selection *selector.Selection) (submission string, err kv.Error) {

	rendered := &bytes.Buffer{}

	if len(cfg.templateFn) != 0 {
		injected, errGo := json.Marshal(map[string]interface{}{"Selection": selection})
		if errGo != nil {
			return "", kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
		}

		f, errGo := os.Open(cfg.templateFn)
		if errGo != nil {
			return "", kv.Wrap(errGo).With("file", cfg.templateFn).With("stack", stack.Trace().TrimRuntime())
		}
		defer f.Close()

		err, warnings := stencil.Template(stencil.TemplateOptions{
			IOFiles:    []stencil.TemplateIOFiles{{In: f, Out: rendered}},
			JSONValues: (string)(injected),
			ValueFiles: cfg.valueFiles,
		})
		for _, warn := range warnings {
			logger.Warn(warn.Error())
		}
		if err != nil {
			return "", err.With("template", cfg.templateFn)
		}
	} else {
		direct, errGo := json.Marshal(selection)
		if errGo != nil {
			return "", kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
		}
		rendered.Write(direct)
	}

	if len(cfg.editsFn) == 0 {
		return rendered.String(), nil
	}

	directives, err := readDirectives(cfg.editsFn)
	if err != nil {
		return "", err
	}
	if submission, err = stencil.EditDocument(rendered.String(), directives); err != nil {
		return "", err.With("edits", cfg.editsFn)
	}
	return submission, nil
}

// readDirectives loads edit directives from a file, one JSON document per
// line, skipping blank lines and lines beginning with #
func readDirectives(fn string) (directives []string, err kv.Error) {
	data, errGo := ioutil.ReadFile(fn)
	if errGo != nil {
		return nil, kv.Wrap(errGo).With("file", fn).With("stack", stack.Trace().TrimRuntime())
	}

	directives = []string{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}
		directives = append(directives, line)
	}
	return directives, nil
}

// getHash produces a very simple and short hash for use in generating file names from
// the job identifiers assigned by users, shortening the names and defanging them
func getHash(text string) string {
	return fmt.Sprintf("%x", farm.Hash64([]byte(text)))
}

// writeSubmission places the rendered document into the output directory
// using the defanged job identifier and a short unique suffix for the
// file name so that repeated runs never collide
func writeSubmission(dir string, jobID string, submission string) (fn string, err kv.Error) {

	self, errGo := shortid.Generate()
	if errGo != nil {
		return "", kv.Wrap(errGo, "generating a submission file name failed").With("stack", stack.Trace().TrimRuntime())
	}

	fn = filepath.Join(dir, getHash(jobID)+"_"+self+".json")
	if errGo = ioutil.WriteFile(fn, []byte(submission), 0600); errGo != nil {
		return "", kv.Wrap(errGo).With("file", fn).With("stack", stack.Trace().TrimRuntime())
	}
	return fn, nil
}
