// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package main

// This file contains the service loop that consumes the queue state
// snapshots the reporters publish.  Each snapshot updates the exported
// gauges and, when an object store has been configured, is written out
// for dashboards and other off cluster consumers.

import (
	"context"
	"io/ioutil"
	"time"

	"github.com/leaf-ai/queue-advisor/internal/creds"
	"github.com/leaf-ai/queue-advisor/internal/vault"
	"github.com/leaf-ai/queue-advisor/internal/watch"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
)

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

// serviceWatch distributes the published queue state.  The reporters only
// publish when the observable state changed so everything seen here is
// worth both exporting and reflecting into the gauges.  The loop also
// pushes the process wide drain state down into the reporters on a short
// cycle so an operator initiated drain takes effect within seconds.
func serviceWatch(ctx context.Context, reporters []*watch.Reporter, snapshotC <-chan *watch.Snapshot, exporter *watch.Exporter, errorC chan<- kv.Error) {

	drainCheck := time.NewTicker(5 * time.Second)
	defer drainCheck.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-drainCheck.C:
			applyDrain(reporters)

		case snap := <-snapshotC:
			updateQueueGauges(snap)

			if *debugOpt {
				logger.Debug(Spew.Sdump(snap))
			}

			if exporter == nil {
				continue
			}
			if err := exporter.Export(ctx, snap); err != nil {
				select {
				case errorC <- err:
				case <-time.After(time.Second):
					logger.Warn(err.Error())
				}
				continue
			}
			logger.Info("queue state exported", "environment", snap.Environment, "key", exporter.Key(snap.Environment))
		}
	}
}
