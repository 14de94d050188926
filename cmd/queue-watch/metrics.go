// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package main

// This file contains a set of gauges and data structures for exporting
// the observed queue state and the hosts own resources to prometheus

import (
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/leaf-ai/queue-advisor/internal/watch"
	"github.com/leaf-ai/queue-advisor/pkg/server"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

var (
	queueReady = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "advisor_queue_ready_jobs",
			Help: "The number of jobs waiting for capacity on a provisioned queue.",
		},
		[]string{"host", "environment", "queue", "class", "tier"},
	)
	queueActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "advisor_queue_active_jobs",
			Help: "The number of jobs capacity is working on for a provisioned queue.",
		},
		[]string{"host", "environment", "queue", "class", "tier"},
	)
	queueEnabled = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "advisor_queue_enabled",
			Help: "Whether a provisioned queue is accepting new work, 1 enabled, 0 disabled.",
		},
		[]string{"host", "environment", "queue", "class", "tier"},
	)
	queuesProvisioned = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "advisor_queues_provisioned",
			Help: "The number of queues provisioned for an environment.",
		},
		[]string{"host", "environment"},
	)
	hostBusyCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "advisor_host_cpu_used_percent",
			Help: "The portion of the CPU capacity of the host that is in use.",
		},
		[]string{"host"},
	)
	hostFreeRAM = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "advisor_host_ram_free_bytes",
			Help: "The amount of RAM available on the host.",
		},
		[]string{"host"},
	)
)

func init() {
	if errGo := prometheus.Register(queueReady); errGo != nil {
		fmt.Fprintln(os.Stderr, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}
	if errGo := prometheus.Register(queueActive); errGo != nil {
		fmt.Fprintln(os.Stderr, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}
	if errGo := prometheus.Register(queueEnabled); errGo != nil {
		fmt.Fprintln(os.Stderr, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}
	if errGo := prometheus.Register(queuesProvisioned); errGo != nil {
		fmt.Fprintln(os.Stderr, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}
	if errGo := prometheus.Register(hostBusyCPU); errGo != nil {
		fmt.Fprintln(os.Stderr, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}
	if errGo := prometheus.Register(hostFreeRAM); errGo != nil {
		fmt.Fprintln(os.Stderr, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}
}

const float64EqualityThreshold = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= float64EqualityThreshold
}

var (
	// lastSeries remembers, per environment, the label sets most recently
	// written into the queue gauges so that queues leaving the catalog can
	// have their series dropped rather than lingering at stale values
	lastSeries  = map[string][]prometheus.Labels{}
	seriesGuard sync.Mutex
)

// updateQueueGauges reflects a queue state snapshot into the exported
// gauges.  Only the series belonging to the snapshots environment are
// touched, other environments watched by this process keep theirs.
func updateQueueGauges(snap *watch.Snapshot) {

	host := server.GetHostName()

	seriesGuard.Lock()
	defer seriesGuard.Unlock()

	for _, labels := range lastSeries[snap.Environment] {
		queueReady.Delete(labels)
		queueActive.Delete(labels)
		queueEnabled.Delete(labels)
	}

	series := make([]prometheus.Labels, 0, len(snap.Queues))
	for name, status := range snap.Queues {
		// Queues outside the naming convention carry no trustworthy
		// classification, leave those labels empty
		class, tier := "", ""
		if status.Typed {
			class = status.Class.String()
			tier = status.Tier.String()
		}

		labels := prometheus.Labels{
			"host":        host,
			"environment": snap.Environment,
			"queue":       name,
			"class":       class,
			"tier":        tier,
		}

		queueReady.With(labels).Set(float64(status.Ready))
		queueActive.With(labels).Set(float64(status.Active))

		enabled := float64(0)
		if status.Enabled {
			enabled = 1
		}
		queueEnabled.With(labels).Set(enabled)

		series = append(series, labels)
	}
	lastSeries[snap.Environment] = series

	queuesProvisioned.With(prometheus.Labels{"host": host, "environment": snap.Environment}).Set(float64(len(snap.Queues)))
}

// updateHostGauges reflects a host resource probe into the exported gauges
func updateHostGauges(rsc *server.Resource) {
	host := server.GetHostName()

	hostBusyCPU.With(prometheus.Labels{"host": host}).Set(rsc.Busy)
	hostFreeRAM.With(prometheus.Labels{"host": host}).Set(float64(rsc.FreeRam))
}

// GetGaugeAccum totals the values currently held across every labeled
// series inside a gauge vector
func GetGaugeAccum(vec *prometheus.GaugeVec) (total float64, err kv.Error) {

	metricC := make(chan prometheus.Metric)
	go func() {
		defer close(metricC)
		vec.Collect(metricC)
	}()

	for metric := range metricC {
		m := &dto.Metric{}
		if errGo := metric.Write(m); errGo != nil {
			if err == nil {
				err = kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
			}
			continue
		}
		total += m.GetGauge().GetValue()
	}
	return total, err
}
