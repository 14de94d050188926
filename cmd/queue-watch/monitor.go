// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package main

// This file contains the implementation of a set of functions that will on a
// regular basis output information about the daemon that could be useful to observers

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/leaf-ai/queue-advisor/pkg/server"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	promAddrOpt = flag.String("prom-address", ":9090", "the address for the prometheus http server within the watcher")

	// prometheusPort is a singleton that contains the port number of the local prometheus server
	// that can be scraped by monitoring tools and the like.
	prometheusPort = int(0) // Stores the dynamically assigned port number used by the prometheus source
)

func runPrometheus(ctx context.Context) (err kv.Error) {
	if len(*promAddrOpt) == 0 {
		return nil
	}

	// Allocate a port if none specified, by first checking for a 0 port
	host, port, errGo := net.SplitHostPort(*promAddrOpt)
	if errGo != nil {
		return kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	prometheusPort, errGo = strconv.Atoi(port)
	if errGo != nil {
		return kv.Wrap(errGo, "badly formatted port number for the metrics server").With("port", port).With("stack", stack.Trace().TrimRuntime())
	}
	if prometheusPort == 0 {
		if prometheusPort, err = server.GetFreePort(*promAddrOpt); err != nil {
			return err.With("address", *promAddrOpt)
		}
	}

	// The Handler function provides a default handler to expose metrics
	// via an HTTP server. "/metrics" is the usual endpoint for that.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	h := http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, prometheusPort),
		Handler: mux,
	}

	go func() {
		logger.Info(fmt.Sprintf("metrics available on %s", h.Addr))

		logger.Warn(fmt.Sprint(h.ListenAndServe(), stack.Trace().TrimRuntime()))
	}()

	go func() {
		<-ctx.Done()
		if errGo := h.Shutdown(context.Background()); errGo != nil {
			logger.Warn(fmt.Sprint("stopping due to signal", errGo), "stack", stack.Trace().TrimRuntime())
		}
	}()

	return nil
}

// showResources emits a resource dump for the host on a regular basis.  A
// line only appears when the state changed, with a fallback that re logs
// the state every few minutes so observers of freshly rotated logs are
// not left guessing.  The same sampling updates the exported host gauges.
func showResources(ctx context.Context) {

	res := &server.Resources{}

	refresh := time.NewTicker(5 * time.Second)
	defer refresh.Stop()

	showTime := time.NewTicker(5 * time.Minute)
	defer showTime.Stop()

	lastMsg := ""
	nextOutput := time.Now()

	for {
		select {
		case <-refresh.C:
			rsc := res.FetchMachineResources()
			updateHostGauges(rsc)

			if msg := rsc.String(); msg != lastMsg {
				logger.Info("dump resources " + msg)
				lastMsg = msg
				nextOutput = time.Now().Add(time.Duration(5 * time.Minute))
			}
		case <-showTime.C:
			if !time.Now().Before(nextOutput) {
				lastMsg = res.FetchMachineResources().String()
				logger.Info("dump resources " + lastMsg)
				nextOutput = time.Now().Add(time.Duration(5 * time.Minute))
			}

		case <-ctx.Done():
			return
		}
	}
}
