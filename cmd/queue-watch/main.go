// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/leaf-ai/queue-advisor/internal/catalog"
	"github.com/leaf-ai/queue-advisor/internal/watch"
	"github.com/leaf-ai/queue-advisor/pkg/log"
	"github.com/leaf-ai/queue-advisor/pkg/runtime"

	"github.com/davecgh/go-spew/spew"

	"github.com/karlmutch/envflag"

	"github.com/jjeffery/kv" // MIT License
)

var (
	// TestMode will be set to true if the test flag is set during a build when the exe
	// runs
	TestMode = false

	// Spew contains the process wide configuration preferences for the structure dumping
	// package
	Spew *spew.ConfigState

	buildTime string
	gitHash   string

	logger = log.NewLogger("queue-watch")

	debugOpt = flag.Bool("debug", false, "print internal execution information")

	cpuProfileOpt   = flag.String("cpu-profile", "", "write a cpu profile to file")
	cpuProfileTimer = flag.Duration("cpu-profile-duration", time.Duration(60*time.Second), "sets a time limit for CPU profiling after which it will be stopped, the daemon will continue to run however")
)

func init() {
	Spew = spew.NewDefaultConfig()

	Spew.Indent = "    "
	Spew.SortKeys = true
}

func usage() {
	fmt.Fprintln(os.Stderr, path.Base(os.Args[0]))
	fmt.Fprintln(os.Stderr, "usage: ", os.Args[0], "[arguments]      Batch queue watcher and metrics daemon      ", gitHash, "    ", buildTime)
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Arguments:")
	fmt.Fprintln(os.Stderr, "")
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Environment Variables:")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "options can be read for environment variables by changing dashes '-' to underscores")
	fmt.Fprintln(os.Stderr, "and using upper case letters.")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "To control log levels the LOGXI env variables can be used, these are documented at https://github.com/mgutz/logxi")
}

// Go runtime entry point for production builds.  This function acts as an alias
// for the main.Main function.  This allows testing and code coverage features of
// go to invoke the logic within the daemon main without skipping important
// runtime initialization steps.  The coverage tools can then run this daemon as if it
// was a production binary.
//
// main will be called by the go runtime when the daemon is run in production mode
// avoiding this alias.
//
func main() {

	Main()
}

// Main is a production style main that will invoke the daemon as a go routine to allow
// a very simple supervisor and a test wrapper to coexist in terms of our logic.
//
// When using test mode 'go test ...' this function will not, normally, be run and
// instead the EntryPoint function will be called avoiding some initialization
// logic that is not applicable when testing.  There is one exception to this
// and that is when the go unit test framework is linked to the master binary,
// using a TestRunMain build flag which allows a binary with coverage
// instrumentation to be compiled with only a single unit test which is,
// infact an alias to this main.
//
func Main() {

	fmt.Printf("%s built at %s, against commit id %s\n", os.Args[0], buildTime, gitHash)

	flag.Usage = usage

	// Use the go options parser to load command line options that have been set, and look
	// for these options inside the env variable table
	//
	envflag.Parse()

	quitCtx, cancel := context.WithCancel(context.Background())

	if len(*cpuProfileOpt) != 0 {
		if err := runtime.InitCPUProfiler(quitCtx, *cpuProfileOpt, *cpuProfileTimer); err != nil {
			logger.Warn(err.Error())
		} else {
			logger.Info("profiling enabled", "output", *cpuProfileOpt, "duration", cpuProfileTimer.String())
		}
	}

	if errs := EntryPoint(quitCtx, cancel); len(errs) != 0 {
		for _, err := range errs {
			logger.Error(err.Error())
		}
		os.Exit(-1)
	}

	// After starting the service loops wait until the system has been
	// told to shutdown
	//
	<-quitCtx.Done()

	// Allow the cancellation to reach the service loops before the process
	// goes away
	time.Sleep(time.Duration(5 * time.Second))
}

// watchReportingChannels will monitor channels for events etc that will be reported
// to the output of the daemon.  Typically these events will originate inside
// libraries within the daemon implementation that dont use logging packages etc
func watchReportingChannels(ctx context.Context, cancel context.CancelFunc) (errorC chan kv.Error, statusC chan []string) {
	// Setup a channel to allow a CTRL-C to terminate all processing.  When the CTRL-C
	// occurs we cancel the background sampling loops the reporters are running,
	// and this will also cause the main thread to unblock and return
	//
	stopC := make(chan os.Signal, 1)

	errorC = make(chan kv.Error)
	statusC = make(chan []string)

	go func() {
		defer cancel()
		for {
			select {
			case msgs := <-statusC:
				switch len(msgs) {
				case 0:
				case 1:
					logger.Info(msgs[0])
				default:
					logger.Info(msgs[0], msgs[1:])
				}
			case err := <-errorC:
				if err != nil {
					logger.Warn(fmt.Sprint(err))
				}
			case <-ctx.Done():
				return
			case <-stopC:
				logger.Warn("CTRL-C seen")
				return
			}
		}
	}()

	signal.Reset()
	signal.Notify(stopC, os.Interrupt, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	return errorC, statusC
}

// EntryPoint enables both test and standard production infrastructure to
// invoke this daemon.  Configuration errors are returned as a collection so
// that operators see everything that needs fixing in one pass rather than
// one failure at a time.
//
func EntryPoint(ctx context.Context, cancel context.CancelFunc) (errs []kv.Error) {

	// Start a go function that will monitor all of the error and status reporting channels
	// for events and report these events to the output of the process etc
	errorC, _ := watchReportingChannels(ctx, cancel)

	logger.Info("version", "git_hash", gitHash)

	cfg, err := GetDefaultCfg()
	if err != nil {
		return append(errs, err)
	}

	if *debugOpt {
		logger.Debug(Spew.Sdump(cfg))
	}

	bundle, err := newBundle(ctx, cfg)
	if err != nil {
		return append(errs, err)
	}

	accessor, err := catalog.NewAccessor(cfg.catalog, cfg.mgmtCreds, bundle)
	if err != nil {
		return append(errs, err)
	}

	exporter := (*watch.Exporter)(nil)
	if len(cfg.statusHost) != 0 {
		if exporter, err = watch.NewExporter(cfg.statusHost, cfg.accessKey, cfg.secretKey, cfg.statusBucket, cfg.statusPrefix, cfg.statusSecure); err != nil {
			return append(errs, err)
		}
	}

	if err = runPrometheus(ctx); err != nil {
		return append(errs, err)
	}

	// Non blocking function that initializes the independent service loops
	// of the watcher
	startServices(ctx, cancel, cfg, accessor, exporter, errorC)

	return nil
}

func startServices(ctx context.Context, cancel context.CancelFunc, cfg *Config, accessor catalog.Accessor, exporter *watch.Exporter, errorC chan kv.Error) {

	// Host resource reporting for observers of the daemon itself
	go showResources(ctx)

	// Watch for environments that stay unprovisioned and terminate the
	// process when the operator has asked for that
	go serviceLimiter(ctx, cancel)

	if *drainOpt {
		drained.Store(true)
		logger.Warn("sampling drained from startup")
	}

	// The sampling should be much more frequent when testing is underway to
	// allow short lived queues to be observed between and within test cases,
	// but not so quick as to hide or shadow any bugs or issues
	refresh := cfg.refresh
	if TestMode {
		refresh = time.Duration(5 * time.Second)
	}

	snapshotC := make(chan *watch.Snapshot, 1)
	kickC := make(chan struct{}, len(cfg.environments))

	reporters := make([]*watch.Reporter, 0, len(cfg.environments))
	for _, environment := range cfg.environments {
		reporter := watch.NewReporter(accessor, environment, cfg.windows)
		reporter.Pause(drained.Load())
		reporters = append(reporters, reporter)

		go reporter.Run(ctx, refresh, kickC, snapshotC, logger)
	}

	// Prime an immediate first sample for every environment rather than
	// leaving the queues unobserved until the first interval expires
	for range reporters {
		kickC <- struct{}{}
	}

	go serviceWatch(ctx, reporters, snapshotC, exporter, errorC)
}
