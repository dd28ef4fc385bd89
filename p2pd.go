// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"

	"github.com/mvsnet/p2pd/internal/limits"
	"github.com/mvsnet/p2pd/internal/version"
)

// softMemoryLimit is the soft memory limit imposed on the runtime.
const softMemoryLimit = 512 * (1 << 20) // 512 MiB

// p2pdMain is the real main function for p2pd.  It is necessary to work around
// the fact that deferred functions do not run when os.Exit() is called.
func p2pdMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	cfg, _, err := loadConfig(appName)
	if err != nil {
		usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
		fmt.Fprintln(os.Stderr, err)
		var e errSuppressUsage
		if !errors.As(err, &e) {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Get a context that will be canceled when a shutdown signal has been
	// triggered either from an OS signal such as SIGINT (Ctrl+C) or from
	// another subsystem.
	ctx := shutdownListener()
	defer p2pdLog.Info("Shutdown complete")

	// Show version and home dir at startup.
	p2pdLog.Infof("Version %s (Go version %s %s/%s)", version.String(),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
	p2pdLog.Infof("Home dir: %s", cfg.HomeDir)
	if cfg.NoFileLogging {
		p2pdLog.Info("File logging disabled")
	}

	// Bursts of connection churn allocate buffers in quick succession.  A
	// soft memory limit keeps the garbage collector from overallocating
	// without lowering the target GC percentage.
	limits.SetMemoryLimit(softMemoryLimit)
	p2pdLog.Infof("Soft memory limit: %d MiB", softMemoryLimit/(1<<20))

	// Serve metrics if requested.  The server is shut down and waited on
	// before returning.
	if cfg.Metrics != "" {
		metrics, err := newMetricsServer(cfg.metricsAddrs, cfg.Profile)
		if err != nil {
			p2pdLog.Errorf("Unable to start metrics server: %v", err)
			return err
		}
		metricsCtx, cancelMetrics := context.WithCancel(ctx)
		metricsDone := make(chan struct{})
		go func() {
			defer close(metricsDone)
			if err := metrics.Run(metricsCtx); err != nil {
				p2pdLog.Errorf("%v", err)
			}
		}()
		defer func() {
			cancelMetrics()
			<-metricsDone
		}()
	}

	// Write cpu profile if requested.
	if cfg.CPUProfile != "" {
		f, err := os.Create(cfg.CPUProfile)
		if err != nil {
			p2pdLog.Errorf("Unable to create cpu profile: %v", err.Error())
			return err
		}
		pprof.StartCPUProfile(f)
		defer f.Close()
		defer pprof.StopCPUProfile()
	}

	// Write mem profile if requested.
	if cfg.MemProfile != "" {
		f, err := os.Create(cfg.MemProfile)
		if err != nil {
			p2pdLog.Errorf("Unable to create mem profile: %v", err)
			return err
		}
		defer f.Close()
		defer pprof.WriteHeapProfile(f)
	}

	// Return now if a shutdown signal was triggered.
	if shutdownRequested(ctx) {
		return nil
	}

	// Create the node.  This opens the host cache database.
	n, err := newNode(cfg)
	if err != nil {
		p2pdLog.Errorf("Unable to create node: %v", err)
		return err
	}

	// Run the node.  This will block until the context is cancelled which
	// happens when the interrupt signal is received.
	if err := n.Run(ctx); err != nil {
		p2pdLog.Errorf("%v", err)
		return err
	}
	return nil
}

func main() {
	// Up some limits.
	if err := limits.SetLimits(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set limits: %v\n", err)
		os.Exit(1)
	}

	// Work around defer not working after os.Exit()
	if err := p2pdMain(); err != nil {
		os.Exit(1)
	}
}
