// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2025 The Decred developers
// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
	"github.com/mvsnet/p2pd/hostcache"
	"github.com/mvsnet/p2pd/internal/workpool"
	"github.com/mvsnet/p2pd/p2p"
	"github.com/mvsnet/p2pd/resolver"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the log rotator when file logging is enabled.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// Loggers per subsystem.  A single backend logger is created and all subsystem
// loggers created from it write to the backend.  New subsystems need a logger
// variable here and an entry in the subsystemLoggers map.
var (
	// backendLog is the logging backend used to create all subsystem loggers.
	backendLog = slog.NewBackend(logWriter{})

	// logRotator is the file logging output.  It is nil when file logging is
	// disabled and must be closed on application shutdown otherwise.  It is
	// set once during startup before any concurrent logging takes place.
	logRotator *rotator.Rotator

	p2pdLog = backendLog.Logger("P2PD")
	netwLog = backendLog.Logger("NETW")
	hostLog = backendLog.Logger("HOST")
	rslvLog = backendLog.Logger("RSLV")
	wpolLog = backendLog.Logger("WPOL")
)

// Initialize package-global logger variables.
func init() {
	p2p.UseLogger(netwLog)
	hostcache.UseLogger(hostLog)
	resolver.UseLogger(rslvLog)
	workpool.UseLogger(wpolLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]slog.Logger{
	"P2PD": p2pdLog,
	"NETW": netwLog,
	"HOST": hostLog,
	"RSLV": rslvLog,
	"WPOL": wpolLog,
}

// initLogRotator initializes the logging rotator to write logs to logFile and
// create roll files in the same directory.  It must be called before the
// package-global log rotator variables are used.
func initLogRotator(logFile string, maxRolls int) {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, maxRolls)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}

	logRotator = r
}

// setLogLevel sets the logging level for provided subsystem.  Invalid
// subsystems are ignored.
func setLogLevel(subsystemID string, logLevel string) {
	// Ignore invalid subsystems.
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := slog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsystems for stable display.
	slices.Sort(subsystems)
	return subsystems
}
