// Copyright (c) 2022 The Decred developers
// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package limits provides facilities to raise the process limits required by
// the daemon.
package limits

import "runtime/debug"

const (
	// fileLimitWant is the desired maximum number of open file descriptors.
	// Every channel and listener holds one.
	fileLimitWant = 4096

	// fileLimitMin is the minimum number of open file descriptors the daemon
	// runs with.
	fileLimitMin = 1024
)

// SetMemoryLimit configures the runtime to use the provided limit as a soft
// memory limit.
func SetMemoryLimit(limit int64) {
	debug.SetMemoryLimit(limit)
}
