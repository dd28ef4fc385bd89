// Copyright (c) 2021-2022 The Decred developers
// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build unix

package main

import (
	"golang.org/x/sys/unix"
)

func init() {
	interruptSignals = append(interruptSignals, unix.SIGTERM, unix.SIGHUP)
}
