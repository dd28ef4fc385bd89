// Copyright (c) 2017-2022 The Decred developers
// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sampleconfig provides the commented example config for p2pd.
package sampleconfig

import (
	_ "embed"
)

// sampleP2pdConf is a string containing the commented example config for p2pd.
//
//go:embed sample-p2pd.conf
var sampleP2pdConf string

// P2pd returns a string containing the commented example config for p2pd.
func P2pd() string {
	return sampleP2pdConf
}
