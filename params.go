// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

// params houses the network specific defaults of the daemon.
type params struct {
	// Name is the name of the network and the name of its data directory.
	Name string

	// DefaultPort is the default peer to peer port of the network.
	DefaultPort uint16

	// DNSSeeds are the hostnames queried for peer addresses when the host
	// cache is empty.
	DNSSeeds []string

	// Seeds are peers connected to solely for collecting addresses when the
	// host cache is empty.
	Seeds []string

	// TestnetRules indicates non-routable addresses are accepted.
	TestnetRules bool
}

// mainNetParams contains parameters specific to the main network.
var mainNetParams = params{
	Name:        "mainnet",
	DefaultPort: 5251,
	DNSSeeds: []string{
		"seed-asia.mvsnet.org",
		"seed-europe.mvsnet.org",
		"seed-americas.mvsnet.org",
	},
	Seeds: []string{
		"main-asia.mvsnet.org",
		"main-europe.mvsnet.org",
		"main-americas.mvsnet.org",
	},
}

// testNetParams contains parameters specific to the test network.
var testNetParams = params{
	Name:        "testnet",
	DefaultPort: 15251,
	DNSSeeds: []string{
		"seed-testnet.mvsnet.org",
	},
	Seeds: []string{
		"testnet.mvsnet.org",
	},
	TestnetRules: true,
}
