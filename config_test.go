// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/mvsnet/p2pd/netaddr"
	"github.com/mvsnet/p2pd/p2p"
)

// loadTestConfig loads the config with the passed command line arguments and a
// temporary home directory.
func loadTestConfig(t *testing.T, args ...string) (*config, error) {
	t.Helper()

	oldArgs := os.Args
	t.Cleanup(func() { os.Args = oldArgs })

	homeDir := t.TempDir()
	os.Args = append([]string{"p2pd", "--appdata=" + homeDir,
		"--nofilelogging"}, args...)
	cfg, _, err := loadConfig("p2pd")
	return cfg, err
}

// TestLoadConfigDefaults ensures the config loaded without any options uses
// the main network defaults and creates the default config file.
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadTestConfig(t)
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	if cfg.params != &mainNetParams {
		t.Fatalf("unexpected network %q", cfg.params.Name)
	}
	if _, err := os.Stat(cfg.ConfigFile); err != nil {
		t.Fatalf("default config file not created: %v", err)
	}
	wantListeners := []string{":5251"}
	if !reflect.DeepEqual(cfg.Listeners, wantListeners) {
		t.Fatalf("mismatched listeners -- got %v, want %v", cfg.Listeners,
			wantListeners)
	}
	if cfg.dialPolicy != p2p.DialAll {
		t.Fatalf("mismatched dial policy -- got %v, want %v", cfg.dialPolicy,
			p2p.DialAll)
	}
	if len(cfg.seeds) != len(mainNetParams.Seeds) {
		t.Fatalf("mismatched seeds -- got %d, want %d", len(cfg.seeds),
			len(mainNetParams.Seeds))
	}
	if !reflect.DeepEqual(cfg.DNSSeeds, mainNetParams.DNSSeeds) {
		t.Fatalf("mismatched DNS seeds -- got %v, want %v", cfg.DNSSeeds,
			mainNetParams.DNSSeeds)
	}
	wantDB := filepath.Join(cfg.DataDir, defaultHostCacheDBName)
	if cfg.hostCacheDB != wantDB || filepath.Base(cfg.DataDir) != "mainnet" {
		t.Fatalf("unexpected host cache path %q", cfg.hostCacheDB)
	}
}

// TestLoadConfigOptions ensures command line options are applied.
func TestLoadConfigOptions(t *testing.T) {
	cfg, err := loadTestConfig(t, "--testnet", "--nolisten", "--noseed",
		"--addpeer=10.0.0.1", "--addpeer=[::1]:1234", "--seed=seed.test",
		"--dialpolicy=first", "--proxy=127.0.0.1", "--metrics=6061",
		"--profile")
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	if cfg.params != &testNetParams {
		t.Fatalf("unexpected network %q", cfg.params.Name)
	}
	if len(cfg.Listeners) != 0 {
		t.Fatalf("unexpected listeners %v", cfg.Listeners)
	}
	if cfg.dialPolicy != p2p.DialFirst {
		t.Fatalf("mismatched dial policy -- got %v, want %v", cfg.dialPolicy,
			p2p.DialFirst)
	}
	if cfg.Proxy != "127.0.0.1:9050" {
		t.Fatalf("mismatched proxy -- got %q", cfg.Proxy)
	}
	wantMetrics := []string{"127.0.0.1:6061"}
	if !cfg.Profile || !reflect.DeepEqual(cfg.metricsAddrs, wantMetrics) {
		t.Fatalf("mismatched metrics addresses -- got %v, want %v",
			cfg.metricsAddrs, wantMetrics)
	}

	wantPeers := []netaddr.Endpoint{
		{Host: "10.0.0.1", Port: 15251},
		{Host: "::1", Port: 1234},
	}
	if !reflect.DeepEqual(cfg.peers, wantPeers) {
		t.Fatalf("mismatched peers -- got %v, want %v", spew.Sdump(cfg.peers),
			spew.Sdump(wantPeers))
	}
	wantSeeds := []netaddr.Endpoint{{Host: "seed.test", Port: 15251}}
	if !reflect.DeepEqual(cfg.seeds, wantSeeds) {
		t.Fatalf("mismatched seeds -- got %v, want %v", spew.Sdump(cfg.seeds),
			spew.Sdump(wantSeeds))
	}
	if len(cfg.DNSSeeds) != 0 {
		t.Fatalf("unexpected DNS seeds %v", cfg.DNSSeeds)
	}
}

// TestLoadConfigErrors ensures invalid options are rejected.
func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad dial policy", []string{"--dialpolicy=bogus"}},
		{"negative inbound", []string{"--maxinbound=-1"}},
		{"negative outbound", []string{"--targetoutbound=-1"}},
		{"zero outbound rate", []string{"--outboundrate=0"}},
		{"zero dial timeout", []string{"--dialtimeout=0s"}},
		{"negative host cache", []string{"--hostcachesize=-1"}},
		{"bad peer port", []string{"--addpeer=10.0.0.1:99999"}},
		{"bad debug level", []string{"--debuglevel=bogus"}},
		{"bad subsystem", []string{"--debuglevel=BOGUS=info"}},
		{"low metrics port", []string{"--metrics=80"}},
		{"bad metrics address", []string{"--metrics=127.0.0.1"}},
		{"profile without metrics", []string{"--profile"}},
	}

	for _, test := range tests {
		if _, err := loadTestConfig(t, test.args...); err == nil {
			t.Errorf("%s: did not receive expected error", test.name)
		}
	}
	setLogLevels(defaultLogLevel)
}

// TestNormalizeAddresses ensures addresses receive the default port and
// duplicates are removed.
func TestNormalizeAddresses(t *testing.T) {
	noExpand := func(addr string) []string { return []string{addr} }
	tests := []struct {
		name  string
		addrs []string
		port  string
		want  []string
	}{{
		name:  "default port",
		addrs: []string{"127.0.0.1", "::1", "10.0.0.1:1234"},
		port:  "5251",
		want:  []string{"127.0.0.1:5251", "[::1]:5251", "10.0.0.1:1234"},
	}, {
		name:  "duplicates",
		addrs: []string{"127.0.0.1", "127.0.0.1:5251", ":5251", ""},
		port:  "5251",
		want:  []string{"127.0.0.1:5251", ":5251"},
	}, {
		name:  "no default port",
		addrs: []string{"127.0.0.1:6061"},
		port:  "",
		want:  []string{"127.0.0.1:6061"},
	}}

	for _, test := range tests {
		got := normalizeAddresses(test.addrs, test.port, noExpand)
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("%s: mismatched result -- got %v, want %v", test.name,
				got, test.want)
		}
	}
}

// TestParseListeners ensures listen addresses are mapped to the expected
// network families.
func TestParseListeners(t *testing.T) {
	tests := []struct {
		name    string
		addrs   []string
		want    []net4or6
		invalid bool
	}{{
		name:  "all interfaces",
		addrs: []string{":5251"},
		want:  []net4or6{{"tcp4", ":5251"}, {"tcp6", ":5251"}},
	}, {
		name:  "ipv4 and ipv6",
		addrs: []string{"127.0.0.1:5251", "[::1]:5251", "[fe80::1%eth0]:5251"},
		want: []net4or6{{"tcp4", "127.0.0.1:5251"}, {"tcp6", "[::1]:5251"},
			{"tcp6", "[fe80::1%eth0]:5251"}},
	}, {
		name:    "hostname",
		addrs:   []string{"localhost:5251"},
		invalid: true,
	}, {
		name:    "no port",
		addrs:   []string{"127.0.0.1"},
		invalid: true,
	}}

	for _, test := range tests {
		netAddrs, err := parseListeners(test.addrs)
		if test.invalid {
			if err == nil {
				t.Errorf("%s: did not receive expected error", test.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
			continue
		}
		got := make([]net4or6, 0, len(netAddrs))
		for _, addr := range netAddrs {
			got = append(got, net4or6{addr.Network(), addr.String()})
		}
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("%s: mismatched result -- got %v, want %v", test.name,
				got, test.want)
		}
	}
}

// net4or6 is a network and address pair returned from parseListeners.
type net4or6 struct {
	network, addr string
}

// TestParseAndSetDebugLevels ensures per subsystem debug levels are applied.
func TestParseAndSetDebugLevels(t *testing.T) {
	defer setLogLevels(defaultLogLevel)

	if err := parseAndSetDebugLevels("NETW=trace,HOST=warn"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if level := netwLog.Level().String(); level != "TRC" {
		t.Fatalf("mismatched NETW level -- got %s, want TRC", level)
	}
	if level := hostLog.Level().String(); level != "WRN" {
		t.Fatalf("mismatched HOST level -- got %s, want WRN", level)
	}
	if err := parseAndSetDebugLevels("NETW"); err == nil {
		t.Fatal("did not receive expected error for bare subsystem")
	}
}
