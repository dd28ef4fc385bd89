// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
p2pd is a peer to peer network node written in Go.

It maintains connections to other nodes of the network: peers added by the
user, peers accepted on the listen addresses, and outbound peers drawn from a
host cache of known addresses.  The host cache is seeded from DNS seeds and seed
peers when it is empty and is persisted in the data directory.

The default options are sane for most users.  This means p2pd will work 'out of
the box' for most users.  However, there are also a wide variety of flags that
can be used to control it.

The following section provides a usage overview which enumerates the flags.  An
interesting point to note is that the long form of all of these options
(except -C) can be specified in a configuration file that is automatically
parsed when p2pd starts up.  By default, the configuration file is located at
~/.p2pd/p2pd.conf on POSIX-style operating systems and %LOCALAPPDATA%\P2pd\p2pd.conf
on Windows.  The -C (--configfile) flag, as shown below, can be used to override
this location.

Usage:

	p2pd [OPTIONS]

Application Options:

	-V, --version         Display version information and exit
	-A, --appdata=        Path to application home directory
	-C, --configfile=     Path to configuration file
	-b, --datadir=        Directory to store data
	    --logdir=         Directory to log output
	    --logrolls=       Number of rolled log files to keep (default: 3)
	    --nofilelogging   Disable file logging
	-d, --debuglevel=     Logging level for all subsystems {trace, debug, info,
	                      warn, error, critical} -- You may also specify
	                      <subsystem>=<level>,<subsystem2>=<level>,... to set
	                      the log level for individual subsystems -- Use show
	                      to list available subsystems (default: info)
	    --testnet         Use the test network
	    --metrics=        Serve prometheus metrics over HTTP on given
	                      [addr:]port -- NOTE port must be between 1024 and
	                      65535
	    --profile         Also serve HTTP profiling endpoints on the metrics
	                      listener
	    --cpuprofile=     Write CPU profile to the specified file
	    --memprofile=     Write mem profile to the specified file
	    --listen=         Add an interface/port to listen for connections
	                      (default all interfaces port: 5251, testnet: 15251)
	    --nolisten        Disable listening for incoming connections
	    --maxinbound=     Max number of inbound peers (default: 8)
	    --targetoutbound= Number of outbound connections to maintain
	                      (default: 8)
	    --outboundrate=   Max outbound connection attempts per second
	                      (default: 4)
	-a, --addpeer=        Add a peer to connect with at startup and keep
	                      connected
	    --seed=           Add a peer to collect addresses from when no
	                      addresses are known
	    --dnsseed=        Add a DNS seed to query for addresses when no
	                      addresses are known
	    --noseed          Disable the default DNS seeds and seed peers
	    --seedtimeout=    Time to collect addresses from a seed peer
	                      (default: 30s)
	    --dialtimeout=    How long to wait for a connection to be established
	                      (default: 5s)
	    --dialpolicy=     Which resolved addresses of a peer hostname to dial
	                      {all, first} (default: all)
	    --manualattempts= Max consecutive failed attempts to connect to an
	                      added peer, 0 for unlimited
	    --manualretry=    Base interval between attempts to connect to an
	                      added peer (default: 5s)
	    --threads=        Number of workers that run network completions, 0
	                      for the number of CPUs
	    --hostcachesize=  Max number of known peer addresses, 0 disables the
	                      host cache (default: 1000)
	    --hostcacheflush= Interval between writes of the host cache to disk
	                      (default: 10m)
	    --dnsserver=      Resolve hostnames with the given DNS server instead
	                      of the system resolver
	    --proxy=          Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)
	    --proxyuser=      Username for proxy server
	    --proxypass=      Password for proxy server
	    --torisolation    Enable Tor stream isolation by randomizing user
	                      credentials for each connection

Help Options:

	-h, --help           Show this help message
*/
package main
