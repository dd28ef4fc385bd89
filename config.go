// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2025 The Decred developers
// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/decred/slog"
	flags "github.com/jessevdk/go-flags"
	"github.com/mvsnet/p2pd/internal/version"
	"github.com/mvsnet/p2pd/netaddr"
	"github.com/mvsnet/p2pd/p2p"
	"github.com/mvsnet/p2pd/sampleconfig"
)

const (
	defaultConfigFilename  = "p2pd.conf"
	defaultDataDirname     = "data"
	defaultLogLevel        = "info"
	defaultLogDirname      = "logs"
	defaultLogFilename     = "p2pd.log"
	defaultLogRolls        = 3
	defaultMaxInbound      = 8
	defaultTargetOutbound  = 8
	defaultHostCacheSize   = 1000
	defaultHostCacheFlush  = time.Minute * 10
	defaultDialTimeout     = p2p.DefaultConnectTimeout
	defaultSeedTimeout     = p2p.DefaultSeedTimeout
	defaultManualRetry     = p2p.DefaultManualRetryInterval
	defaultOutboundRate    = p2p.DefaultOutboundRate
	defaultDialPolicy      = "all"
	defaultHostCacheDBName = "hostcache"
)

var (
	defaultHomeDir    = appDataDir("p2pd")
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config defines the configuration options for p2pd.
//
// See loadConfig for details on the configuration load process.
type config struct {
	// General application behavior.
	ShowVersion   bool   `short:"V" long:"version" description:"Display version information and exit"`
	HomeDir       string `short:"A" long:"appdata" description:"Path to application home directory"`
	ConfigFile    string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir       string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir        string `long:"logdir" description:"Directory to log output"`
	LogRolls      int    `long:"logrolls" description:"Number of rolled log files to keep"`
	NoFileLogging bool   `long:"nofilelogging" description:"Disable file logging"`
	DebugLevel    string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	TestNet       bool   `long:"testnet" description:"Use the test network"`

	// Metrics and profiling options.
	Metrics    string `long:"metrics" description:"Serve prometheus metrics over HTTP on given [addr:]port -- NOTE port must be between 1024 and 65535"`
	Profile    bool   `long:"profile" description:"Also serve HTTP profiling endpoints on the metrics listener"`
	CPUProfile string `long:"cpuprofile" description:"Write CPU profile to the specified file"`
	MemProfile string `long:"memprofile" description:"Write mem profile to the specified file"`

	// Network options.
	Listeners      []string      `long:"listen" description:"Add an interface/port to listen for connections (default all interfaces port: 5251, testnet: 15251)"`
	NoListen       bool          `long:"nolisten" description:"Disable listening for incoming connections"`
	MaxInbound     int           `long:"maxinbound" description:"Max number of inbound peers"`
	TargetOutbound int           `long:"targetoutbound" description:"Number of outbound connections to maintain"`
	OutboundRate   float64       `long:"outboundrate" description:"Max outbound connection attempts per second"`
	AddPeers       []string      `short:"a" long:"addpeer" description:"Add a peer to connect with at startup and keep connected"`
	Seeds          []string      `long:"seed" description:"Add a peer to collect addresses from when no addresses are known"`
	DNSSeeds       []string      `long:"dnsseed" description:"Add a DNS seed to query for addresses when no addresses are known"`
	NoSeed         bool          `long:"noseed" description:"Disable the default DNS seeds and seed peers"`
	SeedTimeout    time.Duration `long:"seedtimeout" description:"Time to collect addresses from a seed peer -- Valid time units are {s, m, h}"`
	DialTimeout    time.Duration `long:"dialtimeout" description:"How long to wait for a connection to be established -- Valid time units are {s, m, h}"`
	DialPolicy     string        `long:"dialpolicy" description:"Which resolved addresses of a peer hostname to dial {all, first}"`
	ManualAttempts int           `long:"manualattempts" description:"Max consecutive failed attempts to connect to an added peer, 0 for unlimited"`
	ManualRetry    time.Duration `long:"manualretry" description:"Base interval between attempts to connect to an added peer -- Valid time units are {s, m, h}"`
	Threads        int           `long:"threads" description:"Number of workers that run network completions, 0 for the number of CPUs"`
	HostCacheSize  int           `long:"hostcachesize" description:"Max number of known peer addresses, 0 disables the host cache"`
	HostCacheFlush time.Duration `long:"hostcacheflush" description:"Interval between writes of the host cache to disk -- Valid time units are {s, m, h}"`
	DNSServer      string        `long:"dnsserver" description:"Resolve hostnames with the given DNS server instead of the system resolver"`
	Proxy          string        `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser      string        `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass      string        `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	TorIsolation   bool          `long:"torisolation" description:"Enable Tor stream isolation by randomizing user credentials for each connection"`

	// The following fields are set after the configuration is loaded.
	params       *params
	peers        []netaddr.Endpoint
	seeds        []netaddr.Endpoint
	dialPolicy   p2p.DialPolicy
	hostCacheDB  string
	metricsAddrs []string
}

// errSuppressUsage signifies that an error that happened during the initial
// configuration phase should suppress the usage output since it was not caused
// by the user.
type errSuppressUsage string

// Error implements the error interface.
func (e errSuppressUsage) Error() string {
	return string(e)
}

// appDataDir returns the default application data directory for the current
// operating system.
func appDataDir(appName string) string {
	appName = strings.TrimPrefix(appName, ".")
	upper := strings.ToUpper(appName[:1]) + appName[1:]
	lower := strings.ToLower(appName[:1]) + appName[1:]

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, upper)
		}
		return filepath.Join(homeDir, upper)
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", upper)
	case "plan9":
		return filepath.Join(homeDir, lower)
	}
	return filepath.Join(homeDir, "."+lower)
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Nothing to do when no path is given.
	if path == "" {
		return path
	}

	// Expand initial ~ to the current user's home directory.
	if strings.HasPrefix(path, "~") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	return filepath.Clean(os.ExpandEnv(path))
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	_, ok := slog.LevelFromString(logLevel)
	return ok
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)
		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "the specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "the specified subsystem [%v] is invalid -- " +
				"supported subsystems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// normalizeAddress returns addr with the passed default port appended if
// there is not already a port specified.  No port is appended when the default
// port is empty.
func normalizeAddress(addr, defaultPort string) string {
	if defaultPort == "" {
		return addr
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}

// normalizeInterfaceAddrs expands a host that names a local network interface
// into the addresses of that interface.  Any other address is returned as is.
func normalizeInterfaceAddrs(addr string) []string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return []string{addr}
	}
	iface, err := net.InterfaceByName(host)
	if err != nil {
		return []string{addr}
	}
	ifaceAddrs, err := iface.Addrs()
	if err != nil || len(ifaceAddrs) == 0 {
		return []string{addr}
	}

	addrs := make([]string, 0, len(ifaceAddrs))
	for _, ifaceAddr := range ifaceAddrs {
		ipNet, ok := ifaceAddr.(*net.IPNet)
		if !ok {
			continue
		}
		addrs = append(addrs, net.JoinHostPort(ipNet.IP.String(), port))
	}
	return addrs
}

// normalizeAddresses returns a new slice with all the passed addresses
// normalized with the given default port, expanded by the provided function,
// and with duplicates removed.
func normalizeAddresses(addrs []string, defaultPort string, expand func(string) []string) []string {
	result := make([]string, 0, len(addrs))
	seen := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		addr = normalizeAddress(addr, defaultPort)
		for _, expanded := range expand(addr) {
			if _, ok := seen[expanded]; ok {
				continue
			}
			seen[expanded] = struct{}{}
			result = append(result, expanded)
		}
	}
	return result
}

// parseEndpoints parses the passed peer addresses with the given default port.
func parseEndpoints(addrs []string, defaultPort uint16) ([]netaddr.Endpoint, error) {
	endpoints := make([]netaddr.Endpoint, 0, len(addrs))
	for _, addr := range addrs {
		ep, err := netaddr.ParseEndpoint(addr, defaultPort)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// createDefaultConfigFile creates a default config file at the passed path
// from the embedded sample config.
func createDefaultConfigFile(destPath string) error {
	// Create the destination directory if it does not exist.
	err := os.MkdirAll(filepath.Dir(destPath), 0700)
	if err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte(sampleconfig.P2pd()), 0600)
}

// newConfigParser returns a new command line flags parser.
func newConfigParser(cfg *config, options flags.Options) *flags.Parser {
	return flags.NewParser(cfg, options)
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in p2pd functioning properly without any config settings
// while still allowing the user to override settings with config files and
// command line options.  Command line options always take precedence.
func loadConfig(appName string) (*config, []string, error) {
	// Default config.
	cfg := config{
		HomeDir:        defaultHomeDir,
		ConfigFile:     defaultConfigFile,
		DataDir:        defaultDataDir,
		LogDir:         defaultLogDir,
		LogRolls:       defaultLogRolls,
		DebugLevel:     defaultLogLevel,
		MaxInbound:     defaultMaxInbound,
		TargetOutbound: defaultTargetOutbound,
		OutboundRate:   defaultOutboundRate,
		SeedTimeout:    defaultSeedTimeout,
		DialTimeout:    defaultDialTimeout,
		DialPolicy:     defaultDialPolicy,
		ManualRetry:    defaultManualRetry,
		HostCacheSize:  defaultHostCacheSize,
		HostCacheFlush: defaultHostCacheFlush,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := newConfigParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s %s/%s)\n", appName,
			version.String(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	// Update the home directory for p2pd if specified.  Since the home
	// directory is updated, other variables need to be updated to reflect the
	// new changes.
	if preCfg.HomeDir != "" {
		cfg.HomeDir, _ = filepath.Abs(cleanAndExpandPath(preCfg.HomeDir))

		if preCfg.ConfigFile == defaultConfigFile {
			cfg.ConfigFile = filepath.Join(cfg.HomeDir, defaultConfigFilename)
		} else {
			cfg.ConfigFile = cleanAndExpandPath(preCfg.ConfigFile)
		}
		if preCfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(cfg.HomeDir, defaultDataDirname)
		}
		if preCfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(cfg.HomeDir, defaultLogDirname)
		}
	}

	// Create a default config file when one does not exist and the user did
	// not specify an override.
	if preCfg.ConfigFile == defaultConfigFile {
		if _, err := os.Stat(cfg.ConfigFile); os.IsNotExist(err) {
			if err := createDefaultConfigFile(cfg.ConfigFile); err != nil {
				str := fmt.Sprintf("failed to create default config file: %v",
					err)
				return nil, nil, errSuppressUsage(str)
			}
		}
	}

	// Load additional config from file.
	var configFileError error
	parser := newConfigParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(cfg.ConfigFile)
	if err != nil {
		var e *os.PathError
		if !errors.As(err, &e) {
			err = fmt.Errorf("error parsing config file: %w", err)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		return nil, nil, err
	}

	// Create the home directory if it doesn't already exist.
	funcName := "loadConfig"
	err = os.MkdirAll(cfg.HomeDir, 0700)
	if err != nil {
		str := "%s: failed to create home directory: %v"
		err := fmt.Errorf(str, funcName, err)
		return nil, nil, errSuppressUsage(err.Error())
	}

	// Choose the network parameters.
	cfg.params = &mainNetParams
	if cfg.TestNet {
		cfg.params = &testNetParams
	}

	// Append the network type to the data and log directories so they are
	// "namespaced" per network.
	cfg.DataDir = filepath.Join(cleanAndExpandPath(cfg.DataDir),
		cfg.params.Name)
	cfg.LogDir = filepath.Join(cleanAndExpandPath(cfg.LogDir),
		cfg.params.Name)
	cfg.hostCacheDB = filepath.Join(cfg.DataDir, defaultHostCacheDBName)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized, the
	// logger variables may be used.
	if !cfg.NoFileLogging {
		if cfg.LogRolls < 1 {
			str := "%s: logrolls must be at least 1 -- parsed [%d]"
			return nil, nil, fmt.Errorf(str, funcName, cfg.LogRolls)
		}
		initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename),
			cfg.LogRolls)
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %w", funcName, err)
		return nil, nil, err
	}

	// Validate the connection limits.
	switch {
	case cfg.MaxInbound < 0:
		str := "%s: maxinbound may not be negative -- parsed [%d]"
		return nil, nil, fmt.Errorf(str, funcName, cfg.MaxInbound)
	case cfg.TargetOutbound < 0:
		str := "%s: targetoutbound may not be negative -- parsed [%d]"
		return nil, nil, fmt.Errorf(str, funcName, cfg.TargetOutbound)
	case cfg.ManualAttempts < 0:
		str := "%s: manualattempts may not be negative -- parsed [%d]"
		return nil, nil, fmt.Errorf(str, funcName, cfg.ManualAttempts)
	case cfg.Threads < 0:
		str := "%s: threads may not be negative -- parsed [%d]"
		return nil, nil, fmt.Errorf(str, funcName, cfg.Threads)
	case cfg.HostCacheSize < 0:
		str := "%s: hostcachesize may not be negative -- parsed [%d]"
		return nil, nil, fmt.Errorf(str, funcName, cfg.HostCacheSize)
	case cfg.OutboundRate <= 0:
		str := "%s: outboundrate must be positive -- parsed [%v]"
		return nil, nil, fmt.Errorf(str, funcName, cfg.OutboundRate)
	case cfg.DialTimeout <= 0:
		str := "%s: dialtimeout must be positive -- parsed [%v]"
		return nil, nil, fmt.Errorf(str, funcName, cfg.DialTimeout)
	}

	cfg.dialPolicy, err = p2p.ParseDialPolicy(cfg.DialPolicy)
	if err != nil {
		err := fmt.Errorf("%s: %w", funcName, err)
		return nil, nil, err
	}

	// Add the default listener if none were specified and listening is not
	// disabled.  Listening is also disabled when connecting through a proxy
	// since inbound connections can not be received through it.
	defaultPort := strconv.Itoa(int(cfg.params.DefaultPort))
	if cfg.Proxy != "" && len(cfg.Listeners) == 0 {
		cfg.NoListen = true
	}
	if cfg.NoListen {
		cfg.Listeners = nil
	} else {
		if len(cfg.Listeners) == 0 {
			cfg.Listeners = []string{net.JoinHostPort("", defaultPort)}
		}
		cfg.Listeners = normalizeAddresses(cfg.Listeners, defaultPort,
			normalizeInterfaceAddrs)
	}

	// Parse the peers and seeds.
	cfg.peers, err = parseEndpoints(cfg.AddPeers, cfg.params.DefaultPort)
	if err != nil {
		str := "%s: invalid addpeer: %w"
		return nil, nil, fmt.Errorf(str, funcName, err)
	}
	seeds := cfg.Seeds
	dnsSeeds := cfg.DNSSeeds
	if !cfg.NoSeed {
		seeds = append(slices.Clone(cfg.params.Seeds), seeds...)
		dnsSeeds = append(slices.Clone(cfg.params.DNSSeeds), dnsSeeds...)
	}
	cfg.seeds, err = parseEndpoints(seeds, cfg.params.DefaultPort)
	if err != nil {
		str := "%s: invalid seed: %w"
		return nil, nil, fmt.Errorf(str, funcName, err)
	}
	cfg.DNSSeeds = dnsSeeds

	// Validate the proxy and DNS server addresses.
	if cfg.Proxy != "" {
		cfg.Proxy = normalizeAddress(cfg.Proxy, "9050")
		if _, _, err := net.SplitHostPort(cfg.Proxy); err != nil {
			str := "%s: proxy address %q is invalid: %w"
			return nil, nil, fmt.Errorf(str, funcName, cfg.Proxy, err)
		}
	}
	if cfg.DNSServer != "" {
		cfg.DNSServer = normalizeAddress(cfg.DNSServer, "53")
		if _, _, err := net.SplitHostPort(cfg.DNSServer); err != nil {
			str := "%s: dnsserver address %q is invalid: %w"
			return nil, nil, fmt.Errorf(str, funcName, cfg.DNSServer, err)
		}
	}

	// Validate the metrics address and expand interface names into the
	// addresses to listen on.  No default port is needed since validation
	// ensures one is present.
	if cfg.Metrics != "" {
		addr := portToLocalHostAddr(cfg.Metrics)
		if err := validateMetricsAddr(addr); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", funcName, err)
		}
		cfg.metricsAddrs = normalizeAddresses([]string{addr}, "",
			normalizeInterfaceAddrs)
	}
	if cfg.Profile && cfg.Metrics == "" {
		str := "%s: the --profile option requires --metrics"
		return nil, nil, fmt.Errorf(str, funcName)
	}

	// Warn about missing config file only after all other configuration is
	// done.  This prevents the warning on help messages and invalid options.
	// Note this should go directly before the return.
	if configFileError != nil {
		p2pdLog.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}
