// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2021 The Decred developers
// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package version houses the version information of p2pd.
package version

import (
	"fmt"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
)

// semanticAlphabet defines the allowed characters for the pre-release and
// build metadata portions of a semantic version string.
const semanticAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-."

// semverRE is a regular expression used to parse a semantic version string into
// its constituent parts.
var semverRE = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)` +
	`(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*` +
	`[a-zA-Z-][0-9a-zA-Z-]*))*))?(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

var (
	// Version is the application version per the semantic versioning 2.0.0
	// spec (https://semver.org/).
	//
	// It may be overridden during the build process with:
	// '-ldflags "-X github.com/mvsnet/p2pd/internal/version.Version=fullsemver"'
	//
	// It MUST be a full semantic version or the package will panic at
	// runtime.
	Version = "0.1.0-pre"

	// These fields are set via init by parsing Version.
	Major         uint
	Minor         uint
	Patch         uint
	PreRelease    string
	BuildMetadata string
)

// semver houses the components of a parsed semantic version.
type semver struct {
	major, minor, patch uint
	preRelease, build   string
}

// parseSemVer parses the components of the provided semantic version string.
func parseSemVer(s string) (semver, error) {
	m := semverRE.FindStringSubmatch(s)
	if m == nil {
		str := "malformed version string %q: does not conform to semver " +
			"specification"
		return semver{}, fmt.Errorf(str, s)
	}

	var v semver
	fields := []*uint{&v.major, &v.minor, &v.patch}
	names := []string{"major", "minor", "patch"}
	for i, field := range fields {
		val, err := strconv.ParseUint(m[i+1], 10, 0)
		if err != nil {
			return semver{}, fmt.Errorf("malformed semver %s: %w", names[i],
				err)
		}
		*field = uint(val)
	}
	v.preRelease, v.build = m[4], m[5]
	return v, nil
}

func init() {
	v, err := parseSemVer(Version)
	if err != nil {
		panic(err)
	}
	Major, Minor, Patch = v.major, v.minor, v.patch
	PreRelease, BuildMetadata = v.preRelease, v.build
}

// vcsCommitID returns the abbreviated revision the binary was built from when
// the build info records one.
func vcsCommitID() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var vcs, revision string
	for _, bs := range bi.Settings {
		switch bs.Key {
		case "vcs":
			vcs = bs.Value
		case "vcs.revision":
			revision = bs.Value
		}
	}
	if vcs == "git" && len(revision) > 9 {
		revision = revision[:9]
	}
	return revision
}

// withCommit appends the commit as build metadata to a version that carries a
// pre-release and no build metadata.  Release versions are returned as is.
func withCommit(version, commit string) string {
	v, err := parseSemVer(version)
	if err != nil || v.preRelease == "" || v.build != "" {
		return version
	}
	commit = NormalizeString(commit)
	if commit == "" {
		return version
	}
	return version + "+" + commit
}

// String returns the application version as a properly formed string per the
// semantic versioning 2.0.0 spec.  Development builds include the commit they
// were built from.
func String() string {
	return withCommit(Version, vcsCommitID())
}

// NormalizeString returns the passed string stripped of all characters which
// are not valid for pre-release and build metadata strings.
func NormalizeString(str string) string {
	var sb strings.Builder
	for _, r := range str {
		if strings.ContainsRune(semanticAlphabet, r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
