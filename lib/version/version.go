// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"io"
	"runtime"
)

// These variables are set via -ldflags at build time, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/verify/lib/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty indicates whether there were uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version. This is set manually for releases.
	Version = "0.1.0-dev"
)

// Info returns "<version> (<commit>[-dirty], <build time>)".
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, GitCommit, dirty, BuildTime)
}

// Full is Info followed by the Go toolchain and target platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Fprint writes the binary name and full version to w.
func Fprint(w io.Writer, binary string) {
	fmt.Fprintf(w, "%s %s\n", binary, Full())
}
