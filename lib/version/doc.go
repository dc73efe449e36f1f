// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports what build of bureau-verify is running.
//
// The release pipeline stamps [GitCommit], [GitDirty], [BuildTime] and
// [Version] through -ldflags -X. Development builds keep the defaults.
// [Fprint] renders the stamp for --version.
package version
