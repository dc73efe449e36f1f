// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the
// verification tooling.
//
// Configuration is loaded from a single file specified by either the
// BUREAU_VERIFY_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There is no discovery and no fallback search
// path. Running without a config file uses [Default].
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production defaults switch logging to
// JSON.
//
// Durations are written as Go duration strings ("10m", "120s") and
// validated by [Config.Validate].
//
// This package depends on no other internal packages.
package config
