// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with a time.After fallback) so that individual
// tests never touch the wall clock directly. Everything else in the
// test suite runs on clock.FakeClock; these helpers only bound how
// long a broken test can hang.
//
// [RequireNoReceive] checks that nothing is ready on a channel right
// now, without waiting.
//
// All helpers call t.Fatalf on failure rather than returning errors.
//
// This package has no internal dependencies.
package testutil
