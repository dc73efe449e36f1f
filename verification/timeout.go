// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

// armTimeout schedules the request expiry. The deadline is the later
// of startTime+Request and startTime+Received on the session clock. A
// request from the future or already past its deadline is cancelled
// at once; the cancel waits on the command channel until Start.
func (v *Verification) armTimeout() {
	timeouts := v.session.timeouts()
	elapsed := v.session.clock().Now().Sub(v.startTime)

	if elapsed < 0 {
		v.logger.Warn("verification request was sent in the future",
			"start_time", v.startTime, "skew", -elapsed)
		v.Cancel(true)
		return
	}

	remaining := max(timeouts.Request-elapsed, timeouts.Received-elapsed)
	if remaining <= 0 {
		v.logger.Info("verification request already expired", "age", elapsed)
		v.Cancel(true)
		return
	}

	timer := v.session.clock().AfterFunc(remaining, func() {
		v.mu.Lock()
		v.timer = nil
		v.mu.Unlock()
		v.logger.Info("verification request timed out")
		v.Cancel(true)
	})

	v.mu.Lock()
	v.timer = timer
	v.mu.Unlock()
}
