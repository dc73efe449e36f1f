// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import "testing"

func TestReact(t *testing.T) {
	waiting := waitConditions{}
	satisfied := waitConditions{satisfied: true}
	passive := waitConditions{passive: true}

	tests := []struct {
		name       string
		flavor     waitFlavor
		kind       commandKind
		conditions waitConditions
		want       action
	}{
		{"cancel full", waitFull, commandCancel, waiting, actionCancelRequest},
		{"cancel no-interception", waitNoInterception, commandCancel, waiting, actionCancelRequest},
		{"not-match outside SAS", waitFull, commandNotMatch, waiting, actionSasMismatch},
		{"not-match in SAS", waitNoInterception, commandNotMatch, satisfied, actionSasMismatch},

		{"accept ends a command wait", waitFull, commandAccept, satisfied, actionResume},
		{"accept does not skip a backend wait", waitFull, commandAccept, waiting, actionRecheck},
		{"confirm-scanning ends a command wait", waitFull, commandConfirmScanning, satisfied, actionResume},
		{"confirm-scanning does not skip a backend wait", waitNoInterception, commandConfirmScanning, waiting, actionRecheck},

		{"match when expected", waitNoInterception, commandMatch, satisfied, actionResume},
		{"match when not expected", waitNoInterception, commandMatch, waiting, actionIgnore},
		{"match on passive request", waitFull, commandMatch, passive, actionPassive},

		{"start-sas full", waitFull, commandStartSas, waiting, actionStartSas},
		{"start-sas no-interception", waitNoInterception, commandStartSas, satisfied, actionIgnore},
		{"scanned full", waitFull, commandScanned, satisfied, actionFinishScanning},
		{"scanned no-interception", waitNoInterception, commandScanned, satisfied, actionIgnore},

		{"notify-state never ends a wait", waitFull, commandNotifyState, satisfied, actionRecheck},
		{"notify-state no-interception", waitNoInterception, commandNotifyState, waiting, actionRecheck},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := react(test.flavor, test.kind, test.conditions); got != test.want {
				t.Errorf("react(%s, %s, %+v) = %s, want %s",
					test.flavor, test.kind, test.conditions, got, test.want)
			}
		})
	}
}
