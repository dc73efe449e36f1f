// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"slices"
	"testing"
)

func TestMethodsFromRemote(t *testing.T) {
	tests := []struct {
		method Method
		want   SupportedMethods
	}{
		{SasV1, MethodSAS},
		// The remote scans, so we show.
		{QrCodeScanV1, MethodQRShow},
		// The remote shows, so we scan.
		{QrCodeShowV1, MethodQRScan},
		{ReciprocateV1, 0},
		{"org.example.custom", 0},
	}
	for _, test := range tests {
		if got := MethodsFromRemote(test.method); got != test.want {
			t.Errorf("MethodsFromRemote(%q) = %s, want %s", test.method, got, test.want)
		}
	}

	got := ParseRemoteMethods([]Method{SasV1, QrCodeShowV1, ReciprocateV1})
	if got != MethodSAS|MethodQRScan {
		t.Errorf("ParseRemoteMethods = %s, want sas|qr-scan", got)
	}
}

func TestMethodsAdvertisement(t *testing.T) {
	tests := []struct {
		name string
		set  SupportedMethods
		want []Method
	}{
		{"empty", 0, nil},
		{"sas only", MethodSAS, []Method{SasV1}},
		{"all", AllMethods, []Method{SasV1, QrCodeShowV1, QrCodeScanV1, ReciprocateV1}},
		{"show only", MethodQRShow, []Method{QrCodeShowV1, ReciprocateV1}},
		{"sas and scan", MethodSAS | MethodQRScan, []Method{SasV1, QrCodeScanV1, ReciprocateV1}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.set.Methods(); !slices.Equal(got, test.want) {
				t.Errorf("Methods() = %v, want %v", got, test.want)
			}
		})
	}
}

// Negotiation never adds a method the local side lacks.
func TestIntersectIsSubsetOfLocal(t *testing.T) {
	for local := SupportedMethods(0); local <= AllMethods; local++ {
		for remote := SupportedMethods(0); remote <= AllMethods; remote++ {
			negotiated := local.Intersect(remote)
			if negotiated&^local != 0 {
				t.Errorf("%s ∩ %s = %s adds methods", local, remote, negotiated)
			}
			if negotiated&^remote != 0 {
				t.Errorf("%s ∩ %s = %s exceeds remote", local, remote, negotiated)
			}
		}
	}
}

func TestWithCamera(t *testing.T) {
	if got := WithCamera(true); got != AllMethods {
		t.Errorf("WithCamera(true) = %s, want all", got)
	}
	without := WithCamera(false)
	if without.Has(MethodQRScan) {
		t.Errorf("WithCamera(false) = %s contains qr-scan", without)
	}
	if !without.Has(MethodSAS | MethodQRShow) {
		t.Errorf("WithCamera(false) = %s, want sas|qr-show", without)
	}
}

func TestSupportedMethodsString(t *testing.T) {
	if got := SupportedMethods(0).String(); got != "none" {
		t.Errorf("String() = %q, want none", got)
	}
	if got := AllMethods.String(); got != "sas|qr-show|qr-scan" {
		t.Errorf("String() = %q", got)
	}
	if SupportedMethods(0).Has(0) {
		t.Error("Has(0) should be false")
	}
	if !SupportedMethods(0).IsEmpty() || AllMethods.IsEmpty() {
		t.Error("IsEmpty mismatch")
	}
}
