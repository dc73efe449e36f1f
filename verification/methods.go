// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import "strings"

// Method is a verification method name as advertised on the wire.
type Method string

const (
	// SasV1 is short authentication string comparison.
	SasV1 Method = "m.sas.v1"
	// QrCodeShowV1 means the advertiser can show a QR code.
	QrCodeShowV1 Method = "m.qr_code.show.v1"
	// QrCodeScanV1 means the advertiser can scan a QR code.
	QrCodeScanV1 Method = "m.qr_code.scan.v1"
	// ReciprocateV1 accompanies either QR method.
	ReciprocateV1 Method = "m.reciprocate.v1"
)

// SupportedMethods is the set of verification methods this device can
// take part in, from the local point of view: MethodQRShow means we
// can display a code, MethodQRScan means we can scan one.
type SupportedMethods uint8

const (
	MethodSAS SupportedMethods = 1 << iota
	MethodQRShow
	MethodQRScan

	// AllMethods is every method this package implements.
	AllMethods = MethodSAS | MethodQRShow | MethodQRScan
)

// MethodsFromRemote converts one method advertised by the remote side
// into the local capability it enables. A remote that scans lets us
// show; a remote that shows lets us scan. Unknown methods, including
// m.reciprocate.v1, map to the empty set.
func MethodsFromRemote(method Method) SupportedMethods {
	switch method {
	case SasV1:
		return MethodSAS
	case QrCodeScanV1:
		return MethodQRShow
	case QrCodeShowV1:
		return MethodQRScan
	default:
		return 0
	}
}

// ParseRemoteMethods folds a remote advertisement into a set.
func ParseRemoteMethods(methods []Method) SupportedMethods {
	var set SupportedMethods
	for _, method := range methods {
		set |= MethodsFromRemote(method)
	}
	return set
}

// WithCamera returns every method, minus scanning when the device has
// no camera.
func WithCamera(hasCamera bool) SupportedMethods {
	if hasCamera {
		return AllMethods
	}
	return AllMethods &^ MethodQRScan
}

// Methods returns the advertisement for this set, in the order
// m.sas.v1, m.qr_code.show.v1, m.qr_code.scan.v1, followed by
// m.reciprocate.v1 when any QR method is present.
func (s SupportedMethods) Methods() []Method {
	var methods []Method
	if s.Has(MethodSAS) {
		methods = append(methods, SasV1)
	}
	if s.Has(MethodQRShow) {
		methods = append(methods, QrCodeShowV1)
	}
	if s.Has(MethodQRScan) {
		methods = append(methods, QrCodeScanV1)
	}
	if s&(MethodQRShow|MethodQRScan) != 0 {
		methods = append(methods, ReciprocateV1)
	}
	return methods
}

// Has reports whether every flag in other is set.
func (s SupportedMethods) Has(other SupportedMethods) bool {
	return other != 0 && s&other == other
}

// Intersect returns the methods both sets support. The result is
// always a subset of s.
func (s SupportedMethods) Intersect(other SupportedMethods) SupportedMethods {
	return s & other
}

// IsEmpty reports whether no method is set.
func (s SupportedMethods) IsEmpty() bool { return s&AllMethods == 0 }

// String returns a "sas|qr-show|qr-scan" style rendering for logs.
func (s SupportedMethods) String() string {
	var names []string
	if s.Has(MethodSAS) {
		names = append(names, "sas")
	}
	if s.Has(MethodQRShow) {
		names = append(names, "qr-show")
	}
	if s.Has(MethodQRScan) {
		names = append(names, "qr-scan")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}
