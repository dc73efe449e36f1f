// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding.
var encMode cbor.EncMode

// decMode accepts standard CBOR. Unknown fields are ignored so older
// readers keep working when snapshots grow new fields.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// ref.UserID and friends carry unexported fields; encode them
	// through MarshalText as CBOR text strings.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	// Timestamps travel as RFC 3339 strings with nanoseconds so that
	// snapshot comparisons are exact.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// any-typed targets decode maps as map[string]any rather than
		// map[interface{}]interface{}.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for
// data. The CLI prints it for --snapshot output.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
