// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// parseMatrixID extracts localpart and server from @localpart:server.
func parseMatrixID(matrixID string) (localpart, server string, err error) {
	return parsePrefixedID(matrixID, '@', "Matrix user ID")
}

// parsePrefixedID extracts localpart and server from a Matrix
// identifier with the given sigil prefix.
func parsePrefixedID(identifier string, sigil byte, kind string) (localpart, server string, err error) {
	if len(identifier) < 2 || identifier[0] != sigil {
		return "", "", fmt.Errorf("invalid %s %q: must start with %c", kind, identifier, sigil)
	}
	colonIndex := strings.IndexByte(identifier[1:], ':')
	if colonIndex < 0 {
		return "", "", fmt.Errorf("invalid %s %q: missing :server", kind, identifier)
	}
	colonIndex++ // adjust for [1:] offset
	if colonIndex < 2 {
		return "", "", fmt.Errorf("invalid %s %q: empty localpart", kind, identifier)
	}
	localpart = identifier[1:colonIndex]
	server = identifier[colonIndex+1:]
	if server == "" {
		return "", "", fmt.Errorf("invalid %s %q: empty server", kind, identifier)
	}
	return localpart, server, nil
}
