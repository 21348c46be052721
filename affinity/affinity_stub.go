//go:build !linux

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub implementation for unsupported platforms.

package affinity

import "errors"

func setAffinityPlatform([]int) error {
	return errors.New("affinity: not supported on this platform")
}
