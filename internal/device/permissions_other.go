//go:build !darwin

// SPDX-License-Identifier: MIT
package device

// checkMicrophoneAccess is a no-op outside macOS; the host audio API reports
// access problems when the device is opened.
func checkMicrophoneAccess() error {
	return nil
}
