//go:build darwin

// SPDX-License-Identifier: MIT
package device

/*
#cgo LDFLAGS: -framework AVFoundation
#import <AVFoundation/AVFoundation.h>

int micAuthorizationStatus() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicAccess() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}
*/
import "C"

import "fmt"

// AVAuthorizationStatus values.
const (
	micNotDetermined = 0
	micRestricted    = 1
	micDenied        = 2
	micAuthorized    = 3
)

// checkMicrophoneAccess maps the AVFoundation authorization status onto
// ErrPermissionDenied. An undetermined status triggers the system prompt.
func checkMicrophoneAccess() error {
	switch status := int(C.micAuthorizationStatus()); status {
	case micAuthorized:
		return nil
	case micNotDetermined:
		C.requestMicAccess()
		return &CaptureError{Kind: ErrPermissionDenied, Op: "check permission", Cause: fmt.Errorf("awaiting user approval")}
	case micRestricted, micDenied:
		return &CaptureError{Kind: ErrPermissionDenied, Op: "check permission", Cause: fmt.Errorf("authorization status %d", status)}
	default:
		return &CaptureError{Kind: ErrPermissionDenied, Op: "check permission", Cause: fmt.Errorf("unknown authorization status %d", status)}
	}
}
