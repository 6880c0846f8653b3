package entities

import "errors"

var (
	// ErrPermissionDenied is returned when the user refuses screen or microphone access
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDeviceUnavailable is returned when no capture device can serve the request
	ErrDeviceUnavailable = errors.New("device unavailable")

	ErrCallInProgress  = errors.New("voice call already in progress")
	ErrNoActiveCall    = errors.New("no active voice call")
	ErrNoCapture       = errors.New("no active screen capture")
	ErrMessageNotFound = errors.New("message not found")
	ErrArchiveNotFound = errors.New("archive not found")
	ErrSessionClosed   = errors.New("session closed")
)
