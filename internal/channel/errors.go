package channel

import "errors"

// Sentinel errors shared by channel implementations.
var (
	// ErrPublishFailed wraps platform errors while posting a prompt. The
	// registry turns it into a denied reply (fail-closed).
	ErrPublishFailed = errors.New("channel: publish failed")

	// ErrUnknownRef is returned by Update when the reference no longer
	// resolves to a platform message (deleted, or never published).
	ErrUnknownRef = errors.New("channel: unknown prompt reference")

	// ErrNotConnected is returned when the channel's platform session is
	// not established.
	ErrNotConnected = errors.New("channel: not connected")
)
