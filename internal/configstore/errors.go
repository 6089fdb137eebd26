package configstore

import "errors"

// Common configstore errors.
var (
	// ErrNotConfigured indicates no valid configuration record exists
	// (never saved, cleared, or an interrupted save left the marker false).
	ErrNotConfigured = errors.New("configstore: not configured")

	// ErrCorruptRecord indicates the marker is valid but the stored record
	// is internally inconsistent (missing keys, blob/count mismatch).
	ErrCorruptRecord = errors.New("configstore: corrupt record")

	// ErrTooManyParams indicates the parameter vector exceeds MaxParams.
	ErrTooManyParams = errors.New("configstore: too many parameters")

	// ErrMalformed indicates the provisioning message is not parseable.
	ErrMalformed = errors.New("configstore: malformed message")

	// ErrMissingSSID indicates the message parsed but contained no ssid.
	ErrMissingSSID = errors.New("configstore: missing ssid")

	// ErrMissingPassword indicates the message parsed but contained no pass.
	ErrMissingPassword = errors.New("configstore: missing password")
)
