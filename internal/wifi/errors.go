package wifi

import "errors"

// Common wifi errors.
var (
	// ErrConnectFailed indicates nmcli could not join the network.
	ErrConnectFailed = errors.New("wifi: connect failed")

	// ErrScanFailed indicates the scan command failed.
	ErrScanFailed = errors.New("wifi: scan failed")
)
