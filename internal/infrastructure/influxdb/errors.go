package influxdb

import "errors"

// Sentinel errors. Write failures are reported asynchronously through
// the SetOnError callback, wrapped in ErrWriteFailed.
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrWriteFailed      = errors.New("influxdb: write failed")
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
)
