package influxdb

import "errors"

// Sentinels for errors.Is checks. ErrWriteFailed only ever arrives
// wrapped through the SetOnError callback since writes are async.
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrWriteFailed      = errors.New("influxdb: write failed")
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
)
