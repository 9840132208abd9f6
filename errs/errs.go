// Package errs defines the sentinel error kinds shared across the stick
// controller. Callers should test against these with errors.Is; concrete
// errors returned to users are these sentinels wrapped with call-site
// context via fmt.Errorf("%w: ...", ...).
package errs

import "errors"

var (
	// PortError indicates the serial port could not be opened or
	// configured.
	PortError = errors.New("plugwise: port error")

	// StickInitError indicates the stick did not respond to
	// initialization, or responded with an unexpected status.
	StickInitError = errors.New("plugwise: stick initialization failed")

	// NetworkDown indicates the stick itself reports the mesh offline
	// (stick init succeeded but NetworkOnline is false), or that no
	// circle-plus MAC is known at all. Raised (not merely flagged).
	NetworkDown = errors.New("plugwise: network down")

	// CirclePlusError indicates the coordinator did not respond within
	// timeout, rejected the request, or returned a malformed payload.
	CirclePlusError = errors.New("plugwise: circle+ error")

	// TimeoutException indicates a request exhausted its retries
	// without a response.
	TimeoutException = errors.New("plugwise: request timed out")

	// MalformedFrame indicates a frame failed structural or CRC
	// validation and was dropped.
	MalformedFrame = errors.New("plugwise: malformed frame")

	// InvalidMac indicates a MAC string failed validation (wrong
	// length or non-hex characters).
	InvalidMac = errors.New("plugwise: invalid mac")

	// NotSupported indicates the operation is not implemented by this
	// node's variant (e.g. ScanForNodes on anything but Circle+).
	NotSupported = errors.New("plugwise: operation not supported by node")

	// NotConnected indicates an operation was attempted before Connect.
	NotConnected = errors.New("plugwise: not connected")

	// AlreadyConnected indicates Connect was called twice.
	AlreadyConnected = errors.New("plugwise: already connected")
)
