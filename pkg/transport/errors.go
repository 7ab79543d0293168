package transport

import "errors"

var (
	// ErrBadConfiguration is returned when an integration descriptor is
	// malformed or missing a required credential field
	ErrBadConfiguration = errors.New("invalid integration configuration")

	// ErrConnection is returned when a tool source fails to connect
	ErrConnection = errors.New("tool source connection failed")

	// ErrReconnectExhausted is returned when the reconnect budget runs out
	ErrReconnectExhausted = errors.New("reconnect budget exhausted")

	// ErrHostedNotEnumerable is returned when tool enumeration is requested
	// from a hosted source; hosted tools are delegated to the remote
	// provider and cannot be listed locally
	ErrHostedNotEnumerable = errors.New("hosted tool source cannot enumerate tools")

	// ErrSourceClosed is returned when an operation is attempted on a
	// closed tool source
	ErrSourceClosed = errors.New("tool source is closed")

	// ErrUnknownTransport is returned for a transport type outside the
	// supported set
	ErrUnknownTransport = errors.New("unknown transport type")
)
