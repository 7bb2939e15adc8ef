package fastcgi

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conditions the protocol layer can detect. Callers
// should compare with errors.Is, since many errors returned from this
// package are wrapped with additional context via fmt.Errorf's %w (others,
// such as ErrResponseClosed, are returned as they are).
var (
	// ErrTransport wraps any I/O failure from the underlying net.Conn that
	// isn't more specifically classified below.
	ErrTransport = errors.New("fastcgi: transport failure")

	// ErrProtocolTruncation means a record header or body ended before the
	// declared length was satisfied, without the peer having closed cleanly.
	ErrProtocolTruncation = errors.New("fastcgi: truncated record")

	// ErrProtocolVersion means a record header declared a version other
	// than Version1.
	ErrProtocolVersion = errors.New("fastcgi: unsupported protocol version")

	// ErrParamTruncation means a PARAMS name-value pair stream ended before
	// a declared name/value length was satisfied.
	ErrParamTruncation = errors.New("fastcgi: truncated name-value pair")

	// ErrResponseClosed means Write or Flush was called on a Response that
	// has already sent its END_REQUEST.
	ErrResponseClosed = errors.New("fastcgi: response already closed")

	// ErrUnknownRequestID means a record referenced a request id this
	// connection has no pending exchange for.
	ErrUnknownRequestID = errors.New("fastcgi: unknown request id")
)

// wrap annotates err with a message and kind, matching the classify-and-wrap
// style used for FastCGI transport errors elsewhere in the ecosystem.
func wrap(kind error, msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", msg, kind)
	}
	return fmt.Errorf("%s: %w: %v", msg, kind, err)
}

// isClosedConnErr reports whether err indicates the peer went away rather
// than a genuine protocol violation, so callers can log it at a lower level.
func isClosedConnErr(err error) bool {
	return errors.Is(err, ErrTransport)
}
