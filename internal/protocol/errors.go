package protocol

import (
	"errors"
	"fmt"
)

// ErrMalformedPacket is returned for packets that violate the wire
// format (zero-length payload where one is required, bad classifier
// byte, truncated fixed fields).
var ErrMalformedPacket = errors.New("protocol: malformed packet")

// ErrPacketSync is returned when an inbound frame carries an unexpected
// sequence id.
var ErrPacketSync = errors.New("protocol: packet sequence out of sync")

// ServerError is an ERR packet surfaced verbatim.
type ServerError struct {
	Code    uint16
	State   string
	Message string
}

func (e *ServerError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("mysql: server error %d (%s): %s", e.Code, e.State, e.Message)
	}
	return fmt.Sprintf("mysql: server error %d: %s", e.Code, e.Message)
}

// AuthError is an authentication failure during the connection phase.
type AuthError struct {
	Code    uint16
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mysql: login failed (%d): %s", e.Code, e.Message)
}
